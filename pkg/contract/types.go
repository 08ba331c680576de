package contract

import "time"

// Mode: 攻击模式。
type Mode string

const (
	ModeBruteforce Mode = "bruteforce"
	ModeMask       Mode = "mask"
	ModeDictionary Mode = "dictionary"
)

// Valid 报告是否为已知模式。
func (m Mode) Valid() bool {
	switch m {
	case ModeBruteforce, ModeMask, ModeDictionary:
		return true
	}
	return false
}

// Range: 半开区间 [Start, End)，单位由空间决定（扁平索引或字典行号）。
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len 返回区间长度；End<Start 视为空。
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains 报告 pos 是否落在区间内。
func (r Range) Contains(pos uint64) bool { return pos >= r.Start && pos < r.End }

// Batch: 一次物化的候选批。
// 约束：
// 1) Candidates 按空间枚举顺序排列；
// 2) Range 为本批覆盖的单位区间，提交后游标推进到 Range.End；
// 3) 字典模式下一个单位（行）可展开为多个候选，空行不产出候选；
// 4) EOF=true 表示流式空间已读尽，此后不再有批。
type Batch struct {
	Seq        int64
	Range      Range
	Candidates []string
	EOF        bool
}

// Cursor: 可恢复的进度标记，按模式编码。
//   - bruteforce: Length + Offset（长度内线性偏移）
//   - mask: Offset（扁平索引）+ Position（等价位置向量，可选）
//   - dictionary: Line（已消费行数）
type Cursor struct {
	Mode     Mode   `json:"mode"`
	Length   int    `json:"length,omitempty"`
	Offset   uint64 `json:"offset"`
	Position []int  `json:"position,omitempty"`
	Line     uint64 `json:"line,omitempty"`
}

// Progress: 每提交一批产出一条进度事件。
type Progress struct {
	// Attempts: 本批消耗的尝试数（命中时为命中位置的 1 基偏移）。
	Attempts uint64
	// Total: 累计尝试数（含恢复前）。
	Total  uint64
	Cursor Cursor
	// Found 非空表示命中。
	Found string
}

// Checkpoint: 持久化记录 {cursor, attempts} 及校验用元信息。
type Checkpoint struct {
	Version     int       `json:"version"`
	RunID       string    `json:"run_id,omitempty"`
	Mode        Mode      `json:"mode"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Cursor      Cursor    `json:"cursor"`
	Attempts    uint64    `json:"attempts"`
	Found       string    `json:"found,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CheckpointVersion 为当前记录格式版本。
const CheckpointVersion = 1
