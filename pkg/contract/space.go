package contract

import "context"

// Space: 一种攻击模式的候选空间。
// 约束：
// 1) 纯数据模型：不持有游标与计数，物化结果只取决于入参；
// 2) 随机访问空间（bruteforce/mask）以扁平索引为单位，Size 可知；
// 3) 流式空间（dictionary）以行为单位，Size 返回 ErrSizeUnknown，Materialize 需顺序调用；
// 4) 越界请求返回 ErrRangeOutOfBounds。
type Space interface {
	Mode() Mode
	// Fingerprint 描述空间形状（字母表/长度/掩码/字典源），用于检查点一致性校验。
	Fingerprint() string
	Size() (uint64, error)
	// Materialize 物化 [start, start+count) 的候选；count 为单位数（扁平索引或行）。
	Materialize(ctx context.Context, start, count uint64) (Batch, error)
	// CursorAt 将单位位置编码为本模式的游标。
	CursorAt(pos uint64) Cursor
	// Seek 将游标解码为单位位置；模式或形状不符时返回 ErrCheckpointMismatch。
	Seek(c Cursor) (uint64, error)
}

// Estimator: 可选能力；为未知大小的空间给出展示用估计（不参与正确性）。
type Estimator interface {
	Estimate(ctx context.Context) (uint64, error)
}
