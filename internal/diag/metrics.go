package diag

import (
	"sync"
	"sync/atomic"
)

// 进程级计数器（原子累加，运行结束时由 CLI 汇总输出）：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}
// - attempts_total
var (
	metricsMu sync.Mutex
	ops       = map[string]int64{}
	errs      = map[string]int64{}
	durs      = map[string]int64{}
	attempts  atomic.Uint64
)

// IncOp 累加操作计数（result=success|error|retry）。
func IncOp(comp, stage, result string) {
	metricsMu.Lock()
	ops[comp+"/"+stage+"/"+result]++
	metricsMu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metricsMu.Lock()
	errs[comp+"/"+code]++
	metricsMu.Unlock()
}

// ObserveDuration 累加阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.Lock()
	durs[comp+"/"+stage] += durMS
	metricsMu.Unlock()
}

// AddAttempts 累加已提交的尝试数。
func AddAttempts(n uint64) { attempts.Add(n) }

// Snapshot 为计数器快照。
type Snapshot struct {
	Ops      map[string]int64 `json:"ops"`
	Errors   map[string]int64 `json:"errors"`
	DurMS    map[string]int64 `json:"dur_ms"`
	Attempts uint64           `json:"attempts"`
}

// TakeSnapshot 复制当前计数。
func TakeSnapshot() Snapshot {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	cp := func(m map[string]int64) map[string]int64 {
		out := make(map[string]int64, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return Snapshot{Ops: cp(ops), Errors: cp(errs), DurMS: cp(durs), Attempts: attempts.Load()}
}

// ResetMetrics 清零（测试用）。
func ResetMetrics() {
	metricsMu.Lock()
	ops, errs, durs = map[string]int64{}, map[string]int64{}, map[string]int64{}
	metricsMu.Unlock()
	attempts.Store(0)
}
