package contract

import "context"

// Backend: 校验后端能力契约。
// 约束：
// 1) Init/Cleanup 幂等；Cleanup 必须在所有退出路径上调用；
// 2) CheckBatch 并发安全，可被多个 worker 同时调用；
// 3) 返回批内按顺序第一个被接受的候选；无命中返回 ("", false, nil)；
// 4) 内部并行（进程池/线程池/加速器）属于后端自身职责。
type Backend interface {
	Init(ctx context.Context) error
	CheckBatch(ctx context.Context, candidates []string) (string, bool, error)
	Cleanup() error
}

// Verifier: 单口令的归档校验能力（外部库封装）。
// 正确返回 nil；口令错误返回 ErrWrongPassword；其他错误视为故障。
type Verifier interface {
	Verify(ctx context.Context, password string) error
}

// Prober: 可选能力；在运行前确认目标确实受口令保护且可读，否则返回 ErrArchiveInvalid。
type Prober interface {
	Probe(ctx context.Context) error
}
