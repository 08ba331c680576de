package contract

import "context"

// CheckpointStore: 检查点持久化。
// 约束：
// 1) Save 为整体覆盖且原子（读者要么看到旧记录要么看到新记录）；
// 2) Load 在记录不存在时返回 ok=false 而非错误；
// 3) 仅由编排器写入；
// 4) Clear 对不存在的记录无副作用。
type CheckpointStore interface {
	Load(ctx context.Context) (Checkpoint, bool, error)
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context) error
}
