package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"rapidrar/pkg/contract"
)

// Options: 调试用后端配置（可选）。
type Options struct {
	// Passwords: 被接受的口令集合；为空时永不命中。
	Passwords []string `json:"passwords,omitempty"`
	// FailInit: Init 返回 ErrBackendInit。
	FailInit bool `json:"fail_init,omitempty"`
	// DelayMS: 每批人为延迟（毫秒），用于并发与取消测试。
	DelayMS int `json:"delay_ms,omitempty"`
}

// Backend 在内存集合中查找候选，不访问任何归档。
// 计数器供测试断言生命周期与调用次数。
type Backend struct {
	accept   map[string]struct{}
	failInit bool
	delay    time.Duration

	Inits    atomic.Int64
	Cleanups atomic.Int64
	Calls    atomic.Int64
	Checked  atomic.Int64
}

var _ contract.Backend = (*Backend)(nil)

func New(o Options) *Backend {
	b := &Backend{
		accept:   make(map[string]struct{}, len(o.Passwords)),
		failInit: o.FailInit,
		delay:    time.Duration(o.DelayMS) * time.Millisecond,
	}
	for _, p := range o.Passwords {
		b.accept[p] = struct{}{}
	}
	return b
}

func (b *Backend) Init(ctx context.Context) error {
	b.Inits.Add(1)
	if b.failInit {
		return fmt.Errorf("mock: %w", contract.ErrBackendInit)
	}
	return nil
}

// CheckBatch 返回批内第一个被接受的候选。
func (b *Backend) CheckBatch(ctx context.Context, candidates []string) (string, bool, error) {
	b.Calls.Add(1)
	if b.delay > 0 {
		t := time.NewTimer(b.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", false, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	b.Checked.Add(int64(len(candidates)))
	for _, c := range candidates {
		if _, ok := b.accept[c]; ok {
			return c, true, nil
		}
	}
	return "", false, nil
}

func (b *Backend) Cleanup() error {
	b.Cleanups.Add(1)
	return nil
}
