package cpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"rapidrar/internal/partition"
	"rapidrar/pkg/contract"
)

// Options 为 CPU 后端选项。
type Options struct {
	// Workers: 常驻校验 goroutine 数；<=0 时取 runtime.NumCPU()。
	Workers int `json:"workers,omitempty"`
}

// Backend 以常驻 goroutine 池并行调用 Verifier。
// 每批按 Partition(len, workers) 切片分发；批内返回最小命中下标。
type Backend struct {
	v       contract.Verifier
	workers int

	jobs chan job
	quit chan struct{}
	g    *errgroup.Group

	mu      sync.Mutex
	started bool
	closed  bool
}

var _ contract.Backend = (*Backend)(nil)

// batchState 为单次 CheckBatch 的共享状态。
type batchState struct {
	ctx   context.Context
	cands []string
	best  atomic.Int64 // 最小命中下标；未命中为 len(cands)
	mu    sync.Mutex
	errAt int
	err   error
	wg    sync.WaitGroup
}

type job struct {
	st *batchState
	r  contract.Range
}

// New 构造后端；Init 前不启动任何 goroutine。
func New(opts Options, v contract.Verifier) (*Backend, error) {
	if v == nil {
		return nil, fmt.Errorf("cpu: nil verifier: %w", contract.ErrBackendInit)
	}
	n := opts.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Backend{v: v, workers: n}, nil
}

// Workers 返回池大小。
func (b *Backend) Workers() int { return b.workers }

// Init 探测目标并启动工作池；重复调用无副作用。
func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if b.closed {
		return fmt.Errorf("cpu: %w: already cleaned up", contract.ErrBackendInit)
	}
	if p, ok := b.v.(contract.Prober); ok {
		if err := p.Probe(ctx); err != nil {
			return fmt.Errorf("cpu: %w: %w", contract.ErrBackendInit, err)
		}
	}
	b.jobs = make(chan job)
	b.quit = make(chan struct{})
	b.g = &errgroup.Group{}
	for i := 0; i < b.workers; i++ {
		b.g.Go(b.loop)
	}
	b.started = true
	return nil
}

func (b *Backend) loop() error {
	for {
		select {
		case <-b.quit:
			return nil
		case j := <-b.jobs:
			b.run(j)
		}
	}
}

// run 顺序校验一个切片；遇到更低的命中即停止。
func (b *Backend) run(j job) {
	st := j.st
	defer st.wg.Done()
	for i := j.r.Start; i < j.r.End; i++ {
		idx := int64(i)
		if st.best.Load() <= idx || st.ctx.Err() != nil {
			return
		}
		err := b.v.Verify(st.ctx, st.cands[i])
		switch {
		case err == nil:
			for {
				cur := st.best.Load()
				if cur <= idx || st.best.CompareAndSwap(cur, idx) {
					break
				}
			}
			return
		case errors.Is(err, contract.ErrWrongPassword):
			continue
		default:
			st.mu.Lock()
			if st.err == nil || int(idx) < st.errAt {
				st.err, st.errAt = err, int(idx)
			}
			st.mu.Unlock()
			return
		}
	}
}

// CheckBatch 返回批内下标最小的命中候选。
// 若某个更低下标处发生了非口令错误，则该批结果不可信，返回 ErrBackendCheck。
func (b *Backend) CheckBatch(ctx context.Context, candidates []string) (string, bool, error) {
	b.mu.Lock()
	ready := b.started && !b.closed
	b.mu.Unlock()
	if !ready {
		return "", false, fmt.Errorf("cpu: %w: not initialized", contract.ErrBackendCheck)
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	ranges, err := partition.Partition(uint64(len(candidates)), b.workers)
	if err != nil {
		return "", false, err
	}
	st := &batchState{ctx: ctx, cands: candidates}
	st.best.Store(int64(len(candidates)))
	for _, r := range ranges {
		if r.Len() == 0 {
			continue
		}
		st.wg.Add(1)
		select {
		case b.jobs <- job{st: st, r: r}:
		case <-b.quit:
			st.wg.Done()
		case <-ctx.Done():
			st.wg.Done()
		}
	}
	st.wg.Wait()
	// 取消时切片可能中途停止，命中不一定最小
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	best := int(st.best.Load())
	if st.err != nil && st.errAt < best {
		if errors.Is(st.err, context.Canceled) || errors.Is(st.err, context.DeadlineExceeded) {
			return "", false, st.err
		}
		return "", false, fmt.Errorf("cpu: candidate %d: %w: %w", st.errAt, contract.ErrBackendCheck, st.err)
	}
	if best < len(candidates) {
		return candidates[best], true, nil
	}
	return "", false, nil
}

// Cleanup 停止工作池并等待退出；幂等。
func (b *Backend) Cleanup() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()
	if !started {
		return nil
	}
	close(b.quit)
	return b.g.Wait()
}
