package memory

import (
	"context"
	"sync"

	"rapidrar/pkg/contract"
)

// Store 为进程内检查点存储（测试与 --checkpoint "" 时使用）。
type Store struct {
	mu    sync.Mutex
	cp    contract.Checkpoint
	ok    bool
	saves int
}

var _ contract.CheckpointStore = (*Store)(nil)

func New() *Store { return &Store{} }

func (s *Store) Load(ctx context.Context) (contract.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.cp), s.ok, nil
}

func (s *Store) Save(ctx context.Context, cp contract.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.Version == 0 {
		cp.Version = contract.CheckpointVersion
	}
	s.mu.Lock()
	s.cp, s.ok = clone(cp), true
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cp, s.ok = contract.Checkpoint{}, false
	s.mu.Unlock()
	return nil
}

// Saves 返回累计 Save 次数。
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func clone(cp contract.Checkpoint) contract.Checkpoint {
	if cp.Cursor.Position != nil {
		cp.Cursor.Position = append([]int(nil), cp.Cursor.Position...)
	}
	return cp
}
