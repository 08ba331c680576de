package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"rapidrar/internal/diag"
	"rapidrar/pkg/contract"
)

// commitState 仅由提交 goroutine 访问。
type commitState struct {
	c         *Cracker
	runID     string
	committed uint64 // 已完成的连续单位前缀
	attempts  uint64
	yield     func(contract.Progress) error
}

func (s *commitState) cursor() contract.Cursor { return s.c.comp.Space.CursorAt(s.committed) }

func (s *commitState) snapshot() Outcome {
	return Outcome{State: StateFailed, Attempts: s.attempts, Cursor: s.cursor()}
}

// save 同步写入检查点；取消后仍需落盘，故脱离 ctx 的取消。
func (s *commitState) save(ctx context.Context, found string) error {
	sp := s.c.comp.Space
	cp := contract.Checkpoint{
		Version:     contract.CheckpointVersion,
		RunID:       s.runID,
		Mode:        sp.Mode(),
		Fingerprint: sp.Fingerprint(),
		Cursor:      s.cursor(),
		Attempts:    s.attempts,
		Found:       found,
		UpdatedAt:   time.Now().UTC(),
	}
	t0 := time.Now()
	if err := s.c.comp.Store.Save(context.WithoutCancel(ctx), cp); err != nil {
		code := diag.Classify(err)
		s.c.log.Error("checkpoint", string(code), "save failed: "+err.Error(), &t0)
		diag.IncError("checkpoint", string(code))
		return fmt.Errorf("checkpoint save: %w", err)
	}
	diag.IncOp("checkpoint", "save", "success")
	diag.ObserveDuration("checkpoint", "save", time.Since(t0).Milliseconds())
	return nil
}

func (s *commitState) emit(p contract.Progress) error {
	if t := diag.GetTerminal(); t != nil {
		t.Progress(p.Total)
	}
	if s.yield == nil {
		return nil
	}
	if err := s.yield(p); err != nil {
		return fmt.Errorf("progress consumer: %w", err)
	}
	return nil
}

// commit 提交下一批；返回非 nil Outcome 表示命中，运行结束。
func (s *commitState) commit(ctx context.Context, r result) (*Outcome, error) {
	if r.err != nil {
		return nil, r.err
	}
	b := r.batch
	mode := string(s.c.comp.Space.Mode())
	if r.found {
		// 命中位置：批内第一次出现
		idx := 0
		for i, cand := range b.Candidates {
			if cand == r.pw {
				idx = i
				break
			}
		}
		n := uint64(idx) + 1
		s.attempts += n
		diag.AddAttempts(n)
		// 命中批未完整完成，游标停在批起点
		s.committed = b.Range.Start
		if err := s.save(ctx, r.pw); err != nil {
			return nil, err
		}
		s.c.log.StartWithKV("engine", "found", mode, strconv.FormatInt(b.Seq, 10), map[string]string{
			"attempts": strconv.FormatUint(s.attempts, 10),
		}).Finish("found", int64(s.attempts))
		out := &Outcome{State: StateFound, Password: r.pw, Attempts: s.attempts, Cursor: s.cursor()}
		if err := s.emit(contract.Progress{Attempts: n, Total: s.attempts, Cursor: out.Cursor, Found: r.pw}); err != nil {
			// 命中已落盘，消费者错误不改变结果
			s.c.log.Warn("engine", string(diag.Classify(err)), err.Error(), nil)
		}
		return out, nil
	}
	n := uint64(len(b.Candidates))
	s.attempts += n
	s.committed = b.Range.End
	diag.AddAttempts(n)
	if err := s.save(ctx, ""); err != nil {
		return nil, err
	}
	diag.IncOp("engine", "commit", "success")
	return nil, s.emit(contract.Progress{Attempts: n, Total: s.attempts, Cursor: s.cursor()})
}

// exhausted 空间已穷尽：清除检查点。
func (s *commitState) exhausted(ctx context.Context) (Outcome, error) {
	out := Outcome{State: StateExhausted, Attempts: s.attempts, Cursor: s.cursor()}
	if err := s.c.comp.Store.Clear(context.WithoutCancel(ctx)); err != nil {
		out.State = StateFailed
		return out, fmt.Errorf("checkpoint clear: %w", err)
	}
	s.c.log.InfoFinish("engine", "exhausted", time.Now(), int64(s.attempts))
	return out, nil
}
