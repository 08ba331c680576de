package rate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOverLimit: 申请本身无法满足（非法数量或超过单批上限），等待也无用。
var ErrOverLimit = errors.New("rate: ask exceeds limit")

// LimitKey: 限流分组键，取后端名称。
type LimitKey string

// Limits: 某个后端的校验速率上限。0 表示该维度不启用。
// 用于共享机器或远程校验服务时压低校验速率。
type Limits struct {
	BatchesPerMin    int `json:"batches_per_min,omitempty"`
	CandidatesPerMin int `json:"candidates_per_min,omitempty"`
	MaxBatch         int `json:"max_batch,omitempty"`
}

func (l Limits) Enabled() bool {
	return l.BatchesPerMin > 0 || l.CandidatesPerMin > 0 || l.MaxBatch > 0
}

// Ask: 一次批校验放行申请。
type Ask struct {
	Key        LimitKey
	Batches    int
	Candidates int
}

// Gate 在每次批校验前调用。
type Gate interface {
	Wait(ctx context.Context, a Ask) error
}

// NewGate 按后端构造闸门；clk 为空时用 time.Now。未配置的后端不限速。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	now := clk()
	g := &throttle{clk: clk, lanes: make(map[LimitKey]*lane, len(m))}
	for k, lim := range m {
		g.lanes[k] = &lane{
			maxBatch: lim.MaxBatch,
			batches:  newBucket(lim.BatchesPerMin, now),
			cands:    newBucket(lim.CandidatesPerMin, now),
		}
	}
	return g
}

// throttle 的 lanes 构造后只读，各 lane 自带锁。
type throttle struct {
	clk   func() time.Time
	lanes map[LimitKey]*lane
}

var open = &lane{}

func (g *throttle) lane(k LimitKey) *lane {
	if l := g.lanes[k]; l != nil {
		return l
	}
	return open
}

func (g *throttle) Wait(ctx context.Context, a Ask) error {
	l := g.lane(a.Key)
	if err := l.admit(a); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := l.reserve(g.clk(), a)
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d + 10*time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// lane 为单个后端的两只令牌桶：批次/分钟与候选/分钟；nil 桶表示不限。
type lane struct {
	mu       sync.Mutex
	maxBatch int
	batches  *bucket
	cands    *bucket
}

func (l *lane) admit(a Ask) error {
	switch {
	case a.Batches < 1 || a.Candidates < 0:
		return fmt.Errorf("%w: batches=%d candidates=%d", ErrOverLimit, a.Batches, a.Candidates)
	case l.maxBatch > 0 && a.Candidates > l.maxBatch:
		return fmt.Errorf("%w: %d candidates > max_batch %d", ErrOverLimit, a.Candidates, l.maxBatch)
	case l.cands != nil && float64(a.Candidates) > l.cands.size:
		return fmt.Errorf("%w: %d candidates > candidates_per_min %.0f", ErrOverLimit, a.Candidates, l.cands.size)
	}
	return nil
}

// reserve 额度足够时扣减并返回 0，否则返回还需等待的时长。
func (l *lane) reserve(now time.Time, a Ask) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches.fill(now)
	l.cands.fill(now)
	d := max(l.batches.lack(a.Batches), l.cands.lack(a.Candidates))
	if d == 0 {
		l.batches.spend(a.Batches)
		l.cands.spend(a.Candidates)
	}
	return d
}

// bucket 容量为每分钟额度，满桶起步，按秒匀速回填。
type bucket struct {
	size   float64
	level  float64
	perSec float64
	at     time.Time
}

func newBucket(perMin int, now time.Time) *bucket {
	if perMin <= 0 {
		return nil
	}
	f := float64(perMin)
	return &bucket{size: f, level: f, perSec: f / 60, at: now}
}

// fill 时钟回拨时不回填。
func (b *bucket) fill(now time.Time) {
	if b == nil || !now.After(b.at) {
		return
	}
	b.level = min(b.size, b.level+now.Sub(b.at).Seconds()*b.perSec)
	b.at = now
}

func (b *bucket) lack(n int) time.Duration {
	if b == nil || b.level >= float64(n) {
		return 0
	}
	return time.Duration((float64(n) - b.level) / b.perSec * float64(time.Second))
}

func (b *bucket) spend(n int) {
	if b != nil {
		b.level -= float64(n)
	}
}
