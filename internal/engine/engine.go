package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"rapidrar/internal/diag"
	"rapidrar/internal/partition"
	"rapidrar/internal/rate"
	"rapidrar/pkg/contract"
)

// - 单点并发：仅此层管理批级并发与背压；空间与存储均为同步组件，后端自管内部并行。
// - 顺序门闩：批按 Seq 严格递增提交；乱序结果暂存，连续冲刷；游标即最小连续完成前缀。
// - 提交窗口：未提交批数 <= Concurrency；检查点保存后才释放名额。
// - 最小命中：命中批之前的批全部提交后才确认命中，其后的批结果丢弃。

// State 为一次运行的状态。
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateFound     State = "found"
	StateExhausted State = "exhausted"
	StateFailed    State = "failed"
)

// Components 聚合运行所需的组件。
type Components struct {
	Space   contract.Space
	Backend contract.Backend
	Store   contract.CheckpointStore
}

// Settings 运行期配置。
type Settings struct {
	// BatchSize: 每批单位数上限（扁平索引或字典行）。
	BatchSize   int
	Concurrency int
	// MaxRetries: 单批 CheckBatch 失败后的重试次数（>=0）。
	MaxRetries int
	// Resume: 从存储中的检查点继续；false 时从头开始并覆盖旧记录。
	Resume bool
	// RunID: 写入检查点；为空时生成 uuid（恢复时沿用旧值）。
	RunID string
	// BackendName: 仅用于日志与终端。
	BackendName string
	// 限流闸门（可选）：若非空，则在调用 CheckBatch 前调用 Gate.Wait
	Gate    rate.Gate
	GateKey rate.LimitKey
	// RetryBackoff: 重试前等待；0 时取 100ms。
	RetryBackoff time.Duration
}

// Outcome 为一次运行的结果。
type Outcome struct {
	State    State
	Password string
	// Attempts: 累计尝试数（含恢复前）；命中时为命中候选的 1 基位置。
	Attempts uint64
	Cursor   contract.Cursor
	Elapsed  time.Duration
	// Recorded: 命中取自既有检查点，本次未搜索。
	Recorded bool
}

// SelectMode: 有掩码为 mask；否则有字典为 dictionary；否则 bruteforce。
func SelectMode(mask string, dict []string) contract.Mode {
	switch {
	case mask != "":
		return contract.ModeMask
	case len(dict) > 0:
		return contract.ModeDictionary
	}
	return contract.ModeBruteforce
}

// Cracker 编排一次口令搜索。
type Cracker struct {
	comp Components
	set  Settings
	log  *diag.Logger

	mu    sync.Mutex
	state State
}

// New 校验组件与配置；logger 可为 nil。
func New(comp Components, set Settings, logger *diag.Logger) (*Cracker, error) {
	if comp.Space == nil || comp.Backend == nil || comp.Store == nil {
		return nil, errors.New("engine: missing component")
	}
	if set.BatchSize <= 0 {
		return nil, fmt.Errorf("engine: batch_size=%d: %w", set.BatchSize, contract.ErrInvalidWorkerCount)
	}
	if set.Concurrency <= 0 {
		return nil, fmt.Errorf("engine: concurrency=%d: %w", set.Concurrency, contract.ErrInvalidWorkerCount)
	}
	if set.MaxRetries < 0 {
		set.MaxRetries = 0
	}
	if set.RetryBackoff <= 0 {
		set.RetryBackoff = 100 * time.Millisecond
	}
	return &Cracker{comp: comp, set: set, log: logger, state: StateIdle}, nil
}

// State 返回当前状态。
func (c *Cracker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cracker) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

type job struct {
	seq   int64
	r     contract.Range
	batch *contract.Batch // 流式空间由生产者物化
}

type result struct {
	seq   int64
	batch contract.Batch
	pw    string
	found bool
	err   error
}

// Run 执行搜索；yield 在每批提交后同步调用，返回错误即停止（检查点保留）。
func (c *Cracker) Run(ctx context.Context, yield func(contract.Progress) error) (Outcome, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return Outcome{State: c.state}, errors.New("engine: cracker already used")
	}
	c.state = StateRunning
	c.mu.Unlock()

	t0 := time.Now()
	out, err := c.run(ctx, yield)
	out.Elapsed = time.Since(t0)
	if err != nil {
		out.State = StateFailed
		code := diag.Classify(err)
		c.log.Error("engine", string(code), err.Error(), &t0)
		diag.IncOp("engine", "run", "error")
		if code != diag.CodeUnknown {
			diag.IncError("engine", string(code))
		}
	}
	c.setState(out.State)
	if t := diag.GetTerminal(); t != nil {
		state := string(out.State)
		if errors.Is(err, context.Canceled) {
			state = "interrupted"
		}
		t.RunFinish(state, out.Attempts, out.Elapsed)
	}
	return out, err
}

func (c *Cracker) run(ctx context.Context, yield func(contract.Progress) error) (Outcome, error) {
	sp := c.comp.Space
	mode := sp.Mode()
	if cl, ok := sp.(io.Closer); ok {
		defer cl.Close()
	}

	// 空间大小：流式空间未知
	total, err := sp.Size()
	sized := err == nil
	if err != nil && !errors.Is(err, contract.ErrSizeUnknown) {
		return Outcome{}, fmt.Errorf("space size: %w", err)
	}
	stimer := c.log.StartWith("space", "size", string(mode), "")
	stimer.FinishKV("size", 0, map[string]string{"total": strconv.FormatUint(total, 10), "sized": strconv.FormatBool(sized)})

	// 恢复：任何工作开始前校验检查点
	var start, attempts uint64
	runID := c.set.RunID
	if c.set.Resume {
		cp, ok, err := c.comp.Store.Load(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("checkpoint load: %w", err)
		}
		if ok {
			if cp.Mode != mode || cp.Fingerprint != sp.Fingerprint() {
				return Outcome{}, fmt.Errorf("checkpoint %s/%s vs space %s/%s: %w", cp.Mode, cp.Fingerprint, mode, sp.Fingerprint(), contract.ErrCheckpointMismatch)
			}
			pos, err := sp.Seek(cp.Cursor)
			if err != nil {
				return Outcome{}, fmt.Errorf("checkpoint seek: %w: %w", contract.ErrCheckpointMismatch, err)
			}
			start, attempts = pos, cp.Attempts
			if cp.RunID != "" {
				runID = cp.RunID
			}
			if cp.Found != "" {
				return Outcome{State: StateFound, Password: cp.Found, Attempts: cp.Attempts, Cursor: cp.Cursor, Recorded: true}, nil
			}
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	// 后端初始化；所有退出路径都 Cleanup
	btimer := c.log.StartWith("backend", "init", string(mode), "")
	if err := c.comp.Backend.Init(ctx); err != nil {
		_ = c.comp.Backend.Cleanup()
		return Outcome{Attempts: attempts, Cursor: sp.CursorAt(start)}, fmt.Errorf("backend init: %w", err)
	}
	btimer.Finish("init", 0)
	defer func() {
		if err := c.comp.Backend.Cleanup(); err != nil {
			c.log.Error("backend", string(diag.Classify(err)), "cleanup failed: "+err.Error(), nil)
		}
	}()

	if t := diag.GetTerminal(); t != nil {
		shown := total
		if !sized {
			shown = 0
			if est, ok := sp.(contract.Estimator); ok {
				if n, err := est.Estimate(ctx); err == nil {
					shown = n
				}
			}
		}
		t.RunStart(c.set.Concurrency, c.set.BackendName, string(mode), shown, attempts)
		if c.set.Resume && start > 0 {
			t.Note(fmt.Sprintf("从位置 %d 恢复（已尝试 %d）", start, attempts))
		}
	}

	cs := &commitState{
		c:         c,
		runID:     runID,
		committed: start,
		attempts:  attempts,
		yield:     yield,
	}
	if sized && start >= total {
		return cs.exhausted(ctx)
	}
	return c.dispatch(ctx, cs, total, sized)
}

// dispatch 启动生产者与 worker，并在当前 goroutine 按序提交。
func (c *Cracker) dispatch(ctx context.Context, cs *commitState, total uint64, sized bool) (Outcome, error) {
	sp := c.comp.Space
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	sem := semaphore.NewWeighted(int64(c.set.Concurrency))
	jobs := make(chan job, c.set.Concurrency)
	results := make(chan result, c.set.Concurrency)

	// 生产者：按升序分发；名额由提交方在检查点保存后归还
	g.Go(func() error {
		defer close(jobs)
		send := func(j job) bool {
			if err := sem.Acquire(gctx, 1); err != nil {
				return false
			}
			select {
			case jobs <- j:
				return true
			case <-gctx.Done():
				return false
			}
		}
		if sized {
			// 分区只取决于 (total, batch)；恢复时从游标所在段开始，该段起点前移到游标
			plan, err := partition.NewPlan(total, c.set.BatchSize)
			if err != nil {
				return err
			}
			first := plan.Locate(cs.committed)
			for i := first; i < plan.N; i++ {
				r := plan.At(i)
				if i == first {
					r = partition.Resume([]contract.Range{r}, cs.committed)[0]
				}
				if !send(job{seq: int64(i - first), r: r}) {
					return nil
				}
			}
			return nil
		}
		pos := cs.committed
		for seq := int64(0); ; seq++ {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			b, err := sp.Materialize(gctx, pos, uint64(c.set.BatchSize))
			if err != nil {
				sem.Release(1)
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("materialize at %d: %w", pos, err)
			}
			if b.Range.Len() == 0 && len(b.Candidates) == 0 {
				sem.Release(1)
				return nil
			}
			b.Seq = seq
			pos = b.Range.End
			select {
			case jobs <- job{seq: seq, r: b.Range, batch: &b}:
			case <-gctx.Done():
				return nil
			}
			if b.EOF {
				return nil
			}
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < c.set.Concurrency; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				res := c.check(gctx, j)
				select {
				case results <- res:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// 顺序门闩
	buf := make(map[int64]result)
	var expect int64
	var out *Outcome
	var firstErr error
	for res := range results {
		if out != nil || firstErr != nil {
			continue // 排空
		}
		buf[res.seq] = res
		for {
			r, ok := buf[expect]
			if !ok {
				break
			}
			delete(buf, expect)
			expect++
			o, err := cs.commit(ctx, r)
			if err != nil {
				firstErr = err
				cancel()
				break
			}
			if o != nil {
				out = o
				cancel()
				break
			}
			sem.Release(1)
		}
	}
	gerr := g.Wait()
	// 生产者出错会取消 gctx，在途批次随之以取消告终并可能先被提交；真正的原因是 gerr
	if firstErr != nil && gerr != nil && ctx.Err() == nil && canceled(firstErr) {
		firstErr = gerr
	}

	switch {
	case out != nil:
		return *out, nil
	case firstErr != nil:
		return cs.snapshot(), firstErr
	case gerr != nil:
		return cs.snapshot(), gerr
	case ctx.Err() != nil:
		return cs.snapshot(), ctx.Err()
	}
	return cs.exhausted(ctx)
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// check 物化（随机访问空间）并校验一批，失败按分类重试。
func (c *Cracker) check(ctx context.Context, j job) result {
	res := result{seq: j.seq}
	if j.batch != nil {
		res.batch = *j.batch
	} else {
		b, err := c.comp.Space.Materialize(ctx, j.r.Start, j.r.Len())
		if err != nil {
			res.err = fmt.Errorf("materialize %d..%d: %w", j.r.Start, j.r.End, err)
			return res
		}
		b.Seq = j.seq
		res.batch = b
	}
	if len(res.batch.Candidates) == 0 {
		return res
	}
	mode := string(c.comp.Space.Mode())
	bid := strconv.FormatInt(j.seq, 10)
	tries := c.set.MaxRetries + 1
	for attempt := 0; attempt < tries; attempt++ {
		if c.set.Gate != nil {
			if err := c.set.Gate.Wait(ctx, rate.Ask{Key: c.set.GateKey, Batches: 1, Candidates: len(res.batch.Candidates)}); err != nil {
				// 闸门错误不重试（取消或申请超限）
				res.err = fmt.Errorf("gate: %w", err)
				return res
			}
		}
		c.log.DebugStart("backend", "check", mode, bid, map[string]string{
			"from":    strconv.FormatUint(res.batch.Range.Start, 10),
			"to":      strconv.FormatUint(res.batch.Range.End, 10),
			"attempt": strconv.Itoa(attempt + 1),
		})
		t0 := time.Now()
		pw, found, err := c.comp.Backend.CheckBatch(ctx, res.batch.Candidates)
		diag.ObserveDuration("backend", "check", time.Since(t0).Milliseconds())
		if err == nil {
			diag.IncOp("backend", "check", "success")
			res.pw, res.found, res.err = pw, found, nil
			return res
		}
		res.err = err
		if ctx.Err() != nil {
			return res
		}
		code := diag.Classify(err)
		c.log.ErrorWith("backend", string(code), "check failed: "+err.Error(), &t0, mode, bid)
		diag.IncOp("backend", "check", "error")
		diag.IncError("backend", string(code))
		if attempt+1 < tries && diag.Retryable(err) {
			diag.IncOp("backend", "check", "retry")
			c.log.Warn("backend", string(code), "retry batch "+bid, map[string]string{"attempt": strconv.Itoa(attempt + 2)})
			if sleepWithCtx(ctx, c.set.RetryBackoff*time.Duration(attempt+1)) != nil {
				return res
			}
			continue
		}
		break
	}
	res.err = fmt.Errorf("batch %d: %w", j.seq, res.err)
	return res
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
