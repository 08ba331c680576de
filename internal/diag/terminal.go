package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY 且总量已知：pb 进度条；TTY 总量未知：单行 \r 覆盖；非 TTY：关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	backend     string
	mode        string
	total       uint64
	done        uint64
	runStart    time.Time

	bar *pb.ProgressBar

	lastLen   int
	lastFlush time.Time
	lastLine  time.Time

	mu sync.Mutex
}

// barTemplate: 计数、进度条、百分比、速度、剩余时间。
const barTemplate = `{{counters . }} {{bar . "[" "=" ">" "." "]"}} {{percent . }} {{speed . "%s p/s"}} {{rtime . "ETA %s"}}`

// 非 TTY 进度行的最小间隔。
const plainInterval = 5 * time.Second

// 进程级终端（可选，全局设置后供引擎旁路调用）。
var (
	termMu  sync.RWMutex
	current *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); current = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return current }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = term.IsTerminal(int(f.Fd()))
		}
	}
	return t
}

// RunStart: 记录运行上下文；total=0 表示总量未知（字典流）。
func (t *Terminal) RunStart(concurrency int, backend, mode string, total, resumed uint64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency, t.backend, t.mode = concurrency, safe(backend), safe(mode)
	t.total, t.done = total, resumed
	t.runStart = time.Now()
	head := fmt.Sprintf("[run] 模式=%s | 后端=%s | 并发=%d", t.mode, t.backend, concurrency)
	if total > 0 {
		head += fmt.Sprintf(" | 空间=%d", total)
	}
	if resumed > 0 {
		head += fmt.Sprintf(" | 已恢复=%d", resumed)
	}
	t.println(head)
	if t.isTTY && total > 0 {
		t.bar = pb.New64(int64(total)).SetWriter(t.w).SetTemplateString(barTemplate)
		t.bar.SetCurrent(int64(resumed))
		t.bar.Start()
	}
}

// Progress: 每批提交后更新累计尝试数。
func (t *Terminal) Progress(done uint64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done = done
	now := time.Now()
	switch {
	case t.bar != nil:
		t.bar.SetCurrent(int64(done))
	case t.isTTY:
		// 节流：100ms
		if now.Sub(t.lastFlush) < 100*time.Millisecond {
			return
		}
		t.lastFlush = now
		t.printInline(fmt.Sprintf("[run] 已尝试 %d | 速度 %s | 并发 %d | 用时 %s",
			done, FormatSpeed(done, now.Sub(t.runStart)), t.concurrency, formatSince(t.runStart)))
	default:
		if now.Sub(t.lastLine) < plainInterval {
			return
		}
		t.lastLine = now
		t.println(t.plainLine(now))
	}
}

func (t *Terminal) plainLine(now time.Time) string {
	s := fmt.Sprintf("[progress] 已尝试 %d", t.done)
	if t.total > 0 {
		s += fmt.Sprintf("/%d (%.1f%%)", t.total, float64(t.done)*100/float64(t.total))
	}
	return s + fmt.Sprintf(" | 速度 %s | 用时 %s", FormatSpeed(t.done, now.Sub(t.runStart)), formatSince(t.runStart))
}

// Note: 打印一行提示（恢复、重试、预检告警）。
func (t *Terminal) Note(msg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || t.bar != nil {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println("[note] " + safe(msg))
}

// RunFinish: 结束总览；state 为 found/exhausted/failed/interrupted。
func (t *Terminal) RunFinish(state string, attempts uint64, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.bar != nil {
		t.bar.SetCurrent(int64(attempts))
		t.bar.Finish()
		t.bar = nil
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] 尝试 %d | 速度 %s | 总用时 %s", safe(state), attempts, FormatSpeed(attempts, dur), formatDur(dur)))
}

// FormatSpeed 以 /s、K/s、M/s、G/s 格式化平均速度。
func FormatSpeed(attempts uint64, d time.Duration) string {
	if d <= 0 {
		return "0/s"
	}
	r := float64(attempts) / d.Seconds()
	switch {
	case r >= 1e9:
		return fmt.Sprintf("%.2fG/s", r/1e9)
	case r >= 1e6:
		return fmt.Sprintf("%.2fM/s", r/1e6)
	case r >= 1e3:
		return fmt.Sprintf("%.2fK/s", r/1e3)
	}
	return fmt.Sprintf("%.0f/s", r)
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
