package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// DefaultLogDir 为默认日志目录（相对工作目录）。
const DefaultLogDir = "logs"

// Logger 为最小结构化日志器：单行 JSON 写入轮转文件；sink 为空时写 stderr。
// nil *Logger 的所有方法均为 no-op。
type Logger struct {
	corrID string
	level  Level
	sink   *segmentWriter
	mu     sync.Mutex
}

// NewLogger 以默认目录 logs/ 初始化，10 MiB 切段，保留 5 个旧段。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerTo(corrID, level, DefaultLogDir)
}

// NewLoggerTo 指定日志目录；dir 为空时写 stderr。
func NewLoggerTo(corrID, level, dir string) *Logger {
	l := &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level))}
	if dir != "" {
		l.sink = newSegmentWriter(dir, 10<<20, 5)
	}
	return l
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Event 为标准事件结构。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|error|warn
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	Mode   string            `json:"mode,omitempty"`
	Batch  string            `json:"batch_id,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 mode/batch_id 的 start。
func (l *Logger) StartWith(comp, msg, mode, batch string) *Timer {
	return l.StartWithKV(comp, msg, mode, batch, nil)
}

// StartWithKV 记录带 mode/batch_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, mode, batch string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Mode: mode, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, mode: mode, batch: batch, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 mode/batch_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, mode, batch string) {
	l.ErrorWithKV(comp, code, msg, durSince, mode, batch, nil)
}

// ErrorWithKV 附带 mode/batch_id 与键值对。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, mode, batch string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Mode: mode, Batch: batch, KV: kv})
}

// Warn 记录 warn 事件（重试、预检告警）。
func (l *Logger) Warn(comp, code, msg string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, mode, batch string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Mode: mode, Batch: batch, Msg: msg, KV: kv})
}

// Close 关闭底层文件。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	mode  string
	batch string
	t0    time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	t.FinishKV(msg, count, nil)
}

// FinishKV 记录带键值的 finish。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Mode: t.mode, Batch: t.batch, Msg: msg, KV: kv})
}
