package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rapidrar/pkg/contract"
)

// UT-DIAG-01: 日志切段与旧段清理
func TestSegmentWriter(t *testing.T) {
	dir := t.TempDir()
	w := newSegmentWriter(dir, 30, 2)
	for i := 0; i < 5; i++ {
		if err := w.WriteLine([]byte(fmt.Sprintf("line %d padded to be long", i))); err != nil {
			t.Fatalf("第 %d 行写入失败: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ActiveLog))
	if err != nil || string(data) != "line 4 padded to be long\n" {
		t.Fatalf("当前段应只含最后一行: %q err=%v", data, err)
	}
	segs, _ := filepath.Glob(filepath.Join(dir, "rapidrar.*.log"))
	if len(segs) != 2 {
		t.Fatalf("应只保留 2 个旧段: %v", segs)
	}
	if _, err := os.ReadFile(segs[1]); err != nil {
		t.Fatalf("旧段不可读: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("重复 Close 应无副作用: %v", err)
	}
}

// 重新打开时沿用已有段的大小
func TestSegmentWriterReopen(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ActiveLog), []byte("0123456789012345678901234\n"), 0o644); err != nil {
		t.Fatalf("预置失败: %v", err)
	}
	w := newSegmentWriter(dir, 30, 0)
	if err := w.WriteLine([]byte("next")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	segs, _ := filepath.Glob(filepath.Join(dir, "rapidrar.*.log"))
	if len(segs) != 1 {
		t.Fatalf("已有段超限应先切段: %v", segs)
	}
}

// UT-DIAG-02: 指标计数
func TestMetrics(t *testing.T) {
	ResetMetrics()
	IncOp("engine", "batch", "success")
	IncOp("engine", "batch", "success")
	IncError("engine", string(CodeBackend))
	ObserveDuration("engine", "batch", 5)
	ObserveDuration("engine", "batch", 7)
	AddAttempts(10)
	AddAttempts(5)
	s := TakeSnapshot()
	if s.Ops["engine/batch/success"] != 2 || s.Errors["engine/backend"] != 1 || s.DurMS["engine/batch"] != 12 || s.Attempts != 15 {
		t.Fatalf("快照不符: %+v", s)
	}
	// 快照为副本
	s.Ops["engine/batch/success"] = 99
	if TakeSnapshot().Ops["engine/batch/success"] != 2 {
		t.Fatalf("快照应与内部状态隔离")
	}
	ResetMetrics()
	if TakeSnapshot().Attempts != 0 {
		t.Fatalf("reset 未清零")
	}
}

// UT-DIAG-03: 错误分类与可重试判定
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{context.Canceled, CodeCancel},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), CodeCancel},
		{fmt.Errorf("cpu: %w", contract.ErrBackendCheck), CodeBackend},
		{contract.ErrBackendInit, CodeBackend},
		{contract.ErrCheckpointMismatch, CodeCheckpoint},
		{contract.ErrArchiveInvalid, CodeArchive},
		{contract.ErrSourceUnavailable, CodeSource},
		{contract.ErrSpaceTooLarge, CodeSpace},
		{contract.ErrInvalidMask, CodeInvalid},
		{&fs.PathError{Op: "open", Path: "/", Err: fs.ErrNotExist}, CodeIO},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("%v: got %s want %s", c.err, got, c.want)
		}
	}
	if Classify(nil) != CodeUnknown {
		t.Fatalf("nil 应为 unknown")
	}
	if !Retryable(fmt.Errorf("w: %w", contract.ErrBackendCheck)) {
		t.Fatalf("BackendCheck 应可重试")
	}
	if Retryable(fmt.Errorf("%w: %w", contract.ErrBackendCheck, context.Canceled)) {
		t.Fatalf("取消永不重试")
	}
	if Retryable(contract.ErrBackendInit) {
		t.Fatalf("Init 失败不可重试")
	}
}

// UT-DIAG-04: Logger 写出 JSON 行并按级别过滤
func TestLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewLoggerTo("corr", "info", dir)
	timer := l.StartWithKV("engine", "run", "mask", "", map[string]string{"k": "v"})
	timer.Finish("ok", 3)
	l.DebugStart("engine", "hidden", "mask", "7", nil)
	start := time.Now().Add(-10 * time.Millisecond)
	l.ErrorWith("engine", "backend", "boom", &start, "mask", "7")
	l.Warn("engine", "backend", "retry", nil)
	l.InfoFinish("engine", "done", time.Now(), 1)
	_ = l.Close()

	data, err := os.ReadFile(filepath.Join(dir, ActiveLog))
	if err != nil {
		t.Fatalf("读取日志: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("debug 应被过滤，期望 5 行: %d\n%s", len(lines), data)
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[2]), &ev); err != nil {
		t.Fatalf("非 JSON: %v", err)
	}
	if ev.Level != "error" || ev.Mode != "mask" || ev.Batch != "7" || ev.CorrID != "corr" || ev.Stage != "error" {
		t.Fatalf("error 事件字段不符: %+v", ev)
	}
	if l.CorrID() != "corr" {
		t.Fatalf("corr id")
	}
}

// nil Logger/Timer 均为 no-op
func TestLoggerNil(t *testing.T) {
	var l *Logger
	l.Start("c", "m").Finish("x", 0)
	l.StartWith("c", "m", "mask", "1").FinishKV("x", 0, nil)
	l.Error("c", "code", "m", nil)
	l.Warn("c", "code", "m", nil)
	if l.Close() != nil || l.CorrID() != "" {
		t.Fatalf("nil logger 应为 no-op")
	}
	var tn *Timer
	tn.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
	if Warn.String() != "warn" || Level(12345).String() != "info" {
		t.Fatalf("level string")
	}
	if parseLevel("ERROR") != Error || parseLevel("") != Info {
		t.Fatalf("parseLevel")
	}
}

// UT-DIAG-05: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	tm := NewTerminal(&sb, true)
	if tm.isTTY {
		t.Fatalf("expect non-tty")
	}
	tm.RunStart(4, "cpu", "mask", 1000, 100)
	tm.Progress(200) // 首次进度立即输出
	tm.Progress(300) // 间隔内被节流
	tm.Note("resumed")
	tm.RunFinish("found", 345, 2*time.Second)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty 不应包含回车: %q", out)
	}
	for _, want := range []string{
		"[run] 模式=mask | 后端=cpu | 并发=4 | 空间=1000 | 已恢复=100",
		"[progress] 已尝试 200/1000 (20.0%)",
		"[note] resumed",
		"[found] 尝试 345 | 速度 172/s | 总用时 2.0s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("缺少 %q: %q", want, out)
		}
	}
	if strings.Contains(out, "已尝试 300") {
		t.Fatalf("第二次进度应被节流: %q", out)
	}
}

// UT-DIAG-06: 终端（TTY，总量未知）进度节流与清尾
func TestTerminalTTYInline(t *testing.T) {
	var sb strings.Builder
	tm := NewTerminal(&sb, true)
	tm.isTTY = true
	tm.RunStart(2, "mock", "dictionary", 0, 0)
	tm.Progress(10)
	first := sb.String()
	if !strings.Contains(first, "\r[run] 已尝试 10") {
		t.Fatalf("进度应以回车覆盖: %q", first)
	}
	tm.Progress(20)
	if sb.String() != first {
		t.Fatalf("100ms 内应节流")
	}
	time.Sleep(120 * time.Millisecond)
	tm.Progress(30)
	if len(sb.String()) <= len(first) {
		t.Fatalf("节流期后应追加输出")
	}
	tm.RunFinish("exhausted", 30, time.Second)
	final := sb.String()
	idx := strings.LastIndex(final, "[exhausted]")
	if idx < 0 {
		t.Fatalf("缺少结束行: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("结束前应以空格清尾: %q", seg)
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// UT-DIAG-07: 写失败降级为禁用态；nil 接收者
func TestTerminalDisable(t *testing.T) {
	tm := NewTerminal(&flakyWriter{fail: true}, true)
	tm.isTTY = false
	tm.RunStart(1, "x", "mask", 0, 0)
	if tm.enabled {
		t.Fatalf("写失败后应禁用")
	}
	tm.Progress(1)
	tm.Note("n")
	tm.RunFinish("failed", 0, 0)

	var tn *Terminal
	tn.RunStart(1, "x", "mask", 0, 0)
	tn.Progress(0)
	tn.Note("x")
	tn.RunFinish("x", 0, 0)

	t.Setenv("CI", "true")
	if NewTerminal(os.Stderr, true).isTTY {
		t.Fatalf("CI 环境应强制非 TTY")
	}
	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	SetTerminal(NewTerminal(os.Stderr, false))
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
	SetTerminal(nil)
}

// UT-DIAG-08: 速度与时长格式化
func TestFormat(t *testing.T) {
	cases := []struct {
		n    uint64
		d    time.Duration
		want string
	}{
		{0, 0, "0/s"},
		{500, time.Second, "500/s"},
		{2500, time.Second, "2.50K/s"},
		{3_000_000, time.Second, "3.00M/s"},
		{4_000_000_000, time.Second, "4.00G/s"},
	}
	for _, c := range cases {
		if got := FormatSpeed(c.n, c.d); got != c.want {
			t.Fatalf("FormatSpeed(%d,%s)=%s want %s", c.n, c.d, got, c.want)
		}
	}
	if formatDur(0) != "0ms" || formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur")
	}
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe")
	}
}
