package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ActiveLog 为当前写入段的文件名。
const ActiveLog = "rapidrar.log"

// segmentWriter 把日志行追加到 dir/rapidrar.log；超过 limit 字节时改名为
// rapidrar.<UTC 时间>.log 并另起新段，只保留最近 keep 个旧段（keep<=0 不清理）。
type segmentWriter struct {
	dir   string
	limit int64
	keep  int

	mu   sync.Mutex
	f    *os.File
	size int64
}

func newSegmentWriter(dir string, limit int64, keep int) *segmentWriter {
	return &segmentWriter{dir: dir, limit: limit, keep: keep}
}

func (w *segmentWriter) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	n := int64(len(b)) + 1
	// 空段总能接收一行，超长行不会反复切段
	if w.size > 0 && w.size+n > w.limit {
		if err := w.cut(); err != nil {
			return err
		}
	}
	line := make([]byte, 0, n)
	line = append(append(line, b...), '\n')
	m, err := w.f.Write(line)
	w.size += int64(m)
	return err
}

func (w *segmentWriter) open() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, ActiveLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.size = f, st.Size()
	return nil
}

func (w *segmentWriter) cut() error {
	_ = w.f.Close()
	w.f = nil
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	if err := os.Rename(filepath.Join(w.dir, ActiveLog), filepath.Join(w.dir, "rapidrar."+stamp+".log")); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 旧段名含定长时间戳，按名排序即按时间排序。
func (w *segmentWriter) prune() {
	if w.keep <= 0 {
		return
	}
	segs, _ := filepath.Glob(filepath.Join(w.dir, "rapidrar.*.log"))
	sort.Strings(segs)
	for len(segs) > w.keep {
		_ = os.Remove(segs[0])
		segs = segs[1:]
	}
}

func (w *segmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
