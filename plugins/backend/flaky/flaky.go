package flaky

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"rapidrar/pkg/contract"
	"rapidrar/plugins/backend/mock"
)

// Options 定义可选项。
type Options struct {
	mock.Options
	// Failures: 前 N 次 CheckBatch 返回 ErrBackendCheck；<=0 时取 1。
	Failures int `json:"failures,omitempty"`
	// LogPath: 调试用日志文件，逐行记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Backend 是带状态的后端：
// 前 Failures 次调用返回 ErrBackendCheck；
// 之后委托给 mock 后端。
type Backend struct {
	*mock.Backend
	failures int64
	logPath  string
	count    atomic.Int64
}

var _ contract.Backend = (*Backend)(nil)

func New(o Options) *Backend {
	n := o.Failures
	if n <= 0 {
		n = 1
	}
	return &Backend{Backend: mock.New(o.Options), failures: int64(n), logPath: o.LogPath}
}

func (b *Backend) log(s string) {
	if b.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(b.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

func (b *Backend) CheckBatch(ctx context.Context, candidates []string) (string, bool, error) {
	if n := b.count.Add(1); n <= b.failures {
		b.log("check_failure")
		return "", false, fmt.Errorf("flaky: call %d: %w", n, contract.ErrBackendCheck)
	}
	b.log("ok")
	return b.Backend.CheckBatch(ctx, candidates)
}
