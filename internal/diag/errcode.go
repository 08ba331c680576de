package diag

import (
	"context"
	"errors"
	"os"
	"time"

	"rapidrar/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总与重试判定，与退出码解耦。
type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeInvalid    Code = "invalid"
	CodeSpace      Code = "space"
	CodeCheckpoint Code = "checkpoint"
	CodeBackend    Code = "backend"
	CodeArchive    Code = "archive"
	CodeSource     Code = "source"
	CodeCancel     Code = "cancel"
	CodeIO         Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrBackendInit), errors.Is(err, contract.ErrBackendCheck):
		return CodeBackend
	case errors.Is(err, contract.ErrCheckpointMismatch):
		return CodeCheckpoint
	case errors.Is(err, contract.ErrArchiveInvalid):
		return CodeArchive
	case errors.Is(err, contract.ErrSourceUnavailable):
		return CodeSource
	case errors.Is(err, contract.ErrSpaceTooLarge), errors.Is(err, contract.ErrRangeOutOfBounds), errors.Is(err, contract.ErrSizeUnknown):
		return CodeSpace
	case errors.Is(err, contract.ErrInvalidAlphabet), errors.Is(err, contract.ErrInvalidMask), errors.Is(err, contract.ErrInvalidWorkerCount):
		return CodeInvalid
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// Retryable 报告单批校验错误是否可重试：仅 ErrBackendCheck，且取消永不重试。
func Retryable(err error) bool {
	if Classify(err) == CodeCancel {
		return false
	}
	return errors.Is(err, contract.ErrBackendCheck)
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
