package contract

import "errors"

// 校验类：在任何工作开始前即致命。
var (
	// ErrInvalidAlphabet: 字母表为空、含重复符号，或某位基数为 0。
	ErrInvalidAlphabet = errors.New("invalid alphabet")
	// ErrInvalidMask: 掩码语法错误（未终止的类标记、未知类标记、空掩码）。
	ErrInvalidMask = errors.New("invalid mask")
	// ErrSpaceTooLarge: 组合总数超出 uint64 表示范围。
	ErrSpaceTooLarge = errors.New("space too large")
	// ErrRangeOutOfBounds: 请求区间越出 [0, size)。
	ErrRangeOutOfBounds = errors.New("range out of bounds")
	// ErrInvalidWorkerCount: 分区数或并发度 <= 0。
	ErrInvalidWorkerCount = errors.New("invalid worker count")
)

// 运行类。
var (
	// ErrSourceUnavailable: 字典源不可读。
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrCheckpointMismatch: 检查点与当前模式/空间形状不一致。
	ErrCheckpointMismatch = errors.New("checkpoint mismatch")
	// ErrBackendInit: 校验后端初始化失败。
	ErrBackendInit = errors.New("backend init failure")
	// ErrBackendCheck: 单批校验调用出错（可重试一次）。
	ErrBackendCheck = errors.New("backend check failure")
	// ErrArchiveInvalid: 归档不可读或根本不需要密码。
	ErrArchiveInvalid = errors.New("archive invalid")
	// ErrWrongPassword: 口令错误；属于正常的否定结果，不是故障。
	ErrWrongPassword = errors.New("wrong password")
	// ErrSizeUnknown: 流式空间无法预知大小。
	ErrSizeUnknown = errors.New("size unknown")
)
