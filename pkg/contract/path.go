package contract

import (
	"path"
	"strings"
)

// FileID: 字典源文件的逻辑标识（规范化路径）。
type FileID string

// NormalizeFileID 将路径统一为正斜杠分隔并 Clean，保留相对/绝对语义。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}
