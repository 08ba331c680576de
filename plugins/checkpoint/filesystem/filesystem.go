package filesystem

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"rapidrar/pkg/contract"
)

// Options: 检查点文件位置与权限。
type Options struct {
	// Path: 检查点文件路径（必需）。
	Path string `json:"path"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认值。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
}

// Store 以 JSON 文件保存单条检查点记录；每次 Save 整体原子替换。
type Store struct {
	path  string
	permF os.FileMode
	permD os.FileMode
}

var _ contract.CheckpointStore = (*Store)(nil)

// New 创建文件检查点存储。
func New(opts *Options) (*Store, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, os.ErrInvalid
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	return &Store{path: filepath.Clean(opts.Path), permF: pf, permD: pd}, nil
}

// Path 返回检查点文件路径。
func (s *Store) Path() string { return s.path }

// Load 读取记录；文件不存在返回 ok=false。
func (s *Store) Load(ctx context.Context) (contract.Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return contract.Checkpoint{}, false, err
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return contract.Checkpoint{}, false, nil
	}
	if err != nil {
		return contract.Checkpoint{}, false, err
	}
	var cp contract.Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return contract.Checkpoint{}, false, fmt.Errorf("checkpoint: %s: %w: %w", s.path, contract.ErrCheckpointMismatch, err)
	}
	if cp.Version != contract.CheckpointVersion {
		return contract.Checkpoint{}, false, fmt.Errorf("checkpoint: version %d: %w", cp.Version, contract.ErrCheckpointMismatch)
	}
	return cp, true, nil
}

// Save 序列化并原子替换目标文件。
func (s *Store) Save(ctx context.Context, cp contract.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.Version == 0 {
		cp.Version = contract.CheckpointVersion
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, s.permD); err != nil {
		return err
	}
	return s.writeAtomic(dir, append(data, '\n'))
}

// Clear 删除记录；不存在时无副作用。
func (s *Store) Clear(ctx context.Context) error {
	err := os.Remove(s.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) writeAtomic(dir string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, s.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(data); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录，保证重命名落盘
	_ = syncDir(dir)
	return nil
}
