package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rapidrar/pkg/contract"
)

// Options 为字典源读取器的可选配置。
type Options struct {
	// BufSize 读缓冲区大小（字节）。默认 256KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames 递归目录时跳过的目录基名（大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions 非空时仅读取这些扩展名的文件（例如 [".txt",".lst",".dic"]）；单文件 root 不受限。
	Extensions []string `json:"extensions"`
	// IncludeHidden 为 true 时不跳过以 '.' 开头的文件与目录。
	IncludeHidden bool `json:"include_hidden"`
}

// FileSystem 按稳定顺序读取字典文件、目录或 STDIN。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	exts       map[string]struct{}
	hidden     bool
}

var _ contract.Reader = (*FileSystem)(nil)

// New 创建读取器；opts 可为 nil。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: 256 * 1024, excludeDir: map[string]struct{}{}, exts: map[string]struct{}{}}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, name := range opts.ExcludeDirNames {
		if name = strings.Trim(strings.TrimSpace(name), `/\`); name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		r.exts[e] = struct{}{}
	}
	r.hidden = opts.IncludeHidden
	return r
}

// Iterate 对每个常规文件调用 yield；roots 为空或仅 "-" 时读取 STDIN。
// 打开/遍历失败包装为 ErrSourceUnavailable。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(io.NopCloser(os.Stdin), r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return fmt.Errorf("reader: stdin '-' cannot be mixed with other roots: %w", contract.ErrSourceUnavailable)
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("reader: %w: %w", contract.ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.emit(root, yield)
}

// walkDir 先递归子目录再读文件，均按字典序；目录符号链接不跟随。
func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reader: %w: %w", contract.ErrSourceUnavailable, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() || r.skipName(e.Name()) {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || r.skipName(e.Name()) || !r.extAllowed(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		t, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("reader: %w: %w", contract.ErrSourceUnavailable, err)
		}
		if !t.Mode().IsRegular() {
			continue
		}
		if err := r.emit(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) emit(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("reader: %w: %w", contract.ErrSourceUnavailable, err)
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

func (r *FileSystem) skipName(name string) bool {
	return !r.hidden && strings.HasPrefix(name, ".")
}

func (r *FileSystem) extAllowed(name string) bool {
	if len(r.exts) == 0 {
		return true
	}
	_, ok := r.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
