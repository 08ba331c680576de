package zip

import (
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	yzip "github.com/yeka/zip"

	"rapidrar/pkg/contract"
)

// Options 为 ZIP 校验器选项。
type Options struct {
	// Entry 指定校验的条目名；为空时选择最小的加密文件条目。
	Entry string `json:"entry,omitempty"`
}

// Verifier 在内存中持有归档字节，按口令打开目标加密条目并完整读出。
// 完整读出用于触发 CRC/HMAC 校验，避免 ZipCrypto 头部校验的 1/256 误判。
type Verifier struct {
	data  []byte
	entry string
	// pool 复用已解析的目录；yzip.File.SetPassword 修改条目状态，故每个 goroutine 独占一个 Reader。
	pool sync.Pool
}

var (
	_ contract.Verifier = (*Verifier)(nil)
	_ contract.Prober   = (*Verifier)(nil)
)

// New 读取归档并定位目标条目；不可读或不是 ZIP 返回 ErrArchiveInvalid。
func New(path string, opts Options) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("zip: %w: %w", contract.ErrArchiveInvalid, err)
	}
	v := &Verifier{data: data, entry: opts.Entry}
	r, err := v.open()
	if err != nil {
		return nil, err
	}
	f := v.target(r)
	if f == nil {
		if v.entry != "" {
			return nil, fmt.Errorf("zip: entry %q not found or not encrypted: %w", v.entry, contract.ErrArchiveInvalid)
		}
		return nil, fmt.Errorf("zip: no encrypted entry, password not required: %w", contract.ErrArchiveInvalid)
	}
	v.entry = f.Name
	v.pool.Put(r)
	return v, nil
}

func (v *Verifier) open() (*yzip.Reader, error) {
	r, err := yzip.NewReader(bytes.NewReader(v.data), int64(len(v.data)))
	if err != nil {
		return nil, fmt.Errorf("zip: %w: %w", contract.ErrArchiveInvalid, err)
	}
	return r, nil
}

// target 返回指定条目，或体积最小的加密文件条目。
func (v *Verifier) target(r *yzip.Reader) *yzip.File {
	var best *yzip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !f.IsEncrypted() {
			continue
		}
		if v.entry != "" {
			if f.Name == v.entry {
				return f
			}
			continue
		}
		if best == nil || f.UncompressedSize64 < best.UncompressedSize64 {
			best = f
		}
	}
	return best
}

// Entry 返回实际校验的条目名。
func (v *Verifier) Entry() string { return v.entry }

// Probe 确认存在加密条目，并用空口令试读一次：不支持的压缩算法等结构错误在此暴露。
func (v *Verifier) Probe(ctx context.Context) error {
	r, err := v.open()
	if err != nil {
		return err
	}
	if v.target(r) == nil {
		return fmt.Errorf("zip: no encrypted entry: %w", contract.ErrArchiveInvalid)
	}
	v.pool.Put(r)
	if err := v.Verify(ctx, ""); err != nil && !errors.Is(err, contract.ErrWrongPassword) {
		return err
	}
	return nil
}

// wrongKey 判断读取错误是否只说明口令不对：口令校验值、HMAC、CRC 不符，
// 或错误密钥解出的数据无法解压。
func wrongKey(err error) bool {
	var corrupt flate.CorruptInputError
	switch {
	case errors.Is(err, yzip.ErrPassword),
		errors.Is(err, yzip.ErrChecksum),
		errors.Is(err, yzip.ErrDecryption),
		errors.Is(err, yzip.ErrAuthentication),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &corrupt):
		return true
	}
	return false
}

// Verify 打开并读尽目标条目；解密/校验/解压错误视为口令错误，
// 格式或算法错误带 ErrArchiveInvalid 上抛。
func (v *Verifier) Verify(ctx context.Context, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, _ := v.pool.Get().(*yzip.Reader)
	if r == nil {
		var err error
		if r, err = v.open(); err != nil {
			return err
		}
	}
	defer v.pool.Put(r)
	f := v.target(r)
	if f == nil {
		return fmt.Errorf("zip: entry %q vanished: %w", v.entry, contract.ErrArchiveInvalid)
	}
	f.SetPassword(password)
	rc, err := f.Open()
	if err == nil {
		_, err = io.Copy(io.Discard, rc)
		_ = rc.Close()
	}
	switch {
	case err == nil:
		return nil
	case wrongKey(err):
		return contract.ErrWrongPassword
	}
	return fmt.Errorf("zip: entry %q: %w: %w", v.entry, contract.ErrArchiveInvalid, err)
}
