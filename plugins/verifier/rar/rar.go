package rar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nwaples/rardecode"

	"rapidrar/pkg/contract"
)

// Magic 为 RAR 1.5–4.x 与 5.x 共有的签名前缀。
var Magic = []byte("Rar!\x1a\x07")

// Options 为 RAR 校验器选项（当前无字段，保留以保持工厂形态一致）。
type Options struct{}

// Verifier 以候选口令解码归档中第一个文件条目并读尽数据。
type Verifier struct {
	data []byte
	// sealed 表示文件头本身加密（rar -hp）：错误口令解出的头部是随机字节，
	// 此时头部阶段的任何错误都只说明口令不对。
	sealed bool
}

var (
	_ contract.Verifier = (*Verifier)(nil)
	_ contract.Prober   = (*Verifier)(nil)
)

// New 读取归档字节到内存；签名不符返回 ErrArchiveInvalid。
func New(path string, _ Options) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rar: %w: %w", contract.ErrArchiveInvalid, err)
	}
	if !bytes.HasPrefix(data, Magic) {
		return nil, fmt.Errorf("rar: bad signature: %w", contract.ErrArchiveInvalid)
	}
	return &Verifier{data: data}, nil
}

// 错误口令在 rardecode 中的表现：RAR5 的口令校验值、解密后头部 CRC 不符，
// 以及用错误密钥解出的数据流在解码或校验时失败。rardecode 不导出这些错误值，只能按文本比对。
func isWrongKey(err error) bool {
	if err == nil {
		return false
	}
	switch err.Error() {
	case "rardecode: incorrect password",
		"rardecode: bad header crc",
		"rardecode: bad file checksum",
		"rardecode: decoded file too short",
		"rardecode: decoder expected more data than is in packed file",
		"rardecode: huffman decode failed",
		"rardecode: invalid huffman code length table",
		"rardecode: corrupt ppm data",
		"rardecode: corrupt decode header",
		"rardecode: unknown V5 filter",
		"rardecode: too many filters",
		"rardecode: invalid filter",
		"rardecode: invalid vm instruction":
		return true
	}
	return false
}

// stage 标记错误出现的位置。
type stage int

const (
	stageHeader stage = iota
	stageData
)

// try 返回 nil 表示口令可解出首个文件；io.EOF 表示归档中没有文件。
func (v *Verifier) try(password string) (stage, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(v.data), password)
	if err != nil {
		return stageHeader, err
	}
	for {
		h, err := rr.Next()
		if err != nil {
			return stageHeader, err
		}
		if h.IsDir {
			continue
		}
		_, err = io.Copy(io.Discard, rr)
		return stageData, err
	}
}

// Probe 确认归档结构完整且需要口令：空口令能解出数据时无需破解；
// 截断、头部损坏等结构错误返回 ErrArchiveInvalid。
func (v *Verifier) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := v.try("")
	switch {
	case err == nil:
		return fmt.Errorf("rar: archive is not encrypted: %w", contract.ErrArchiveInvalid)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("rar: no file entries: %w", contract.ErrArchiveInvalid)
	case !isWrongKey(err):
		return fmt.Errorf("rar: %w: %w", contract.ErrArchiveInvalid, err)
	}
	v.sealed = st == stageHeader
	return nil
}

// Verify 仅把错误口令的表现映射为 ErrWrongPassword，其余错误带 ErrArchiveInvalid 上抛。
func (v *Verifier) Verify(ctx context.Context, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := v.try(password)
	switch {
	case err == nil:
		return nil
	case isWrongKey(err), v.sealed && st == stageHeader:
		return contract.ErrWrongPassword
	}
	return fmt.Errorf("rar: %w: %w", contract.ErrArchiveInvalid, err)
}
