package bcrypt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	xbcrypt "golang.org/x/crypto/bcrypt"

	"rapidrar/pkg/contract"
)

// Options 允许直接给出哈希，替代读取目标文件。
type Options struct {
	Hash string `json:"hash,omitempty"`
}

// Verifier 比对候选口令与 bcrypt 哈希。
type Verifier struct {
	hash []byte
}

var (
	_ contract.Verifier = (*Verifier)(nil)
	_ contract.Prober   = (*Verifier)(nil)
)

// Prefixes 为可识别的 bcrypt 版本前缀。
var Prefixes = [][]byte{[]byte("$2a$"), []byte("$2b$"), []byte("$2y$")}

// IsHash 判断数据是否以 bcrypt 前缀开头。
func IsHash(b []byte) bool {
	for _, p := range Prefixes {
		if bytes.HasPrefix(b, p) {
			return true
		}
	}
	return false
}

// New 优先使用 Options.Hash；否则读取 path 首行。
func New(path string, opts Options) (*Verifier, error) {
	h := []byte(opts.Hash)
	if len(h) == 0 {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("bcrypt: %w: %w", contract.ErrArchiveInvalid, err)
		}
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			b = b[:i]
		}
		h = bytes.TrimSpace(b)
	}
	if !IsHash(h) {
		return nil, fmt.Errorf("bcrypt: not a bcrypt hash: %w", contract.ErrArchiveInvalid)
	}
	return &Verifier{hash: h}, nil
}

// Probe 校验哈希结构（cost 可解析）。
func (v *Verifier) Probe(ctx context.Context) error {
	if _, err := xbcrypt.Cost(v.hash); err != nil {
		return fmt.Errorf("bcrypt: %w: %w", contract.ErrArchiveInvalid, err)
	}
	return nil
}

func (v *Verifier) Verify(ctx context.Context, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := xbcrypt.CompareHashAndPassword(v.hash, []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, xbcrypt.ErrMismatchedHashAndPassword):
		return contract.ErrWrongPassword
	default:
		return fmt.Errorf("bcrypt: %w: %w", contract.ErrArchiveInvalid, err)
	}
}
