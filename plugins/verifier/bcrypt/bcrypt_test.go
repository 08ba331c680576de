package bcrypt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	xbcrypt "golang.org/x/crypto/bcrypt"

	"rapidrar/pkg/contract"
)

// UT-BCR-01: 文件与内联哈希
func TestVerify(t *testing.T) {
	h, err := xbcrypt.GenerateFromPassword([]byte("ab1"), xbcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	p := filepath.Join(t.TempDir(), "hash.txt")
	_ = os.WriteFile(p, append(h, '\n'), 0o600)
	for _, c := range []struct {
		name string
		path string
		opts Options
	}{
		{"file", p, Options{}},
		{"inline", "", Options{Hash: string(h)}},
	} {
		v, err := New(c.path, c.opts)
		if err != nil {
			t.Fatalf("%s new: %v", c.name, err)
		}
		ctx := context.Background()
		if err := v.Probe(ctx); err != nil {
			t.Fatalf("%s probe: %v", c.name, err)
		}
		if err := v.Verify(ctx, "ab1"); err != nil {
			t.Fatalf("%s 正确口令应通过: %v", c.name, err)
		}
		if err := v.Verify(ctx, "ab2"); !errors.Is(err, contract.ErrWrongPassword) {
			t.Fatalf("%s 应为错误口令: %v", c.name, err)
		}
	}
}

// UT-BCR-02: 非哈希内容
func TestNotHash(t *testing.T) {
	if _, err := New("", Options{Hash: "plaintext"}); !errors.Is(err, contract.ErrArchiveInvalid) {
		t.Fatalf("应为 ArchiveInvalid: %v", err)
	}
	if !IsHash([]byte("$2y$10$abc")) || IsHash([]byte("$1$abc")) {
		t.Fatalf("前缀识别错误")
	}
}
