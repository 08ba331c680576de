package charset

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rapidrar/pkg/contract"
)

// UT-CHS-01: 组合顺序固定
func TestCompose(t *testing.T) {
	got, err := Compose([]string{"digit", "lower"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if got != Lower+Digits {
		t.Fatalf("顺序错误: %q", got)
	}
	if d, _ := Compose(nil); d != Default {
		t.Fatalf("空类应返回默认字符集")
	}
	if a, _ := Compose([]string{"all"}); a != All {
		t.Fatalf("all 展开错误: %q", a)
	}
	if h, _ := Compose([]string{"digits", "hex"}); h != Digits+"abcdef" {
		t.Fatalf("hex 与 digit 应去重: %q", h)
	}
	if _, err := Compose([]string{"emoji"}); !errors.Is(err, contract.ErrInvalidAlphabet) {
		t.Fatalf("未知类应报错: %v", err)
	}
}

// UT-CHS-02: 字母表校验
func TestAlphabet(t *testing.T) {
	if _, err := Alphabet(""); !errors.Is(err, contract.ErrInvalidAlphabet) {
		t.Fatalf("空字母表应报错: %v", err)
	}
	if _, err := Alphabet("abca"); !errors.Is(err, contract.ErrInvalidAlphabet) {
		t.Fatalf("重复符号应报错: %v", err)
	}
	rs, err := Alphabet("αβγ")
	if err != nil || len(rs) != 3 {
		t.Fatalf("多字节符号应按 rune 计数: %v %d", err, len(rs))
	}
}

// UT-CHS-03: 年份后缀
func TestSuffixes(t *testing.T) {
	got := Suffixes([]string{"!", "2021", ""}, true)
	want := []string{"!", "2021", "2020", "2022", "2023", "2024", "2025"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("后缀合并错误 (-want +got):\n%s", diff)
	}
	if Suffixes(nil, false) != nil {
		t.Fatalf("无后缀应为 nil")
	}
	if Dedup("aabbca") != "abc" {
		t.Fatalf("Dedup 错误")
	}
}
