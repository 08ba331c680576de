package contract

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// UT-CON-01: 路径规范化
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"本地分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"父目录折叠", "./x/../y", "y"},
		{"空路径", "", "."},
		{"Windows路径", "C:\\Users\\test\\rockyou.txt", "C:/Users/test/rockyou.txt"},
		{"多余斜杠", "lists//common///top.txt", "lists/common/top.txt"},
		{"绝对路径", "/usr/share/wordlists/../dict/a.lst", "/usr/share/dict/a.lst"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeFileID(tc.input); string(got) != tc.want {
				t.Fatalf("%q -> %q, 预期 %q", tc.input, got, tc.want)
			}
		})
	}
}

// UT-CON-02: 区间长度与包含判定
func TestRange(t *testing.T) {
	r := Range{Start: 10, End: 15}
	if r.Len() != 5 {
		t.Fatalf("长度错误: %d", r.Len())
	}
	if !r.Contains(10) || !r.Contains(14) || r.Contains(15) || r.Contains(9) {
		t.Fatalf("包含判定错误")
	}
	if (Range{Start: 5, End: 3}).Len() != 0 {
		t.Fatalf("倒置区间应为空")
	}
}

// UT-CON-03: 模式合法性
func TestModeValid(t *testing.T) {
	for _, m := range []Mode{ModeBruteforce, ModeMask, ModeDictionary} {
		if !m.Valid() {
			t.Fatalf("%s 应合法", m)
		}
	}
	if Mode("hybrid").Valid() || Mode("").Valid() {
		t.Fatalf("未知模式应非法")
	}
}

// UT-CON-04: 哨兵错误可被包装后识别
func TestSentinelsWrap(t *testing.T) {
	all := []error{
		ErrInvalidAlphabet, ErrInvalidMask, ErrSpaceTooLarge, ErrRangeOutOfBounds,
		ErrInvalidWorkerCount, ErrSourceUnavailable, ErrCheckpointMismatch,
		ErrBackendInit, ErrBackendCheck, ErrArchiveInvalid, ErrWrongPassword, ErrSizeUnknown,
	}
	for i, e := range all {
		w := fmt.Errorf("layer: %w", e)
		if !errors.Is(w, e) {
			t.Fatalf("包装后无法识别: %v", e)
		}
		for j, o := range all {
			if i != j && errors.Is(e, o) {
				t.Fatalf("哨兵不应互相匹配: %v vs %v", e, o)
			}
		}
	}
}
