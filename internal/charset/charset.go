package charset

import (
	"fmt"
	"strconv"
	"strings"

	"rapidrar/pkg/contract"
)

// 命名符号类。
const (
	Lower   = "abcdefghijklmnopqrstuvwxyz"
	Upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits  = "0123456789"
	Special = "@#!$%^"
	Hex     = "0123456789abcdef"
	All     = Lower + Upper + Digits + Special
)

// Default 为未显式指定字符集时的暴力字母表。
const Default = All

// 年份后缀区间（闭区间）。
const (
	FirstYear = 2020
	LastYear  = 2025
)

// byName: 配置中 charset_classes 使用的名称。
var byName = map[string]string{
	"lower":   Lower,
	"upper":   Upper,
	"digit":   Digits,
	"digits":  Digits,
	"special": Special,
	"hex":     Hex,
	"all":     All,
}

// classOrder 为组合时的固定拼接顺序，与声明顺序无关。
var classOrder = []string{"lower", "upper", "digit", "special", "hex"}

// Compose 依名称组合字母表并去重；names 为空返回 Default。
func Compose(names []string) (string, error) {
	if len(names) == 0 {
		return Default, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "digits" {
			key = "digit"
		}
		if _, ok := byName[key]; !ok {
			return "", fmt.Errorf("charset: unknown class %q: %w", n, contract.ErrInvalidAlphabet)
		}
		if key == "all" {
			for _, k := range []string{"lower", "upper", "digit", "special"} {
				want[k] = true
			}
			continue
		}
		want[key] = true
	}
	var b strings.Builder
	for _, k := range classOrder {
		if want[k] {
			b.WriteString(byName[k])
		}
	}
	return Dedup(b.String()), nil
}

// Dedup 去除重复符号，保留首次出现的顺序。
func Dedup(s string) string {
	seen := make(map[rune]bool, len(s))
	var b strings.Builder
	for _, r := range s {
		if seen[r] {
			continue
		}
		seen[r] = true
		b.WriteRune(r)
	}
	return b.String()
}

// Alphabet 校验并返回符号序列：非空且符号唯一。
func Alphabet(s string) ([]rune, error) {
	rs := []rune(s)
	if len(rs) == 0 {
		return nil, fmt.Errorf("charset: empty alphabet: %w", contract.ErrInvalidAlphabet)
	}
	seen := make(map[rune]bool, len(rs))
	for _, r := range rs {
		if seen[r] {
			return nil, fmt.Errorf("charset: duplicate symbol %q: %w", r, contract.ErrInvalidAlphabet)
		}
		seen[r] = true
	}
	return rs, nil
}

// Years 返回 FirstYear..LastYear 的后缀标记。
func Years() []string {
	out := make([]string, 0, LastYear-FirstYear+1)
	for y := FirstYear; y <= LastYear; y++ {
		out = append(out, strconv.Itoa(y))
	}
	return out
}

// Suffixes 合并显式后缀与年份后缀，去重且保序。
func Suffixes(explicit []string, useYears bool) []string {
	all := append([]string(nil), explicit...)
	if useYears {
		all = append(all, Years()...)
	}
	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, s := range all {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
