package radix

import (
	"fmt"
	"math/bits"

	"rapidrar/pkg/contract"
)

// 混合基数索引器：扁平索引 <-> 位置向量（最高位在前）。
// 所有算术在 uint64 内完成，溢出即返回 ErrSpaceTooLarge，绝不回绕。

// Mul 为带溢出检查的乘法。
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("radix: %d*%d: %w", a, b, contract.ErrSpaceTooLarge)
	}
	return lo, nil
}

// Add 为带溢出检查的加法。
func Add(a, b uint64) (uint64, error) {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("radix: %d+%d: %w", a, b, contract.ErrSpaceTooLarge)
	}
	return s, nil
}

// Pow 计算 base^exp；exp=0 得 1。
func Pow(base uint64, exp int) (uint64, error) {
	if exp < 0 {
		return 0, fmt.Errorf("radix: negative exponent %d: %w", exp, contract.ErrInvalidAlphabet)
	}
	out := uint64(1)
	for i := 0; i < exp; i++ {
		v, err := Mul(out, base)
		if err != nil {
			return 0, err
		}
		out = v
	}
	return out, nil
}

// Total 返回 ∏L；空 L 为 1（唯一索引 0 对应空向量）。
func Total(L []int) (uint64, error) {
	out := uint64(1)
	for i, l := range L {
		if l <= 0 {
			return 0, fmt.Errorf("radix: position %d size %d: %w", i, l, contract.ErrInvalidAlphabet)
		}
		v, err := Mul(out, uint64(l))
		if err != nil {
			return 0, err
		}
		out = v
	}
	return out, nil
}

// Decode 将 idx 分解为位置向量。dst 容量足够时复用。
func Decode(idx uint64, L []int, dst []int) ([]int, error) {
	total, err := Total(L)
	if err != nil {
		return nil, err
	}
	if idx >= total {
		return nil, fmt.Errorf("radix: index %d >= %d: %w", idx, total, contract.ErrRangeOutOfBounds)
	}
	if cap(dst) < len(L) {
		dst = make([]int, len(L))
	}
	dst = dst[:len(L)]
	// 从最低位向前取模
	for i := len(L) - 1; i >= 0; i-- {
		l := uint64(L[i])
		dst[i] = int(idx % l)
		idx /= l
	}
	return dst, nil
}

// Encode 为 Decode 的逆：index = index*l_i + v_i。
func Encode(v []int, L []int) (uint64, error) {
	if len(v) != len(L) {
		return 0, fmt.Errorf("radix: vector length %d != %d: %w", len(v), len(L), contract.ErrRangeOutOfBounds)
	}
	var idx uint64
	for i, d := range v {
		if L[i] <= 0 {
			return 0, fmt.Errorf("radix: position %d size %d: %w", i, L[i], contract.ErrInvalidAlphabet)
		}
		if d < 0 || d >= L[i] {
			return 0, fmt.Errorf("radix: digit %d at %d outside [0,%d): %w", d, i, L[i], contract.ErrRangeOutOfBounds)
		}
		m, err := Mul(idx, uint64(L[i]))
		if err != nil {
			return 0, err
		}
		if idx, err = Add(m, uint64(d)); err != nil {
			return 0, err
		}
	}
	return idx, nil
}

// Next 将 v 原地加一（里程表进位）。回绕到全零时返回 false。
func Next(v []int, L []int) bool {
	for i := len(v) - 1; i >= 0; i-- {
		v[i]++
		if v[i] < L[i] {
			return true
		}
		v[i] = 0
	}
	return false
}
