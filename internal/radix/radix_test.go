package radix

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rapidrar/pkg/contract"
)

// UT-RDX-01: 往返一致且单射
func TestRoundTripInjective(t *testing.T) {
	bases := [][]int{
		{2, 2},
		{10, 10, 10},
		{1, 26, 1, 10},
		{3, 1, 4, 1, 5},
		{7},
	}
	for _, L := range bases {
		total, err := Total(L)
		if err != nil {
			t.Fatalf("Total(%v): %v", L, err)
		}
		seen := make(map[string]bool, total)
		for idx := uint64(0); idx < total; idx++ {
			v, err := Decode(idx, L, nil)
			if err != nil {
				t.Fatalf("Decode(%d,%v): %v", idx, L, err)
			}
			key := fmt.Sprint(v)
			if seen[key] {
				t.Fatalf("向量重复: idx=%d v=%v", idx, v)
			}
			seen[key] = true
			back, err := Encode(v, L)
			if err != nil || back != idx {
				t.Fatalf("往返失败: %d -> %v -> %d (%v)", idx, v, back, err)
			}
		}
	}
}

// UT-RDX-02: 最高位在前的排序
func TestDecodeOrder(t *testing.T) {
	got, err := Decode(5, []int{2, 3}, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
		t.Fatalf("顺序错误 (-want +got):\n%s", diff)
	}
}

// UT-RDX-03: 空基数与零基数
func TestEdgeBases(t *testing.T) {
	total, err := Total(nil)
	if err != nil || total != 1 {
		t.Fatalf("空 L 应为 1: %d %v", total, err)
	}
	v, err := Decode(0, nil, nil)
	if err != nil || len(v) != 0 {
		t.Fatalf("空 L 索引 0 应得空向量: %v %v", v, err)
	}
	if _, err := Total([]int{3, 0}); !errors.Is(err, contract.ErrInvalidAlphabet) {
		t.Fatalf("零基数应为 InvalidAlphabet: %v", err)
	}
	if _, err := Decode(4, []int{2, 2}, nil); !errors.Is(err, contract.ErrRangeOutOfBounds) {
		t.Fatalf("越界应为 RangeOutOfBounds: %v", err)
	}
	if _, err := Encode([]int{2}, []int{2}); !errors.Is(err, contract.ErrRangeOutOfBounds) {
		t.Fatalf("越界数字应报错: %v", err)
	}
	if _, err := Encode([]int{1}, []int{2, 2}); !errors.Is(err, contract.ErrRangeOutOfBounds) {
		t.Fatalf("长度不符应报错: %v", err)
	}
}

// UT-RDX-04: 溢出快速失败
func TestOverflow(t *testing.T) {
	if _, err := Pow(95, 12); !errors.Is(err, contract.ErrSpaceTooLarge) {
		t.Fatalf("95^12 应溢出: %v", err)
	}
	if v, err := Pow(10, 4); err != nil || v != 10000 {
		t.Fatalf("10^4: %d %v", v, err)
	}
	if _, err := Add(math.MaxUint64, 1); !errors.Is(err, contract.ErrSpaceTooLarge) {
		t.Fatalf("加法溢出应报错: %v", err)
	}
	if _, err := Mul(math.MaxUint64/2+1, 2); !errors.Is(err, contract.ErrSpaceTooLarge) {
		t.Fatalf("乘法溢出应报错: %v", err)
	}
}

// UT-RDX-05: 里程表与 Decode 一致
func TestNextMatchesDecode(t *testing.T) {
	L := []int{3, 1, 2}
	v := make([]int, len(L))
	total, _ := Total(L)
	for idx := uint64(0); idx < total; idx++ {
		want, _ := Decode(idx, L, nil)
		if diff := cmp.Diff(want, v); diff != "" {
			t.Fatalf("idx=%d (-want +got):\n%s", idx, diff)
		}
		more := Next(v, L)
		if more != (idx+1 < total) {
			t.Fatalf("idx=%d 回绕标志错误", idx)
		}
	}
}
