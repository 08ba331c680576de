package partition

import (
	"fmt"

	"rapidrar/pkg/contract"
)

// Partition 将 [0,total) 切为 n 段连续、互不重叠的区间。
// 每段 floor(total/n)，前 total mod n 段各多 1；结果只取决于 (total, n)。
func Partition(total uint64, n int) ([]contract.Range, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partition: n=%d: %w", n, contract.ErrInvalidWorkerCount)
	}
	p := Plan{Total: total, N: uint64(n)}
	out := make([]contract.Range, n)
	for i := range out {
		out[i] = p.At(uint64(i))
	}
	return out, nil
}

// Resume 按游标裁剪分区：整段低于游标的区间被跳过，含游标的区间起点前移到游标。
// 从不回退起点。
func Resume(ranges []contract.Range, cursor uint64) []contract.Range {
	out := make([]contract.Range, 0, len(ranges))
	for _, r := range ranges {
		if r.End <= cursor {
			continue
		}
		if r.Start < cursor {
			r.Start = cursor
		}
		out = append(out, r)
	}
	return out
}

// Plan 为惰性分区视图：O(1) 取第 i 段、定位某位置所在段，巨大空间无需物化区间表。
type Plan struct {
	Total uint64
	N     uint64
}

// NewPlan 按每段上限 maxPer 计算段数 ceil(total/maxPer)，各段长度不超过 maxPer。
func NewPlan(total uint64, maxPer int) (Plan, error) {
	if maxPer <= 0 {
		return Plan{}, fmt.Errorf("partition: batch size %d: %w", maxPer, contract.ErrInvalidWorkerCount)
	}
	m := uint64(maxPer)
	n := total / m
	if total%m != 0 {
		n++
	}
	return Plan{Total: total, N: n}, nil
}

// At 返回第 i 段；i 越界返回空区间 [Total,Total)。
func (p Plan) At(i uint64) contract.Range {
	if p.N == 0 || i >= p.N {
		return contract.Range{Start: p.Total, End: p.Total}
	}
	q, r := p.Total/p.N, p.Total%p.N
	start := i*q + min(i, r)
	size := q
	if i < r {
		size++
	}
	return contract.Range{Start: start, End: start + size}
}

// Locate 返回包含 pos 的段序号；pos>=Total 返回 N。
func (p Plan) Locate(pos uint64) uint64 {
	if p.N == 0 || pos >= p.Total {
		return p.N
	}
	q, r := p.Total/p.N, p.Total%p.N
	// 前 r 段长度为 q+1
	head := r * (q + 1)
	if pos < head {
		return pos / (q + 1)
	}
	return r + (pos-head)/q
}
