package mask

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"rapidrar/internal/charset"
	"rapidrar/internal/radix"
	"rapidrar/pkg/contract"
)

// classes: ?<token> 到符号类的映射。
var classes = map[rune]string{
	'l': charset.Lower,
	'u': charset.Upper,
	'd': charset.Digits,
	's': charset.Special,
	'h': charset.Hex,
	'a': charset.All,
}

// Parse 将掩码解析为逐位字母表。
// 语法：?l ?u ?d ?s ?h ?a 为命名类；?? 为字面量 '?'；其余字符为字面量。
func Parse(mask string) ([][]rune, error) {
	if mask == "" {
		return nil, fmt.Errorf("mask: empty: %w", contract.ErrInvalidMask)
	}
	rs := []rune(mask)
	var out [][]rune
	for i := 0; i < len(rs); i++ {
		if rs[i] != '?' {
			out = append(out, []rune{rs[i]})
			continue
		}
		if i+1 >= len(rs) {
			return nil, fmt.Errorf("mask: unterminated class at %d: %w", i, contract.ErrInvalidMask)
		}
		i++
		if rs[i] == '?' {
			out = append(out, []rune{'?'})
			continue
		}
		cls, ok := classes[rs[i]]
		if !ok {
			return nil, fmt.Errorf("mask: unknown class ?%c at %d: %w", rs[i], i-1, contract.ErrInvalidMask)
		}
		out = append(out, []rune(cls))
	}
	return out, nil
}

// Space 为掩码空间：单段，按逐位混合基数枚举；字面量位基数为 1。
type Space struct {
	mask      string
	positions [][]rune
	basis     []int
	total     uint64
	fp        string
}

var _ contract.Space = (*Space)(nil)

// New 解析掩码并计算总数。
func New(mask string) (*Space, error) {
	pos, err := Parse(mask)
	if err != nil {
		return nil, err
	}
	basis := make([]int, len(pos))
	for i, p := range pos {
		basis[i] = len(p)
	}
	total, err := radix.Total(basis)
	if err != nil {
		return nil, fmt.Errorf("mask %q: %w", mask, err)
	}
	sum := sha256.Sum256([]byte(mask))
	return &Space{
		mask:      mask,
		positions: pos,
		basis:     basis,
		total:     total,
		fp:        fmt.Sprintf("mask|%d|%x", len(pos), sum[:8]),
	}, nil
}

func (s *Space) Mode() contract.Mode   { return contract.ModeMask }
func (s *Space) Fingerprint() string   { return s.fp }
func (s *Space) Size() (uint64, error) { return s.total, nil }
func (s *Space) Mask() string          { return s.mask }

// Materialize 物化 [start,start+count)。
func (s *Space) Materialize(ctx context.Context, start, count uint64) (contract.Batch, error) {
	if start > s.total || count > s.total-start {
		return contract.Batch{}, fmt.Errorf("mask: [%d,+%d) of %d: %w", start, count, s.total, contract.ErrRangeOutOfBounds)
	}
	b := contract.Batch{Range: contract.Range{Start: start, End: start + count}}
	if count == 0 {
		return b, nil
	}
	v, err := radix.Decode(start, s.basis, nil)
	if err != nil {
		return contract.Batch{}, err
	}
	b.Candidates = make([]string, 0, count)
	var sb strings.Builder
	for i := uint64(0); i < count; i++ {
		if i&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return contract.Batch{}, err
			}
		}
		sb.Reset()
		for p, d := range v {
			sb.WriteRune(s.positions[p][d])
		}
		b.Candidates = append(b.Candidates, sb.String())
		radix.Next(v, s.basis)
	}
	return b, nil
}

// CursorAt 同时给出扁平索引与位置向量；pos==Size 时仅有索引。
func (s *Space) CursorAt(pos uint64) contract.Cursor {
	c := contract.Cursor{Mode: contract.ModeMask, Offset: pos}
	if pos < s.total {
		c.Position, _ = radix.Decode(pos, s.basis, nil)
	}
	return c
}

// Seek 优先使用位置向量；向量与索引同时存在时必须一致。
func (s *Space) Seek(c contract.Cursor) (uint64, error) {
	if c.Mode != contract.ModeMask {
		return 0, fmt.Errorf("mask: cursor mode %q: %w", c.Mode, contract.ErrCheckpointMismatch)
	}
	if len(c.Position) == 0 {
		if c.Offset > s.total {
			return 0, fmt.Errorf("mask: cursor offset %d > %d: %w", c.Offset, s.total, contract.ErrCheckpointMismatch)
		}
		return c.Offset, nil
	}
	if len(c.Position) != len(s.basis) {
		return 0, fmt.Errorf("mask: cursor width %d != %d: %w", len(c.Position), len(s.basis), contract.ErrCheckpointMismatch)
	}
	idx, err := radix.Encode(c.Position, s.basis)
	if err != nil {
		return 0, fmt.Errorf("mask: %v: %w", err, contract.ErrCheckpointMismatch)
	}
	if c.Offset != 0 && c.Offset != idx {
		return 0, fmt.Errorf("mask: cursor offset %d disagrees with position %d: %w", c.Offset, idx, contract.ErrCheckpointMismatch)
	}
	return idx, nil
}
