package bruteforce

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"rapidrar/internal/charset"
	"rapidrar/internal/radix"
	"rapidrar/pkg/contract"
)

// Options 为暴力空间参数。
type Options struct {
	// Charset 为空时使用 charset.Default。
	Charset   string `json:"charset"`
	MinLength int    `json:"min_length"`
	MaxLength int    `json:"max_length"`
}

// Space 为按长度分段的不相交并：先短后长，每段为 |alphabet|^length。
type Space struct {
	alphabet []rune
	min, max int
	// 第 i 段对应长度 min+i
	sizes   []uint64
	offsets []uint64
	total   uint64
	fp      string
}

var _ contract.Space = (*Space)(nil)

// New 校验参数并预计算各长度段的大小与起点。
func New(opts Options) (*Space, error) {
	cs := opts.Charset
	if cs == "" {
		cs = charset.Default
	}
	alpha, err := charset.Alphabet(cs)
	if err != nil {
		return nil, err
	}
	if opts.MinLength < 1 || opts.MaxLength < opts.MinLength {
		return nil, fmt.Errorf("bruteforce: length range [%d,%d]: %w", opts.MinLength, opts.MaxLength, contract.ErrRangeOutOfBounds)
	}
	s := &Space{alphabet: alpha, min: opts.MinLength, max: opts.MaxLength}
	for l := s.min; l <= s.max; l++ {
		n, err := radix.Pow(uint64(len(alpha)), l)
		if err != nil {
			return nil, fmt.Errorf("bruteforce: length %d: %w", l, err)
		}
		s.offsets = append(s.offsets, s.total)
		s.sizes = append(s.sizes, n)
		if s.total, err = radix.Add(s.total, n); err != nil {
			return nil, fmt.Errorf("bruteforce: lengths %d..%d: %w", s.min, l, err)
		}
	}
	sum := sha256.Sum256([]byte(cs))
	s.fp = fmt.Sprintf("bruteforce|%d-%d|%x", s.min, s.max, sum[:8])
	return s, nil
}

func (s *Space) Mode() contract.Mode      { return contract.ModeBruteforce }
func (s *Space) Fingerprint() string      { return s.fp }
func (s *Space) Size() (uint64, error)    { return s.total, nil }
func (s *Space) Alphabet() string         { return string(s.alphabet) }
func (s *Space) Lengths() (min, max int)  { return s.min, s.max }

// segment 返回包含 pos 的长度段序号。
func (s *Space) segment(pos uint64) int {
	for i := len(s.offsets) - 1; i >= 0; i-- {
		if pos >= s.offsets[i] {
			return i
		}
	}
	return 0
}

// Materialize 物化 [start,start+count)；跨长度边界时按段拆分。
func (s *Space) Materialize(ctx context.Context, start, count uint64) (contract.Batch, error) {
	if start > s.total || count > s.total-start {
		return contract.Batch{}, fmt.Errorf("bruteforce: [%d,+%d) of %d: %w", start, count, s.total, contract.ErrRangeOutOfBounds)
	}
	b := contract.Batch{Range: contract.Range{Start: start, End: start + count}}
	if count == 0 {
		return b, nil
	}
	b.Candidates = make([]string, 0, count)
	pos, end := start, start+count
	for pos < end {
		seg := s.segment(pos)
		length := s.min + seg
		segEnd := min(end, s.offsets[seg]+s.sizes[seg])
		basis := make([]int, length)
		for i := range basis {
			basis[i] = len(s.alphabet)
		}
		v, err := radix.Decode(pos-s.offsets[seg], basis, nil)
		if err != nil {
			return contract.Batch{}, err
		}
		var sb strings.Builder
		for ; pos < segEnd; pos++ {
			if pos&0xfff == 0 {
				if err := ctx.Err(); err != nil {
					return contract.Batch{}, err
				}
			}
			sb.Reset()
			for _, d := range v {
				sb.WriteRune(s.alphabet[d])
			}
			b.Candidates = append(b.Candidates, sb.String())
			radix.Next(v, basis)
		}
	}
	return b, nil
}

// CursorAt 编码为 (length, offset)；pos==Size 编码为最长段的末尾。
func (s *Space) CursorAt(pos uint64) contract.Cursor {
	if pos >= s.total {
		last := len(s.sizes) - 1
		return contract.Cursor{Mode: contract.ModeBruteforce, Length: s.max, Offset: s.sizes[last]}
	}
	seg := s.segment(pos)
	return contract.Cursor{Mode: contract.ModeBruteforce, Length: s.min + seg, Offset: pos - s.offsets[seg]}
}

// Seek 校验长度落在 [min,max] 且偏移不超过该段大小。
func (s *Space) Seek(c contract.Cursor) (uint64, error) {
	if c.Mode != contract.ModeBruteforce {
		return 0, fmt.Errorf("bruteforce: cursor mode %q: %w", c.Mode, contract.ErrCheckpointMismatch)
	}
	if c.Length < s.min || c.Length > s.max {
		return 0, fmt.Errorf("bruteforce: cursor length %d outside [%d,%d]: %w", c.Length, s.min, s.max, contract.ErrCheckpointMismatch)
	}
	seg := c.Length - s.min
	if c.Offset > s.sizes[seg] {
		return 0, fmt.Errorf("bruteforce: cursor offset %d > %d: %w", c.Offset, s.sizes[seg], contract.ErrCheckpointMismatch)
	}
	return s.offsets[seg] + c.Offset, nil
}
