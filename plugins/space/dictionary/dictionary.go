package dictionary

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"rapidrar/pkg/contract"
)

// Options 为字典空间参数。
type Options struct {
	// Roots 为字典文件/目录；["-"] 表示 STDIN（不可回放）。
	Roots []string `json:"roots"`
	// Suffixes 为每个词追加的后缀，展开顺序：原词、原词+s1、原词+s2…
	Suffixes []string `json:"suffixes"`
}

// Space 为流式字典空间，单位为源行。
// 多个源按 Reader 的稳定顺序首尾相接，行号全局连续。
// Materialize 需按顺序调用；向后跳转会重新打开源并跳过已消费的行。
type Space struct {
	reader   contract.Reader
	roots    []string
	suffixes []string
	fp       string

	mu     sync.Mutex
	br     *bufio.Reader
	pr     *io.PipeReader
	cancel context.CancelFunc
	next   uint64
	eof    bool
	opened bool
}

var (
	_ contract.Space     = (*Space)(nil)
	_ contract.Estimator = (*Space)(nil)
)

// New 校验源可达后构造空间；源不存在返回 ErrSourceUnavailable。
func New(r contract.Reader, opts Options) (*Space, error) {
	if r == nil {
		return nil, fmt.Errorf("dictionary: nil reader: %w", contract.ErrSourceUnavailable)
	}
	roots := append([]string(nil), opts.Roots...)
	if len(roots) == 0 {
		roots = []string{"-"}
	}
	for _, root := range roots {
		if root == "-" {
			continue
		}
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("dictionary: %w: %w", contract.ErrSourceUnavailable, err)
		}
	}
	h := sha256.New()
	for _, root := range roots {
		_, _ = io.WriteString(h, string(contract.NormalizeFileID(root))+"\x00")
	}
	_, _ = io.WriteString(h, "\x01")
	for _, s := range opts.Suffixes {
		_, _ = io.WriteString(h, s+"\x00")
	}
	return &Space{
		reader:   r,
		roots:    roots,
		suffixes: append([]string(nil), opts.Suffixes...),
		fp:       fmt.Sprintf("dictionary|%d|%x", len(opts.Suffixes), h.Sum(nil)[:8]),
	}, nil
}

func (s *Space) Mode() contract.Mode   { return contract.ModeDictionary }
func (s *Space) Fingerprint() string   { return s.fp }
func (s *Space) Size() (uint64, error) { return 0, contract.ErrSizeUnknown }

// Expand 返回 word 的全部候选：原词在前，随后按后缀顺序。
func Expand(word string, suffixes []string) []string {
	out := make([]string, 0, 1+len(suffixes))
	out = append(out, word)
	for _, sfx := range suffixes {
		out = append(out, word+sfx)
	}
	return out
}

func (s *Space) stdin() bool { return len(s.roots) == 1 && s.roots[0] == "-" }

// open 启动 Reader 遍历，将各文件字节首尾相接写入管道；文件末尾缺换行时补齐。
func (s *Space) open() error {
	if s.opened && s.stdin() {
		return fmt.Errorf("dictionary: stdin cannot be rewound: %w", contract.ErrSourceUnavailable)
	}
	s.closeLocked()
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	go func() {
		err := s.reader.Iterate(ctx, s.roots, func(_ contract.FileID, rc io.ReadCloser) error {
			defer rc.Close()
			tw := &tailWriter{w: pw}
			if _, err := io.Copy(tw, rc); err != nil {
				return err
			}
			if tw.n > 0 && tw.last != '\n' {
				_, err := pw.Write([]byte{'\n'})
				return err
			}
			return nil
		})
		_ = pw.CloseWithError(err)
	}()
	s.pr, s.cancel = pr, cancel
	s.br = bufio.NewReaderSize(pr, 64*1024)
	s.next, s.eof, s.opened = 0, false, true
	return nil
}

// readLine 读取下一行（不含行尾）；ok=false 表示已到末尾。
func (s *Space) readLine() (string, bool, error) {
	if s.eof {
		return "", false, nil
	}
	line, err := s.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true
			if line == "" {
				return "", false, nil
			}
		} else {
			return "", false, fmt.Errorf("dictionary: %w: %w", contract.ErrSourceUnavailable, err)
		}
	}
	s.next++
	return strings.TrimRight(line, "\r\n"), true, nil
}

// Materialize 消费 [start,start+count) 行并展开为候选；空行只占行号。
func (s *Space) Materialize(ctx context.Context, start, count uint64) (contract.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened || start < s.next {
		if err := s.open(); err != nil {
			return contract.Batch{}, err
		}
	}
	for s.next < start {
		if _, ok, err := s.readLine(); err != nil {
			return contract.Batch{}, err
		} else if !ok {
			return contract.Batch{Range: contract.Range{Start: start, End: start}, EOF: true}, nil
		}
		if s.next&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return contract.Batch{}, err
			}
		}
	}
	b := contract.Batch{Range: contract.Range{Start: start, End: start}}
	for i := uint64(0); i < count; i++ {
		if i&0xff == 0 {
			if err := ctx.Err(); err != nil {
				return contract.Batch{}, err
			}
		}
		line, ok, err := s.readLine()
		if err != nil {
			return contract.Batch{}, err
		}
		if !ok {
			b.EOF = true
			break
		}
		b.Range.End = s.next
		if word := strings.TrimSpace(line); word != "" {
			b.Candidates = append(b.Candidates, Expand(word, s.suffixes)...)
		}
	}
	if s.eof {
		b.EOF = true
	}
	return b, nil
}

// CursorAt 以已消费行数编码。
func (s *Space) CursorAt(pos uint64) contract.Cursor {
	return contract.Cursor{Mode: contract.ModeDictionary, Line: pos}
}

// Seek 仅校验模式；超出源长度的行号在运行中表现为立即读尽。
func (s *Space) Seek(c contract.Cursor) (uint64, error) {
	if c.Mode != contract.ModeDictionary {
		return 0, fmt.Errorf("dictionary: cursor mode %q: %w", c.Mode, contract.ErrCheckpointMismatch)
	}
	return c.Line, nil
}

// Estimate 统计非空行数 × (1+|suffixes|)，仅供展示；STDIN 无法预读。
func (s *Space) Estimate(ctx context.Context) (uint64, error) {
	if s.stdin() {
		return 0, contract.ErrSizeUnknown
	}
	var words uint64
	err := s.reader.Iterate(ctx, s.roots, func(_ contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			if strings.TrimSpace(sc.Text()) != "" {
				words++
			}
		}
		return sc.Err()
	})
	if err != nil {
		return 0, err
	}
	return words * uint64(1+len(s.suffixes)), nil
}

// Close 终止后台遍历并释放管道。
func (s *Space) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Space) closeLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.pr != nil {
		_ = s.pr.Close()
		s.pr = nil
	}
}

// tailWriter 记录最后写出的字节，用于判断文件是否以换行结尾。
type tailWriter struct {
	w    io.Writer
	n    int64
	last byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.n += int64(n)
		t.last = p[n-1]
	}
	return n, err
}
