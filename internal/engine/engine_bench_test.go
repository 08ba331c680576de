package engine

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"rapidrar/plugins/backend/mock"
	"rapidrar/plugins/checkpoint/memory"
	"rapidrar/plugins/space/mask"
)

// BenchmarkRun 测试完整搜索（物化、校验、顺序提交、检查点）的吞吐；mock 后端无命中。
func BenchmarkRun(b *testing.B) {
	sp, err := mask.New("?l?d?d?d?d")
	if err != nil {
		b.Fatalf("space: %v", err)
	}
	total, _ := sp.Size()
	for _, c := range []int{1, runtime.NumCPU()} {
		b.Run(fmt.Sprintf("C=%d", c), func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				comp := Components{Space: sp, Backend: mock.New(mock.Options{}), Store: memory.New()}
				cr, err := New(comp, Settings{BatchSize: 4096, Concurrency: c}, nil)
				if err != nil {
					b.Fatalf("new: %v", err)
				}
				out, err := cr.Run(ctx, nil)
				if err != nil || out.Attempts != total {
					b.Fatalf("运行失败: %+v %v", out, err)
				}
			}
			b.ReportMetric(float64(total)*float64(b.N)/b.Elapsed().Seconds(), "cand/s")
		})
	}
}
