package stress

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"testing"
	"time"

	cfgpkg "rapidrar/internal/config"
	"rapidrar/internal/diag"
	"rapidrar/internal/engine"
)

// baseConfig 构造可运行的最小配置：mock 后端 + 6 位数字掩码。
func baseConfig(dir, password string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Mask = "?d?d?d?d?d?d"
	cfg.BatchSize = 5000
	cfg.Checkpoint = filepath.Join(dir, "checkpoint.json")
	cfg.Logging.Level = "error"
	cfg.Components.Backend = "mock"
	opts, _ := json.Marshal(map[string]any{"passwords": []string{password}})
	cfg.Options.Backend = opts
	return cfg
}

// runEngine 执行完整搜索。
func runEngine(cfg cfgpkg.Config) (engine.Outcome, error) {
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return engine.Outcome{}, err
	}
	c, err := engine.New(comp, set, nil)
	if err != nil {
		return engine.Outcome{}, err
	}
	return c.Run(context.Background(), nil)
}

// TestStress 在不同并发度下运行搜索并记录延迟与吞吐统计；结果必须与串行一致。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("short 模式跳过压力测试")
	}
	const password = "987654"
	levels := []int{1, 8, 16, 32, 64}
	for _, conc := range levels {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			const runs = 3
			successes := 0
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				cfg := baseConfig(t.TempDir(), password)
				cfg.Concurrency = conc
				start := time.Now()
				out, err := runEngine(cfg)
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				if out.Password != password || out.Attempts != 987655 {
					t.Errorf("run %d: 结果错误 %+v", i, out)
					continue
				}
				successes++
				latencies = append(latencies, dur)
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			p95 := latencies[idx]
			t.Logf("并发%d 成功率%.2f 平均%v 95%%延迟%v 速度%s", conc, float64(successes)/float64(runs), avg, p95, diag.FormatSpeed(987655, avg))
		})
	}
}
