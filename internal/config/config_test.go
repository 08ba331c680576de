package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rapidrar/pkg/contract"
	"rapidrar/plugins/space/dictionary"
	"rapidrar/plugins/space/mask"
)

// UT-CFG-01: 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Mask != "?d?d?d" || cfg.BatchSize != 50 || cfg.Components.Backend != "mock" {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if cfg.Throttle.BatchesPerMin != 600 || cfg.Logging.Level != "debug" {
		t.Fatalf("嵌套字段映射错误: %+v", cfg)
	}
	if err := Validate(Merge(Defaults(), cfg)); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// UT-CFG-02: YAML 与 JSON 解析结果一致（含 options 原样子树）
func TestLoadYAMLMatchesJSON(t *testing.T) {
	js, err := Load("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载 JSON 失败: %v", err)
	}
	ym, err := Load("../../testdata/config/basic.yaml", nil)
	if err != nil {
		t.Fatalf("加载 YAML 失败: %v", err)
	}
	var a, b any
	_ = json.Unmarshal(js.Options.Backend, &a)
	_ = json.Unmarshal(ym.Options.Backend, &b)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("options.backend 不一致 (-json +yaml):\n%s", diff)
	}
	js.Options, ym.Options = Options{}, Options{}
	if diff := cmp.Diff(js, ym); diff != "" {
		t.Fatalf("配置不一致 (-json +yaml):\n%s", diff)
	}
}

// UT-CFG-03: 含非法字段
func TestLoadUnknown(t *testing.T) {
	if _, err := LoadJSON("", []byte(`{"unknown":1}`)); err == nil {
		t.Fatalf("JSON 应当返回错误")
	}
	if _, err := LoadYAML([]byte("unknown: 1\n")); err == nil {
		t.Fatalf("YAML 应当返回错误")
	}
	if _, err := LoadYAML([]byte("")); err == nil {
		t.Fatalf("空 YAML 应当返回错误")
	}
	if _, err := Load("", nil); err == nil {
		t.Fatalf("无来源应当返回错误")
	}
}

// UT-CFG-04: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"RAPIDRAR_ARCHIVE=a.rar",
		"RAPIDRAR_DICTIONARY=w1.txt, w2.txt",
		"RAPIDRAR_CONCURRENCY=3",
		"RAPIDRAR_MAX_RETRIES=0",
		"RAPIDRAR_USE_YEARS=true",
		"RAPIDRAR_COMPONENTS_BACKEND=mock",
		`RAPIDRAR_OPTIONS_BACKEND_JSON={"passwords":["x"]}`,
		"RAPIDRAR_THROTTLE_MAX_BATCH=10",
		"OTHER_CONCURRENCY=9",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.Archive != "a.rar" || over.Concurrency != 3 || len(over.Dictionary) != 2 {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if over.MaxRetries != 0 || !over.UseYears || over.Throttle.MaxBatch != 10 {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	got := Merge(Defaults(), over)
	if got.MaxRetries != 0 || got.Components.Backend != "mock" || string(got.Options.Backend) != `{"passwords":["x"]}` {
		t.Fatalf("合并结果不正确: %+v", got)
	}
	if _, err := EnvOverlay([]string{"RAPIDRAR_BATCH_SIZE=many"}); err == nil {
		t.Fatalf("非法数值应返回错误")
	}
	if _, err := EnvOverlay([]string{"RAPIDRAR_RESUME=maybe"}); err == nil {
		t.Fatalf("非法布尔应返回错误")
	}
}

// UT-CFG-05: Merge 保留未覆盖字段；MaxRetries=-1 视为未设置
func TestMergeKeeps(t *testing.T) {
	base := Defaults()
	base.Resume = true
	over := Config{MaxRetries: -1, MaxLength: 4}
	got := Merge(base, over)
	if got.MaxRetries != base.MaxRetries || got.MaxLength != 4 || got.MinLength != 1 || !got.Resume {
		t.Fatalf("合并结果不正确: %+v", got)
	}
}

// 补充覆盖: splitComma、atoi 与 parseBool
func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	if len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	if v, err := atoi("10"); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
	if v, err := parseBool("ON"); err != nil || !v {
		t.Fatalf("parseBool 失败: %v %v", err, v)
	}
}

// 补充覆盖: Defaults 与 cloneRaw
func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	if d.Components.Backend != "cpu" || d.Components.Verifier != "auto" || d.BatchSize != 100000 {
		t.Fatalf("默认值错误: %+v", d)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
}

// UT-CFG-06: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	mockCfg := func() Config {
		c := Defaults()
		c.Components.Backend = "mock"
		return c
	}
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"cpu 缺归档", func(c *Config) { c.Components.Backend = "cpu" }},
		{"未知后端", func(c *Config) { c.Components.Backend = "gpu" }},
		{"未知存储", func(c *Config) { c.Components.Store = "s3" }},
		{"批大小为零", func(c *Config) { c.BatchSize = 0 }},
		{"并发为零", func(c *Config) { c.Concurrency = 0 }},
		{"重试为负", func(c *Config) { c.MaxRetries = -2 }},
		{"长度区间", func(c *Config) { c.MinLength, c.MaxLength = 3, 2 }},
		{"重复字符", func(c *Config) { c.Charset = "aab" }},
		{"未知字符类", func(c *Config) { c.CharsetClasses = []string{"emoji"} }},
		{"非法掩码", func(c *Config) { c.Mask = "?q" }},
		{"未知模式", func(c *Config) { c.Mode = "rainbow" }},
		{"字典为空", func(c *Config) { c.Mode = "dictionary" }},
		{"混用 '-'", func(c *Config) { c.Dictionary = []string{"-", "a"} }},
		{"STDIN 恢复", func(c *Config) { c.Dictionary = []string{"-"}; c.Resume = true }},
		{"单批超限", func(c *Config) { c.Throttle.MaxBatch = 10 }},
		{"字典单批超限", func(c *Config) {
			c.Dictionary = []string{"w.txt"}
			c.BatchSize = 5
			c.Suffixes = []string{"1"}
			c.Throttle.MaxBatch = 9
		}},
	}
	for _, tc := range cases {
		c := mockCfg()
		tc.mut(&c)
		if err := Validate(c); err == nil {
			t.Fatalf("%s: 应失败", tc.name)
		}
	}
	if err := Validate(mockCfg()); err != nil {
		t.Fatalf("默认 mock 配置应通过: %v", err)
	}
	for name, mut := range map[string]func(*Config){
		"batch":       func(c *Config) { c.BatchSize = 0 },
		"concurrency": func(c *Config) { c.Concurrency = -1 },
	} {
		c := mockCfg()
		mut(&c)
		if err := Validate(c); !errors.Is(err, contract.ErrInvalidWorkerCount) {
			t.Fatalf("%s: 应归类为 InvalidWorkerCount: %v", name, err)
		}
	}
}

// UT-CFG-07: 模式选择与存储退化
func TestEffectiveModeStore(t *testing.T) {
	c := Defaults()
	if EffectiveMode(c) != contract.ModeBruteforce {
		t.Fatalf("默认应为 bruteforce")
	}
	c.Dictionary = []string{"w.txt"}
	if EffectiveMode(c) != contract.ModeDictionary {
		t.Fatalf("有字典应为 dictionary")
	}
	c.Mask = "?d"
	if EffectiveMode(c) != contract.ModeMask {
		t.Fatalf("掩码优先")
	}
	c.Mode = "bruteforce"
	if EffectiveMode(c) != contract.ModeBruteforce {
		t.Fatalf("显式模式优先")
	}
	if EffectiveStore(c) != "fs" {
		t.Fatalf("默认存储应为 fs")
	}
	c.Checkpoint = ""
	if EffectiveStore(c) != "memory" {
		t.Fatalf("无路径时应退化为 memory")
	}
}

// UT-CFG-08: Assemble 依配置构造组件
func TestAssemble(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	comp, set, err := Assemble(Merge(Defaults(), cfg))
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	if _, ok := comp.Space.(*mask.Space); !ok {
		t.Fatalf("应为掩码空间: %T", comp.Space)
	}
	if n, _ := comp.Space.Size(); n != 1000 {
		t.Fatalf("空间大小期望 1000 实得 %d", n)
	}
	if set.BatchSize != 50 || set.Concurrency != 3 || set.MaxRetries != 0 || set.BackendName != "mock" {
		t.Fatalf("Settings 错误: %+v", set)
	}
	if set.Gate == nil || set.GateKey != "mock" {
		t.Fatalf("应启用限流: %+v", set)
	}
	pw, ok, err := comp.Backend.CheckBatch(context.Background(), []string{"041", "042"})
	if err != nil || !ok || pw != "042" {
		t.Fatalf("mock 后端未按选项构造: %q %v %v", pw, ok, err)
	}
}

// UT-CFG-09: 字典模式 Assemble：年份后缀并入、Reader 选项严格解析
func TestAssembleDictionary(t *testing.T) {
	dir := t.TempDir()
	words := filepath.Join(dir, "words.txt")
	if err := os.WriteFile(words, []byte("alpha\nbeta\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Defaults()
	c.Components.Backend = "mock"
	c.Dictionary = []string{words}
	c.Suffixes = []string{"!"}
	c.UseYears = true
	c.Checkpoint = filepath.Join(dir, "ckpt.json")
	comp, _, err := Assemble(c)
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	sp, ok := comp.Space.(*dictionary.Space)
	if !ok {
		t.Fatalf("应为字典空间: %T", comp.Space)
	}
	defer sp.Close()
	b, err := sp.Materialize(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("物化失败: %v", err)
	}
	want := []string{"alpha", "alpha!", "alpha2020", "alpha2021", "alpha2022", "alpha2023", "alpha2024", "alpha2025"}
	if diff := cmp.Diff(want, b.Candidates); diff != "" {
		t.Fatalf("候选不一致 (-want +got):\n%s", diff)
	}

	c.Options.Reader = json.RawMessage(`{"buf_sz":1}`)
	if _, _, err := Assemble(c); err == nil {
		t.Fatalf("未知 reader 选项应失败")
	}
}

// UT-CFG-10: 模板配置可通过校验（填入归档后）
func TestTemplateValid(t *testing.T) {
	cfg := DefaultTemplateConfig()
	if err := Validate(cfg); err == nil {
		t.Fatalf("模板缺归档应失败")
	}
	cfg.Archive = "x.zip"
	if err := Validate(cfg); err != nil {
		t.Fatalf("模板校验失败: %v", err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	if _, err := LoadJSON("", raw); err != nil {
		t.Fatalf("模板回读失败: %v", err)
	}
}
