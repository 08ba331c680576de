package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"

	cfgpkg "rapidrar/internal/config"
	"rapidrar/internal/diag"
	"rapidrar/internal/engine"
	"rapidrar/pkg/contract"
)

// 退出码
const (
	exitFound     = 0
	exitFailed    = 1
	exitExhausted = 2
	exitConfig    = 3
)

// engineRun 可在测试中替换。
var engineRun = func(ctx context.Context, comp engine.Components, set engine.Settings, logger *diag.Logger) (engine.Outcome, error) {
	c, err := engine.New(comp, set, logger)
	if err != nil {
		return engine.Outcome{State: engine.StateFailed}, err
	}
	return c.Run(ctx, nil)
}

// 简化的 CLI：默认子命令 run。
// 位置参数为归档路径（等价于 --archive）。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	logLevel := "info"
	// 先占位默认，稍后在解析/合并配置后重建 logger 以使用最终 level
	logger := diag.NewLogger(corrID, logLevel)
	defer func() { _ = logger.Close() }()

	var (
		flagConfig      string
		flagArchive     string
		flagMode        string
		flagMask        string
		flagDict        string
		flagSuffixes    string
		flagUseYears    bool
		flagCharset     string
		flagLower       bool
		flagUpper       bool
		flagDigits      bool
		flagSpecial     bool
		flagMinLen      int
		flagMaxLen      int
		flagBatchSize   int
		flagConcurrency int
		flagMaxRetries  int
		flagCheckpoint  string
		flagResume      bool
		flagBackend     string
		flagVerifier    string
		flagFoundDir    string
		flagInitDir     string
		flagStatus      bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./config.json（若存在）")
	flag.StringVar(&flagArchive, "archive", "", "目标归档或哈希文件（覆盖配置）")
	flag.StringVar(&flagMode, "mode", "", "攻击模式 bruteforce|mask|dictionary；缺省按 mask>dictionary>bruteforce 推断")
	flag.StringVar(&flagMask, "mask", "", "掩码，例如 ?u?l?l?d?d")
	flag.StringVar(&flagDict, "dict", "", "字典文件/目录，逗号分隔；- 表示 STDIN")
	flag.StringVar(&flagSuffixes, "suffixes", "", "字典后缀，逗号分隔")
	flag.BoolVar(&flagUseYears, "use-years", false, "字典追加年份后缀 2020..2025")
	flag.StringVar(&flagCharset, "charset", "", "暴力字母表（优先于 --use-* 开关）")
	flag.BoolVar(&flagLower, "use-lowercase", false, "字母表包含小写字母")
	flag.BoolVar(&flagUpper, "use-uppercase", false, "字母表包含大写字母")
	flag.BoolVar(&flagDigits, "use-digits", false, "字母表包含数字")
	flag.BoolVar(&flagSpecial, "use-special", false, "字母表包含特殊符号 @#!$%^")
	flag.IntVar(&flagMinLen, "min-length", 0, "最小长度（覆盖配置）")
	flag.IntVar(&flagMaxLen, "max-length", 0, "最大长度（覆盖配置）")
	flag.IntVar(&flagBatchSize, "batch-size", 0, "每批单位数（覆盖配置）")
	flag.IntVar(&flagConcurrency, "concurrency", 0, "并发批数（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	flag.IntVar(&flagMaxRetries, "max-retries", -1, "单批最大重试次数（覆盖配置；0 表示不重试）")
	flag.StringVar(&flagCheckpoint, "checkpoint", "", "检查点文件（覆盖配置）")
	flag.BoolVar(&flagResume, "resume", false, "从检查点恢复")
	flag.StringVar(&flagBackend, "backend", "", "后端 cpu|auto|mock|flaky（覆盖配置）")
	flag.StringVar(&flagVerifier, "verifier", "", "校验器 auto|zip|rar|bcrypt（覆盖配置）")
	flag.StringVar(&flagFoundDir, "found-dir", ".", "命中口令文件的输出目录；空表示不写文件")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（若已存在则跳过，不覆盖）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	normalizeInitArg()
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return exitConfig
	}

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		cfg := cfgpkg.DefaultTemplateConfig()
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfg); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return exitFound
	}

	// 配置来源：--config > RAPIDRAR_CONFIG_FILE > ./config.json；RAPIDRAR_CONFIG_JSON 优先于文件
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.Load(flagConfig, cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	var overCLI cfgpkg.Config
	// 标记 MaxRetries 未设置（避免默认 0 被误判为要覆盖）
	overCLI.MaxRetries = -1
	overCLI.Archive = flagArchive
	if args := flag.Args(); len(args) > 0 && overCLI.Archive == "" {
		overCLI.Archive = args[0]
	}
	overCLI.Mode = flagMode
	overCLI.Mask = flagMask
	overCLI.Dictionary = splitList(flagDict)
	overCLI.Suffixes = splitList(flagSuffixes)
	overCLI.UseYears = flagUseYears
	overCLI.Charset = flagCharset
	overCLI.CharsetClasses = classFlags(flagLower, flagUpper, flagDigits, flagSpecial)
	if flagMinLen > 0 {
		overCLI.MinLength = flagMinLen
	}
	if flagMaxLen > 0 {
		overCLI.MaxLength = flagMaxLen
	}
	if flagBatchSize > 0 {
		overCLI.BatchSize = flagBatchSize
	}
	if flagConcurrency > 0 {
		overCLI.Concurrency = flagConcurrency
	}
	if flagMaxRetries >= 0 {
		overCLI.MaxRetries = flagMaxRetries
	}
	overCLI.Checkpoint = flagCheckpoint
	overCLI.Resume = flagResume
	overCLI.Components.Backend = flagBackend
	overCLI.Components.Verifier = flagVerifier
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		// 打印有效配置，便于诊断
		_ = dumpConfig(cfg)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	// 使用最终配置中的日志级别重建 logger
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		logLevel = lv
	}
	_ = logger.Close()
	logger = diag.NewLogger(corrID, logLevel)

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	mode := cfgpkg.EffectiveMode(cfg)
	if warn := preflightMemory(cfg, mode); warn != "" {
		term.Note(warn)
		logger.Warn("cli", string(diag.CodeInvalid), warn, nil)
	}

	logger.DebugStart("config", "effective", string(mode), "", map[string]string{
		"archive":     cfg.Archive,
		"batch_size":  strconv.Itoa(cfg.BatchSize),
		"concurrency": strconv.Itoa(cfg.Concurrency),
		"max_retries": strconv.Itoa(cfg.MaxRetries),
		"backend":     set.BackendName,
		"verifier":    cfg.Components.Verifier,
		"store":       cfgpkg.EffectiveStore(cfg),
		"checkpoint":  cfg.Checkpoint,
		"resume":      strconv.FormatBool(cfg.Resume),
		"throttle":    strconv.FormatBool(set.Gate != nil),
	})

	// 中断信号：取消运行，检查点保留在最后提交处
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := logger.StartWith("cli", "run", string(mode), "")
	out, err := engineRun(ctx, comp, set, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "已中断；可使用 --resume 从检查点继续\n")
		} else {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return exitFailed
	}
	// 本进程内的尝试数（不含恢复前）用于计算真实速度
	snap := diag.TakeSnapshot()
	speed := diag.FormatSpeed(snap.Attempts, out.Elapsed)
	t.FinishKV(string(out.State), int64(out.Attempts), map[string]string{
		"elapsed_ms":       strconv.FormatInt(out.Elapsed.Milliseconds(), 10),
		"session_attempts": strconv.FormatUint(snap.Attempts, 10),
		"speed":            speed,
		"check_errors":     strconv.FormatInt(snap.Ops["backend/check/error"], 10),
	})
	diag.ObserveDuration("cli", "run", time.Since(start).Milliseconds())
	if !out.Recorded {
		fprintf(os.Stdout, "本次尝试 %d | 速度 %s\n", snap.Attempts, speed)
	}

	switch out.State {
	case engine.StateFound:
		diag.IncOp("cli", "run", "found")
		if out.Recorded {
			fprintf(os.Stdout, "检查点中已有命中记录（未重新搜索）\n")
		}
		fprintf(os.Stdout, "口令: %s\n尝试次数: %d\n", out.Password, out.Attempts)
		if flagFoundDir != "" && !out.Recorded {
			path, err := writeFound(flagFoundDir, cfg.Archive, out, time.Now())
			if err != nil {
				fprintf(os.Stderr, "命中文件写入失败: %v\n", err)
				logger.Error("cli", string(diag.Classify(err)), "write found file", nil)
			} else {
				fprintf(os.Stdout, "已保存: %s\n", path)
			}
		}
		return exitFound
	case engine.StateExhausted:
		diag.IncOp("cli", "run", "exhausted")
		fprintf(os.Stdout, "空间已穷尽，未找到口令（尝试 %d）\n", out.Attempts)
		return exitExhausted
	}
	return exitFailed
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// classFlags 将 --use-* 开关映射为 charset_classes；全未设置返回 nil（沿用配置）。
func classFlags(lower, upper, digits, special bool) []string {
	var out []string
	if lower {
		out = append(out, "lower")
	}
	if upper {
		out = append(out, "upper")
	}
	if digits {
		out = append(out, "digit")
	}
	if special {
		out = append(out, "special")
	}
	return out
}

// preflightMemory: 粗估在途候选占用（批大小×并发窗口×单候选开销），超过可用内存一半时给出告警。
// 字典模式按行估计；无法读取系统内存时静默跳过。
func preflightMemory(cfg cfgpkg.Config, mode contract.Mode) string {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return ""
	}
	per := uint64(16 + max(cfg.MaxLength, 8))
	if mode == contract.ModeMask {
		per = uint64(16 + 2*len(cfg.Mask))
	}
	need := uint64(cfg.BatchSize) * uint64(cfg.Concurrency) * 2 * per
	if need*2 <= vm.Available {
		return ""
	}
	return fmt.Sprintf("batch_size×concurrency 预计占用约 %d MiB，可用内存 %d MiB；建议调小", need>>20, vm.Available>>20)
}

// writeFound 写出命中记录 password_found_<archive>_<timestamp>.txt，返回路径。
func writeFound(dir, archive string, out engine.Outcome, now time.Time) (string, error) {
	base := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))
	if base == "" || base == "." {
		base = "target"
	}
	name := fmt.Sprintf("password_found_%s_%s.txt", base, now.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "archive: %s\n", archive)
	fmt.Fprintf(&b, "password: %s\n", out.Password)
	fmt.Fprintf(&b, "attempts: %d\n", out.Attempts)
	fmt.Fprintf(&b, "elapsed: %s\n", out.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "time: %s\n", now.UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；key 为左侧去空白；value 去首尾空白；
// - 若 value 被成对的单/双引号包裹，则去除外层引号；双引号内常见转义 \n/\t/\\/\" 作最小处理。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		// 去除成对引号
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					val = strings.ReplaceAll(val, "\\n", "\n")
					val = strings.ReplaceAll(val, "\\t", "\t")
					val = strings.ReplaceAll(val, "\\r", "\r")
					val = strings.ReplaceAll(val, "\\\"", "\"")
					val = strings.ReplaceAll(val, "\\\\", "\\")
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用默认值当前目录 "."。
// 兼容以下形式：
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			// 末尾或后继为开关时补默认值
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# rapidrar .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 目标与模式\n")
	for _, k := range []string{"ARCHIVE", "MODE", "CHARSET", "CHARSET_CLASSES", "MIN_LENGTH", "MAX_LENGTH", "MASK", "DICTIONARY", "SUFFIXES", "USE_YEARS"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 运行参数\n")
	for _, k := range []string{"BATCH_SIZE", "CONCURRENCY", "MAX_RETRIES", "CHECKPOINT", "RESUME", "LOG_LEVEL"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选择与选项（原样 JSON）\n")
	for _, k := range []string{"COMPONENTS_BACKEND", "COMPONENTS_VERIFIER", "COMPONENTS_STORE", "COMPONENTS_READER",
		"OPTIONS_BACKEND_JSON", "OPTIONS_VERIFIER_JSON", "OPTIONS_STORE_JSON", "OPTIONS_READER_JSON"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 限流\n")
	for _, k := range []string{"THROTTLE_BATCHES_PER_MIN", "THROTTLE_CANDIDATES_PER_MIN", "THROTTLE_MAX_BATCH"} {
		b.WriteString(p + k + "=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
