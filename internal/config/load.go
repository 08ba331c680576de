package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量前缀。
const EnvPrefix = "RAPIDRAR_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Archive 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		MinLength:   1,
		MaxLength:   6,
		BatchSize:   100000,
		Concurrency: 2,
		MaxRetries:  1,
		Checkpoint:  "checkpoint.json",
		Logging:     Logging{Level: "info"},
		Components: Components{
			Backend:  "cpu",
			Verifier: "auto",
			Store:    "fs",
			Reader:   "fs",
		},
	}
}

// Load 从文件路径或原始内容解析 Config（严格拒绝未知字段）。
// raw 非空时按 JSON 解析；否则 .yaml/.yml 按 YAML，其余按 JSON。
func Load(path string, raw []byte) (Config, error) {
	if len(raw) == 0 && path != "" && isYAML(path) {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		return LoadYAML(b)
	}
	return LoadJSON(path, raw)
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 先解为通用树再转 JSON，复用 JSON 的严格解码与 RawMessage 子树。
func LoadYAML(b []byte) (Config, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	if tree == nil {
		return Config{}, errors.New("config: yaml: empty document")
	}
	js, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	return LoadJSON("", js)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
// 布尔字段只能由覆盖层打开，不能关闭。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.Archive); s != "" {
		out.Archive = s
	}
	if s := strings.TrimSpace(over.Mode); s != "" {
		out.Mode = s
	}
	if over.Charset != "" {
		out.Charset = over.Charset
	}
	if len(over.CharsetClasses) > 0 {
		out.CharsetClasses = cloneStrings(over.CharsetClasses)
	}
	if over.MinLength != 0 {
		out.MinLength = over.MinLength
	}
	if over.MaxLength != 0 {
		out.MaxLength = over.MaxLength
	}
	if over.Mask != "" {
		out.Mask = over.Mask
	}
	if len(over.Dictionary) > 0 {
		out.Dictionary = cloneStrings(over.Dictionary)
	}
	if len(over.Suffixes) > 0 {
		out.Suffixes = cloneStrings(over.Suffixes)
	}
	if over.UseYears {
		out.UseYears = true
	}
	if over.BatchSize != 0 {
		out.BatchSize = over.BatchSize
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// 特殊：MaxRetries 的 0 具有语义（禁用重试），需要显式可覆盖。
	// 约定：over.MaxRetries >= 0 视为“存在”，-1 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if s := strings.TrimSpace(over.Checkpoint); s != "" {
		out.Checkpoint = s
	}
	if over.Resume {
		out.Resume = true
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	// 组件名（空不覆盖）
	if over.Components.Backend != "" {
		out.Components.Backend = over.Components.Backend
	}
	if over.Components.Verifier != "" {
		out.Components.Verifier = over.Components.Verifier
	}
	if over.Components.Store != "" {
		out.Components.Store = over.Components.Store
	}
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}

	// Options（完整替换对应键）
	if len(over.Options.Backend) > 0 {
		out.Options.Backend = cloneRaw(over.Options.Backend)
	}
	if len(over.Options.Verifier) > 0 {
		out.Options.Verifier = cloneRaw(over.Options.Verifier)
	}
	if len(over.Options.Store) > 0 {
		out.Options.Store = cloneRaw(over.Options.Store)
	}
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}

	if over.Throttle.BatchesPerMin != 0 {
		out.Throttle.BatchesPerMin = over.Throttle.BatchesPerMin
	}
	if over.Throttle.CandidatesPerMin != 0 {
		out.Throttle.CandidatesPerMin = over.Throttle.CandidatesPerMin
	}
	if over.Throttle.MaxBatch != 0 {
		out.Throttle.MaxBatch = over.Throttle.MaxBatch
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 RAPIDRAR_；集合之外的键忽略。
// 支持：ARCHIVE, MODE, CHARSET, CHARSET_CLASSES, MIN_LENGTH, MAX_LENGTH, MASK,
// DICTIONARY, SUFFIXES, USE_YEARS, BATCH_SIZE, CONCURRENCY, MAX_RETRIES,
// CHECKPOINT, RESUME, LOG_LEVEL, COMPONENTS_*, OPTIONS_*_JSON, THROTTLE_*。
// 数值或布尔解析失败时返回错误。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.MaxRetries = -1
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := kv[eq+1:]
		nk := strings.TrimPrefix(key, EnvPrefix)
		var err error
		switch nk {
		case "ARCHIVE":
			over.Archive = strings.TrimSpace(val)
		case "MODE":
			over.Mode = strings.TrimSpace(val)
		case "CHARSET":
			over.Charset = val
		case "CHARSET_CLASSES":
			over.CharsetClasses = splitComma(val)
		case "MIN_LENGTH":
			over.MinLength, err = atoi(val)
		case "MAX_LENGTH":
			over.MaxLength, err = atoi(val)
		case "MASK":
			over.Mask = val
		case "DICTIONARY":
			over.Dictionary = splitComma(val)
		case "SUFFIXES":
			over.Suffixes = splitComma(val)
		case "USE_YEARS":
			over.UseYears, err = parseBool(val)
		case "BATCH_SIZE":
			over.BatchSize, err = atoi(val)
		case "CONCURRENCY":
			over.Concurrency, err = atoi(val)
		case "MAX_RETRIES":
			over.MaxRetries, err = atoi(val)
		case "CHECKPOINT":
			over.Checkpoint = strings.TrimSpace(val)
		case "RESUME":
			over.Resume, err = parseBool(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "COMPONENTS_BACKEND":
			over.Components.Backend = strings.TrimSpace(val)
		case "COMPONENTS_VERIFIER":
			over.Components.Verifier = strings.TrimSpace(val)
		case "COMPONENTS_STORE":
			over.Components.Store = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		// 原样 JSON；空值视为未设置，避免清空现有配置
		case "OPTIONS_BACKEND_JSON":
			over.Options.Backend = rawOrNil(val)
		case "OPTIONS_VERIFIER_JSON":
			over.Options.Verifier = rawOrNil(val)
		case "OPTIONS_STORE_JSON":
			over.Options.Store = rawOrNil(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader = rawOrNil(val)
		case "THROTTLE_BATCHES_PER_MIN":
			over.Throttle.BatchesPerMin, err = atoi(val)
		case "THROTTLE_CANDIDATES_PER_MIN":
			over.Throttle.CandidatesPerMin, err = atoi(val)
		case "THROTTLE_MAX_BATCH":
			over.Throttle.MaxBatch, err = atoi(val)
		}
		if err != nil {
			return Config{}, fmt.Errorf("config: env %s: %w", key, err)
		}
	}
	if over.MaxRetries < -1 {
		return Config{}, fmt.Errorf("config: env %sMAX_RETRIES must be >= 0", EnvPrefix)
	}
	return over, nil
}

func rawOrNil(val string) json.RawMessage {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return json.RawMessage(val)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "", "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool %q", s)
}
