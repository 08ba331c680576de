package config

import (
	"errors"
	"fmt"
	"strings"

	"rapidrar/internal/charset"
	"rapidrar/internal/engine"
	"rapidrar/internal/rate"
	"rapidrar/pkg/contract"
	"rapidrar/pkg/registry"
	"rapidrar/plugins/space/bruteforce"
	"rapidrar/plugins/space/dictionary"
	"rapidrar/plugins/space/mask"
)

// EffectiveMode 返回显式模式，或按 mask > dictionary > bruteforce 选择。
func EffectiveMode(cfg Config) contract.Mode {
	if m := contract.Mode(strings.TrimSpace(cfg.Mode)); m != "" {
		return m
	}
	return engine.SelectMode(cfg.Mask, cfg.Dictionary)
}

// EffectiveStore: 未配置检查点路径时 fs 退化为 memory。
func EffectiveStore(cfg Config) string {
	name := effName(cfg.Components.Store, Defaults().Components.Store)
	if name == "fs" && strings.TrimSpace(cfg.Checkpoint) == "" {
		return "memory"
	}
	return name
}

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	d := Defaults()
	backend := effName(cfg.Components.Backend, d.Components.Backend)
	if registry.Backend[backend] == nil {
		return fmt.Errorf("config: backend %q not registered", backend)
	}
	if registry.NeedsVerifier(backend) {
		if strings.TrimSpace(cfg.Archive) == "" {
			return errors.New("config: archive not set")
		}
		if name := effName(cfg.Components.Verifier, d.Components.Verifier); registry.Verifier[name] == nil {
			return fmt.Errorf("config: verifier %q not registered", name)
		}
	}
	if name := EffectiveStore(cfg); registry.Store[name] == nil {
		return fmt.Errorf("config: store %q not registered", name)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("config: batch_size=%d: %w", cfg.BatchSize, contract.ErrInvalidWorkerCount)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("config: concurrency=%d: %w", cfg.Concurrency, contract.ErrInvalidWorkerCount)
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}

	mode := EffectiveMode(cfg)
	switch mode {
	case contract.ModeBruteforce:
		if cfg.MinLength < 1 || cfg.MaxLength < cfg.MinLength {
			return fmt.Errorf("config: length range [%d,%d] invalid", cfg.MinLength, cfg.MaxLength)
		}
		if cfg.Charset == "" {
			if _, err := charset.Compose(cfg.CharsetClasses); err != nil {
				return fmt.Errorf("config: %w", err)
			}
		} else if _, err := charset.Alphabet(cfg.Charset); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	case contract.ModeMask:
		if _, err := mask.Parse(cfg.Mask); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	case contract.ModeDictionary:
		if len(cfg.Dictionary) == 0 {
			return errors.New("config: dictionary empty")
		}
		// 路径不得为空字符串；"-" 不能与其他源混用
		dash := false
		for _, r := range cfg.Dictionary {
			switch strings.TrimSpace(r) {
			case "":
				return errors.New("config: dictionary path cannot be empty")
			case "-":
				dash = true
			}
		}
		if dash && len(cfg.Dictionary) > 1 {
			return errors.New("config: '-' cannot be mixed with other dictionaries")
		}
		if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
			return fmt.Errorf("config: reader %q not registered", name)
		}
		if dash && cfg.Resume {
			return errors.New("config: stdin dictionary cannot be resumed")
		}
	default:
		return fmt.Errorf("config: mode %q unknown", cfg.Mode)
	}

	t := cfg.Throttle
	if t.BatchesPerMin < 0 || t.CandidatesPerMin < 0 || t.MaxBatch < 0 {
		return errors.New("config: throttle values must be >= 0")
	}
	if t.MaxBatch > 0 {
		per := cfg.BatchSize
		if mode == contract.ModeDictionary {
			per *= 1 + len(charset.Suffixes(cfg.Suffixes, cfg.UseYears))
		}
		if per > t.MaxBatch {
			return fmt.Errorf("config: batch of %d candidates exceeds throttle.max_batch(%d)", per, t.MaxBatch)
		}
	}
	return nil
}

// Assemble 构造引擎 Components 与 Settings（含限流 Gate+Key）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// 返回的 Space 若实现 io.Closer，由引擎在运行结束时关闭。
func Assemble(cfg Config) (engine.Components, engine.Settings, error) {
	if err := Validate(cfg); err != nil {
		return engine.Components{}, engine.Settings{}, err
	}
	d := Defaults()
	bn := effName(cfg.Components.Backend, d.Components.Backend)

	space, err := buildSpace(cfg)
	if err != nil {
		return engine.Components{}, engine.Settings{}, err
	}

	var v contract.Verifier
	if registry.NeedsVerifier(bn) {
		vn := effName(cfg.Components.Verifier, d.Components.Verifier)
		if v, err = registry.Verifier[vn](cfg.Archive, cfg.Options.Verifier); err != nil {
			return engine.Components{}, engine.Settings{}, err
		}
	}
	be, err := registry.Backend[bn](cfg.Options.Backend, v)
	if err != nil {
		return engine.Components{}, engine.Settings{}, err
	}
	st, err := registry.Store[EffectiveStore(cfg)](cfg.Checkpoint, cfg.Options.Store)
	if err != nil {
		return engine.Components{}, engine.Settings{}, err
	}

	set := engine.Settings{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Resume:      cfg.Resume,
		BackendName: bn,
	}
	lim := rate.Limits{
		BatchesPerMin:    cfg.Throttle.BatchesPerMin,
		CandidatesPerMin: cfg.Throttle.CandidatesPerMin,
		MaxBatch:         cfg.Throttle.MaxBatch,
	}
	if lim.Enabled() {
		set.GateKey = rate.LimitKey(bn)
		set.Gate = rate.NewGate(map[rate.LimitKey]rate.Limits{set.GateKey: lim}, nil)
	}
	return engine.Components{Space: space, Backend: be, Store: st}, set, nil
}

func buildSpace(cfg Config) (contract.Space, error) {
	switch EffectiveMode(cfg) {
	case contract.ModeMask:
		return mask.New(cfg.Mask)
	case contract.ModeDictionary:
		rn := effName(cfg.Components.Reader, Defaults().Components.Reader)
		r, err := registry.Reader[rn](cfg.Options.Reader)
		if err != nil {
			return nil, err
		}
		return dictionary.New(r, dictionary.Options{
			Roots:    cloneStrings(cfg.Dictionary),
			Suffixes: charset.Suffixes(cfg.Suffixes, cfg.UseYears),
		})
	}
	cs := cfg.Charset
	if cs == "" {
		var err error
		if cs, err = charset.Compose(cfg.CharsetClasses); err != nil {
			return nil, err
		}
	}
	return bruteforce.New(bruteforce.Options{Charset: cs, MinLength: cfg.MinLength, MaxLength: cfg.MaxLength})
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
