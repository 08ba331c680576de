package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 暴力模式，小写+数字，长度 1..6；
// - 归档路径留空，需由用户填写；
// - 选项键全部列出，值为中性默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Archive:        "",
		CharsetClasses: []string{"lower", "digit"},
		MinLength:      d.MinLength,
		MaxLength:      d.MaxLength,
		Suffixes:       []string{},
		BatchSize:      d.BatchSize,
		Concurrency:    d.Concurrency,
		MaxRetries:     d.MaxRetries,
		Checkpoint:     d.Checkpoint,
		Logging:        d.Logging,
		Components:     d.Components,
	}
	// workers=0 表示按 CPU 核数
	cfg.Options.Backend = json.RawMessage(`{
  "workers": 0
}`)
	// zip 可指定条目；bcrypt 可内联哈希（二者互斥，按校验器取用）
	cfg.Options.Verifier = json.RawMessage(`{}`)
	cfg.Options.Store = json.RawMessage(`{
  "perm_file": 0,
  "perm_dir": 0
}`)
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 262144,
  "exclude_dir_names": [".git"],
  "extensions": [],
  "include_hidden": false
}`)
	return cfg
}
