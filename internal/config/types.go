package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Archive: 目标归档或哈希文件。
	Archive string `json:"archive"`
	// Mode 为空时按 mask > dictionary > bruteforce 自动选择。
	Mode string `json:"mode"`

	// 暴力模式：Charset 优先于 CharsetClasses。
	Charset        string   `json:"charset"`
	CharsetClasses []string `json:"charset_classes"`
	MinLength      int      `json:"min_length"`
	MaxLength      int      `json:"max_length"`

	Mask string `json:"mask"`

	// 字典模式：文件/目录列表，["-"] 表示 STDIN。
	Dictionary []string `json:"dictionary"`
	Suffixes   []string `json:"suffixes"`
	UseYears   bool     `json:"use_years"`

	BatchSize   int `json:"batch_size"`
	Concurrency int `json:"concurrency"`
	// MaxRetries: 单批校验失败后的重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`

	// Checkpoint: 检查点文件；为空时改用进程内存储。
	Checkpoint string `json:"checkpoint"`
	Resume     bool   `json:"resume"`

	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	Throttle Throttle `json:"throttle"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Backend  string `json:"backend"`
	Verifier string `json:"verifier"`
	Store    string `json:"store"`
	Reader   string `json:"reader"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Backend  json.RawMessage `json:"backend"`
	Verifier json.RawMessage `json:"verifier"`
	Store    json.RawMessage `json:"store"`
	Reader   json.RawMessage `json:"reader"`
}

// Throttle: 限流配置（仅承载；执行位于 rate.Gate）。全零表示不限流。
type Throttle struct {
	BatchesPerMin    int `json:"batches_per_min"`
	CandidatesPerMin int `json:"candidates_per_min"`
	MaxBatch         int `json:"max_batch"`
}
