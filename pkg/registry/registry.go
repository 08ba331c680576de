package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"rapidrar/pkg/contract"
	"rapidrar/plugins/backend/cpu"
	"rapidrar/plugins/backend/flaky"
	"rapidrar/plugins/backend/mock"
	cfs "rapidrar/plugins/checkpoint/filesystem"
	cmem "rapidrar/plugins/checkpoint/memory"
	rfs "rapidrar/plugins/reader/filesystem"
	vbcrypt "rapidrar/plugins/verifier/bcrypt"
	vrar "rapidrar/plugins/verifier/rar"
	vzip "rapidrar/plugins/verifier/zip"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewVerifier 工厂签名：target 为归档或哈希文件路径。
type NewVerifier func(target string, raw json.RawMessage) (contract.Verifier, error)

// NewBackend 工厂签名：后端包裹一个 Verifier（模拟后端忽略之）。
type NewBackend func(raw json.RawMessage, v contract.Verifier) (contract.Backend, error)

// NewStore 工厂签名：path 为检查点位置。
type NewStore func(path string, raw json.RawMessage) (contract.CheckpointStore, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Verifier 工厂注册表。
var Verifier = map[string]NewVerifier{
	"zip": func(target string, raw json.RawMessage) (contract.Verifier, error) {
		var opts vzip.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return vzip.New(target, opts)
	},
	"rar": func(target string, raw json.RawMessage) (contract.Verifier, error) {
		var opts vrar.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return vrar.New(target, opts)
	},
	"bcrypt": func(target string, raw json.RawMessage) (contract.Verifier, error) {
		var opts vbcrypt.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return vbcrypt.New(target, opts)
	},
}

// auto 条目引用所在的注册表本身，需在 init 中注册以避免初始化循环。
func init() {
	// auto: 按文件签名选择 zip/rar/bcrypt
	Verifier["auto"] = func(target string, raw json.RawMessage) (contract.Verifier, error) {
		name, err := Sniff(target)
		if err != nil {
			return nil, err
		}
		return Verifier[name](target, raw)
	}
	// auto: 当前仅有 CPU 实现
	Backend["auto"] = func(raw json.RawMessage, v contract.Verifier) (contract.Backend, error) {
		return Backend["cpu"](raw, v)
	}
}

// Sniff 读取文件头并返回对应的校验器名称。
func Sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("sniff: %w: %w", contract.ErrArchiveInvalid, err)
	}
	defer f.Close()
	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("sniff: %w: %w", contract.ErrArchiveInvalid, err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return "zip", nil
	case bytes.HasPrefix(head, vrar.Magic):
		return "rar", nil
	case vbcrypt.IsHash(head):
		return "bcrypt", nil
	}
	return "", fmt.Errorf("sniff: %s: unrecognized format: %w", path, contract.ErrArchiveInvalid)
}

// Backend 工厂注册表。
var Backend = map[string]NewBackend{
	"cpu": func(raw json.RawMessage, v contract.Verifier) (contract.Backend, error) {
		var opts cpu.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cpu.New(opts, v)
	},
	"mock": func(raw json.RawMessage, _ contract.Verifier) (contract.Backend, error) {
		var opts mock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return mock.New(opts), nil
	},
	"flaky": func(raw json.RawMessage, _ contract.Verifier) (contract.Backend, error) {
		var opts flaky.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return flaky.New(opts), nil
	},
}

// NeedsVerifier 报告后端是否需要真实的归档校验器。
func NeedsVerifier(backend string) bool {
	return backend != "mock" && backend != "flaky"
}

// Store 工厂注册表。
var Store = map[string]NewStore{
	// fs: 原子替换的 JSON 文件
	"fs": func(path string, raw json.RawMessage) (contract.CheckpointStore, error) {
		opts := cfs.Options{Path: path}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cfs.New(&opts)
	},
	// memory: 进程内（不跨进程恢复）
	"memory": func(_ string, raw json.RawMessage) (contract.CheckpointStore, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cmem.New(), nil
	},
}
