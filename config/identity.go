package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Identity 是注册时使用的客户端身份（UUID + passphrase），首次运行时生成并持久化。
type Identity struct {
	UUID       string `yaml:"uuid"`
	Passphrase string `yaml:"passphrase"`
}

// EnsureIdentity 读取身份文件；文件不存在或字段缺失时生成新的 UUID 并写回。
// 参数：
// - path: 身份文件路径
// 返回：
// - Identity: 可用的身份
// - error: 读取/解析/写入失败原因
func EnsureIdentity(path string) (Identity, error) {
	var id Identity
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &id); err != nil {
			return Identity{}, fmt.Errorf("unmarshal identity: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Identity{}, fmt.Errorf("read identity file: %w", err)
	}

	dirty := false
	if id.UUID == "" {
		id.UUID = uuid.NewString()
		dirty = true
	}
	if id.Passphrase == "" {
		id.Passphrase = uuid.NewString()
		dirty = true
	}
	if _, err := uuid.Parse(id.UUID); err != nil {
		return Identity{}, fmt.Errorf("invalid identity uuid: %w", err)
	}
	if _, err := uuid.Parse(id.Passphrase); err != nil {
		return Identity{}, fmt.Errorf("invalid identity passphrase: %w", err)
	}
	if !dirty {
		return id, nil
	}
	if err := SaveIdentity(path, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// SaveIdentity 以 0600 权限写入身份文件（必要时创建目录）。
func SaveIdentity(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	raw, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
