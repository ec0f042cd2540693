package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"arrow-client/control"
)

// Load 从 YAML 文件读取并解析配置，并做基础校验与默认值补齐。
// 参数：
// - path: 配置文件路径
// 返回：
// - Config: 合并默认值后的配置
// - error: 读取/解析/校验失败原因
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices()
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 校验配置字段合法性，并补齐可推导的缺省值（日志输出、本地网络类型等）。
// 参数：
// - cfg: 待校验配置
// 返回：
// - error: 校验失败原因
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Arrow.Host) == "" {
		return fmt.Errorf("arrow.host is required")
	}
	if cfg.Arrow.Port <= 0 || cfg.Arrow.Port > 65535 {
		return fmt.Errorf("invalid arrow.port: %d", cfg.Arrow.Port)
	}
	if cfg.Arrow.KeepaliveInterval <= 0 {
		return fmt.Errorf("invalid arrow.keepalive_interval: %s", cfg.Arrow.KeepaliveInterval)
	}
	if cfg.Arrow.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid arrow.connect_timeout: %s", cfg.Arrow.ConnectTimeout)
	}
	if cfg.Arrow.ReadTimeout <= 0 {
		return fmt.Errorf("invalid arrow.read_timeout: %s", cfg.Arrow.ReadTimeout)
	}
	if cfg.Arrow.IdentityFile == "" {
		return fmt.Errorf("arrow.identity_file is required")
	}
	if cfg.Arrow.MAC != "" {
		if _, err := control.ParseMAC(cfg.Arrow.MAC); err != nil {
			return fmt.Errorf("invalid arrow.mac: %w", err)
		}
	}
	if cfg.TLS.Enabled && cfg.TLS.CAFile == "" {
		return fmt.Errorf("tls.ca_file is required when tls.enabled=true")
	}

	if cfg.Local.Network == "" {
		cfg.Local.Network = "tcp"
	}
	cfg.Local.Network = strings.ToLower(cfg.Local.Network)
	if cfg.Local.Network != "tcp" && cfg.Local.Network != "srt" {
		return fmt.Errorf("invalid local.network: %q", cfg.Local.Network)
	}
	if cfg.Local.Host == "" {
		cfg.Local.Host = "127.0.0.1"
	}
	if cfg.Local.Port <= 0 || cfg.Local.Port > 65535 {
		return fmt.Errorf("invalid local.port: %d", cfg.Local.Port)
	}

	seen := make(map[int]bool, len(cfg.Services))
	for i, svc := range cfg.Services {
		if svc.ID <= 0 || svc.ID > 0xffff {
			return fmt.Errorf("invalid services[%d].id: %d", i, svc.ID)
		}
		if seen[svc.ID] {
			return fmt.Errorf("duplicate services[%d].id: %d", i, svc.ID)
		}
		seen[svc.ID] = true
		if _, err := control.ParseServiceType(svc.Type); err != nil {
			return fmt.Errorf("invalid services[%d].type: %w", i, err)
		}
		if svc.Port < 0 || svc.Port > 65535 {
			return fmt.Errorf("invalid services[%d].port: %d", i, svc.Port)
		}
	}

	if cfg.Network.PollInterval <= 0 {
		cfg.Network.PollInterval = DefaultConfig().Network.PollInterval
	}
	if cfg.Network.RetryDelay <= 0 {
		cfg.Network.RetryDelay = DefaultConfig().Network.RetryDelay
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required when http.enabled=true")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output=file")
	}
	return nil
}
