package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ByteSize 是以字节计的大小，YAML 中写作 "20MB"、"512KB" 或纯数字。
type ByteSize int64

func (b ByteSize) Int64() int64 { return int64(b) }

// MB 返回向下取整的兆字节数（lumberjack 的 MaxSize 单位）。
func (b ByteSize) MB() int { return int(b >> 20) }

var byteUnits = []struct {
	suffix string
	mult   float64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	*b = 0
	if value == nil || strings.TrimSpace(value.Value) == "" {
		return nil
	}
	raw := strings.ToUpper(strings.TrimSpace(value.Value))
	num, mult := raw, 1.0
	for _, u := range byteUnits {
		if strings.HasSuffix(raw, u.suffix) {
			num, mult = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix)), u.mult
			break
		}
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 {
		return fmt.Errorf("invalid byte size %q", value.Value)
	}
	*b = ByteSize(f * mult)
	return nil
}

// DefaultServices 返回默认服务表：一条指向本地 RTSP 服务的 H.264 记录。
// 端口为 0 表示使用 local.port。
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{ID: 1, Type: "rtsp", Port: 0, Path: "/video/h264"},
	}
}

// DefaultConfig 返回一份可用的默认配置（用于未提供配置文件或作为缺省值合并）。
func DefaultConfig() Config {
	return Config{
		Arrow: ArrowConfig{
			Host:              "arrow.angelcam.com",
			Port:              8900,
			KeepaliveInterval: 60 * time.Second,
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       5 * time.Second,
			Interface:         "wlan0",
			IdentityFile:      "/var/lib/arrow-client/identity.yaml",
			LogEvents:         true,
		},
		TLS: TLSConfig{
			Enabled: true,
			CAFile:  "/etc/arrow-client/ca.pem",
		},
		Local: LocalConfig{
			Network:    "tcp",
			Host:       "127.0.0.1",
			Port:       8554,
			SRTLatency: 120,
		},
		Network: NetworkConfig{
			AssumeAvailable: false,
			WiFi:            []string{"wlan0"},
			Mobile:          []string{"wwan0", "rmnet0"},
			PollInterval:    5 * time.Second,
			RetryDelay:      10 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9180",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "console",
			FilePath: "/var/log/arrow-client.log",
			MaxSize:  ByteSize(20 * 1024 * 1024),
			MaxAge:   7,
			Compress: true,
		},
	}
}
