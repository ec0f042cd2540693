package config

import "time"

type Config struct {
	Arrow    ArrowConfig     `yaml:"arrow"`
	TLS      TLSConfig       `yaml:"tls"`
	Local    LocalConfig     `yaml:"local"`
	Services []ServiceConfig `yaml:"services"`
	Network  NetworkConfig   `yaml:"network"`
	HTTP     HTTPConfig      `yaml:"http"`
	Logging  LoggingConfig   `yaml:"logging"`
}

type ArrowConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	Interface         string        `yaml:"interface"`
	MAC               string        `yaml:"mac"`
	IdentityFile      string        `yaml:"identity_file"`
	LogEvents         bool          `yaml:"log_events"`
}

type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	CAFile  string `yaml:"ca_file"`
	Proxy   string `yaml:"proxy"`
}

type LocalConfig struct {
	Network     string `yaml:"network"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	SRTLatency  int    `yaml:"srt_latency"`
	SRTStreamID string `yaml:"srt_stream_id"`
}

type ServiceConfig struct {
	ID   int    `yaml:"id"`
	Type string `yaml:"type"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

type NetworkConfig struct {
	AssumeAvailable bool          `yaml:"assume_available"`
	WiFi            []string      `yaml:"wifi"`
	Mobile          []string      `yaml:"mobile"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level    string   `yaml:"level"`
	Format   string   `yaml:"format"`
	Output   string   `yaml:"output"`
	FilePath string   `yaml:"file_path"`
	MaxSize  ByteSize `yaml:"max_size"`
	MaxAge   int      `yaml:"max_age"`
	Compress bool     `yaml:"compress"`
}
