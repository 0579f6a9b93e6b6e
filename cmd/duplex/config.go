package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/spf13/viper"
)

// Config 命令行工具的配置，可以来自yaml/toml文件或者DUPLEX_前缀的环境变量
type Config struct {
	Name    string       `mapstructure:"name"`
	Version int          `mapstructure:"version"`
	Codec   string       `mapstructure:"codec"`
	Server  ServerConfig `mapstructure:"server"`
	Client  ClientConfig `mapstructure:"client"`
	Log     log.Options  `mapstructure:"log"`
	Admin   AdminConfig  `mapstructure:"admin"`
}

type TransportConfig struct {
	// Kind 可靠通道为tcp或ws，快速通道为udp或none
	Kind string `mapstructure:"kind"`
	Addr string `mapstructure:"addr"`
}

type ServerConfig struct {
	Reliable         TransportConfig `mapstructure:"reliable"`
	Fast             TransportConfig `mapstructure:"fast"`
	MaxConnNum       int             `mapstructure:"max_conn_num"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	UdpIdleTimeout   time.Duration   `mapstructure:"udp_idle_timeout"`
}

type ClientConfig struct {
	Reliable TransportConfig `mapstructure:"reliable"`
	Fast     TransportConfig `mapstructure:"fast"`
	// Nick 为空时随机生成
	Nick          string        `mapstructure:"nick"`
	PulseInterval time.Duration `mapstructure:"pulse_interval"`
	ConnectRetry  int           `mapstructure:"connect_retry"`
}

// AdminConfig 管理接口：/metrics、/connections、/log/level
type AdminConfig struct {
	// Addr 为空时不启动
	Addr string `mapstructure:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		Name:    "duplex",
		Version: 1,
		Codec:   "json",
		Server: ServerConfig{
			Reliable: TransportConfig{Kind: "tcp", Addr: ":3653"},
			Fast:     TransportConfig{Kind: "udp", Addr: ":3654"},
		},
		Client: ClientConfig{
			Reliable:      TransportConfig{Kind: "tcp", Addr: "127.0.0.1:3653"},
			Fast:          TransportConfig{Kind: "udp", Addr: "127.0.0.1:3654"},
			PulseInterval: time.Second,
		},
		Log: log.Options{Level: log.LevelInfo, Out: log.OutConsole, MaxSizeMB: 100},
	}
}

// LoadConfig path为空时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetEnvPrefix("DUPLEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", cfg.Name)
	v.SetDefault("version", cfg.Version)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("server.reliable.kind", cfg.Server.Reliable.Kind)
	v.SetDefault("server.reliable.addr", cfg.Server.Reliable.Addr)
	v.SetDefault("server.fast.kind", cfg.Server.Fast.Kind)
	v.SetDefault("server.fast.addr", cfg.Server.Fast.Addr)
	v.SetDefault("server.max_conn_num", cfg.Server.MaxConnNum)
	v.SetDefault("server.handshake_timeout", cfg.Server.HandshakeTimeout)
	v.SetDefault("server.udp_idle_timeout", cfg.Server.UdpIdleTimeout)
	v.SetDefault("client.reliable.kind", cfg.Client.Reliable.Kind)
	v.SetDefault("client.reliable.addr", cfg.Client.Reliable.Addr)
	v.SetDefault("client.fast.kind", cfg.Client.Fast.Kind)
	v.SetDefault("client.fast.addr", cfg.Client.Fast.Addr)
	v.SetDefault("client.nick", cfg.Client.Nick)
	v.SetDefault("client.pulse_interval", cfg.Client.PulseInterval)
	v.SetDefault("client.connect_retry", cfg.Client.ConnectRetry)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.path", cfg.Log.Dir)
	v.SetDefault("log.max_size", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_age", cfg.Log.MaxAgeDays)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.out", cfg.Log.Out)
	v.SetDefault("log.rotate", cfg.Log.Rotate)
	v.SetDefault("admin.addr", cfg.Admin.Addr)

	if path == "" {
		path = os.Getenv("DUPLEX_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	c.Server.Reliable.Kind = strings.ToLower(c.Server.Reliable.Kind)
	c.Server.Fast.Kind = strings.ToLower(c.Server.Fast.Kind)
	c.Client.Reliable.Kind = strings.ToLower(c.Client.Reliable.Kind)
	c.Client.Fast.Kind = strings.ToLower(c.Client.Fast.Kind)
	for _, t := range []TransportConfig{c.Server.Reliable, c.Client.Reliable} {
		if t.Kind != "tcp" && t.Kind != "ws" {
			return fmt.Errorf("invalid reliable transport: %q", t.Kind)
		}
	}
	for _, t := range []TransportConfig{c.Server.Fast, c.Client.Fast} {
		if t.Kind != "udp" && t.Kind != "none" && t.Kind != "" {
			return fmt.Errorf("invalid fast transport: %q", t.Kind)
		}
	}
	if c.Codec != "json" && c.Codec != "cbor" {
		return fmt.Errorf("invalid codec: %q", c.Codec)
	}
	return nil
}
