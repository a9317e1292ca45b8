package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig `yaml:"server"`
	LogLevel string       `yaml:"log_level"`
}

type ServerConfig struct {
	UDP UDPConfig `yaml:"udp"`
	// HeartbeatInterval drives transport flushing and report pacing. It
	// must stay under the 60s report interval or reports arrive late.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// ReadChunkBytes sizes the control-plane input reads.
	ReadChunkBytes int `yaml:"read_chunk_bytes"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
	Key    uint32 `yaml:"key"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.UDP.Enable {
		if cfg.Server.UDP.Dest == "" {
			return Config{}, fmt.Errorf("server.udp.dest is required when server.udp.enable is true")
		}
		if cfg.Server.UDP.Key == 0 {
			return Config{}, fmt.Errorf("server.udp.key is required when server.udp.enable is true")
		}
	}

	if cfg.Server.HeartbeatInterval <= 0 {
		cfg.Server.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Server.HeartbeatInterval >= 60*time.Second {
		return Config{}, fmt.Errorf("server.heartbeat_interval must be under 60s")
	}

	if cfg.Server.ReadChunkBytes <= 0 {
		cfg.Server.ReadChunkBytes = 16 * 1024
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}
