package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the runtime server configuration.
type Config struct {
	Host        string
	TCPPort     int
	WSPort      int           // 0 disables the WebSocket endpoint
	MetricsPort int           // 0 disables the metrics endpoint
	IdleTimeout time.Duration // 0 disables read deadlines
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		Host:        "",
		TCPPort:     8000,
		WSPort:      8001,
		MetricsPort: 9090,
		IdleTimeout: 0,
	}
}

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	Host        string `toml:"host"`
	TCPPort     int    `toml:"tcp_port"`
	WSPort      int    `toml:"ws_port"`
	MetricsPort int    `toml:"metrics_port"`
}

type LimitsSection struct {
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
}

// DefaultTOMLConfig returns the default file configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Host:        "",
			TCPPort:     8000,
			WSPort:      8001,
			MetricsPort: 9090,
		},
		Limits: LimitsSection{
			IdleTimeoutSeconds: 0,
		},
	}
}

// LoadConfig loads configuration from a TOML file, writing a default file
// if none exists yet.
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Could not write (permissions, read-only fs); defaults
			// still let the server run.
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Plaza Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToConfig converts the file configuration to the runtime configuration.
// Zero values fall back to defaults; WS and metrics ports may be set to -1
// in the file to disable the endpoint entirely.
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if c.Server.Host != "" {
		cfg.Host = c.Server.Host
	}
	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.WSPort != 0 {
		cfg.WSPort = c.Server.WSPort
	}
	if c.Server.WSPort < 0 {
		cfg.WSPort = 0
	}
	if c.Server.MetricsPort != 0 {
		cfg.MetricsPort = c.Server.MetricsPort
	}
	if c.Server.MetricsPort < 0 {
		cfg.MetricsPort = 0
	}
	if c.Limits.IdleTimeoutSeconds > 0 {
		cfg.IdleTimeout = time.Duration(c.Limits.IdleTimeoutSeconds) * time.Second
	}

	return cfg
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
