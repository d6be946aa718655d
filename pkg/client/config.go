package client

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the connection parameters the UI layer hands to Connect.
type Config struct {
	ServerAddr string `toml:"server_addr"`
	LocalIP    string `toml:"local_ip"`
	LocalPort  int    `toml:"local_port"`
	Username   string `toml:"username"`
}

// LoadConfig reads a client config file. The file is optional: a missing
// file yields a zero config for the caller to fill from flags or prompts.
func LoadConfig(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{}, nil
	}

	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse client config: %w", err)
	}
	return config, nil
}

// Validate checks that the config is complete enough to connect.
func (c Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if _, _, err := net.SplitHostPort(c.ServerAddr); err != nil {
		return fmt.Errorf("invalid server address %q: %w", c.ServerAddr, err)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.LocalIP == "" {
		return fmt.Errorf("local ip is required")
	}
	if c.LocalPort <= 0 || c.LocalPort > 65535 {
		return fmt.Errorf("local port %d out of range", c.LocalPort)
	}
	return nil
}
