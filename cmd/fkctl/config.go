package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// defaultServerURL matches the daemon's default listen port.
const defaultServerURL = "http://localhost:8400"

// clientConfig is the optional ~/.config/finderskeepers/config.toml.
type clientConfig struct {
	Server  string `toml:"server"`
	Project string `toml:"project"`
}

// loadClientConfig reads the config file. A missing file is not an error;
// an unreadable or invalid one is.
func loadClientConfig() (clientConfig, error) {
	var cfg clientConfig
	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil
	}
	path := filepath.Join(home, ".config", "finderskeepers", "config.toml")
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return clientConfig{}, nil
		}
		return clientConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}

// resolveClientConfig fills the unset persistent flags from the config
// file, then applies defaults. Flags win over the file.
func resolveClientConfig() error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	applyClientConfig(cfg)
	return nil
}

func applyClientConfig(cfg clientConfig) {
	if serverURL == "" {
		serverURL = cfg.Server
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	serverURL = strings.TrimRight(serverURL, "/")
	if project == "" {
		project = cfg.Project
	}
}
