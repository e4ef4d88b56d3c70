// Package config provides settings, paths and logging for vm.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds the default locations vm reads and writes.
type Paths struct {
	// Home holds images, VM disks, keys and the journal.
	// All platforms: ~/.vm
	Home string

	// ConfigDir is an alternative location for config.yaml.
	// macOS: ~/Library/Application Support/vm
	// Linux: ~/.config/vm (or XDG_CONFIG_HOME)
	ConfigDir string

	// ConfigFile is the preferred config file.
	ConfigFile string
}

// GetPaths returns platform-aware paths.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return pathsUnder(home), nil
}

func pathsUnder(userHome string) *Paths {
	p := &Paths{Home: filepath.Join(userHome, ".vm")}

	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(userHome, "Library", "Application Support", "vm")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "vm")
		} else {
			p.ConfigDir = filepath.Join(userHome, ".config", "vm")
		}
	}

	p.ConfigFile = filepath.Join(p.Home, "config.yaml")
	return p
}

// BinDir is where helper files such as the SSH key pair live.
func BinDir(home string) string {
	return filepath.Join(home, "vmbin")
}

// EnsureDirectories creates the data directories of cfg.
func EnsureDirectories(cfg *Config) error {
	for _, dir := range []string{cfg.Home, cfg.ImageDir, BinDir(cfg.Home)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
