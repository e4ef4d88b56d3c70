package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all vm settings.
type Config struct {
	// Home is the data directory.
	Home string `mapstructure:"home"`

	// ImageDir is where OVA images are looked up. Defaults to Home.
	ImageDir string `mapstructure:"image_dir"`

	// VBoxManage is the VirtualBox CLI binary.
	VBoxManage string `mapstructure:"vboxmanage"`

	// Frontend is the default VM frontend: headless or gui.
	Frontend string `mapstructure:"frontend"`

	// SSHUser, SSHPort and SSHKeyPath configure guest logins.
	SSHUser    string `mapstructure:"ssh_user"`
	SSHPort    int    `mapstructure:"ssh_port"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	// JournalPath is the SQLite reconciliation journal.
	JournalPath string `mapstructure:"journal_path"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	Timeouts Timeouts `mapstructure:"timeouts"`
}

// Timeouts bound the waits made by vm.
type Timeouts struct {
	Poll      time.Duration `mapstructure:"poll"`
	Graceful  time.Duration `mapstructure:"graceful"`
	API       time.Duration `mapstructure:"api"`
	Launch    time.Duration `mapstructure:"launch"`
	LockGrace time.Duration `mapstructure:"lock_grace"`
	Reach     time.Duration `mapstructure:"reach"`
	Segment   time.Duration `mapstructure:"segment"`
}

// DefaultConfig returns a Config with the standard settings under paths.
func DefaultConfig(paths *Paths) *Config {
	return &Config{
		Home:       paths.Home,
		VBoxManage: "VBoxManage",
		Frontend:   "headless",
		SSHUser:    "root",
		SSHPort:    22,
		LogLevel:   "warn",
		Timeouts: Timeouts{
			Poll:      100 * time.Millisecond,
			Graceful:  3 * time.Second,
			API:       3 * time.Second,
			Launch:    5 * time.Second,
			LockGrace: 5 * time.Second,
			Reach:     120 * time.Second,
			Segment:   30 * time.Second,
		},
	}
}

// Load reads configuration from defaults, an optional config.yaml and
// VM_* environment variables.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("determine paths: %w", err)
	}
	return LoadWith(viper.New(), paths)
}

// LoadWith loads configuration using v, which may already carry explicit
// settings such as bound flags.
func LoadWith(v *viper.Viper, paths *Paths) (*Config, error) {
	defaults := DefaultConfig(paths)
	v.SetDefault("home", defaults.Home)
	v.SetDefault("image_dir", "")
	v.SetDefault("vboxmanage", defaults.VBoxManage)
	v.SetDefault("frontend", defaults.Frontend)
	v.SetDefault("ssh_user", defaults.SSHUser)
	v.SetDefault("ssh_port", defaults.SSHPort)
	v.SetDefault("ssh_key_path", "")
	v.SetDefault("journal_path", "")
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_json", defaults.LogJSON)
	v.SetDefault("timeouts.poll", defaults.Timeouts.Poll)
	v.SetDefault("timeouts.graceful", defaults.Timeouts.Graceful)
	v.SetDefault("timeouts.api", defaults.Timeouts.API)
	v.SetDefault("timeouts.launch", defaults.Timeouts.Launch)
	v.SetDefault("timeouts.lock_grace", defaults.Timeouts.LockGrace)
	v.SetDefault("timeouts.reach", defaults.Timeouts.Reach)
	v.SetDefault("timeouts.segment", defaults.Timeouts.Segment)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(paths.Home)
	v.AddConfigPath(paths.ConfigDir)

	// VM_HOME, VM_SSH_USER, VM_TIMEOUTS_GRACEFUL, ...
	v.SetEnvPrefix("VM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Paths derived from Home follow it unless set explicitly.
	if cfg.ImageDir == "" {
		cfg.ImageDir = cfg.Home
	}
	if cfg.SSHKeyPath == "" {
		cfg.SSHKeyPath = filepath.Join(BinDir(cfg.Home), "vmkey")
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.Home, "journal.db")
	}
	return cfg, nil
}
