package config

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// LogConfig represents logging configuration.
type LogConfig struct {
	LogLevel  string
	LogAsJSON bool
	Output    io.Writer
}

// NewLogConfig returns the logging configuration for cfg.
func NewLogConfig(cfg *Config) *LogConfig {
	return &LogConfig{LogLevel: cfg.LogLevel, LogAsJSON: cfg.LogJSON, Output: os.Stderr}
}

// LoggerOpts override LogConfig for one logger.
type LoggerOpts struct {
	Name     string
	LogLevel string
}

// NewLogger returns a new configured logger.
func (c *LogConfig) NewLogger(opts LoggerOpts) hclog.Logger {
	level := c.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Warn
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      lvl,
		Output:     c.Output,
		Color:      hclog.AutoColor,
		JSONFormat: c.LogAsJSON,
	})
}
