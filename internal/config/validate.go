package config

import (
	"fmt"
	"os/exec"
	"strings"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

// ValidateConfig checks cfg for values vm cannot work with.
func ValidateConfig(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Frontend != "headless" && cfg.Frontend != "gui" {
		errs = append(errs, ValidationError{
			Field:   "frontend",
			Message: fmt.Sprintf("unknown frontend %q (want headless or gui)", cfg.Frontend),
			Fatal:   true,
		})
	}

	if cfg.SSHPort < 1 || cfg.SSHPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "ssh_port",
			Message: fmt.Sprintf("port %d out of range", cfg.SSHPort),
			Fatal:   true,
		})
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "off":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("unknown level %q, using warn", cfg.LogLevel),
		})
	}

	t := cfg.Timeouts
	for _, d := range []struct {
		name string
		ok   bool
	}{
		{"timeouts.poll", t.Poll > 0},
		{"timeouts.graceful", t.Graceful > 0},
		{"timeouts.api", t.API > 0},
		{"timeouts.launch", t.Launch > 0},
		{"timeouts.lock_grace", t.LockGrace >= 0},
		{"timeouts.reach", t.Reach > 0},
		{"timeouts.segment", t.Segment > 0},
	} {
		if !d.ok {
			errs = append(errs, ValidationError{Field: d.name, Message: "must be positive", Fatal: true})
		}
	}

	if _, err := exec.LookPath(cfg.VBoxManage); err != nil {
		errs = append(errs, ValidationError{
			Field:   "vboxmanage",
			Message: fmt.Sprintf("%s not found in PATH", cfg.VBoxManage),
		})
	}

	return errs
}

// HasFatal reports whether any issue prevents vm from running.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errs {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
