package config

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// ConfigError reports a value that was rejected and replaced by a default.
// It is a warning: loading continues.
type ConfigError struct {
	Key     string
	Value   string
	Default string
	Reason  string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: invalid %s=%q, using %q", e.Key, e.Value, e.Default)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }
