package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Environment variables read directly.
const (
	EnvPrefix  = "SAFESCORE_"
	EnvConfig  = "SAFESCORE_CONFIG"
	EnvDotFile = "SAFESCORE_ENV_FILE"
)

var (
	listKeys    = []string{"rpc_urls", "from_allow", "to_allow", "kafka_brokers"}
	intKeys     = []string{"rpc_timeout_ms", "rpc_max_attempts", "rpc_backoff_ms", "blocks_back", "max_tx", "fetch_concurrency", "velocity_window_min", "velocity_trigger_count", "alert_threshold", "mock_count", "history_files", "history_hours"}
	boolKeys    = []string{"only_erc20", "fallback_mock"}
	decimalKeys = []string{"min_native_amount", "amount_threshold"}
)

// Load builds a Config by layering defaults, an optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. .env file, which only fills unset env vars
//  3. file (YAML) if SAFESCORE_CONFIG is set
//  4. env (prefix SAFESCORE_)
//
// Values that fail to parse or are out of range are replaced by defaults and
// reported in Config.Warnings. Only an unreadable file is an error.
func Load(_ context.Context) (*Config, error) {
	dotenv := os.Getenv(EnvDotFile)
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, dotenv, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(EnvConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// SAFESCORE_WEIGHTS takes name=value pairs and is applied before the
	// per-rule SAFESCORE_WEIGHTS_<RULE> variables.
	for name, value := range parsePairs(os.Getenv(EnvPrefix + "WEIGHTS")) {
		_ = k.Set("weights."+name, value)
	}

	// SAFESCORE_MAX_TX -> max_tx, SAFESCORE_WEIGHTS_VELOCITY -> weights.velocity.
	// List keys are comma separated.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(EnvPrefix))
		switch {
		case key == "config" || key == "env_file" || key == "weights":
			return "", nil
		case strings.HasPrefix(key, "weights_"):
			return "weights." + strings.TrimPrefix(key, "weights_"), value
		case contains(listKeys, key):
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	defaults := New()
	warnings := sanitize(k, defaults)

	cfg := *defaults
	cfg.Weights = map[string]int{}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	cfg.Warnings = append(warnings, Normalize(&cfg)...)
	return &cfg, nil
}

// sanitize deletes values that would fail to decode, so the defaults apply.
func sanitize(k *koanf.Koanf, def *Config) []*ConfigError {
	var warns []*ConfigError
	reject := func(key string, v any, dflt, reason string) {
		warns = append(warns, &ConfigError{Key: key, Value: fmt.Sprint(v), Default: dflt, Reason: reason})
		k.Delete(key)
	}

	defaults := map[string]string{
		"rpc_timeout_ms":         strconv.Itoa(def.RPCTimeoutMS),
		"rpc_max_attempts":       strconv.Itoa(def.RPCMaxAttempts),
		"rpc_backoff_ms":         strconv.Itoa(def.RPCBackoffMS),
		"blocks_back":            strconv.Itoa(def.BlocksBack),
		"max_tx":                 strconv.Itoa(def.MaxTx),
		"fetch_concurrency":      strconv.Itoa(def.FetchConcurrency),
		"velocity_window_min":    strconv.Itoa(def.VelocityWindowMin),
		"velocity_trigger_count": strconv.Itoa(def.VelocityTriggerCount),
		"alert_threshold":        strconv.Itoa(def.AlertThreshold),
		"mock_count":             strconv.Itoa(def.MockCount),
		"history_files":          strconv.Itoa(def.HistoryFiles),
		"history_hours":          strconv.Itoa(def.HistoryHours),
		"only_erc20":             strconv.FormatBool(def.OnlyERC20),
		"fallback_mock":          strconv.FormatBool(def.FallbackMock),
		"min_native_amount":      def.MinNativeAmount,
		"amount_threshold":       def.AmountThreshold,
	}

	ints := func(key, dflt string) {
		v := k.Get(key)
		if v == nil {
			return
		}
		if n, ok := toInt(v); ok {
			_ = k.Set(key, n)
			return
		}
		reject(key, v, dflt, "not an integer")
	}
	for _, key := range intKeys {
		ints(key, defaults[key])
	}
	for _, name := range k.MapKeys("weights") {
		ints("weights."+name, "default weight")
	}
	for _, key := range boolKeys {
		v := k.Get(key)
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				reject(key, v, defaults[key], "not a boolean")
				continue
			}
			_ = k.Set(key, b)
		}
	}
	for _, key := range decimalKeys {
		if v := k.Get(key); v != nil {
			d, err := decimal.NewFromString(strings.TrimSpace(fmt.Sprint(v)))
			if err != nil {
				reject(key, v, defaults[key], "not a number")
				continue
			}
			_ = k.Set(key, d.String())
		}
	}
	return warns
}

// Normalize replaces out-of-range values with defaults and returns one
// warning per replacement.
func Normalize(c *Config) []*ConfigError {
	def := New()
	var warns []*ConfigError
	atLeast := func(key string, v *int, lo, dflt int) {
		if *v < lo {
			warns = append(warns, &ConfigError{Key: key, Value: strconv.Itoa(*v), Default: strconv.Itoa(dflt), Reason: fmt.Sprintf("must be >= %d", lo)})
			*v = dflt
		}
	}
	atLeast("rpc_timeout_ms", &c.RPCTimeoutMS, 1, def.RPCTimeoutMS)
	atLeast("rpc_max_attempts", &c.RPCMaxAttempts, 1, def.RPCMaxAttempts)
	atLeast("rpc_backoff_ms", &c.RPCBackoffMS, 1, def.RPCBackoffMS)
	atLeast("blocks_back", &c.BlocksBack, 1, def.BlocksBack)
	atLeast("max_tx", &c.MaxTx, 1, def.MaxTx)
	atLeast("fetch_concurrency", &c.FetchConcurrency, 1, def.FetchConcurrency)
	atLeast("velocity_window_min", &c.VelocityWindowMin, 1, def.VelocityWindowMin)
	atLeast("velocity_trigger_count", &c.VelocityTriggerCount, 1, def.VelocityTriggerCount)
	atLeast("mock_count", &c.MockCount, 1, def.MockCount)
	atLeast("history_files", &c.HistoryFiles, 0, def.HistoryFiles)
	atLeast("history_hours", &c.HistoryHours, 1, def.HistoryHours)
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		warns = append(warns, &ConfigError{Key: "alert_threshold", Value: strconv.Itoa(c.AlertThreshold), Default: strconv.Itoa(def.AlertThreshold), Reason: "must be within 0..100"})
		c.AlertThreshold = def.AlertThreshold
	}

	nonNegative := func(key string, v *string, dflt string) {
		*v = strings.TrimSpace(*v)
		d, err := decimal.NewFromString(*v)
		if err != nil || d.IsNegative() {
			warns = append(warns, &ConfigError{Key: key, Value: *v, Default: dflt, Reason: "must be a non-negative number"})
			*v = dflt
		}
	}
	nonNegative("min_native_amount", &c.MinNativeAmount, def.MinNativeAmount)

	c.AmountThreshold = strings.TrimSpace(c.AmountThreshold)
	if d, err := decimal.NewFromString(c.AmountThreshold); err != nil || !d.IsPositive() {
		warns = append(warns, &ConfigError{Key: "amount_threshold", Value: c.AmountThreshold, Default: def.AmountThreshold, Reason: "must be a positive number"})
		c.AmountThreshold = def.AmountThreshold
	}

	for name, w := range c.Weights {
		if w < 0 {
			warns = append(warns, &ConfigError{Key: "weights." + name, Value: strconv.Itoa(w), Default: "default weight", Reason: "must be >= 0"})
			delete(c.Weights, name)
		}
	}

	orDefault := func(v *string, dflt string) {
		if *v = strings.TrimSpace(*v); *v == "" {
			*v = dflt
		}
	}
	orDefault(&c.ChainName, def.ChainName)
	orDefault(&c.NativeSymbol, def.NativeSymbol)
	orDefault(&c.LogLevel, def.LogLevel)
	orDefault(&c.NATSSubject, def.NATSSubject)
	orDefault(&c.KafkaTopic, def.KafkaTopic)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat != "text" && c.LogFormat != "json" {
		warns = append(warns, &ConfigError{Key: "log_format", Value: c.LogFormat, Default: def.LogFormat, Reason: "must be text or json"})
		c.LogFormat = def.LogFormat
	}

	c.RPCURLs = compact(c.RPCURLs)
	c.FromAllow = compact(c.FromAllow)
	c.ToAllow = compact(c.ToAllow)
	c.KafkaBrokers = compact(c.KafkaBrokers)
	return warns
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), t <= math.MaxInt
	case float64:
		return int(t), t == math.Trunc(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func splitList(s string) []string {
	return compact(strings.Split(s, ","))
}

func parsePairs(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if name = strings.TrimSpace(name); ok && name != "" {
			out[name] = strings.TrimSpace(value)
		}
	}
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
