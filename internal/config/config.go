// Package config defines the run configuration and how it is loaded.
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Defaults.
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultChainName         = "ETH"
	DefaultNativeSymbol      = "ETH"
	DefaultRPCTimeoutMS      = 15_000
	DefaultRPCMaxAttempts    = 3
	DefaultRPCBackoffMS      = 600
	DefaultBlocksBack        = 20
	DefaultMaxTx             = 50
	DefaultMinNativeAmount   = "0"
	DefaultFetchConcurrency  = 1
	DefaultAmountThreshold   = "10000"
	DefaultVelocityWindowMin = 10
	DefaultVelocityTrigger   = 5
	DefaultAlertThreshold    = 50
	DefaultDataDir           = "data"
	DefaultTokenCacheFile    = "token_cache.json"
	DefaultKafkaTopic        = "safescore.scored"
	DefaultNATSSubject       = "safescore.alerts"
	DefaultMockCount         = 50
	DefaultHistoryFiles      = 7
	DefaultHistoryHours      = 24
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	ChainName    string `koanf:"chain_name"`
	NativeSymbol string `koanf:"native_symbol"`

	// RPCURLs are tried in order for every call.
	RPCURLs        []string `koanf:"rpc_urls"`
	RPCTimeoutMS   int      `koanf:"rpc_timeout_ms"`
	RPCMaxAttempts int      `koanf:"rpc_max_attempts"`
	RPCBackoffMS   int      `koanf:"rpc_backoff_ms"`

	BlocksBack       int      `koanf:"blocks_back"`
	MaxTx            int      `koanf:"max_tx"`
	OnlyERC20        bool     `koanf:"only_erc20"`
	MinNativeAmount  string   `koanf:"min_native_amount"`
	FromAllow        []string `koanf:"from_allow"`
	ToAllow          []string `koanf:"to_allow"`
	FetchConcurrency int      `koanf:"fetch_concurrency"`

	AmountThreshold      string `koanf:"amount_threshold"`
	VelocityWindowMin    int    `koanf:"velocity_window_min"`
	VelocityTriggerCount int    `koanf:"velocity_trigger_count"`
	// Weights override entries of the default rule weight table.
	Weights map[string]int `koanf:"weights"`

	DataDir        string `koanf:"data_dir"`
	TokenCacheFile string `koanf:"token_cache_file"`
	// HistoryFiles caps how many CSV outputs are read as history.
	HistoryFiles int `koanf:"history_files"`
	// HistoryHours bounds history read from Postgres.
	HistoryHours int `koanf:"history_hours"`

	AlertThreshold   int    `koanf:"alert_threshold"`
	TelegramBotToken string `koanf:"telegram_bot_token"`
	TelegramChatID   string `koanf:"telegram_chat_id"`
	NATSURL          string `koanf:"nats_url"`
	NATSSubject      string `koanf:"nats_subject"`

	DatabaseURL  string   `koanf:"database_url"`
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	// MetricsFile is a node-exporter textfile path. Empty disables export.
	MetricsFile string `koanf:"metrics_file"`

	FallbackMock bool `koanf:"fallback_mock"`
	MockCount    int  `koanf:"mock_count"`

	// Warnings lists values replaced by defaults during loading.
	Warnings []*ConfigError `koanf:"-"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
		ChainName:            DefaultChainName,
		NativeSymbol:         DefaultNativeSymbol,
		RPCTimeoutMS:         DefaultRPCTimeoutMS,
		RPCMaxAttempts:       DefaultRPCMaxAttempts,
		RPCBackoffMS:         DefaultRPCBackoffMS,
		BlocksBack:           DefaultBlocksBack,
		MaxTx:                DefaultMaxTx,
		MinNativeAmount:      DefaultMinNativeAmount,
		FetchConcurrency:     DefaultFetchConcurrency,
		AmountThreshold:      DefaultAmountThreshold,
		VelocityWindowMin:    DefaultVelocityWindowMin,
		VelocityTriggerCount: DefaultVelocityTrigger,
		Weights:              map[string]int{},
		DataDir:              DefaultDataDir,
		TokenCacheFile:       DefaultTokenCacheFile,
		HistoryFiles:         DefaultHistoryFiles,
		HistoryHours:         DefaultHistoryHours,
		AlertThreshold:       DefaultAlertThreshold,
		NATSSubject:          DefaultNATSSubject,
		KafkaTopic:           DefaultKafkaTopic,
		FallbackMock:         true,
		MockCount:            DefaultMockCount,
	}
}

// RPCTimeout is the per-request HTTP budget.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMS) * time.Millisecond
}

// RPCBackoff is the base retry delay.
func (c *Config) RPCBackoff() time.Duration {
	return time.Duration(c.RPCBackoffMS) * time.Millisecond
}

// VelocityWindow is the trailing velocity interval.
func (c *Config) VelocityWindow() time.Duration {
	return time.Duration(c.VelocityWindowMin) * time.Minute
}

// HistoryWindow is how far back Postgres history is read.
func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.HistoryHours) * time.Hour
}

// MinNative returns the parsed native floor. Call after Normalize.
func (c *Config) MinNative() decimal.Decimal {
	return decimalOr(c.MinNativeAmount, decimal.Zero)
}

// AmountThresholdValue returns the parsed high_amount threshold.
func (c *Config) AmountThresholdValue() decimal.Decimal {
	return decimalOr(c.AmountThreshold, decimal.RequireFromString(DefaultAmountThreshold))
}

func decimalOr(s string, def decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}
