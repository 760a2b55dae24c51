// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method classifies what a canonical transaction did.
type Method string

const (
	MethodTransfer Method = "TRANSFER"
	MethodApprove  Method = "APPROVE"
	MethodCall     Method = "CALL"

	// MethodSwap is only produced by the synthetic fallback source.
	MethodSwap Method = "SWAP"
)

// TimestampLayout renders timestamps as UTC ISO-8601 with an explicit offset.
const TimestampLayout = "2006-01-02T15:04:05+00:00"

// MaxSymbolLength caps token symbols.
const MaxSymbolLength = 12

// Transaction is the canonical, chain-agnostic record produced by the decoder.
// Amount is token-unit-adjusted and never negative.
type Transaction struct {
	TxID      string          `json:"tx_id"`
	Timestamp time.Time       `json:"timestamp"`
	From      string          `json:"from_address"`
	To        string          `json:"to_address"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
	Method    Method          `json:"method"`
	Chain     string          `json:"chain"`
}

// TimestampString formats the timestamp as UTC ISO-8601.
func (t Transaction) TimestampString() string {
	return t.Timestamp.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts RFC 3339 (with Z or an offset) and naive timestamps,
// which are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// TokenMetadata describes an ERC-20 contract. Address is the lowercase cache key.
type TokenMetadata struct {
	Address  string `json:"-"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ScoreResult is the explainable outcome of the rule engine.
type ScoreResult struct {
	Score         int                `json:"score"`
	Hits          map[string]int     `json:"hits"`
	Reasons       []string           `json:"reasons"`
	VelocityCount int                `json:"velocity_last_window"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
}

// Triggered reports whether the named rule fired.
func (r ScoreResult) Triggered(rule string) bool {
	_, ok := r.Hits[rule]
	return ok
}

// ScoredRecord flattens a transaction and its score for collaborators.
type ScoredRecord struct {
	Transaction
	ScoreResult
}

// FilterConfig captures the decoder filters applied during a run.
type FilterConfig struct {
	BlocksBack      int             `json:"blocks_back"`
	MaxTx           int             `json:"max_tx"`
	OnlyERC20       bool            `json:"only_erc20"`
	MinNativeAmount decimal.Decimal `json:"min_native_amount"`
	FromAllow       []string        `json:"from_allow,omitempty"`
	ToAllow         []string        `json:"to_allow,omitempty"`
}

// RunMetadata summarises one decoder invocation. It is finalized by the
// decoder and treated as read-only afterwards.
type RunMetadata struct {
	RunID         string       `json:"run_id"`
	Endpoint      string       `json:"endpoint"`
	ChainID       uint64       `json:"chain_id"`
	Chain         string       `json:"chain"`
	LatestBlock   uint64       `json:"latest_block"`
	FromBlock     uint64       `json:"from_block"`
	ToBlock       uint64       `json:"to_block"`
	BlocksScanned int          `json:"blocks_scanned"`
	BlocksSkipped int          `json:"blocks_skipped"`
	TxSkipped     int          `json:"tx_skipped"`
	Filters       FilterConfig `json:"filters"`
	Collected     int          `json:"collected"`
	Error         string       `json:"error,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
}

// Failed reports whether the decoder could not produce a result.
func (m RunMetadata) Failed() bool {
	return m.Error != ""
}

// NormalizeAddress lowercases and trims an address for set membership.
func NormalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// NormalizeSymbol uppercases and trims a token symbol or method name.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
