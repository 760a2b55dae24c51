package decoder

import (
	"errors"
	"fmt"
)

// Sentinel kinds for decoder errors.
var (
	ErrBlockFetch = errors.New("block fetch failed")
	ErrNoTarget   = errors.New("token call without a contract target")
)

// Skip reasons reported for dropped transactions.
const (
	ReasonAddressFilter  = "address_filter"
	ReasonBelowMinNative = "below_min_native"
	ReasonNotERC20       = "not_erc20"
	ReasonDecodeError    = "decode_error"
)

// DecodeError is a single malformed transaction. It is logged and the
// transaction skipped; it never stops a scan.
type DecodeError struct {
	TxHash string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode tx %s: %v", e.TxHash, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SkipError marks a transaction dropped by a filter.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func skip(reason string) error { return &SkipError{Reason: reason} }

// skipReason maps a per-transaction error to its metrics reason.
func skipReason(err error) string {
	var s *SkipError
	if errors.As(err, &s) {
		return s.Reason
	}
	return ReasonDecodeError
}
