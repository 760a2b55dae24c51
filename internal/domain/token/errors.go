package token

import "fmt"

// Metadata fields that can fall back to defaults.
const (
	FieldSymbol   = "symbol"
	FieldDecimals = "decimals"
)

// MetadataError describes a metadata call that failed or returned an unusable
// value. It never leaves Resolve; the field is replaced by its default.
type MetadataError struct {
	Address string
	Field   string
	Err     error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("token %s %s: %v", e.Address, e.Field, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }
