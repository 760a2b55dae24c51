package model

import "github.com/ethereum/go-ethereum/common/hexutil"

// NativeDecimals is the fixed precision of the chain's native currency.
const NativeDecimals = 18

// RawBlock is a block as returned by a node with full transaction objects.
type RawBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         string           `json:"hash"`
	Timestamp    hexutil.Uint64   `json:"timestamp"`
	Transactions []RawTransaction `json:"transactions"`
}

// RawTransaction keeps node fields as strings so a single malformed
// transaction does not fail the whole block. To is nil for contract creation.
type RawTransaction struct {
	Hash  string  `json:"hash"`
	From  string  `json:"from"`
	To    *string `json:"to"`
	Value string  `json:"value"`
	Input string  `json:"input"`
}
