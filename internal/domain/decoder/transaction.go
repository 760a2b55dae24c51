package decoder

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/okian/safescore/internal/domain/abi"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/shopspring/decimal"
)

// DecodeTransaction classifies and decodes one raw transaction with no
// filters applied. Errors are *DecodeError.
func (d *Decoder) DecodeTransaction(ctx context.Context, raw model.RawTransaction, blockTime time.Time) (model.Transaction, error) {
	return d.decode(ctx, raw, blockTime, Filters{}.compile())
}

func (d *Decoder) decode(ctx context.Context, raw model.RawTransaction, blockTime time.Time, f compiledFilters) (model.Transaction, error) {
	to := ""
	if raw.To != nil {
		to = *raw.To
	}
	if !f.addresses(raw.From, to) {
		return model.Transaction{}, skip(ReasonAddressFilter)
	}

	input, err := abi.ParseHex(raw.Input)
	if err != nil {
		return model.Transaction{}, &DecodeError{TxHash: raw.Hash, Err: err}
	}
	value, err := parseQuantity(raw.Value)
	if err != nil {
		return model.Transaction{}, &DecodeError{TxHash: raw.Hash, Err: err}
	}

	tx := model.Transaction{
		TxID:      raw.Hash,
		Timestamp: blockTime,
		From:      raw.From,
		To:        to,
		Amount:    decimal.NewFromBigInt(value, -model.NativeDecimals),
		Token:     abi.Truncate(d.nativeSymbol, model.MaxSymbolLength),
		Method:    model.MethodCall,
		Chain:     d.chain,
	}

	if len(input) == 0 {
		if f.onlyERC20 {
			return model.Transaction{}, skip(ReasonNotERC20)
		}
		if tx.Amount.LessThan(f.minNative) {
			return model.Transaction{}, skip(ReasonBelowMinNative)
		}
		tx.Method = model.MethodTransfer
		return tx, nil
	}

	sel, ok := abi.SelectorOf(input)
	if !ok || !sel.IsERC20() {
		if f.onlyERC20 {
			return model.Transaction{}, skip(ReasonNotERC20)
		}
		return tx, nil
	}

	call, err := abi.DecodeAddressAmount(input)
	if err != nil {
		return model.Transaction{}, &DecodeError{TxHash: raw.Hash, Err: err}
	}
	if to == "" {
		return model.Transaction{}, &DecodeError{TxHash: raw.Hash, Err: ErrNoTarget}
	}

	meta := d.tokens.Resolve(ctx, to)
	tx.To = call.Address
	tx.Amount = decimal.NewFromBigInt(call.Amount, -int32(meta.Decimals))
	tx.Token = meta.Symbol
	tx.Method = model.MethodTransfer
	if sel == abi.SelectorApprove {
		tx.Method = model.MethodApprove
	}
	return tx, nil
}

// parseQuantity parses a node quantity. Empty values are zero.
func parseQuantity(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return new(big.Int), nil
	}
	v, err := hexutil.DecodeBig(s)
	if err == nil {
		return v, nil
	}
	// Some nodes pad quantities with leading zeros.
	if errors.Is(err, hexutil.ErrLeadingZero) {
		if v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16); ok {
			return v, nil
		}
	}
	return nil, err
}
