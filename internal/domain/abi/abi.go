// Package abi decodes the handful of fixed-layout ERC-20 payloads the
// pipeline needs. It is not a general ABI decoder.
package abi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// WordSize is the width of one ABI slot.
const WordSize = 32

// Selector is the first four bytes of call data.
type Selector [4]byte

// Well-known ERC-20 selectors.
var (
	SelectorTransfer = Selector{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	SelectorApprove  = Selector{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
	SelectorSymbol   = Selector{0x95, 0xd8, 0x9b, 0x41} // symbol()
	SelectorDecimals = Selector{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

// Sentinel kinds for malformed payloads.
var (
	ErrShortCallData = errors.New("call data too short")
	ErrEmptyPayload  = errors.New("empty payload")
	ErrBadHex        = errors.New("malformed hex")
	ErrBadString     = errors.New("dynamic string out of bounds")
)

// Hex renders the selector as 0x-prefixed lowercase hex.
func (s Selector) Hex() string {
	return hexutil.Encode(s[:])
}

// Bytes returns the selector as call data with no arguments.
func (s Selector) Bytes() []byte {
	out := make([]byte, len(s))
	copy(out, s[:])
	return out
}

// IsERC20 reports whether s is one of the decoded ERC-20 calls.
func (s Selector) IsERC20() bool {
	return s == SelectorTransfer || s == SelectorApprove
}

// ParseHex decodes a hex string as returned by a node. Both "" and "0x"
// decode to an empty slice; a missing prefix is tolerated.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHex, err)
	}
	return b, nil
}

// SelectorOf returns the selector of call data.
func SelectorOf(data []byte) (Selector, bool) {
	var s Selector
	if len(data) < len(s) {
		return s, false
	}
	copy(s[:], data[:len(s)])
	return s, true
}

// AddressAmountCall is the shared shape of transfer and approve.
type AddressAmountCall struct {
	Selector Selector
	Address  string // 0x-prefixed, lowercase
	Amount   *big.Int
}

// DecodeAddressAmount decodes selector + (address, uint256) call data.
func DecodeAddressAmount(data []byte) (AddressAmountCall, error) {
	sel, ok := SelectorOf(data)
	if !ok {
		return AddressAmountCall{}, ErrShortCallData
	}
	args := data[len(sel):]
	if len(args) < 2*WordSize {
		return AddressAmountCall{}, fmt.Errorf("%w: want %d argument bytes, got %d", ErrShortCallData, 2*WordSize, len(args))
	}
	return AddressAmountCall{
		Selector: sel,
		Address:  WordToAddress(args[:WordSize]),
		Amount:   new(big.Int).SetBytes(args[WordSize : 2*WordSize]),
	}, nil
}

// WordToAddress returns the low 20 bytes of a 32-byte word as a lowercase address.
func WordToAddress(word []byte) string {
	if len(word) > 20 {
		word = word[len(word)-20:]
	}
	return hexutil.Encode(word)
}

// DecodeUint interprets the trailing 32-byte word of a return payload as an
// unsigned integer. Payloads shorter than a word are read whole.
func DecodeUint(ret []byte) (*big.Int, error) {
	if len(ret) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(ret) > WordSize {
		ret = ret[len(ret)-WordSize:]
	}
	return new(big.Int).SetBytes(ret), nil
}

// DecodeString decodes a symbol()-style return value. A payload of at least
// three words must be a dynamic string (offset, length, data) that fits;
// shorter payloads are read as a null-padded fixed string. Invalid UTF-8,
// NUL and other control characters are dropped.
func DecodeString(ret []byte) (string, error) {
	if len(ret) == 0 {
		return "", ErrEmptyPayload
	}
	if len(ret) < 3*WordSize {
		return clean(ret), nil
	}
	s, ok := decodeDynamicString(ret)
	if !ok {
		return "", ErrBadString
	}
	return clean(s), nil
}

func decodeDynamicString(ret []byte) ([]byte, bool) {
	offset, ok := smallInt(ret[:WordSize], len(ret))
	if !ok || offset+WordSize > len(ret) {
		return nil, false
	}
	length, ok := smallInt(ret[offset:offset+WordSize], len(ret))
	if !ok {
		return nil, false
	}
	start := offset + WordSize
	if start+length > len(ret) {
		return nil, false
	}
	return ret[start : start+length], true
}

// smallInt reads a word as an int bounded by limit.
func smallInt(word []byte, limit int) (int, bool) {
	v := new(big.Int).SetBytes(word)
	if !v.IsInt64() || v.Int64() > int64(limit) {
		return 0, false
	}
	return int(v.Int64()), true
}

func clean(b []byte) string {
	s := strings.ToValidUTF8(string(b), "")
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
