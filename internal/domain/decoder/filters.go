package decoder

import (
	"github.com/okian/safescore/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Filters are the cheap checks applied before a transaction is decoded.
type Filters struct {
	OnlyERC20       bool
	MinNativeAmount decimal.Decimal
	FromAllow       []string
	ToAllow         []string
}

// Config renders the filters for run metadata.
func (f Filters) Config(blocksBack, maxTx int) model.FilterConfig {
	return model.FilterConfig{
		BlocksBack:      blocksBack,
		MaxTx:           maxTx,
		OnlyERC20:       f.OnlyERC20,
		MinNativeAmount: f.MinNativeAmount,
		FromAllow:       f.FromAllow,
		ToAllow:         f.ToAllow,
	}
}

type addressSet map[string]struct{}

func newAddressSet(addrs []string) addressSet {
	set := make(addressSet, len(addrs))
	for _, a := range addrs {
		if a = model.NormalizeAddress(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return set
}

// allows reports membership; an empty set allows everything.
func (s addressSet) allows(addr string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[model.NormalizeAddress(addr)]
	return ok
}

type compiledFilters struct {
	onlyERC20 bool
	minNative decimal.Decimal
	from      addressSet
	to        addressSet
}

func (f Filters) compile() compiledFilters {
	return compiledFilters{
		onlyERC20: f.OnlyERC20,
		minNative: f.MinNativeAmount,
		from:      newAddressSet(f.FromAllow),
		to:        newAddressSet(f.ToAllow),
	}
}

// addresses checks the allow-lists against the node's from and to. When
// both lists are set a transaction must match both.
func (c compiledFilters) addresses(from, to string) bool {
	return c.from.allows(from) && c.to.allows(to)
}
