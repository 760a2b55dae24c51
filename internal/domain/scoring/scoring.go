// Package scoring is the rule engine. A transaction starts at 100 and each
// triggered rule subtracts its weight; the result carries the triggered rules
// and a reason per rule in evaluation order.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/safescore/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Score bounds and rule defaults.
const (
	MaxScore = 100
	MinScore = 0

	DefaultVelocityWindow  = 10 * time.Minute
	DefaultVelocityTrigger = 5
	unusualHourCutoff      = 6
)

// DefaultAmountThreshold is the default high_amount threshold.
var DefaultAmountThreshold = decimal.NewFromInt(10_000)

type set map[string]struct{}

func (s set) addAddresses(values []string) {
	for _, v := range values {
		if v = model.NormalizeAddress(v); v != "" {
			s[v] = struct{}{}
		}
	}
}

func (s set) addSymbols(values []string) {
	for _, v := range values {
		if v = model.NormalizeSymbol(v); v != "" {
			s[v] = struct{}{}
		}
	}
}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

type prior struct {
	id string
	at time.Time
}

// Context is the static configuration of a scoring run. It is built once,
// never mutated afterwards, and safe for concurrent reads.
type Context struct {
	blacklist        set
	watchlist        set
	known            set
	sensitiveTokens  set
	sensitiveMethods set
	weights          Weights
	amountThreshold  decimal.Decimal
	velocityWindow   time.Duration
	velocityTrigger  int
	history          map[string][]prior
}

// NewContext builds a rule context. Addresses are lowercased and symbols
// uppercased on the way in.
func NewContext(opts ...Option) *Context {
	c := &Context{
		blacklist:        set{},
		watchlist:        set{},
		known:            set{},
		sensitiveTokens:  set{},
		sensitiveMethods: set{},
		weights:          DefaultWeights(),
		amountThreshold:  DefaultAmountThreshold,
		velocityWindow:   DefaultVelocityWindow,
		velocityTrigger:  DefaultVelocityTrigger,
		history:          map[string][]prior{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Weights returns a copy of the effective weight table.
func (c *Context) Weights() Weights {
	return c.weights.Merge(nil)
}

// VelocityWindow returns the trailing window of the velocity rule.
func (c *Context) VelocityWindow() time.Duration {
	return c.velocityWindow
}

// rule is one entry of the evaluation table. eval reports whether the rule
// triggered and why.
type rule struct {
	name string
	eval func(c *Context, tx model.Transaction, res *model.ScoreResult) (string, bool)
}

// rules is evaluated in order; the order fixes the order of reasons.
var rules = []rule{
	{RuleBlacklist, func(c *Context, tx model.Transaction, _ *model.ScoreResult) (string, bool) {
		return "Address in blacklist", c.blacklist.has(model.NormalizeAddress(tx.From)) || c.blacklist.has(model.NormalizeAddress(tx.To))
	}},
	{RuleWatchlist, func(c *Context, tx model.Transaction, _ *model.ScoreResult) (string, bool) {
		return "Address in watchlist", c.watchlist.has(model.NormalizeAddress(tx.From)) || c.watchlist.has(model.NormalizeAddress(tx.To))
	}},
	{RuleHighAmount, func(c *Context, tx model.Transaction, _ *model.ScoreResult) (string, bool) {
		return fmt.Sprintf("High amount (>= %s)", c.amountThreshold), tx.Amount.GreaterThanOrEqual(c.amountThreshold)
	}},
	{RuleUnusualHour, func(_ *Context, tx model.Transaction, _ *model.ScoreResult) (string, bool) {
		return "Unusual hour (early morning)", tx.Timestamp.UTC().Hour() < unusualHourCutoff
	}},
	{RuleNewAddress, func(c *Context, tx model.Transaction, _ *model.ScoreResult) (string, bool) {
		from := model.NormalizeAddress(tx.From)
		return "New sender address", from != "" && !c.known.has(from)
	}},
	{RuleVelocity, func(c *Context, tx model.Transaction, res *model.ScoreResult) (string, bool) {
		res.VelocityCount = c.velocity(tx)
		return fmt.Sprintf("Abnormal velocity (%d tx in %d min)", res.VelocityCount, int(c.velocityWindow.Minutes())),
			res.VelocityCount >= c.velocityTrigger
	}},
	{RuleSensitiveToken, func(c *Context, tx model.Transaction, _ *model.ScoreResult) (string, bool) {
		token := model.NormalizeSymbol(tx.Token)
		return fmt.Sprintf("Sensitive token (%s)", token), token != "" && c.sensitiveTokens.has(token)
	}},
	{RuleSensitiveMethod, func(c *Context, tx model.Transaction, _ *model.ScoreResult) (string, bool) {
		method := model.NormalizeSymbol(string(tx.Method))
		return fmt.Sprintf("Sensitive method (%s)", method), method != "" && c.sensitiveMethods.has(method)
	}},
}

// RuleNames returns the rule names in evaluation order.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// velocity counts prior transactions from the same sender with a timestamp
// in [tx.Timestamp-window, tx.Timestamp]. The window is anchored on the
// transaction, not the wall clock. A prior entry with the same id as tx is
// the transaction itself and is not counted.
func (c *Context) velocity(tx model.Transaction) int {
	end := tx.Timestamp
	start := end.Add(-c.velocityWindow)
	count := 0
	for _, p := range c.history[model.NormalizeAddress(tx.From)] {
		if p.id != "" && p.id == tx.TxID {
			continue
		}
		if !p.at.Before(start) && !p.at.After(end) {
			count++
		}
	}
	return count
}

// Score evaluates every enabled rule against tx. It is deterministic given
// tx and c. Rules with a zero weight are not evaluated.
func Score(tx model.Transaction, c *Context) model.ScoreResult {
	res := model.ScoreResult{
		Score:   MaxScore,
		Hits:    map[string]int{},
		Reasons: []string{},
	}

	penalty := 0
	for _, r := range rules {
		w := c.weights[r.name]
		if w == 0 {
			continue
		}
		reason, hit := r.eval(c, tx, &res)
		if !hit {
			continue
		}
		res.Hits[r.name] = w
		res.Reasons = append(res.Reasons, reason)
		penalty += w
	}

	res.Score = clamp(MaxScore - penalty)
	res.Contributions = Contributions(res.Hits)
	return res
}

// ScoreAll scores a batch. Transactions in the batch do not count towards
// each other's velocity.
func ScoreAll(txs []model.Transaction, c *Context) []model.ScoredRecord {
	out := make([]model.ScoredRecord, len(txs))
	for i, tx := range txs {
		out[i] = model.ScoredRecord{Transaction: tx, ScoreResult: Score(tx, c)}
	}
	return out
}

// Contributions returns each triggered rule's share of the total penalty as
// a percentage rounded to one decimal. It is nil when nothing triggered.
func Contributions(hits map[string]int) map[string]float64 {
	total := 0
	for _, w := range hits {
		total += w
	}
	if len(hits) == 0 || total == 0 {
		return nil
	}
	out := make(map[string]float64, len(hits))
	for name, w := range hits {
		out[name] = math.Round(float64(w)/float64(total)*1000) / 10
	}
	return out
}

func clamp(score int) int {
	return max(MinScore, min(MaxScore, score))
}
