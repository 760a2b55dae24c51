package scoring

import "maps"

// Rule names, in evaluation order.
const (
	RuleBlacklist       = "blacklist"
	RuleWatchlist       = "watchlist"
	RuleHighAmount      = "high_amount"
	RuleUnusualHour     = "unusual_hour"
	RuleNewAddress      = "new_address"
	RuleVelocity        = "velocity"
	RuleSensitiveToken  = "sensitive_token"
	RuleSensitiveMethod = "sensitive_method"
)

// Weights maps a rule name to the penalty subtracted when it triggers.
type Weights map[string]int

// DefaultWeights returns a fresh copy of the default weight table.
func DefaultWeights() Weights {
	return Weights{
		RuleBlacklist:       60,
		RuleWatchlist:       30,
		RuleHighAmount:      25,
		RuleUnusualHour:     15,
		RuleNewAddress:      20,
		RuleVelocity:        20,
		RuleSensitiveToken:  15,
		RuleSensitiveMethod: 15,
	}
}

// Merge returns a copy of w with overrides applied entry by entry. Unknown
// names are kept but have no rule to drive.
func (w Weights) Merge(overrides map[string]int) Weights {
	out := make(Weights, len(w)+len(overrides))
	maps.Copy(out, w)
	maps.Copy(out, overrides)
	return out
}
