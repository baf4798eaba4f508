package pscan

import "context"

// Rule is a passive detection rule. Evaluate must only depend on the exchange
// and the rule's own immutable configuration, must not mutate the exchange and
// must not block on network I/O. Returned errors are logged by the worker and
// treated as zero findings.
type Rule interface {
	ID() int
	Name() string
	Evaluate(ctx context.Context, exchange *Exchange) ([]*Finding, error)
}

// RuleCheck describes what a rule reports, used for listings
type RuleCheck struct {
	CWE         int
	WASC        int
	Name        string
	Description string
	Solution    string
}

// Describer is implemented by rules that can describe their check
type Describer interface {
	Check() *RuleCheck
}
