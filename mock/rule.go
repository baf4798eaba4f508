package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gitlab.com/pscanner/pscan"
)

// Rule is a configurable pscan.Rule. Calls are counted atomically since
// workers evaluate rules concurrently.
type Rule struct {
	IDFn     func() int
	IDCalled int32

	NameFn     func() string
	NameCalled int32

	EvaluateFn     func(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error)
	EvaluateCalled int32
}

func (r *Rule) ID() int {
	atomic.AddInt32(&r.IDCalled, 1)
	return r.IDFn()
}

func (r *Rule) Name() string {
	atomic.AddInt32(&r.NameCalled, 1)
	return r.NameFn()
}

func (r *Rule) Evaluate(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
	atomic.AddInt32(&r.EvaluateCalled, 1)
	return r.EvaluateFn(ctx, exchange)
}

// Evaluations returns how many times Evaluate was called
func (r *Rule) Evaluations() int {
	return int(atomic.LoadInt32(&r.EvaluateCalled))
}

// MakeMockRule that reports one finding per exchange with the exchange URI as evidence
func MakeMockRule(id int) *Rule {
	r := &Rule{}
	r.IDFn = func() int {
		return id
	}
	r.NameFn = func() string {
		return fmt.Sprintf("mock rule %d", id)
	}
	r.EvaluateFn = func(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
		return []*pscan.Finding{MakeMockFinding(id, exchange)}, nil
	}
	return r
}

// MakeMockFinding for a rule and exchange
func MakeMockFinding(ruleID int, exchange *pscan.Exchange) *pscan.Finding {
	return &pscan.Finding{
		RuleID:      ruleID,
		RuleName:    fmt.Sprintf("mock rule %d", ruleID),
		Severity:    pscan.SeverityLow,
		Confidence:  pscan.ConfidenceMedium,
		Description: "mock finding",
		URI:         exchange.URI(),
		Evidence:    exchange.URI(),
		ExchangeID:  exchange.ID,
		Observed:    time.Now(),
	}
}

// MakeBlockingRule blocks until ctx is done (or release is closed) and then reports nothing
func MakeBlockingRule(id int, release <-chan struct{}) *Rule {
	r := MakeMockRule(id)
	r.EvaluateFn = func(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return []*pscan.Finding{MakeMockFinding(id, exchange)}, nil
		}
	}
	return r
}

// MakeStuckRule ignores its context entirely until release is closed
func MakeStuckRule(id int, release <-chan struct{}) *Rule {
	r := MakeMockRule(id)
	r.EvaluateFn = func(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
		<-release
		return []*pscan.Finding{MakeMockFinding(id, exchange)}, nil
	}
	return r
}

// MakePanicRule panics on every call
func MakePanicRule(id int) *Rule {
	r := MakeMockRule(id)
	r.EvaluateFn = func(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
		panic("mock rule panic")
	}
	return r
}

// MakeErrorRule returns an error on every call
func MakeErrorRule(id int) *Rule {
	r := MakeMockRule(id)
	r.EvaluateFn = func(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
		return nil, fmt.Errorf("mock rule %d failed", id)
	}
	return r
}
