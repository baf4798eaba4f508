package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner/plugin"
	"gitlab.com/pscanner/scanner/queue"
	"gitlab.com/pscanner/scanner/report"
)

// gate blocks workers between exchanges while the scanner is paused
type gate struct {
	lock   sync.Mutex
	closed chan struct{}
}

func (g *gate) close() {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.closed == nil {
		g.closed = make(chan struct{})
	}
}

func (g *gate) open() {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.closed != nil {
		close(g.closed)
		g.closed = nil
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.lock.Lock()
	closed := g.closed
	g.lock.Unlock()

	if closed == nil {
		return nil
	}
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errRulePanic = errors.New("rule panicked")

type ruleResult struct {
	findings []*pscan.Finding
	err      error
}

// pool of workers pulling exchanges off the queue and running every active
// rule against each one
type pool struct {
	workers  int
	timeout  time.Duration
	queue    *queue.Queue
	registry *plugin.Registry
	reporter *report.Reporter
	tracker  *tracker
	diag     *Diagnostics
	gate     *gate
	group    *errgroup.Group
	logger   zerolog.Logger
}

func (p *pool) start(ctx context.Context) {
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		p.group.Go(func() error {
			return p.work(ctx, worker)
		})
	}
}

// wait for every worker to return, which happens once the queue is closed
// and drained or the context is cancelled
func (p *pool) wait() error {
	return p.group.Wait()
}

func (p *pool) work(ctx context.Context, worker int) error {
	logger := p.logger.With().Int("worker", worker).Logger()
	logger.Debug().Msg("worker started")
	defer logger.Debug().Msg("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := p.gate.wait(ctx); err != nil {
			return nil
		}

		exchange, err := p.queue.Dequeue(ctx)
		if err != nil {
			return nil
		}

		// paused while waiting on the queue
		if err := p.gate.wait(ctx); err != nil {
			return nil
		}
		p.process(ctx, exchange, logger)
	}
}

func (p *pool) process(ctx context.Context, exchange *pscan.Exchange, logger zerolog.Logger) {
	item := p.tracker.get(exchange.ID)
	if item == nil {
		logger.Warn().Uint64("exchange", exchange.ID).Msg("dequeued exchange was not tracked")
		return
	}

	rules := p.registry.ActiveRules()
	item.begin(rules)

	found := make([]*pscan.Finding, 0)
	remaining := len(rules)
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}

		findings, err := p.runRule(ctx, rule, exchange)
		if err != nil && ctx.Err() != nil {
			// forced shutdown, the rule did not finish
			break
		}
		remaining = item.finish(rule.ID())
		if err != nil {
			if !errors.Is(err, pscan.ErrRuleTimeout) && !errors.Is(err, errRulePanic) {
				atomic.AddInt64(&p.diag.RuleErrors, 1)
			}
			logger.Warn().Err(err).Int("rule", rule.ID()).Uint64("exchange", exchange.ID).Msg("rule evaluation failed")
			continue
		}

		for _, finding := range findings {
			if finding == nil {
				continue
			}
			if finding.ExchangeID != exchange.ID {
				logger.Warn().Int("rule", rule.ID()).Uint64("exchange", exchange.ID).Uint64("finding_exchange", finding.ExchangeID).Msg("dropping finding for a different exchange")
				continue
			}
			found = append(found, finding)
		}
	}

	if len(found) > 0 {
		atomic.AddInt64(&p.diag.Findings, int64(len(found)))
		p.reporter.Add(found...)
	}

	if remaining == 0 {
		atomic.AddInt64(&p.diag.Scanned, 1)
		p.tracker.remove(exchange.ID)
	}
}

// runRule evaluates a single rule under the rule timeout. A rule that panics,
// errors or overruns only loses its own result for this exchange. A rule that
// ignores its context keeps running in its own goroutine until it returns.
func (p *pool) runRule(ctx context.Context, rule pscan.Rule, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make(chan ruleResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.diag.RulePanics, 1)
				results <- ruleResult{err: errors.Wrapf(errRulePanic, "%v", r)}
			}
		}()
		findings, err := rule.Evaluate(ctx, exchange)
		results <- ruleResult{findings: findings, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, p.timedOut(rule)
		}
		return res.findings, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, p.timedOut(rule)
		}
		return nil, ctx.Err()
	}
}

func (p *pool) timedOut(rule pscan.Rule) error {
	atomic.AddInt64(&p.diag.RuleTimeouts, 1)
	return errors.Wrapf(pscan.ErrRuleTimeout, "rule %d exceeded %s", rule.ID(), p.timeout)
}
