package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner/plugin"
	"gitlab.com/pscanner/scanner/queue"
	"gitlab.com/pscanner/scanner/report"
)

const monitorInterval = time.Second * 30

var _ pscan.Scanner = &PassiveScanner{}

// PassiveScanner coordinates the scan queue, the worker pool and the reporter
type PassiveScanner struct {
	cfg      *pscan.Config
	registry *plugin.Registry
	reporter *report.Reporter
	scope    *ScopeService
	diag     *Diagnostics
	logger   zerolog.Logger

	lock    sync.Mutex
	state   pscan.ScanState
	queue   *queue.Queue
	tracker *tracker
	pool    *pool
	cancel  context.CancelFunc
	unwatch func() bool
	run     *scanRun
}

// scanRun is one Start to Stop cycle
type scanRun struct {
	stopped chan struct{} // closed once the run has drained
	err     error         // result of the drain, set before stopped is closed
}

// New passive scanner sending accepted findings to store
func New(cfg *pscan.Config, registry *plugin.Registry, store pscan.AlertStorer) *PassiveScanner {
	reporter := report.New(store, cfg.DedupWindow, cfg.DedupSize, cfg.ReportSize)
	return &PassiveScanner{
		cfg:      cfg,
		registry: registry,
		reporter: reporter,
		scope:    NewScopeServiceFromConfig(cfg),
		diag:     &Diagnostics{deduped: reporter.Deduplicated},
		logger:   log.With().Str("component", "scanner").Logger(),
		tracker:  newTracker(),
	}
}

// Start the workers. Starting a running or paused scanner does nothing.
func (s *PassiveScanner) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch s.state {
	case pscan.Running, pscan.Paused:
		return nil
	case pscan.Draining:
		return pscan.ErrDraining
	}

	if err := s.cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid scanner configuration")
	}

	// cancelling ctx drains the run, only Stop cancels the workers
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.queue = queue.New(s.cfg.QueueCapacity, s.cfg.Admission)
	s.tracker = newTracker()
	s.pool = &pool{
		workers:  s.cfg.Workers,
		timeout:  s.cfg.RuleTimeout,
		queue:    s.queue,
		registry: s.registry,
		reporter: s.reporter,
		tracker:  s.tracker,
		diag:     s.diag,
		gate:     &gate{},
		logger:   s.logger,
	}

	s.reporter.Start()
	s.pool.start(runCtx)
	go s.monitor(runCtx, s.queue, s.tracker)

	run := &scanRun{stopped: make(chan struct{})}
	s.run = run
	s.unwatch = context.AfterFunc(ctx, func() {
		s.logger.Info().Msg("scan context done, draining")
		s.stop(run)
	})

	s.state = pscan.Running
	s.logger.Info().Int("workers", s.cfg.Workers).Int("queue_capacity", s.cfg.QueueCapacity).Int("rules", len(s.registry.ActiveRules())).Msg("scanner started")
	return nil
}

// Enqueue a captured exchange for scanning. Depending on the admission policy
// a full queue either blocks until ctx is done or returns ErrBackpressure.
func (s *PassiveScanner) Enqueue(ctx context.Context, exchange *pscan.Exchange) error {
	s.lock.Lock()
	state, q, tr := s.state, s.queue, s.tracker
	s.lock.Unlock()

	if state != pscan.Running && state != pscan.Paused {
		return errors.Wrapf(pscan.ErrNotRunning, "scanner is %s", state)
	}

	if exchange == nil || exchange.Request == nil || exchange.Response == nil {
		return errors.New("exchange requires a request and a response")
	}

	if scope := s.scope.Check(exchange.URI()); scope != pscan.InScope {
		atomic.AddInt64(&s.diag.OutOfScope, 1)
		return errors.Wrapf(pscan.ErrOutOfScope, "%s", exchange.URI())
	}

	if _, err := tr.add(exchange); err != nil {
		atomic.AddInt64(&s.diag.Duplicates, 1)
		return err
	}

	if err := q.Enqueue(ctx, exchange); err != nil {
		tr.remove(exchange.ID)
		if errors.Is(err, pscan.ErrBackpressure) {
			atomic.AddInt64(&s.diag.Rejected, 1)
			return err
		}
		if errors.Is(err, pscan.ErrQueueClosed) {
			return errors.Wrap(pscan.ErrNotRunning, "scanner is stopping")
		}
		return err
	}
	atomic.AddInt64(&s.diag.Enqueued, 1)
	return nil
}

// Pause workers between exchanges. Enqueue keeps accepting until the queue is full.
func (s *PassiveScanner) Pause() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != pscan.Running {
		return
	}
	s.pool.gate.close()
	s.state = pscan.Paused
	s.logger.Info().Msg("scanner paused")
}

// Resume a paused scanner
func (s *PassiveScanner) Resume() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != pscan.Paused {
		return
	}
	s.pool.gate.open()
	s.state = pscan.Running
	s.logger.Info().Msg("scanner resumed")
}

// Stop accepting exchanges, drain the queue and wait for in-flight work.
// If the shutdown grace period expires first the remaining rules are
// cancelled, the abandoned exchanges are logged and ErrShutdownTimeout is
// returned. Stopping a stopped scanner does nothing; stopping a draining
// scanner waits for the drain and returns its result. Cancelling the context
// given to Start stops the scanner the same way.
func (s *PassiveScanner) Stop() error {
	return s.stop(nil)
}

// stop run, or the current run when run is nil
func (s *PassiveScanner) stop(run *scanRun) error {
	s.lock.Lock()
	if run != nil && run != s.run {
		s.lock.Unlock()
		return nil
	}

	switch s.state {
	case pscan.Stopped:
		s.lock.Unlock()
		return nil
	case pscan.Draining:
		current := s.run
		s.lock.Unlock()
		<-current.stopped
		return current.err
	}

	s.state = pscan.Draining
	q, p, tr, cancel, unwatch, current := s.queue, s.pool, s.tracker, s.cancel, s.unwatch, s.run
	s.lock.Unlock()
	unwatch()

	s.logger.Info().Int("queued", q.Len()).Int("in_flight", tr.len()).Msg("scanner draining")
	q.Close()
	p.gate.open()

	done := make(chan error, 1)
	go func() {
		done <- p.wait()
	}()

	timer := time.NewTimer(s.cfg.ShutdownGrace)
	select {
	case <-done:
	case <-timer.C:
		cancel()
		<-done
	}
	timer.Stop()
	cancel()

	var err error
	if abandoned := tr.remaining(); len(abandoned) > 0 {
		s.logAbandoned(abandoned)
		err = errors.Wrapf(pscan.ErrShutdownTimeout, "%d exchanges abandoned", len(abandoned))
	}

	s.reporter.Stop()

	s.lock.Lock()
	s.state = pscan.Stopped
	s.lock.Unlock()

	snap := s.diag.Snapshot()
	s.logger.Info().Int64("scanned", snap.Scanned).Int64("findings", snap.Findings).Int64("deduplicated", s.diag.Deduplicated()).Msg("scanner stopped")

	current.err = err
	close(current.stopped)
	return err
}

func (s *PassiveScanner) logAbandoned(items []*WorkItem) {
	atomic.AddInt64(&s.diag.Abandoned, int64(len(items)))
	for _, item := range items {
		s.logger.Warn().Uint64("exchange", item.Exchange.ID).Str("uri", item.Exchange.URI()).Bool("started", item.Started()).Ints("pending_rules", item.Pending()).Msg("abandoned exchange")
	}
}

// State of the scanner
func (s *PassiveScanner) State() pscan.ScanState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// InFlight exchanges, queued or being scanned
func (s *PassiveScanner) InFlight() int {
	s.lock.Lock()
	tr := s.tracker
	s.lock.Unlock()
	return tr.len()
}

// Diagnostics counters
func (s *PassiveScanner) Diagnostics() *Diagnostics {
	return s.diag
}

// Reporter holding the accepted findings
func (s *PassiveScanner) Reporter() *report.Reporter {
	return s.reporter
}

// Registry of rules
func (s *PassiveScanner) Registry() *plugin.Registry {
	return s.registry
}

func (s *PassiveScanner) monitor(ctx context.Context, q *queue.Queue, tr *tracker) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.diag.Snapshot()
			s.logger.Info().Int("queued", q.Len()).Int("in_flight", tr.len()).Int64("scanned", snap.Scanned).Int64("findings", snap.Findings).Msg("state monitor ping")
		}
	}
}
