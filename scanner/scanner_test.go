package scanner_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/pscanner/mock"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner"
	"gitlab.com/pscanner/scanner/plugin"
)

func makeScanner(t *testing.T, cfg *pscan.Config, rules ...pscan.Rule) (*scanner.PassiveScanner, *mock.AlertStore) {
	t.Helper()
	registry := plugin.NewRegistry()
	for _, rule := range rules {
		if err := registry.Register(rule); err != nil {
			t.Fatalf("error registering rule: %s\n", err)
		}
	}
	store := mock.MakeMockAlertStore()
	return scanner.New(cfg, registry, store), store
}

func TestScannerEndToEnd(t *testing.T) {
	ctx := context.Background()
	s, store := makeScanner(t, mock.MakeMockConfig(), mock.MakeMockRule(1), mock.MakeMockRule(2))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}

	exchanges := mock.MakeMockExchanges(25)
	for _, ex := range exchanges {
		if err := s.Enqueue(ctx, ex); err != nil {
			t.Fatalf("error enqueuing: %s\n", err)
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	if len(store.Findings()) != 50 {
		t.Fatalf("expected 50 findings got %d\n", len(store.Findings()))
	}

	snap := s.Diagnostics().Snapshot()
	if snap.Enqueued != 25 || snap.Scanned != 25 || snap.Findings != 50 {
		t.Fatalf("unexpected diagnostics %#v\n", snap)
	}

	if s.InFlight() != 0 {
		t.Fatalf("expected nothing in flight got %d\n", s.InFlight())
	}

	for _, f := range store.Findings() {
		found := false
		for _, ex := range exchanges {
			if ex.ID == f.ExchangeID {
				found = true
			}
		}
		if !found {
			t.Fatalf("finding references unknown exchange %d\n", f.ExchangeID)
		}
	}
}

func TestScannerRuleTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := mock.MakeMockConfig()
	cfg.RuleTimeout = time.Millisecond * 50

	release := make(chan struct{})
	defer close(release)
	s, store := makeScanner(t, cfg, mock.MakeBlockingRule(1, release), mock.MakeMockRule(2))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	for _, ex := range mock.MakeMockExchanges(3) {
		if err := s.Enqueue(ctx, ex); err != nil {
			t.Fatalf("error enqueuing: %s\n", err)
		}
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	snap := s.Diagnostics().Snapshot()
	if snap.RuleTimeouts != 3 {
		t.Fatalf("expected 3 rule timeouts got %d\n", snap.RuleTimeouts)
	}

	if snap.Scanned != 3 {
		t.Fatalf("timed out rules should still complete the exchange, scanned %d\n", snap.Scanned)
	}

	for _, f := range store.Findings() {
		if f.RuleID != 2 {
			t.Fatalf("timed out rule result was not discarded: %#v\n", f)
		}
	}
	if len(store.Findings()) != 3 {
		t.Fatalf("expected 3 findings got %d\n", len(store.Findings()))
	}
}

func TestScannerRuleIsolation(t *testing.T) {
	ctx := context.Background()
	s, store := makeScanner(t, mock.MakeMockConfig(), mock.MakePanicRule(1), mock.MakeErrorRule(2), mock.MakeMockRule(3))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	for _, ex := range mock.MakeMockExchanges(5) {
		if err := s.Enqueue(ctx, ex); err != nil {
			t.Fatalf("error enqueuing: %s\n", err)
		}
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	snap := s.Diagnostics().Snapshot()
	if snap.RulePanics != 5 {
		t.Fatalf("expected 5 panics got %d\n", snap.RulePanics)
	}

	if snap.RuleErrors != 5 {
		t.Fatalf("expected 5 rule errors got %d\n", snap.RuleErrors)
	}

	if len(store.Findings()) != 5 {
		t.Fatalf("expected 5 findings from the healthy rule got %d\n", len(store.Findings()))
	}
}

func TestScannerShutdownTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := mock.MakeMockConfig()
	cfg.Workers = 1
	cfg.RuleTimeout = time.Second * 10
	cfg.ShutdownGrace = time.Millisecond * 100

	release := make(chan struct{})
	defer close(release)
	stuck := mock.MakeStuckRule(1, release)
	s, store := makeScanner(t, cfg, stuck)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	for _, ex := range mock.MakeMockExchanges(3) {
		if err := s.Enqueue(ctx, ex); err != nil {
			t.Fatalf("error enqueuing: %s\n", err)
		}
	}

	// wait for the worker to pick up the first exchange
	for stuck.Evaluations() == 0 {
		time.Sleep(time.Millisecond * 5)
	}

	start := time.Now()
	err := s.Stop()
	if !errors.Is(err, pscan.ErrShutdownTimeout) {
		t.Fatalf("expected shutdown timeout got %v\n", err)
	}

	if time.Since(start) > time.Second*5 {
		t.Fatalf("stop took too long %s\n", time.Since(start))
	}

	if s.State() != pscan.Stopped {
		t.Fatalf("expected stopped got %s\n", s.State())
	}

	if abandoned := s.Diagnostics().Snapshot().Abandoned; abandoned != 3 {
		t.Fatalf("expected 3 abandoned exchanges got %d\n", abandoned)
	}

	if len(store.Findings()) != 0 {
		t.Fatalf("expected no findings got %d\n", len(store.Findings()))
	}
}

func TestScannerLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := makeScanner(t, mock.MakeMockConfig(), mock.MakeMockRule(1))
	ex := mock.MakeMockExchanges(1)[0]

	if err := s.Enqueue(ctx, ex); !errors.Is(err, pscan.ErrNotRunning) {
		t.Fatalf("expected not running got %v\n", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stopping a stopped scanner should do nothing: %s\n", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("starting a running scanner should do nothing: %s\n", err)
	}
	if s.State() != pscan.Running {
		t.Fatalf("expected running got %s\n", s.State())
	}

	s.Pause()
	if s.State() != pscan.Paused {
		t.Fatalf("expected paused got %s\n", s.State())
	}
	s.Pause()

	s.Resume()
	if s.State() != pscan.Running {
		t.Fatalf("expected running got %s\n", s.State())
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping twice: %s\n", err)
	}
	if s.State() != pscan.Stopped {
		t.Fatalf("expected stopped got %s\n", s.State())
	}

	// restart
	if err := s.Start(ctx); err != nil {
		t.Fatalf("error restarting: %s\n", err)
	}
	if err := s.Enqueue(ctx, ex); err != nil {
		t.Fatalf("error enqueuing after restart: %s\n", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}
}

func TestScannerBackpressure(t *testing.T) {
	ctx := context.Background()
	cfg := mock.MakeMockConfig()
	cfg.Workers = 1
	cfg.QueueCapacity = 2
	cfg.Admission = pscan.Reject
	s, store := makeScanner(t, cfg, mock.MakeMockRule(1))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	s.Pause()

	accepted := 0
	var rejected error
	for _, ex := range mock.MakeMockExchanges(10) {
		if err := s.Enqueue(ctx, ex); err != nil {
			rejected = err
			break
		}
		accepted++
	}

	if !errors.Is(rejected, pscan.ErrBackpressure) {
		t.Fatalf("expected backpressure got %v\n", rejected)
	}

	// one exchange may already be held by the paused worker
	if accepted < 2 || accepted > 3 {
		t.Fatalf("expected 2 or 3 accepted exchanges got %d\n", accepted)
	}

	if s.Diagnostics().Snapshot().Rejected != 1 {
		t.Fatalf("expected 1 rejected got %d\n", s.Diagnostics().Snapshot().Rejected)
	}

	if len(store.Findings()) != 0 {
		t.Fatalf("paused scanner should not evaluate rules\n")
	}

	s.Resume()
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	if len(store.Findings()) != accepted {
		t.Fatalf("expected %d findings got %d\n", accepted, len(store.Findings()))
	}
}

func TestScannerBlockingAdmission(t *testing.T) {
	cfg := mock.MakeMockConfig()
	cfg.Workers = 1
	cfg.QueueCapacity = 1
	s, _ := makeScanner(t, cfg, mock.MakeMockRule(1))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	defer s.Stop()
	s.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()

	var err error
	for _, ex := range mock.MakeMockExchanges(5) {
		if err = s.Enqueue(ctx, ex); err != nil {
			break
		}
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected enqueue to block until the deadline got %v\n", err)
	}
	s.Resume()
}

func TestScannerDuplicateExchange(t *testing.T) {
	ctx := context.Background()
	s, store := makeScanner(t, mock.MakeMockConfig(), mock.MakeMockRule(1))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	s.Pause()

	ex := mock.MakeMockExchanges(1)[0]
	if err := s.Enqueue(ctx, ex); err != nil {
		t.Fatalf("error enqueuing: %s\n", err)
	}
	if err := s.Enqueue(ctx, ex); !errors.Is(err, pscan.ErrDuplicateExchange) {
		t.Fatalf("expected duplicate exchange got %v\n", err)
	}

	s.Resume()
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	if len(store.Findings()) != 1 {
		t.Fatalf("expected 1 finding got %d\n", len(store.Findings()))
	}
}

func TestScannerDeduplicatesAcrossRestart(t *testing.T) {
	ctx := context.Background()
	s, store := makeScanner(t, mock.MakeMockConfig(), mock.MakeMockRule(1))
	exchanges := mock.MakeMockExchanges(4)

	for i := 0; i < 2; i++ {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("error starting: %s\n", err)
		}
		for _, ex := range exchanges {
			if err := s.Enqueue(ctx, ex); err != nil {
				t.Fatalf("error enqueuing: %s\n", err)
			}
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("error stopping: %s\n", err)
		}
	}

	if len(store.Findings()) != 4 {
		t.Fatalf("expected 4 findings got %d\n", len(store.Findings()))
	}

	if s.Diagnostics().Deduplicated() != 4 {
		t.Fatalf("expected 4 deduplicated got %d\n", s.Diagnostics().Deduplicated())
	}
}

func TestScannerOutOfScope(t *testing.T) {
	ctx := context.Background()
	cfg := mock.MakeMockConfig()
	cfg.AllowedHosts = []string{"example.org"}
	s, _ := makeScanner(t, cfg, mock.MakeMockRule(1))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	defer s.Stop()

	err := s.Enqueue(ctx, mock.MakeMockExchanges(1)[0])
	if !errors.Is(err, pscan.ErrOutOfScope) {
		t.Fatalf("expected out of scope got %v\n", err)
	}

	if s.Diagnostics().Snapshot().OutOfScope != 1 {
		t.Fatalf("expected out of scope to be counted")
	}
}

func TestScannerConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	s, store := makeScanner(t, mock.MakeMockConfig(), mock.MakeMockRule(1))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}

	exchanges := mock.MakeMockExchanges(200)
	var failed int32
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func(part []*pscan.Exchange) {
			defer func() { done <- struct{}{} }()
			for _, ex := range part {
				if err := s.Enqueue(ctx, ex); err != nil {
					atomic.AddInt32(&failed, 1)
				}
			}
		}(exchanges[i*50 : (i+1)*50])
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	if failed != 0 {
		t.Fatalf("%d enqueues failed\n", failed)
	}

	if len(store.Findings()) != 200 {
		t.Fatalf("expected 200 findings got %d\n", len(store.Findings()))
	}
}

func TestScannerStartContextCancelDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, store := makeScanner(t, mock.MakeMockConfig(), mock.MakeMockRule(1))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}

	accepted := 0
	exchanges := mock.MakeMockExchanges(6)
	for _, ex := range exchanges[:3] {
		if err := s.Enqueue(context.Background(), ex); err != nil {
			t.Fatalf("error enqueuing: %s\n", err)
		}
		accepted++
	}

	cancel()
	for _, ex := range exchanges[3:] {
		err := s.Enqueue(context.Background(), ex)
		if err == nil {
			accepted++
			continue
		}
		if !errors.Is(err, pscan.ErrNotRunning) {
			t.Fatalf("expected not running after cancel got %v\n", err)
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	if s.State() != pscan.Stopped {
		t.Fatalf("expected stopped got %s\n", s.State())
	}

	if len(store.Findings()) != accepted {
		t.Fatalf("expected a finding for each of the %d accepted exchanges got %d\n", accepted, len(store.Findings()))
	}

	if snap := s.Diagnostics().Snapshot(); snap.Scanned != int64(accepted) || snap.Abandoned != 0 {
		t.Fatalf("unexpected diagnostics %#v\n", snap)
	}

	if s.InFlight() != 0 {
		t.Fatalf("expected nothing in flight got %d\n", s.InFlight())
	}
}

func TestScannerStartContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := makeScanner(t, mock.MakeMockConfig(), mock.MakeMockRule(1))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second * 5)
	for s.State() != pscan.Stopped {
		if time.Now().After(deadline) {
			t.Fatalf("scanner did not stop after its context was cancelled, state %s\n", s.State())
		}
		time.Sleep(time.Millisecond * 5)
	}

	if err := s.Enqueue(context.Background(), mock.MakeMockExchanges(1)[0]); !errors.Is(err, pscan.ErrNotRunning) {
		t.Fatalf("expected not running got %v\n", err)
	}

	// a new run is not stopped by the old context
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("error restarting: %s\n", err)
	}
	if s.State() != pscan.Running {
		t.Fatalf("expected running got %s\n", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}
}

func TestScannerStartContextCancelTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := mock.MakeMockConfig()
	cfg.Workers = 1
	cfg.RuleTimeout = time.Second * 10
	cfg.ShutdownGrace = time.Millisecond * 100

	release := make(chan struct{})
	defer close(release)
	stuck := mock.MakeStuckRule(1, release)
	s, _ := makeScanner(t, cfg, stuck)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	for _, ex := range mock.MakeMockExchanges(2) {
		if err := s.Enqueue(context.Background(), ex); err != nil {
			t.Fatalf("error enqueuing: %s\n", err)
		}
	}
	for stuck.Evaluations() == 0 {
		time.Sleep(time.Millisecond * 5)
	}

	cancel()
	if err := s.Stop(); !errors.Is(err, pscan.ErrShutdownTimeout) {
		t.Fatalf("expected shutdown timeout got %v\n", err)
	}

	if abandoned := s.Diagnostics().Snapshot().Abandoned; abandoned != 2 {
		t.Fatalf("expected 2 abandoned exchanges got %d\n", abandoned)
	}
}

func TestScannerStopWhileDraining(t *testing.T) {
	cfg := mock.MakeMockConfig()
	cfg.Workers = 1
	cfg.RuleTimeout = time.Second * 10
	cfg.ShutdownGrace = time.Millisecond * 200

	release := make(chan struct{})
	defer close(release)
	stuck := mock.MakeStuckRule(1, release)
	s, _ := makeScanner(t, cfg, stuck)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	if err := s.Enqueue(context.Background(), mock.MakeMockExchanges(1)[0]); err != nil {
		t.Fatalf("error enqueuing: %s\n", err)
	}
	for stuck.Evaluations() == 0 {
		time.Sleep(time.Millisecond * 5)
	}

	first := make(chan error, 1)
	go func() {
		first <- s.Stop()
	}()
	for s.State() != pscan.Draining {
		time.Sleep(time.Millisecond)
	}

	err := s.Stop()
	if !errors.Is(err, pscan.ErrShutdownTimeout) {
		t.Fatalf("second stop should wait for the drain result got %v\n", err)
	}

	if s.State() != pscan.Stopped {
		t.Fatalf("second stop returned before the scanner stopped, state %s\n", s.State())
	}

	if err := <-first; !errors.Is(err, pscan.ErrShutdownTimeout) {
		t.Fatalf("expected shutdown timeout got %v\n", err)
	}
}

func TestScannerRuleCancellationErrorIsolated(t *testing.T) {
	ctx := context.Background()
	canceling := mock.MakeMockRule(1)
	canceling.EvaluateFn = func(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
		inner, cancel := context.WithCancel(ctx)
		cancel()
		return nil, inner.Err()
	}
	s, store := makeScanner(t, mock.MakeMockConfig(), canceling, mock.MakeMockRule(2))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting: %s\n", err)
	}
	for _, ex := range mock.MakeMockExchanges(3) {
		if err := s.Enqueue(ctx, ex); err != nil {
			t.Fatalf("error enqueuing: %s\n", err)
		}
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("error stopping: %s\n", err)
	}

	if len(store.Findings()) != 3 {
		t.Fatalf("expected 3 findings from the healthy rule got %d\n", len(store.Findings()))
	}

	snap := s.Diagnostics().Snapshot()
	if snap.Scanned != 3 || snap.RuleErrors != 3 {
		t.Fatalf("expected 3 scanned and 3 rule errors got %#v\n", snap)
	}

	if s.InFlight() != 0 {
		t.Fatalf("expected nothing in flight got %d\n", s.InFlight())
	}
}
