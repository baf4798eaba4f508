package scanner

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pscan"

// Diagnostics counters for a scanner, safe for concurrent use. Fields must be
// accessed with the sync/atomic functions.
type Diagnostics struct {
	Enqueued     int64
	Rejected     int64
	Duplicates   int64
	OutOfScope   int64
	Scanned      int64
	Abandoned    int64
	RuleTimeouts int64
	RuleErrors   int64
	RulePanics   int64
	Findings     int64
	deduped      func() int64
}

// Snapshot copy of the counters
func (d *Diagnostics) Snapshot() Diagnostics {
	return Diagnostics{
		Enqueued:     atomic.LoadInt64(&d.Enqueued),
		Rejected:     atomic.LoadInt64(&d.Rejected),
		Duplicates:   atomic.LoadInt64(&d.Duplicates),
		OutOfScope:   atomic.LoadInt64(&d.OutOfScope),
		Scanned:      atomic.LoadInt64(&d.Scanned),
		Abandoned:    atomic.LoadInt64(&d.Abandoned),
		RuleTimeouts: atomic.LoadInt64(&d.RuleTimeouts),
		RuleErrors:   atomic.LoadInt64(&d.RuleErrors),
		RulePanics:   atomic.LoadInt64(&d.RulePanics),
		Findings:     atomic.LoadInt64(&d.Findings),
	}
}

// Deduplicated findings dropped by the reporter
func (d *Diagnostics) Deduplicated() int64 {
	if d.deduped == nil {
		return 0
	}
	return d.deduped()
}

var (
	enqueuedDesc     = newDesc("exchanges_enqueued_total", "Exchanges accepted into the scan queue.")
	rejectedDesc     = newDesc("exchanges_rejected_total", "Exchanges rejected because the queue was full.")
	duplicatesDesc   = newDesc("exchanges_duplicate_total", "Exchanges submitted while already in flight.")
	outOfScopeDesc   = newDesc("exchanges_out_of_scope_total", "Exchanges not scanned because they were out of scope.")
	scannedDesc      = newDesc("exchanges_scanned_total", "Exchanges every active rule was evaluated against.")
	abandonedDesc    = newDesc("exchanges_abandoned_total", "Exchanges abandoned when the shutdown grace period expired.")
	ruleTimeoutsDesc = newDesc("rule_timeouts_total", "Rule evaluations that exceeded the rule timeout.")
	ruleErrorsDesc   = newDesc("rule_errors_total", "Rule evaluations that returned an error.")
	rulePanicsDesc   = newDesc("rule_panics_total", "Rule evaluations that panicked.")
	findingsDesc     = newDesc("findings_total", "Findings raised by rules before deduplication.")
	dedupedDesc      = newDesc("findings_deduplicated_total", "Findings dropped as duplicates.")
)

func newDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
}

// Describe implements prometheus.Collector
func (d *Diagnostics) Describe(ch chan<- *prometheus.Desc) {
	ch <- enqueuedDesc
	ch <- rejectedDesc
	ch <- duplicatesDesc
	ch <- outOfScopeDesc
	ch <- scannedDesc
	ch <- abandonedDesc
	ch <- ruleTimeoutsDesc
	ch <- ruleErrorsDesc
	ch <- rulePanicsDesc
	ch <- findingsDesc
	ch <- dedupedDesc
}

// Collect implements prometheus.Collector
func (d *Diagnostics) Collect(ch chan<- prometheus.Metric) {
	snap := d.Snapshot()
	counter := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v)
	}
	counter(enqueuedDesc, float64(snap.Enqueued))
	counter(rejectedDesc, float64(snap.Rejected))
	counter(duplicatesDesc, float64(snap.Duplicates))
	counter(outOfScopeDesc, float64(snap.OutOfScope))
	counter(scannedDesc, float64(snap.Scanned))
	counter(abandonedDesc, float64(snap.Abandoned))
	counter(ruleTimeoutsDesc, float64(snap.RuleTimeouts))
	counter(ruleErrorsDesc, float64(snap.RuleErrors))
	counter(rulePanicsDesc, float64(snap.RulePanics))
	counter(findingsDesc, float64(snap.Findings))
	counter(dedupedDesc, float64(d.Deduplicated()))
}
