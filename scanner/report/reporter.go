package report

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gitlab.com/pscanner/pscan"
)

const forwardBuffer = 256

// Reporter is the finding sink. Workers Add findings concurrently; findings
// whose natural key was already seen inside the dedup window are dropped and
// the rest are forwarded, in the background, to the alert store. Only the
// most recent accepted findings are kept in memory for the report.
type Reporter struct {
	store  pscan.AlertStorer
	logger zerolog.Logger

	mu   sync.Mutex // guards seen
	seen *expirable.LRU[string, struct{}]

	retained *lru.Cache[string, *pscan.Finding] // nil when nothing is retained

	lock    sync.RWMutex // held for reading while sending on out
	running bool
	out     chan *pscan.Finding
	done    chan struct{}

	accepted    int64
	deduped     int64
	storeErrors int64
}

// New reporter forwarding to store. A window of 0 remembers keys until they
// are pushed out of the size bounded cache. At most retain accepted findings
// are kept for Findings and Print, 0 keeps none.
func New(store pscan.AlertStorer, window time.Duration, size, retain int) *Reporter {
	r := &Reporter{
		store:  store,
		logger: log.With().Str("component", "reporter").Logger(),
		seen:   expirable.NewLRU[string, struct{}](size, nil, window),
	}
	if retain > 0 {
		// only fails for a non positive size
		r.retained, _ = lru.New[string, *pscan.Finding](retain)
	}
	return r
}

// Start forwarding accepted findings to the alert store
func (r *Reporter) Start() {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.running {
		return
	}
	r.out = make(chan *pscan.Finding, forwardBuffer)
	r.done = make(chan struct{})
	r.running = true
	go r.forward(r.out, r.done)
}

// Stop accepting for forwarding and wait until everything queued reached the store
func (r *Reporter) Stop() {
	r.lock.Lock()
	if !r.running {
		r.lock.Unlock()
		return
	}
	r.running = false
	close(r.out)
	done := r.done
	r.lock.Unlock()
	<-done
}

func (r *Reporter) forward(out <-chan *pscan.Finding, done chan struct{}) {
	defer close(done)
	for finding := range out {
		r.append(finding)
	}
}

func (r *Reporter) append(finding *pscan.Finding) {
	if err := r.store.Append(finding); err != nil {
		atomic.AddInt64(&r.storeErrors, 1)
		r.logger.Error().Err(err).Int("rule", finding.RuleID).Uint64("exchange", finding.ExchangeID).Msg("failed to append finding to alert store")
	}
}

// Add findings, returning how many were new
func (r *Reporter) Add(findings ...*pscan.Finding) int {
	added := 0
	for _, finding := range findings {
		if finding == nil || r.isDuplicate(finding) {
			continue
		}
		added++
		atomic.AddInt64(&r.accepted, 1)
		if r.retained != nil {
			r.retained.Add(finding.Hash(), finding)
		}

		r.lock.RLock()
		if r.running {
			r.out <- finding
			r.lock.RUnlock()
			continue
		}
		r.lock.RUnlock()
		r.append(finding)
	}
	return added
}

func (r *Reporter) isDuplicate(finding *pscan.Finding) bool {
	key := finding.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exist := r.seen.Get(key); exist {
		atomic.AddInt64(&r.deduped, 1)
		return true
	}
	r.seen.Add(key, struct{}{})
	return false
}

// Findings retained for the report, oldest first
func (r *Reporter) Findings() []*pscan.Finding {
	if r.retained == nil {
		return []*pscan.Finding{}
	}
	return r.retained.Values()
}

// Accepted is the number of findings that passed deduplication
func (r *Reporter) Accepted() int64 {
	return atomic.LoadInt64(&r.accepted)
}

// Deduplicated is the number of findings dropped as duplicates
func (r *Reporter) Deduplicated() int64 {
	return atomic.LoadInt64(&r.deduped)
}

// StoreErrors is the number of findings the alert store refused
func (r *Reporter) StoreErrors() int64 {
	return atomic.LoadInt64(&r.storeErrors)
}

// Print the retained findings grouped by rule
func (r *Reporter) Print(writer io.Writer) {
	byRule := make(map[int][]*pscan.Finding)
	for _, f := range r.Findings() {
		byRule[f.RuleID] = append(byRule[f.RuleID], f)
	}

	ruleIDs := make([]int, 0, len(byRule))
	for id := range byRule {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Ints(ruleIDs)

	w := tabwriter.NewWriter(writer, 0, 4, 2, ' ', 0)
	for _, id := range ruleIDs {
		findings := byRule[id]
		sort.Slice(findings, func(i, j int) bool {
			if findings[i].ExchangeID == findings[j].ExchangeID {
				return findings[i].Evidence < findings[j].Evidence
			}
			return findings[i].ExchangeID < findings[j].ExchangeID
		})

		first := findings[0]
		fmt.Fprintf(w, "[%d] %s (%s, %d findings)\n", first.RuleID, first.RuleName, first.Severity, len(findings))
		for _, f := range findings {
			fmt.Fprintf(w, "\t#%d\t%s\t%q\n", f.ExchangeID, f.URI, f.Evidence)
		}
	}
	w.Flush()
}
