package scanner

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/pscanner/pscan"
)

// WorkItem an exchange in flight along with the rules still to run against it
type WorkItem struct {
	Exchange *pscan.Exchange

	lock    sync.Mutex
	started bool
	pending map[int]struct{}
}

func (w *WorkItem) begin(rules []pscan.Rule) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.started = true
	w.pending = make(map[int]struct{}, len(rules))
	for _, rule := range rules {
		w.pending[rule.ID()] = struct{}{}
	}
}

func (w *WorkItem) finish(ruleID int) int {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.pending, ruleID)
	return len(w.pending)
}

// Started is true once a worker dequeued the exchange
func (w *WorkItem) Started() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.started
}

// Pending rule ids, sorted
func (w *WorkItem) Pending() []int {
	w.lock.Lock()
	defer w.lock.Unlock()
	ids := make([]int, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// tracker holds every WorkItem from enqueue until all its rules ran
type tracker struct {
	lock  sync.Mutex
	items map[uint64]*WorkItem
}

func newTracker() *tracker {
	return &tracker{items: make(map[uint64]*WorkItem)}
}

func (t *tracker) add(exchange *pscan.Exchange) (*WorkItem, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, exists := t.items[exchange.ID]; exists {
		return nil, errors.Wrapf(pscan.ErrDuplicateExchange, "exchange %d", exchange.ID)
	}
	item := &WorkItem{Exchange: exchange}
	t.items[exchange.ID] = item
	return item, nil
}

func (t *tracker) get(id uint64) *WorkItem {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.items[id]
}

func (t *tracker) remove(id uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.items, id)
}

func (t *tracker) len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.items)
}

// remaining items ordered by exchange id
func (t *tracker) remaining() []*WorkItem {
	t.lock.Lock()
	defer t.lock.Unlock()
	items := make([]*WorkItem, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Exchange.ID < items[j].Exchange.ID })
	return items
}
