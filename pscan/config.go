package pscan

import (
	"runtime"
	"time"

	"github.com/pkg/errors"
)

// AdmissionPolicy decides what Enqueue does when the scan queue is full
type AdmissionPolicy int8

const (
	// Block until there is room or the caller's context is done
	Block AdmissionPolicy = iota
	// Reject with ErrBackpressure
	Reject
)

// Config for the passive scanner, immutable during a run
type Config struct {
	Workers       int             // concurrent workers
	QueueCapacity int             // bounded scan queue size
	Admission     AdmissionPolicy // what to do when the queue is full
	RuleTimeout   time.Duration   // max time a single rule may spend on one exchange
	ShutdownGrace time.Duration   // how long Stop waits for in-flight work
	DedupWindow   time.Duration   // findings with the same key inside this window are dropped, 0 = forever
	DedupSize     int             // max keys remembered by the dedup window
	ReportSize    int             // max findings kept in memory for the report, 0 = none
	AllowedHosts  []string        // empty means every host is in scope
	IgnoredHosts  []string
	ExcludedHosts []string
	ExcludedURIs  []string
	DataPath      string
	Wordlist      string   // debug error message wordlist
	Scripts       []string // JS rule files
	DisabledRules []int
	NATSURL       string
	NATSSubject   string
}

// NewConfig with defaults
func NewConfig() *Config {
	return &Config{
		Workers:       runtime.NumCPU(),
		QueueCapacity: 1024,
		Admission:     Block,
		RuleTimeout:   time.Second * 5,
		ShutdownGrace: time.Second * 30,
		DedupWindow:   time.Minute * 10,
		DedupSize:     8192,
		ReportSize:    10000,
		DataPath:      "pscantmp",
		Wordlist:      "resources/debug-error-messages.txt",
		NATSSubject:   "pscan.findings",
	}
}

// Validate the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueCapacity <= 0 {
		return errors.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.Admission != Block && c.Admission != Reject {
		return errors.Errorf("unknown admission policy %d", c.Admission)
	}
	if c.RuleTimeout <= 0 {
		return errors.New("rule timeout must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return errors.New("shutdown grace must be positive")
	}
	if c.DedupWindow < 0 {
		return errors.New("dedup window must not be negative")
	}
	if c.DedupSize <= 0 {
		return errors.Errorf("dedup size must be positive, got %d", c.DedupSize)
	}
	if c.ReportSize < 0 {
		return errors.New("report size must not be negative")
	}
	return nil
}
