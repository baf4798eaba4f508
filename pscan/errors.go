package pscan

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrBackpressure the scan queue is at capacity
	ErrBackpressure = errors.New("scan queue is full")
	// ErrRuleTimeout a rule exceeded its allotted time
	ErrRuleTimeout = errors.New("rule timed out")
	// ErrShutdownTimeout in-flight work did not drain within the grace period
	ErrShutdownTimeout = errors.New("shutdown grace period exceeded")
	// ErrQueueClosed the scan queue no longer accepts exchanges
	ErrQueueClosed = errors.New("scan queue closed")
	// ErrNotRunning the scanner is not accepting exchanges
	ErrNotRunning = errors.New("scanner is not running")
	// ErrDuplicateExchange the exchange is already queued or in flight
	ErrDuplicateExchange = errors.New("exchange already dispatched")
	// ErrDuplicateRule a rule with this id is already registered
	ErrDuplicateRule = errors.New("rule already registered")
	// ErrUnknownRule no rule is registered with this id
	ErrUnknownRule = errors.New("unknown rule")
	// ErrOutOfScope the exchange's URI is not in scope
	ErrOutOfScope = errors.New("exchange out of scope")
	// ErrDraining the scanner is finishing in-flight work
	ErrDraining = errors.New("scanner is draining")
)

// ResourceLoadError a rule resource (wordlist, script) is missing or unreadable
type ResourceLoadError struct {
	Resource string
	Err      error
}

func (e *ResourceLoadError) Error() string {
	return fmt.Sprintf("failed to load resource %s: %s", e.Resource, e.Err)
}

func (e *ResourceLoadError) Unwrap() error {
	return e.Err
}
