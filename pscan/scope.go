package pscan

// Scope of captured traffic
type Scope int8

const (
	// InScope (we scan)
	InScope Scope = iota + 1
	// OutOfScope (captured, but not scanned)
	OutOfScope
	// ExcludedFromScope (never scanned, e.g. logout or third party hosts)
	ExcludedFromScope
)
