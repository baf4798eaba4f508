package pscan

// AlertStorer is the append-only destination for findings. Stores should be
// idempotent by Finding.Key() since restarted scans may re-submit findings.
type AlertStorer interface {
	Init() error
	Append(finding *Finding) error
	Close() error
}
