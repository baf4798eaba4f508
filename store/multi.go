package store

import (
	"github.com/pkg/errors"
	"gitlab.com/pscanner/pscan"
)

// Multi fans findings out to several alert stores
type Multi []pscan.AlertStorer

// Init every store, stopping at the first failure
func (m Multi) Init() error {
	for i, s := range m {
		if err := s.Init(); err != nil {
			for _, opened := range m[:i] {
				opened.Close()
			}
			return err
		}
	}
	return nil
}

// Append to every store. Every store is tried, the first error is returned.
func (m Multi) Append(finding *pscan.Finding) error {
	var first error
	failed := 0
	for _, s := range m {
		if err := s.Append(finding); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.Wrapf(first, "%d of %d alert stores failed", failed, len(m))
	}
	return nil
}

// Close every store
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
