package mock

import (
	"sync"

	"gitlab.com/pscanner/pscan"
)

// AlertStore collects findings in memory
type AlertStore struct {
	InitFn     func() error
	InitCalled bool

	AppendFn     func(finding *pscan.Finding) error
	AppendCalled bool

	CloseFn     func() error
	CloseCalled bool

	lock     sync.Mutex
	findings []*pscan.Finding
}

func (s *AlertStore) Init() error {
	s.InitCalled = true
	return s.InitFn()
}

func (s *AlertStore) Append(finding *pscan.Finding) error {
	s.lock.Lock()
	s.AppendCalled = true
	s.lock.Unlock()
	return s.AppendFn(finding)
}

func (s *AlertStore) Close() error {
	s.CloseCalled = true
	return s.CloseFn()
}

// Findings appended so far
func (s *AlertStore) Findings() []*pscan.Finding {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*pscan.Finding(nil), s.findings...)
}

func MakeMockAlertStore() *AlertStore {
	s := &AlertStore{}
	s.InitFn = func() error {
		return nil
	}
	s.CloseFn = func() error {
		return nil
	}
	s.AppendFn = func(finding *pscan.Finding) error {
		s.lock.Lock()
		defer s.lock.Unlock()
		s.findings = append(s.findings, finding)
		return nil
	}
	return s
}
