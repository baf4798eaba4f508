package pscan

import "context"

// ScanState of the scan coordinator
type ScanState int8

const (
	Stopped ScanState = iota
	Running
	Paused
	Draining
)

var scanStateNames = map[ScanState]string{
	Stopped:  "stopped",
	Running:  "running",
	Paused:   "paused",
	Draining: "draining",
}

func (s ScanState) String() string {
	return scanStateNames[s]
}

// Scanner accepts captured exchanges and runs passive rules against them
type Scanner interface {
	Start(ctx context.Context) error
	Enqueue(ctx context.Context, exchange *Exchange) error
	Pause()
	Resume()
	Stop() error
	State() ScanState
}
