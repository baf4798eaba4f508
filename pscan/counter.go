package pscan

import "sync/atomic"

var exchangeCounter uint64

// NextExchangeID a global, monotonically increasing exchange ID
func NextExchangeID() uint64 {
	return atomic.AddUint64(&exchangeCounter, 1)
}
