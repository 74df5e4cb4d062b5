package rest

import (
	"sync/atomic"
	"time"
)

// NonceSource produces strictly increasing nonces for signed requests. The
// value is derived from the millisecond clock but advanced through an atomic
// compare-and-swap, so concurrent callers never observe a duplicate and a
// clock that stalls or steps backwards cannot reissue a nonce.
type NonceSource struct {
	last atomic.Int64
	now  func() int64
}

// NewNonceSource creates a nonce source seeded from the wall clock.
func NewNonceSource() *NonceSource {
	return &NonceSource{now: func() int64 { return time.Now().UnixMilli() }}
}

// Next returns the next nonce.
func (n *NonceSource) Next() int64 {
	for {
		now := n.now()
		prev := n.last.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if n.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
