package of

import "sync/atomic"

// xidGenerator produces monotonically increasing transaction
// identifiers for outgoing requests, unique per controller instance.
type xidGenerator struct {
	n uint32
}

// Next returns the next transaction identifier. It is safe for
// concurrent use, though in practice it is only ever called from the
// controller's dispatch goroutine.
func (g *xidGenerator) Next() uint32 {
	return atomic.AddUint32(&g.n, 1)
}
