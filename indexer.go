package mprpc

import "sync/atomic"

// Indexer produces the monotonic, wrapping msgid sequence spec.md §4.5
// requires: successive Next calls return 0, 1, 2, ..., 2^32-1, 0, 1, ...
// Thread-safe at the granularity of a single Next call, so multiple
// Clients sharing one Indexer never collide on msgid allocation the way
// two independently-seeded counters would.
type Indexer struct {
	next atomic.Uint32
}

// NewIndexer returns an Indexer whose first Next call returns 0.
func NewIndexer() *Indexer {
	return &Indexer{}
}

// Next returns the next msgid in sequence, wrapping modulo 2^32 the way
// an unsigned 32-bit counter does natively on overflow.
func (ix *Indexer) Next() uint32 {
	return ix.next.Add(1) - 1
}
