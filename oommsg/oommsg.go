// Package oommsg carries the swap-stub reclaim request between an
// out-of-memory allocator and whichever cache is willing to give pages
// back. Spec scope excludes a real swap-to-disk path (stubs only); this
// is that stub's whole wire format.
package oommsg

// OomCh is where a page allocator that just failed to find a free page
// offers a single reclaim request. At most one listener (the
// filesystem's cache-eviction loop, in this kernel) answers it; a send
// with no listener ready falls straight through to allocation failure.
var OomCh = make(chan Oommsg_t)

// Oommsg_t asks for Need pages back and carries the channel the
// listener replies on: true once it has freed something, false if it
// had nothing clean left to drop.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}
