// Package tinfo tracks per-thread kernel state: whether a thread has
// been killed, and the wake channel a blocked semaphore wait parks on so
// kill can cut the sleep short. In the real kernel this hangs off a
// hardware per-CPU/per-thread pointer; the host simulation runs each
// thread as a goroutine, so Current resolves "the calling thread's note"
// from the goroutine id instead of a dedicated register.
package tinfo

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Tnote_t is one thread's kernel-side note.
type Tnote_t struct {
	Alive  bool
	Killed bool
	// protects Killed and Killnaps, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		// Killch is the channel the thread's in-progress semaphore wait
		// blocks on; whoever dequeues the waiter sends exactly one
		// wakeup (true for a permit, false for an alert).
		Killch chan bool
		// ActiveSem holds the *sem.Sem_t of an alertable wait in
		// progress, nil during an unalertable one. Stored as interface{}
		// so this package need not import sem; package sem type-asserts
		// it back when alerting a waiter.
		ActiveSem interface{}
	}
}

// byGoroutine maps a goroutine id to the Tnote_t SetCurrent bound it to.
// This stands in for the per-thread hardware pointer a real kernel would
// use: each simulated kernel thread is one goroutine for its entire
// lifetime, so the goroutine id is a stable enough key.
var byGoroutine sync.Map // map[uint64]*Tnote_t

func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic("tinfo: could not parse goroutine id")
	}
	return id
}

// Current returns the calling goroutine's note.
func Current() *Tnote_t {
	v, ok := byGoroutine.Load(goid())
	if !ok {
		panic("tinfo: no note bound to this goroutine")
	}
	return v.(*Tnote_t)
}

// SetCurrent binds p to the calling goroutine.
func SetCurrent(p *Tnote_t) {
	if p == nil {
		panic("tinfo: nil note")
	}
	id := goid()
	if _, ok := byGoroutine.Load(id); ok {
		panic("tinfo: goroutine already has a note")
	}
	byGoroutine.Store(id, p)
}

// ClearCurrent unbinds the calling goroutine's note.
func ClearCurrent() {
	id := goid()
	if _, ok := byGoroutine.Load(id); !ok {
		panic("tinfo: no note to clear")
	}
	byGoroutine.Delete(id)
}
