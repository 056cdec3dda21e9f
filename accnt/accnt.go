// Package accnt tracks per-process CPU time. Each process carries one
// Accnt_t; the scheduler glue brackets a dispatch with Now/Finish to
// charge the elapsed interval.
package accnt

import (
	"sync/atomic"
	"time"
)

// Accnt_t accumulates one process's user and system time, both in
// nanoseconds. Updates go through atomics so a concurrent reader never
// needs the owning process's lock.
type Accnt_t struct {
	Userns int64
	Sysns  int64
}

// Now returns a nanosecond timestamp for bracketing a run interval.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// Utadd charges delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd charges delta nanoseconds of system time.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Finish charges everything since start (a Now() value) as system time.
// The host simulation cannot tell user mode from kernel mode, so the
// whole interval lands on Sysns.
func (a *Accnt_t) Finish(start int) {
	a.Systadd(a.Now() - start)
}
