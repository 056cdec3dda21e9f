// Package sem implements the kernel's counting semaphore: the one
// blocking primitive every higher layer (sleep-locks, pipes, process
// exit/wait, the scheduler's runnable-wakeup) is built from. A semaphore
// wait can be interrupted by an asynchronous kill, in which case it
// returns false instead of true -- this is the "alertable sleep" the
// rest of the kernel relies on to let a blocked syscall unwind instead
// of hanging forever on a process that will never post again.
package sem

import (
	"container/list"
	"sync"

	"nyxkern/tinfo"
)

// Sem_t is a counting semaphore. val tracks available permits; waiters
// holds, in FIFO order, the threads parked in Wait because val was 0
// when they called it.
type Sem_t struct {
	mu      sync.Mutex
	val     int
	waiters *list.List // of *tinfo.Tnote_t
}

// MkSem returns a semaphore initialized with val permits.
func MkSem(val int) *Sem_t {
	return &Sem_t{val: val, waiters: list.New()}
}

// MkSleeplock returns a binary semaphore of value 1, the kernel's
// sleep-lock: Wait acquires it, Post releases it.
func MkSleeplock() *Sem_t {
	return MkSem(1)
}

// Post increments the semaphore. If a thread is already parked in Wait,
// post hands the permit directly to the oldest waiter instead of
// incrementing val, waking it with a true result.
func (s *Sem_t) Post() {
	s.mu.Lock()
	e := s.waiters.Front()
	if e == nil {
		s.val++
		s.mu.Unlock()
		return
	}
	s.waiters.Remove(e)
	tn := e.Value.(*tinfo.Tnote_t)
	s.mu.Unlock()

	tn.Lock()
	ch := tn.Killnaps.Killch
	tn.Unlock()
	if ch == nil {
		// A waiter registers its wake channel before it enqueues and
		// only AlertThread or this function dequeue it, each sending
		// exactly one wakeup, so a listed waiter always has a channel.
		panic("sem: listed waiter without wake channel")
	}
	ch <- true
}

// Wait blocks until a permit is available or the calling thread (tn) is
// killed. It returns true if a permit was obtained, false if the sleep
// was cut short by an alert.
func (s *Sem_t) Wait(tn *tinfo.Tnote_t) bool {
	return s.wait(tn, true)
}

// UnalertableWait is identical to Wait but cannot be interrupted by
// kill; used for sleep-locks and other waits that must not be abandoned
// partway through a critical section.
func (s *Sem_t) UnalertableWait(tn *tinfo.Tnote_t) bool {
	return s.wait(tn, false)
}

func (s *Sem_t) wait(tn *tinfo.Tnote_t, alertable bool) bool {
	// Register the wake channel before joining the wait list so Post can
	// never dequeue a half-registered waiter. ActiveSem is only set for
	// an alertable wait: AlertThread requires both fields, which is what
	// makes UnalertableWait immune to kill.
	tn.Lock()
	if alertable && tn.Killed {
		tn.Unlock()
		return false
	}
	ch := make(chan bool, 1)
	tn.Killnaps.Killch = ch
	if alertable {
		tn.Killnaps.ActiveSem = s
	}
	tn.Unlock()

	s.mu.Lock()
	if s.val > 0 {
		s.val--
		s.mu.Unlock()
		tn.Lock()
		tn.Killnaps.Killch = nil
		tn.Killnaps.ActiveSem = nil
		tn.Unlock()
		return true
	}
	s.waiters.PushBack(tn)
	s.mu.Unlock()

	ok := <-ch

	tn.Lock()
	tn.Killnaps.Killch = nil
	tn.Killnaps.ActiveSem = nil
	tn.Unlock()
	return ok
}

func (s *Sem_t) removeWaiter(tn *tinfo.Tnote_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.waiters.Front(); e != nil; e = e.Next() {
		if e.Value.(*tinfo.Tnote_t) == tn {
			s.waiters.Remove(e)
			return true
		}
	}
	return false
}

// Val reports the current permit count, for tests and diagnostics.
func (s *Sem_t) Val() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// NWaiters reports how many threads are currently parked, for tests.
func (s *Sem_t) NWaiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

// AlertThread transitions tn out of whatever semaphore it is currently
// parked in, if any, causing that Wait call to return false instead of
// true. It is the mechanism package proc's Kill uses to cut short a
// blocked syscall. Returns true if tn was actually woken by this call.
func AlertThread(tn *tinfo.Tnote_t) bool {
	tn.Lock()
	s, _ := tn.Killnaps.ActiveSem.(*Sem_t)
	ch := tn.Killnaps.Killch
	tn.Unlock()
	if s == nil || ch == nil {
		return false
	}
	if !s.removeWaiter(tn) {
		return false
	}
	tn.Lock()
	tn.Killnaps.Killch = nil
	tn.Killnaps.ActiveSem = nil
	tn.Unlock()
	ch <- false
	return true
}
