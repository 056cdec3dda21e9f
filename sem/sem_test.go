package sem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nyxkern/tinfo"
)

func mktnote() *tinfo.Tnote_t {
	return &tinfo.Tnote_t{Alive: true}
}

func TestPostBeforeWait(t *testing.T) {
	s := MkSem(0)
	s.Post()
	tn := mktnote()
	assert.True(t, s.Wait(tn))
	assert.Equal(t, 0, s.Val())
}

func TestWaitBlocksUntilPost(t *testing.T) {
	s := MkSem(0)
	tn := mktnote()
	done := make(chan bool, 1)
	go func() {
		done <- s.Wait(tn)
	}()

	// give the waiter time to register before posting.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, s.NWaiters())
	s.Post()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after Post")
	}
}

func TestAlertWakesWaiterFalse(t *testing.T) {
	s := MkSem(0)
	tn := mktnote()
	done := make(chan bool, 1)
	go func() {
		done <- s.Wait(tn)
	}()

	time.Sleep(10 * time.Millisecond)
	woke := AlertThread(tn)
	assert.True(t, woke)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after AlertThread")
	}
	assert.Equal(t, 0, s.NWaiters())
}

func TestAlertOnAlreadyKilledReturnsFalseImmediately(t *testing.T) {
	s := MkSem(0)
	tn := mktnote()
	tn.Killed = true
	assert.False(t, s.Wait(tn))
}

func TestUnalertableWaitIgnoresKilled(t *testing.T) {
	s := MkSem(0)
	tn := mktnote()
	tn.Killed = true
	done := make(chan bool, 1)
	go func() {
		done <- s.UnalertableWait(tn)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Post()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("UnalertableWait never returned after Post")
	}
}

func TestSleeplockMutualExclusion(t *testing.T) {
	l := MkSleeplock()
	tn := mktnote()
	assert.True(t, l.Wait(tn))
	assert.Equal(t, 0, l.Val())
	l.Post()
	assert.Equal(t, 1, l.Val())
}
