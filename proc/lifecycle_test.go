package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxkern/fd"
	"nyxkern/sem"
)

// mkRoot installs a Root process for the tests in this file; lifecycle
// operations (reparenting, starting with a nil parent) need one to exist.
func mkRoot(t *testing.T) *Proc_t {
	t.Helper()
	if Root == nil {
		r, err := InitProc(0)
		require.Equal(t, 0, int(err))
		r.mu.Lock()
		r.State = RUNNING
		r.mu.Unlock()
		Root = r
	}
	return Root
}

func TestStartProcRunsEntryAndWaitReaps(t *testing.T) {
	root := mkRoot(t)

	p, err := InitProc(0)
	require.Equal(t, 0, int(err))
	StartProc(p, root, func(me *Proc_t) {
		Exit(me, 42)
	})

	pid, code, werr := Wait(root)
	require.Equal(t, 0, int(werr))
	assert.Equal(t, p.Pid, pid)
	assert.Equal(t, 42, code)
}

func TestWaitWithoutChildrenReturnsError(t *testing.T) {
	mkRoot(t)
	lone, err := InitProc(0)
	require.Equal(t, 0, int(err))
	defer unregister(lone.Pid)

	pid, _, _ := Wait(lone)
	assert.Equal(t, Pid_t(-1), pid)
}

func TestReapedPidIsRecycled(t *testing.T) {
	root := mkRoot(t)

	p, err := InitProc(0)
	require.Equal(t, 0, int(err))
	deadPid := p.Pid
	StartProc(p, root, func(me *Proc_t) { Exit(me, 0) })
	_, _, werr := Wait(root)
	require.Equal(t, 0, int(werr))

	next, err := InitProc(0)
	require.Equal(t, 0, int(err))
	defer unregister(next.Pid)
	assert.Equal(t, deadPid, next.Pid)
}

func TestExitReparentsChildrenToRoot(t *testing.T) {
	root := mkRoot(t)

	parent, err := InitProc(0)
	require.Equal(t, 0, int(err))

	childStarted := make(chan *Proc_t, 1)
	release := sem.MkSem(0)
	StartProc(parent, root, func(me *Proc_t) {
		c, ferr := Fork(me, func(cme *Proc_t) {
			release.UnalertableWait(cme.Note)
			Exit(cme, 7)
		})
		if ferr != 0 {
			t.Errorf("fork failed: %d", ferr)
		}
		childStarted <- c
		Exit(me, 0)
	})

	child := <-childStarted
	_, _, werr := Wait(root) // reap the parent
	require.Equal(t, 0, int(werr))

	child.mu.Lock()
	assert.Equal(t, root, child.Parent)
	child.mu.Unlock()

	release.Post() // let the orphan exit; root inherits the zombie
	pid, code, werr := Wait(root)
	require.Equal(t, 0, int(werr))
	assert.Equal(t, child.Pid, pid)
	assert.Equal(t, 7, code)
}

func TestKillAlertsBlockedWait(t *testing.T) {
	root := mkRoot(t)

	p, err := InitProc(0)
	require.Equal(t, 0, int(err))
	ret := make(chan int, 1)
	StartProc(p, root, func(me *Proc_t) {
		// a child that never exits, so Wait must block until the kill
		_, ferr := Fork(me, func(cme *Proc_t) {
			sem.MkSem(0).UnalertableWait(cme.Note)
		})
		if ferr != 0 {
			t.Errorf("fork failed: %d", ferr)
		}
		_, _, werr := Wait(me)
		ret <- int(werr)
		Exit(me, 0)
	})

	time.Sleep(20 * time.Millisecond) // let the waiter park
	require.True(t, Kill(p.Pid))

	select {
	case got := <-ret:
		assert.NotEqual(t, 0, got)
	case <-time.After(2 * time.Second):
		t.Fatal("killed Wait never returned")
	}
	_, _, _ = Wait(root) // reap p
}

func TestRunqueueTracksRunnable(t *testing.T) {
	mkRoot(t)
	base := RunqLen()

	p, err := InitProc(0)
	require.Equal(t, 0, int(err))
	Activate(p)
	assert.Equal(t, base+1, RunqLen())

	p.mu.Lock()
	p.State = RUNNING
	p.mu.Unlock()
	require.True(t, Sched(p, SLEEPING))
	assert.Equal(t, base, RunqLen())

	p.mu.Lock()
	p.State = RUNNING
	p.mu.Unlock()
	require.True(t, Sched(p, ZOMBIE))
	unregister(p.Pid)
}

func TestSchedRefusesTransitionWhenKilled(t *testing.T) {
	mkRoot(t)
	p, err := InitProc(0)
	require.Equal(t, 0, int(err))
	defer unregister(p.Pid)

	p.mu.Lock()
	p.State = RUNNING
	p.Killed = true
	p.mu.Unlock()

	assert.False(t, Sched(p, SLEEPING))
	assert.True(t, Sched(p, ZOMBIE))
}

func TestForkCopiesDescriptors(t *testing.T) {
	root := mkRoot(t)

	parent, err := InitProc(0)
	require.Equal(t, 0, int(err))
	parent.Cwd = &fd.Cwd_t{}

	r, w, perr := fd.MkPipe(0)
	require.Equal(t, 0, int(perr))
	rfdn, ferr := parent.Fds.Install(&fd.Fd_t{Fops: r, Perms: fd.FD_READ})
	require.Equal(t, 0, int(ferr))
	_, ferr = parent.Fds.Install(&fd.Fd_t{Fops: w, Perms: fd.FD_WRITE})
	require.Equal(t, 0, int(ferr))

	done := make(chan bool, 1)
	StartProc(parent, root, func(me *Proc_t) {
		c, ferr2 := Fork(me, func(cme *Proc_t) {
			Exit(cme, 0)
		})
		if ferr2 != 0 {
			t.Errorf("fork failed: %d", ferr2)
			done <- false
			Exit(me, -1)
			return
		}
		_, gerr := c.Fds.Get(rfdn)
		done <- gerr == 0
		Exit(me, 0)
	})

	assert.True(t, <-done)
	// reap exactly the two processes this test started (parent and its
	// forked child); root may carry unrelated stuck orphans from other
	// tests whose Childexit will never post again.
	for i := 0; i < 2; i++ {
		_, _, werr := Wait(root)
		if werr != 0 {
			break
		}
	}
}
