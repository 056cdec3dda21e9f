package proc

import (
	"container/list"
	"fmt"

	"nyxkern/accnt"
	"nyxkern/caller"
	"nyxkern/defs"
	"nyxkern/sem"
	"nyxkern/tinfo"
	"nyxkern/vm"
)

// InitProc allocates a fresh, not-yet-runnable process: an address
// space, an empty descriptor table, and the bookkeeping start_proc needs
// to activate it. The kernel stack/user-context allocation the original
// does here has no equivalent -- a process's "context" is the Go
// goroutine start_proc launches for it.
func InitProc(cpu int) (*Proc_t, defs.Err_t) {
	pid, err := allocPid()
	if err != 0 {
		return nil, err
	}
	as, err := vm.NewAddrSpace(cpu)
	if err != 0 {
		return nil, err
	}
	p := &Proc_t{
		Pid:       pid,
		State:     UNUSED,
		Cpu:       cpu,
		Children:  list.New(),
		Childexit: sem.MkSem(0),
		AS:        as,
		Fds:       MkFdtable(),
		Note:      &tinfo.Tnote_t{Alive: true},
		Accnt:     &accnt.Accnt_t{},
	}
	register(p)
	return p, 0
}

// StartProc activates p and launches the goroutine that runs it. parent
// is Root if nil. entry receives p so it can reach its address space,
// descriptor table, and cwd.
func StartProc(p *Proc_t, parent *Proc_t, entry func(*Proc_t)) {
	if parent == nil {
		parent = Root
	}
	p.Parent = parent
	// The root process is its own parent (there is nothing above it) but
	// must not appear in its own children list.
	if parent != nil && parent != p {
		parent.mu.Lock()
		p.ptnode = parent.Children.PushBack(p)
		parent.mu.Unlock()
	}

	Activate(p)

	go func() {
		runq.Lock()
		if p.rqelem != nil {
			runq.l.Remove(p.rqelem)
			p.rqelem = nil
		}
		runq.Unlock()
		p.mu.Lock()
		p.State = RUNNING
		p.mu.Unlock()

		start := p.Accnt.Now()
		tinfo.SetCurrent(p.Note)
		defer tinfo.ClearCurrent()
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("proc: pid %d crashed: %v\n", p.Pid, r)
				caller.Callerdump(2)
				Exit(p, -1)
			}
			p.Accnt.Finish(start)
		}()
		entry(p)
	}()
}

// Fork clones p into a new child process: a COW copy of the address
// space, a duplicate descriptor table sharing the same cwd inode, and
// membership in p's children list. entry is the child's starting
// function (the trap-return analogue); it observes the fork return
// value through whatever convention the caller's syscall layer uses.
func Fork(p *Proc_t, entry func(*Proc_t)) (*Proc_t, defs.Err_t) {
	child, err := InitProc(p.Cpu)
	if err != 0 {
		return nil, err
	}

	childAS, err := p.AS.Fork(p.Cpu)
	if err != 0 {
		child.AS.Uvmfree(child.Cpu)
		unregister(child.Pid)
		return nil, err
	}
	// Replace the empty address space InitProc built with the COW clone,
	// giving its page-table pages back first.
	child.AS.Uvmfree(child.Cpu)
	child.AS = childAS

	childFds, err := p.Fds.Clone()
	if err != 0 {
		unregister(child.Pid)
		return nil, err
	}
	child.Fds = childFds
	child.Cwd = p.Cwd

	StartProc(child, p, entry)
	return child, 0
}

// Exit records code as p's exit status, reparents its children to Root,
// releases its address space and descriptors, and transitions it to
// ZOMBIE. The Proc_t itself is freed by the parent's Wait, not here.
func Exit(p *Proc_t, code int) {
	p.mu.Lock()
	p.Exitcode = code
	p.mu.Unlock()

	reparentChildren(p)

	p.Fds.CloseAll()
	p.AS.Uvmfree(p.Cpu)

	p.mu.Lock()
	p.State = RUNNING // Sched requires RUNNING to transition out of
	p.mu.Unlock()
	Sched(p, ZOMBIE)

	// p may have been reparented concurrently (its own parent exiting),
	// so the parent pointer is only stable under p's lock.
	p.mu.Lock()
	parent := p.Parent
	p.mu.Unlock()
	if parent != nil {
		parent.Childexit.Post()
	}
}

// Wait blocks until one of p's children exits, reaps it, and returns its
// pid and exit code. It returns -1 if p has no children, or if the wait
// was cancelled by a kill.
func Wait(p *Proc_t) (Pid_t, int, defs.Err_t) {
	p.mu.Lock()
	hasChildren := p.Children.Len() > 0
	p.mu.Unlock()
	if !hasChildren {
		return -1, 0, 0
	}

	if ok := p.Childexit.Wait(p.Note); !ok {
		return -1, 0, -defs.EINTR
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.Children.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Proc_t)
		if c.lockedState() == ZOMBIE {
			p.Children.Remove(e)
			unregister(c.Pid)
			return c.Pid, c.Exitcode, 0
		}
	}
	// Posted but no zombie found yet (a sibling reaper raced us); the
	// caller's next Wait call will see it.
	return -1, 0, -defs.ECHILD
}

// Kill looks pid up in the process table, marks it killed, and alerts it
// so a blocked wait returns early. It returns true if pid was found. The
// lookup covers every registered process; the tree under Root is not
// walked.
func Kill(pid Pid_t) bool {
	target, ok := Find(pid)
	if !ok {
		return false
	}
	target.mu.Lock()
	target.Killed = true
	target.mu.Unlock()
	// The note is what a blocked semaphore wait actually inspects, so it
	// carries its own copy of the killed flag under its own (leaf) lock.
	tn := target.Note
	tn.Lock()
	tn.Killed = true
	tn.Unlock()
	sem.AlertThread(tn)
	return true
}
