package proc

import (
	"sync"

	"nyxkern/defs"
	"nyxkern/limits"
)

// table is the global process table: every live Proc_t keyed by pid,
// guarded by its own lock (distinct from each Proc_t.mu, per the lock
// order process-table -> scheduler -> ...).
var table = struct {
	sync.Mutex
	procs map[Pid_t]*Proc_t
	next  Pid_t
	free  []Pid_t // pids of reaped processes, reused before next grows
}{procs: make(map[Pid_t]*Proc_t), next: 1}

// Root is the init process: exit() reparents orphans to it, and a
// process started with a nil parent becomes its child.
var Root *Proc_t

func allocPid() (Pid_t, defs.Err_t) {
	table.Lock()
	defer table.Unlock()
	if len(table.procs) >= limits.Syslimit.Sysprocs {
		return 0, -defs.EAGAIN
	}
	if n := len(table.free); n > 0 {
		pid := table.free[n-1]
		table.free = table.free[:n-1]
		return pid, 0
	}
	pid := table.next
	table.next++
	return pid, 0
}

func register(p *Proc_t) {
	table.Lock()
	table.procs[p.Pid] = p
	table.Unlock()
}

func unregister(pid Pid_t) {
	table.Lock()
	delete(table.procs, pid)
	table.free = append(table.free, pid)
	table.Unlock()
}

// Find returns the live process with the given pid.
func Find(pid Pid_t) (*Proc_t, bool) {
	table.Lock()
	defer table.Unlock()
	p, ok := table.procs[pid]
	return p, ok
}

// reparentChildren moves every child of p onto Root's children list, the
// way exit() orphans a dying process's children instead of leaving them
// parentless.
func reparentChildren(p *Proc_t) {
	p.mu.Lock()
	var orphans []*Proc_t
	for e := p.Children.Front(); e != nil; e = e.Next() {
		orphans = append(orphans, e.Value.(*Proc_t))
	}
	p.Children.Init()
	p.mu.Unlock()

	for _, c := range orphans {
		c.mu.Lock()
		c.Parent = Root
		c.mu.Unlock()

		Root.mu.Lock()
		c.ptnode = Root.Children.PushBack(c)
		Root.mu.Unlock()

		if c.lockedState() == ZOMBIE {
			Root.Childexit.Post()
		}
	}
}
