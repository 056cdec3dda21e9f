package proc

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"nyxkern/slab"
)

// NCPU is the default number of simulated CPUs.
const NCPU = 4

// idleTick is how often a Cpu_t's idle loop wakes to sample the
// runqueue, standing in for the ELAPSE-tick preemption timer the real
// scheduler re-arms on every Sched call.
const idleTick = 10 * time.Millisecond

// Cpu_t is one simulated CPU's home resources: its slab allocator and
// its idle process. Cpu_t does not itself dispatch processes -- each
// process already runs on its own goroutine -- it exists so mem/slab
// per-CPU affinity and "every CPU owns an idle proc" have something
// concrete to hang off of.
type Cpu_t struct {
	Id   int
	Slab *slab.Allocator_t
	Idle *Proc_t
}

var cpus []*Cpu_t

// Cpus returns the booted CPU set.
func Cpus() []*Cpu_t { return cpus }

// HomeCPU assigns a new process to a CPU round robin, the way the real
// scheduler's load stays roughly balanced across NCPU runqueues even
// though this simulation keeps one global queue.
func HomeCPU(pid Pid_t) int {
	if len(cpus) == 0 {
		return 0
	}
	return int(pid) % len(cpus)
}

// BootCPUs brings up n simulated CPUs and runs their idle loops until
// ctx is cancelled or one of them panics, using errgroup.Group so the
// first fatal error (a propagated panic-turned-error) tears down every
// other CPU's loop instead of leaving the system half-booted.
func BootCPUs(ctx context.Context, n int) error {
	cpus = make([]*Cpu_t, n)
	for i := 0; i < n; i++ {
		c := &Cpu_t{Id: i, Slab: slab.MkAllocator(i)}
		c.Idle = &Proc_t{Pid: -1, Idle: true, State: RUNNING}
		cpus[i] = c
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range cpus {
		c := c
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("cpu %d: %v", c.Id, r)
				}
			}()
			return runIdleLoop(gctx, c)
		})
	}
	return g.Wait()
}

// runIdleLoop is what a physical CPU with nothing RUNNABLE of its own
// would spin in: the real scheduler's pick_next falls back to the idle
// process and re-arms the preemption timer; here that collapses to a
// periodic runqueue sample since there is no register context to save.
func runIdleLoop(ctx context.Context, c *Cpu_t) error {
	t := time.NewTicker(idleTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			pickNext() // touches the runqueue so tests can observe liveness
		}
	}
}
