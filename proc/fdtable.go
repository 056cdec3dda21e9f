package proc

import (
	"sync"

	"nyxkern/defs"
	"nyxkern/fd"
)

// NOFILE is the per-process open file descriptor limit.
const NOFILE = 512

// Fdtable_t is a process's open file descriptor table: user fd number to
// *fd.Fd_t. The table, not Fd_t itself, owns the mapping from small
// integers to descriptors -- Fd_t already knows how to Reopen/Close
// itself via fdops.Fdops_i.
type Fdtable_t struct {
	sync.Mutex
	tbl map[int]*fd.Fd_t
}

// MkFdtable returns an empty descriptor table.
func MkFdtable() *Fdtable_t {
	return &Fdtable_t{tbl: make(map[int]*fd.Fd_t)}
}

// Install places f at the lowest unused descriptor number and returns it.
func (ft *Fdtable_t) Install(f *fd.Fd_t) (int, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	for n := 0; n < NOFILE; n++ {
		if _, taken := ft.tbl[n]; !taken {
			ft.tbl[n] = f
			return n, 0
		}
	}
	return 0, -defs.EMFILE
}

// InstallAt places f at exactly fdn, closing whatever was already there
// (the dup2/posix_spawn style of descriptor assignment).
func (ft *Fdtable_t) InstallAt(fdn int, f *fd.Fd_t) defs.Err_t {
	if fdn < 0 || fdn >= NOFILE {
		return -defs.EBADF
	}
	ft.Lock()
	old, had := ft.tbl[fdn]
	ft.tbl[fdn] = f
	ft.Unlock()
	if had {
		fd.Close_panic(old)
	}
	return 0
}

// Get returns the descriptor at fdn.
func (ft *Fdtable_t) Get(fdn int) (*fd.Fd_t, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	f, ok := ft.tbl[fdn]
	if !ok {
		return nil, -defs.EBADF
	}
	return f, 0
}

// Close removes and closes the descriptor at fdn.
func (ft *Fdtable_t) Close(fdn int) defs.Err_t {
	ft.Lock()
	f, ok := ft.tbl[fdn]
	if ok {
		delete(ft.tbl, fdn)
	}
	ft.Unlock()
	if !ok {
		return -defs.EBADF
	}
	return f.Fops.Close()
}

// Dup makes newfd an alias of oldfd, closing newfd's previous contents.
func (ft *Fdtable_t) Dup(oldfd, newfd int) defs.Err_t {
	of, err := ft.Get(oldfd)
	if err != 0 {
		return err
	}
	nf, err := fd.Copyfd(of)
	if err != 0 {
		return err
	}
	return ft.InstallAt(newfd, nf)
}

// Clone duplicates every open descriptor into a fresh table, the way
// fork hands a child its own copy of the parent's open files.
func (ft *Fdtable_t) Clone() (*Fdtable_t, defs.Err_t) {
	ft.Lock()
	defer ft.Unlock()
	nt := MkFdtable()
	for n, f := range ft.tbl {
		nf, err := fd.Copyfd(f)
		if err != 0 {
			for _, already := range nt.tbl {
				fd.Close_panic(already)
			}
			return nil, err
		}
		nt.tbl[n] = nf
	}
	return nt, 0
}

// CloseAll closes every descriptor, for exit.
func (ft *Fdtable_t) CloseAll() {
	ft.Lock()
	tbl := ft.tbl
	ft.tbl = make(map[int]*fd.Fd_t)
	ft.Unlock()
	for _, f := range tbl {
		f.Fops.Close()
	}
}
