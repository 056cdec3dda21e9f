package fd

import (
	"sync"

	"nyxkern/circbuf"
	"nyxkern/defs"
	"nyxkern/fdops"
	"nyxkern/limits"
	"nyxkern/mem"
	"nyxkern/sem"
	"nyxkern/tinfo"
	"nyxkern/ustr"
)

// pipesz is the capacity of a pipe's ring buffer, matching the one page
// circbuf.Circbuf_t can lazily back itself with.
const pipesz = int(mem.PGSIZE)

// pipe_t is the state shared by a pipe's read and write ends: a ring
// buffer plus two semaphores used purely as wakeup signals (rsem posted
// whenever a writer might have made data available or closed; wsem
// posted whenever a reader might have freed space or closed).
type pipe_t struct {
	mu        sync.Mutex
	buf       circbuf.Circbuf_t
	readopen  bool
	writeopen bool
	rref      int
	wref      int
	rsem      *sem.Sem_t
	wsem      *sem.Sem_t
	given     bool
}

func mkPipe(cpu int) (*pipe_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, -defs.ENOHEAP
	}
	p := &pipe_t{
		readopen:  true,
		writeopen: true,
		rref:      1,
		wref:      1,
		rsem:      sem.MkSem(0),
		wsem:      sem.MkSem(0),
	}
	if err := p.buf.Cb_init(cpu, pipesz, mem.Physmem); err != 0 {
		limits.Syslimit.Pipes.Give()
		return nil, err
	}
	return p, 0
}

// giveLocked releases the pipe's backing page and its system-wide slot
// once both ends are fully closed. Must be called with p.mu held.
func (p *pipe_t) giveLocked() {
	if p.given || p.readopen || p.writeopen {
		return
	}
	p.given = true
	p.buf.Cb_release()
	limits.Syslimit.Pipes.Give()
}

func wakeAll(s *sem.Sem_t) {
	for s.NWaiters() > 0 {
		s.Post()
	}
}

// Pipe_reader_t and Pipe_writer_t are the two descriptor-facing ends of
// a pipe, each implementing fdops.Fdops_i over the directions the real
// kernel actually allows on that end.
type Pipe_reader_t struct {
	p *pipe_t
}

type Pipe_writer_t struct {
	p *pipe_t
}

// MkPipe allocates a fresh pipe and returns its two ends.
func MkPipe(cpu int) (*Pipe_reader_t, *Pipe_writer_t, defs.Err_t) {
	p, err := mkPipe(cpu)
	if err != 0 {
		return nil, nil, err
	}
	return &Pipe_reader_t{p: p}, &Pipe_writer_t{p: p}, 0
}

type pipeInum_t struct{}

func (pipeInum_t) Inum() int { return 0 }

// --- reader end ---

func (r *Pipe_reader_t) Close() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.rref--
	if p.rref == 0 {
		p.readopen = false
	}
	p.giveLocked()
	p.mu.Unlock()
	if !p.readopen {
		wakeAll(p.wsem)
	}
	return 0
}

func (r *Pipe_reader_t) Reopen() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.rref++
	p.mu.Unlock()
	return 0
}

func (r *Pipe_reader_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	for p.buf.Empty() && p.writeopen {
		p.mu.Unlock()
		if !p.rsem.Wait(tinfo.Current()) {
			return 0, -defs.EINTR
		}
		p.mu.Lock()
	}
	n, err := p.buf.Copyout(dst)
	p.mu.Unlock()
	if err == 0 && n > 0 {
		p.wsem.Post()
	}
	return n, err
}

func (r *Pipe_reader_t) Pread(dst fdops.Userio_i, off int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

func (r *Pipe_reader_t) Write(fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.EBADF
}

func (r *Pipe_reader_t) Pwrite(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

func (r *Pipe_reader_t) Fstat(st *fdops.Fdstat_t) defs.Err_t {
	st.Mode = defs.S_IFIFO
	st.Size = 0
	return 0
}

func (r *Pipe_reader_t) Lseek(off, whence int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

func (r *Pipe_reader_t) Mmapi(off, len int, inhibit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	return nil, -defs.ENODEV
}

func (r *Pipe_reader_t) Pathi() fdops.Inum_i {
	return pipeInum_t{}
}

func (r *Pipe_reader_t) Fullpath() (ustr.Ustr, defs.Err_t) {
	return nil, -defs.EINVAL
}

func (r *Pipe_reader_t) Truncate(newlen uint) defs.Err_t {
	return -defs.EINVAL
}

func (r *Pipe_reader_t) Accept(fdops.Userio_i) (ustr.Ustr, defs.Err_t)  { return nil, -defs.ENOTSOCK }
func (r *Pipe_reader_t) Bind(ustr.Ustr) defs.Err_t                      { return -defs.ENOTSOCK }
func (r *Pipe_reader_t) Connect(ustr.Ustr) defs.Err_t                   { return -defs.ENOTSOCK }
func (r *Pipe_reader_t) Listen(backlog int) defs.Err_t                  { return -defs.ENOTSOCK }
func (r *Pipe_reader_t) Sendmsg(src fdops.Userio_i, to ustr.Ustr, cmsg []uint8, flags int) (int, defs.Err_t) {
	return 0, -defs.ENOTSOCK
}
func (r *Pipe_reader_t) Recvmsg(dst fdops.Userio_i, from fdops.Userio_i, cmsg fdops.Userio_i, flags int) (int, int, int, defs.Err_t) {
	return 0, 0, 0, -defs.ENOTSOCK
}

func (r *Pipe_reader_t) Poll(pm *fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var rdy fdops.Ready_t
	if !p.buf.Empty() || !p.writeopen {
		rdy |= fdops.R_READ
	}
	if !p.writeopen {
		rdy |= fdops.R_HUP
	}
	return rdy & pm.Events, 0
}

func (r *Pipe_reader_t) Getdents(fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.ENOTDIR
}

func (r *Pipe_reader_t) Unblock() defs.Err_t {
	return 0
}

func (r *Pipe_reader_t) Shutdown(read, write bool) defs.Err_t {
	return -defs.ENOTSOCK
}

// --- writer end ---

func (w *Pipe_writer_t) Close() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.wref--
	if p.wref == 0 {
		p.writeopen = false
	}
	p.giveLocked()
	p.mu.Unlock()
	if !p.writeopen {
		wakeAll(p.rsem)
	}
	return 0
}

func (w *Pipe_writer_t) Reopen() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.wref++
	p.mu.Unlock()
	return 0
}

func (w *Pipe_writer_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	p := w.p
	tot := 0
	for src.Remain() > 0 {
		p.mu.Lock()
		for p.buf.Full() && p.readopen {
			p.mu.Unlock()
			if !p.wsem.Wait(tinfo.Current()) {
				return tot, -defs.EINTR
			}
			p.mu.Lock()
		}
		if !p.readopen {
			p.mu.Unlock()
			if tot > 0 {
				return tot, 0
			}
			return 0, -defs.EPIPE
		}
		n, err := p.buf.Copyin(src)
		p.mu.Unlock()
		if err != 0 {
			return tot, err
		}
		tot += n
		p.rsem.Post()
	}
	return tot, 0
}

func (w *Pipe_writer_t) Pwrite(src fdops.Userio_i, off int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

func (w *Pipe_writer_t) Read(fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.EBADF
}

func (w *Pipe_writer_t) Pread(fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

func (w *Pipe_writer_t) Fstat(st *fdops.Fdstat_t) defs.Err_t {
	st.Mode = defs.S_IFIFO
	st.Size = 0
	return 0
}

func (w *Pipe_writer_t) Lseek(off, whence int) (int, defs.Err_t) {
	return 0, -defs.ESPIPE
}

func (w *Pipe_writer_t) Mmapi(off, len int, inhibit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	return nil, -defs.ENODEV
}

func (w *Pipe_writer_t) Pathi() fdops.Inum_i {
	return pipeInum_t{}
}

func (w *Pipe_writer_t) Fullpath() (ustr.Ustr, defs.Err_t) {
	return nil, -defs.EINVAL
}

func (w *Pipe_writer_t) Truncate(newlen uint) defs.Err_t {
	return -defs.EINVAL
}

func (w *Pipe_writer_t) Accept(fdops.Userio_i) (ustr.Ustr, defs.Err_t) { return nil, -defs.ENOTSOCK }
func (w *Pipe_writer_t) Bind(ustr.Ustr) defs.Err_t                     { return -defs.ENOTSOCK }
func (w *Pipe_writer_t) Connect(ustr.Ustr) defs.Err_t                  { return -defs.ENOTSOCK }
func (w *Pipe_writer_t) Listen(backlog int) defs.Err_t                 { return -defs.ENOTSOCK }
func (w *Pipe_writer_t) Sendmsg(src fdops.Userio_i, to ustr.Ustr, cmsg []uint8, flags int) (int, defs.Err_t) {
	return 0, -defs.ENOTSOCK
}
func (w *Pipe_writer_t) Recvmsg(dst fdops.Userio_i, from fdops.Userio_i, cmsg fdops.Userio_i, flags int) (int, int, int, defs.Err_t) {
	return 0, 0, 0, -defs.ENOTSOCK
}

func (w *Pipe_writer_t) Poll(pm *fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var rdy fdops.Ready_t
	if !p.buf.Full() || !p.readopen {
		rdy |= fdops.R_WRITE
	}
	if !p.readopen {
		rdy |= fdops.R_ERROR
	}
	return rdy & pm.Events, 0
}

func (w *Pipe_writer_t) Getdents(fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.ENOTDIR
}

func (w *Pipe_writer_t) Unblock() defs.Err_t {
	return 0
}

func (w *Pipe_writer_t) Shutdown(read, write bool) defs.Err_t {
	return -defs.ENOTSOCK
}
