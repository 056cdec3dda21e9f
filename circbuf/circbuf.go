// Package circbuf is the single-page ring buffer behind a pipe. head
// and tail are monotonically increasing byte counts; their difference
// is the buffer occupancy and their values mod the buffer size are the
// physical indices, so full (head-tail == size) and empty (head ==
// tail) need no extra state.
package circbuf

import (
	"nyxkern/defs"
	"nyxkern/fdops"
	"nyxkern/mem"
)

// Circbuf_t is not safe for concurrent use; the owning pipe serializes
// access with its own lock.
type Circbuf_t struct {
	mem   mem.Page_i
	buf   []uint8
	bufsz int
	head  int
	tail  int
	p_pg  mem.Pa_t
	cpu   int
}

// Cb_init prepares the buffer without allocating its page; the page is
// claimed on first use so a pipe that is created and closed unused
// never touches the allocator.
func (cb *Circbuf_t) Cb_init(cpu, sz int, m mem.Page_i) defs.Err_t {
	if sz <= 0 || sz > int(mem.PGSIZE) {
		panic("bad circbuf size")
	}
	cb.mem = m
	cb.cpu = cpu
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
	return 0
}

// Cb_release drops the buffer's reference to its backing page.
func (cb *Circbuf_t) Cb_release() {
	if cb.buf == nil {
		return
	}
	cb.mem.Refdown(cb.cpu, cb.p_pg)
	cb.p_pg = 0
	cb.buf = nil
	cb.head, cb.tail = 0, 0
}

// ensure claims the backing page if it hasn't been yet.
func (cb *Circbuf_t) ensure() defs.Err_t {
	if cb.buf != nil {
		return 0
	}
	if cb.bufsz == 0 {
		panic("circbuf not initted")
	}
	pg, p_pg, ok := cb.mem.Refpg_new_nozero(cb.cpu)
	if !ok {
		return -defs.ENOMEM
	}
	cb.mem.Refup(p_pg)
	cb.buf = mem.Pg2bytes(pg)[:cb.bufsz]
	cb.p_pg = p_pg
	return 0
}

// Full reports whether the buffer can accept no more bytes.
func (cb *Circbuf_t) Full() bool {
	return cb.head-cb.tail == cb.bufsz
}

// Empty reports whether the buffer holds no bytes.
func (cb *Circbuf_t) Empty() bool {
	return cb.head == cb.tail
}

// Left returns the free space in bytes.
func (cb *Circbuf_t) Left() int {
	return cb.bufsz - (cb.head - cb.tail)
}

// Used returns the occupied space in bytes.
func (cb *Circbuf_t) Used() int {
	return cb.head - cb.tail
}

// Copyin fills the buffer's free space from src, in at most two runs
// when the free region wraps the end of the page, and returns how many
// bytes landed.
func (cb *Circbuf_t) Copyin(src fdops.Userio_i) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	c := 0
	for !cb.Full() && src.Remain() > 0 {
		hi := cb.head % cb.bufsz
		ti := cb.tail % cb.bufsz
		var dst []uint8
		if ti <= hi {
			dst = cb.buf[hi:]
		} else {
			dst = cb.buf[hi:ti]
		}
		if n := cb.Left(); len(dst) > n {
			dst = dst[:n]
		}
		wrote, err := src.Uioread(dst)
		cb.head += wrote
		c += wrote
		if err != 0 {
			return c, err
		}
		if wrote < len(dst) {
			break
		}
	}
	return c, 0
}

// Copyout drains the whole buffer to dst.
func (cb *Circbuf_t) Copyout(dst fdops.Userio_i) (int, defs.Err_t) {
	return cb.Copyout_n(dst, 0)
}

// Copyout_n drains up to max bytes (0 means everything) to dst.
func (cb *Circbuf_t) Copyout_n(dst fdops.Userio_i, max int) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	c := 0
	for !cb.Empty() && (max == 0 || c < max) {
		hi := cb.head % cb.bufsz
		ti := cb.tail % cb.bufsz
		var src []uint8
		if hi <= ti {
			src = cb.buf[ti:]
		} else {
			src = cb.buf[ti:hi]
		}
		if n := cb.Used(); len(src) > n {
			src = src[:n]
		}
		if max != 0 && len(src) > max-c {
			src = src[:max-c]
		}
		wrote, err := dst.Uiowrite(src)
		cb.tail += wrote
		c += wrote
		if err != 0 {
			return c, err
		}
		if wrote < len(src) {
			break
		}
	}
	return c, 0
}
