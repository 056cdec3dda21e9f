// Package slab implements the kernel's sub-page object allocator: a
// per-CPU, per-size-class free list of cells carved out of pages
// obtained from package mem, for allocations too small to justify a
// whole page of their own (inode_t, file_t, and similar kernel objects).
package slab

import (
	"sync"

	"nyxkern/defs"
	"nyxkern/mem"
	"nyxkern/util"
)

// slabHdrSize is the on-page cell header: a 4-byte offset to the next
// cell plus a 2-byte field packing the cell's total size (in 4-byte
// units) and its free flag in the low bit.
const slabHdrSize = 6

// bigThreshold is the largest request the small-object path serves;
// anything larger uses the large-object path instead.
const bigThreshold = int(mem.PGSIZE) / 2

// class_t distinguishes the two per-CPU free chains: requests whose size
// is a multiple of 8 get cells rounded to 8 bytes from one chain, all
// other requests get cells rounded to 4 bytes from the other. Payloads
// start slabHdrSize bytes into their cell in both chains.
type class_t int

const (
	class4 class_t = iota
	class8
	nclasses
)

func classFor(size int) class_t {
	if size%8 == 0 {
		return class8
	}
	return class4
}

func granularity(c class_t) int {
	if c == class8 {
		return 8
	}
	return 4
}

// pageHandle_t is one page this allocator carved cells from.
type pageHandle_t struct {
	pg *mem.Bytepg_t
	pa mem.Pa_t
}

// Obj_t is a live allocation. For small objects it aliases a slice of
// the backing page so callers pay no copy; for large objects it is
// backed by its own Go-allocated buffer (see allocBig).
type Obj_t struct {
	Data  []byte
	page  *pageHandle_t
	off   int
	class class_t
	big   bool
}

// Allocator_t is one CPU's slab allocator: two free chains (class4,
// class8), each a list of pages this CPU has claimed from mem.Physmem.
// Never touched from another CPU's goroutine, so a single mutex (the
// simulation's stand-in for a spinlock) is enough.
type Allocator_t struct {
	mu    sync.Mutex
	cpu   int
	mem   mem.Page_i
	pages [nclasses][]*pageHandle_t
}

// MkAllocator returns a fresh allocator bound to the given simulated CPU.
func MkAllocator(cpu int) *Allocator_t {
	return &Allocator_t{cpu: cpu, mem: mem.Physmem}
}

func hdrRead(pg *mem.Bytepg_t, off int) (next uint32, size int, free bool) {
	next = uint32(util.Readn(pg[:], 4, off))
	packed := util.Readn(pg[:], 2, off+4)
	return next, (packed >> 1) * 4, packed&1 != 0
}

func hdrWrite(pg *mem.Bytepg_t, off int, next uint32, size int, free bool) {
	util.Writen(pg[:], 4, off, int(next))
	packed := (size / 4) << 1
	if free {
		packed |= 1
	}
	util.Writen(pg[:], 2, off+4, packed)
}

func initPage(pg *mem.Bytepg_t) {
	hdrWrite(pg, 0, uint32(mem.PGSIZE), int(mem.PGSIZE), true)
}

// Alloc returns size bytes of kernel memory, zeroed only for the
// large-object path (small cells are handed out as-is, matching the
// reference design's no-zero-on-alloc small-object fast path).
func (a *Allocator_t) Alloc(size int) (*Obj_t, defs.Err_t) {
	if size <= 0 {
		panic("slab: bad size")
	}
	if size > bigThreshold {
		return a.allocBig(size)
	}

	class := classFor(size)
	want := int(util.Roundup(size+slabHdrSize, granularity(class)))

	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if ph, off, ok := a.findFit(class, want); ok {
			o := a.carve(ph, off, want, class)
			o.Data = o.Data[:size]
			return o, 0
		}
		pg, pa, ok := a.mem.Refpg_new_nozero(a.cpu)
		if !ok {
			return nil, -defs.ENOMEM
		}
		initPage(pg)
		a.pages[class] = append(a.pages[class], &pageHandle_t{pg: pg, pa: pa})
	}
}

// findFit walks each page belonging to class, lazily merging adjacent
// free cells as it goes, looking for the first cell at least want bytes
// (header included) wide.
func (a *Allocator_t) findFit(class class_t, want int) (*pageHandle_t, int, bool) {
	for _, ph := range a.pages[class] {
		off := 0
		for off < int(mem.PGSIZE) {
			next, size, free := hdrRead(ph.pg, off)
			if free {
				for int(next) < int(mem.PGSIZE) {
					nnext, nsize, nfree := hdrRead(ph.pg, int(next))
					if !nfree {
						break
					}
					size += nsize
					next = nnext
					hdrWrite(ph.pg, off, next, size, true)
				}
				if size >= want {
					return ph, off, true
				}
			}
			if int(next) <= off {
				break
			}
			off = int(next)
		}
	}
	return nil, 0, false
}

// carve splits the free cell at off into a want-sized allocated cell and
// (if room remains) a free remainder, and returns a handle to the
// allocated payload.
func (a *Allocator_t) carve(ph *pageHandle_t, off, want int, class class_t) *Obj_t {
	next, size, _ := hdrRead(ph.pg, off)
	remainder := size - want
	if remainder >= slabHdrSize+granularity(class) {
		hdrWrite(ph.pg, off, uint32(off+want), want, false)
		hdrWrite(ph.pg, off+want, next, remainder, true)
	} else {
		hdrWrite(ph.pg, off, next, size, false)
		want = size
	}
	return &Obj_t{Data: ph.pg[off+slabHdrSize : off+want], page: ph, off: off, class: class}
}

// allocBig serves requests over bigThreshold. Unlike small objects,
// large objects need no per-CPU affinity or in-page coalescing, and
// this simulation's "physical memory" is already one Go byte arena, so
// they are served directly from Go's allocator instead of composing
// mem.Physmem pages into a run.
func (a *Allocator_t) allocBig(size int) (*Obj_t, defs.Err_t) {
	return &Obj_t{Data: make([]byte, size), big: true}, 0
}

// Free releases o back to its allocator. Coalescing with neighbours
// happens lazily, during the next Alloc's walk, not here.
func (a *Allocator_t) Free(o *Obj_t) {
	if o.big {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next, size, _ := hdrRead(o.page.pg, o.off)
	hdrWrite(o.page.pg, o.off, next, size, true)
}
