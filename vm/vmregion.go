package vm

import (
	"sort"

	"nyxkern/defs"
	"nyxkern/fdops"
	"nyxkern/mem"
)

// mtype_t distinguishes the three kinds of mapping an address space can
// hold. Guard pages are just a VANON/VSANON region with Perms == 0.
type mtype_t int

const (
	VANON  mtype_t = iota // private anonymous memory, COW on fork
	VFILE                 // file-backed, private or shared
	VSANON                // shared anonymous memory (never COW)
)

// Mfile_t is the state shared by every Vminfo_t mapping the same open
// file, so unmapping one region can tell whether any other mapping still
// pins the file's pages.
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    mem.Unpin_i
	mapcount int
}

type mfile_t struct {
	foff   int
	mfile  *Mfile_t
	shared bool
}

// Vminfo_t describes one mapped region of an address space: a page-number
// range, its type, and its permissions. Regions never overlap within a
// Vmregion_t.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen uintptr
	Perms uint
	file  mfile_t
}

func (vmi *Vminfo_t) end() uintptr { return vmi.Pgn + vmi.Pglen }

// Ptefor returns the leaf PTE for va within this region, allocating
// intermediate page-table levels (tagged PTE_U|PTE_W) as needed.
func (vmi *Vminfo_t) Ptefor(cpu int, pmap *mem.Pmap_t, va uintptr) (*mem.Pa_t, bool) {
	pte, err := pmap_walk(cpu, pmap, int(va), PTE_U|PTE_W)
	if err != 0 {
		return nil, false
	}
	return pte, true
}

// Filepage returns the physical page backing the file offset that maps
// to va within this region.
func (vmi *Vminfo_t) Filepage(va uintptr) (*mem.Bytepg_t, mem.Pa_t, defs.Err_t) {
	if vmi.Mtype != VFILE {
		panic("Filepage: not a file mapping")
	}
	pgidx := (va >> mem.PGSHIFT) - vmi.Pgn
	off := vmi.file.foff + int(pgidx)*mem.PGSIZE
	infos, err := vmi.file.mfile.mfops.Mmapi(off, 1, false)
	if err != 0 {
		return nil, 0, err
	}
	return infos[0].Pg, infos[0].Phys, 0
}

// Vmregion_t is the sorted, non-overlapping list of mapped regions of an
// address space. Callers serialize access via Vm_t's own mutex (Lock_pmap);
// Vmregion_t does not lock itself.
type Vmregion_t struct {
	regions []*Vminfo_t
}

// insert adds vmi to the region list, keeping it sorted by start page.
// It panics if vmi overlaps an existing region -- callers are expected to
// have already checked via empty().
func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	if vmi.file.mfile != nil {
		vmi.file.mfile.mapcount += int(vmi.Pglen)
	}
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Pgn >= vmi.Pgn
	})
	if i > 0 && vr.regions[i-1].end() > vmi.Pgn {
		panic("vmregion: overlapping insert")
	}
	if i < len(vr.regions) && vr.regions[i].Pgn < vmi.end() {
		panic("vmregion: overlapping insert")
	}
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vmi
}

// Lookup returns the region containing virtual address va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	pgn := va >> mem.PGSHIFT
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].end() > pgn
	})
	if i == len(vr.regions) || vr.regions[i].Pgn > pgn {
		return nil, false
	}
	return vr.regions[i], true
}

// empty finds a gap of at least len bytes at or after startva, returning
// its start address and the requested length rounded up to whole pages
// (at least one page). If startva itself is free and large enough, it is
// returned unchanged.
func (vr *Vmregion_t) empty(startva, length uintptr) (uintptr, uintptr) {
	startpg := startva >> mem.PGSHIFT
	needpg := (length + uintptr(mem.PGSIZE) - 1) >> mem.PGSHIFT
	if needpg == 0 {
		needpg = 1
	}
	cur := startpg
	for _, r := range vr.regions {
		if r.Pgn >= cur+needpg {
			break
		}
		if r.end() > cur {
			cur = r.end()
		}
	}
	return cur << mem.PGSHIFT, needpg << mem.PGSHIFT
}

// Remove deletes the region spanning exactly [startva, startva+length)
// and returns it. It returns ok=false (and removes nothing) if no single
// region spans that exact range -- partial unmap of part of a region is
// not supported.
func (vr *Vmregion_t) Remove(startva, length uintptr) (*Vminfo_t, bool) {
	pgn := startva >> mem.PGSHIFT
	pglen := (length + mem.PGSIZE_UINTPTR - 1) >> mem.PGSHIFT
	for i, r := range vr.regions {
		if r.Pgn == pgn && r.Pglen == pglen {
			vr.regions = append(vr.regions[:i], vr.regions[i+1:]...)
			if r.file.mfile != nil {
				r.file.mfile.mapcount -= int(r.Pglen)
			}
			return r, true
		}
	}
	return nil, false
}

// Clear drops every region. For a shared file mapping it subtracts the
// region's pages from the file's mapcount; no unpin callback is called.
func (vr *Vmregion_t) Clear() {
	for _, r := range vr.regions {
		if r.file.mfile != nil && r.file.shared {
			r.file.mfile.mapcount -= int(r.Pglen)
		}
	}
	vr.regions = nil
}

// foreach invokes f for every region, in ascending address order.
func (vr *Vmregion_t) foreach(f func(*Vminfo_t)) {
	for _, r := range vr.regions {
		f(r)
	}
}
