package vm

import (
	"nyxkern/defs"
	"nyxkern/mem"
)

// PGSIZE and PGOFFSET mirror the constants in mem for convenience in this
// package's arithmetic.
const PGSIZE = mem.PGSIZE

var PGOFFSET = mem.PGOFFSET

// Page table entry permission bits. The encoding is ISA-neutral: this spec
// treats the real AArch64 MMU and trap layer as an opaque external
// collaborator, so these flags describe translation semantics (valid,
// writable, user-accessible, copy-on-write, accessed, dirty) without
// committing to a specific descriptor-bit layout.
const (
	PTE_P       mem.Pa_t = 1 << 0 // present/valid
	PTE_W       mem.Pa_t = 1 << 1 // writable
	PTE_U       mem.Pa_t = 1 << 2 // user accessible
	PTE_COW     mem.Pa_t = 1 << 3 // copy-on-write, currently mapped read-only
	PTE_WASCOW  mem.Pa_t = 1 << 4 // was COW; this mapping claimed sole ownership
	PTE_A       mem.Pa_t = 1 << 5 // accessed
	PTE_D       mem.Pa_t = 1 << 6 // dirty
	PTE_PS      mem.Pa_t = 1 << 7 // large page (unused; single page size only)
	PTE_PCD     mem.Pa_t = 1 << 8 // cache disable (unused in simulation)
	PTE_TABLE   mem.Pa_t = 1 << 9 // entry points at another table level, not a leaf
	PTE_ADDR    mem.Pa_t = mem.PGMASK
	pteFlagMask mem.Pa_t = mem.PGOFFSET
)

var PGOFFSET_PA = mem.Pa_t(mem.PGOFFSET)

// nlevels is the number of radix levels walked between the page-table root
// and a leaf PTE (L0..L3 per spec's 4-level scheme).
const nlevels = 4

func pgbits(va uintptr) [nlevels]uint {
	var idx [nlevels]uint
	v := va >> mem.PGSHIFT
	for i := nlevels - 1; i >= 0; i-- {
		idx[i] = uint(v & 0x1ff)
		v >>= 9
	}
	return idx
}

// pmap_walk walks the 4-level page table rooted at pml4, returning a
// pointer to the leaf PTE for va. When alloc is non-zero, missing
// intermediate tables are allocated and tagged with the given flags
// (typically PTE_U|PTE_W so user page tables are themselves writable by
// the kernel that builds them).
func pmap_walk(cpu int, pml4 *mem.Pmap_t, va int, alloc mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	idx := pgbits(uintptr(va))
	cur := pml4
	for lvl := 0; lvl < nlevels-1; lvl++ {
		pte := &cur[idx[lvl]]
		if *pte&PTE_P == 0 {
			if alloc == 0 {
				return nil, 0
			}
			np, p_np, ok := mem.Physmem.Pmap_new(cpu)
			if !ok {
				return nil, -defs.ENOMEM
			}
			*pte = p_np | alloc | PTE_P | PTE_TABLE
			cur = np
			continue
		}
		cur = mem.Physmem.Pmap(*pte & PTE_ADDR)
	}
	return &cur[idx[nlevels-1]], 0
}

// Pmap_lookup returns the leaf PTE for va without allocating intermediate
// tables, or nil if any level is missing.
func Pmap_lookup(pml4 *mem.Pmap_t, va int) *mem.Pa_t {
	pte, err := pmap_walk(-1, pml4, va, 0)
	if err != 0 {
		panic("lookup must not allocate")
	}
	return pte
}

// freePgdirLevel recursively frees the page-table pages themselves (not
// the data pages a leaf PTE may reference -- those belong to sections).
func freePgdirLevel(cpu int, p mem.Pa_t, lvl int) {
	if lvl == nlevels-1 {
		return
	}
	pg := mem.Physmem.Pmap(p)
	for i := range pg {
		pte := pg[i]
		if pte&PTE_P != 0 && pte&PTE_TABLE != 0 {
			freePgdirLevel(cpu, pte&PTE_ADDR, lvl+1)
			mem.Physmem.Refdown(cpu, pte&PTE_ADDR)
		}
	}
}

// Uvmfree_inner releases all page-table pages under pml4 and clears out
// each section's leaf mappings via the region list (the data pages
// themselves are released by Vmregion_t.Clear/Page_remove, not here).
func Uvmfree_inner(cpu int, pml4 *mem.Pmap_t, p_pml4 mem.Pa_t, region *Vmregion_t) {
	region.foreach(func(vmi *Vminfo_t) {
		lo := uintptr(vmi.Pgn) << mem.PGSHIFT
		hi := lo + uintptr(vmi.Pglen)<<mem.PGSHIFT
		for va := lo; va < hi; va += mem.PGSIZE_UINTPTR {
			pte := Pmap_lookup(pml4, int(va))
			if pte != nil && *pte&PTE_P != 0 {
				mem.Physmem.Refdown(cpu, *pte&PTE_ADDR)
				*pte = 0
			}
		}
	})
	freePgdirLevel(cpu, p_pml4, 0)
}
