package vm

import (
	"nyxkern/defs"
	"nyxkern/mem"
)

// Fork builds a child address space sharing every mapped anonymous page
// with as, copy-on-write. File-backed and shared-anonymous regions are
// installed into the child unchanged (not copied) since they are never
// privately duplicated. The caller still owes the child address space a
// fresh trap/user context; Fork only clones memory.
func (as *Vm_t) Fork(cpu int) (*Vm_t, defs.Err_t) {
	child, err := NewAddrSpace(cpu)
	if err != 0 {
		return nil, err
	}

	as.Lock()
	defer as.Unlock()

	ok := true
	as.Vmregion.foreach(func(vmi *Vminfo_t) {
		if !ok {
			return
		}
		nvmi := &Vminfo_t{Mtype: vmi.Mtype, Pgn: vmi.Pgn, Pglen: vmi.Pglen, Perms: vmi.Perms, file: vmi.file}
		child.Vmregion.insert(nvmi)

		if vmi.Mtype != VANON {
			// file-backed and shared-anonymous regions are never
			// privately copied; the page-fault handler installs
			// their mappings lazily in the child exactly as it
			// would for a freshly mapped region.
			return
		}

		lo := vmi.Pgn << mem.PGSHIFT
		hi := vmi.end() << mem.PGSHIFT
		for va := lo; va < hi; va += mem.PGSIZE_UINTPTR {
			ppte := Pmap_lookup(as.Pmap, int(va))
			if ppte == nil || *ppte&PTE_P == 0 {
				continue
			}
			perms := (*ppte &^ (PTE_W | PTE_WASCOW)) | PTE_COW
			*ppte = perms

			cpte, cerr := pmap_walk(cpu, child.Pmap, int(va), PTE_U|PTE_W)
			if cerr != 0 || cpte == nil {
				ok = false
				return
			}
			*cpte = perms
			mem.Physmem.Refup(perms & PTE_ADDR)
		}
	})
	if !ok {
		Uvmfree_inner(cpu, child.Pmap, child.P_pmap, &child.Vmregion)
		return nil, -defs.ENOMEM
	}
	return child, 0
}
