package vm

import "sync"
import "time"

import "nyxkern/bounds"
import "nyxkern/defs"
import "nyxkern/fdops"
import "nyxkern/mem"
import "nyxkern/res"
import "nyxkern/ustr"

import "nyxkern/util"

// / Vm_t represents a process address space. The mutex protects
// / modifications to Vmregion, Pmap, and P_pmap.
type Vm_t struct {
	// lock for vmregion, pmpages, pmap, and p_pmap
	sync.Mutex

	Vmregion Vmregion_t

	// pmap pages
	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool
}

// / NewAddrSpace allocates a fresh top-level page table and returns an
// / empty address space (no sections mapped). The section list always
// / starts empty; callers add sections with Vmadd_anon/Vmadd_file/etc.
func NewAddrSpace(cpu int) (*Vm_t, defs.Err_t) {
	pmap, p_pmap, ok := mem.Physmem.Pmap_new(cpu)
	if !ok {
		return nil, -defs.ENOMEM
	}
	as := &Vm_t{}
	as.Pmap = pmap
	as.P_pmap = p_pmap
	return as, 0
}

// / Lock_pmap acquires the address space mutex and marks that a page
// / fault is being handled.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// / Unlock_pmap releases the address space mutex after page table
// / manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// / Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// / Userdmap8_inner returns a slice mapping of the user address at va.
// / When k2u is true the memory will be prepared for a kernel write.
// / cpu identifies the simulated CPU servicing the fault, for page
// / allocation accounting. It returns the mapped slice or an error code.
func (as *Vm_t) Userdmap8_inner(cpu, va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte, ok := vmi.Ptefor(cpu, as.Pmap, uva)
	if !ok {
		return nil, -defs.ENOMEM
	}
	ecode := uintptr(PTE_U)
	needfault := true
	isp := *pte&PTE_P != 0
	if k2u {
		ecode |= uintptr(PTE_W)
		// distinguishing "user asked kernel to write to a read-only page"
		// from "kernel is writing a page it mapped read-only for user"
		// (exec args) is not needed: both take the COW/fault path.
		iscow := *pte&PTE_COW != 0
		if isp && !iscow {
			needfault = false
		}
	} else {
		if isp {
			needfault = false
		}
	}

	if needfault {
		if err := Sys_pgfault(cpu, as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
	}

	pg := mem.Physmem.Dmap(*pte & PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

// _userdmap8 and userdmap8r functions must only be used if concurrent
// modifications to the address space is impossible.
func (as *Vm_t) _userdmap8(cpu, va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(cpu, va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// / Userdmap8r maps the user address for reading and returns the
// / resulting slice or an error.
func (as *Vm_t) Userdmap8r(cpu, va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(cpu, va, false)
}

func (as *Vm_t) usermapped(va, n int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	_, ok := as.Vmregion.Lookup(uintptr(va))
	return ok
}

// / Userreadn reads n bytes from the user address va and returns the
// / value and any error encountered.
func (as *Vm_t) Userreadn(cpu, va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(cpu, va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(cpu, va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(cpu, va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := 0
		for k := l - 1; k >= 0; k-- {
			v = v<<8 | int(src[k])
		}
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

// / Userwriten writes n bytes of val to the user address va. It
// / returns an error code if the copy fails.
func (as *Vm_t) Userwriten(cpu, va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(cpu, va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		l := n - i
		if len(dst) < l {
			l = len(dst)
		}
		for k := 0; k < l; k++ {
			dst[k] = uint8(v >> (8 * uint(k)))
		}
	}
	return 0
}

// / Userstr copies a NUL terminated string from user space up to
// / lenmax bytes. It returns the copied string and an error code.
func (as *Vm_t) Userstr(cpu, uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(cpu, uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				if len(s)+j >= lenmax {
					as.Unlock_pmap()
					return nil, -defs.ENAMETOOLONG
				}
				s = append(s, str[:j]...)
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// / Usertimespec reads a timeval structure from user memory at va
// / and returns both the duration and time value.
func (as *Vm_t) Usertimespec(cpu, va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(cpu, va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(cpu, va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs) * time.Second
	tot += time.Duration(nsecs) * time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

// / K2user copies src into the user virtual address space starting at
// / uva. The copy may be partial if the region is not fully mapped.
func (as *Vm_t) K2user(cpu int, src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(cpu, src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(cpu int, src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		dst, err := as.Userdmap8_inner(cpu, uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

// / User2k copies len(dst) bytes from the user virtual address uva
// / into dst. It returns an error code if the read fails.
func (as *Vm_t) User2k(cpu int, dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(cpu, dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(cpu int, dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		src, err := as.Userdmap8_inner(cpu, uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	if length < 0 || length > 1<<48 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, mem.PGSIZE)
	if uintptr(startva) < mem.USERMIN {
		startva = int(mem.USERMIN)
	}
	_ret, _l := as.Vmregion.empty(uintptr(startva), uintptr(length))
	ret := int(_ret)
	l := int(_l)
	if startva > ret && startva < ret+l {
		ret = startva
	}
	return ret
}

// / Tlbshoot invalidates pgcount pages starting at startva. Each
// / simulated CPU reads the shared page table directly through mem's
// / arena rather than through a cached translation, so there is no stale
// / TLB entry to invalidate in this host simulation; the call remains a
// / hook so callers that must run on real hardware keep the right call
// / sites instrumented.
func (as *Vm_t) Tlbshoot(startva uintptr, pgcount int) {
	if pgcount == 0 {
		return
	}
	as.Lockassert_pmap()
}

// / Sys_pgfault resolves a page fault for the address space as at the
// / given fault address with the provided error code, allocating any
// / new physical page on behalf of cpu. It returns an error code
// / describing the result.
func Sys_pgfault(cpu int, as *Vm_t, vmi *Vminfo_t, faultaddr, ecode uintptr) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&uintptr(PTE_W) != 0
	writeok := vmi.Perms&uint(PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if ecode&uintptr(PTE_U) == 0 {
		panic("kernel page fault")
	}
	if vmi.Mtype == VSANON {
		panic("shared anon pages should always be mapped")
	}

	pte, ok := vmi.Ptefor(cpu, as.Pmap, faultaddr)
	if !ok {
		return -defs.ENOMEM
	}
	if (iswrite && *pte&PTE_WASCOW != 0) ||
		(!iswrite && *pte&PTE_P != 0) {
		// two threads simultaneously faulted on same page
		return 0
	}

	var p_pg mem.Pa_t
	isblockpage := false
	perms := PTE_U | PTE_P
	isempty := true

	// shared file mappings are handled the same way regardless of whether
	// the fault is read or write
	if vmi.Mtype == VFILE && vmi.file.shared {
		var err defs.Err_t
		_, p_pg, err = vmi.Filepage(faultaddr)
		if err != 0 {
			return err
		}
		isblockpage = true
		if vmi.Perms&uint(PTE_W) != 0 {
			perms |= PTE_W
		}
	} else if iswrite {
		if *pte&PTE_W != 0 {
			panic("bad state")
		}
		var pgsrc *mem.Bytepg_t
		var p_bpg mem.Pa_t
		// the copy-on-write page may be specified in the pte or it may
		// not have been mapped at all yet.
		cow := *pte&PTE_COW != 0
		if cow {
			// if this anonymous COW page is mapped exactly once
			// (i.e. only this mapping maps the page), we can
			// claim the page, skip the copy, and mark it writable.
			phys := *pte & PTE_ADDR
			if vmi.Mtype == VANON && mem.Physmem.Refcnt(phys) == 1 &&
				phys != mem.P_zeropg {
				tmp := *pte &^ PTE_COW
				tmp |= PTE_W | PTE_WASCOW
				*pte = tmp
				as.Tlbshoot(faultaddr, 1)
				return 0
			}
			pgsrc = mem.Physmem.Dmap(phys)
			isempty = false
		} else {
			if *pte != 0 {
				panic("no")
			}
			switch vmi.Mtype {
			case VANON:
				pgsrc = mem.Zeropg
			case VFILE:
				var err defs.Err_t
				pgsrc, p_bpg, err = vmi.Filepage(faultaddr)
				if err != 0 {
					return err
				}
				defer mem.Physmem.Refdown(cpu, p_bpg)
			default:
				panic("wut")
			}
		}
		var pg *mem.Bytepg_t
		var ok bool
		// don't zero new page
		pg, p_pg, ok = mem.Physmem.Refpg_new_nozero(cpu)
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *pgsrc
		perms |= PTE_WASCOW
		perms |= PTE_W
	} else {
		if *pte != 0 {
			panic("must be 0")
		}
		switch vmi.Mtype {
		case VANON:
			p_pg = mem.P_zeropg
		case VFILE:
			var err defs.Err_t
			_, p_pg, err = vmi.Filepage(faultaddr)
			if err != 0 {
				return err
			}
			isblockpage = true
		default:
			panic("wut")
		}
		if vmi.Perms&uint(PTE_W) != 0 {
			perms |= PTE_COW
		}
	}
	if perms&PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	var tshoot, ok2 bool
	if isblockpage {
		tshoot, ok2 = as.Blockpage_insert(cpu, int(faultaddr), p_pg, perms, isempty, pte)
	} else {
		tshoot, ok2 = as.Page_insert(cpu, int(faultaddr), p_pg, perms, isempty, pte)
	}
	if !ok2 {
		mem.Physmem.Refdown(cpu, p_pg)
		return -defs.ENOMEM
	}
	if tshoot {
		as.Tlbshoot(faultaddr, 1)
	}
	return 0
}

// the first return value is true if a present mapping was modified (i.e. need
// to flush TLB). the second return value is false if the page insertion failed
// due to lack of user pages. p_pg's ref count is increased so the caller can
// simply Physmem.Refdown()
// / Page_insert maps the physical page p_pg at va with perms. The
// / function returns whether an existing mapping was replaced and
// / whether the insertion succeeded.
func (as *Vm_t) Page_insert(cpu, va int, p_pg mem.Pa_t, perms mem.Pa_t,
	vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(cpu, va, p_pg, perms, vempty, true, pte)
}

// / Blockpage_insert adds a page mapping without increasing the
// / reference count of p_pg. It is used for block pages.
func (as *Vm_t) Blockpage_insert(cpu, va int, p_pg mem.Pa_t, perms mem.Pa_t,
	vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(cpu, va, p_pg, perms, vempty, false, pte)
}

func (as *Vm_t) _page_insert(cpu, va int, p_pg mem.Pa_t, perms mem.Pa_t,
	vempty, refup bool, pte *mem.Pa_t) (bool, bool) {
	as.Lockassert_pmap()
	if refup {
		mem.Physmem.Refup(p_pg)
	}
	if pte == nil {
		var err defs.Err_t
		pte, err = pmap_walk(cpu, as.Pmap, va, PTE_U|PTE_W)
		if err != 0 {
			return false, false
		}
	}
	ninval := false
	var p_old mem.Pa_t
	if *pte&PTE_P != 0 {
		if vempty {
			panic("pte not empty")
		}
		if *pte&PTE_U == 0 {
			panic("replacing kernel page")
		}
		ninval = true
		p_old = mem.Pa_t(*pte & PTE_ADDR)
	}
	*pte = p_pg | perms | PTE_P
	if ninval {
		mem.Physmem.Refdown(cpu, p_old)
	}
	return ninval, true
}

// / Protect walks the page range [va, va+length) and sets or clears the
// / writable bit on every already-present mapping, downgrading (or
// / restoring) it without disturbing the underlying physical page. Used
// / by exec to lock a text segment read-only after its contents are
// / eagerly copied in through the normal write-fault path.
func (as *Vm_t) Protect(va, length int, writable bool) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	lo := util.Rounddown(va, mem.PGSIZE)
	hi := util.Roundup(va+length, mem.PGSIZE)
	for a := lo; a < hi; a += mem.PGSIZE {
		pte := Pmap_lookup(as.Pmap, a)
		if pte == nil || *pte&PTE_P == 0 {
			continue
		}
		if writable {
			*pte |= PTE_W
		} else {
			*pte &^= PTE_W
		}
	}
}

// / Page_remove unmaps the page at va from this address space and
// / returns true if a mapping was removed.
func (as *Vm_t) Page_remove(cpu, va int) bool {
	as.Lockassert_pmap()
	remmed := false
	pte := Pmap_lookup(as.Pmap, va)
	if pte != nil && *pte&PTE_P != 0 {
		if *pte&PTE_U == 0 {
			panic("removing kernel page")
		}
		p_old := mem.Pa_t(*pte & PTE_ADDR)
		mem.Physmem.Refdown(cpu, p_old)
		*pte = 0
		remmed = true
	}
	return remmed
}

// / Pgfault handles a page fault triggered by tid for the given fault
// / address and error code. It returns an error describing the
// / outcome.
func (as *Vm_t) Pgfault(cpu int, tid defs.Tid_t, fa, ecode uintptr) defs.Err_t {
	as.Lock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		as.Unlock_pmap()
		return -defs.EFAULT
	}
	ret := Sys_pgfault(cpu, as, vmi, fa, ecode)
	as.Unlock_pmap()
	return ret
}

// / Munmap unmaps the region spanning exactly [va, va+length). For a
// / writable shared file mapping it writes each present page back
// / through the backing file before releasing it, as spec 6's munmap
// / contract requires for MAP_SHARED. It returns EINVAL if no region
// / spans exactly that range -- splitting a region via a partial unmap
// / is not supported.
func (as *Vm_t) Munmap(cpu, va, length int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	vmi, ok := as.Vmregion.Remove(uintptr(va), uintptr(length))
	if !ok {
		return -defs.EINVAL
	}
	lo := vmi.Pgn << mem.PGSHIFT
	hi := vmi.end() << mem.PGSHIFT
	for a := lo; a < hi; a += mem.PGSIZE_UINTPTR {
		pte := Pmap_lookup(as.Pmap, int(a))
		if pte == nil || *pte&PTE_P == 0 {
			continue
		}
		if vmi.Mtype == VFILE && vmi.file.shared && vmi.Perms&uint(PTE_W) != 0 {
			pg := mem.Physmem.Dmap(*pte & PTE_ADDR)
			off := vmi.file.foff + int(a-lo)
			ub := &Fakeubuf_t{}
			ub.Fake_init(mem.Pg2bytes(pg)[:])
			vmi.file.mfile.mfops.Pwrite(ub, off)
		}
		mem.Physmem.Refdown(cpu, *pte&PTE_ADDR)
		*pte = 0
	}
	as.Tlbshoot(uintptr(va), int(vmi.Pglen))
	return 0
}

// / Uvmfree releases all user mappings and page tables associated
// / with this address space.
func (as *Vm_t) Uvmfree(cpu int) {
	Uvmfree_inner(cpu, as.Pmap, as.P_pmap, &as.Vmregion)
	// Refdown could free the pmap page itself, so it must come after
	// Uvmfree_inner has torn down everything it points to.
	mem.Physmem.Refdown(cpu, as.P_pmap)
	// drop every region and its file mapcount accounting
	as.Vmregion.Clear()
}

// / Vmadd_anon creates a private anonymous mapping at the given
// / virtual address range with the supplied permissions.
func (as *Vm_t) Vmadd_anon(start, length int, perms mem.Pa_t) {
	vmi := as._mkvmi(VANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

// / Vmadd_file maps a private region backed by the provided file
// / operations at the specified offset. Its pages are never written
// / back to the file.
func (as *Vm_t) Vmadd_file(start, length int, perms mem.Pa_t, fops fdops.Fdops_i,
	foff int) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, nil)
	as.Vmregion.insert(vmi)
}

// / Vmadd_shareanon inserts a shared anonymous mapping with the given
// / permissions.
func (as *Vm_t) Vmadd_shareanon(start, length int, perms mem.Pa_t) {
	vmi := as._mkvmi(VSANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

// / Vmadd_sharefile creates a shared file-backed mapping using fops
// / starting at the given offset. The unpin callback is used when
// / unmapping pages.
func (as *Vm_t) Vmadd_sharefile(start, length int, perms mem.Pa_t, fops fdops.Fdops_i,
	foff int, unpin mem.Unpin_i) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, unpin)
	as.Vmregion.insert(vmi)
}

// does not increase opencount on fops (vmregion_t.insert does). perms should
// only use PTE_U/PTE_W; the page fault handler will install the correct COW
// flags. perms == 0 means that no mapping can go here (like for guard pages).
func (as *Vm_t) _mkvmi(mt mtype_t, start, length int, perms mem.Pa_t, foff int,
	fops fdops.Fdops_i, unpin mem.Unpin_i) *Vminfo_t {
	if length <= 0 {
		panic("bad vmi len")
	}
	if mem.Pa_t(start|length)&PGOFFSET != 0 {
		panic("start and len must be aligned")
	}
	// don't specify cow, present etc. -- page fault will handle all that
	pm := PTE_W | PTE_COW | PTE_WASCOW | PTE_PS | PTE_PCD | PTE_P | PTE_U
	if r := perms & pm; r != 0 && r != PTE_U && r != (PTE_W|PTE_U) {
		panic("bad perms")
	}
	ret := &Vminfo_t{}
	pgn := uintptr(start) >> mem.PGSHIFT
	pglen := util.Roundup(length, mem.PGSIZE) >> int(mem.PGSHIFT)
	ret.Mtype = mt
	ret.Pgn = pgn
	ret.Pglen = uintptr(pglen)
	ret.Perms = uint(perms)
	if mt == VFILE {
		ret.file.foff = foff
		ret.file.mfile = &Mfile_t{}
		ret.file.mfile.mfops = fops
		ret.file.mfile.unpin = unpin
		ret.file.mfile.mapcount = pglen
		ret.file.shared = unpin != nil
	}
	return ret
}

// / Mkuserbuf allocates and initializes a Userbuf_t referencing user
// / memory starting at userva.
func (as *Vm_t) Mkuserbuf(cpu, userva, length int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(cpu, as, userva, length)
	return ret
}
