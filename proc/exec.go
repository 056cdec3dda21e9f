package proc

import (
	"nyxkern/defs"
	"nyxkern/mem"
	"nyxkern/vm"
)

// execStackPages is the number of guard-free pages reserved for the new
// process's stack, placed directly below USERTOP (spec 4.4: "Stack growth
// is handled by including a stack section in execve 32 pages below
// USERTOP").
const execStackPages = 32

// Segment_t is one loadable segment of the program being exec'd: a
// virtual range plus where in the program image its initial contents
// come from. Parsing the image itself (ELF header, program headers) is
// an external collaborator's job (spec 1, "the ELF loader's parsing
// details ... are out of scope"); Exec only needs the result.
type Segment_t struct {
	Va       int
	Memsz    int
	Data     []uint8 // Filesz bytes of initial content; len(Data) <= Memsz
	Writable bool
}

// ExecArgs_t bundles everything Exec needs beyond the calling process:
// where control resumes, the loadable segments, and the argv/envp
// strings to place on the new stack.
type ExecArgs_t struct {
	Entry    int
	Segments []Segment_t
	Argv     []string
	Envp     []string
}

// Exec replaces p's address space with a freshly built one containing
// ea's segments and a stack holding argv/envp, per spec 4.10. It returns
// the new stack pointer and the entry point the caller's trap-return
// analogue should resume at, or an error if any segment or the stack
// could not be built (p's old address space is left untouched in that
// case).
func Exec(p *Proc_t, ea *ExecArgs_t) (sp int, entry int, err defs.Err_t) {
	nas, err := vm.NewAddrSpace(p.Cpu)
	if err != 0 {
		return 0, 0, err
	}

	for _, seg := range ea.Segments {
		if e := loadSegment(p.Cpu, nas, &seg); e != 0 {
			nas.Uvmfree(p.Cpu)
			return 0, 0, e
		}
	}

	stackva := int(mem.USERTOP) - execStackPages*mem.PGSIZE
	nas.Vmadd_anon(stackva, execStackPages*mem.PGSIZE, mem.Pa_t(vm.PTE_U|vm.PTE_W))

	newsp, e := buildArgStack(p.Cpu, nas, stackva, execStackPages*mem.PGSIZE, ea.Argv, ea.Envp)
	if e != 0 {
		nas.Uvmfree(p.Cpu)
		return 0, 0, e
	}

	old := p.AS
	p.AS = nas
	old.Uvmfree(p.Cpu)

	return newsp, ea.Entry, 0
}

// loadSegment maps seg's virtual range as anonymous memory, eagerly
// copies its file contents in (touching every page backing Data and
// faulting in zero pages for the Memsz-Filesz tail, as a byproduct of
// how Vm_t's anonymous lazy-zero pages work), and locks the mapping
// read-only if the segment is not writable (text).
func loadSegment(cpu int, as *vm.Vm_t, seg *Segment_t) defs.Err_t {
	if seg.Memsz <= 0 || len(seg.Data) > seg.Memsz {
		return -defs.EINVAL
	}
	lo := roundDownPage(seg.Va)
	hi := roundUpPage(seg.Va + seg.Memsz)
	as.Vmadd_anon(lo, hi-lo, mem.Pa_t(vm.PTE_U|vm.PTE_W))

	if len(seg.Data) > 0 {
		if err := as.K2user(cpu, seg.Data, seg.Va); err != 0 {
			return err
		}
	}
	if !seg.Writable {
		as.Protect(lo, hi-lo, false)
	}
	return 0
}

// buildArgStack writes argc, an argv pointer array, an envp pointer
// array (NULL terminated), and the backing strings onto the new stack,
// 16-byte aligned, mirroring the original exec's stack-build loop: argc
// first, then argv[], then envp[], then the string bytes, built from the
// top of the stack downward so the final stack pointer is the lowest
// address written.
func buildArgStack(cpu int, as *vm.Vm_t, stackva, stacklen int, argv, envp []string) (int, defs.Err_t) {
	top := stackva + stacklen
	sp := top

	writeStr := func(s string) (int, defs.Err_t) {
		b := append([]uint8(s), 0)
		sp -= len(b)
		sp &^= 0x7 // keep string storage pointer-aligned
		if err := as.K2user(cpu, b, sp); err != 0 {
			return 0, err
		}
		return sp, 0
	}

	envptrs := make([]int, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		p, err := writeStr(envp[i])
		if err != 0 {
			return 0, err
		}
		envptrs[i] = p
	}
	argptrs := make([]int, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		p, err := writeStr(argv[i])
		if err != 0 {
			return 0, err
		}
		argptrs[i] = p
	}

	// Pre-align so the final stack pointer lands 16-byte aligned with
	// argc exactly at sp: the word block below is argc + argv[] + NULL +
	// envp[] + NULL.
	nwords := len(argv) + len(envp) + 3
	sp &^= 0xf
	if nwords%2 == 1 {
		sp -= 8
	}

	writeWord := func(v int) defs.Err_t {
		sp -= 8
		return as.Userwriten(cpu, sp, 8, v)
	}

	if err := writeWord(0); err != 0 { // envp NULL terminator
		return 0, err
	}
	for i := len(envptrs) - 1; i >= 0; i-- {
		if err := writeWord(envptrs[i]); err != 0 {
			return 0, err
		}
	}
	if err := writeWord(0); err != 0 { // argv NULL terminator
		return 0, err
	}
	for i := len(argptrs) - 1; i >= 0; i-- {
		if err := writeWord(argptrs[i]); err != 0 {
			return 0, err
		}
	}
	if err := writeWord(len(argv)); err != 0 { // argc
		return 0, err
	}

	if sp < stackva {
		return 0, -defs.ENOMEM
	}
	return sp, 0
}

func roundDownPage(v int) int { return v &^ (mem.PGSIZE - 1) }
func roundUpPage(v int) int   { return (v + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1) }
