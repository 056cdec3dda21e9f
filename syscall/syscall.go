// Package syscall implements the fixed-size dispatch table described in
// spec 4.11: one entry per supported syscall id, arguments validated by
// walking the calling process's page table before any subsystem below is
// touched. Userspace in this host simulation is a Go closure rather than
// a register file, so the "x0..x5 in, x0 out" ABI is expressed as typed
// Go parameters on Sys_t's methods; Dispatch additionally offers the raw
// id+ints entry point spec 6 describes, for callers that want to drive
// the syscall surface exactly the way a trap handler would.
package syscall

import (
	"nyxkern/defs"
	"nyxkern/fd"
	"nyxkern/fdops"
	"nyxkern/fs"
	"nyxkern/mem"
	"nyxkern/proc"
	"nyxkern/stat"
	"nyxkern/ustr"
	"nyxkern/vm"
)

// Syscall ids, indexing Sys_t.Dispatch's table. Numeric values are this
// kernel's own; they do not need to match a real AArch64 ABI since the
// trap layer that would carry them is an external collaborator (spec 1).
const (
	SYS_READ = iota
	SYS_WRITE
	SYS_WRITEV
	SYS_CLOSE
	SYS_DUP
	SYS_FSTAT
	SYS_NEWFSTATAT
	SYS_OPENAT
	SYS_MKDIRAT
	SYS_MKNODAT
	SYS_UNLINKAT
	SYS_CHDIR
	SYS_PIPE2
	SYS_MMAP
	SYS_MUNMAP
	SYS_IOCTL
	SYS_FORK
	SYS_WAIT4
	SYS_EXIT
	SYS_KILL
	nsyscalls
)

// mmap prot/flags bits (spec 6). PROT_EXEC and MAP_ANONYMOUS are named
// but deliberately unsupported, per spec 6's mmap contract.
const (
	PROT_READ  = 1 << 0
	PROT_WRITE = 1 << 1
	PROT_EXEC  = 1 << 2

	MAP_SHARED    = 1 << 0
	MAP_ANONYMOUS = 1 << 5
)

// AT_FDCWD is the only dirfd value openat/mkdirat/mknodat/unlinkat accept
// (spec 6: "other dirfd values return -1").
const AT_FDCWD = -100

// AT_REMOVEDIR marks an unlinkat call as an rmdir.
const AT_REMOVEDIR = 0x200

// TCGETS is the one ioctl request this kernel recognizes (spec 6); it
// always succeeds and returns no data.
const TCGETS = 0x5413

// nextMmapHint is where Sys_mmap starts handing out addresses when the
// caller passes addr==0 (spec 6: "chosen sequentially from 0x100000").
const nextMmapHint = 0x100000

// Sys_t is the capability a process's syscalls are dispatched through:
// the mounted filesystem, plus the home CPU id the caller's memory
// operations are charged to. It carries no process-specific state --
// every method takes the *proc.Proc_t it operates on explicitly, as a
// narrow capability rather than a reach for a global (spec 9's remapping
// of "function-pointer vtables on global singletons").
type Sys_t struct {
	Fs  *fs.Fs_t
	Cpu int
}

// dirfdOK rejects every dirfd but AT_FDCWD, matching spec 6's
// openat/mkdirat/mknodat/unlinkat contract.
func dirfdOK(dirfd int) defs.Err_t {
	if dirfd != AT_FDCWD {
		return -defs.EINVAL
	}
	return 0
}

func (s *Sys_t) userPath(p *proc.Proc_t, va int) (ustr.Ustr, defs.Err_t) {
	return p.AS.Userstr(s.Cpu, va, 256)
}

// Read reads up to len(buf) bytes from fdn's current offset into buf.
func (s *Sys_t) Read(p *proc.Proc_t, fdn int, va, n int) (int, defs.Err_t) {
	f, err := p.Fds.Get(fdn)
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_READ == 0 {
		return 0, -defs.EBADF
	}
	ub := p.AS.Mkuserbuf(s.Cpu, va, n)
	return f.Fops.Read(ub)
}

// Write writes len(buf) bytes from va to fdn.
func (s *Sys_t) Write(p *proc.Proc_t, fdn int, va, n int) (int, defs.Err_t) {
	f, err := p.Fds.Get(fdn)
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EBADF
	}
	ub := p.AS.Mkuserbuf(s.Cpu, va, n)
	return f.Fops.Write(ub)
}

// Iovec_t is one element of a writev argument array: a user virtual
// address and a length.
type Iovec_t struct {
	Va  int
	Len int
}

// Writev writes each iovec in order to fdn, stopping at the first error
// and returning the total written so far.
func (s *Sys_t) Writev(p *proc.Proc_t, fdn int, iov []Iovec_t) (int, defs.Err_t) {
	f, err := p.Fds.Get(fdn)
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EBADF
	}
	tot := 0
	for _, v := range iov {
		ub := p.AS.Mkuserbuf(s.Cpu, v.Va, v.Len)
		n, werr := f.Fops.Write(ub)
		tot += n
		if werr != 0 {
			return tot, werr
		}
	}
	return tot, 0
}

// Close closes fdn.
func (s *Sys_t) Close(p *proc.Proc_t, fdn int) defs.Err_t {
	return p.Fds.Close(fdn)
}

// Dup duplicates oldfd onto the lowest unused descriptor.
func (s *Sys_t) Dup(p *proc.Proc_t, oldfd int) (int, defs.Err_t) {
	of, err := p.Fds.Get(oldfd)
	if err != 0 {
		return 0, err
	}
	nf, err := fd.Copyfd(of)
	if err != 0 {
		return 0, err
	}
	return p.Fds.Install(nf)
}

// Fstat fills st with fdn's metadata.
func (s *Sys_t) Fstat(p *proc.Proc_t, fdn int, st *stat.Stat_t) defs.Err_t {
	f, err := p.Fds.Get(fdn)
	if err != 0 {
		return err
	}
	var fst fdops.Fdstat_t
	if err := f.Fops.Fstat(&fst); err != 0 {
		return err
	}
	st.Wmode(fst.Mode)
	st.Wsize(uint(fst.Size))
	st.Wrdev(fst.Rdev)
	st.Wino(fst.Inode)
	return 0
}

// Newfstatat fills st with the metadata of the path named at va,
// resolved relative to p's cwd (dirfd must be AT_FDCWD).
func (s *Sys_t) Newfstatat(p *proc.Proc_t, dirfd, va int, st *stat.Stat_t) defs.Err_t {
	if err := dirfdOK(dirfd); err != 0 {
		return err
	}
	path, err := s.userPath(p, va)
	if err != 0 {
		return err
	}
	return s.Fs.Fs_stat(path, st, p.Cwd)
}

// Openat opens (optionally creating) the path named at va and installs
// the resulting descriptor at the lowest unused fd.
func (s *Sys_t) Openat(p *proc.Proc_t, dirfd, va, flags, mode int) (int, defs.Err_t) {
	if err := dirfdOK(dirfd); err != 0 {
		return 0, err
	}
	path, err := s.userPath(p, va)
	if err != 0 {
		return 0, err
	}
	nfd, err := s.Fs.Fs_open(path, flags, mode, p.Cwd, 0, 0)
	if err != 0 {
		return 0, err
	}
	return p.Fds.Install(nfd)
}

// Mkdirat creates an empty directory at the path named at va.
func (s *Sys_t) Mkdirat(p *proc.Proc_t, dirfd, va, mode int) defs.Err_t {
	if err := dirfdOK(dirfd); err != 0 {
		return err
	}
	path, err := s.userPath(p, va)
	if err != 0 {
		return err
	}
	return s.Fs.Fs_mkdir(path, mode, p.Cwd)
}

// Mknodat creates a device special file at the path named at va.
func (s *Sys_t) Mknodat(p *proc.Proc_t, dirfd, va, major, minor int) defs.Err_t {
	if err := dirfdOK(dirfd); err != 0 {
		return err
	}
	path, err := s.userPath(p, va)
	if err != 0 {
		return err
	}
	_, err = s.Fs.Fs_open(path, defs.O_CREAT, 0, p.Cwd, major, minor)
	return err
}

// Unlinkat removes the path named at va; AT_REMOVEDIR in flags requests
// rmdir semantics instead of unlink.
func (s *Sys_t) Unlinkat(p *proc.Proc_t, dirfd, va, flags int) defs.Err_t {
	if err := dirfdOK(dirfd); err != 0 {
		return err
	}
	path, err := s.userPath(p, va)
	if err != 0 {
		return err
	}
	return s.Fs.Fs_unlink(path, p.Cwd, flags&AT_REMOVEDIR != 0)
}

// Chdir changes p's current working directory to the path named at va.
func (s *Sys_t) Chdir(p *proc.Proc_t, va int) defs.Err_t {
	path, err := s.userPath(p, va)
	if err != 0 {
		return err
	}
	full := p.Cwd.Canonicalpath(path)
	nfd, err := s.Fs.Fs_open(full, defs.O_DIRECTORY, 0, p.Cwd, 0, 0)
	if err != 0 {
		return err
	}
	p.Cwd.Lock()
	old := p.Cwd.Fd
	p.Cwd.Fd = nfd
	p.Cwd.Path = full
	p.Cwd.Unlock()
	fd.Close_panic(old)
	return 0
}

// Pipe2 creates a pipe and installs its read and write ends, returning
// their fd numbers.
func (s *Sys_t) Pipe2(p *proc.Proc_t) (rfd, wfd int, err defs.Err_t) {
	r, w, err := fd.MkPipe(s.Cpu)
	if err != 0 {
		return 0, 0, err
	}
	rf := &fd.Fd_t{Fops: r, Perms: fd.FD_READ}
	wf := &fd.Fd_t{Fops: w, Perms: fd.FD_WRITE}
	rfd, err = p.Fds.Install(rf)
	if err != 0 {
		rf.Fops.Close()
		wf.Fops.Close()
		return 0, 0, err
	}
	wfd, err = p.Fds.Install(wf)
	if err != 0 {
		p.Fds.Close(rfd)
		wf.Fops.Close()
		return 0, 0, err
	}
	return rfd, wfd, 0
}

// nextAnon hands out sequential mmap addresses for addr==0 calls. It is
// one package-level counter shared by every Sys_t and every process, and
// no lock guards it.
var nextAnon = nextMmapHint

// Mmap maps length bytes of fdn (at file offset off) into p's address
// space. MAP_ANONYMOUS and PROT_EXEC are unsupported per spec 6; a
// MAP_SHARED writable mapping requires a writable file.
func (s *Sys_t) Mmap(p *proc.Proc_t, addr, length, prot, flags, fdn, off int) (int, defs.Err_t) {
	if flags&MAP_ANONYMOUS != 0 {
		return 0, -defs.ENOSYS
	}
	if prot&PROT_EXEC != 0 {
		return 0, -defs.ENOSYS
	}
	f, err := p.Fds.Get(fdn)
	if err != 0 {
		return 0, err
	}
	shared := flags&MAP_SHARED != 0
	writable := prot&PROT_WRITE != 0
	if shared && writable && f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EACCES
	}

	va := addr
	if va == 0 {
		va = roundUpPage(nextAnon)
		nextAnon = va + roundUpPage(length)
	}
	length = roundUpPage(length)

	perms := uint(vm.PTE_U)
	if writable {
		perms |= uint(vm.PTE_W)
	}
	if shared {
		p.AS.Vmadd_sharefile(va, length, mem.Pa_t(perms), f.Fops, off, nil)
	} else {
		p.AS.Vmadd_file(va, length, mem.Pa_t(perms), f.Fops, off)
	}
	return va, 0
}

// Munmap unmaps exactly the range [addr, addr+length) after page
// aligning it, writing back any MAP_SHARED writable pages.
func (s *Sys_t) Munmap(p *proc.Proc_t, addr, length int) defs.Err_t {
	lo := roundDownPage(addr)
	hi := roundUpPage(addr + length)
	return p.AS.Munmap(s.Cpu, lo, hi-lo)
}

// Ioctl implements the single recognized request (spec 6); anything else
// is unimplemented.
func (s *Sys_t) Ioctl(p *proc.Proc_t, fdn, req int) (int, defs.Err_t) {
	if _, err := p.Fds.Get(fdn); err != 0 {
		return 0, err
	}
	if req == TCGETS {
		return 0, 0
	}
	return 0, -defs.ENOSYS
}

// Fork creates a child of p; childEntry is the child's continuation, the
// host-simulation stand-in for a copied trap frame resuming in user mode
// (spec 1 treats the trap layer as an external collaborator, so here the
// "register state a fork duplicates" is simply which Go closure the new
// goroutine runs).
func (s *Sys_t) Fork(p *proc.Proc_t, childEntry func(*proc.Proc_t)) (proc.Pid_t, defs.Err_t) {
	child, err := proc.Fork(p, childEntry)
	if err != 0 {
		return 0, err
	}
	return child.Pid, 0
}

// Execve replaces p's address space per ea and returns the new stack
// pointer and entry point for the caller to resume at.
func (s *Sys_t) Execve(p *proc.Proc_t, ea *proc.ExecArgs_t) (sp, entry int, err defs.Err_t) {
	return proc.Exec(p, ea)
}

// Wait4 reaps one of p's zombie children.
func (s *Sys_t) Wait4(p *proc.Proc_t) (proc.Pid_t, int, defs.Err_t) {
	return proc.Wait(p)
}

// Exit terminates p with the given exit code.
func (s *Sys_t) Exit(p *proc.Proc_t, code int) {
	proc.Exit(p, code)
}

// Kill marks the process with the given pid killed and alerts it.
func (s *Sys_t) Kill(pid proc.Pid_t) defs.Err_t {
	if !proc.Kill(pid) {
		return -defs.ESRCH
	}
	return 0
}

func roundDownPage(v int) int { return v &^ (vm.PGSIZE - 1) }
func roundUpPage(v int) int   { return (v + vm.PGSIZE - 1) &^ (vm.PGSIZE - 1) }

// Dispatch indexes the fixed-size syscall table by sysno and invokes it
// with register-width arguments a0..a5, mirroring the real ABI (spec 6:
// "syscall id in x8, args in x0..x5, result in x0"). Out-params (a stat
// buffer, a pid/status pair) are written back through the same user
// virtual-address validation every other pointer argument goes through.
// It panics on an unrecognized id, per spec 7's "unknown syscall id"
// corruption class. fork has no register-only encoding in a host
// simulation where a process's continuation is a Go closure, not a
// copyable register file; callers needing fork go through Sys_t.Fork
// directly instead of Dispatch.
func (s *Sys_t) Dispatch(p *proc.Proc_t, sysno int, a0, a1, a2, a3, a4, a5 int) int {
	switch sysno {
	case SYS_READ:
		n, err := s.Read(p, a0, a1, a2)
		return errOr(n, err)
	case SYS_WRITE:
		n, err := s.Write(p, a0, a1, a2)
		return errOr(n, err)
	case SYS_WRITEV:
		iov := make([]Iovec_t, a2)
		for i := range iov {
			base := a1 + i*16
			va, err := p.AS.Userreadn(s.Cpu, base, 8)
			if err != 0 {
				return int(err)
			}
			ln, err := p.AS.Userreadn(s.Cpu, base+8, 8)
			if err != 0 {
				return int(err)
			}
			iov[i] = Iovec_t{Va: va, Len: ln}
		}
		n, err := s.Writev(p, a0, iov)
		return errOr(n, err)
	case SYS_CLOSE:
		return int(s.Close(p, a0))
	case SYS_DUP:
		n, err := s.Dup(p, a0)
		return errOr(n, err)
	case SYS_FSTAT:
		var st stat.Stat_t
		if err := s.Fstat(p, a0, &st); err != 0 {
			return int(err)
		}
		if err := p.AS.K2user(s.Cpu, st.Bytes(), a1); err != 0 {
			return int(err)
		}
		return 0
	case SYS_NEWFSTATAT:
		var st stat.Stat_t
		if err := s.Newfstatat(p, a0, a1, &st); err != 0 {
			return int(err)
		}
		if err := p.AS.K2user(s.Cpu, st.Bytes(), a2); err != 0 {
			return int(err)
		}
		return 0
	case SYS_OPENAT:
		n, err := s.Openat(p, a0, a1, a2, a3)
		return errOr(n, err)
	case SYS_MKDIRAT:
		return int(s.Mkdirat(p, a0, a1, a2))
	case SYS_MKNODAT:
		return int(s.Mknodat(p, a0, a1, a2, a3))
	case SYS_UNLINKAT:
		return int(s.Unlinkat(p, a0, a1, a2))
	case SYS_CHDIR:
		return int(s.Chdir(p, a0))
	case SYS_PIPE2:
		rfd, wfd, err := s.Pipe2(p)
		if err != 0 {
			return int(err)
		}
		if err := p.AS.Userwriten(s.Cpu, a0, 4, rfd); err != 0 {
			return int(err)
		}
		if err := p.AS.Userwriten(s.Cpu, a0+4, 4, wfd); err != 0 {
			return int(err)
		}
		return 0
	case SYS_MMAP:
		n, err := s.Mmap(p, a0, a1, a2, a3, a4, a5)
		return errOr(n, err)
	case SYS_MUNMAP:
		return int(s.Munmap(p, a0, a1))
	case SYS_IOCTL:
		n, err := s.Ioctl(p, a0, a1)
		return errOr(n, err)
	case SYS_WAIT4:
		pid, code, err := s.Wait4(p)
		if err != 0 {
			return int(err)
		}
		if a0 != 0 {
			p.AS.Userwriten(s.Cpu, a0, 4, code)
		}
		return int(pid)
	case SYS_EXIT:
		s.Exit(p, a0)
		return 0
	case SYS_KILL:
		return int(s.Kill(proc.Pid_t(a0)))
	case SYS_FORK:
		panic("syscall: fork has no register-only ABI in this host simulation")
	default:
		panic("syscall: unknown syscall id")
	}
}

func errOr(n int, err defs.Err_t) int {
	if err != 0 {
		return int(err)
	}
	return n
}
