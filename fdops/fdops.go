// Package fdops defines the interfaces a file descriptor's operations
// table (fd.Fd_t.Fops) must satisfy, and the small value types those
// operations pass across the boundary (I/O buffers, poll readiness,
// directory entries). Concrete implementations -- regular files, pipes,
// the console, raw disk -- live in package fd and package fs; fdops only
// fixes the contract between them and the syscall layer.
package fdops

import (
	"nyxkern/defs"
	"nyxkern/mem"
	"nyxkern/ustr"
)

// Userio_i abstracts a source or destination for a data transfer so the
// same Read/Write implementation works whether the other end is user
// memory (vm.Userbuf_t), an iovec array (vm.Useriovec_t), or a plain
// kernel buffer (vm.Fakeubuf_t).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Ready_t is a bitmask of readiness conditions a descriptor can be
// polled for.
type Ready_t uint8

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
	R_HUP   Ready_t = 1 << 3
)

// Pollmsg_t is the poll/select request a descriptor is asked to evaluate:
// which conditions the caller cares about, and (if non-nil) a channel to
// notify when one becomes ready while the caller is blocked.
type Pollmsg_t struct {
	Events Ready_t
	Notif  chan Ready_t
}

// Fdstat_t mirrors the subset of POSIX stat fields this kernel tracks.
type Fdstat_t struct {
	Mode  uint
	Size  int
	Rdev  uint
	Inode uint
}

// Dirent_t is one directory entry as returned by Fdops_i.Getdents.
type Dirent_t struct {
	Name  ustr.Ustr
	Inode uint
}

// Fdops_i is the set of operations every open file descriptor supports,
// whatever concrete kind of object backs it (regular file, directory,
// pipe end, console, raw disk, socket).
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(*Fdstat_t) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Mmapi(off, len int, inhibit bool) ([]MmapInfo_t, defs.Err_t)
	Pathi() Inum_i
	Read(Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(Userio_i) (int, defs.Err_t)
	Fullpath() (ustr.Ustr, defs.Err_t)
	Truncate(newlen uint) defs.Err_t
	Pread(Userio_i, int) (int, defs.Err_t)
	Pwrite(Userio_i, int) (int, defs.Err_t)
	Accept(Userio_i) (ustr.Ustr, defs.Err_t)
	Bind(ustr.Ustr) defs.Err_t
	Connect(ustr.Ustr) defs.Err_t
	Listen(backlog int) defs.Err_t
	Sendmsg(src Userio_i, toaddr ustr.Ustr, cmsg []uint8, flags int) (int, defs.Err_t)
	Recvmsg(dst Userio_i, fromsa Userio_i, cmsg Userio_i, flags int) (int, int, int, defs.Err_t)
	Poll(*Pollmsg_t) (Ready_t, defs.Err_t)
	Getdents(Userio_i) (int, defs.Err_t)
	Unblock() defs.Err_t
	Shutdown(read, write bool) defs.Err_t
}

// Inum_i exposes the backing inode number a descriptor maps to, without
// package fdops needing to import package fs (which in turn depends on
// fdops for the descriptors it hands back -- this breaks that cycle).
type Inum_i interface {
	Inum() int
}

// MmapInfo_t describes one physical page backing an mmap'ed region, as
// reported by Fdops_i.Mmapi for the page-fault handler to install.
type MmapInfo_t struct {
	Pg   *mem.Bytepg_t
	Phys mem.Pa_t
}
