// Package fd defines the file-descriptor entry shared by every
// descriptor-shaped object in the kernel (regular files, directories,
// pipes, the console) and the per-process working directory built on
// one.
package fd

import (
	"sync"

	"nyxkern/bpath"
	"nyxkern/defs"
	"nyxkern/fdops"
	"nyxkern/ustr"
)

// Descriptor permission bits.
const (
	FD_READ  = 0x1
	FD_WRITE = 0x2
)

// Fd_t pairs an fdops implementation with the permissions the open
// granted. Fops is always a pointer-receiver implementation, so copying
// an Fd_t aliases the underlying open file.
type Fd_t struct {
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates an open descriptor, taking a new reference on the
// underlying object.
func Copyfd(f *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *f
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes a descriptor that must close cleanly; the caller
// holds the only reference, so failure means a refcounting bug.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t is a process's current working directory: the open directory
// descriptor plus the canonical path that reached it. The mutex
// serializes chdir against concurrent path lookups.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath returns p anchored at the cwd when it isn't already
// absolute; an absolute p is returned as is. A relative p yields freshly
// allocated storage; the cwd's own path is never aliased into it.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	return cwd.Path.Extend(p)
}

// Canonicalpath anchors p at the cwd and lexically resolves "." and
// ".." out of it.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd returns a Cwd_t rooted at "/".
func MkRootCwd(f *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: f, Path: ustr.MkUstrRoot()}
}
