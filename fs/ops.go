package fs

import (
	"nyxkern/bounds"
	"nyxkern/defs"
	"nyxkern/fd"
	"nyxkern/fdops"
	"nyxkern/ustr"
)

// mkRootIfAbsent formats a brand-new filesystem's root directory the
// first time StartFS sees inode 1 unallocated. A previously formatted
// device already has a valid root and this is a no-op.
func (fs *Fs_t) mkRootIfAbsent() {
	fs.log.begin_op()
	defer fs.log.end_op()

	root := fs.icache.iget(rootInode)
	root.Lock()
	if root.entry.itype == I_INVALID {
		root.entry.itype = I_DIR
		root.entry.nlink = 1
		root.isync(true)
		dirInsert(root, ustr.MkUstrDot(), rootInode)
		dirInsert(root, ustr.DotDot, rootInode)
	}
	root.Unlock()
	fs.icache.iput(root)
}

// Fs_rootfops opens the root directory for use as a Cwd_t's backing
// descriptor; ufs.BootFS/BootMemFS call this once at mount time.
func (fs *Fs_t) Fs_rootfops() (fdops.Fdops_i, defs.Err_t) {
	root := fs.icache.iget(rootInode)
	return fs.newFile(root, ustr.MkUstrRoot(), false), 0
}

// Fs_open resolves path (relative to cwd unless absolute), optionally
// creating it, and returns a ready-to-use file descriptor.
func (fs *Fs_t) Fs_open(path ustr.Ustr, flags, mode int, cwd *fd.Cwd_t, major, minor int) (*fd.Fd_t, defs.Err_t) {
	if err := fs.resAdmit(bounds.B_FS_T_FS_OPEN); err != 0 {
		return nil, err
	}
	full := cwd.Canonicalpath(path)

	var ip *inode_t
	creating := flags&defs.O_CREAT != 0
	if creating {
		fs.log.begin_op()
		dir, name, err := fs.namexParent(full)
		if err != 0 {
			fs.log.end_op()
			return nil, err
		}
		dir.Lock()
		if dir.entry.itype != I_DIR {
			dir.Unlock()
			fs.icache.iput(dir)
			fs.log.end_op()
			return nil, -defs.ENOTDIR
		}
		existing, _ := dirLookup(dir, name)
		if existing != 0 {
			dir.Unlock()
			fs.icache.iput(dir)
			fs.log.end_op()
			if flags&defs.O_EXCL != 0 {
				return nil, -defs.EEXIST
			}
			var err2 defs.Err_t
			ip, err2 = fs.namex(full)
			if err2 != 0 {
				return nil, err2
			}
		} else {
			itype := I_FILE
			if major != 0 || minor != 0 {
				itype = I_DEV
			}
			ip = fs.icache.ialloc(itype)
			ip.Lock()
			ip.entry.nlink = 1
			ip.entry.major = major
			ip.entry.minor = minor
			ip.isync(true)
			ip.Unlock()
			dirInsert(dir, name, ip.ino)
			dir.Unlock()
			fs.icache.iput(dir)
			fs.log.end_op()
		}
	} else {
		var err defs.Err_t
		ip, err = fs.namex(full)
		if err != 0 {
			return nil, err
		}
	}

	ip.Lock()
	if flags&defs.O_DIRECTORY != 0 && ip.entry.itype != I_DIR {
		ip.Unlock()
		fs.icache.iput(ip)
		return nil, -defs.ENOTDIR
	}
	if ip.entry.itype == I_DIR && (flags&defs.O_ACCMODE) != defs.O_RDONLY {
		ip.Unlock()
		fs.icache.iput(ip)
		return nil, -defs.EISDIR
	}
	truncate := flags&defs.O_TRUNC != 0 && ip.entry.itype == I_FILE
	ip.Unlock()
	if truncate {
		fs.log.begin_op()
		ip.Lock()
		fs.icache.iclear(ip)
		ip.entry.size = 0
		ip.isync(true)
		ip.Unlock()
		fs.log.end_op()
	}

	perms := fd.FD_READ
	switch flags & defs.O_ACCMODE {
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	case defs.O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	}

	f := fs.newFile(ip, full, flags&defs.O_APPEND != 0)
	return &fd.Fd_t{Fops: f, Perms: perms}, 0
}

// Fs_mkdir creates an empty directory at path.
func (fs *Fs_t) Fs_mkdir(path ustr.Ustr, mode int, cwd *fd.Cwd_t) defs.Err_t {
	if err := fs.resAdmit(bounds.B_FS_T_FS_MKDIR); err != 0 {
		return err
	}
	full := cwd.Canonicalpath(path)

	fs.log.begin_op()
	defer fs.log.end_op()

	dir, name, err := fs.namexParent(full)
	if err != 0 {
		return err
	}
	defer fs.icache.iput(dir)
	dir.Lock()
	defer dir.Unlock()
	if dir.entry.itype != I_DIR {
		return -defs.ENOTDIR
	}
	if existing, _ := dirLookup(dir, name); existing != 0 {
		return -defs.EEXIST
	}

	nd := fs.icache.ialloc(I_DIR)
	nd.Lock()
	nd.entry.nlink = 1
	nd.isync(true)
	dirInsert(nd, ustr.MkUstrDot(), nd.ino)
	dirInsert(nd, ustr.DotDot, dir.ino)
	nd.Unlock()
	fs.icache.iput(nd)

	dir.entry.nlink++
	dir.isync(true)
	return dirInsert(dir, name, nd.ino)
}

// Fs_unlink removes the directory entry at path; isdir asserts the
// target's type matches (an unlink of a directory or rmdir of a file
// both fail with the appropriate errno).
func (fs *Fs_t) Fs_unlink(path ustr.Ustr, cwd *fd.Cwd_t, isdir bool) defs.Err_t {
	if err := fs.resAdmit(bounds.B_FS_T_FS_UNLINK); err != 0 {
		return err
	}
	full := cwd.Canonicalpath(path)

	fs.log.begin_op()
	defer fs.log.end_op()

	dir, name, err := fs.namexParent(full)
	if err != 0 {
		return err
	}
	defer fs.icache.iput(dir)
	if name.Isdot() || name.Isdotdot() {
		return -defs.EINVAL
	}
	dir.Lock()
	ino, idx := dirLookup(dir, name)
	if ino == 0 {
		dir.Unlock()
		return -defs.ENOENT
	}

	target := fs.icache.iget(ino)
	target.Lock()
	if isdir && target.entry.itype != I_DIR {
		target.Unlock()
		dir.Unlock()
		fs.icache.iput(target)
		return -defs.ENOTDIR
	}
	if !isdir && target.entry.itype == I_DIR {
		target.Unlock()
		dir.Unlock()
		fs.icache.iput(target)
		return -defs.EISDIR
	}
	if target.entry.itype == I_DIR && !dirEmpty(target) {
		target.Unlock()
		dir.Unlock()
		fs.icache.iput(target)
		return -defs.ENOTEMPTY
	}

	derr := dirRemove(dir, idx)
	if target.entry.itype == I_DIR {
		dir.entry.nlink--
		dir.isync(true)
	}
	target.entry.nlink--
	target.isync(true)
	target.Unlock()
	dir.Unlock()
	fs.icache.iput(target)
	return derr
}

// Fs_rename moves oldp to newp, both resolved relative to cwd.
func (fs *Fs_t) Fs_rename(oldp, newp ustr.Ustr, cwd *fd.Cwd_t) defs.Err_t {
	if err := fs.resAdmit(bounds.B_FS_T_FS_RENAME); err != 0 {
		return err
	}
	fullold := cwd.Canonicalpath(oldp)
	fullnew := cwd.Canonicalpath(newp)

	fs.log.begin_op()
	defer fs.log.end_op()

	odir, oname, err := fs.namexParent(fullold)
	if err != 0 {
		return err
	}
	defer fs.icache.iput(odir)
	odir.Lock()
	ino, oidx := dirLookup(odir, oname)
	odir.Unlock()
	if ino == 0 {
		return -defs.ENOENT
	}

	ndir, nname, err := fs.namexParent(fullnew)
	if err != 0 {
		return err
	}
	defer fs.icache.iput(ndir)

	ndir.Lock()
	if existing, _ := dirLookup(ndir, nname); existing != 0 {
		ndir.Unlock()
		return -defs.EEXIST
	}
	ierr := dirInsert(ndir, nname, ino)
	ndir.Unlock()
	if ierr != 0 {
		return ierr
	}

	odir.Lock()
	derr := dirRemove(odir, oidx)
	odir.Unlock()
	return derr
}

// Fs_stat fills st with path's metadata.
func (fs *Fs_t) Fs_stat(path ustr.Ustr, st stat_i, cwd *fd.Cwd_t) defs.Err_t {
	full := cwd.Canonicalpath(path)
	ip, err := fs.namex(full)
	if err != 0 {
		return err
	}
	defer fs.icache.iput(ip)
	ip.Lock()
	defer ip.Unlock()
	st.Wmode(itypeMode(ip.entry.itype))
	st.Wsize(uint(ip.entry.size))
	st.Wrdev(defs.Mkdev(ip.entry.major, ip.entry.minor))
	st.Wino(uint(ip.ino))
	return 0
}

// stat_i is the subset of *stat.Stat_t that Fs_stat needs; spelled out
// as an interface so package fs does not have to import package stat
// just for this one call.
type stat_i interface {
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
	Wino(uint)
}

