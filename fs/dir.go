package fs

import (
	"nyxkern/bpath"
	"nyxkern/defs"
	"nyxkern/ustr"
	"nyxkern/util"
)

// direntNameMax is the longest file name a single directory entry can
// hold.
const direntNameMax = 14

// direntSize is the on-disk width of one directory entry: a 2-byte
// inode number (0 means the slot is free) followed by the name.
const direntSize = 2 + direntNameMax

// NDIRENTS is how many directory entries fit in one disk block; used by
// callers that walk a directory's raw bytes a block at a time.
const NDIRENTS = BSIZE / direntSize

// Dirdata_t views one block of raw directory bytes as a sequence of
// NDIRENTS directory entries, for callers (package ufs's Ls) that read a
// whole directory file and want to iterate it without reaching into
// package fs's inode internals.
type Dirdata_t struct {
	D []uint8
}

// Filename returns the name stored in the idx'th entry of this block,
// or nil if that slot is unused.
func (dd Dirdata_t) Filename(idx int) ustr.Ustr {
	off := idx * direntSize
	if off+direntSize > len(dd.D) {
		return nil
	}
	if util.Readn(dd.D, 2, off) == 0 {
		return nil
	}
	return ustr.MkUstrSlice(dd.D[off+2 : off+direntSize])
}

func direntRead(ip *inode_t, idx int) (int, ustr.Ustr, defs.Err_t) {
	buf := make([]uint8, direntSize)
	n, err := ip.iread(buf, idx*direntSize)
	if err != 0 {
		return 0, nil, err
	}
	if n < direntSize {
		return 0, nil, 0
	}
	ino := util.Readn(buf, 2, 0)
	return ino, ustr.MkUstrSlice(buf[2:]), 0
}

func direntWrite(ip *inode_t, idx, ino int, name ustr.Ustr) defs.Err_t {
	if len(name) > direntNameMax {
		return -defs.ENAMETOOLONG
	}
	buf := make([]uint8, direntSize)
	util.Writen(buf, 2, 0, ino)
	copy(buf[2:], name)
	_, err := ip.iwrite(buf, idx*direntSize)
	return err
}

// dirLookup returns the inode number name resolves to within directory
// ip, and the dirent index it was found at, or (0, -1) if absent. The
// caller must hold ip's lock.
func dirLookup(ip *inode_t, name ustr.Ustr) (int, int) {
	n := ip.entry.size / direntSize
	for i := 0; i < n; i++ {
		ino, dname, err := direntRead(ip, i)
		if err != 0 {
			return 0, -1
		}
		if ino != 0 && dname.Eq(name) {
			return ino, i
		}
	}
	return 0, -1
}

// dirInsert adds name -> ino to directory ip, reusing a freed slot
// before growing the directory. The caller must hold ip's lock.
func dirInsert(ip *inode_t, name ustr.Ustr, ino int) defs.Err_t {
	if eino, _ := dirLookup(ip, name); eino != 0 {
		return -defs.EEXIST
	}
	n := ip.entry.size / direntSize
	for i := 0; i < n; i++ {
		eino, _, err := direntRead(ip, i)
		if err != 0 {
			return err
		}
		if eino == 0 {
			return direntWrite(ip, i, ino, name)
		}
	}
	return direntWrite(ip, n, ino, name)
}

// dirRemove clears the dirent at idx. The caller must hold ip's lock.
func dirRemove(ip *inode_t, idx int) defs.Err_t {
	return direntWrite(ip, idx, 0, nil)
}

// dirEmpty reports whether ip contains anything besides "." and "..".
// The caller must hold ip's lock.
func dirEmpty(ip *inode_t) bool {
	n := ip.entry.size / direntSize
	for i := 0; i < n; i++ {
		ino, name, _ := direntRead(ip, i)
		if ino != 0 && !name.Isdot() && !name.Isdotdot() {
			return false
		}
	}
	return true
}

// namex resolves an absolute, already-canonicalized path to its inode.
// The caller must iput the result.
func (fs *Fs_t) namex(path ustr.Ustr) (*inode_t, defs.Err_t) {
	parts := bpath.Split(path)
	cur := fs.icache.iget(rootInode)
	for _, part := range parts {
		cur.Lock()
		if cur.entry.itype != I_DIR {
			cur.Unlock()
			fs.icache.iput(cur)
			return nil, -defs.ENOTDIR
		}
		ino, _ := dirLookup(cur, part)
		cur.Unlock()
		if ino == 0 {
			fs.icache.iput(cur)
			return nil, -defs.ENOENT
		}
		next := fs.icache.iget(ino)
		fs.icache.iput(cur)
		cur = next
	}
	return cur, 0
}

// namexParent resolves every component of path but the last, returning
// the parent directory inode (which the caller must iput) and the final
// component's name.
func (fs *Fs_t) namexParent(path ustr.Ustr) (*inode_t, ustr.Ustr, defs.Err_t) {
	parts := bpath.Split(path)
	if len(parts) == 0 {
		return nil, nil, -defs.EINVAL
	}
	last := parts[len(parts)-1]
	dir := fs.icache.iget(rootInode)
	for _, part := range parts[:len(parts)-1] {
		dir.Lock()
		if dir.entry.itype != I_DIR {
			dir.Unlock()
			fs.icache.iput(dir)
			return nil, nil, -defs.ENOTDIR
		}
		ino, _ := dirLookup(dir, part)
		dir.Unlock()
		if ino == 0 {
			fs.icache.iput(dir)
			return nil, nil, -defs.ENOENT
		}
		next := fs.icache.iget(ino)
		fs.icache.iput(dir)
		dir = next
	}
	return dir, last, 0
}
