package fs

import (
	"sync"

	"nyxkern/defs"
	"nyxkern/fdops"
	"nyxkern/ustr"
	"nyxkern/util"
)

// file_t is the Fdops_i backing one open regular file, directory, or
// device node. Several open descriptors (dup'd, or independently
// opened) can share one inode; each file_t has its own seek offset.
type file_t struct {
	sync.Mutex
	fs     *Fs_t
	ip     *inode_t
	path   ustr.Ustr
	off    int
	append bool
}

func (fs *Fs_t) newFile(ip *inode_t, path ustr.Ustr, appendMode bool) *file_t {
	return &file_t{fs: fs, ip: ip, path: path, append: appendMode}
}

func (f *file_t) Close() defs.Err_t {
	// The last close of an unlinked file frees its inode and data
	// blocks, which are logged writes; give them an operation to ride.
	f.fs.log.begin_op()
	f.fs.icache.iput(f.ip)
	f.fs.log.end_op()
	return 0
}

func (f *file_t) Reopen() defs.Err_t {
	f.Lock()
	atomicIncInode(f.ip)
	f.Unlock()
	return 0
}

func atomicIncInode(ip *inode_t) {
	ip.Lock()
	ip.refcnt++
	ip.Unlock()
}

func (f *file_t) Fstat(st *fdops.Fdstat_t) defs.Err_t {
	f.ip.Lock()
	defer f.ip.Unlock()
	st.Mode = itypeMode(f.ip.entry.itype)
	st.Size = f.ip.entry.size
	st.Rdev = defs.Mkdev(f.ip.entry.major, f.ip.entry.minor)
	st.Inode = uint(f.ip.ino)
	return 0
}

func itypeMode(t itype_t) uint {
	switch t {
	case I_DIR:
		return defs.S_IFDIR
	case I_DEV:
		return defs.S_IFCHR
	default:
		return defs.S_IFREG
	}
}

func (f *file_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.off = off
	case defs.SEEK_CUR:
		f.off += off
	case defs.SEEK_END:
		f.ip.Lock()
		f.off = f.ip.entry.size + off
		f.ip.Unlock()
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
	}
	return f.off, 0
}

func (f *file_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if f.ip.entry.itype == I_DEV {
		return f.devRW(dst, nil)
	}
	f.Lock()
	defer f.Unlock()
	buf := make([]uint8, dst.Remain())
	f.ip.Lock()
	n, err := f.ip.iread(buf, f.off)
	f.ip.Unlock()
	if err != 0 {
		return 0, err
	}
	wn, err := dst.Uiowrite(buf[:n])
	f.off += wn
	return wn, err
}

func (f *file_t) Pread(dst fdops.Userio_i, off int) (int, defs.Err_t) {
	buf := make([]uint8, dst.Remain())
	f.ip.Lock()
	n, err := f.ip.iread(buf, off)
	f.ip.Unlock()
	if err != 0 {
		return 0, err
	}
	return dst.Uiowrite(buf[:n])
}

// maxWriteChunk is the most file bytes one log operation may carry. A
// chunk of n data blocks can dirty n doubled (data block plus the
// bitmap block allocating it) plus the inode and indirect blocks, so
// backing off to (OP_MAX_NUM_BLOCKS-4)/2 data blocks per operation
// keeps even the worst case inside the log's per-operation budget.
const maxWriteChunk = (OP_MAX_NUM_BLOCKS - 4) / 2 * BSIZE

// chunkedWrite splits buf into maxWriteChunk-sized pieces, each written
// under its own begin_op/end_op bracket. A write bigger than one log
// operation's budget is therefore not atomic across chunks, matching
// every Unix since the original: only the individual chunks are.
func (f *file_t) chunkedWrite(buf []uint8, off int) (int, defs.Err_t) {
	did := 0
	for did < len(buf) {
		n := util.Min(maxWriteChunk, len(buf)-did)
		f.fs.log.begin_op()
		f.ip.Lock()
		wn, err := f.ip.iwrite(buf[did:did+n], off+did)
		f.ip.Unlock()
		f.fs.log.end_op()
		did += wn
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

func (f *file_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if f.ip.entry.itype == I_DEV {
		return f.devRW(nil, src)
	}
	f.Lock()
	defer f.Unlock()
	buf := make([]uint8, src.Remain())
	if _, err := src.Uioread(buf); err != 0 {
		return 0, err
	}

	if f.append {
		f.ip.Lock()
		f.off = f.ip.entry.size
		f.ip.Unlock()
	}
	n, err := f.chunkedWrite(buf, f.off)
	f.off += n
	return n, err
}

func (f *file_t) Pwrite(src fdops.Userio_i, off int) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	if _, err := src.Uioread(buf); err != 0 {
		return 0, err
	}
	return f.chunkedWrite(buf, off)
}

func (f *file_t) devRW(dst, src fdops.Userio_i) (int, defs.Err_t) {
	switch defs.Mkdev(f.ip.entry.major, f.ip.entry.minor) >> 40 {
	case uint(defs.D_CONSOLE):
		if dst != nil {
			return f.fs.console.Cons_read(dst, f.off)
		}
		return f.fs.console.Cons_write(src, f.off)
	case uint(defs.D_DEVNULL):
		if dst != nil {
			return 0, 0
		}
		return src.Remain(), 0
	}
	return 0, -defs.ENXIO
}

func (f *file_t) Truncate(newlen uint) defs.Err_t {
	f.fs.log.begin_op()
	defer f.fs.log.end_op()
	f.ip.Lock()
	defer f.ip.Unlock()
	f.fs.icache.iclear(f.ip)
	f.ip.entry.size = int(newlen)
	f.ip.isync(true)
	return 0
}

func (f *file_t) Fullpath() (ustr.Ustr, defs.Err_t) { return f.path, 0 }

func (f *file_t) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.ENOSYS
}

func (f *file_t) Mmapi(off, length int, inhibit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	n := (length + BSIZE - 1) / BSIZE
	infos := make([]fdops.MmapInfo_t, 0, n)
	f.ip.Lock()
	defer f.ip.Unlock()
	for i := 0; i < n; i++ {
		bn, err := f.ip.imap((off+i*BSIZE)/BSIZE, true)
		if err != 0 {
			return nil, err
		}
		b := f.fs.log.cache.get(bn, "mmapi", true)
		infos = append(infos, fdops.MmapInfo_t{Pg: b.Data})
		b.Done("mmapi")
	}
	return infos, 0
}

func (f *file_t) Pathi() fdops.Inum_i { return inumOf{f.ip.ino} }

type inumOf struct{ ino int }

func (i inumOf) Inum() int { return i.ino }

// The remaining Fdops_i methods are meaningless for plain files and
// directories; they exist only so file_t satisfies the interface
// shared with sockets and pipes.
func (f *file_t) Accept(fdops.Userio_i) (ustr.Ustr, defs.Err_t)  { return nil, -defs.ENOTSOCK }
func (f *file_t) Bind(ustr.Ustr) defs.Err_t                      { return -defs.ENOTSOCK }
func (f *file_t) Connect(ustr.Ustr) defs.Err_t                   { return -defs.ENOTSOCK }
func (f *file_t) Listen(int) defs.Err_t                          { return -defs.ENOTSOCK }
func (f *file_t) Sendmsg(fdops.Userio_i, ustr.Ustr, []uint8, int) (int, defs.Err_t) {
	return 0, -defs.ENOTSOCK
}
func (f *file_t) Recvmsg(fdops.Userio_i, fdops.Userio_i, fdops.Userio_i, int) (int, int, int, defs.Err_t) {
	return 0, 0, 0, -defs.ENOTSOCK
}
func (f *file_t) Poll(pm *fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ | fdops.R_WRITE, 0
}
func (f *file_t) Unblock() defs.Err_t               { return 0 }
func (f *file_t) Shutdown(read, write bool) defs.Err_t { return -defs.ENOTSOCK }
