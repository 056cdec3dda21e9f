package fs

import (
	"sync"
	"sync/atomic"

	"nyxkern/defs"
	"nyxkern/hashtable"
	"nyxkern/mem"
	"nyxkern/util"
)

// itype_t distinguishes what kind of file an inode names. I_INVALID
// marks an unallocated inode slot: ialloc scans for the first one
// it finds.
type itype_t int

const (
	I_INVALID itype_t = 0
	I_FILE    itype_t = 1
	I_DIR     itype_t = 2
	I_DEV     itype_t = 3
)

// NDIRECT is the number of direct block pointers an inode carries
// before it must fall back to its single indirect block.
const NDIRECT = 12

// inodeEntrySize is the on-disk width of one inode: type, device
// major/minor, and link count as 2-byte fields, a 4-byte size, then
// NDIRECT direct pointers and the indirect pointer as 4-byte block
// numbers. 2+2+2+2+4+12*4+4 = 64, so entries pack evenly into a block.
const inodeEntrySize = 64

// INODE_PER_BLOCK is how many packed inodes fit in one disk block;
// exported because mkdisk sizes the inode region with it.
const INODE_PER_BLOCK = BSIZE / inodeEntrySize

// NINDIRECT is how many 4-byte block pointers the indirect block hands
// out. Only the first NINDIRECT*4 bytes of the indirect block are used;
// together with the size field's 32-bit width this keeps the largest
// file comfortably inside what a single indirect block can name.
const NINDIRECT = 128

// MAXFILEBLKS bounds how many data blocks a single file may span.
const MAXFILEBLKS = NDIRECT + NINDIRECT

// rootInode is the well-known inode number of "/". Inode 0 is never
// allocated so it can double as the "no inode" sentinel in directory
// entries.
const rootInode = 1

type inodeEntry_t struct {
	itype    itype_t
	nlink    int
	size     int
	major    int
	minor    int
	addrs    [NDIRECT]int
	indirect int
}

func (e *inodeEntry_t) readAt(d *mem.Bytepg_t, off int) {
	e.itype = itype_t(util.Readn(d[:], 2, off))
	e.major = util.Readn(d[:], 2, off+2)
	e.minor = util.Readn(d[:], 2, off+4)
	e.nlink = util.Readn(d[:], 2, off+6)
	e.size = util.Readn(d[:], 4, off+8)
	for i := 0; i < NDIRECT; i++ {
		e.addrs[i] = util.Readn(d[:], 4, off+12+4*i)
	}
	e.indirect = util.Readn(d[:], 4, off+12+4*NDIRECT)
}

func (e *inodeEntry_t) writeAt(d *mem.Bytepg_t, off int) {
	util.Writen(d[:], 2, off, int(e.itype))
	util.Writen(d[:], 2, off+2, e.major)
	util.Writen(d[:], 2, off+4, e.minor)
	util.Writen(d[:], 2, off+6, e.nlink)
	util.Writen(d[:], 4, off+8, e.size)
	for i := 0; i < NDIRECT; i++ {
		util.Writen(d[:], 4, off+12+4*i, e.addrs[i])
	}
	util.Writen(d[:], 4, off+12+4*NDIRECT, e.indirect)
}

// inode_t is the in-memory copy of one on-disk inode. Its mutex is the
// per-inode sleeplock: callers hold it across a read-modify-write of
// entry, exactly like the reference implementation's inode_lock/unlock.
type inode_t struct {
	sync.Mutex
	fs     *Fs_t
	ino    int
	refcnt int32
	valid  bool
	entry  inodeEntry_t
}

func (ip *inode_t) blockno() int { return ip.fs.icache.inodeBlockNo(ip.ino) }
func (ip *inode_t) offset() int  { return ip.fs.icache.inodeOffset(ip.ino) }

// isync loads the inode from disk the first time it is touched, or
// writes it back when dowrite is set; the caller must hold ip's lock.
func (ip *inode_t) isync(dowrite bool) {
	b := ip.fs.log.cache.get(ip.blockno(), "isync", true)
	off := ip.offset()
	if !ip.valid {
		ip.entry.readAt(b.Data, off)
		ip.valid = true
	} else if dowrite {
		ip.entry.writeAt(b.Data, off)
		ip.fs.log.write_log(b)
	}
	b.Done("isync")
}

// imap returns the data block holding file-relative block index idx,
// allocating it (and, if needed, the indirect block) when alloc is set.
// Returns block 0, nil error for an unallocated hole when alloc is
// false -- callers reading past a hole get zeros instead of allocating.
func (ip *inode_t) imap(idx int, alloc bool) (int, defs.Err_t) {
	if idx < NDIRECT {
		if ip.entry.addrs[idx] == 0 {
			if !alloc {
				return 0, 0
			}
			bn, err := ip.fs.balloc.balloc()
			if err != 0 {
				return 0, err
			}
			ip.entry.addrs[idx] = bn
			ip.isync(true)
		}
		return ip.entry.addrs[idx], 0
	}
	idx -= NDIRECT
	if idx >= NINDIRECT {
		return 0, -defs.EFBIG
	}
	if ip.entry.indirect == 0 {
		if !alloc {
			return 0, 0
		}
		bn, err := ip.fs.balloc.balloc()
		if err != 0 {
			return 0, err
		}
		ip.entry.indirect = bn
		ip.isync(true)
	}
	ib := ip.fs.log.cache.get(ip.entry.indirect, "indirect", true)
	defer ib.Done("indirect")
	a := util.Readn(ib.Data[:], 4, idx*4)
	if a == 0 {
		if !alloc {
			return 0, 0
		}
		bn, err := ip.fs.balloc.balloc()
		if err != 0 {
			return 0, err
		}
		util.Writen(ib.Data[:], 4, idx*4, bn)
		ip.fs.log.write_log(ib)
		a = bn
	}
	return a, 0
}

// iread copies up to len(dst) bytes starting at off, truncated to the
// file's current size, and returns the count actually copied.
func (ip *inode_t) iread(dst []uint8, off int) (int, defs.Err_t) {
	if off >= ip.entry.size {
		return 0, 0
	}
	count := len(dst)
	if off+count > ip.entry.size {
		count = ip.entry.size - off
	}
	got := 0
	for got < count {
		bn, err := ip.imap(off/BSIZE, false)
		if err != 0 {
			return got, err
		}
		boff := off % BSIZE
		n := util.Min(BSIZE-boff, count-got)
		if bn == 0 {
			for i := 0; i < n; i++ {
				dst[got+i] = 0
			}
		} else {
			b := ip.fs.log.cache.get(bn, "iread", true)
			copy(dst[got:got+n], b.Data[boff:boff+n])
			b.Done("iread")
		}
		got += n
		off += n
	}
	return got, 0
}

// iwrite copies src to the file starting at off, allocating blocks as
// needed and growing entry.size if the write extends past EOF.
func (ip *inode_t) iwrite(src []uint8, off int) (int, defs.Err_t) {
	if off+len(src) > MAXFILEBLKS*BSIZE {
		return 0, -defs.EFBIG
	}
	did := 0
	for did < len(src) {
		bn, err := ip.imap(off/BSIZE, true)
		if err != 0 {
			return did, err
		}
		boff := off % BSIZE
		n := util.Min(BSIZE-boff, len(src)-did)
		b := ip.fs.log.cache.get(bn, "iwrite", true)
		copy(b.Data[boff:boff+n], src[did:did+n])
		ip.fs.log.write_log(b)
		b.Done("iwrite")
		did += n
		off += n
	}
	if off > ip.entry.size {
		ip.entry.size = off
		ip.isync(true)
	}
	return did, 0
}

// icache_t is the in-memory inode cache: one live inode_t per cached
// inode number. An inode stays cached after its last iput while it still
// has links; only freeing it (or evictClean) removes it from the index.
type icache_t struct {
	fs *Fs_t
	sb *Superblock_t
	ht *hashtable.InoIndex_t
}

func mkicache(fs *Fs_t, sb *Superblock_t) *icache_t {
	return &icache_t{fs: fs, sb: sb, ht: hashtable.NewInodeIndex(64)}
}

func (ic *icache_t) inodeBlockNo(ino int) int { return ic.fs.layout.inodeStart + ino/INODE_PER_BLOCK }
func (ic *icache_t) inodeOffset(ino int) int  { return (ino % INODE_PER_BLOCK) * inodeEntrySize }
func (ic *icache_t) numInodes() int           { return ic.sb.Numinodes() }

func (ic *icache_t) size() int { return ic.ht.Size() }

// iget returns the cached inode_t for ino, reading it from disk the
// first time it is seen. The caller must iput it.
func (ic *icache_t) iget(ino int) *inode_t {
	if v, ok := ic.ht.Get(ino); ok {
		ip := v.(*inode_t)
		atomic.AddInt32(&ip.refcnt, 1)
		return ip
	}
	ip := &inode_t{fs: ic.fs, ino: ino, refcnt: 1}
	if prev, inserted := ic.ht.Set(ino, ip); !inserted {
		ip = prev.(*inode_t)
		atomic.AddInt32(&ip.refcnt, 1)
	}
	ip.Lock()
	ip.isync(false)
	ip.Unlock()
	return ip
}

// iput drops a reference to ip, freeing its on-disk data and evicting
// it from the cache once both the reference count and the link count
// reach zero.
func (ic *icache_t) iput(ip *inode_t) {
	ip.Lock()
	defer ip.Unlock()
	if atomic.AddInt32(&ip.refcnt, -1) > 0 || ip.entry.nlink > 0 {
		return
	}
	ip.entry.itype = I_INVALID
	ic.iclear(ip)
	ip.isync(true)
	ic.ht.Del(ip.ino)
}

// iclear frees every data block -- direct, indirect, and the indirect
// block itself -- owned by ip, leaving it an empty, zero-size inode.
func (ic *icache_t) iclear(ip *inode_t) {
	if ip.entry.indirect != 0 {
		ib := ic.fs.log.cache.get(ip.entry.indirect, "indirect", true)
		for i := 0; i < NINDIRECT; i++ {
			a := util.Readn(ib.Data[:], 4, i*4)
			if a != 0 {
				ic.fs.balloc.bfree(a)
			}
		}
		ib.Done("indirect")
		ic.fs.balloc.bfree(ip.entry.indirect)
		ip.entry.indirect = 0
	}
	for i := range ip.entry.addrs {
		if ip.entry.addrs[i] != 0 {
			ic.fs.balloc.bfree(ip.entry.addrs[i])
			ip.entry.addrs[i] = 0
		}
	}
	ip.entry.size = 0
}

// ialloc scans the inode table for the first unallocated slot and
// claims it with the given type. Running out of inode slots is a
// filesystem-sizing invariant violation, not a recoverable condition:
// it panics rather than returning an error.
func (ic *icache_t) ialloc(itype itype_t) *inode_t {
	n := ic.numInodes()
	for ino := rootInode; ino < n; ino++ {
		bn := ic.inodeBlockNo(ino)
		b := ic.fs.log.cache.get(bn, "ialloc", true)
		off := ic.inodeOffset(ino)
		t := itype_t(util.Readn(b.Data[:], 2, off))
		if t == I_INVALID {
			var e inodeEntry_t
			e.itype = itype
			e.writeAt(b.Data, off)
			ic.fs.log.write_log(b)
			b.Done("ialloc")
			return ic.iget(ino)
		}
		b.Done("ialloc")
	}
	panic("ialloc: no more free inodes")
}

// evictClean drops every cached inode with no outstanding reference --
// only safe to call once the caller knows nothing else is using them.
func (ic *icache_t) evictClean() {
	for _, p := range ic.ht.Elems() {
		ip := p.Inode.(*inode_t)
		if atomic.LoadInt32(&ip.refcnt) == 0 {
			ic.ht.Del(p.Ino)
		}
	}
}
