// Package fs implements the on-disk filesystem: a block cache backed by a
// write-ahead log for crash-safe multi-block updates, a bitmap block
// allocator, and an inode layer with xv6-style direct/indirect block
// pointers and flat directories. Package ufs glues this to a concrete
// Disk_i and exposes it through file descriptors (package fd).
package fs

import (
	"fmt"
	"sync"

	"nyxkern/bounds"
	"nyxkern/defs"
	"nyxkern/fdops"
	"nyxkern/oommsg"
	"nyxkern/res"
	"nyxkern/stats"
)

// bdev_debug toggles verbose block-level tracing; off by default since it
// is extremely noisy even for a handful of files.
var bdev_debug = false

// Fs_t is the top-level filesystem handle: one log, one block cache, one
// inode cache, one free-space bitmap, all backed by a single Disk_i.
type Fs_t struct {
	log      *log_t
	icache   *icache_t
	balloc   *ballocater_t
	superb   *Superblock_t
	layout   layout_t
	bdev     Disk_i
	blockmem Blockmem_i
	console  Console_i

	sync.Mutex
	evicting bool
}

// Console_i is satisfied by the concrete console driver; it is only
// referenced here so StartFS can record it for device-file dispatch.
type Console_i interface {
	Cons_poll(fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t)
	Cons_read(fdops.Userio_i, int) (int, defs.Err_t)
	Cons_write(fdops.Userio_i, int) (int, defs.Err_t)
}

// StartFS mounts the filesystem found on bdev and returns the superblock
// and the live Fs_t. The superblock is always read from bdev; when fresh
// is true StartFS also creates the root directory if inode 1 is still
// unallocated. Crash recovery -- replaying any log left behind by an unclean
// shutdown -- always runs first, whether or not fresh is set, matching
// the real boot sequence where a stale log from a previous boot must be
// drained before any new write.
func StartFS(bmem Blockmem_i, bdev Disk_i, console Console_i, fresh bool) (*Superblock_t, *Fs_t) {
	fs := &Fs_t{bdev: bdev, blockmem: bmem, console: console}
	fs.log = mklog(fs)
	sb := fs.log.readSuper()
	fs.superb = sb
	fs.layout = computeLayout(sb)
	fs.log.attach(fs.layout)
	fs.log.recover()
	fs.balloc = mkballocater(fs, sb)
	fs.icache = mkicache(fs, sb)
	if fresh {
		fs.mkRootIfAbsent()
	}
	go fs.reclaimLoop()
	return sb, fs
}

// reclaimLoop is this filesystem's answer to mem's out-of-memory
// notification: it is the one piece of spec's permitted "swap stub" this
// module implements, dropping clean cached blocks and inodes instead of
// ever writing anything to a swap region. It runs for the lifetime of
// the Fs_t; StopFS lets it leak until process exit, same as every other
// package-level goroutine this simulation starts (proc's idle loops).
func (fs *Fs_t) reclaimLoop() {
	for msg := range oommsg.OomCh {
		fs.Fs_evict()
		msg.Resume <- true
	}
}

// StopFS flushes outstanding log entries to their home locations. The
// superblock's page is not freed.
func (fs *Fs_t) StopFS() {
	fs.log.stop()
}

// Fs_sync forces the log to checkpoint: every committed transaction is
// replayed to its home location and the log header is cleared.
func (fs *Fs_t) Fs_sync() defs.Err_t {
	fs.log.forceSync()
	return 0
}

// Fs_syncapply is Fs_sync followed by a best-effort device flush; used
// by callers (like a "sync" syscall) that must know data actually left
// the page cache, not merely the in-memory log.
func (fs *Fs_t) Fs_syncapply() defs.Err_t {
	fs.log.forceSync()
	fs.log.flushDevice()
	return 0
}

// Fs_evict drops every clean, unreferenced inode and block from the
// caches. It does not touch dirty state; a sync should precede it if
// the caller wants a guaranteed-empty cache afterward.
func (fs *Fs_t) Fs_evict() {
	fs.icache.evictClean()
	fs.log.evictClean()
}

// Sizes reports the number of cached inodes and cached blocks, for the
// stats package's gauges.
func (fs *Fs_t) Sizes() (int, int) {
	return fs.icache.size(), fs.log.cache.size()
}

// Fs_statistics renders a human-readable line describing cache
// occupancy and log state, plus the compiled-out counter blocks when
// stats.Stats is on.
func (fs *Fs_t) Fs_statistics() string {
	ninode, nblk := fs.Sizes()
	s := fmt.Sprintf("inodes=%d blocks=%d log_outstanding=%d", ninode, nblk, fs.log.outstanding)
	s += stats.Stats2String(fs.log.cache.stats)
	s += stats.Stats2String(fs.log.stats)
	return s
}

func (fs *Fs_t) resAdmit(site bounds.Bound_t) defs.Err_t {
	if !res.Resadd_noblock(bounds.Bounds(site)) {
		return -defs.ENOHEAP
	}
	return 0
}
