package fs

import (
	"sync"

	"nyxkern/stats"
	"nyxkern/util"
)

// LOG_MAX_SIZE bounds how many distinct blocks a group of concurrently
// outstanding operations may dirty before new operations must wait for a
// commit to drain the log.
const LOG_MAX_SIZE = 127

// OP_MAX_NUM_BLOCKS is the most blocks a single Fs_t operation (one
// begin_op/end_op bracket) is allowed to dirty. fs_open, fs_mkdir etc.
// are all written to stay well under this.
const OP_MAX_NUM_BLOCKS = 10

// logheader_t is the log's header block: the list of home block numbers
// whose current contents are shadowed in the log region. It is itself
// serialized as the first block of the log region (the superblock's
// Logstart), so a crash between writing the shadow copies and clearing
// the header is always recoverable -- either the header names no blocks
// (nothing to redo) or it names exactly the blocks that were about to
// be applied.
type logheader_t struct {
	numBlocks int
	blockNo   [LOG_MAX_SIZE]int
}

func (lh *logheader_t) read(b *CacheBlock_t) {
	lh.numBlocks = util.Readn(b.Data[:], 8, 0)
	for i := 0; i < lh.numBlocks; i++ {
		lh.blockNo[i] = util.Readn(b.Data[:], 8, 8+8*i)
	}
}

func (lh *logheader_t) write(b *CacheBlock_t) {
	util.Writen(b.Data[:], 8, 0, lh.numBlocks)
	for i := 0; i < lh.numBlocks; i++ {
		util.Writen(b.Data[:], 8, 8+8*i, lh.blockNo[i])
	}
}

// log_t implements crash-safe multi-block updates with write-ahead
// logging and group commit: operations that overlap in time share a
// single log transaction, and the transaction only commits -- copying
// dirty blocks from the log region to their home location -- once every
// overlapping operation has called end_op.
// logstats_t is the log's compiled-out-by-default counter block.
type logstats_t struct {
	Ncommit stats.Counter_t
	Ccommit stats.Cycles_t
}

type log_t struct {
	fs     *Fs_t
	cache  *bcache_t
	sblock *CacheBlock_t
	start  int // log header block number
	slots  int // usable shadow slots, min(on-disk region, LOG_MAX_SIZE)

	mu          sync.Mutex
	cond        *sync.Cond
	hdr         logheader_t
	outstanding int
	committing  bool
	stats       logstats_t
}

func mklog(fs *Fs_t) *log_t {
	l := &log_t{fs: fs, cache: mkbcache(fs)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// attach binds the log to its on-disk region once the superblock has
// been read; it must run before recover or the first begin_op.
func (l *log_t) attach(lay layout_t) {
	l.start = lay.logStart
	l.slots = lay.logLen
	if l.slots > LOG_MAX_SIZE {
		l.slots = LOG_MAX_SIZE
	}
	if l.slots <= OP_MAX_NUM_BLOCKS {
		panic("log region too small for a single operation")
	}
}

// readSuper reads the superblock and returns it. It does not itself
// decide freshness -- StartFS's caller already knows whether this
// device is fresh.
func (l *log_t) readSuper() *Superblock_t {
	b := l.cache.get(superBlockNo, "super", true)
	defer b.Done("super")
	// The superblock page outlives the cache entry it was read from --
	// it is consulted on every path lookup for the filesystem's
	// lifetime, so it gets its own permanent copy rather than pinning
	// block 1 in the block cache forever.
	_, pg, ok := l.fs.blockmem.Alloc()
	if !ok {
		panic("oom reading superblock")
	}
	copy(pg[:], b.Data[:])
	return &Superblock_t{Data: pg}
}

// recover replays any transaction a previous, unclean shutdown left
// logged but not yet applied to its home blocks. It must run before any
// block other than the superblock is read, since a stale log entry takes precedence over
// whatever currently sits at the home location.
func (l *log_t) recover() {
	hb := l.cache.get(l.start, "loghdr", true)
	var hdr logheader_t
	hdr.read(hb)
	hb.Done("loghdr")

	for i := 0; i < hdr.numBlocks; i++ {
		src := l.cache.get(l.start+1+i, "logblk", true)
		dst := l.cache.get(hdr.blockNo[i], "recover", true)
		copy(dst.Data[:], src.Data[:])
		dst.Write()
		dst.Done("recover")
		src.Done("logblk")
	}

	hb = l.cache.get(l.start, "loghdr", true)
	hdr = logheader_t{}
	hdr.write(hb)
	hb.Write()
	hb.Done("loghdr")
}

// begin_op reserves room in the log for one more operation, blocking if
// admitting it could let the log grow past its slot count before the
// current batch commits.
func (l *log_t) begin_op() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.hdr.numBlocks+(l.outstanding+1)*OP_MAX_NUM_BLOCKS > l.slots || l.committing {
		l.cond.Wait()
	}
	l.outstanding++
}

// end_op ends the calling operation's participation in the current
// batch; the last one out triggers a commit.
func (l *log_t) end_op() {
	l.mu.Lock()
	l.outstanding--
	docommit := l.outstanding == 0
	if docommit {
		l.committing = true
	}
	l.mu.Unlock()

	if docommit {
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	} else {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// write_log records that b's current in-memory contents must reach its
// home location before the running batch is considered committed, and
// pins b in the cache so a concurrent evictClean can't drop it first.
func (l *log_t) write_log(b *CacheBlock_t) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.pin(b)
	for i := 0; i < l.hdr.numBlocks; i++ {
		if l.hdr.blockNo[i] == b.Block {
			return
		}
	}
	if l.hdr.numBlocks >= l.slots {
		panic("log: transaction too large")
	}
	l.hdr.blockNo[l.hdr.numBlocks] = b.Block
	l.hdr.numBlocks++
}

// commit copies every dirty block named in the header into its shadow
// slot in the log region, durably records the header, then applies each
// shadow copy to its home location and clears the header -- the same
// two-phase shape as the reference implementation's cache_end_op.
func (l *log_t) commit() {
	l.mu.Lock()
	hdr := l.hdr
	l.mu.Unlock()
	if hdr.numBlocks == 0 {
		return
	}
	t := stats.Rdtsc()
	l.stats.Ncommit.Inc()
	defer l.stats.Ccommit.Add(t)

	for i := 0; i < hdr.numBlocks; i++ {
		src := l.cache.get(hdr.blockNo[i], "commit-src", true)
		dst := l.cache.get(l.start+1+i, "commit-shadow", true)
		copy(dst.Data[:], src.Data[:])
		dst.Write()
		dst.Tryevict()
		dst.Done("commit-shadow")
		src.Done("commit-src")
	}

	hb := l.cache.get(l.start, "loghdr", false)
	hdr.write(hb)
	hb.Write()
	hb.Tryevict()
	hb.Done("loghdr")

	for i := 0; i < hdr.numBlocks; i++ {
		b := l.cache.get(hdr.blockNo[i], "apply", true)
		b.Write()
		l.cache.unpin(b)
		b.Done("apply")
	}

	l.mu.Lock()
	l.hdr = logheader_t{}
	l.mu.Unlock()

	hb = l.cache.get(l.start, "loghdr", false)
	var empty logheader_t
	empty.write(hb)
	hb.Write()
	hb.Tryevict()
	hb.Done("loghdr")
}

// forceSync runs a commit out-of-band, for callers (fsync, the sync
// syscall) that need the log drained right now rather than waiting for
// the last outstanding operation to finish naturally.
func (l *log_t) forceSync() {
	l.begin_op()
	l.mu.Lock()
	l.outstanding--
	l.committing = true
	l.mu.Unlock()
	l.commit()
	l.mu.Lock()
	l.committing = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

// flushDevice asks the underlying disk to flush any write it has
// acknowledged but not yet made durable.
func (l *log_t) flushDevice() {
	req := newBlockRequest(newBlockQueue(), BDEV_FLUSH, true)
	if l.fs.bdev.Start(req) {
		<-req.AckCh
	}
}

func (l *log_t) evictClean() { l.cache.evictClean() }

func (l *log_t) stop() {
	l.forceSync()
}
