package fs

import "sync"
import "fmt"
import "container/list"

import "nyxkern/mem"

// BSIZE is the size of a disk block in bytes. The wire format for every
// on-disk structure (superblock, log header, inode, directory entry) is
// defined in terms of this block size, so it cannot change without a
// reformat.
const BSIZE = 4096

// Blockmem_i abstracts the page allocator a block cache draws its backing
// pages from, so fs can be unit-tested against a bare allocator stub
// instead of the real mem.Physmem_t.
type Blockmem_i interface {
	Alloc() (mem.Pa_t, *mem.Bytepg_t, bool)
	Free(mem.Pa_t)
	Refup(mem.Pa_t)
}

// blockReleaser is implemented by whoever owns a block's cache slot; it
// is notified (via CacheBlock_t.Done) when a caller is finished with a
// block it checked out.
type blockReleaser interface {
	Relse(*CacheBlock_t, string)
}

// blockKind_t tags the three kinds of content a log-region block can
// hold. Ordinary cached blocks are untagged (blockData); the log layer
// reserves the negative values for its own header bookkeeping.
type blockKind_t int

const (
	blockData   blockKind_t = 0
	blockCommit blockKind_t = -1
	blockRevoke blockKind_t = -2
)

// CacheBlock_t is one cache-resident copy of a disk block: the page
// backing its contents, a release callback, and an evict-on-release
// flag the cache uses to implement "read once, don't keep around"
// lookups (used by the log's shadow-copy and header blocks).
type CacheBlock_t struct {
	sync.Mutex
	Block      int
	Type       blockKind_t
	_try_evict bool
	Pa         mem.Pa_t
	Data       *mem.Bytepg_t
	Ref        *Objref_t
	Name       string
	Mem        Blockmem_i
	Disk       Disk_i
	Cb         blockReleaser
}

// Bdevcmd_t is a block device request's opcode.
type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = 1
	BDEV_READ            = 2
	BDEV_FLUSH           = 3
)

// blockQueue_t is an ordered run of blocks destined for a single device
// request, plus a cursor so a caller can walk it without holding onto
// container/list internals directly.
type blockQueue_t struct {
	l *list.List
	e *list.Element
}

func newBlockQueue() *blockQueue_t {
	return &blockQueue_t{l: list.New()}
}

// Len reports how many blocks are queued.
func (bq *blockQueue_t) Len() int {
	return bq.l.Len()
}

// PushBack appends a block to the queue.
func (bq *blockQueue_t) PushBack(b *CacheBlock_t) {
	bq.l.PushBack(b)
}

// FrontBlock resets the walk cursor to the queue's head and returns it,
// or nil if the queue is empty.
func (bq *blockQueue_t) FrontBlock() *CacheBlock_t {
	bq.e = bq.l.Front()
	if bq.e == nil {
		return nil
	}
	return bq.e.Value.(*CacheBlock_t)
}

// NextBlock advances the walk cursor and returns the block it now
// points at, or nil once the queue is exhausted.
func (bq *blockQueue_t) NextBlock() *CacheBlock_t {
	if bq.e == nil {
		return nil
	}
	bq.e = bq.e.Next()
	if bq.e == nil {
		return nil
	}
	return bq.e.Value.(*CacheBlock_t)
}

// RemoveBlock drops every queued entry for the given block number.
func (bq *blockQueue_t) RemoveBlock(block int) {
	var next *list.Element
	for e := bq.l.Front(); e != nil; e = next {
		next = e.Next()
		if e.Value.(*CacheBlock_t).Block == block {
			bq.l.Remove(e)
		}
	}
}

// Bdev_req_t describes one request to the block device: a batch of
// blocks, an opcode, and whether the caller wants to wait on AckCh for
// completion or fire-and-forget.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Blks  *blockQueue_t
	AckCh chan bool
	Sync  bool
}

func newBlockRequest(blks *blockQueue_t, cmd Bdevcmd_t, sync bool) *Bdev_req_t {
	return &Bdev_req_t{Blks: blks, Cmd: cmd, Sync: sync, AckCh: make(chan bool)}
}

// Disk_i is the block device boundary: whatever sits on the other side
// (a file-backed stand-in, a real driver) only has to satisfy this.
type Disk_i interface {
	Start(*Bdev_req_t) bool
	Stats() string
}

// Key returns the cache lookup key for this block.
func (b *CacheBlock_t) Key() int { return b.Block }

// EvictFromCache is a hook called right before a block leaves the
// cache; CacheBlock_t itself needs nothing beyond EvictDone, but
// callers doing their own bookkeeping (pinned-count, etc.) get a place
// to hang it.
func (b *CacheBlock_t) EvictFromCache() {}

// EvictDone releases the backing page once a block has actually left
// the cache.
func (b *CacheBlock_t) EvictDone() {
	if bdev_debug {
		fmt.Printf("fs: evict block %d (%#x)\n", b.Block, b.Pa)
	}
	b.Mem.Free(b.Pa)
}

// Tryevict marks this block so that once its reference count drops to
// zero the cache frees it immediately instead of keeping it on the LRU
// list -- used for blocks (the log header, a commit shadow copy) that
// are read once and never looked up again by block number.
func (b *CacheBlock_t) Tryevict() { b._try_evict = true }

// Evictnow reports whether Tryevict was called on this block.
func (b *CacheBlock_t) Evictnow() bool { return b._try_evict }

// Done releases the caller's hold on the block via its cache's
// blockReleaser callback. s is a short tag identifying the call site,
// useful when a leaked reference needs tracking down.
func (b *CacheBlock_t) Done(s string) {
	if b.Cb == nil {
		panic("fs: block has no release callback")
	}
	b.Cb.Relse(b, s)
}

// ioSync issues a single-block request of the given command and,
// unless async is set, blocks on the request's AckCh for completion.
// Write, Write_async, and Read are all this one request shape with a
// different opcode and wait behavior.
func (b *CacheBlock_t) ioSync(cmd Bdevcmd_t, async bool) {
	q := newBlockQueue()
	q.PushBack(b)
	req := newBlockRequest(q, cmd, !async)
	if b.Disk.Start(req) && !async {
		<-req.AckCh
	}
}

// Write synchronously writes the block's contents to disk.
func (b *CacheBlock_t) Write() {
	if bdev_debug {
		fmt.Printf("fs: write block %d (%s)\n", b.Block, b.Name)
	}
	b.ioSync(BDEV_WRITE, false)
}

// Write_async queues the block's contents for writing without waiting
// for the device to acknowledge completion.
func (b *CacheBlock_t) Write_async() {
	if bdev_debug {
		fmt.Printf("fs: write-async block %d (%s)\n", b.Block, b.Name)
	}
	b.ioSync(BDEV_WRITE, true)
}

// Read synchronously reads the block's contents from disk.
func (b *CacheBlock_t) Read() {
	b.ioSync(BDEV_READ, false)
	if bdev_debug {
		fmt.Printf("fs: read block %d (%s) %#x %#x\n", b.Block, b.Name, b.Data[0], b.Data[1])
	}
}

// New_page allocates the backing page for a block that doesn't have one
// yet.
func (b *CacheBlock_t) New_page() {
	pa, d, ok := b.Mem.Alloc()
	if !ok {
		panic("fs: out of memory allocating a block's backing page")
	}
	b.Pa = pa
	b.Data = d
}

// newCacheBlock constructs a block with no backing page; the caller is
// expected to either New_page it (a freshly allocated block) or have
// its contents filled in by a subsequent Read.
func newCacheBlock(block int, name string, m Blockmem_i, d Disk_i, cb blockReleaser) *CacheBlock_t {
	return &CacheBlock_t{Block: block, Name: name, Mem: m, Disk: d, Cb: cb}
}

// newCacheBlockWithPage is newCacheBlock followed by New_page, the
// common case for a block the cache is about to read into or format.
func newCacheBlockWithPage(block int, name string, m Blockmem_i, d Disk_i, cb blockReleaser) *CacheBlock_t {
	b := newCacheBlock(block, name, m, d, cb)
	b.New_page()
	return b
}

// Free_page releases the page backing this block without going through
// a blockReleaser -- used during shutdown, after the cache has already
// forgotten the block.
func (b *CacheBlock_t) Free_page() {
	b.Mem.Free(b.Pa)
}
