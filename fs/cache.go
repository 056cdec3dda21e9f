package fs

import (
	"fmt"
	"sync"

	"nyxkern/stats"
)

// bcachestats_t is the block cache's compiled-out-by-default counter
// block; Fs_statistics renders it when stats.Stats is on.
type bcachestats_t struct {
	Nhit   stats.Counter_t
	Nmiss  stats.Counter_t
	Nevict stats.Counter_t
}

// EVICTION_THRESHOLD bounds how many blocks the cache keeps around
// before cache_acquire-style lookups start reclaiming the least recently
// used unreferenced, unpinned ones.
const EVICTION_THRESHOLD = 1024

// Objref_t is the cache's bookkeeping for one live block: how many
// callers currently hold it, and whether the log has pinned it against
// eviction until the running transaction commits.
type Objref_t struct {
	refcnt int
	pinned bool
}

// bcache_t is the block buffer cache, keyed by block number. It is
// shared by the log (for the blocks an in-flight transaction touches)
// and the bitmap/inode layers (for everything else); eviction only ever
// drops a block with zero references and no pin.
type bcache_t struct {
	mu     sync.Mutex
	fs     *Fs_t
	blocks map[int]*CacheBlock_t
	lru    *blockQueue_t
	stats  bcachestats_t
}

func mkbcache(fs *Fs_t) *bcache_t {
	return &bcache_t{fs: fs, blocks: make(map[int]*CacheBlock_t), lru: newBlockQueue()}
}

func (bc *bcache_t) size() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.blocks)
}

// get returns the cache's handle for bn, reading it from disk the first
// time it is seen. The caller must Done() the block to release it.
func (bc *bcache_t) get(bn int, name string, fill bool) *CacheBlock_t {
	bc.mu.Lock()
	if b, ok := bc.blocks[bn]; ok {
		b.Ref.refcnt++
		bc.lru.RemoveBlock(bn)
		bc.lru.PushBack(b)
		bc.stats.Nhit.Inc()
		bc.mu.Unlock()
		b.Lock()
		return b
	}
	bc.stats.Nmiss.Inc()
	bc.evictLocked()
	b := newCacheBlockWithPage(bn, name, bc.fs.blockmem, bc.fs.bdev, bc)
	b.Ref = &Objref_t{refcnt: 1}
	bc.blocks[bn] = b
	bc.lru.PushBack(b)
	bc.mu.Unlock()

	b.Lock()
	if fill {
		b.Read()
	}
	return b
}

// evictLocked drops unreferenced, unpinned blocks until the cache is
// back under EVICTION_THRESHOLD. Caller holds bc.mu.
func (bc *bcache_t) evictLocked() {
	if len(bc.blocks) < EVICTION_THRESHOLD {
		return
	}
	for b := bc.lru.FrontBlock(); b != nil && len(bc.blocks) >= EVICTION_THRESHOLD; b = bc.lru.NextBlock() {
		if b.Ref.refcnt != 0 || b.Ref.pinned {
			continue
		}
		delete(bc.blocks, b.Block)
		bc.lru.RemoveBlock(b.Block)
		b.EvictDone()
		bc.stats.Nevict.Inc()
	}
}

// Relse implements blockReleaser: called by CacheBlock_t.Done when a
// caller releases a block it previously got from get().
func (bc *bcache_t) Relse(b *CacheBlock_t, s string) {
	b.Unlock()
	bc.mu.Lock()
	defer bc.mu.Unlock()
	b.Ref.refcnt--
	if b.Ref.refcnt < 0 {
		panic("bcache: negative refcnt")
	}
	if b.Ref.refcnt == 0 && (b.Evictnow() && !b.Ref.pinned) {
		delete(bc.blocks, b.Block)
		bc.lru.RemoveBlock(b.Block)
		b.EvictDone()
	}
}

// pin/unpin keep the log's in-flight blocks from being evicted out from
// under a transaction that hasn't committed yet.
func (bc *bcache_t) pin(b *CacheBlock_t)   { bc.mu.Lock(); b.Ref.pinned = true; bc.mu.Unlock() }
func (bc *bcache_t) unpin(b *CacheBlock_t) { bc.mu.Lock(); b.Ref.pinned = false; bc.mu.Unlock() }

// evictClean drops every cached block with no outstanding reference --
// used by Fs_evict under memory pressure. Pinned blocks stay: they are
// part of an open transaction, and freeing their backing page would
// destroy shadow-copied log data before commit applies it.
func (bc *bcache_t) evictClean() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	var doomed []int
	for bn, b := range bc.blocks {
		if b.Ref.refcnt == 0 && !b.Ref.pinned {
			doomed = append(doomed, bn)
			b.EvictDone()
		}
	}
	for _, bn := range doomed {
		delete(bc.blocks, bn)
		bc.lru.RemoveBlock(bn)
	}
	if bdev_debug && len(doomed) > 0 {
		fmt.Printf("fs: evicted %d clean blocks\n", len(doomed))
	}
}
