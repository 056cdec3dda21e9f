// Package hashtable implements the inode cache's lookup index: a
// fixed-bucket-count table keyed by inode number, with a lock-free Get
// path so a hot lookup never blocks behind an insert or delete
// elsewhere in the table.
package hashtable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// entry_t is one inode-number/value pair in a bucket's chain, ordered
// by the inode number so a miss can stop early instead of walking the
// whole chain.
type entry_t struct {
	ino   int
	value interface{}
	next  *entry_t
}

type bucket_t struct {
	sync.Mutex
	first *entry_t
}

func (b *bucket_t) count() int {
	n := 0
	for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
		n++
	}
	return n
}

func (b *bucket_t) entries() []InoEntry_t {
	var p []InoEntry_t
	for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
		p = append(p, InoEntry_t{Ino: e.ino, Inode: e.value})
	}
	return p
}

// InoIndex_t maps inode numbers to their live *inode_t (stored as
// interface{} so this package doesn't need to import fs). Chains within
// a bucket are kept sorted by inode number; Get walks them using
// atomic pointer loads so it never takes the bucket lock, at the cost
// of Set/Del having to serialize on it.
type InoIndex_t struct {
	buckets []*bucket_t
}

// NewInodeIndex allocates an index with the given number of buckets.
// The inode cache sizes this once, at mount time, to roughly the
// working set of simultaneously open files it expects.
func NewInodeIndex(nbuckets int) *InoIndex_t {
	ix := &InoIndex_t{buckets: make([]*bucket_t, nbuckets)}
	for i := range ix.buckets {
		ix.buckets[i] = &bucket_t{}
	}
	return ix
}

func (ix *InoIndex_t) bucketFor(ino int) *bucket_t {
	return ix.buckets[ino%len(ix.buckets)]
}

// Size returns the total number of inodes currently indexed.
func (ix *InoIndex_t) Size() int {
	n := 0
	for _, b := range ix.buckets {
		n += b.count()
	}
	return n
}

// InoEntry_t is one inode-number/value pair returned by Elems.
type InoEntry_t struct {
	Ino   int
	Inode interface{}
}

// Elems returns every entry currently indexed, for callers (eviction
// sweeps) that need to walk the whole cache.
func (ix *InoIndex_t) Elems() []InoEntry_t {
	var p []InoEntry_t
	for _, b := range ix.buckets {
		p = append(p, b.entries()...)
	}
	return p
}

// Get looks up ino without taking any lock.
func (ix *InoIndex_t) Get(ino int) (interface{}, bool) {
	b := ix.bucketFor(ino)
	for e := loadEntry(&b.first); e != nil; e = loadEntry(&e.next) {
		if e.ino == ino {
			return e.value, true
		}
		if e.ino > ino {
			break
		}
	}
	return nil, false
}

// Set inserts ino/value if ino is not already present, returning
// (value, true). If ino is already indexed, Set leaves the table
// unchanged and returns the existing value with false, matching the
// inode cache's iget, which needs to discover a concurrent winner
// rather than clobber it.
func (ix *InoIndex_t) Set(ino int, value interface{}) (interface{}, bool) {
	b := ix.bucketFor(ino)
	b.Lock()
	defer b.Unlock()

	var prev *entry_t
	for e := b.first; e != nil; e = e.next {
		if e.ino == ino {
			return e.value, false
		}
		if e.ino > ino {
			break
		}
		prev = e
	}

	var n *entry_t
	if prev == nil {
		n = &entry_t{ino: ino, value: value, next: b.first}
		storeEntry(&b.first, n)
	} else {
		n = &entry_t{ino: ino, value: value, next: prev.next}
		storeEntry(&prev.next, n)
	}
	return value, true
}

// Del removes ino from the index. It panics if ino is not present --
// the inode cache only ever calls Del on an entry it just looked up,
// so a miss here means the cache's own bookkeeping is broken.
func (ix *InoIndex_t) Del(ino int) {
	b := ix.bucketFor(ino)
	b.Lock()
	defer b.Unlock()

	var prev *entry_t
	for e := b.first; e != nil; e = e.next {
		if e.ino == ino {
			if prev == nil {
				storeEntry(&b.first, e.next)
			} else {
				storeEntry(&prev.next, e.next)
			}
			return
		}
		prev = e
	}
	panic(fmt.Sprintf("hashtable: delete of unindexed inode %d", ino))
}

// loadEntry/storeEntry give Get a wait-free read path through chains
// that Set/Del mutate under lock: readers never block, and since nodes
// are never freed back to a pool (only unlinked), a reader that loaded
// a pointer a moment before a concurrent Del still sees a valid,
// consistent node.
func loadEntry(p **entry_t) *entry_t {
	return (*entry_t)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(p))))
}

func storeEntry(p **entry_t, n *entry_t) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(p)), unsafe.Pointer(n))
}
