package hashtable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDel(t *testing.T) {
	ix := NewInodeIndex(8)

	v, inserted := ix.Set(7, "seven")
	require.True(t, inserted)
	assert.Equal(t, "seven", v)

	got, ok := ix.Get(7)
	require.True(t, ok)
	assert.Equal(t, "seven", got)

	_, ok = ix.Get(8)
	assert.False(t, ok)

	ix.Del(7)
	_, ok = ix.Get(7)
	assert.False(t, ok)
	assert.Equal(t, 0, ix.Size())
}

func TestSetKeepsFirstWriter(t *testing.T) {
	ix := NewInodeIndex(8)
	_, inserted := ix.Set(3, "first")
	require.True(t, inserted)

	v, inserted := ix.Set(3, "second")
	assert.False(t, inserted)
	assert.Equal(t, "first", v)
}

func TestElemsSeesEveryEntry(t *testing.T) {
	ix := NewInodeIndex(4)
	for i := 1; i <= 20; i++ {
		ix.Set(i, i*10)
	}
	assert.Equal(t, 20, ix.Size())

	seen := map[int]bool{}
	for _, e := range ix.Elems() {
		seen[e.Ino] = true
		assert.Equal(t, e.Ino*10, e.Inode)
	}
	assert.Len(t, seen, 20)
}

func TestDelOfMissingPanics(t *testing.T) {
	ix := NewInodeIndex(4)
	assert.Panics(t, func() { ix.Del(99) })
}

func TestConcurrentGetDuringSetDel(t *testing.T) {
	ix := NewInodeIndex(16)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	// readers hammer the lock-free Get path while a writer churns the
	// same buckets
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for i := 0; i < 64; i++ {
					if v, ok := ix.Get(i); ok {
						if v.(int) != i {
							t.Errorf("ino %d returned %v", i, v)
							return
						}
					}
				}
			}
		}()
	}

	for round := 0; round < 200; round++ {
		for i := 0; i < 64; i++ {
			ix.Set(i, i)
		}
		for i := 0; i < 64; i++ {
			if _, ok := ix.Get(i); ok {
				ix.Del(i)
			}
		}
	}
	close(stop)
	wg.Wait()
}
