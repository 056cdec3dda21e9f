package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	if !Physmem.Inited {
		Phys_init(512)
	}
}

func TestAllocFreeReturnsPageToFreeList(t *testing.T) {
	before := Physmem.Nfree()

	pg, pa, ok := Physmem.Refpg_new(0)
	require.True(t, ok)
	require.NotNil(t, pg)
	Physmem.Refup(pa)
	assert.Equal(t, before-1, Physmem.Nfree())
	assert.Equal(t, 1, Physmem.Refcnt(pa))

	freed := Physmem.Refdown(0, pa)
	assert.True(t, freed)
	assert.Equal(t, before, Physmem.Nfree())
}

func TestSharedPageFreesOnlyAtZero(t *testing.T) {
	_, pa, ok := Physmem.Refpg_new(0)
	require.True(t, ok)
	Physmem.Refup(pa)
	Physmem.Refup(pa)
	require.Equal(t, 2, Physmem.Refcnt(pa))

	assert.False(t, Physmem.Refdown(0, pa))
	assert.Equal(t, 1, Physmem.Refcnt(pa))
	assert.True(t, Physmem.Refdown(0, pa))
}

func TestZeroPageIsSharedAndZero(t *testing.T) {
	require.NotNil(t, Zeropg)
	for i := 0; i < PGSIZE; i += 512 {
		assert.Equal(t, uint8(0), Zeropg[i])
	}
	// never freed: its refcount stays positive for the kernel's lifetime
	assert.GreaterOrEqual(t, Physmem.Refcnt(P_zeropg), 1)
}

func TestRefpgNewZeroes(t *testing.T) {
	// dirty a page, free it, and check the zeroing path on realloc
	pg, pa, ok := Physmem.Refpg_new_nozero(0)
	require.True(t, ok)
	Physmem.Refup(pa)
	for i := range pg {
		pg[i] = 0xaa
	}
	Physmem.Refdown(0, pa)

	seen := make(map[Pa_t]bool)
	for {
		npg, npa, ok := Physmem.Refpg_new(0)
		require.True(t, ok)
		Physmem.Refup(npa)
		if npa == pa {
			for i := 0; i < PGSIZE; i += 256 {
				assert.Equal(t, uint8(0), npg[i])
			}
			Physmem.Refdown(0, npa)
			for p := range seen {
				Physmem.Refdown(0, p)
			}
			return
		}
		if seen[npa] {
			t.Fatal("allocator cycled without returning the freed page")
		}
		seen[npa] = true
	}
}

func TestDmapRoundtrip(t *testing.T) {
	pg, pa, ok := Physmem.Refpg_new(0)
	require.True(t, ok)
	Physmem.Refup(pa)
	defer Physmem.Refdown(0, pa)

	pg[123] = 0x5c
	assert.Equal(t, uint8(0x5c), Physmem.Dmap(pa)[123])
	assert.Equal(t, uint8(0x5c), Physmem.Dmap8(pa+123)[0])
}

func TestExhaustionReturnsFailureSentinel(t *testing.T) {
	var held []Pa_t
	defer func() {
		for _, pa := range held {
			Physmem.Refdown(0, pa)
		}
	}()
	for {
		_, pa, ok := Physmem.Refpg_new(0)
		if !ok {
			// OOM is a failure return, not a panic
			return
		}
		Physmem.Refup(pa)
		held = append(held, pa)
		if len(held) > 2*len(Physmem.Pgs) {
			t.Fatal("allocator never reported exhaustion")
		}
	}
}
