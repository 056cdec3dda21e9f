package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nyxkern/defs"
	"nyxkern/mem"
)

func init() {
	if !mem.Physmem.Inited {
		mem.Phys_init(256)
	}
}

func TestAllocFreeSmallObject(t *testing.T) {
	a := MkAllocator(0)
	o, err := a.Alloc(32)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Len(t, o.Data, 32)
	for i := range o.Data {
		o.Data[i] = byte(i)
	}
	a.Free(o)
}

func TestAllocManySmallObjectsFitOnePage(t *testing.T) {
	a := MkAllocator(0)
	objs := make([]*Obj_t, 0, 64)
	for i := 0; i < 64; i++ {
		o, err := a.Alloc(16)
		assert.Equal(t, defs.Err_t(0), err)
		objs = append(objs, o)
	}
	assert.Len(t, a.pages[classFor(16)], 1)
	for _, o := range objs {
		a.Free(o)
	}
}

func TestFreeThenReallocReusesSpace(t *testing.T) {
	a := MkAllocator(0)
	o1, _ := a.Alloc(64)
	a.Free(o1)
	before := len(a.pages[classFor(64)])
	o2, _ := a.Alloc(64)
	assert.Equal(t, before, len(a.pages[classFor(64)]))
	a.Free(o2)
}

func TestLargeObjectBypassesPages(t *testing.T) {
	a := MkAllocator(0)
	o, err := a.Alloc(bigThreshold + 1)
	assert.Equal(t, defs.Err_t(0), err)
	assert.True(t, o.big)
	assert.Len(t, o.Data, bigThreshold+1)
	a.Free(o)
}

func TestClass4And8Separate(t *testing.T) {
	assert.Equal(t, class8, classFor(16))
	assert.Equal(t, class4, classFor(15))
}
