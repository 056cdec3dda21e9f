package bpath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nyxkern/ustr"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/", "/"},
		{"/a/b/c", "/a/b/c"},
		{"//a///b", "/a/b"},
		{"/a/./b/.", "/a/b"},
		{"/a/b/..", "/a"},
		{"/a/b/../..", "/"},
		{"/..", "/"},
		{"/../../x", "/x"},
		{"/a/../b/./c/..", "/b"},
	}
	for _, c := range cases {
		got := Canonicalize(ustr.Ustr(c.in))
		assert.Equal(t, c.want, string(got), "input %q", c.in)
	}
}

func TestCanonicalizePanicsOnRelative(t *testing.T) {
	assert.Panics(t, func() { Canonicalize(ustr.Ustr("a/b")) })
}

func TestSplit(t *testing.T) {
	parts := Split(ustr.Ustr("/a/bb/ccc"))
	assert.Len(t, parts, 3)
	assert.Equal(t, "a", string(parts[0]))
	assert.Equal(t, "bb", string(parts[1]))
	assert.Equal(t, "ccc", string(parts[2]))

	assert.Empty(t, Split(ustr.Ustr("/")))
	assert.Empty(t, Split(ustr.MkUstr()))
}
