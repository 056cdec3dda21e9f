package circbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxkern/mem"
	"nyxkern/vm"
)

func init() {
	if !mem.Physmem.Inited {
		mem.Phys_init(1024)
	}
}

func mkbuf(data []byte) *vm.Fakeubuf_t {
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init(append([]uint8(nil), data...))
	return ub
}

func drain(t *testing.T, cb *Circbuf_t, n int) []byte {
	t.Helper()
	buf := make([]uint8, n)
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init(buf)
	got, err := cb.Copyout(ub)
	require.Equal(t, 0, int(err))
	return buf[:got]
}

func TestFillDrainRoundtrip(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, 0, int(cb.Cb_init(0, 64, mem.Physmem)))
	defer cb.Cb_release()

	msg := []byte("hello ring")
	n, err := cb.Copyin(mkbuf(msg))
	require.Equal(t, 0, int(err))
	assert.Equal(t, len(msg), n)
	assert.Equal(t, len(msg), cb.Used())

	assert.Equal(t, msg, drain(t, &cb, 64))
	assert.True(t, cb.Empty())
}

func TestFullStopsCopyin(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, 0, int(cb.Cb_init(0, 8, mem.Physmem)))
	defer cb.Cb_release()

	n, err := cb.Copyin(mkbuf([]byte("0123456789")))
	require.Equal(t, 0, int(err))
	assert.Equal(t, 8, n)
	assert.True(t, cb.Full())
	assert.Equal(t, 0, cb.Left())

	// a writer against a full ring makes no progress
	n, err = cb.Copyin(mkbuf([]byte("x")))
	require.Equal(t, 0, int(err))
	assert.Equal(t, 0, n)
}

func TestWraparoundPreservesOrder(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, 0, int(cb.Cb_init(0, 8, mem.Physmem)))
	defer cb.Cb_release()

	// leave the cursors mid-page so the next fill wraps
	cb.Copyin(mkbuf([]byte("abcdef")))
	assert.Equal(t, []byte("abcd"), drain(t, &cb, 4))

	n, err := cb.Copyin(mkbuf([]byte("ghijkl")))
	require.Equal(t, 0, int(err))
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("efghijkl"), drain(t, &cb, 16))
}

func TestCopyoutNBounded(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, 0, int(cb.Cb_init(0, 32, mem.Physmem)))
	defer cb.Cb_release()

	cb.Copyin(mkbuf([]byte("abcdefgh")))
	buf := make([]uint8, 16)
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init(buf)
	got, err := cb.Copyout_n(ub, 3)
	require.Equal(t, 0, int(err))
	assert.Equal(t, 3, got)
	assert.Equal(t, []byte("abc"), []byte(buf[:3]))
	assert.Equal(t, 5, cb.Used())
}

func TestReleaseFreesBackingPage(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, 0, int(cb.Cb_init(0, 16, mem.Physmem)))

	before := mem.Physmem.Nfree()
	cb.Copyin(mkbuf([]byte("z"))) // forces the lazy page allocation
	assert.Equal(t, before-1, mem.Physmem.Nfree())
	cb.Cb_release()
	assert.Equal(t, before, mem.Physmem.Nfree())
}
