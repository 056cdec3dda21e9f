package fd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nyxkern/defs"
	"nyxkern/mem"
	"nyxkern/sem"
	"nyxkern/tinfo"
)

// kbuf is a minimal fdops.Userio_i backed by a plain byte slice, enough
// to drive pipe reads and writes in tests without a real address space.
type kbuf struct {
	b   []byte
	off int
}

func mkKbuf(b []byte) *kbuf {
	return &kbuf{b: b}
}

func (k *kbuf) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.b[k.off:])
	k.off += n
	return n, 0
}

func (k *kbuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(k.b[k.off:], src)
	k.off += n
	return n, 0
}

func (k *kbuf) Remain() int {
	return len(k.b) - k.off
}

func (k *kbuf) Totalsz() int {
	return len(k.b)
}

func init() {
	if !mem.Physmem.Inited {
		mem.Phys_init(1024)
	}
}

func TestPipeWriteThenRead(t *testing.T) {
	r, w, err := MkPipe(0)
	assert.Equal(t, defs.Err_t(0), err)

	n, err := w.Write(mkKbuf([]byte("hello world")))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 11, n)

	dst := mkKbuf(make([]byte, 32))
	n, err = r.Read(dst)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(dst.b[:11]))
}

func TestPipeReadBlocksUntilWrite(t *testing.T) {
	r, w, _ := MkPipe(0)
	done := make(chan int, 1)
	go withThread(func() {
		dst := mkKbuf(make([]byte, 8))
		n, _ := r.Read(dst)
		done <- n
	})

	time.Sleep(10 * time.Millisecond)
	w.Write(mkKbuf([]byte("hi")))

	select {
	case n := <-done:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("Read never returned after Write")
	}
}

func TestPipeReadReturnsEOFAfterWriterClose(t *testing.T) {
	r, w, _ := MkPipe(0)
	w.Close()
	dst := mkKbuf(make([]byte, 8))
	n, err := r.Read(dst)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, n)
}

func TestPipeWriteAfterReaderCloseReturnsEPIPE(t *testing.T) {
	r, w, _ := MkPipe(0)
	r.Close()
	_, err := w.Write(mkKbuf([]byte("x")))
	assert.Equal(t, -defs.EPIPE, err)
}

func TestPipeReadInterruptedByKill(t *testing.T) {
	r, w, _ := MkPipe(0)
	defer w.Close()

	tn := &tinfo.Tnote_t{Alive: true}
	ret := make(chan defs.Err_t, 1)
	go func() {
		tinfo.SetCurrent(tn)
		defer tinfo.ClearCurrent()
		dst := mkKbuf(make([]byte, 8))
		_, err := r.Read(dst)
		ret <- err
	}()

	// the writer stays open, so only the kill can unblock the reader
	time.Sleep(10 * time.Millisecond)
	tn.Lock()
	tn.Killed = true
	tn.Unlock()
	sem.AlertThread(tn)

	select {
	case err := <-ret:
		assert.Equal(t, -defs.EINTR, err)
	case <-time.After(time.Second):
		t.Fatal("killed pipe read never returned")
	}
}

func TestPipeWriterBlocksWhenFullUntilDrained(t *testing.T) {
	r, w, _ := MkPipe(0)

	n, err := w.Write(mkKbuf(make([]byte, pipesz)))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, pipesz, n)

	done := make(chan int, 1)
	go withThread(func() {
		wn, _ := w.Write(mkKbuf([]byte("x")))
		done <- wn
	})

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("write completed against a full pipe")
	default:
	}

	// draining a single byte must unblock the writer
	dst := mkKbuf(make([]byte, 1))
	rn, rerr := r.Read(dst)
	assert.Equal(t, defs.Err_t(0), rerr)
	assert.Equal(t, 1, rn)

	select {
	case wn := <-done:
		assert.Equal(t, 1, wn)
	case <-time.After(time.Second):
		t.Fatal("writer never unblocked after drain")
	}
}
