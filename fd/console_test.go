package fd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nyxkern/defs"
	"nyxkern/tinfo"
)

func withThread(fn func()) {
	tinfo.SetCurrent(&tinfo.Tnote_t{Alive: true})
	defer tinfo.ClearCurrent()
	fn()
}

func TestConsoleReadReturnsLineAfterNewline(t *testing.T) {
	c := NewConsole()
	for _, b := range []byte("hi\n") {
		c.Intr(b)
	}
	withThread(func() {
		dst := mkKbuf(make([]byte, 32))
		n, err := c.Cons_read(dst, 0)
		assert.Equal(t, defs.Err_t(0), err)
		assert.Equal(t, 3, n)
		assert.Equal(t, "hi\n", string(dst.b[:3]))
	})
}

func TestConsoleReadBlocksUntilIntr(t *testing.T) {
	c := NewConsole()
	done := make(chan int, 1)
	go withThread(func() {
		dst := mkKbuf(make([]byte, 32))
		n, _ := c.Cons_read(dst, 0)
		done <- n
	})

	time.Sleep(10 * time.Millisecond)
	for _, b := range []byte("ok\n") {
		c.Intr(b)
	}

	select {
	case n := <-done:
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("Cons_read never returned after Intr")
	}
}

func TestConsoleBackspaceErasesLastByte(t *testing.T) {
	c := NewConsole()
	for _, b := range []byte("hit") {
		c.Intr(b)
	}
	c.Intr(ctrl('H'))
	c.Intr('\n')

	withThread(func() {
		dst := mkKbuf(make([]byte, 32))
		n, _ := c.Cons_read(dst, 0)
		assert.Equal(t, "hi\n", string(dst.b[:n]))
	})
}

func TestConsoleKillLineErasesWholeLine(t *testing.T) {
	c := NewConsole()
	for _, b := range []byte("garbage") {
		c.Intr(b)
	}
	c.Intr(ctrl('U'))
	for _, b := range []byte("clean\n") {
		c.Intr(b)
	}

	withThread(func() {
		dst := mkKbuf(make([]byte, 32))
		n, _ := c.Cons_read(dst, 0)
		assert.Equal(t, "clean\n", string(dst.b[:n]))
	})
}

func TestConsoleCtrlDEndsReadWithoutNewline(t *testing.T) {
	c := NewConsole()
	for _, b := range []byte("ab") {
		c.Intr(b)
	}
	c.Intr(ctrl('D'))

	withThread(func() {
		dst := mkKbuf(make([]byte, 32))
		n, _ := c.Cons_read(dst, 0)
		assert.Equal(t, "ab", string(dst.b[:n]))
	})
}

func TestConsoleArrowUpRecallsPreviousLine(t *testing.T) {
	c := NewConsole()
	for _, b := range []byte("first\n") {
		c.Intr(b)
	}
	withThread(func() {
		dst := mkKbuf(make([]byte, 32))
		c.Cons_read(dst, 0)
	})

	// arrow-up: ESC [ A
	c.Intr(escByte)
	c.Intr('[')
	c.Intr('A')
	c.Intr('\n')

	withThread(func() {
		dst := mkKbuf(make([]byte, 32))
		n, _ := c.Cons_read(dst, 0)
		assert.Equal(t, "first\n", string(dst.b[:n]))
	})
}

func TestConsoleWriteGoesStraightThrough(t *testing.T) {
	c := NewConsole()
	n, err := c.Cons_write(mkKbuf([]byte("out")), 0)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 3, n)
}
