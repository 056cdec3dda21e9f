package fd

import (
	"os"
	"sync"

	"nyxkern/defs"
	"nyxkern/fdops"
	"nyxkern/sem"
	"nyxkern/tinfo"
)

// ibufSize is the size of the console's raw input ring.
const ibufSize = 128

// Console_t is the kernel's line-discipline console device: a fixed-size
// input ring with three cursors (read, write, edit) the way a classic
// cooked-mode tty driver works. Intr feeds it one keystroke at a time;
// Cons_read drains completed lines; Cons_write prints straight through
// with no editing applied.
type Console_t struct {
	mu                         sync.Mutex
	buf                        [ibufSize]byte
	readIdx, writeIdx, editIdx int
	sem                        *sem.Sem_t
	// escState tracks a partially-received "ESC [ A/B" arrow-key
	// sequence across successive Intr calls: 0 idle, 1 saw ESC, 2 saw
	// ESC '['.
	escState int
	// history holds the last few completed lines so an up/down arrow
	// key can recall them onto the line being edited. histCursor indexes
	// the line currently recalled; len(history) means "not browsing".
	history    [][]byte
	histCursor int
}

const maxHistory = 32

// NewConsole returns an empty console device.
func NewConsole() *Console_t {
	return &Console_t{sem: sem.MkSem(0)}
}

func echo(b byte) {
	if b == backspaceSentinel {
		os.Stdout.Write([]byte{'\b', ' ', '\b'})
		return
	}
	os.Stdout.Write([]byte{b})
}

const backspaceSentinel = 0xff

func ctrl(c byte) byte { return c - '@' }

const escByte = 0x1b

// Intr delivers one interrupt-level input byte to the line discipline,
// applying backspace/kill-line editing and waking a blocked Cons_read
// once a full line (or ^D) has been committed.
func (c *Console_t) Intr(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.escState == 1 {
		c.escState = 0
		if b == '[' {
			c.escState = 2
		}
		return
	}
	if c.escState == 2 {
		c.escState = 0
		switch b {
		case 'A':
			c.recallUp()
		case 'B':
			c.recallDown()
		}
		return
	}

	switch b {
	case escByte:
		c.escState = 1
	case ctrl('C'):
		// No foreground process group exists in this host simulation,
		// so ^C is simply discarded instead of signalling a process.
	case ctrl('U'):
		for c.editIdx != c.writeIdx && c.buf[(c.editIdx-1)%ibufSize] != '\n' {
			c.editIdx--
			echo(backspaceSentinel)
		}
	case ctrl('H'), 0x7f:
		if c.editIdx != c.writeIdx {
			c.editIdx--
			echo(backspaceSentinel)
		}
	default:
		if b != 0 && c.editIdx-c.readIdx < ibufSize {
			if b == '\r' {
				b = '\n'
			}
			echo(b)
			c.buf[c.editIdx%ibufSize] = b
			c.editIdx++
			if b == '\n' || b == ctrl('D') || c.editIdx == c.readIdx+ibufSize {
				c.commitLine()
				c.writeIdx = c.editIdx
				c.sem.Post()
			}
		}
	}
}

// commitLine saves the line just finished (writeIdx..editIdx, newline
// included) into the history ring, evicting the oldest entry past
// maxHistory, and resets histCursor to "not browsing".
func (c *Console_t) commitLine() {
	n := c.editIdx - c.writeIdx
	if n > 0 {
		last := c.buf[(c.editIdx-1)%ibufSize]
		if last == '\n' || last == ctrl('D') {
			n--
		}
	}
	line := make([]byte, n)
	for i := range line {
		line[i] = c.buf[(c.writeIdx+i)%ibufSize]
	}
	c.history = append(c.history, line)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	c.histCursor = len(c.history)
}

// setLine replaces the in-progress (uncommitted) line with newline,
// erasing whatever was there and echoing the replacement.
func (c *Console_t) setLine(newline []byte) {
	for c.editIdx != c.writeIdx {
		c.editIdx--
		echo(backspaceSentinel)
	}
	for _, b := range newline {
		if c.editIdx-c.readIdx >= ibufSize {
			break
		}
		echo(b)
		c.buf[c.editIdx%ibufSize] = b
		c.editIdx++
	}
}

// recallUp moves histCursor one line further into the past and loads it.
func (c *Console_t) recallUp() {
	if c.histCursor == 0 {
		return
	}
	c.histCursor--
	c.setLine(c.history[c.histCursor])
}

// recallDown moves histCursor one line toward the present, clearing the
// line entirely once it runs past the most recent entry.
func (c *Console_t) recallDown() {
	if c.histCursor >= len(c.history) {
		return
	}
	c.histCursor++
	if c.histCursor == len(c.history) {
		c.setLine(nil)
	} else {
		c.setLine(c.history[c.histCursor])
	}
}

// Cons_read implements fs.Console_i: it blocks until at least one line
// (or EOF marker) is available, then copies up to one line into dst.
func (c *Console_t) Cons_read(dst fdops.Userio_i, off int) (int, defs.Err_t) {
	tn := tinfo.Current()
	c.mu.Lock()
	total := 0
	one := make([]byte, 1)
	for dst.Remain() > 0 {
		for c.readIdx == c.writeIdx {
			c.mu.Unlock()
			if !c.sem.Wait(tn) {
				return total, -defs.EINTR
			}
			c.mu.Lock()
		}
		b := c.buf[c.readIdx%ibufSize]
		c.readIdx++
		if b == ctrl('D') {
			break
		}
		one[0] = b
		c.mu.Unlock()
		n, err := dst.Uiowrite(one)
		c.mu.Lock()
		if err != 0 {
			c.mu.Unlock()
			return total, err
		}
		total += n
		if b == '\n' {
			break
		}
	}
	c.mu.Unlock()
	return total, 0
}

// Cons_write implements fs.Console_i: it prints src straight to the
// host's stdout, with no line-discipline editing applied.
func (c *Console_t) Cons_write(src fdops.Userio_i, off int) (int, defs.Err_t) {
	scratch := make([]byte, 512)
	total := 0
	for {
		n, err := src.Uioread(scratch)
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
		os.Stdout.Write(scratch[:n])
		total += n
		if n < len(scratch) {
			break
		}
	}
	return total, 0
}

// Cons_poll implements fs.Console_i.
func (c *Console_t) Cons_poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rdy fdops.Ready_t
	if c.readIdx != c.writeIdx {
		rdy |= fdops.R_READ
	}
	rdy |= fdops.R_WRITE
	return rdy & pm.Events, 0
}
