package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxkern/mem"
)

func init() {
	if !mem.Physmem.Inited {
		mem.Phys_init(4096)
	}
}

func mkExecProc(t *testing.T) *Proc_t {
	p, err := InitProc(0)
	require.Equal(t, 0, int(err))
	return p
}

func TestExecLoadsTextAndData(t *testing.T) {
	p := mkExecProc(t)

	text := []uint8("\x00\x01\x02codepage")
	ea := &ExecArgs_t{
		Entry: int(mem.USERMIN),
		Segments: []Segment_t{
			{Va: int(mem.USERMIN), Memsz: mem.PGSIZE, Data: text, Writable: false},
		},
		Argv: []string{"prog", "-x"},
		Envp: []string{"TEST_ENV=x"},
	}

	sp, entry, err := Exec(p, ea)
	require.Equal(t, 0, int(err))
	assert.Equal(t, int(mem.USERMIN), entry)
	assert.True(t, sp < int(mem.USERTOP))
	assert.True(t, sp > 0)

	got, rerr := p.AS.Userreadn(0, int(mem.USERMIN), 3)
	require.Equal(t, 0, int(rerr))
	assert.Equal(t, int(text[0])|int(text[1])<<8|int(text[2])<<16, got)
}

func TestExecBssTailIsZero(t *testing.T) {
	p := mkExecProc(t)
	ea := &ExecArgs_t{
		Entry: int(mem.USERMIN),
		Segments: []Segment_t{
			{Va: int(mem.USERMIN), Memsz: mem.PGSIZE, Data: []uint8{1, 2, 3, 4}, Writable: true},
		},
	}
	_, _, err := Exec(p, ea)
	require.Equal(t, 0, int(err))

	v, rerr := p.AS.Userreadn(0, int(mem.USERMIN)+100, 4)
	require.Equal(t, 0, int(rerr))
	assert.Equal(t, 0, v)
}

func TestExecArgvOnStackIsReadable(t *testing.T) {
	p := mkExecProc(t)
	ea := &ExecArgs_t{
		Entry: int(mem.USERMIN),
		Argv:  []string{"sh"},
		Envp:  []string{"TEST_ENV=x"},
	}
	sp, _, err := Exec(p, ea)
	require.Equal(t, 0, int(err))

	argc, rerr := p.AS.Userreadn(0, sp, 8)
	require.Equal(t, 0, int(rerr))
	assert.Equal(t, 1, argc)

	argvp, rerr := p.AS.Userreadn(0, sp+8, 8)
	require.Equal(t, 0, int(rerr))
	s, serr := p.AS.Userstr(0, argvp, 64)
	require.Equal(t, 0, int(serr))
	assert.Equal(t, "sh", string(s))
}
