package ufs

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxkern/defs"
	"nyxkern/fs"
	"nyxkern/mem"
	"nyxkern/ustr"
)

func init() {
	if !mem.Physmem.Inited {
		mem.Phys_init(1024)
	}
}

func mkImage(t *testing.T) string {
	t.Helper()
	tmp, err := os.CreateTemp("", "nyxkern-ufs-*.img")
	require.NoError(t, err)
	path := tmp.Name()
	tmp.Close()
	t.Cleanup(func() { os.Remove(path) })
	MkDisk(path, nil, 127, 200, 908)
	return path
}

func TestMkdirWriteCloseRemount(t *testing.T) {
	path := mkImage(t)

	f := BootFS(path)
	require.Equal(t, 0, int(f.MkDir(ustr.Ustr("/a"))))
	require.Equal(t, 0, int(f.MkDir(ustr.Ustr("/a/b"))))
	require.Equal(t, 0, int(f.MkFile(ustr.Ustr("/a/b/c"), MkBuf([]byte("hello")))))
	ShutdownFS(f)

	f2 := BootMemFS(path)
	defer ShutdownFS(f2)

	got, err := f2.Read(ustr.Ustr("/a/b/c"))
	require.Equal(t, 0, int(err))
	assert.Equal(t, []byte("hello"), got)

	st, serr := f2.Stat(ustr.Ustr("/a/b/c"))
	require.Equal(t, 0, int(serr))
	assert.Equal(t, uint(5), st.Size())
	assert.Equal(t, defs.S_IFREG, st.Mode())
}

func TestAppendGrowsFile(t *testing.T) {
	path := mkImage(t)
	f := BootFS(path)
	defer ShutdownFS(f)

	require.Equal(t, 0, int(f.MkFile(ustr.Ustr("/log"), MkBuf([]byte("one")))))
	require.Equal(t, 0, int(f.Append(ustr.Ustr("/log"), MkBuf([]byte("two")))))

	got, err := f.Read(ustr.Ustr("/log"))
	require.Equal(t, 0, int(err))
	assert.Equal(t, []byte("onetwo"), got)
}

func TestLargeFileBlockByBlock(t *testing.T) {
	path := mkImage(t)
	f := BootFS(path)

	n := 200 * 1024
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*3 + i/fs.BSIZE)
	}
	require.Equal(t, 0, int(f.MkFile(ustr.Ustr("/blob"), MkBuf(data))))

	got, err := f.Read(ustr.Ustr("/blob"))
	require.Equal(t, 0, int(err))
	require.Equal(t, n, len(got))
	for blk := 0; blk*fs.BSIZE < n; blk++ {
		lo := blk * fs.BSIZE
		hi := lo + fs.BSIZE
		if hi > n {
			hi = n
		}
		if !bytes.Equal(data[lo:hi], got[lo:hi]) {
			t.Fatalf("block %d differs after write", blk)
		}
	}
	ShutdownFS(f)

	f2 := BootMemFS(path)
	defer ShutdownFS(f2)
	got2, err := f2.Read(ustr.Ustr("/blob"))
	require.Equal(t, 0, int(err))
	assert.True(t, bytes.Equal(data, got2))
}

func TestLsSeesCreatedEntries(t *testing.T) {
	path := mkImage(t)
	f := BootFS(path)
	defer ShutdownFS(f)

	require.Equal(t, 0, int(f.MkDir(ustr.Ustr("/dir"))))
	require.Equal(t, 0, int(f.MkFile(ustr.Ustr("/dir/x"), MkBuf([]byte("1")))))
	require.Equal(t, 0, int(f.MkFile(ustr.Ustr("/dir/y"), MkBuf([]byte("22")))))

	ents, err := f.Ls(ustr.Ustr("/dir"))
	require.Equal(t, 0, int(err))
	require.Contains(t, ents, "x")
	require.Contains(t, ents, "y")
	assert.Equal(t, uint(1), ents["x"].Size())
	assert.Equal(t, uint(2), ents["y"].Size())
}

func TestUnlinkThenRemountStaysGone(t *testing.T) {
	path := mkImage(t)
	f := BootFS(path)
	require.Equal(t, 0, int(f.MkFile(ustr.Ustr("/gone"), MkBuf([]byte("bye")))))
	require.Equal(t, 0, int(f.Unlink(ustr.Ustr("/gone"))))
	ShutdownFS(f)

	f2 := BootMemFS(path)
	defer ShutdownFS(f2)
	_, err := f2.Stat(ustr.Ustr("/gone"))
	assert.Equal(t, -defs.ENOENT, err)
}

func TestRenameAcrossDirs(t *testing.T) {
	path := mkImage(t)
	f := BootFS(path)
	defer ShutdownFS(f)

	require.Equal(t, 0, int(f.MkDir(ustr.Ustr("/src"))))
	require.Equal(t, 0, int(f.MkDir(ustr.Ustr("/dst"))))
	require.Equal(t, 0, int(f.MkFile(ustr.Ustr("/src/f"), MkBuf([]byte("move me")))))

	require.Equal(t, 0, int(f.Rename(ustr.Ustr("/src/f"), ustr.Ustr("/dst/f"))))

	_, err := f.Stat(ustr.Ustr("/src/f"))
	assert.Equal(t, -defs.ENOENT, err)
	got, rerr := f.Read(ustr.Ustr("/dst/f"))
	require.Equal(t, 0, int(rerr))
	assert.Equal(t, []byte("move me"), got)
}
