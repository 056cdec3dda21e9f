package fs

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxkern/defs"
	"nyxkern/fd"
	"nyxkern/mem"
	"nyxkern/stat"
	"nyxkern/ustr"
	"nyxkern/util"
	"nyxkern/vm"
)

func init() {
	if !mem.Physmem.Inited {
		mem.Phys_init(1024)
	}
}

// memdisk_t is an in-memory Disk_i: block number to page. Unwritten
// blocks read back as zeros, like a freshly zeroed image.
type memdisk_t struct {
	sync.Mutex
	blocks map[int]*mem.Bytepg_t
}

func mkMemdisk() *memdisk_t {
	return &memdisk_t{blocks: make(map[int]*mem.Bytepg_t)}
}

func (d *memdisk_t) Start(req *Bdev_req_t) bool {
	d.Lock()
	defer d.Unlock()
	switch req.Cmd {
	case BDEV_READ:
		blk := req.Blks.FrontBlock()
		pg := &mem.Bytepg_t{}
		if src, ok := d.blocks[blk.Block]; ok {
			*pg = *src
		}
		blk.Data = pg
	case BDEV_WRITE:
		for b := req.Blks.FrontBlock(); b != nil; b = req.Blks.NextBlock() {
			pg := &mem.Bytepg_t{}
			*pg = *b.Data
			d.blocks[b.Block] = pg
		}
	case BDEV_FLUSH:
	}
	return false
}

func (d *memdisk_t) Stats() string { return "" }

// raw returns the current durable contents of block bn.
func (d *memdisk_t) raw(bn int) *mem.Bytepg_t {
	d.Lock()
	defer d.Unlock()
	pg := &mem.Bytepg_t{}
	if src, ok := d.blocks[bn]; ok {
		*pg = *src
	}
	return pg
}

// setraw overwrites the durable contents of block bn, for tests that
// craft a post-crash disk state by hand.
func (d *memdisk_t) setraw(bn int, pg *mem.Bytepg_t) {
	d.Lock()
	defer d.Unlock()
	cp := &mem.Bytepg_t{}
	*cp = *pg
	d.blocks[bn] = cp
}

// snapshot deep-copies the disk, simulating the state a crash at this
// instant would leave behind.
func (d *memdisk_t) snapshot() *memdisk_t {
	d.Lock()
	defer d.Unlock()
	n := mkMemdisk()
	for bn, pg := range d.blocks {
		cp := &mem.Bytepg_t{}
		*cp = *pg
		n.blocks[bn] = cp
	}
	return n
}

type testmem_t struct{}

func (testmem_t) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) { return 0, &mem.Bytepg_t{}, true }
func (testmem_t) Free(mem.Pa_t)                          {}
func (testmem_t) Refup(mem.Pa_t)                         {}

// formatDisk lays a fresh filesystem onto d, the same layout ufs.MkDisk
// writes to a file image (which this white-box test cannot import
// without a cycle).
func formatDisk(d *memdisk_t, nlogblks, ninodes, ndatablks int) {
	const logStart = 2
	inodeStart := logStart + 1 + nlogblks
	inodeLen := (ninodes + INODE_PER_BLOCK - 1) / INODE_PER_BLOCK

	bitmapStart := inodeStart + inodeLen
	bitmapLen := 1
	var total int
	for i := 0; i < 8; i++ {
		total = bitmapStart + bitmapLen + ndatablks
		need := (total + BIT_PER_BLOCK - 1) / BIT_PER_BLOCK
		if need == bitmapLen {
			break
		}
		bitmapLen = need
	}
	dataStart := bitmapStart + bitmapLen

	sb := &Superblock_t{Data: &mem.Bytepg_t{}}
	sb.SetNumblocks(total)
	sb.SetNumdatablocks(ndatablks)
	sb.SetNuminodes(ninodes)
	sb.SetNumlogblocks(nlogblks)
	sb.SetLogstart(logStart)
	sb.SetInodestart(inodeStart)
	sb.SetBitmapstart(bitmapStart)
	d.setraw(superBlockNo, sb.Data)

	for b := 0; b < bitmapLen; b++ {
		bm := &mem.Bytepg_t{}
		base := b * BIT_PER_BLOCK
		for i := 0; i < BIT_PER_BLOCK; i++ {
			bn := base + i
			if bn >= total {
				break
			}
			if bn < dataStart {
				bm[i/8] |= 1 << uint(i&7)
			}
		}
		d.setraw(bitmapStart+b, bm)
	}
}

func mountDisk(t *testing.T, d *memdisk_t, fresh bool) (*Fs_t, *fd.Cwd_t) {
	t.Helper()
	_, fss := StartFS(testmem_t{}, d, nil, fresh)
	t.Cleanup(func() { fss.StopFS() })
	rootfops, err := fss.Fs_rootfops()
	require.Equal(t, 0, int(err))
	cwd := fd.MkRootCwd(&fd.Fd_t{Fops: rootfops, Perms: fd.FD_READ | fd.FD_WRITE})
	return fss, cwd
}

func mkTestFs(t *testing.T) (*Fs_t, *fd.Cwd_t, *memdisk_t) {
	t.Helper()
	d := mkMemdisk()
	formatDisk(d, 127, 200, 908)
	fss, cwd := mountDisk(t, d, true)
	return fss, cwd, d
}

func writeFile(t *testing.T, fss *Fs_t, cwd *fd.Cwd_t, path string, data []byte) {
	t.Helper()
	f, err := fss.Fs_open(ustr.Ustr(path), defs.O_CREAT|defs.O_RDWR, 0, cwd, 0, 0)
	require.Equal(t, 0, int(err))
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init(append([]uint8(nil), data...))
	n, werr := f.Fops.Write(ub)
	require.Equal(t, 0, int(werr))
	require.Equal(t, len(data), n)
	require.Equal(t, 0, int(f.Fops.Close()))
}

func readFile(t *testing.T, fss *Fs_t, cwd *fd.Cwd_t, path string, n int) []byte {
	t.Helper()
	f, err := fss.Fs_open(ustr.Ustr(path), defs.O_RDONLY, 0, cwd, 0, 0)
	require.Equal(t, 0, int(err))
	defer f.Fops.Close()
	buf := make([]uint8, n)
	ub := &vm.Fakeubuf_t{}
	ub.Fake_init(buf)
	got, rerr := f.Fops.Read(ub)
	require.Equal(t, 0, int(rerr))
	return buf[:got]
}

func TestMountHasRootDirectory(t *testing.T) {
	fss, cwd, _ := mkTestFs(t)
	st := &stat.Stat_t{}
	require.Equal(t, 0, int(fss.Fs_stat(ustr.MkUstrRoot(), st, cwd)))
	assert.Equal(t, defs.S_IFDIR, st.Mode())
}

func TestFileWriteReadRoundtrip(t *testing.T) {
	fss, cwd, _ := mkTestFs(t)
	writeFile(t, fss, cwd, "/hello", []byte("hello"))

	got := readFile(t, fss, cwd, "/hello", 64)
	assert.Equal(t, []byte("hello"), got)

	st := &stat.Stat_t{}
	require.Equal(t, 0, int(fss.Fs_stat(ustr.Ustr("/hello"), st, cwd)))
	assert.Equal(t, uint(5), st.Size())
	assert.Equal(t, defs.S_IFREG, st.Mode())
}

func TestNestedDirsSurviveRemount(t *testing.T) {
	d := mkMemdisk()
	formatDisk(d, 127, 200, 908)
	fss, cwd := mountDisk(t, d, true)
	require.Equal(t, 0, int(fss.Fs_mkdir(ustr.Ustr("/a"), 0755, cwd)))
	require.Equal(t, 0, int(fss.Fs_mkdir(ustr.Ustr("/a/b"), 0755, cwd)))
	writeFile(t, fss, cwd, "/a/b/c", []byte("hello"))
	fss.StopFS()

	fss2, cwd2 := mountDisk(t, d, false)
	got := readFile(t, fss2, cwd2, "/a/b/c", 64)
	assert.Equal(t, []byte("hello"), got)
	st := &stat.Stat_t{}
	require.Equal(t, 0, int(fss2.Fs_stat(ustr.Ustr("/a/b/c"), st, cwd2)))
	assert.Equal(t, uint(5), st.Size())
	assert.Equal(t, defs.S_IFREG, st.Mode())
}

// pattern fills a deterministic, position-dependent byte sequence so a
// block copied to the wrong offset cannot compare equal.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/BSIZE)
	}
	return b
}

func TestWriteAcrossDirectIndirectBoundary(t *testing.T) {
	fss, cwd, _ := mkTestFs(t)
	// span the last direct block, the boundary, and a few indirect blocks,
	// at an unaligned length
	n := (NDIRECT+3)*BSIZE + 123
	data := pattern(n)
	writeFile(t, fss, cwd, "/big", data)

	got := readFile(t, fss, cwd, "/big", n+64)
	require.Equal(t, n, len(got))
	assert.True(t, bytes.Equal(data, got))
}

func TestLargeFileSurvivesRemount(t *testing.T) {
	d := mkMemdisk()
	formatDisk(d, 127, 200, 908)
	fss, cwd := mountDisk(t, d, true)

	n := 200 * 1024 // past the direct region; exercises chunked writes
	data := pattern(n)
	writeFile(t, fss, cwd, "/blob", data)
	got := readFile(t, fss, cwd, "/blob", n)
	require.True(t, bytes.Equal(data, got))
	fss.StopFS()

	fss2, cwd2 := mountDisk(t, d, false)
	got2 := readFile(t, fss2, cwd2, "/blob", n)
	require.Equal(t, n, len(got2))
	assert.True(t, bytes.Equal(data, got2))
}

func TestUnlinkResetsInode(t *testing.T) {
	fss, cwd, _ := mkTestFs(t)
	writeFile(t, fss, cwd, "/x", pattern(3*BSIZE))
	require.Equal(t, 0, int(fss.Fs_unlink(ustr.Ustr("/x"), cwd, false)))

	st := &stat.Stat_t{}
	assert.Equal(t, -defs.ENOENT, fss.Fs_stat(ustr.Ustr("/x"), st, cwd))

	// the slot may be reused, but never with stale size or contents
	writeFile(t, fss, cwd, "/x", nil)
	require.Equal(t, 0, int(fss.Fs_stat(ustr.Ustr("/x"), st, cwd)))
	assert.Equal(t, uint(0), st.Size())
}

func TestUnlinkDirSemantics(t *testing.T) {
	fss, cwd, _ := mkTestFs(t)
	require.Equal(t, 0, int(fss.Fs_mkdir(ustr.Ustr("/d"), 0755, cwd)))
	writeFile(t, fss, cwd, "/d/f", []byte("z"))

	assert.Equal(t, -defs.ENOTEMPTY, fss.Fs_unlink(ustr.Ustr("/d"), cwd, true))
	assert.Equal(t, -defs.EISDIR, fss.Fs_unlink(ustr.Ustr("/d"), cwd, false))

	require.Equal(t, 0, int(fss.Fs_unlink(ustr.Ustr("/d/f"), cwd, false)))
	assert.Equal(t, 0, int(fss.Fs_unlink(ustr.Ustr("/d"), cwd, true)))
}

func TestRenameMovesEntry(t *testing.T) {
	fss, cwd, _ := mkTestFs(t)
	writeFile(t, fss, cwd, "/old", []byte("v"))
	require.Equal(t, 0, int(fss.Fs_rename(ustr.Ustr("/old"), ustr.Ustr("/new"), cwd)))

	st := &stat.Stat_t{}
	assert.Equal(t, -defs.ENOENT, fss.Fs_stat(ustr.Ustr("/old"), st, cwd))
	assert.Equal(t, []byte("v"), readFile(t, fss, cwd, "/new", 8))
}

func TestOpenExclRefusesExisting(t *testing.T) {
	fss, cwd, _ := mkTestFs(t)
	writeFile(t, fss, cwd, "/once", nil)
	_, err := fss.Fs_open(ustr.Ustr("/once"), defs.O_CREAT|defs.O_EXCL, 0, cwd, 0, 0)
	assert.Equal(t, -defs.EEXIST, err)
}

func TestBallocHandsOutDataBlocks(t *testing.T) {
	fss, _, _ := mkTestFs(t)
	fss.log.begin_op()
	bn, err := fss.balloc.balloc()
	require.Equal(t, 0, int(err))
	assert.GreaterOrEqual(t, bn, fss.layout.dataStart)

	fss.balloc.bfree(bn)
	bn2, err := fss.balloc.balloc()
	require.Equal(t, 0, int(err))
	// first-fit scan must find the freed bit again
	assert.Equal(t, bn, bn2)
	fss.balloc.bfree(bn2)
	fss.log.end_op()
}

func TestCommitClearsHeaderOnDisk(t *testing.T) {
	fss, cwd, d := mkTestFs(t)
	require.Equal(t, 0, int(fss.Fs_mkdir(ustr.Ustr("/sub"), 0755, cwd)))

	hdr := d.raw(fss.layout.logStart)
	assert.Equal(t, 0, util.Readn(hdr[:], 8, 0))
}

func TestOpInvisibleBeforeCommitDurableAfter(t *testing.T) {
	fss, _, d := mkTestFs(t)
	target := fss.layout.dataStart + 50

	fss.log.begin_op()
	b := fss.log.cache.get(target, "test", true)
	copy(b.Data[:8], "NEWSTATE")
	fss.log.write_log(b)
	b.Done("test")

	// a crash now must not show the write: nothing reached the home
	// location before commit
	crashed := d.snapshot()
	assert.NotEqual(t, []byte("NEWSTATE"), crashed.raw(target)[:8])

	fss.log.end_op()
	assert.Equal(t, []byte("NEWSTATE"), []byte(d.raw(target)[:8]))
}

func TestRecoverReplaysCommittedLog(t *testing.T) {
	d := mkMemdisk()
	formatDisk(d, 127, 200, 908)
	{
		fss, _ := mountDisk(t, d, true)
		fss.StopFS()
	}

	// Craft the disk a crash between commit point and apply would leave:
	// the home block still holds old bytes, the log slot holds the new
	// ones, and the committed header names the home block.
	sb := &Superblock_t{Data: d.raw(superBlockNo)}
	logStart := sb.Logstart()
	target := sb.Bitmapstart() + (sb.Numblocks()+BIT_PER_BLOCK-1)/BIT_PER_BLOCK + 9

	oldpg := &mem.Bytepg_t{}
	copy(oldpg[:], "OLDSTATE")
	d.setraw(target, oldpg)

	newpg := &mem.Bytepg_t{}
	copy(newpg[:], "NEWSTATE")
	d.setraw(logStart+1, newpg)

	hdr := &mem.Bytepg_t{}
	util.Writen(hdr[:], 8, 0, 1)
	util.Writen(hdr[:], 8, 8, target)
	d.setraw(logStart, hdr)

	fss, _ := mountDisk(t, d, false)
	_ = fss

	assert.Equal(t, []byte("NEWSTATE"), []byte(d.raw(target)[:8]))
	assert.Equal(t, 0, util.Readn(d.raw(logStart)[:], 8, 0))
}

func TestRecoverIdempotent(t *testing.T) {
	d := mkMemdisk()
	formatDisk(d, 127, 200, 908)
	fss, cwd := mountDisk(t, d, true)
	writeFile(t, fss, cwd, "/f", []byte("stable"))
	fss.StopFS()

	// Recovery of an empty log must change nothing, however many times a
	// flaky machine reboots.
	for i := 0; i < 3; i++ {
		fss2, cwd2 := mountDisk(t, d, false)
		assert.Equal(t, []byte("stable"), readFile(t, fss2, cwd2, "/f", 16))
		fss2.StopFS()
	}
}

func TestPinnedBlocksAppearInLogHeader(t *testing.T) {
	fss, _, _ := mkTestFs(t)
	target := fss.layout.dataStart + 77

	fss.log.begin_op()
	b := fss.log.cache.get(target, "test", true)
	fss.log.write_log(b)

	// invariant: a pinned block's number is in the live header
	fss.log.mu.Lock()
	found := false
	for i := 0; i < fss.log.hdr.numBlocks; i++ {
		if fss.log.hdr.blockNo[i] == target {
			found = true
		}
	}
	fss.log.mu.Unlock()
	assert.True(t, found)
	assert.True(t, b.Ref.pinned)

	b.Done("test")
	fss.log.end_op()
	assert.False(t, b.Ref.pinned)
}
