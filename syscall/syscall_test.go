package syscall

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nyxkern/defs"
	"nyxkern/fd"
	"nyxkern/fs"
	"nyxkern/mem"
	"nyxkern/proc"
	"nyxkern/ufs"
	"nyxkern/vm"
)

func init() {
	if !mem.Physmem.Inited {
		mem.Phys_init(8192)
	}
}

// memblock_t hands out plain Go-allocated pages for the block cache, the
// same glue ufs.driver.go uses in its own tests/mkfs path.
type memblock_t struct{}

func (memblock_t) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) { return mem.Pa_t(0), &mem.Bytepg_t{}, true }
func (memblock_t) Free(mem.Pa_t)                          {}
func (memblock_t) Refup(mem.Pa_t)                         {}

// filedisk_t backs the block device with a scratch file on the host, the
// same approach ufs.ahci_disk_t takes, so StartFS sees a real Disk_i
// without a live kernel needing an actual AHCI controller.
type filedisk_t struct {
	sync.Mutex
	f *os.File
}

func (d *filedisk_t) Start(req *fs.Bdev_req_t) bool {
	d.Lock()
	defer d.Unlock()
	switch req.Cmd {
	case fs.BDEV_READ:
		blk := req.Blks.FrontBlock()
		d.seek(blk.Block)
		buf := make([]byte, fs.BSIZE)
		if _, err := d.f.Read(buf); err != nil {
			panic(err)
		}
		blk.Data = &mem.Bytepg_t{}
		for i := range buf {
			blk.Data[i] = uint8(buf[i])
		}
	case fs.BDEV_WRITE:
		for b := req.Blks.FrontBlock(); b != nil; b = req.Blks.NextBlock() {
			d.seek(b.Block)
			buf := make([]byte, fs.BSIZE)
			for i := range buf {
				buf[i] = byte(b.Data[i])
			}
			if _, err := d.f.Write(buf); err != nil {
				panic(err)
			}
		}
	case fs.BDEV_FLUSH:
		d.f.Sync()
	}
	return false
}

func (d *filedisk_t) Stats() string { return "" }

func (d *filedisk_t) seek(blk int) {
	if _, err := d.f.Seek(int64(blk)*int64(fs.BSIZE), 0); err != nil {
		panic(err)
	}
}

// mkTestFs formats and mounts a scratch filesystem image backed by a
// temp file, returning the mounted Fs_t and its root cwd.
func mkTestFs(t *testing.T) (*fs.Fs_t, *fd.Cwd_t) {
	t.Helper()
	tmp, err := os.CreateTemp("", "nyxkern-fs-*.img")
	require.NoError(t, err)
	path := tmp.Name()
	tmp.Close()
	t.Cleanup(func() { os.Remove(path) })

	// ufs.MkDisk lays out a ready-to-mount image; building one by hand
	// here would just re-derive its fixed-point bitmap sizing.
	mkDiskImage(t, path)

	f, oerr := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, oerr)
	t.Cleanup(func() { f.Close() })

	disk := &filedisk_t{f: f}
	_, fss := fs.StartFS(memblock_t{}, disk, fd.NewConsole(), true)
	t.Cleanup(func() { fss.StopFS() })

	rootfops, rerr := fss.Fs_rootfops()
	require.Equal(t, 0, int(rerr))
	cwd := fd.MkRootCwd(&fd.Fd_t{Fops: rootfops, Perms: fd.FD_READ | fd.FD_WRITE})
	return fss, cwd
}

func mkTestProc(t *testing.T, fss *fs.Fs_t, cwd *fd.Cwd_t) (*proc.Proc_t, *Sys_t) {
	t.Helper()
	p, err := proc.InitProc(0)
	require.Equal(t, 0, int(err))
	p.Cwd = cwd
	return p, &Sys_t{Fs: fss, Cpu: 0}
}

// putPath writes s null-terminated into p's address space at a fixed
// scratch offset within its stack-free low region and returns its va.
func putPath(t *testing.T, p *proc.Proc_t, s string) int {
	t.Helper()
	const scratch = int(0x1000 * 16)
	p.AS.Vmadd_anon(scratch, mem.PGSIZE, mem.Pa_t(vm.PTE_U|vm.PTE_W))
	b := append([]uint8(s), 0)
	err := p.AS.K2user(0, b, scratch)
	require.Equal(t, 0, int(err))
	return scratch
}

func TestSysOpenWriteReadClose(t *testing.T) {
	fss, cwd := mkTestFs(t)
	p, s := mkTestProc(t, fss, cwd)

	pathva := putPath(t, p, "/hello")
	fdn, err := s.Openat(p, AT_FDCWD, pathva, defs.O_CREAT|defs.O_RDWR, 0644)
	require.Equal(t, 0, int(err))

	const databuf = int(0x1000 * 17)
	p.AS.Vmadd_anon(databuf, mem.PGSIZE, mem.Pa_t(vm.PTE_U|vm.PTE_W))
	msg := []uint8("hi there")
	require.Equal(t, 0, int(p.AS.K2user(0, msg, databuf)))

	n, werr := s.Write(p, fdn, databuf, len(msg))
	require.Equal(t, 0, int(werr))
	assert.Equal(t, len(msg), n)

	require.Equal(t, 0, int(s.Close(p, fdn)))

	fdn2, err := s.Openat(p, AT_FDCWD, pathva, defs.O_RDONLY, 0)
	require.Equal(t, 0, int(err))

	const readbuf = int(0x1000 * 18)
	p.AS.Vmadd_anon(readbuf, mem.PGSIZE, mem.Pa_t(vm.PTE_U|vm.PTE_W))
	rn, rerr := s.Read(p, fdn2, readbuf, len(msg))
	require.Equal(t, 0, int(rerr))
	assert.Equal(t, len(msg), rn)

	got, gerr := p.AS.Userstr(0, readbuf, len(msg)+8)
	require.Equal(t, 0, int(gerr))
	assert.Equal(t, msg, []uint8(got))
}

func TestSysMkdiratAndChdir(t *testing.T) {
	fss, cwd := mkTestFs(t)
	p, s := mkTestProc(t, fss, cwd)

	pathva := putPath(t, p, "/sub")
	require.Equal(t, 0, int(s.Mkdirat(p, AT_FDCWD, pathva, 0755)))
	require.Equal(t, 0, int(s.Chdir(p, pathva)))
}

func TestSysPipe2(t *testing.T) {
	fss, cwd := mkTestFs(t)
	p, s := mkTestProc(t, fss, cwd)

	rfd, wfd, err := s.Pipe2(p)
	require.Equal(t, 0, int(err))
	assert.NotEqual(t, rfd, wfd)
}

func TestSysUnlinkat(t *testing.T) {
	fss, cwd := mkTestFs(t)
	p, s := mkTestProc(t, fss, cwd)

	pathva := putPath(t, p, "/doomed")
	fdn, err := s.Openat(p, AT_FDCWD, pathva, defs.O_CREAT, 0644)
	require.Equal(t, 0, int(err))
	require.Equal(t, 0, int(s.Close(p, fdn)))

	require.Equal(t, 0, int(s.Unlinkat(p, AT_FDCWD, pathva, 0)))

	_, err = s.Openat(p, AT_FDCWD, pathva, defs.O_RDONLY, 0)
	assert.NotEqual(t, 0, int(err))
}

func TestSysIoctlTCGETS(t *testing.T) {
	fss, cwd := mkTestFs(t)
	p, s := mkTestProc(t, fss, cwd)

	pathva := putPath(t, p, "/f")
	fdn, err := s.Openat(p, AT_FDCWD, pathva, defs.O_CREAT, 0644)
	require.Equal(t, 0, int(err))

	n, ierr := s.Ioctl(p, fdn, TCGETS)
	require.Equal(t, 0, int(ierr))
	assert.Equal(t, 0, n)

	_, ierr = s.Ioctl(p, fdn, 0xdead)
	assert.Equal(t, -defs.ENOSYS, ierr)
}

func TestDispatchWriteAndClose(t *testing.T) {
	fss, cwd := mkTestFs(t)
	p, s := mkTestProc(t, fss, cwd)

	pathva := putPath(t, p, "/dispatched")
	fdn := s.Dispatch(p, SYS_OPENAT, AT_FDCWD, pathva, defs.O_CREAT|defs.O_RDWR, 0644, 0, 0)
	require.True(t, fdn >= 0)

	const databuf = int(0x1000 * 20)
	p.AS.Vmadd_anon(databuf, mem.PGSIZE, mem.Pa_t(vm.PTE_U|vm.PTE_W))
	msg := []uint8("dispatch me")
	require.Equal(t, 0, int(p.AS.K2user(0, msg, databuf)))

	n := s.Dispatch(p, SYS_WRITE, fdn, databuf, len(msg), 0, 0, 0)
	assert.Equal(t, len(msg), n)

	rc := s.Dispatch(p, SYS_CLOSE, fdn, 0, 0, 0, 0, 0)
	assert.Equal(t, 0, rc)
}

func mkDiskImage(t *testing.T, path string) {
	t.Helper()
	ufs.MkDisk(path, nil, 256, 64, 2000)
}
