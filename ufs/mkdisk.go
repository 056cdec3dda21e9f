package ufs

import (
	"os"

	"nyxkern/fs"
	"nyxkern/mem"
)

// MkDisk formats a fresh disk image at path image: a reserved boot
// block, the superblock, an empty log region, an all-unallocated inode
// table big enough for ninodes inodes, a free-space bitmap covering the
// whole device, and ndatablks worth of zeroed data blocks. inputs (the
// bootloader and kernel images in the original tool's calling
// convention) are not modeled by this host simulation -- there is no
// boot sector to assemble -- and are accepted only so mkfs's command
// line stays familiar.
func MkDisk(image string, inputs []string, nlogblks, ninodes, ndatablks int) {
	f, err := os.Create(image)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	const logStart = 2 // boot block, superblock, then the log header
	inodeStart := logStart + 1 + nlogblks
	inodeLen := (ninodes + fs.INODE_PER_BLOCK - 1) / fs.INODE_PER_BLOCK

	// The free bitmap must describe every block on the device,
	// including its own blocks and everything before it, so its size
	// depends on the total block count, which depends on its size.
	// The counts involved here are small relative to BIT_PER_BLOCK
	// (32768), so a handful of fixed-point iterations always converges.
	bitmapStart := inodeStart + inodeLen
	bitmapLen := 1
	var total int
	for i := 0; i < 8; i++ {
		total = bitmapStart + bitmapLen + ndatablks
		need := (total + fs.BIT_PER_BLOCK - 1) / fs.BIT_PER_BLOCK
		if need == bitmapLen {
			break
		}
		bitmapLen = need
	}
	dataStart := bitmapStart + bitmapLen

	sb := &fs.Superblock_t{Data: &mem.Bytepg_t{}}
	sb.SetNumblocks(total)
	sb.SetNumdatablocks(ndatablks)
	sb.SetNuminodes(ninodes)
	sb.SetNumlogblocks(nlogblks)
	sb.SetLogstart(logStart)
	sb.SetInodestart(inodeStart)
	sb.SetBitmapstart(bitmapStart)

	zero := &mem.Bytepg_t{}
	writeBlock(f, 0, zero) // reserved boot record
	writeBlock(f, 1, sb.Data)
	writeBlock(f, logStart, zero) // empty log header: zero outstanding blocks

	for b := 0; b < inodeLen; b++ {
		writeBlock(f, inodeStart+b, zero) // every inode slot starts I_INVALID
	}

	// Bit i of the bitmap is device block i; everything before the data
	// region starts out allocated so balloc can only hand out data
	// blocks.
	for b := 0; b < bitmapLen; b++ {
		bm := &mem.Bytepg_t{}
		base := b * fs.BIT_PER_BLOCK
		for i := 0; i < fs.BIT_PER_BLOCK; i++ {
			bn := base + i
			if bn >= total {
				break
			}
			if bn < dataStart {
				bm[i/8] |= 1 << uint(i&7)
			}
		}
		writeBlock(f, bitmapStart+b, bm)
	}

	for b := 0; b < ndatablks; b++ {
		writeBlock(f, dataStart+b, zero)
	}

	_ = inputs
}

func writeBlock(f *os.File, bn int, d *mem.Bytepg_t) {
	if _, err := f.Seek(int64(bn)*int64(fs.BSIZE), 0); err != nil {
		panic(err)
	}
	buf := make([]byte, fs.BSIZE)
	for i := range buf {
		buf[i] = byte(d[i])
	}
	if _, err := f.Write(buf); err != nil {
		panic(err)
	}
}
