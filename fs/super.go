package fs

import (
	"nyxkern/mem"
	"nyxkern/util"
)

// superBlockNo is where the superblock lives: the block right after the
// reserved boot record, i.e. partition-relative LBA 1.
const superBlockNo = 1

// fieldr/fieldw read and write the superblock's fixed-width integer
// fields, each 8 bytes wide and packed in declaration order starting at
// byte 0 of the superblock page.
func fieldr(data *mem.Bytepg_t, idx int) int {
	return util.Readn(data[:], 8, idx*8)
}

func fieldw(data *mem.Bytepg_t, idx int, val int) {
	util.Writen(data[:], 8, idx*8, val)
}

// Superblock_t is the read-only description of the disk's layout:
// [boot record][superblock][log header][log slots][inode blocks]
// [bitmap blocks][data blocks]. mkdisk writes it once at format time;
// the kernel never modifies it.
type Superblock_t struct {
	Data *mem.Bytepg_t
}

// Numblocks returns the total number of blocks on the device.
func (sb *Superblock_t) Numblocks() int {
	return fieldr(sb.Data, 0)
}

// Numdatablocks returns how many blocks the data region holds.
func (sb *Superblock_t) Numdatablocks() int {
	return fieldr(sb.Data, 1)
}

// Numinodes returns how many inode slots the inode region holds.
func (sb *Superblock_t) Numinodes() int {
	return fieldr(sb.Data, 2)
}

// Numlogblocks returns the number of log slot blocks, not counting the
// log header itself.
func (sb *Superblock_t) Numlogblocks() int {
	return fieldr(sb.Data, 3)
}

// Logstart returns the block number of the log header; the log's slot
// blocks follow it contiguously.
func (sb *Superblock_t) Logstart() int {
	return fieldr(sb.Data, 4)
}

// Inodestart returns the first block of the inode region.
func (sb *Superblock_t) Inodestart() int {
	return fieldr(sb.Data, 5)
}

// Bitmapstart returns the first block of the free-space bitmap.
func (sb *Superblock_t) Bitmapstart() int {
	return fieldr(sb.Data, 6)
}

// writing, used only by mkdisk at format time

// SetNumblocks records the total device size in blocks.
func (sb *Superblock_t) SetNumblocks(n int) {
	fieldw(sb.Data, 0, n)
}

// SetNumdatablocks records the data region's size in blocks.
func (sb *Superblock_t) SetNumdatablocks(n int) {
	fieldw(sb.Data, 1, n)
}

// SetNuminodes records the number of inode slots.
func (sb *Superblock_t) SetNuminodes(n int) {
	fieldw(sb.Data, 2, n)
}

// SetNumlogblocks records the number of log slot blocks.
func (sb *Superblock_t) SetNumlogblocks(n int) {
	fieldw(sb.Data, 3, n)
}

// SetLogstart records the log header's block number.
func (sb *Superblock_t) SetLogstart(n int) {
	fieldw(sb.Data, 4, n)
}

// SetInodestart records the inode region's first block.
func (sb *Superblock_t) SetInodestart(n int) {
	fieldw(sb.Data, 5, n)
}

// SetBitmapstart records the bitmap region's first block.
func (sb *Superblock_t) SetBitmapstart(n int) {
	fieldw(sb.Data, 6, n)
}
