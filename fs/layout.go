package fs

// layout_t is the on-disk block layout derived from the superblock: the
// log region (header plus slot blocks), the inode table, and the
// free-space bitmap, each immediately following the one before it, with
// the data region filling the rest of the device. Only the three region
// starts are recorded in the superblock; the lengths follow from the
// counts.
type layout_t struct {
	logStart    int // log header block; slots are logStart+1..logStart+logLen
	logLen      int
	inodeStart  int
	inodeLen    int
	bitmapStart int
	bitmapLen   int
	dataStart   int
	last        int
}

func computeLayout(sb *Superblock_t) layout_t {
	var l layout_t
	l.logStart = sb.Logstart()
	l.logLen = sb.Numlogblocks()
	l.inodeStart = sb.Inodestart()
	l.inodeLen = (sb.Numinodes() + INODE_PER_BLOCK - 1) / INODE_PER_BLOCK
	l.bitmapStart = sb.Bitmapstart()
	l.bitmapLen = (sb.Numblocks() + BIT_PER_BLOCK - 1) / BIT_PER_BLOCK
	l.dataStart = l.bitmapStart + l.bitmapLen
	l.last = sb.Numblocks() - 1
	return l
}
