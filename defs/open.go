package defs

/// Open-flag bits accepted by Fs_open. Access mode is the low two bits,
/// matching POSIX O_RDONLY/O_WRONLY/O_RDWR numbering; the rest are
/// independent flags.
const (
	O_RDONLY int = 0
	O_WRONLY int = 1
	O_RDWR   int = 2
	O_ACCMODE int = 0x3

	O_CREAT  int = 0x40
	O_EXCL   int = 0x80
	O_TRUNC  int = 0x200
	O_APPEND int = 0x400
	O_DIRECTORY int = 0x10000
)

/// Lseek whence values.
const (
	SEEK_SET int = 0
	SEEK_CUR int = 1
	SEEK_END int = 2
)

/// File-mode type bits, as returned in Stat_t.Mode's high bits.
const (
	S_IFREG  uint = 0x8000
	S_IFDIR  uint = 0x4000
	S_IFCHR  uint = 0x2000
	S_IFIFO  uint = 0x1000
	S_IFMT   uint = 0xf000
)
