// Package bounds maps call sites that loop over unbounded user- or
// disk-controlled input to the worst-case kernel resource (heap pages,
// inode cache slots, log slots) a single iteration of that loop can
// consume. Pairing a call site with a Bounds constant lets res's
// admission control (res.Resadd_noblock) refuse to start an iteration it
// cannot guarantee to finish, instead of discovering OOM mid-copy.
package bounds

// Bound_t identifies a call site registered with the admission ledger.
type Bound_t int

const (
	B_ASPACE_T_K2USER_INNER Bound_t = iota
	B_ASPACE_T_USER2K_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_FS_T_FS_OPEN
	B_FS_T_FS_MKDIR
	B_FS_T_FS_UNLINK
	B_FS_T_FS_RENAME
	B_FS_FILE_T_READ
	B_FS_FILE_T_WRITE
	B_FS_DIR_T_INSERT
	B_FS_DIR_T_REMOVE
	B_LOG_T_BEGIN_OP
	B_PIPE_T_WRITE
	B_PIPE_T_READ
	B_SYSCALL_EXEC
	numBounds
)

// perCallCost is the number of pages (or page-equivalent units) a single
// loop iteration at a given call site is allowed to consume before
// the resource ledger must be consulted again.
var perCallCost = [numBounds]int{
	B_ASPACE_T_K2USER_INNER: 1,
	B_ASPACE_T_USER2K_INNER: 1,
	B_USERBUF_T__TX:         1,
	B_USERIOVEC_T_IOV_INIT:  1,
	B_USERIOVEC_T__TX:       1,
	B_FS_T_FS_OPEN:          2,
	B_FS_T_FS_MKDIR:         2,
	B_FS_T_FS_UNLINK:        2,
	B_FS_T_FS_RENAME:        3,
	B_FS_FILE_T_READ:        1,
	B_FS_FILE_T_WRITE:       2,
	B_FS_DIR_T_INSERT:       2,
	B_FS_DIR_T_REMOVE:       2,
	B_LOG_T_BEGIN_OP:        1,
	B_PIPE_T_WRITE:          1,
	B_PIPE_T_READ:           1,
	B_SYSCALL_EXEC:          4,
}

// Bounds returns the page-equivalent cost registered for the given call
// site, for use with res.Resadd_noblock.
func Bounds(b Bound_t) int {
	return perCallCost[b]
}
