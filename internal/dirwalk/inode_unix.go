// +build !windows

package dirwalk

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number from a directory entry's os.FileInfo,
// falling back to 0 (the kernel treats that as "don't care") if the
// underlying Sys() value isn't a *syscall.Stat_t.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
