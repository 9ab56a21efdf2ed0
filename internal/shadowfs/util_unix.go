package shadowfs

import (
	"syscall"
	"time"
)

// lutimes sets atime/mtime on path without following a trailing
// symlink, mirroring lutimes(3) since os.Chtimes always follows links.
func lutimes(path string, atime, mtime time.Time) error {
	ts := []syscall.Timespec{
		syscall.NsecToTimespec(atime.UnixNano()),
		syscall.NsecToTimespec(mtime.UnixNano()),
	}
	return syscall.UtimesNanoAt(unixAtFdcwd, path, ts, unixSymlinkNofollow)
}

const (
	unixAtFdcwd         = syscall.AT_FDCWD
	unixSymlinkNofollow = syscall.AT_SYMLINK_NOFOLLOW
)
