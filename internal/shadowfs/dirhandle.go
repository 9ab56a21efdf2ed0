package shadowfs

import (
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	gContext "golang.org/x/net/context"

	"shadowfs.io/internal/dirwalk"
)

// dirHandle is the Handle bound to an open directory: a dirwalk.Cursor
// snapshot taken at opendir time and released at releasedir. Directory
// contents are never encrypted, so there is no FilePair involved.
type dirHandle struct {
	cursor *dirwalk.Cursor
}

var _ fs.HandleReadDirAller = (*dirHandle)(nil)
var _ fs.HandleReleaser = (*dirHandle)(nil)

func dirOpen(backing string) (*dirwalk.Cursor, error) {
	return dirwalk.Open(backing)
}

// ReadDirAll implements fs.HandleReadDirAller. bazil.org/fuse has no
// offset-resuming readdir callback of its own — the kernel's paging is
// handled above this layer — so the whole cursor snapshot is drained in
// one call via Cursor.Next.
func (h *dirHandle) ReadDirAll(ctx gContext.Context) ([]fuse.Dirent, error) {
	entries, _ := h.cursor.Next(0, allEntries)
	out := make([]fuse.Dirent, len(entries))
	for i, e := range entries {
		out[i] = fuse.Dirent{
			Inode: e.Inode,
			Type:  directoryEntryType(e.Mode),
			Name:  e.Name,
		}
	}
	return out, nil
}

// Release implements fs.HandleReleaser.
func (h *dirHandle) Release(ctx gContext.Context, req *fuse.ReleaseRequest) error {
	h.cursor.Close()
	return nil
}

// allEntries is passed to Cursor.Next to mean "no limit": directory
// listings are held entirely in memory already, so there is no benefit
// to paging them out in smaller batches here.
const allEntries = int(^uint(0) >> 1)

func directoryEntryType(mode os.FileMode) fuse.DirentType {
	switch {
	case mode&os.ModeDir != 0:
		return fuse.DT_Dir
	case mode&os.ModeSymlink != 0:
		return fuse.DT_Link
	case mode&os.ModeSocket != 0:
		return fuse.DT_Socket
	case mode&os.ModeNamedPipe != 0:
		return fuse.DT_FIFO
	case mode&os.ModeDevice != 0:
		if mode&os.ModeCharDevice != 0 {
			return fuse.DT_Char
		}
		return fuse.DT_Block
	case mode.IsRegular():
		return fuse.DT_File
	default:
		return fuse.DT_Unknown
	}
}
