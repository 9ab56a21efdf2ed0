// Package dirwalk implements the DirHandle cursor spec.md's directory
// callbacks use: a snapshot of a backing directory's entries plus the
// offset bookkeeping readdir needs to resume correctly after a seek.
// It is kept standalone, independent of bazil.org/fuse, so its
// reseek-on-mismatch behavior is unit-testable without a live mount.
package dirwalk

import (
	"os"
	"sort"

	"shadowfs.io/errors"
)

// Entry is one directory entry: enough for a readdir reply. Mode is the
// full os.FileMode that os.File.Readdir reports for the entry.
type Entry struct {
	Name  string
	Inode uint64
	Mode  os.FileMode
}

// Cursor is a DirHandle: an open directory's entries, read once at
// opendir time, plus the offset of the last entry returned. It exists
// only between opendir and releasedir; it is never encrypted.
type Cursor struct {
	entries    []Entry
	lastOffset uint64
}

// Open reads the full contents of path and returns a Cursor over it.
// Entries are sorted by name for a stable, deterministic readdir order
// across calls (the backing directory read order isn't guaranteed
// stable between opens).
func Open(path string) (*Cursor, error) {
	const op = "dirwalk.Open"
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(op, path, err)
	}
	defer f.Close()

	infos, err := f.Readdir(-1)
	if err != nil {
		return nil, errors.E(op, path, err)
	}
	entries := make([]Entry, len(infos))
	for i, info := range infos {
		entries[i] = Entry{
			Name:  info.Name(),
			Inode: inodeOf(info),
			Mode:  info.Mode(),
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return &Cursor{entries: entries}, nil
}

// Next returns up to max entries starting at offset. It always indexes
// directly into the snapshot, so an offset that differs from where the
// previous call ended reseeks to that offset, and an offset equal to it
// continues from where it left off. It returns the entries and the
// offset to resume from on the next call.
func (c *Cursor) Next(offset uint64, max int) ([]Entry, uint64) {
	if offset > uint64(len(c.entries)) {
		offset = uint64(len(c.entries))
	}
	end := offset + uint64(max)
	if end > uint64(len(c.entries)) {
		end = uint64(len(c.entries))
	}
	out := c.entries[offset:end]
	c.lastOffset = end
	return out, end
}

// Close releases the cursor. The snapshot is held in memory only, so
// there is nothing to release beyond letting it be garbage collected;
// Close exists so callers have a symmetric releasedir hook.
func (c *Cursor) Close() {
	c.entries = nil
}
