// Package shadowfs implements the VFS Callback Layer: the bazil.org/fuse
// fs.FS/fs.Node/fs.Handle bindings that combine the Path Translator, the
// Crypto Gateway, and the File-Pair Manager into the transparently
// encrypting mount.
package shadowfs

import (
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	gContext "golang.org/x/net/context"

	"shadowfs.io/internal/cryptogw"
	"shadowfs.io/internal/fsstate"
)

// FS is the mounted filesystem. Apart from the node registry, it is
// immutable after construction: state is read-only (spec.md §5) and
// gateway only acquires keys, never caching per-file state itself.
type FS struct {
	state   *fsstate.State
	gateway *cryptogw.Gateway

	mu    sync.Mutex
	nodes map[string]*Node // keyed by virtual path; one Node per path
}

var _ fs.FS = (*FS)(nil)
var _ fs.FSStatfser = (*FS)(nil)

// New returns an FS rooted at state.BackingRoot, using gateway to
// encrypt and decrypt regular-file contents.
func New(state *fsstate.State, gateway *cryptogw.Gateway) *FS {
	return &FS{state: state, gateway: gateway, nodes: make(map[string]*Node)}
}

// nodeFor returns the single Node representing virtual, allocating it
// on first reference. Handing out the same Node for a given path every
// time lets Fsync find every Handle open against it: a fresh Node per
// Lookup would reset the handles set each time and make Fsync a no-op.
func (f *FS) nodeFor(virtual string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[virtual]; ok {
		return n
	}
	n := &Node{fs: f, virtual: virtual, handles: make(map[*Handle]bool)}
	f.nodes[virtual] = n
	return n
}

// forget drops the node for virtual from the registry. Called on
// Remove/Rename so a later Lookup for the same path doesn't resurrect a
// stale handle set for an unrelated file created afterward at that path.
func (f *FS) forget(virtual string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, virtual)
}

// Root implements fs.FS.
func (f *FS) Root() (fs.Node, error) {
	return f.nodeFor("/"), nil
}

// Statfs implements fs.FSStatfser by passing through to the backing
// root's statfs(2), so free space and block-size reporting reflects the
// real underlying filesystem.
func (f *FS) Statfs(ctx gContext.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(f.state.BackingRoot, &st); err != nil {
		return e2e(err)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = uint32(st.Bsize)
	resp.Namelen = uint32(st.Namelen)
	resp.Frsize = uint32(st.Bsize)
	return nil
}
