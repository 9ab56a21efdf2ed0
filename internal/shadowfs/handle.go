package shadowfs

import (
	"io"
	"os"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	gContext "golang.org/x/net/context"

	"shadowfs.io/internal/cryptogw"
	"shadowfs.io/internal/filepair"
	"shadowfs.io/log"
)

// Handle is the fs.Handle bound to an open regular file: one FilePair
// per open session, exactly as spec.md §3's open_info entity describes.
// All operations on the pair are serialized by mu, matching the
// single-writer-per-handle assumption spec.md's Non-goals state
// explicitly.
type Handle struct {
	node *Node
	pair *filepair.Pair

	mu sync.Mutex
}

var (
	_ fs.HandleReader      = (*Handle)(nil)
	_ fs.HandleWriter      = (*Handle)(nil)
	_ fs.HandleFlusher     = (*Handle)(nil)
	_ fs.HandleReleaser    = (*Handle)(nil)
	_ fs.HandlePOSIXLocker = (*Handle)(nil)
	_ fs.HandleFlockLocker = (*Handle)(nil)
)

// Read implements fs.HandleReader: a positional read against the
// plaintext handle, which DecryptIntoPlain filled at open and which this
// session's writes and truncates update in place.
func (h *Handle) Read(ctx gContext.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := make([]byte, req.Size)
	n, err := h.pair.Plain.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return e2e(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements fs.HandleWriter: a positional write against the
// plaintext handle. No re-encryption happens here — writes are cheap,
// persistence happens at flush/fsync/release, per spec.md §4.4.
func (h *Handle) Write(ctx gContext.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.pair.Plain.WriteAt(req.Data, req.Offset)
	if err != nil {
		return e2e(err)
	}
	h.pair.Dirty = true
	resp.Size = n
	return nil
}

// truncate implements the in-session ftruncate(2) case: it resizes the
// session's own plaintext directly and marks the pair dirty, exactly as
// Write does, so the new length is observable by this session's own
// reads immediately and persisted at the next flush/fsync/release.
func (h *Handle) truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.pair.Plain.Truncate(size); err != nil {
		return err
	}
	h.pair.Dirty = true
	return nil
}

// Flush implements fs.HandleFlusher: called on every close(2) of the
// descriptor (possibly more than once per session, via dup'd fds), so
// it only re-encrypts when the pair is actually dirty.
func (h *Handle) Flush(ctx gContext.Context, req *fuse.FlushRequest) error {
	if err := h.sync(h.node.fs.gateway); err != nil {
		return e2e(err)
	}
	return nil
}

// sync re-encrypts the pair if dirty. Shared by Flush and fsync so both
// honor the same "only transform when dirty" rule from spec.md's
// dirty-flag invariant.
func (h *Handle) sync(gw *cryptogw.Gateway) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.pair.Dirty {
		return nil
	}
	return filepair.EncryptFromPlain(h.pair, gw)
}

// fsync re-encrypts the pair if dirty, then syncs the ciphertext handle
// to stable storage, per spec.md §4.4's "fsync: if dirty, encrypt_from_
// plain, then fsync the ciphertext handle" rule.
func (h *Handle) fsync(gw *cryptogw.Gateway) error {
	if err := h.sync(gw); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pair.Enc.Sync()
}

// Release implements fs.HandleReleaser. A session's changes must be
// durable once release completes even if the kernel never routed a
// separate flush/fsync to this handle, per spec.md §8 invariant 4, so
// release re-encrypts a dirty pair itself before tearing it down and
// unlinking its scratch file.
func (h *Handle) Release(ctx gContext.Context, req *fuse.ReleaseRequest) error {
	syncErr := h.sync(h.node.fs.gateway)

	h.mu.Lock()
	path := h.pair.PlainPath
	closeErr := filepair.Close(h.pair)
	h.mu.Unlock()

	h.node.unregisterHandle(h)
	removeScratch(path)
	if syncErr != nil {
		return e2e(syncErr)
	}
	if closeErr != nil {
		return e2e(closeErr)
	}
	return nil
}

// removeScratch unlinks the scratch file belonging to a released pair.
// Failure is logged, not propagated: release has already torn the pair
// down and the kernel is not waiting on this cleanup to proceed.
func removeScratch(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Error.Printf("removing scratch file %s: %v", path, err)
	}
}

// lockEOF is the FileLock.End sentinel meaning "to the end of the file",
// mirrored onto a zero fcntl(2) length the same way the kernel's own
// fuse_file_lock encodes an open-ended range.
const lockEOF = ^uint64(0)

// fd returns the plaintext handle's file descriptor.
func (h *Handle) fd() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.pair.Plain.Fd())
}

func toFlockT(fl fuse.FileLock) *syscall.Flock_t {
	flk := &syscall.Flock_t{
		Type:  int16(fl.Type),
		Start: int64(fl.Start),
		Pid:   fl.PID,
	}
	if fl.End != lockEOF {
		flk.Len = int64(fl.End-fl.Start) + 1
	}
	return flk
}

func fromFlockT(flk syscall.Flock_t) fuse.FileLock {
	fl := fuse.FileLock{
		Start: uint64(flk.Start),
		Type:  int32(flk.Type),
		PID:   flk.Pid,
	}
	if flk.Len == 0 {
		fl.End = lockEOF
	} else {
		fl.End = fl.Start + uint64(flk.Len) - 1
	}
	return fl
}

// Lock implements fs.HandlePOSIXLocker's non-blocking fcntl(2) lock
// (F_SETLK) on the plaintext handle's descriptor. The lock is a classic
// record lock owned by the shadowfs process: req.LockOwner is not
// consulted, so ranges locked through different lock owners on this
// mount do not conflict with one another, and a conflict is reported
// only against locks that other processes hold on the scratch file.
func (h *Handle) Lock(ctx gContext.Context, req *fuse.LockRequest) error {
	if err := syscall.FcntlFlock(uintptr(h.fd()), syscall.F_SETLK, toFlockT(req.Lock)); err != nil {
		return e2e(err)
	}
	return nil
}

// LockWait implements fs.HandlePOSIXLocker's blocking variant (F_SETLKW).
func (h *Handle) LockWait(ctx gContext.Context, req *fuse.LockWaitRequest) error {
	if err := syscall.FcntlFlock(uintptr(h.fd()), syscall.F_SETLKW, toFlockT(req.Lock)); err != nil {
		return e2e(err)
	}
	return nil
}

// Unlock implements fs.HandlePOSIXLocker by releasing the given range
// with F_UNLCK.
func (h *Handle) Unlock(ctx gContext.Context, req *fuse.UnlockRequest) error {
	fl := req.Lock
	fl.Type = syscall.F_UNLCK
	if err := syscall.FcntlFlock(uintptr(h.fd()), syscall.F_SETLK, toFlockT(fl)); err != nil {
		return e2e(err)
	}
	return nil
}

// QueryLock implements fs.HandlePOSIXLocker (F_GETLK): reports the first
// lock that would conflict with req.Lock, without acquiring it.
func (h *Handle) QueryLock(ctx gContext.Context, req *fuse.QueryLockRequest, resp *fuse.QueryLockResponse) error {
	flk := toFlockT(req.Lock)
	if err := syscall.FcntlFlock(uintptr(h.fd()), syscall.F_GETLK, flk); err != nil {
		return e2e(err)
	}
	resp.Lock = fromFlockT(*flk)
	return nil
}

// Flock implements fs.HandleFlockLocker: a plain flock(2) against the
// plaintext handle, per spec.md §4.4's "flock: plain flock on the
// plaintext handle" rule and original_source's enc_flock.
func (h *Handle) Flock(ctx gContext.Context, req *fuse.FlockRequest) error {
	if err := syscall.Flock(h.fd(), int(req.Flags)); err != nil {
		return e2e(err)
	}
	return nil
}
