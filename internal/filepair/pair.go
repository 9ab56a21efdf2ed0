// Package filepair owns the FilePair entity: the paired ciphertext and
// plaintext handles that back a single open-file session, and the
// create/open/close lifecycle plus the two whole-file transforms
// (decrypt-into-plain, encrypt-from-plain) that keep them in sync.
package filepair

import (
	"io"
	"os"
	"syscall"

	"shadowfs.io/errors"
	"shadowfs.io/internal/cryptogw"
)

// scratchMode is the permission the scratch file is always created with,
// regardless of the virtual file's own mode: it is never supposed to be
// visible outside this process.
const scratchMode = 0600

// Pair is the FilePair entity: a ciphertext handle on the backing store,
// a plaintext handle on an ephemeral scratch file, the scratch path (kept
// so it can be unlinked on release), and a dirty flag.
type Pair struct {
	Enc       *os.File
	Plain     *os.File
	PlainPath string
	Dirty     bool
}

// Create opens backing with the caller-supplied flags/mode (creation
// semantics inherited from the flags) and scratch read-write/create/
// truncate at scratchMode. dirty starts false.
func Create(backing, scratch string, flags int, mode os.FileMode) (*Pair, error) {
	const op = "filepair.Create"
	enc, err := os.OpenFile(backing, flags, mode)
	if err != nil {
		return nil, errors.E(op, backing, err)
	}
	plain, err := os.OpenFile(scratch, os.O_RDWR|os.O_CREATE|os.O_TRUNC, scratchMode)
	if err != nil {
		enc.Close()
		return nil, errors.E(op, scratch, err)
	}
	return &Pair{Enc: enc, Plain: plain, PlainPath: scratch}, nil
}

// Open opens an existing backing file and a fresh scratch file for it.
// A write-only open is upgraded to read-write: both whole-file transforms
// need to read the handle they are about to overwrite, so a caller that
// requested O_WRONLY will, on introspection, observe a read-write backing
// handle. This is intentional (spec.md §9's "write-only upgrade" note)
// and applies only to the ciphertext handle; the scratch handle is
// always opened read-write regardless.
func Open(backing, scratch string, flags int) (*Pair, error) {
	const op = "filepair.Open"
	if flags&os.O_WRONLY != 0 {
		flags = (flags &^ os.O_WRONLY) | os.O_RDWR
	}
	enc, err := os.OpenFile(backing, flags&^os.O_CREATE&^os.O_EXCL, 0)
	if err != nil {
		return nil, errors.E(op, backing, err)
	}
	plain, err := os.OpenFile(scratch, os.O_RDWR|os.O_CREATE|os.O_TRUNC, scratchMode)
	if err != nil {
		enc.Close()
		return nil, errors.E(op, scratch, err)
	}
	return &Pair{Enc: enc, Plain: plain, PlainPath: scratch}, nil
}

// Close closes both handles. It does not unlink the scratch file; that
// is release's job alone, so that flush/fsync can re-encrypt mid-session
// without losing the shadow.
func Close(p *Pair) error {
	const op = "filepair.Close"
	errEnc := p.Enc.Close()
	errPlain := p.Plain.Close()
	if errEnc != nil {
		return errors.E(op, errEnc)
	}
	if errPlain != nil {
		return errors.E(op, errPlain)
	}
	return nil
}

// offsets captures both handles' current file positions so a transform
// can restore them afterward regardless of outcome.
type offsets struct {
	enc, plain int64
}

func saveOffsets(p *Pair) (offsets, error) {
	encOff, err := p.Enc.Seek(0, io.SeekCurrent)
	if err != nil {
		return offsets{}, err
	}
	plainOff, err := p.Plain.Seek(0, io.SeekCurrent)
	if err != nil {
		return offsets{}, err
	}
	return offsets{enc: encOff, plain: plainOff}, nil
}

// restore seeks both handles back to the saved offsets, best-effort: it
// applies every seek it can even if an earlier one failed, and returns
// the first error encountered.
func (o offsets) restore(p *Pair) error {
	_, errEnc := p.Enc.Seek(o.enc, io.SeekStart)
	_, errPlain := p.Plain.Seek(o.plain, io.SeekStart)
	if errEnc != nil {
		return errEnc
	}
	return errPlain
}

// dup returns an *os.File sharing the kernel file description of f (via
// dup(2)) so it can be wrapped as a stream and closed without closing f
// itself. The description, and so the file offset, is shared: reading or
// writing through the duplicate moves f's position too, which is why the
// transforms below restore the saved offsets afterward.
func dup(f *os.File) (*os.File, error) {
	fd, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// DecryptIntoPlain restores plaintext freshness: it rewinds both
// handles, truncates the plaintext handle, decrypts the ciphertext into
// it through duplicated streams, and restores the saved offsets
// regardless of success. dirty is left as it was on entry (the caller
// sets it false after open/create).
func DecryptIntoPlain(p *Pair, gw *cryptogw.Gateway) error {
	const op = "filepair.DecryptIntoPlain"
	saved, err := saveOffsets(p)
	if err != nil {
		return errors.E(op, err)
	}

	if _, err := p.Enc.Seek(0, io.SeekStart); err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	if _, err := p.Plain.Seek(0, io.SeekStart); err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	if err := p.Plain.Truncate(0); err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}

	encDup, err := dup(p.Enc)
	if err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	defer encDup.Close()
	plainDup, err := dup(p.Plain)
	if err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	defer plainDup.Close()

	transformErr := gw.Decrypt(plainDup, encDup)

	if err := saved.restore(p); err != nil && transformErr == nil {
		transformErr = errors.E(op, err)
	}
	if transformErr != nil {
		return errors.E(op, errors.CryptoFailed, transformErr)
	}
	return nil
}

// EncryptFromPlain persists plaintext: symmetric to DecryptIntoPlain with
// the roles of the two handles reversed. On success dirty is cleared.
func EncryptFromPlain(p *Pair, gw *cryptogw.Gateway) error {
	const op = "filepair.EncryptFromPlain"
	saved, err := saveOffsets(p)
	if err != nil {
		return errors.E(op, err)
	}

	if _, err := p.Plain.Seek(0, io.SeekStart); err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	if _, err := p.Enc.Seek(0, io.SeekStart); err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	if err := p.Enc.Truncate(0); err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}

	plainDup, err := dup(p.Plain)
	if err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	defer plainDup.Close()
	encDup, err := dup(p.Enc)
	if err != nil {
		saved.restore(p)
		return errors.E(op, err)
	}
	defer encDup.Close()

	transformErr := gw.Encrypt(encDup, plainDup)

	if err := saved.restore(p); err != nil && transformErr == nil {
		transformErr = errors.E(op, err)
	}
	if transformErr != nil {
		return errors.E(op, errors.CryptoFailed, transformErr)
	}
	p.Dirty = false
	return nil
}
