// Package pathtr translates a virtual path, as seen by a client of the
// mount point, into the two paths the rest of shadowfs operates on: the
// backing ciphertext path and its sibling scratch path.
package pathtr

import (
	"path/filepath"
	"strings"

	"shadowfs.io/errors"
)

// MaxPathLen bounds the length of any translated path. It mirrors the
// fixed-size buffer the original implementation used; shadowfs keeps the
// same limit even though Go strings aren't buffer-bound, so that a path
// that would have overflowed the original still fails the same way.
const MaxPathLen = 1024

// scratchPrefix and scratchSuffix bracket the basename of a scratch file:
// <dir>/._<name>.decrypt
const (
	scratchPrefix = "._"
	scratchSuffix = ".decrypt"
)

// BuildBacking concatenates backingRoot with virtual to produce the
// absolute backing path. It fails with errors.Invalid if either input is
// empty and with errors.NameTooLong if the result exceeds MaxPathLen.
func BuildBacking(backingRoot, virtual string) (string, error) {
	const op = "pathtr.BuildBacking"
	if backingRoot == "" || virtual == "" {
		return "", errors.E(op, errors.Invalid, errors.Str("empty path component"))
	}
	backing := filepath.Join(backingRoot, virtual)
	if len(backing) > MaxPathLen {
		return "", errors.E(op, errors.NameTooLong)
	}
	return backing, nil
}

// BuildScratch splits backing at its last path separator and forms the
// sibling scratch path <parent>/._<basename>.decrypt. It fails with
// errors.Invalid if backing has no separator, and errors.NameTooLong on
// overflow, exactly like BuildBacking.
func BuildScratch(backing string) (string, error) {
	const op = "pathtr.BuildScratch"
	i := strings.LastIndexByte(backing, filepath.Separator)
	if i < 0 {
		return "", errors.E(op, errors.Invalid, errors.Str("path has no separator"))
	}
	dir, base := backing[:i], backing[i+1:]
	if base == "" {
		return "", errors.E(op, errors.Invalid, errors.Str("empty basename"))
	}
	scratch := filepath.Join(dir, scratchPrefix+base+scratchSuffix)
	if len(scratch) > MaxPathLen {
		return "", errors.E(op, errors.NameTooLong)
	}
	return scratch, nil
}
