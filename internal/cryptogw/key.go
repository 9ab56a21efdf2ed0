package cryptogw

import (
	"shadowfs.io/errors"
)

// KeySize is the key length chacha20 requires.
const KeySize = 32

// Source supplies the file-encryption key. It abstracts the two key
// acquisition modes spec.md §4.2 describes: a static, compile-time
// constant, or a remote fetch through internal/keyservice.
type Source interface {
	Key() ([]byte, error)
}

// StaticSource returns a fixed key, unconditionally. It is the default
// build's key acquisition mode.
type StaticSource struct {
	key []byte
}

// NewStaticSource wraps a fixed key. It fails if the key is not exactly
// KeySize bytes.
func NewStaticSource(key []byte) (*StaticSource, error) {
	if len(key) != KeySize {
		return nil, errors.E("cryptogw.NewStaticSource", errors.Invalid,
			errors.Str("key must be 32 bytes"))
	}
	return &StaticSource{key: key}, nil
}

// Key implements Source.
func (s *StaticSource) Key() ([]byte, error) {
	return s.key, nil
}
