// Package cryptogw is the narrow interface around the external cipher
// that spec.md calls the Crypto Gateway: encrypt and decrypt whole byte
// streams under a key obtained from a Source. Neither operation is
// random-access; both consume src from its current position to EOF and
// append the transformed bytes to dst.
package cryptogw

import (
	"crypto/cipher"
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20"

	"shadowfs.io/errors"
)

// nonceSize is chacha20.NonceSizeX: using the 24-byte extended nonce
// picks XChaCha20, which tolerates a randomly generated nonce per call
// without the birthday-bound worries a 12-byte nonce would carry.
const nonceSize = chacha20.NonceSizeX

// Gateway owns key acquisition and exposes the whole-stream transforms.
type Gateway struct {
	keys Source
}

// New returns a Gateway that acquires keys from keys.
func New(keys Source) *Gateway {
	return &Gateway{keys: keys}
}

// Encrypt reads src to EOF and writes the ciphertext to dst, prefixed by
// a freshly generated nonce header. An empty src still produces a
// non-empty dst (the nonce header alone), satisfying spec.md §6's
// requirement that an empty plaintext encrypts to a non-empty backing
// file.
func (g *Gateway) Encrypt(dst io.Writer, src io.Reader) error {
	const op = "cryptogw.Encrypt"
	key, err := g.keys.Key()
	if err != nil {
		return errors.E(op, errors.KeyUnavailable, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return errors.E(op, errors.CryptoFailed, err)
	}
	if _, err := dst.Write(nonce); err != nil {
		return errors.E(op, errors.IO, err)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return errors.E(op, errors.CryptoFailed, err)
	}
	w := &cipher.StreamWriter{S: stream, W: dst}
	if _, err := io.Copy(w, src); err != nil {
		return errors.E(op, errors.CryptoFailed, err)
	}
	return nil
}

// Decrypt reads the nonce header and ciphertext from src to EOF and
// writes the recovered plaintext to dst.
func (g *Gateway) Decrypt(dst io.Writer, src io.Reader) error {
	const op = "cryptogw.Decrypt"
	key, err := g.keys.Key()
	if err != nil {
		return errors.E(op, errors.KeyUnavailable, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(src, nonce); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.E(op, errors.CryptoFailed, errors.Str("truncated ciphertext header"))
		}
		return errors.E(op, errors.IO, err)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return errors.E(op, errors.CryptoFailed, err)
	}
	r := &cipher.StreamReader{S: stream, R: src}
	if _, err := io.Copy(dst, r); err != nil {
		return errors.E(op, errors.CryptoFailed, err)
	}
	return nil
}
