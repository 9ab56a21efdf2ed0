package cryptogw

import (
	"bytes"
	"testing"
)

func testGateway(t *testing.T) *Gateway {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	src, err := NewStaticSource(key)
	if err != nil {
		t.Fatalf("NewStaticSource: %v", err)
	}
	return New(src)
}

func TestRoundTrip(t *testing.T) {
	gw := testGateway(t)
	plain := []byte("hello world")

	var cipherBuf bytes.Buffer
	if err := gw.Encrypt(&cipherBuf, bytes.NewReader(plain)); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if cipherBuf.Len() <= len(plain) {
		// header alone adds nonceSize bytes, so ciphertext must be longer.
		t.Fatalf("ciphertext too short: %d bytes", cipherBuf.Len())
	}

	var plainBuf bytes.Buffer
	if err := gw.Decrypt(&plainBuf, bytes.NewReader(cipherBuf.Bytes())); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plainBuf.Bytes(), plain) {
		t.Errorf("got %q, want %q", plainBuf.Bytes(), plain)
	}
}

func TestEmptyPlaintextEncryptsToNonEmptyHeader(t *testing.T) {
	gw := testGateway(t)

	var cipherBuf bytes.Buffer
	if err := gw.Encrypt(&cipherBuf, bytes.NewReader(nil)); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if cipherBuf.Len() != nonceSize {
		t.Errorf("got %d header bytes, want %d", cipherBuf.Len(), nonceSize)
	}

	var plainBuf bytes.Buffer
	if err := gw.Decrypt(&plainBuf, bytes.NewReader(cipherBuf.Bytes())); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plainBuf.Len() != 0 {
		t.Errorf("got %d plaintext bytes, want 0", plainBuf.Len())
	}
}

func TestDecryptTruncatedHeader(t *testing.T) {
	gw := testGateway(t)
	var out bytes.Buffer
	err := gw.Decrypt(&out, bytes.NewReader([]byte{1, 2, 3}))
	if err == nil {
		t.Fatal("expected error on truncated header")
	}
}
