package filepair

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"shadowfs.io/internal/cryptogw"
)

func testGateway(t *testing.T) *cryptogw.Gateway {
	key := bytes.Repeat([]byte{0x24}, cryptogw.KeySize)
	src, err := cryptogw.NewStaticSource(key)
	if err != nil {
		t.Fatalf("NewStaticSource: %v", err)
	}
	return cryptogw.New(src)
}

func TestCreateEncryptDecryptRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "filepair")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	backing := filepath.Join(dir, "hello.txt")
	scratch := filepath.Join(dir, "._hello.txt.decrypt")
	gw := testGateway(t)

	p, err := Create(backing, scratch, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := EncryptFromPlain(p, gw); err != nil {
		t.Fatalf("EncryptFromPlain (empty): %v", err)
	}

	if _, err := p.Plain.WriteAt([]byte("hello world"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	p.Dirty = true

	if err := EncryptFromPlain(p, gw); err != nil {
		t.Fatalf("EncryptFromPlain: %v", err)
	}
	if p.Dirty {
		t.Error("Dirty should be false after EncryptFromPlain")
	}
	if err := Close(p); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := Open(backing, scratch, os.O_RDWR)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := DecryptIntoPlain(p2, gw); err != nil {
		t.Fatalf("DecryptIntoPlain: %v", err)
	}
	got := make([]byte, 11)
	if _, err := p2.Plain.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
	if err := Close(p2); err != nil {
		t.Fatalf("Close: %v", err)
	}
	os.Remove(scratch)
}

func TestOpenUpgradesWriteOnly(t *testing.T) {
	dir, err := ioutil.TempDir("", "filepair")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	backing := filepath.Join(dir, "f.txt")
	scratch := filepath.Join(dir, "._f.txt.decrypt")
	if err := ioutil.WriteFile(backing, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Open(backing, scratch, os.O_WRONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(p)
	defer os.Remove(scratch)

	// A write-only handle can't be read; the upgrade should make this work.
	buf := make([]byte, 1)
	if _, err := p.Enc.ReadAt(buf, 0); err != nil {
		t.Errorf("expected read to succeed on upgraded handle, got %v", err)
	}
}

func TestDecryptIntoPlainPreservesOffsets(t *testing.T) {
	dir, err := ioutil.TempDir("", "filepair")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	backing := filepath.Join(dir, "f.txt")
	scratch := filepath.Join(dir, "._f.txt.decrypt")
	gw := testGateway(t)

	p, err := Create(backing, scratch, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer Close(p)
	defer os.Remove(scratch)

	if _, err := p.Plain.WriteAt([]byte("abcdef"), 0); err != nil {
		t.Fatal(err)
	}
	if err := EncryptFromPlain(p, gw); err != nil {
		t.Fatalf("EncryptFromPlain: %v", err)
	}

	const wantOffset = 3
	if _, err := p.Plain.Seek(wantOffset, 0); err != nil {
		t.Fatal(err)
	}

	if err := DecryptIntoPlain(p, gw); err != nil {
		t.Fatalf("DecryptIntoPlain: %v", err)
	}

	got, err := p.Plain.Seek(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != wantOffset {
		t.Errorf("got offset %d, want %d", got, wantOffset)
	}
}
