package pathtr

import (
	"strings"
	"testing"

	"shadowfs.io/errors"
)

func TestBuildBacking(t *testing.T) {
	got, err := BuildBacking("/backing", "/dir/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "/backing/dir/file.txt"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildBackingEmpty(t *testing.T) {
	if _, err := BuildBacking("", "/dir/file.txt"); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	if _, err := BuildBacking("/backing", ""); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestBuildBackingTooLong(t *testing.T) {
	virtual := "/" + strings.Repeat("a", MaxPathLen)
	if _, err := BuildBacking("/backing", virtual); !errors.Is(errors.NameTooLong, err) {
		t.Errorf("expected NameTooLong, got %v", err)
	}
}

func TestBuildScratch(t *testing.T) {
	got, err := BuildScratch("/backing/dir/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "/backing/dir/._file.txt.decrypt"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildScratchNoSeparator(t *testing.T) {
	if _, err := BuildScratch("file.txt"); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestBuildScratchTooLong(t *testing.T) {
	backing := "/backing/" + strings.Repeat("b", MaxPathLen)
	if _, err := BuildScratch(backing); !errors.Is(errors.NameTooLong, err) {
		t.Errorf("expected NameTooLong, got %v", err)
	}
}
