// Command shadowfs mounts a transparently encrypting view of a backing
// directory tree: regular-file contents are stored encrypted at rest and
// presented as plaintext through the mount point, while directories,
// symlinks, permissions, ownership, and timestamps pass through
// unchanged.
//
// Usage:
//
//	shadowfs [-config file] [-log level] <mount_point> <backing_dir>
//
// Flags must come before the two positional arguments. Arguments after
// <backing_dir> are ignored; the FUSE mount options are fixed in mount
// and are not taken from the command line.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"shadowfs.io/internal/config"
	"shadowfs.io/internal/cryptogw"
	"shadowfs.io/internal/fsstate"
	"shadowfs.io/internal/keyservice"
	"shadowfs.io/internal/shadowfs"
	"shadowfs.io/log"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <mount_point> <backing_dir>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if err := log.SetLevel(config.LogLevel); err != nil {
		log.Fatalf("shadowfs: %s", err)
	}

	if flag.NArg() < 2 {
		usage()
	}
	mountPoint := flag.Arg(0)
	backingArg := flag.Arg(1)

	// Creation modes are honored verbatim; nothing below this process
	// should have its requested permission bits silently narrowed.
	syscall.Umask(0)

	backingRoot, err := filepath.Abs(backingArg)
	if err != nil {
		log.Fatalf("shadowfs: can't resolve backing directory %s: %s", backingArg, err)
	}
	backingRoot, err = filepath.EvalSymlinks(backingRoot)
	if err != nil {
		log.Fatalf("shadowfs: can't resolve backing directory %s: %s", backingArg, err)
	}
	if fi, err := os.Stat(backingRoot); err != nil || !fi.IsDir() {
		log.Fatalf("shadowfs: backing directory %s is not a directory", backingRoot)
	}

	cfg, err := config.FromFile(config.ConfigFile)
	if err != nil {
		log.Fatalf("shadowfs: loading config: %s", err)
	}
	gateway, err := gatewayFromConfig(cfg)
	if err != nil {
		log.Fatalf("shadowfs: %s", err)
	}

	state := fsstate.New(backingRoot)
	filesystem := shadowfs.New(state, gateway)

	done := mount(mountPoint, filesystem)
	<-done
}

// gatewayFromConfig constructs the Crypto Gateway's key Source according
// to cfg.KeyMode: a fixed in-process key for KeyModeStatic, or an HTTP
// client against the configured key service for KeyModeRemote.
func gatewayFromConfig(cfg *config.Config) (*cryptogw.Gateway, error) {
	switch cfg.KeyMode {
	case config.KeyModeStatic:
		key, err := base64.StdEncoding.DecodeString(cfg.StaticKey)
		if err != nil {
			return nil, fmt.Errorf("decoding staticKey: %v", err)
		}
		source, err := cryptogw.NewStaticSource(key)
		if err != nil {
			return nil, err
		}
		return cryptogw.New(source), nil
	case config.KeyModeRemote:
		keyID, err := uuid.Parse(cfg.KeyID)
		if err != nil {
			return nil, fmt.Errorf("parsing keyID: %v", err)
		}
		secret, err := cfg.SharedSecret()
		if err != nil {
			return nil, err
		}
		client := &keyservice.Client{
			URL:          cfg.KeyServiceURL,
			KeyID:        keyID,
			SharedSecret: secret,
			HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		}
		return cryptogw.New(client), nil
	default:
		return nil, fmt.Errorf("unknown key mode %q", cfg.KeyMode)
	}
}

// debugFUSE routes the bazil.org/fuse package's own debug chatter
// through the leveled logger.
func debugFUSE(msg interface{}) {
	log.Debug.Printf("FUSE %v", msg)
}

// mount mounts filesystem at mountPoint and begins serving in a
// goroutine, returning a channel that is closed when serving ends:
// wait briefly for the kernel's mount-ready signal, log.Fatal on a
// reported mount error, then serve.
func mount(mountPoint string, filesystem *shadowfs.FS) chan bool {
	if log.GetLevel() == "debug" {
		fuse.Debug = debugFUSE
	}

	opts := []fuse.MountOption{
		fuse.FSName("shadowfs"),
		fuse.Subtype("fs"),
		fuse.LocalVolume(),
		fuse.VolumeName("shadowfs"),
		fuse.DaemonTimeout("240"),
	}

	c, err := fuse.Mount(mountPoint, opts...)
	if err == fuse.ErrOSXFUSENotFound {
		log.Fatal("FUSE for macOS is not installed. See https://osxfuse.github.io/")
	}
	if err != nil {
		log.Fatalf("fuse.Mount failed: %s", err)
	}

	select {
	case <-c.Ready:
		if err := c.MountError; err != nil {
			log.Debug.Fatal(err)
		}
	case <-time.After(500 * time.Millisecond):
	}

	done := make(chan bool)
	go func() {
		if err := fs.Serve(c, filesystem); err != nil {
			log.Debug.Fatal(err)
		}
		close(done)
	}()
	return done
}
