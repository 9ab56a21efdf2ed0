// Package config loads shadowfs's optional YAML configuration file and
// exposes the package-level flag variables every binary in the tree
// shares, in the style of upspin.io/flags: one place defines the flags
// so multiple commands stay consistent.
package config

import (
	"flag"
	"io"
	"io/ioutil"
	"os"

	yaml "gopkg.in/yaml.v2"

	"shadowfs.io/errors"
)

// Key acquisition modes (see Config.KeyMode).
const (
	KeyModeStatic = "static"
	KeyModeRemote = "remote"
)

// Package-level flags shared by every shadowfs binary.
var (
	// ConfigFile names an optional YAML config file. If empty, built-in
	// defaults are used: static key mode with a fixed test key.
	ConfigFile = ""

	// LogLevel sets the shadowfs.io/log level: "debug", "info", "error",
	// or "disabled".
	LogLevel = "info"
)

func init() {
	flag.StringVar(&ConfigFile, "config", ConfigFile, "YAML configuration file")
	flag.StringVar(&LogLevel, "log", LogLevel, "log level (debug, info, error, disabled)")
}

// Config is the parsed configuration file content.
type Config struct {
	// KeyMode selects key acquisition: KeyModeStatic or KeyModeRemote.
	KeyMode string `yaml:"keyMode"`
	// KeyServiceURL is the remote key service endpoint; used only when
	// KeyMode is KeyModeRemote.
	KeyServiceURL string `yaml:"keyServiceURL"`
	// KeyID identifies the file-encryption key slot at the remote
	// service (a UUID string).
	KeyID string `yaml:"keyID"`
	// SharedSecretFile is a path to a file holding the pre-shared
	// authentication attribute for the remote key service. The secret
	// itself is never inlined in the YAML.
	SharedSecretFile string `yaml:"sharedSecret"`
	// StaticKey is the base64-encoded key used when KeyMode is
	// KeyModeStatic.
	StaticKey string `yaml:"staticKey"`
}

// defaultStaticKey is a fixed 32-byte key, base64-encoded, used only
// when no config file supplies one. It exists so an unconfigured mount
// still starts rather than failing for lack of a key; it is not a
// secret and must never be relied on outside of local testing.
const defaultStaticKey = "c2hhZG93ZnMtZGVmYXVsdC10ZXN0LWtleS0zMmJ5dCE="

// Default returns the built-in configuration used when no config file is
// given: static key mode with defaultStaticKey.
func Default() *Config {
	return &Config{KeyMode: KeyModeStatic, StaticKey: defaultStaticKey}
}

// FromFile loads a Config from the YAML file at name. If name is empty,
// it returns Default().
func FromFile(name string) (*Config, error) {
	const op = "config.FromFile"
	if name == "" {
		return Default(), nil
	}
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.NotExist, err)
		}
		return nil, errors.E(op, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a Config from r.
func Parse(r io.Reader) (*Config, error) {
	const op = "config.Parse"
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.E(op, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.E(op, errors.Syntax, err)
	}
	if cfg.KeyMode != KeyModeStatic && cfg.KeyMode != KeyModeRemote {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("unknown keyMode %q", cfg.KeyMode))
	}
	return cfg, nil
}

// SharedSecret reads and returns the contents of c.SharedSecretFile, with
// trailing newline and carriage-return characters trimmed (other
// whitespace is kept). It is a no-op, returning "", if the
// field is unset.
func (c *Config) SharedSecret() (string, error) {
	if c.SharedSecretFile == "" {
		return "", nil
	}
	data, err := ioutil.ReadFile(c.SharedSecretFile)
	if err != nil {
		return "", errors.E("config.SharedSecret", c.SharedSecretFile, err)
	}
	return trimTrailingNewline(string(data)), nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
