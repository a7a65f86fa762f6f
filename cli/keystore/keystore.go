// Package keystore provides encrypted storage for Pijaz API keys.
package keystore

import (
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// Keystore defines the interface for secure key storage.
type Keystore interface {
	// Set stores a key-value pair.
	Set(name, value string) error
	// Get retrieves a value by name. Returns *ErrKeyNotFound if absent.
	Get(name string) (string, error)
	// Delete removes a key by name.
	Delete(name string) error
	// List returns all stored key names, sorted.
	List() ([]string, error)
}

// ErrKeyNotFound is returned when a requested key does not exist.
type ErrKeyNotFound struct {
	Name string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Name
}

// ErrNoMasterKey is returned by a MasterKeySource with nothing to offer.
var ErrNoMasterKey = errors.New("no master key available")

// MasterKeySource supplies the secret the keystore encryption key is derived from.
type MasterKeySource interface {
	GetMasterKey() ([]byte, error)
}

// EnvMasterKey reads the master key from an environment variable.
type EnvMasterKey struct {
	Name   string
	Getenv func(string) string
}

// GetMasterKey implements MasterKeySource.
func (e EnvMasterKey) GetMasterKey() ([]byte, error) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	v := getenv(e.Name)
	if v == "" {
		return nil, ErrNoMasterKey
	}
	return []byte(v), nil
}

// StaticMasterKey is a fixed master key.
type StaticMasterKey []byte

// GetMasterKey implements MasterKeySource.
func (s StaticMasterKey) GetMasterKey() ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrNoMasterKey
	}
	return []byte(s), nil
}

// MachineMasterKey derives a master key from the host and user names.
// It only keeps keys away from casual reading of the file.
type MachineMasterKey struct{}

// GetMasterKey implements MasterKeySource.
func (MachineMasterKey) GetMasterKey() ([]byte, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	sum := sha256.Sum256([]byte(hostname + ":" + username + ":pijaz-keystore"))
	return sum[:], nil
}

// FirstOf returns the first source that yields a key.
func FirstOf(sources ...MasterKeySource) MasterKeySource {
	return firstOf(sources)
}

type firstOf []MasterKeySource

func (f firstOf) GetMasterKey() ([]byte, error) {
	for _, s := range f {
		key, err := s.GetMasterKey()
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNoMasterKey) {
			return nil, err
		}
	}
	return nil, ErrNoMasterKey
}

// DefaultKeystorePath returns the default keystore file path.
// - macOS/Linux: ~/.pijaz/keys.enc
// - Windows: %USERPROFILE%\.pijaz\keys.enc
func DefaultKeystorePath() string {
	var homeDir string
	if runtime.GOOS == "windows" {
		homeDir = os.Getenv("USERPROFILE")
	} else {
		homeDir = os.Getenv("HOME")
	}
	if homeDir == "" {
		return "keys.enc"
	}
	return filepath.Join(homeDir, ".pijaz", "keys.enc")
}

// NewKeystore opens the default keystore. The master key comes from
// PIJAZ_MASTER_KEY when set, else from the machine identity.
func NewKeystore() (Keystore, error) {
	return NewFileKeystore(DefaultKeystorePath(), FirstOf(
		EnvMasterKey{Name: "PIJAZ_MASTER_KEY"},
		MachineMasterKey{},
	))
}
