package keystore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// newTestKeystore uses cheap Argon2 parameters so tests stay fast.
func newTestKeystore(t *testing.T, path string, key string) *FileKeystore {
	t.Helper()
	ks, err := NewFileKeystore(path, StaticMasterKey(key))
	if err != nil {
		t.Fatalf("NewFileKeystore() error = %v", err)
	}
	ks.kdf = kdfParams{time: 1, memory: 1024, threads: 1}
	return ks
}

func TestFileKeystoreSetAndGet(t *testing.T) {
	ks := newTestKeystore(t, filepath.Join(t.TempDir(), "keys.enc"), "master")

	if err := ks.Set("my-app", "k-test-12345"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, err := ks.Get("my-app")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "k-test-12345" {
		t.Errorf("Get() = %q, want k-test-12345", value)
	}
}

func TestFileKeystoreGetNotFound(t *testing.T) {
	ks := newTestKeystore(t, filepath.Join(t.TempDir(), "keys.enc"), "master")

	_, err := ks.Get("nonexistent")

	var nf *ErrKeyNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("Get() error = %v, want *ErrKeyNotFound", err)
	}
	if nf.Name != "nonexistent" {
		t.Errorf("Name = %q, want nonexistent", nf.Name)
	}
	if nf.Error() != "key not found: nonexistent" {
		t.Errorf("Error() = %q", nf.Error())
	}
}

func TestFileKeystoreDeleteAndList(t *testing.T) {
	ks := newTestKeystore(t, filepath.Join(t.TempDir(), "keys.enc"), "master")

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := ks.Set(name, "v-"+name); err != nil {
			t.Fatalf("Set(%s) error = %v", name, err)
		}
	}

	if err := ks.Delete("mid"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := ks.Delete("mid"); err == nil {
		t.Error("Delete() of missing key should fail")
	}

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("List() = %v, want [alpha zeta]", names)
	}
}

func TestFileKeystoreEmptyList(t *testing.T) {
	ks := newTestKeystore(t, filepath.Join(t.TempDir(), "keys.enc"), "master")

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List() = %v, want empty", names)
	}
}

func TestFileKeystorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")

	if err := newTestKeystore(t, path, "master").Set("my-app", "k-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, err := newTestKeystore(t, path, "master").Get("my-app")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "k-1" {
		t.Errorf("Get() = %q, want k-1", value)
	}
}

func TestFileKeystoreWrongMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")

	if err := newTestKeystore(t, path, "master").Set("my-app", "k-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, err := newTestKeystore(t, path, "other").Get("my-app")
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get() error = %v, want ErrCorrupt", err)
	}
}

func TestFileKeystoreTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	ks := newTestKeystore(t, path, "master")
	if err := ks.Set("my-app", "k-1"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := ks.Get("my-app"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get() error = %v, want ErrCorrupt", err)
	}

	if err := os.WriteFile(path, []byte("not a keystore"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.List(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("List() error = %v, want ErrCorrupt", err)
	}
}

func TestFileKeystoreEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	ks := newTestKeystore(t, path, "master")
	if err := ks.Set("my-app", "k-plaintext-marker"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("k-plaintext-marker")) || bytes.Contains(raw, []byte("my-app")) {
		t.Error("keystore file contains plaintext")
	}
	if !bytes.HasPrefix(raw, []byte(magicHeader)) {
		t.Errorf("keystore file does not start with %q", magicHeader)
	}
}

func TestFileKeystoreFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions not applicable on Windows")
	}
	path := filepath.Join(t.TempDir(), "nested", "dir", "keys.enc")
	ks := newTestKeystore(t, path, "master")
	if err := ks.Set("my-app", "k-1"); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file permissions = %o, want 600", perm)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the keystore", len(entries))
	}
}

func TestMasterKeySources(t *testing.T) {
	env := EnvMasterKey{Name: "X", Getenv: func(string) string { return "" }}
	if _, err := env.GetMasterKey(); !errors.Is(err, ErrNoMasterKey) {
		t.Errorf("empty env GetMasterKey() error = %v, want ErrNoMasterKey", err)
	}

	src := FirstOf(env, StaticMasterKey(nil), StaticMasterKey("fallback"))
	key, err := src.GetMasterKey()
	if err != nil {
		t.Fatalf("GetMasterKey() error = %v", err)
	}
	if string(key) != "fallback" {
		t.Errorf("GetMasterKey() = %q, want fallback", key)
	}

	set := EnvMasterKey{Name: "X", Getenv: func(string) string { return "from-env" }}
	key, err = FirstOf(set, StaticMasterKey("fallback")).GetMasterKey()
	if err != nil || string(key) != "from-env" {
		t.Errorf("GetMasterKey() = %q, %v, want from-env", key, err)
	}

	if _, err := FirstOf().GetMasterKey(); !errors.Is(err, ErrNoMasterKey) {
		t.Errorf("empty FirstOf error = %v, want ErrNoMasterKey", err)
	}

	machine, err := MachineMasterKey{}.GetMasterKey()
	if err != nil || len(machine) != 32 {
		t.Errorf("MachineMasterKey = %d bytes, %v", len(machine), err)
	}
}

func TestNewFileKeystoreWithoutMasterKey(t *testing.T) {
	_, err := NewFileKeystore(filepath.Join(t.TempDir(), "keys.enc"), StaticMasterKey(nil))
	if !errors.Is(err, ErrNoMasterKey) {
		t.Errorf("NewFileKeystore() error = %v, want ErrNoMasterKey", err)
	}
}

func TestDefaultKeystorePath(t *testing.T) {
	path := DefaultKeystorePath()
	if filepath.Base(path) != "keys.enc" {
		t.Errorf("DefaultKeystorePath() = %q, want keys.enc file", path)
	}
}
