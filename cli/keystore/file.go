package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"
)

// File format:
// [magic (5)] [version (1)] [salt (16)] [nonce (12)] [AES-256-GCM ciphertext]
// The header is authenticated as additional data.
const (
	magicHeader  = "PIJAZ"
	formatV1     = byte(0x01)
	saltLength   = 16
	nonceLength  = 12
	headerLength = len(magicHeader) + 1 + saltLength + nonceLength
)

// ErrCorrupt is returned when the keystore file cannot be decrypted.
var ErrCorrupt = errors.New("keystore file is corrupt or was written with another master key")

// kdfParams are the Argon2id cost parameters.
type kdfParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// OWASP recommended Argon2id parameters.
var defaultKDF = kdfParams{time: 3, memory: 64 * 1024, threads: 4}

// FileKeystore implements Keystore using encrypted file storage.
// Keys are stored in a JSON map encrypted with AES-256-GCM, keyed by
// Argon2id over the master key and a per-write salt.
type FileKeystore struct {
	path      string
	masterKey []byte
	kdf       kdfParams
	mu        sync.RWMutex
}

// NewFileKeystore creates a file-based keystore at path.
func NewFileKeystore(path string, source MasterKeySource) (*FileKeystore, error) {
	masterKey, err := source.GetMasterKey()
	if err != nil {
		return nil, err
	}
	return &FileKeystore{
		path:      path,
		masterKey: masterKey,
		kdf:       defaultKDF,
	}, nil
}

// Path returns the keystore file path.
func (f *FileKeystore) Path() string { return f.path }

// Set stores a key-value pair.
func (f *FileKeystore) Set(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.loadData()
	if err != nil {
		return err
	}
	data[name] = value
	return f.saveData(data)
}

// Get retrieves a value by name.
func (f *FileKeystore) Get(name string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := f.loadData()
	if err != nil {
		return "", err
	}
	value, ok := data[name]
	if !ok {
		return "", &ErrKeyNotFound{Name: name}
	}
	return value, nil
}

// Delete removes a key by name.
func (f *FileKeystore) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.loadData()
	if err != nil {
		return err
	}
	if _, ok := data[name]; !ok {
		return &ErrKeyNotFound{Name: name}
	}
	delete(data, name)
	return f.saveData(data)
}

// List returns all stored key names.
func (f *FileKeystore) List() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := f.loadData()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FileKeystore) loadData() (map[string]string, error) {
	data := make(map[string]string)

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return data, nil
	}

	plaintext, err := f.decrypt(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, ErrCorrupt
	}
	return data, nil
}

// saveData replaces the file atomically.
func (f *FileKeystore) saveData(data map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ciphertext, err := f.encrypt(plaintext)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".keys-*")
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileKeystore) gcm(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(f.masterKey, salt, f.kdf.time, f.kdf.memory, f.kdf.threads, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (f *FileKeystore) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	aead, err := f.gcm(salt)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerLength)
	header = append(header, magicHeader...)
	header = append(header, formatV1)
	header = append(header, salt...)
	header = append(header, nonce...)

	sealed := aead.Seal(nil, nonce, plaintext, header)
	return append(header, sealed...), nil
}

func (f *FileKeystore) decrypt(raw []byte) ([]byte, error) {
	if len(raw) < headerLength ||
		string(raw[:len(magicHeader)]) != magicHeader ||
		raw[len(magicHeader)] != formatV1 {
		return nil, ErrCorrupt
	}

	offset := len(magicHeader) + 1
	salt := raw[offset : offset+saltLength]
	offset += saltLength
	nonce := raw[offset : offset+nonceLength]
	offset += nonceLength
	header := raw[:offset]

	aead, err := f.gcm(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, raw[offset:], header)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

var _ Keystore = (*FileKeystore)(nil)
