package tokenstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned by backends when no value is stored under a key.
var ErrNotFound = errors.New("not found")

// Backend is an opaque key-value persistence area.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// FileBackend stores each key in its own file under Dir, readable by the owner only.
type FileBackend struct {
	Dir string
	mu  sync.Mutex
}

// NewFileBackend creates a FileBackend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir}
}

var safeKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func (b *FileBackend) path(key string) (string, error) {
	if !safeKey.MatchString(key) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.Dir, key), nil
}

func (b *FileBackend) Get(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.path(key)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(content), nil
}

// Set writes value atomically: a temp file in the same directory is renamed over the key.
func (b *FileBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(b.Dir, 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	tmp, err := os.CreateTemp(b.Dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// KeyringBackend stores values in the OS keychain under Service.
type KeyringBackend struct {
	Service string
}

// NewKeyringBackend creates a KeyringBackend for service.
func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{Service: service}
}

func (b *KeyringBackend) Get(key string) (string, error) {
	v, err := keyring.Get(b.Service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (b *KeyringBackend) Set(key, value string) error {
	return keyring.Set(b.Service, key, value)
}

func (b *KeyringBackend) Delete(key string) error {
	err := keyring.Delete(b.Service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
