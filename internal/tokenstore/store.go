// Package tokenstore persists the GitHub access token between runs.
package tokenstore

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kirsle/configdir"
	"github.com/rs/zerolog"

	"github.com/waabox/devicelink/internal/domain"
)

// DefaultKey is the single key holding the token.
const DefaultKey = "github-token"

const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
)

// Store encodes and persists one credential. All methods are idempotent.
type Store struct {
	backend Backend
	key     string
	log     zerolog.Logger
}

// New creates a Store writing key into backend. An empty key means DefaultKey.
func New(backend Backend, key string, log zerolog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{
		backend: backend,
		key:     key,
		log:     log.With().Str("component", "tokenstore").Logger(),
	}
}

// Open builds a Store for the named backend kind ("file" or "keyring").
// dir is used by the file backend; empty means the user config directory.
func Open(kind, dir, service string, log zerolog.Logger) (*Store, error) {
	switch kind {
	case "", BackendFile:
		if dir == "" {
			dir = DefaultDir()
		}
		return New(NewFileBackend(dir), DefaultKey, log), nil
	case BackendKeyring:
		if service == "" {
			service = "devicelink"
		}
		return New(NewKeyringBackend(service), DefaultKey, log), nil
	}
	return nil, fmt.Errorf("unknown token store backend %q", kind)
}

// DefaultDir returns the per-user directory for persisted tokens.
func DefaultDir() string {
	return filepath.Join(configdir.LocalConfig("devicelink"), "credentials")
}

// Save persists cred, replacing any previous one.
func (s *Store) Save(cred domain.AuthCredential) error {
	if cred.AccessToken == "" {
		return errors.New("refusing to store an empty token")
	}
	encoded, err := encode(cred)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := s.backend.Set(s.key, encoded); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}
	s.log.Debug().Time("fetched_at", cred.FetchedAt).Msg("token stored")
	return nil
}

// Load returns the stored credential. Missing or unreadable data yields ok == false.
func (s *Store) Load() (domain.AuthCredential, bool) {
	encoded, err := s.backend.Get(s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn().Err(err).Msg("reading stored token failed, treating as absent")
		}
		return domain.AuthCredential{}, false
	}
	cred, err := decode(encoded)
	if err != nil {
		s.log.Debug().Msg("stored token is corrupt, treating as absent")
		return domain.AuthCredential{}, false
	}
	return cred, true
}

// Remove deletes the stored credential. Removing a missing credential is not an error.
func (s *Store) Remove() error {
	if err := s.backend.Delete(s.key); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	s.log.Debug().Msg("token removed")
	return nil
}
