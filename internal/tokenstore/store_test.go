package tokenstore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/waabox/devicelink/internal/domain"
	"github.com/waabox/devicelink/internal/tokenstore"
)

func newFileStore(t *testing.T) (*tokenstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	return tokenstore.New(tokenstore.NewFileBackend(dir), "", zerolog.Nop()), dir
}

func TestStore_RoundTrip(t *testing.T) {
	store, _ := newFileStore(t)
	fetched := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "tok_abc", FetchedAt: fetched}))

	cred, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "tok_abc", cred.AccessToken)
	assert.True(t, fetched.Equal(cred.FetchedAt))
}

func TestStore_LoadAfterRemoveIsAbsent(t *testing.T) {
	store, _ := newFileStore(t)
	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "tok_abc"}))
	require.NoError(t, store.Remove())

	_, ok := store.Load()
	assert.False(t, ok)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	store, _ := newFileStore(t)
	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove())
}

func TestStore_SaveOverwrites(t *testing.T) {
	store, _ := newFileStore(t)
	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "first"}))
	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "second"}))

	cred, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "second", cred.AccessToken)
}

func TestStore_CorruptDataIsAbsent(t *testing.T) {
	for _, content := range []string{
		"not even prefixed",
		"dl1.%%%not-base64%%%",
		"dl1.aGVsbG8",
		"",
	} {
		store, dir := newFileStore(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, tokenstore.DefaultKey), []byte(content), 0600))

		_, ok := store.Load()
		assert.False(t, ok, "content %q should be treated as absent", content)
	}
}

func TestStore_TokenIsNotStoredInClear(t *testing.T) {
	store, dir := newFileStore(t)
	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "gho_secretvalue"}))

	raw, err := os.ReadFile(filepath.Join(dir, tokenstore.DefaultKey))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "gho_secretvalue"))

	info, err := os.Stat(filepath.Join(dir, tokenstore.DefaultKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStore_RejectsEmptyToken(t *testing.T) {
	store, _ := newFileStore(t)
	assert.Error(t, store.Save(domain.AuthCredential{}))
}

func TestStore_KeyringBackend(t *testing.T) {
	keyring.MockInit()
	store, err := tokenstore.Open(tokenstore.BackendKeyring, "", "devicelink-test", zerolog.Nop())
	require.NoError(t, err)

	_, ok := store.Load()
	assert.False(t, ok)

	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "tok_keyring"}))
	cred, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "tok_keyring", cred.AccessToken)

	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove())
	_, ok = store.Load()
	assert.False(t, ok)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := tokenstore.Open("vault", "", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestFileBackend_RejectsPathTraversal(t *testing.T) {
	b := tokenstore.NewFileBackend(t.TempDir())
	assert.Error(t, b.Set("../escape", "x"))
}
