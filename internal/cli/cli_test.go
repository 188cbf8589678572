package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/devicelink/internal/auth"
	"github.com/waabox/devicelink/internal/bridge"
	"github.com/waabox/devicelink/internal/cli"
	"github.com/waabox/devicelink/internal/config"
	"github.com/waabox/devicelink/internal/domain"
	"github.com/waabox/devicelink/internal/tokenstore"
)

type env struct {
	configPath string
	storeDir   string
	socket     string
}

func newEnv(t *testing.T, apiURL string) env {
	t.Helper()
	for _, name := range []string{"DEVICELINK_CLIENT_ID", "DEVICELINK_SCOPE", "DEVICELINK_GITHUB_URL", "DEVICELINK_API_URL", "DEVICELINK_STORE", "DEVICELINK_SOCKET", "DEVICELINK_LOG_LEVEL"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	// unix socket paths are length-limited, so keep this one short.
	sockDir, err := os.MkdirTemp("", "dl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	e := env{
		configPath: filepath.Join(dir, "config.toml"),
		storeDir:   filepath.Join(dir, "credentials"),
		socket:     filepath.Join(sockDir, "d.sock"),
	}
	require.NoError(t, config.Save(e.configPath, config.Config{
		GitHub: config.GitHubConfig{ClientID: "Iv1.test", APIURL: apiURL},
		Store:  config.StoreConfig{Backend: "file", Dir: e.storeDir},
		Bridge: config.BridgeConfig{Socket: e.socket},
		Log:    config.LogConfig{Level: "error"},
	}))
	return e
}

func (e env) store(t *testing.T) *tokenstore.Store {
	t.Helper()
	s, err := tokenstore.Open("file", e.storeDir, "", zerolog.Nop())
	require.NoError(t, err)
	return s
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := cli.NewRootCommand(cli.Options{ConfigPath: e.configPath, Version: "1.2.3", Out: &out, ErrOut: &errOut})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func userAPI(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"login": "octocat", "name": "The Octocat", "html_url": "https://github.com/octocat"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	e := newEnv(t, "")

	out, err := e.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "devicelink 1.2.3")

	out, err = e.run(t, "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info["version"])
}

func TestStatus_NoToken(t *testing.T) {
	e := newEnv(t, "")

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not connected.")
}

func TestStatus_ValidToken(t *testing.T) {
	api := userAPI(t, http.StatusOK)
	e := newEnv(t, api.URL)
	require.NoError(t, e.store(t).Save(domain.AuthCredential{AccessToken: "tok_abc", FetchedAt: time.Now()}))

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected as The Octocat (@octocat)")

	out, err = e.run(t, "status", "-o", "json")
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "connected", report["status"])
}

func TestStatus_RejectedTokenIsCleared(t *testing.T) {
	api := userAPI(t, http.StatusUnauthorized)
	e := newEnv(t, api.URL)
	store := e.store(t)
	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "tok_revoked", FetchedAt: time.Now()}))

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Token rejected")

	_, ok := store.Load()
	assert.False(t, ok, "rejected token must be removed")
}

func TestStatus_ProviderDownKeepsToken(t *testing.T) {
	api := userAPI(t, http.StatusBadGateway)
	e := newEnv(t, api.URL)
	store := e.store(t)
	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "tok_abc", FetchedAt: time.Now()}))

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not connected (offline).")
	assert.Contains(t, out, "Could not reach GitHub")

	_, ok := store.Load()
	assert.True(t, ok, "token must survive an unreachable provider")

	out, err = e.run(t, "status", "-o", "json")
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "disconnected", report["status"])
	assert.Equal(t, true, report["offline"])
}

func TestLogout(t *testing.T) {
	e := newEnv(t, "")
	store := e.store(t)
	require.NoError(t, store.Save(domain.AuthCredential{AccessToken: "tok_abc", FetchedAt: time.Now()}))

	out, err := e.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")
	_, ok := store.Load()
	assert.False(t, ok)

	// Idempotent.
	_, err = e.run(t, "logout")
	require.NoError(t, err)
}

func TestLogin_RequiresClientID(t *testing.T) {
	e := newEnv(t, "")
	require.NoError(t, config.Save(e.configPath, config.Config{Store: config.StoreConfig{Dir: e.storeDir}}))

	_, err := e.run(t, "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

type staticValidator struct{}

func (staticValidator) Validate(context.Context, string) (domain.AuthenticatedUser, error) {
	return domain.AuthenticatedUser{Login: "octocat", Name: "The Octocat"}, nil
}

type exchangerFunc func(ctx context.Context, deviceCode string) (auth.Exchange, error)

func (f exchangerFunc) ExchangeCode(ctx context.Context, deviceCode string) (auth.Exchange, error) {
	return f(ctx, deviceCode)
}

func TestStatus_DaemonAdoptsHeldToken(t *testing.T) {
	e := newEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ex := exchangerFunc(func(context.Context, string) (auth.Exchange, error) {
		once.Do(func() { close(entered) })
		<-release
		return auth.Exchange{Outcome: auth.TokenReceived, AccessToken: "tok_from_daemon"}, nil
	})
	poller := auth.NewPoller(ex, auth.PollerConfig{
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}, zerolog.Nop())
	host := bridge.NewHost(ctx, poller, staticValidator{}, zerolog.Nop())

	// A UI starts polling and goes away before the user authorizes.
	hostEnd, uiEnd := bridge.Pipe()
	served := make(chan struct{})
	go func() {
		defer close(served)
		host.Serve(ctx, hostEnd)
	}()
	ui := bridge.NewClient(uiEnd, zerolog.Nop())
	ui.Start(ctx, domain.DeviceFlowSession{DeviceCode: "D1", Interval: 5, ExpiresIn: 900})
	<-entered
	require.NoError(t, ui.Close())
	<-served
	close(release)
	host.Wait()

	listening := make(chan error, 1)
	go func() { listening <- host.ListenAndServe(ctx, e.socket) }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(e.socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	out, err := e.run(t, "status", "--daemon")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected as The Octocat (@octocat)")
	assert.Contains(t, out, "Daemon: idle")

	cred, ok := e.store(t).Load()
	require.True(t, ok)
	assert.Equal(t, "tok_from_daemon", cred.AccessToken)

	cancel()
	require.NoError(t, <-listening)
}
