package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/waabox/devicelink/internal/auth"
	"github.com/waabox/devicelink/internal/authstate"
	"github.com/waabox/devicelink/internal/bridge"
	"github.com/waabox/devicelink/internal/tokenstore"
)

func (rt *runtimeState) openStore() (*tokenstore.Store, error) {
	return tokenstore.Open(rt.cfg.Store.Backend, rt.cfg.Store.Dir, rt.cfg.StoreServiceOrDefault(), rt.log)
}

func (rt *runtimeState) deviceFlow() *auth.GitHubDeviceFlow {
	return auth.NewGitHubDeviceFlow(rt.cfg.GitHub.ClientID, rt.cfg.GitHub.Scope, rt.cfg.GitHub.BaseURL)
}

func (rt *runtimeState) validator() *auth.GitHubValidator {
	return auth.NewGitHubValidator(rt.cfg.GitHub.APIURL)
}

// waiter returns where polling runs: in this process, or in the daemon when
// background is set. The returned func releases the daemon connection.
func (rt *runtimeState) waiter(ctx context.Context, flow *auth.GitHubDeviceFlow, background bool) (authstate.TokenWaiter, *bridge.Client, func(), error) {
	if !background {
		poller := auth.NewPoller(flow, rt.cfg.PollerConfig(), rt.log)
		return authstate.LocalWaiter(poller), nil, func() {}, nil
	}
	client, err := bridge.Dial(ctx, rt.cfg.SocketPathOrDefault(), rt.log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w (is `devicelink daemon` running?)", err)
	}
	return client, client, func() { client.Close() }, nil
}

// session wires the machine with everything a connect needs.
type session struct {
	machine *authstate.Machine
	client  *bridge.Client
	close   func()
}

func (rt *runtimeState) newSession(ctx context.Context, background bool, notifier authstate.Notifier) (*session, error) {
	if err := rt.cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := rt.openStore()
	if err != nil {
		return nil, err
	}
	flow := rt.deviceFlow()
	waiter, client, closeFn, err := rt.waiter(ctx, flow, background)
	if err != nil {
		return nil, err
	}
	m := authstate.New(authstate.Deps{
		Codes:     flow,
		Waiter:    waiter,
		Validator: rt.validator(),
		Store:     store,
		Notifier:  notifier,
		Log:       rt.log,
	})
	if client != nil {
		rt.adoptHeldResults(ctx, client, m)
	}
	return &session{machine: m, client: client, close: closeFn}, nil
}

// newLocalMachine builds a machine for commands that only read or clear the credential.
func (rt *runtimeState) newLocalMachine() (*authstate.Machine, error) {
	store, err := rt.openStore()
	if err != nil {
		return nil, err
	}
	return authstate.New(authstate.Deps{
		Validator: rt.validator(),
		Store:     store,
		Log:       rt.log,
	}), nil
}

// adoptHeldResults stores tokens the daemon obtained while no UI was attached.
func (rt *runtimeState) adoptHeldResults(ctx context.Context, client *bridge.Client, m *authstate.Machine) {
	client.OnUnclaimed = func(msg bridge.Message) {
		if msg.Type != bridge.EvtAuthSuccess {
			rt.log.Info().Str("event", string(msg.Type)).Msg("daemon finished an earlier sign-in without a token")
			return
		}
		if err := m.Adopt(ctx, msg.Token, msg.User); err != nil {
			rt.log.Warn().Err(err).Msg("could not use token from daemon")
		}
	}
	client.Listen()
}

func ensureSocketDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	return nil
}
