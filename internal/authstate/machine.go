// Package authstate turns the device flow into the user-facing authentication state.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/waabox/devicelink/internal/auth"
	"github.com/waabox/devicelink/internal/domain"
	"github.com/waabox/devicelink/internal/metrics"
)

// CodeRequester starts a device flow. auth.GitHubDeviceFlow implements it.
type CodeRequester interface {
	RequestCode(ctx context.Context) (domain.DeviceFlowSession, error)
}

// Validator resolves the user behind a token. auth.GitHubValidator implements it.
type Validator interface {
	Validate(ctx context.Context, token string) (domain.AuthenticatedUser, error)
}

// CredentialStore persists the token. tokenstore.Store implements it.
type CredentialStore interface {
	Save(cred domain.AuthCredential) error
	Load() (domain.AuthCredential, bool)
	Remove() error
}

// Notifier shows the device code to the user.
type Notifier interface {
	DeviceCode(session domain.DeviceFlowSession)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(session domain.DeviceFlowSession)

// DeviceCode calls f(session).
func (f NotifierFunc) DeviceCode(session domain.DeviceFlowSession) { f(session) }

// PollHandle is a running polling operation. *auth.Operation implements it.
type PollHandle interface {
	Wait(ctx context.Context) (auth.Result, error)
	Stop()
}

// TokenWaiter starts polling for a session, either in-process or in the daemon.
type TokenWaiter interface {
	Start(ctx context.Context, session domain.DeviceFlowSession) PollHandle
}

type localWaiter struct {
	poller *auth.Poller
}

// LocalWaiter polls in the current process.
func LocalWaiter(p *auth.Poller) TokenWaiter {
	return localWaiter{poller: p}
}

func (w localWaiter) Start(ctx context.Context, session domain.DeviceFlowSession) PollHandle {
	return w.poller.Start(ctx, session)
}

// Deps are the collaborators of a Machine. Notifier may be nil.
type Deps struct {
	Codes     CodeRequester
	Waiter    TokenWaiter
	Validator Validator
	Store     CredentialStore
	Notifier  Notifier
	Log       zerolog.Logger
	Now       func() time.Time
}

// Machine owns the authentication state. All methods are safe for concurrent use.
type Machine struct {
	codes     CodeRequester
	waiter    TokenWaiter
	validator Validator
	store     CredentialStore
	notifier  Notifier
	log       zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	state      domain.AuthState
	seq        uint64
	gen        uint64
	connecting bool
	handle     PollHandle
	cancel     context.CancelFunc
	observers  map[int]func(domain.AuthState)
	nextObs    int

	notifyMu  sync.Mutex
	pending   []published
	draining  bool
	delivered uint64

	validity singleflight.Group
}

// New creates a Machine in the loading state.
func New(deps Deps) *Machine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		codes:     deps.Codes,
		waiter:    deps.Waiter,
		validator: deps.Validator,
		store:     deps.Store,
		notifier:  deps.Notifier,
		log:       deps.Log.With().Str("component", "authstate").Logger(),
		now:       now,
		state:     domain.AuthState{Status: domain.StatusLoading},
		observers: make(map[int]func(domain.AuthState)),
	}
}

// State returns the current state.
func (m *Machine) State() domain.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to receive every state change. The returned func unregisters it.
// fn runs outside the machine's locks and may call back into the Machine; a state
// published from inside fn is delivered after fn returns.
func (m *Machine) Subscribe(fn func(domain.AuthState)) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Token returns the stored credential while connected.
func (m *Machine) Token() (domain.AuthCredential, bool) {
	m.mu.Lock()
	connected := m.state.Status == domain.StatusConnected
	m.mu.Unlock()
	if !connected {
		return domain.AuthCredential{}, false
	}
	return m.store.Load()
}

// Connect runs the device flow to completion. It is a no-op while another
// Connect is in progress. Failures end in the disconnected or invalid state
// with the message kept in AuthState.Err; the error is also returned.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		metrics.ConnectCoalesced.Inc()
		m.log.Warn().Msg("connect ignored: already connecting")
		return nil
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(ctx)
	m.connecting = true
	m.cancel = cancel
	// A new link replaces the old one; nothing usable may survive a failed attempt.
	if err := m.store.Remove(); err != nil {
		m.log.Warn().Err(err).Msg("clearing previous token failed")
	}
	snapshot := m.setLocked(domain.AuthState{Status: domain.StatusConnecting})
	m.mu.Unlock()
	m.publish(snapshot)
	metrics.ConnectAttempts.Inc()

	defer func() {
		cancel()
		m.mu.Lock()
		if m.gen == gen {
			m.connecting = false
			m.handle = nil
			m.cancel = nil
		}
		m.mu.Unlock()
	}()

	session, err := m.codes.RequestCode(ctx)
	if err != nil {
		return m.fail(gen, fmt.Errorf("requesting device code: %w", err))
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	snapshot = m.setLocked(domain.AuthState{Status: domain.StatusConnecting, Session: &session})
	m.mu.Unlock()
	m.publish(snapshot)
	m.log.Info().Str("user_code", session.UserCode).Str("verification_uri", session.VerificationURI).Msg("device code issued")
	if m.notifier != nil {
		m.notifier.DeviceCode(session)
	}

	handle := m.waiter.Start(ctx, session)
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		handle.Stop()
		return nil
	}
	m.handle = handle
	m.mu.Unlock()

	res, err := handle.Wait(ctx)
	if err != nil {
		// ctx was cancelled by Cancel, Disconnect, or the caller.
		handle.Stop()
		return m.abandon(gen)
	}

	switch res.Outcome {
	case auth.Succeeded:
	case auth.Cancelled:
		return m.abandon(gen)
	default:
		return m.fail(gen, res.Err)
	}

	user := res.User
	if user == nil {
		u, err := m.validator.Validate(ctx, res.Token)
		if err != nil {
			return m.fail(gen, fmt.Errorf("validating new token: %w", err))
		}
		user = &u
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	if err := m.store.Save(domain.AuthCredential{AccessToken: res.Token, FetchedAt: m.now()}); err != nil {
		_ = m.store.Remove()
		snapshot = m.setLocked(domain.AuthState{Status: domain.StatusDisconnected, Err: "Could not save the GitHub token: " + err.Error()})
		m.mu.Unlock()
		m.publish(snapshot)
		return err
	}
	snapshot = m.setLocked(domain.AuthState{Status: domain.StatusConnected, User: user})
	m.mu.Unlock()
	m.publish(snapshot)
	m.log.Info().Str("login", user.Login).Msg("connected")
	return nil
}

// CheckValidity validates the stored credential, if any. Concurrent calls share one check.
// It does nothing while a Connect is in progress.
func (m *Machine) CheckValidity(ctx context.Context) error {
	_, err, _ := m.validity.Do("check", func() (interface{}, error) {
		return nil, m.checkValidity(ctx)
	})
	return err
}

func (m *Machine) checkValidity(ctx context.Context) error {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		m.log.Debug().Msg("validity check skipped while connecting")
		return nil
	}
	gen := m.gen
	m.mu.Unlock()

	cred, ok := m.store.Load()
	if !ok {
		m.apply(gen, domain.AuthState{Status: domain.StatusDisconnected})
		return nil
	}

	user, err := m.validator.Validate(ctx, cred.AccessToken)
	switch {
	case err == nil:
		m.apply(gen, domain.AuthState{Status: domain.StatusConnected, User: &user})
		return nil
	case errors.Is(err, domain.ErrInvalidCredential):
		m.log.Warn().Err(err).Msg("stored token rejected, clearing it")
		m.mu.Lock()
		if m.gen == gen && !m.connecting {
			if rmErr := m.store.Remove(); rmErr != nil {
				m.log.Error().Err(rmErr).Msg("clearing rejected token failed")
			}
		}
		m.mu.Unlock()
		m.apply(gen, domain.AuthState{Status: domain.StatusInvalid, Err: domain.UserMessage(err)})
		return err
	default:
		// The provider could not be reached; the token may still be good.
		m.log.Warn().Err(err).Msg("validating stored token failed, keeping it")
		m.apply(gen, domain.AuthState{
			Status:  domain.StatusDisconnected,
			Offline: true,
			Err:     "Offline, the stored token was kept. " + domain.UserMessage(err),
		})
		return err
	}
}

// Adopt stores a token obtained by polling this Machine did not start, such as
// a daemon result held while no UI was attached. It is ignored while connecting.
// A failed validation leaves the current state and credential untouched.
func (m *Machine) Adopt(ctx context.Context, token string, user *domain.AuthenticatedUser) error {
	if token == "" {
		return domain.NewAuthError(domain.KindInvalidCredential, errors.New("empty token"))
	}
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		m.log.Debug().Msg("adopt skipped while connecting")
		return nil
	}
	gen := m.gen
	m.mu.Unlock()

	if user == nil {
		u, err := m.validator.Validate(ctx, token)
		if err != nil {
			m.log.Warn().Err(err).Msg("adopted token failed validation")
			return fmt.Errorf("validating adopted token: %w", err)
		}
		user = &u
	}

	m.mu.Lock()
	if m.gen != gen || m.connecting {
		m.mu.Unlock()
		return nil
	}
	if err := m.store.Save(domain.AuthCredential{AccessToken: token, FetchedAt: m.now()}); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("saving adopted token: %w", err)
	}
	snapshot := m.setLocked(domain.AuthState{Status: domain.StatusConnected, User: user})
	m.mu.Unlock()
	m.publish(snapshot)
	m.log.Info().Str("login", user.Login).Msg("connected with token from daemon")
	return nil
}

// Disconnect cancels any polling, clears the stored credential and resets to disconnected.
func (m *Machine) Disconnect() error {
	m.mu.Lock()
	m.abortLocked()
	err := m.store.Remove()
	state := domain.AuthState{Status: domain.StatusDisconnected}
	if err != nil {
		state.Err = err.Error()
	}
	snapshot := m.setLocked(state)
	m.mu.Unlock()
	m.publish(snapshot)
	m.log.Info().Msg("disconnected")
	return err
}

// Cancel stops an in-progress Connect and returns to disconnected without an error.
func (m *Machine) Cancel() {
	m.mu.Lock()
	if !m.connecting {
		m.mu.Unlock()
		return
	}
	m.abortLocked()
	snapshot := m.setLocked(domain.AuthState{Status: domain.StatusDisconnected})
	m.mu.Unlock()
	m.publish(snapshot)
	m.log.Info().Msg("connect cancelled")
}

// abortLocked invalidates the running Connect, if any.
func (m *Machine) abortLocked() {
	m.gen++
	if m.handle != nil {
		m.handle.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.connecting = false
	m.handle = nil
	m.cancel = nil
}

func (m *Machine) fail(gen uint64, err error) error {
	status := domain.StatusDisconnected
	if errors.Is(err, domain.ErrInvalidCredential) {
		status = domain.StatusInvalid
	}
	m.log.Warn().Err(err).Str("kind", string(domain.KindOf(err))).Msg("connect failed")
	m.apply(gen, domain.AuthState{Status: status, Err: domain.UserMessage(err)})
	return err
}

// abandon handles a poll that ended without a result the caller asked for.
func (m *Machine) abandon(gen uint64) error {
	m.apply(gen, domain.AuthState{Status: domain.StatusDisconnected})
	return nil
}

// apply sets state only if no Connect, Cancel or Disconnect happened since gen was read.
func (m *Machine) apply(gen uint64, state domain.AuthState) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	snapshot := m.setLocked(state)
	m.mu.Unlock()
	m.publish(snapshot)
}

type published struct {
	seq       uint64
	state     domain.AuthState
	observers []func(domain.AuthState)
}

func (m *Machine) setLocked(state domain.AuthState) published {
	m.state = state
	m.seq++
	obs := make([]func(domain.AuthState), 0, len(m.observers))
	for i := 0; i < m.nextObs; i++ {
		if fn, ok := m.observers[i]; ok {
			obs = append(obs, fn)
		}
	}
	return published{seq: m.seq, state: state, observers: obs}
}

// publish delivers a state to observers, dropping it if a newer one was already delivered.
// One goroutine at a time drains the queue with notifyMu released while observers
// run, so an observer that calls back into the Machine only enqueues its state.
func (m *Machine) publish(p published) {
	m.notifyMu.Lock()
	m.pending = append(m.pending, p)
	if m.draining {
		m.notifyMu.Unlock()
		return
	}
	m.draining = true
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		if next.seq <= m.delivered {
			continue
		}
		m.delivered = next.seq
		m.notifyMu.Unlock()
		for _, fn := range next.observers {
			fn(next.state)
		}
		m.notifyMu.Lock()
	}
	m.draining = false
	m.notifyMu.Unlock()
}
