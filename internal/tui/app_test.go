package tui_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/devicelink/internal/domain"
	"github.com/waabox/devicelink/internal/tui"
)

// fakeController satisfies tui.Controller for TUI tests.
type fakeController struct {
	mu               sync.Mutex
	state            domain.AuthState
	connectCalled    int
	cancelCalled     bool
	disconnectCalled bool
	checkCalled      bool
	disconnectErr    error
}

func (f *fakeController) State() domain.AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeController) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalled++
	return nil
}
func (f *fakeController) CheckValidity(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalled = true
	return nil
}
func (f *fakeController) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalled = true
	return f.disconnectErr
}
func (f *fakeController) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalled = true
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func withState(t *testing.T, m tui.AuthModel, s domain.AuthState) tui.AuthModel {
	t.Helper()
	updated, _ := m.Update(tui.StateMsg{State: s})
	return updated.(tui.AuthModel)
}

var connectingWithCode = domain.AuthState{
	Status: domain.StatusConnecting,
	Session: &domain.DeviceFlowSession{
		DeviceCode:      "D1",
		UserCode:        "WDJB-MJHT",
		VerificationURI: "https://github.com/login/device",
		ExpiresIn:       900,
		Interval:        5,
	},
}

func TestAuth_InitialViewIsLoading(t *testing.T) {
	ctrl := &fakeController{state: domain.AuthState{Status: domain.StatusLoading}}
	m := tui.NewAuthModel(ctrl)

	view := m.View()
	if !strings.Contains(view, "Checking stored credentials") {
		t.Errorf("expected loading message, got:\n%s", view)
	}
}

func TestAuth_InitChecksStoredToken(t *testing.T) {
	ctrl := &fakeController{state: domain.AuthState{Status: domain.StatusLoading}}
	m := tui.NewAuthModel(ctrl)

	batch, ok := m.Init()().(tea.BatchMsg)
	if !ok {
		t.Fatal("expected Init to return a batch")
	}
	for _, cmd := range batch {
		if cmd != nil {
			cmd()
		}
	}
	if !ctrl.checkCalled {
		t.Error("expected CheckValidity to run on Init")
	}
}

func TestAuth_ConnectKey_CallsController(t *testing.T) {
	ctrl := &fakeController{}
	m := withState(t, tui.NewAuthModel(ctrl), domain.AuthState{Status: domain.StatusDisconnected})

	_, cmd := m.Update(key("c"))
	if cmd == nil {
		t.Fatal("expected a connect command")
	}
	cmd()

	if ctrl.connectCalled != 1 {
		t.Errorf("expected Connect to be called once, got %d", ctrl.connectCalled)
	}
}

func TestAuth_ConnectKey_IgnoredWhileConnecting(t *testing.T) {
	ctrl := &fakeController{}
	m := withState(t, tui.NewAuthModel(ctrl), connectingWithCode)

	_, cmd := m.Update(key("c"))
	if cmd != nil {
		cmd()
	}

	if ctrl.connectCalled != 0 {
		t.Errorf("expected no Connect while connecting, got %d", ctrl.connectCalled)
	}
}

func TestAuth_ConnectingShowsCode(t *testing.T) {
	m := withState(t, tui.NewAuthModel(&fakeController{}), connectingWithCode)

	view := m.View()
	for _, want := range []string{"WDJB-MJHT", "https://github.com/login/device", "Waiting for authorization", "14m left"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view, got:\n%s", want, view)
		}
	}
}

func TestAuth_CountdownUsesIssueTime(t *testing.T) {
	issued := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	now := issued
	m := tui.NewAuthModel(&fakeController{})
	m.Now = func() time.Time { return now }
	m = withState(t, m, connectingWithCode)

	now = issued.Add(14*time.Minute + 30*time.Second)
	if view := m.View(); !strings.Contains(view, "30s left") {
		t.Errorf("expected 30s left, got:\n%s", view)
	}
	now = issued.Add(16 * time.Minute)
	if view := m.View(); !strings.Contains(view, "expired") {
		t.Errorf("expected expired code, got:\n%s", view)
	}
}

func TestAuth_CancelKey_CallsController(t *testing.T) {
	ctrl := &fakeController{}
	m := withState(t, tui.NewAuthModel(ctrl), connectingWithCode)

	_, cmd := m.Update(key("x"))
	if cmd == nil {
		t.Fatal("expected a cancel command")
	}
	cmd()

	if !ctrl.cancelCalled {
		t.Error("expected Cancel to be called after x")
	}
}

func TestAuth_CopyKey_CopiesUserCode(t *testing.T) {
	var copied string
	m := tui.NewAuthModel(&fakeController{})
	m.CopyToClipboard = func(s string) error { copied = s; return nil }
	m = withState(t, m, connectingWithCode)

	_, cmd := m.Update(key("y"))
	if cmd == nil {
		t.Fatal("expected a copy command")
	}
	updated, _ := m.Update(cmd())

	if copied != "WDJB-MJHT" {
		t.Errorf("expected user code on clipboard, got %q", copied)
	}
	if view := updated.(tui.AuthModel).View(); !strings.Contains(view, "Code copied") {
		t.Errorf("expected copy notice, got:\n%s", view)
	}
}

func TestAuth_CopyFailureIsShown(t *testing.T) {
	m := tui.NewAuthModel(&fakeController{})
	m.CopyToClipboard = func(string) error { return errors.New("no clipboard") }
	m = withState(t, m, connectingWithCode)

	_, cmd := m.Update(key("y"))
	updated, _ := m.Update(cmd())

	if view := updated.(tui.AuthModel).View(); !strings.Contains(view, "no clipboard") {
		t.Errorf("expected copy error in view, got:\n%s", view)
	}
}

func TestAuth_AutoCopyOnDeviceCode(t *testing.T) {
	var copied string
	m := tui.NewAuthModel(&fakeController{})
	m.CopyToClipboard = func(s string) error { copied = s; return nil }
	m.AutoCopy = true

	_, cmd := m.Update(tui.DeviceCodeMsg{Session: *connectingWithCode.Session})
	if cmd == nil {
		t.Fatal("expected a copy command")
	}
	cmd()
	if copied != "WDJB-MJHT" {
		t.Errorf("expected user code on clipboard, got %q", copied)
	}
}

func TestAuth_ConnectedShowsUser(t *testing.T) {
	m := withState(t, tui.NewAuthModel(&fakeController{}), domain.AuthState{
		Status: domain.StatusConnected,
		User:   &domain.AuthenticatedUser{Login: "octocat", Name: "The Octocat", ProfileURL: "https://github.com/octocat"},
	})

	view := m.View()
	if !strings.Contains(view, "The Octocat (@octocat)") {
		t.Errorf("expected user in view, got:\n%s", view)
	}
	if !strings.Contains(view, "d: disconnect") {
		t.Errorf("expected connected footer, got:\n%s", view)
	}
}

func TestAuth_DisconnectKey_ShowsConfirmPrompt(t *testing.T) {
	m := withState(t, tui.NewAuthModel(&fakeController{}), domain.AuthState{
		Status: domain.StatusConnected,
		User:   &domain.AuthenticatedUser{Login: "octocat"},
	})

	updated, _ := m.Update(key("d"))
	view := updated.(tui.AuthModel).View()

	if !strings.Contains(view, "Disconnect @octocat") {
		t.Errorf("expected confirm prompt in view, got:\n%s", view)
	}
}

func TestAuth_ConfirmDisconnect_DismissedOnOtherKey(t *testing.T) {
	ctrl := &fakeController{}
	m := withState(t, tui.NewAuthModel(ctrl), domain.AuthState{Status: domain.StatusConnected, User: &domain.AuthenticatedUser{Login: "octocat"}})

	m1, _ := m.Update(key("d"))
	m2, cmd := m1.(tui.AuthModel).Update(key("n"))
	if cmd != nil {
		cmd()
	}

	if strings.Contains(m2.(tui.AuthModel).View(), "forget the token") {
		t.Error("expected confirm prompt to be dismissed after 'n'")
	}
	if ctrl.disconnectCalled {
		t.Error("Disconnect must not run without confirmation")
	}
}

func TestAuth_ConfirmDisconnect_YKey_CallsController(t *testing.T) {
	ctrl := &fakeController{disconnectErr: errors.New("keyring locked")}
	m := withState(t, tui.NewAuthModel(ctrl), domain.AuthState{Status: domain.StatusConnected, User: &domain.AuthenticatedUser{Login: "octocat"}})

	m1, _ := m.Update(key("d"))
	m2, cmd := m1.(tui.AuthModel).Update(key("y"))
	if cmd == nil {
		t.Fatal("expected a disconnect command")
	}
	m3, _ := m2.(tui.AuthModel).Update(cmd())

	if !ctrl.disconnectCalled {
		t.Error("expected Disconnect to be called after confirming with y")
	}
	if view := m3.(tui.AuthModel).View(); !strings.Contains(view, "keyring locked") {
		t.Errorf("expected disconnect error notice, got:\n%s", view)
	}
}

func TestAuth_DisconnectedShowsError(t *testing.T) {
	m := withState(t, tui.NewAuthModel(&fakeController{}), domain.AuthState{
		Status: domain.StatusDisconnected,
		Err:    "GitHub is rate limiting sign-in requests. Wait a few minutes before trying again.",
	})

	view := m.View()
	if !strings.Contains(view, "Wait a few minutes") {
		t.Errorf("expected error message in view, got:\n%s", view)
	}
	if !strings.Contains(view, "c: connect") {
		t.Errorf("expected connect hint, got:\n%s", view)
	}
}

func TestAuth_OfflineKeepsTokenMessage(t *testing.T) {
	m := withState(t, tui.NewAuthModel(&fakeController{}), domain.AuthState{
		Status:  domain.StatusDisconnected,
		Offline: true,
		Err:     "Offline, the stored token was kept. Could not reach GitHub: dial tcp: timeout",
	})

	view := m.View()
	if !strings.Contains(view, "unreachable") {
		t.Errorf("expected offline message, got:\n%s", view)
	}
	if strings.Contains(view, "No GitHub account is linked") {
		t.Errorf("offline state must not claim no account is linked, got:\n%s", view)
	}
}

func TestAuth_InvalidOffersReconnect(t *testing.T) {
	ctrl := &fakeController{}
	m := withState(t, tui.NewAuthModel(ctrl), domain.AuthState{Status: domain.StatusInvalid, Err: "The stored GitHub token is no longer valid. Sign in again."})

	if view := m.View(); !strings.Contains(view, "rejected") {
		t.Errorf("expected invalid message, got:\n%s", view)
	}
	_, cmd := m.Update(key("c"))
	if cmd == nil {
		t.Fatal("expected a connect command")
	}
	cmd()
	if ctrl.connectCalled != 1 {
		t.Errorf("expected Connect after c in invalid state, got %d", ctrl.connectCalled)
	}
}

func TestAuth_QuitKey(t *testing.T) {
	m := withState(t, tui.NewAuthModel(&fakeController{}), connectingWithCode)

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}
