package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/waabox/devicelink/internal/auth"
	"github.com/waabox/devicelink/internal/authstate"
	"github.com/waabox/devicelink/internal/metrics"
)

type handlerFunc func(ctx context.Context, conn Conn, msg Message)

// Host runs in the daemon. It owns the poller, so polling survives the UI going away.
type Host struct {
	poller    *auth.Poller
	validator authstate.Validator
	log       zerolog.Logger

	setup    sync.Once
	handlers map[MessageType]handlerFunc

	mu       sync.Mutex
	conns    map[Conn]struct{}
	current  string
	unsent   []Message
	runCtx   context.Context
	finished sync.WaitGroup
}

// NewHost creates a Host. ctx bounds every polling operation the host starts,
// whichever connection asked for it. validator resolves the user before
// auth-success is sent.
func NewHost(ctx context.Context, poller *auth.Poller, validator authstate.Validator, log zerolog.Logger) *Host {
	return &Host{
		runCtx:    ctx,
		poller:    poller,
		validator: validator,
		log:       log.With().Str("component", "bridge-host").Logger(),
		conns:     make(map[Conn]struct{}),
	}
}

func (h *Host) init() {
	h.setup.Do(func() {
		h.handlers = map[MessageType]handlerFunc{
			CmdStartPolling: h.handleStart,
			CmdStopPolling:  h.handleStop,
			CmdStatus:       h.handleStatus,
		}
	})
}

// Polling reports whether an operation is active.
func (h *Host) Polling() bool {
	return h.poller.Current() != nil
}

// Serve reads commands from conn until it is closed or ctx is done.
// Polling started through conn keeps running after Serve returns; its terminal
// event goes to whichever connections are attached at that time, or is held
// for the next one.
func (h *Host) Serve(ctx context.Context, conn Conn) error {
	h.init()
	h.attach(conn)
	defer h.detach(conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		handler, ok := h.handlers[msg.Type]
		if !ok {
			h.log.Warn().Str("type", string(msg.Type)).Msg("ignoring unknown command")
			continue
		}
		handler(ctx, conn, msg)
	}
}

// ListenAndServe accepts UI connections on a unix socket until ctx is done.
func (h *Host) ListenAndServe(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		ln.Close()
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	h.log.Info().Str("socket", socketPath).Msg("bridge listening")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Serve(ctx, NewStreamConn(nc)); err != nil {
				h.log.Warn().Err(err).Msg("bridge connection ended")
			}
		}()
	}
}

// Wait blocks until every started operation has sent its terminal event.
func (h *Host) Wait() {
	h.finished.Wait()
}

func (h *Host) handleStart(_ context.Context, conn Conn, msg Message) {
	if msg.OpID == "" || msg.DeviceCode == "" {
		h.sendTo(conn, Message{Type: EvtAuthError, OpID: msg.OpID, Error: "start-polling requires op_id and device_code"})
		return
	}
	h.mu.Lock()
	h.current = msg.OpID
	h.mu.Unlock()

	// Polling is bound to the daemon's lifetime, not to the UI connection.
	op := h.poller.Start(h.runCtx, msg.session())
	h.log.Info().Str("op", msg.OpID).Str("poll_op", op.ID()).Msg("polling relocated to daemon")

	h.finished.Add(1)
	go func() {
		defer h.finished.Done()
		<-op.Done()
		res, _ := op.Result()
		if res.Outcome == auth.Succeeded && res.User == nil && h.validator != nil {
			user, err := h.validator.Validate(h.runCtx, res.Token)
			if err != nil {
				res = auth.Result{Outcome: auth.Failed, Err: err, Attempts: res.Attempts}
			} else {
				res.User = &user
			}
		}
		h.mu.Lock()
		if h.current == msg.OpID {
			h.current = ""
		}
		h.mu.Unlock()
		h.broadcast(eventFor(msg.OpID, res))
	}()
}

func (h *Host) handleStop(_ context.Context, _ Conn, msg Message) {
	h.mu.Lock()
	current := h.current
	h.mu.Unlock()
	if msg.OpID != "" && msg.OpID != current {
		h.log.Debug().Str("op", msg.OpID).Msg("stop for inactive operation ignored")
		return
	}
	h.poller.Stop()
}

func (h *Host) handleStatus(_ context.Context, conn Conn, _ Message) {
	h.mu.Lock()
	current := h.current
	h.mu.Unlock()
	h.sendTo(conn, Message{Type: EvtStatus, OpID: current, Polling: h.Polling()})
}

func (h *Host) attach(conn Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	unsent := h.unsent
	h.unsent = nil
	h.mu.Unlock()
	for _, msg := range unsent {
		h.sendTo(conn, msg)
	}
}

func (h *Host) detach(conn Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

func (h *Host) broadcast(msg Message) {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	if len(conns) == 0 && msg.Type != EvtAuthCancelled {
		h.unsent = append(h.unsent, msg)
	}
	h.mu.Unlock()

	metrics.BridgeEvents.WithLabelValues(string(msg.Type)).Inc()
	h.log.Info().Str("op", msg.OpID).Str("event", string(msg.Type)).Int("listeners", len(conns)).Msg("operation finished")
	for _, c := range conns {
		h.sendTo(c, msg)
	}
}

func (h *Host) sendTo(conn Conn, msg Message) {
	if err := conn.Send(msg); err != nil {
		h.log.Warn().Err(err).Str("event", string(msg.Type)).Msg("sending event failed")
	}
}
