package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/waabox/devicelink/internal/domain"
	"github.com/waabox/devicelink/internal/metrics"
)

const (
	// DefaultMaxAttempts caps the token requests made for one device code.
	DefaultMaxAttempts = 180
	// DefaultPollTimeout caps the wall-clock time spent polling one device code.
	DefaultPollTimeout = 15 * time.Minute
	// DefaultSlowDownStep is added to the interval on every slow_down response.
	DefaultSlowDownStep = 5 * time.Second
)

// TokenExchanger performs one token request for a device code.
// GitHubDeviceFlow implements it.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, deviceCode string) (Exchange, error)
}

// PollerConfig holds the ceilings of the polling loop. Zero values take the defaults.
type PollerConfig struct {
	MinInterval  time.Duration
	MaxAttempts  int
	Timeout      time.Duration
	SlowDownStep time.Duration

	// Sleep waits d or until ctx is done. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now is the clock used for the wall-clock ceiling.
	Now func() time.Time
	// OnFinish is called once per operation, after polling for it has ceased.
	OnFinish func(op *Operation, res Result)
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = domain.DefaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollTimeout
	}
	if c.SlowDownStep <= 0 {
		c.SlowDownStep = DefaultSlowDownStep
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// PollOutcome is the terminal state of an Operation.
type PollOutcome int

const (
	// Succeeded means a token was received.
	Succeeded PollOutcome = iota + 1
	// Failed means polling ended with the error in Result.Err.
	Failed
	// TimedOut means the attempt or wall-clock ceiling was reached.
	TimedOut
	// Cancelled means Stop was called or a newer Start replaced the operation.
	Cancelled
)

func (o PollOutcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	}
	return "polling"
}

// Result is the single terminal resolution of an Operation.
// Err is nil for Succeeded and Cancelled.
type Result struct {
	Outcome  PollOutcome
	Token    string
	Err      error
	Attempts int
	// User is set when whoever polled also validated the token.
	User *domain.AuthenticatedUser
}

// Operation is one polling lifecycle for a device code.
type Operation struct {
	id      string
	session domain.DeviceFlowSession

	attempts  atomic.Int64
	cancelled atomic.Bool
	stopOnce  sync.Once
	stopWait  context.CancelFunc

	done   chan struct{}
	result Result
}

// ID identifies the operation in logs and bridge messages.
func (op *Operation) ID() string { return op.id }

// Session returns the device flow session being polled.
func (op *Operation) Session() domain.DeviceFlowSession { return op.session }

// Attempts returns the number of token requests issued so far.
func (op *Operation) Attempts() int { return int(op.attempts.Load()) }

// Cancelled reports whether Stop was called.
func (op *Operation) Cancelled() bool { return op.cancelled.Load() }

// Stop cancels the operation. No new request is scheduled once it returns;
// a request already in flight completes and its result is discarded.
func (op *Operation) Stop() {
	op.stopOnce.Do(func() {
		op.cancelled.Store(true)
		op.stopWait()
	})
}

// Done is closed once polling has ceased and the result is available.
func (op *Operation) Done() <-chan struct{} { return op.done }

// Result returns the terminal result. ok is false while still polling.
func (op *Operation) Result() (Result, bool) {
	select {
	case <-op.done:
		return op.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (op *Operation) Wait(ctx context.Context) (Result, error) {
	select {
	case <-op.done:
		return op.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Poller exchanges device codes for tokens. At most one Operation is active at a time.
type Poller struct {
	exchanger TokenExchanger
	cfg       PollerConfig
	log       zerolog.Logger

	mu      sync.Mutex
	current *Operation
}

// NewPoller creates a Poller.
func NewPoller(exchanger TokenExchanger, cfg PollerConfig, log zerolog.Logger) *Poller {
	return &Poller{
		exchanger: exchanger,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "poller").Logger(),
	}
}

// Start begins polling for session and returns the new operation.
// Any previous operation is stopped, and the first request of the new one is
// only issued after the previous one has ceased.
// Cancelling ctx cancels the operation.
func (p *Poller) Start(ctx context.Context, session domain.DeviceFlowSession) *Operation {
	waitCtx, stopWait := context.WithCancel(ctx)
	op := &Operation{
		id:       uuid.NewString(),
		session:  session,
		stopWait: stopWait,
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	prev := p.current
	p.current = op
	p.mu.Unlock()

	if prev != nil {
		p.log.Info().Str("op", prev.id).Str("next", op.id).Msg("stopping previous polling operation")
		prev.Stop()
	}

	go p.run(ctx, waitCtx, op, prev)
	return op
}

// Current returns the active operation, or nil.
func (p *Poller) Current() *Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop cancels the active operation, if any.
func (p *Poller) Stop() {
	if op := p.Current(); op != nil {
		op.Stop()
	}
}

func (p *Poller) run(ctx, waitCtx context.Context, op *Operation, prev *Operation) {
	log := p.log.With().Str("op", op.id).Logger()
	res := p.poll(ctx, waitCtx, op, prev, log)
	res.Attempts = op.Attempts()

	p.mu.Lock()
	if p.current == op {
		p.current = nil
	}
	p.mu.Unlock()

	op.stopWait()
	op.result = res
	close(op.done)

	metrics.PollOperations.WithLabelValues(res.Outcome.String()).Inc()
	ev := log.Info()
	if res.Err != nil {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("outcome", res.Outcome.String()).Int("attempts", res.Attempts).Msg("polling finished")

	if p.cfg.OnFinish != nil {
		p.cfg.OnFinish(op, res)
	}
}

func (p *Poller) poll(ctx, waitCtx context.Context, op *Operation, prev *Operation, log zerolog.Logger) Result {
	if prev != nil {
		select {
		case <-prev.Done():
		case <-waitCtx.Done():
			return Result{Outcome: Cancelled}
		}
	}

	interval := op.session.IntervalDuration()
	if interval < p.cfg.MinInterval {
		interval = p.cfg.MinInterval
	}
	timeout := p.cfg.Timeout
	if lifetime := op.session.Lifetime(); lifetime > 0 && lifetime < timeout {
		timeout = lifetime
	}
	deadline := p.cfg.Now().Add(timeout)
	log.Info().Dur("interval", interval).Dur("timeout", timeout).Int("max_attempts", p.cfg.MaxAttempts).Msg("polling started")

	for {
		if op.Cancelled() || ctx.Err() != nil {
			return Result{Outcome: Cancelled}
		}
		if n := op.Attempts(); n >= p.cfg.MaxAttempts {
			return timedOut(fmt.Errorf("no authorization after %d attempts", n))
		}
		if !p.cfg.Now().Before(deadline) {
			return timedOut(fmt.Errorf("no authorization within %s", timeout))
		}

		if err := p.cfg.Sleep(waitCtx, interval); err != nil {
			return Result{Outcome: Cancelled}
		}
		if op.Cancelled() || ctx.Err() != nil {
			return Result{Outcome: Cancelled}
		}
		if !p.cfg.Now().Before(deadline) {
			return timedOut(fmt.Errorf("no authorization within %s", timeout))
		}

		attempt := op.attempts.Add(1)
		ex, err := p.exchanger.ExchangeCode(ctx, op.session.DeviceCode)
		metrics.PollRequests.WithLabelValues(ex.Outcome.String()).Inc()
		if op.Cancelled() || ctx.Err() != nil {
			log.Debug().Int64("attempt", attempt).Msg("discarding response of cancelled operation")
			return Result{Outcome: Cancelled}
		}
		log.Debug().Int64("attempt", attempt).Str("outcome", ex.Outcome.String()).Msg("token poll")

		switch ex.Outcome {
		case TokenReceived:
			return Result{Outcome: Succeeded, Token: ex.AccessToken}
		case AuthorizationPending:
		case SlowDown:
			interval = p.slowDown(interval, ex.Interval)
			log.Info().Dur("interval", interval).Msg("provider asked to slow down")
		default:
			if err == nil {
				err = domain.NewAuthError(domain.KindTransportError, fmt.Errorf("unexpected outcome %s", ex.Outcome))
			}
			return Result{Outcome: Failed, Err: err}
		}
	}
}

// slowDown grows the interval by at least SlowDownStep, or to the provider's suggestion if larger.
func (p *Poller) slowDown(current time.Duration, suggested int) time.Duration {
	next := current + p.cfg.SlowDownStep
	if s := time.Duration(suggested) * time.Second; s > next {
		next = s
	}
	return next
}

func timedOut(err error) Result {
	return Result{Outcome: TimedOut, Err: domain.NewAuthError(domain.KindTimeout, err)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
