package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/waabox/devicelink/internal/auth"
	"github.com/waabox/devicelink/internal/authstate"
	"github.com/waabox/devicelink/internal/domain"
)

// Client is the UI side of the bridge. It implements authstate.TokenWaiter,
// so the state machine can hand polling to the daemon.
type Client struct {
	conn Conn
	log  zerolog.Logger

	// OnUnclaimed receives terminal events for operations this client did not start,
	// e.g. one that finished while no UI was attached.
	OnUnclaimed func(Message)

	readOnce sync.Once

	mu       sync.Mutex
	pending  map[string]*remoteOp
	statusCh []chan Message
	closeErr error
}

var _ authstate.TokenWaiter = (*Client)(nil)

// NewClient wraps conn. The reader loop starts with the first call that needs it.
func NewClient(conn Conn, log zerolog.Logger) *Client {
	return &Client{
		conn:    conn,
		log:     log.With().Str("component", "bridge-client").Logger(),
		pending: make(map[string]*remoteOp),
	}
}

// Dial connects to a daemon listening on socketPath.
func Dial(ctx context.Context, socketPath string, log zerolog.Logger) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return NewClient(NewStreamConn(nc), log), nil
}

// Close closes the connection. Pending operations resolve as transport errors.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Start asks the daemon to poll for session.
func (c *Client) Start(ctx context.Context, session domain.DeviceFlowSession) authstate.PollHandle {
	c.listen()
	op := &remoteOp{id: uuid.NewString(), client: c, done: make(chan struct{})}

	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		op.resolve(transportResult(err))
		return op
	}
	c.pending[op.id] = op
	c.mu.Unlock()

	if err := c.conn.Send(startMessage(op.id, session)); err != nil {
		c.claim(op.id)
		op.resolve(transportResult(err))
		return op
	}
	c.log.Debug().Str("op", op.id).Msg("polling handed to daemon")

	go func() {
		select {
		case <-ctx.Done():
			op.Stop()
		case <-op.done:
		}
	}()
	return op
}

// Status asks the daemon whether it is polling.
func (c *Client) Status(ctx context.Context) (Message, error) {
	c.listen()
	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return Message{}, err
	}
	c.statusCh = append(c.statusCh, ch)
	c.mu.Unlock()

	if err := c.conn.Send(Message{Type: CmdStatus}); err != nil {
		return Message{}, err
	}
	select {
	case msg, ok := <-ch:
		if !ok {
			return Message{}, errors.New("daemon connection closed")
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Listen starts the reader loop without starting an operation, so held events are received.
func (c *Client) Listen() {
	c.listen()
}

func (c *Client) listen() {
	c.readOnce.Do(func() {
		go c.readLoop()
	})
}

func (c *Client) readLoop() {
	for {
		msg, err := c.conn.Recv()
		if err != nil {
			c.shutdown(err)
			return
		}
		switch {
		case msg.Type == EvtStatus:
			c.mu.Lock()
			if len(c.statusCh) > 0 {
				ch := c.statusCh[0]
				c.statusCh = c.statusCh[1:]
				ch <- msg
			}
			c.mu.Unlock()
		case msg.Terminal():
			op := c.claim(msg.OpID)
			if op == nil {
				c.log.Debug().Str("op", msg.OpID).Str("event", string(msg.Type)).Msg("event for unknown operation")
				if c.OnUnclaimed != nil {
					c.OnUnclaimed(msg)
				}
				continue
			}
			op.resolve(resultFor(msg))
		default:
			c.log.Warn().Str("type", string(msg.Type)).Msg("ignoring unexpected message")
		}
	}
}

func (c *Client) claim(id string) *remoteOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return op
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	c.closeErr = fmt.Errorf("daemon connection closed: %w", err)
	ops := c.pending
	c.pending = make(map[string]*remoteOp)
	for _, ch := range c.statusCh {
		close(ch)
	}
	c.statusCh = nil
	closeErr := c.closeErr
	c.mu.Unlock()
	for _, op := range ops {
		op.resolve(transportResult(closeErr))
	}
}

func transportResult(err error) auth.Result {
	return auth.Result{Outcome: auth.Failed, Err: domain.NewAuthError(domain.KindTransportError, err)}
}

// remoteOp is a polling operation running in the daemon.
type remoteOp struct {
	id     string
	client *Client

	stopOnce  sync.Once
	cancelled bool
	mu        sync.Mutex

	resolveOnce sync.Once
	done        chan struct{}
	result      auth.Result
}

// Stop asks the daemon to stop. Whatever the daemon reports afterwards resolves as cancelled.
func (op *remoteOp) Stop() {
	op.stopOnce.Do(func() {
		op.mu.Lock()
		op.cancelled = true
		op.mu.Unlock()
		if err := op.client.conn.Send(Message{Type: CmdStopPolling, OpID: op.id}); err != nil {
			// Without a daemon to answer, resolve locally.
			op.client.claim(op.id)
			op.resolve(auth.Result{Outcome: auth.Cancelled})
		}
	})
}

func (op *remoteOp) resolve(res auth.Result) {
	op.resolveOnce.Do(func() {
		op.mu.Lock()
		if op.cancelled {
			res = auth.Result{Outcome: auth.Cancelled}
		}
		op.mu.Unlock()
		op.result = res
		close(op.done)
	})
}

func (op *remoteOp) Wait(ctx context.Context) (auth.Result, error) {
	select {
	case <-op.done:
		return op.result, nil
	case <-ctx.Done():
		return auth.Result{}, ctx.Err()
	}
}
