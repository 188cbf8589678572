package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Conn carries Messages between the two processes.
// Send is safe for concurrent use; Recv must be called from one goroutine.
type Conn interface {
	Send(msg Message) error
	Recv() (Message, error)
	Close() error
}

// maxLine bounds a single encoded message.
const maxLine = 64 * 1024

type streamConn struct {
	rw  io.ReadWriteCloser
	mu  sync.Mutex
	enc *json.Encoder
	sc  *bufio.Scanner
}

// NewStreamConn speaks newline-delimited JSON over rw, e.g. a unix socket.
func NewStreamConn(rw io.ReadWriteCloser) Conn {
	sc := bufio.NewScanner(rw)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	return &streamConn{rw: rw, enc: json.NewEncoder(rw), sc: sc}
}

func (c *streamConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Type, err)
	}
	return nil
}

func (c *streamConn) Recv() (Message, error) {
	for c.sc.Scan() {
		line := c.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, fmt.Errorf("decoding message: %w", err)
		}
		return msg, nil
	}
	if err := c.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

func (c *streamConn) Close() error {
	return c.rw.Close()
}

type pipeEnd struct {
	in     <-chan Message
	out    chan<- Message
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns two connected in-process Conns. Closing either closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan Message, 16)
	ba := make(chan Message, 16)
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &pipeEnd{in: ba, out: ab, closed: closed, once: once}
	b := &pipeEnd{in: ab, out: ba, closed: closed, once: once}
	return a, b
}

func (p *pipeEnd) Send(msg Message) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

func (p *pipeEnd) Recv() (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		// Drain what was sent before the close.
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return Message{}, io.EOF
		}
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
