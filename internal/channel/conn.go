package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Conn is a framed JSON message connection. Receive must be called from a
// single goroutine; Send is safe for concurrent use.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	mu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn wraps a byte stream
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc:  rwc,
		r:    bufio.NewReader(rwc),
		done: make(chan struct{}),
	}
}

// Receive reads the next frame and returns its JSON payload
func (c *Conn) Receive() (json.RawMessage, error) {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("invalid JSON frame of %d bytes", len(payload))
	}
	return payload, nil
}

// Send encodes v as JSON and writes it as one frame
func (c *Conn) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	if err := WriteFrame(c.rwc, payload); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// Done is closed once the connection has been closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// TCPDialer connects to a relay over TCP
type TCPDialer struct {
	Addr    string
	Timeout time.Duration
}

// Dial opens a connection to the relay
func (d TCPDialer) Dial(ctx context.Context) (*Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	nc, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", d.Addr, err)
	}
	return NewConn(nc), nil
}

// Listener accepts bridge connections
type Listener struct {
	ln net.Listener
}

// Listen announces on a TCP address
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next connection
func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(nc), nil
}

// Addr returns the listening address
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops listening
func (l *Listener) Close() error {
	return l.ln.Close()
}
