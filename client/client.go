// Package client implements the policy service client: one persistent TCP
// connection carrying length-prefixed observation/action round trips.
//
// A failed round trip never panics and never retries. The caller receives
// types.ZeroAction together with the error and decides what to do next;
// Reconnect re-dials explicitly.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/justapithecus/marksman/ipc"
	"github.com/justapithecus/marksman/types"
)

// DefaultDialTimeout bounds the initial connect when ctx has no deadline.
const DefaultDialTimeout = 5 * time.Second

// Config configures the policy client.
type Config struct {
	Host string
	Port int
	// MaxMessageBytes caps the response payload size. Zero means ipc.MaxPayloadSize.
	MaxMessageBytes uint32
	// RequestTimeout bounds each round trip. Zero means no timeout.
	RequestTimeout time.Duration
	// DialTimeout bounds connect attempts. Zero means DefaultDialTimeout.
	DialTimeout time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client owns a single connection to the policy service.
// Round trips are serialized; at most one request is in flight.
type Client struct {
	cfg Config

	mu      sync.Mutex
	conn    net.Conn
	decoder *ipc.FrameDecoder
	closed  bool
}

// Dial connects to the policy service.
// Failure is returned as a *ConnectionError.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{cfg: cfg}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	timeout := c.cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		return &ConnectionError{Addr: c.cfg.Addr(), Err: err}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	c.conn = conn
	c.decoder = ipc.NewFrameDecoderWithLimit(conn, c.cfg.MaxMessageBytes)
	return nil
}

// Addr returns the policy service address.
func (c *Client) Addr() string {
	return c.cfg.Addr()
}

// Healthy reports whether the connection is usable for the next round trip.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil
}

// GetAction sends one observation and waits for the matching action.
//
// Errors:
//   - *TransportError: write/read failure, peer disconnect, truncated frame
//   - *ipc.FrameError (ipc.IsMalformed): inconsistent or oversized response,
//     or an action whose length is not types.ActionLen
//
// On any error the returned action is types.ZeroAction. Transport errors and
// oversized frames leave the stream unusable; the connection is dropped and
// later calls fail with ErrNotConnected until Reconnect.
func (c *Client) GetAction(ctx context.Context, obs *types.Observation) (types.ActionVector, error) {
	payload, err := ipc.EncodeObservation(obs)
	if err != nil {
		return types.ZeroAction, err
	}
	// Size errors are local; the connection stays usable.
	frame, err := ipc.EncodeFrame(payload)
	if err != nil {
		return types.ZeroAction, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ZeroAction, &TransportError{Op: "send", Err: ErrClosed}
	}
	if c.conn == nil {
		return types.ZeroAction, &TransportError{Op: "send", Err: ErrNotConnected}
	}

	conn := c.conn
	if err := c.setDeadline(ctx); err != nil {
		return types.ZeroAction, c.fail("send", err)
	}
	// Unblock in-flight I/O when ctx is canceled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write(frame); err != nil {
		return types.ZeroAction, c.fail("send", err)
	}

	response, err := c.decoder.ReadFrame()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return types.ZeroAction, c.fail("receive", fmt.Errorf("peer closed connection: %w", io.ErrUnexpectedEOF))
	case ipc.IsMalformed(err):
		// The oversized payload was never consumed; the stream is out of sync.
		c.drop()
		return types.ZeroAction, err
	default:
		return types.ZeroAction, c.fail("receive", err)
	}

	values, err := ipc.DecodeAction(response)
	if err != nil {
		return types.ZeroAction, err
	}
	action, err := types.ActionFromSlice(values)
	if err != nil {
		return types.ZeroAction, &ipc.FrameError{Kind: ipc.FrameErrorMalformed, Msg: err.Error()}
	}
	return action, nil
}

func (c *Client) setDeadline(ctx context.Context) error {
	var deadline time.Time
	if c.cfg.RequestTimeout > 0 {
		deadline = time.Now().Add(c.cfg.RequestTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return c.conn.SetDeadline(deadline)
}

// fail drops the connection and wraps err as a TransportError.
// Must be called with c.mu held.
func (c *Client) fail(op string, err error) error {
	c.drop()
	return &TransportError{Op: op, Err: err}
}

// drop closes and forgets the connection. Must be called with c.mu held.
func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.decoder = nil
	}
}

// Reconnect closes the current connection, if any, and dials again.
// It is never called automatically.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.drop()
	return c.connect(ctx)
}

// Close releases the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.decoder = nil
	return err
}
