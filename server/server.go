// Package server implements a policy service test double speaking the
// observation/action wire protocol. It backs the policy-stub command and the
// client end-to-end tests; it performs no inference.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/marksman/iox"
	"github.com/justapithecus/marksman/ipc"
	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/types"
)

// Handler produces the action for one observation.
type Handler interface {
	Act(ctx context.Context, obs *types.Observation) ([]float32, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, obs *types.Observation) ([]float32, error)

// Act implements Handler.
func (f HandlerFunc) Act(ctx context.Context, obs *types.Observation) ([]float32, error) {
	return f(ctx, obs)
}

// ConstantAction replies with the same action to every observation.
type ConstantAction []float32

// Act implements Handler.
func (a ConstantAction) Act(context.Context, *types.Observation) ([]float32, error) {
	return a, nil
}

// Backoff bounds for repeated Accept failures such as EMFILE.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts connections and answers each observation frame with one
// action frame, in order.
type Server struct {
	handler Handler
	logger  *log.Logger

	listener net.Listener
	requests atomic.Int64
}

// New creates a server. A nil logger discards logs.
func New(handler Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{handler: handler, logger: logger}
}

// Listen binds the TCP address. Use "127.0.0.1:0" for an ephemeral port.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Requests returns the number of observations answered.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Serve accepts connections until ctx is canceled, then waits for active
// connections to finish.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}
	defer iox.DiscardClose(s.listener)

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	s.logger.Info("policy stub listening", map[string]any{"addr": s.Addr().String()})

	var active sync.WaitGroup
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			backoff = nextAcceptBackoff(backoff)
			s.logger.Error("accept failed", map[string]any{
				"error":    err.Error(),
				"retry_in": backoff.String(),
			})
			if !sleepCtx(ctx, backoff) {
				break
			}
			continue
		}
		backoff = 0

		active.Add(1)
		go func() {
			defer active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	active.Wait()
	return nil
}

func nextAcceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	return min(prev*2, maxAcceptBackoff)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer iox.DiscardClose(conn)

	// Close the connection on shutdown to unblock ReadFrame.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	peer := conn.RemoteAddr().String()
	decoder := ipc.NewFrameDecoder(conn)
	for {
		payload, err := decoder.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Warn("read observation failed", map[string]any{"peer": peer, "error": err.Error()})
			}
			return
		}

		obs, err := ipc.DecodeObservation(payload)
		if err != nil {
			s.logger.Warn("malformed observation", map[string]any{"peer": peer, "error": err.Error()})
			return
		}

		action, err := s.handler.Act(ctx, obs)
		if err != nil {
			s.logger.Error("handler failed", map[string]any{"peer": peer, "error": err.Error()})
			return
		}

		response, err := ipc.EncodeAction(action)
		if err != nil {
			s.logger.Error("encode action failed", map[string]any{"peer": peer, "error": err.Error()})
			return
		}
		s.requests.Add(1)
		if err := ipc.WriteFrame(conn, response); err != nil {
			s.logger.Warn("write action failed", map[string]any{"peer": peer, "error": err.Error()})
			return
		}
	}
}
