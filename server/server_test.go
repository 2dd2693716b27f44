package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/marksman/ipc"
	"github.com/justapithecus/marksman/types"
)

func startServer(t *testing.T, h Handler) *Server {
	t.Helper()
	s := New(h, nil)
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func roundTrip(t *testing.T, conn net.Conn, obs *types.Observation) []float32 {
	t.Helper()
	payload, err := ipc.EncodeObservation(obs)
	if err != nil {
		t.Fatalf("EncodeObservation: %v", err)
	}
	if err := ipc.WriteFrame(conn, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	response, err := ipc.NewFrameDecoder(conn).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	action, err := ipc.DecodeAction(response)
	if err != nil {
		t.Fatalf("DecodeAction: %v", err)
	}
	return action
}

func TestServer_ConstantAction(t *testing.T) {
	s := startServer(t, ConstantAction{0, 0.5, -0.5, 1})

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := range 3 {
		got := roundTrip(t, conn, &types.Observation{Timestamp: float32(i)})
		want := []float32{0, 0.5, -0.5, 1}
		if len(got) != len(want) {
			t.Fatalf("len(action) = %d, want %d", len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("action[%d] = %v, want %v", j, got[j], want[j])
			}
		}
	}

	if n := s.Requests(); n != 3 {
		t.Errorf("Requests = %d, want 3", n)
	}
}

func TestServer_HandlerSeesObservation(t *testing.T) {
	seen := make(chan *types.Observation, 1)
	s := startServer(t, HandlerFunc(func(_ context.Context, obs *types.Observation) ([]float32, error) {
		seen <- obs
		return []float32{1, 1, 1, 0}, nil
	}))

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	roundTrip(t, conn, &types.Observation{Timestamp: 2.5, Image: []byte{7}, State: types.StateVector{0.1, 0.2, 0.3}})

	obs := <-seen
	if obs.Timestamp != 2.5 || len(obs.Image) != 1 || obs.State[2] != 0.3 {
		t.Errorf("handler observation = %+v", obs)
	}
}

func TestServer_ClosesOnMalformedObservation(t *testing.T) {
	s := startServer(t, ConstantAction{0, 0, 0, 0})

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := ipc.WriteFrame(conn, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := ipc.NewFrameDecoder(conn).ReadFrame(); err == nil {
		t.Fatal("expected connection to be closed after malformed observation")
	}
}

func TestServer_ServeBeforeListen(t *testing.T) {
	if err := New(ConstantAction{}, nil).Serve(t.Context()); err == nil {
		t.Fatal("expected error when Serve is called before Listen")
	}
}

// failingListener fails every Accept until closed.
type failingListener struct {
	accepts atomic.Int64
	closed  chan struct{}
	once    atomic.Bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
	}
	l.accepts.Add(1)
	return nil, errors.New("accept: too many open files")
}

func (l *failingListener) Close() error {
	if l.once.CompareAndSwap(false, true) {
		close(l.closed)
	}
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func TestServer_AcceptErrorsBackOff(t *testing.T) {
	l := &failingListener{closed: make(chan struct{})}
	s := New(ConstantAction{0, 0, 0, 0}, nil)
	s.listener = l

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := s.Serve(ctx); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Serve returned after %v, want prompt return on cancel", elapsed)
	}

	// 5+10+20+40ms fits four retries in 100ms; a hot loop makes thousands.
	if got := l.accepts.Load(); got > 10 {
		t.Errorf("accepts = %d, want at most 10 with backoff", got)
	}
}

func TestNextAcceptBackoff(t *testing.T) {
	tests := []struct {
		prev, want time.Duration
	}{
		{0, minAcceptBackoff},
		{minAcceptBackoff, 2 * minAcceptBackoff},
		{800 * time.Millisecond, maxAcceptBackoff},
		{maxAcceptBackoff, maxAcceptBackoff},
	}
	for _, tt := range tests {
		if got := nextAcceptBackoff(tt.prev); got != tt.want {
			t.Errorf("nextAcceptBackoff(%v) = %v, want %v", tt.prev, got, tt.want)
		}
	}
}
