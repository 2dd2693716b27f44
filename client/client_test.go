package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/marksman/iox"
	"github.com/justapithecus/marksman/ipc"
	"github.com/justapithecus/marksman/server"
	"github.com/justapithecus/marksman/types"
)

// rawServer accepts connections and hands each one to handle.
// Connections are numbered from 0 in accept order.
func rawServer(t *testing.T, handle func(n int, conn net.Conn)) Config {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; ; n++ {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				handle(n, conn)
			}()
		}
	}()
	t.Cleanup(func() {
		_ = l.Close()
		wg.Wait()
	})

	return configFor(t, l.Addr())
}

func configFor(t *testing.T, addr net.Addr) Config {
	t.Helper()
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	p, _ := strconv.Atoi(port)
	return Config{Host: host, Port: p, DialTimeout: time.Second}
}

func stubServer(t *testing.T, h server.Handler) Config {
	t.Helper()
	s := server.New(h, nil)
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
	return configFor(t, s.Addr())
}

func dial(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := Dial(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { iox.DiscardClose(c) })
	return c
}

func testObservation() *types.Observation {
	return &types.Observation{
		Timestamp: 1.5,
		Image:     []byte{1, 2},
		State:     types.StateVector{0.1, -0.2, 0.3},
	}
}

func TestGetAction_RoundTrip(t *testing.T) {
	received := make(chan *types.Observation, 1)
	cfg := stubServer(t, server.HandlerFunc(func(_ context.Context, obs *types.Observation) ([]float32, error) {
		received <- obs
		return []float32{0, 0.5, -0.5, 1}, nil
	}))
	c := dial(t, cfg)

	action, err := c.GetAction(t.Context(), testObservation())
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}

	want := types.ActionVector{0, 0.5, -0.5, 1}
	if action != want {
		t.Errorf("action = %v, want %v", action, want)
	}
	if !action.Shoot() {
		t.Error("trigger 1 should fire")
	}

	obs := <-received
	if obs.Timestamp != 1.5 {
		t.Errorf("server Timestamp = %v, want 1.5", obs.Timestamp)
	}
	if string(obs.Image) != "\x01\x02" {
		t.Errorf("server Image = %v, want [1 2]", obs.Image)
	}
	if obs.State != (types.StateVector{0.1, -0.2, 0.3}) {
		t.Errorf("server State = %v, want [0.1 -0.2 0.3]", obs.State)
	}
	if !c.Healthy() {
		t.Error("client should be healthy after a successful round trip")
	}
}

func TestGetAction_SequentialRequests(t *testing.T) {
	cfg := stubServer(t, server.HandlerFunc(func(_ context.Context, obs *types.Observation) ([]float32, error) {
		return []float32{obs.Timestamp, 0, 0, 0}, nil
	}))
	c := dial(t, cfg)

	for i := range 20 {
		obs := &types.Observation{Timestamp: float32(i)}
		action, err := c.GetAction(t.Context(), obs)
		if err != nil {
			t.Fatalf("GetAction %d: %v", i, err)
		}
		if action[0] != float32(i) {
			t.Errorf("response %d carries %v, want %d", i, action[0], i)
		}
	}
}

func TestGetAction_PeerClosesMidPrefix(t *testing.T) {
	cfg := rawServer(t, func(_ int, conn net.Conn) {
		// Consume the request, then send half a length prefix and hang up.
		if _, err := ipc.NewFrameDecoder(conn).ReadFrame(); err != nil {
			return
		}
		_, _ = conn.Write([]byte{0, 0})
	})
	c := dial(t, cfg)

	action, err := c.GetAction(t.Context(), testObservation())
	if err == nil {
		t.Fatal("expected error")
	}
	if action != types.ZeroAction {
		t.Errorf("action = %v, want zero action", action)
	}
	if !IsTransportError(err) {
		t.Errorf("expected *TransportError, got %T: %v", err, err)
	}
	if !ipc.IsPartial(err) {
		t.Errorf("expected partial frame in chain, got %v", err)
	}
	if c.Healthy() {
		t.Error("client should be unhealthy after a transport error")
	}

	// No automatic retry: the next call fails fast.
	_, err = c.GetAction(t.Context(), testObservation())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("second call error = %v, want ErrNotConnected", err)
	}
}

func TestGetAction_PeerClosesBeforeReply(t *testing.T) {
	cfg := rawServer(t, func(_ int, conn net.Conn) {
		_, _ = ipc.NewFrameDecoder(conn).ReadFrame()
	})
	c := dial(t, cfg)

	action, err := c.GetAction(t.Context(), testObservation())
	if !IsTransportError(err) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if action != types.ZeroAction {
		t.Errorf("action = %v, want zero action", action)
	}
}

func TestGetAction_Reconnect(t *testing.T) {
	cfg := rawServer(t, func(n int, conn net.Conn) {
		decoder := ipc.NewFrameDecoder(conn)
		for {
			if _, err := decoder.ReadFrame(); err != nil {
				return
			}
			if n == 0 {
				return // first connection hangs up without replying
			}
			response, _ := ipc.EncodeAction([]float32{1, 0, 0, 0})
			if err := ipc.WriteFrame(conn, response); err != nil {
				return
			}
		}
	})
	c := dial(t, cfg)

	if _, err := c.GetAction(t.Context(), testObservation()); !IsTransportError(err) {
		t.Fatalf("first call error = %v, want transport error", err)
	}
	if err := c.Reconnect(t.Context()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !c.Healthy() {
		t.Error("client should be healthy after Reconnect")
	}

	action, err := c.GetAction(t.Context(), testObservation())
	if err != nil {
		t.Fatalf("GetAction after reconnect: %v", err)
	}
	if action[0] != 1 {
		t.Errorf("action = %v, want [1 0 0 0]", action)
	}
}

func TestGetAction_WrongActionLength(t *testing.T) {
	cfg := stubServer(t, server.ConstantAction{0.1, 0.2, 0.3})
	c := dial(t, cfg)

	action, err := c.GetAction(t.Context(), testObservation())
	if !ipc.IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if action != types.ZeroAction {
		t.Errorf("action = %v, want zero action", action)
	}
	// The frame was fully consumed; the stream is still in sync.
	if !c.Healthy() {
		t.Error("client should stay healthy after a well-framed malformed action")
	}
}

func TestGetAction_ImageSizeLimit(t *testing.T) {
	sizes := make(chan int, 1)
	cfg := stubServer(t, server.HandlerFunc(func(_ context.Context, obs *types.Observation) ([]float32, error) {
		sizes <- len(obs.Image)
		return []float32{1, 0, 0, 0}, nil
	}))
	c := dial(t, cfg)

	obs := testObservation()
	obs.Image = make([]byte, ipc.MaxImageBytes)
	action, err := c.GetAction(t.Context(), obs)
	if err != nil {
		t.Fatalf("GetAction at limit: %v", err)
	}
	if action != (types.ActionVector{1, 0, 0, 0}) {
		t.Errorf("action = %v, want [1 0 0 0]", action)
	}
	if got := <-sizes; got != ipc.MaxImageBytes {
		t.Errorf("server image size = %d, want %d", got, ipc.MaxImageBytes)
	}

	obs.Image = make([]byte, ipc.MaxImageBytes+1)
	action, err = c.GetAction(t.Context(), obs)
	if !ipc.IsMalformed(err) {
		t.Fatalf("expected malformed error over limit, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Errorf("oversized image reported as transport error: %v", err)
	}
	if action != types.ZeroAction {
		t.Errorf("action = %v, want zero action", action)
	}
	if !c.Healthy() {
		t.Error("client should stay healthy after a locally rejected image")
	}
}

func TestGetAction_OversizedResponse(t *testing.T) {
	cfg := stubServer(t, server.ConstantAction(make([]float32, 32)))
	cfg.MaxMessageBytes = 64
	c := dial(t, cfg)

	action, err := c.GetAction(t.Context(), testObservation())
	if !ipc.IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if action != types.ZeroAction {
		t.Errorf("action = %v, want zero action", action)
	}
	if c.Healthy() {
		t.Error("client should drop the connection after an oversized frame")
	}
}

func TestGetAction_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	cfg := rawServer(t, func(_ int, conn net.Conn) {
		_, _ = ipc.NewFrameDecoder(conn).ReadFrame()
		<-release
	})
	t.Cleanup(func() { close(release) })

	cfg.RequestTimeout = 50 * time.Millisecond
	c := dial(t, cfg)

	start := time.Now()
	_, err := c.GetAction(t.Context(), testObservation())
	if !IsTransportError(err) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("expected timeout in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("GetAction took %v, want about %v", elapsed, cfg.RequestTimeout)
	}
}

func TestGetAction_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	cfg := rawServer(t, func(_ int, conn net.Conn) {
		_, _ = ipc.NewFrameDecoder(conn).ReadFrame()
		<-release
	})
	t.Cleanup(func() { close(release) })
	c := dial(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)

	action, err := c.GetAction(ctx, testObservation())
	if !IsTransportError(err) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if action != types.ZeroAction {
		t.Errorf("action = %v, want zero action", action)
	}
}

func TestDial_ConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := configFor(t, l.Addr())
	_ = l.Close()

	_, err = Dial(t.Context(), cfg)
	if !IsConnectionError(err) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	var ce *ConnectionError
	if errors.As(err, &ce) && ce.Addr != cfg.Addr() {
		t.Errorf("Addr = %q, want %q", ce.Addr, cfg.Addr())
	}
}

func TestClose_Idempotent(t *testing.T) {
	cfg := stubServer(t, server.ConstantAction{0, 0, 0, 0})
	c, err := Dial(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	_, err = c.GetAction(t.Context(), testObservation())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("GetAction after Close = %v, want ErrClosed", err)
	}
	if err := c.Reconnect(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Reconnect after Close = %v, want ErrClosed", err)
	}
}

func TestConfig_Addr(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Host: "127.0.0.1", Port: 9000}, "127.0.0.1:9000"},
		{Config{Host: "::1", Port: 9000}, "[::1]:9000"},
	}
	for _, tt := range tests {
		if got := tt.cfg.Addr(); got != tt.want {
			t.Errorf("Addr() = %q, want %q", got, tt.want)
		}
	}
}
