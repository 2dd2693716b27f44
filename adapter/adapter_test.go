package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		retries   int
		failures  int
		err       error
		permanent func(error) bool
		wantCalls int
		wantErr   bool
	}{
		{"first attempt succeeds", 3, 0, nil, nil, 1, false},
		{"succeeds after retries", 3, 2, errTransient, nil, 3, false},
		{"exhausts retries", 2, 10, errTransient, nil, 3, true},
		{"permanent stops early", 3, 10, errFatal, func(err error) bool { return errors.Is(err, errFatal) }, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(t.Context(), tt.retries, time.Millisecond, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, tt.permanent)

			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr && tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want wrapped %v", err, tt.err)
			}
		})
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := Retry(ctx, 3, time.Millisecond, func(context.Context) error { return nil }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// recordingAdapter records published events, optionally blocking until released.
type recordingAdapter struct {
	mu      sync.Mutex
	events  []*Event
	release chan struct{}
	err     error
	closed  bool
}

func (a *recordingAdapter) Publish(_ context.Context, event *Event) error {
	if a.release != nil {
		<-a.release
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func TestAsyncPublisher_DeliversInOrder(t *testing.T) {
	inner := &recordingAdapter{}
	p := NewAsyncPublisher(inner, 8, nil)

	for _, typ := range []string{EventEpisodeFinalized, EventEpisodeDiscarded, EventRunCompleted} {
		if !p.Enqueue(&Event{EventType: typ}) {
			t.Fatalf("Enqueue(%s) rejected", typ)
		}
	}
	if err := p.Close(t.Context()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(inner.events) != 3 {
		t.Fatalf("delivered %d events, want 3", len(inner.events))
	}
	if inner.events[2].EventType != EventRunCompleted {
		t.Errorf("last event = %q, want %q", inner.events[2].EventType, EventRunCompleted)
	}
	if !inner.closed {
		t.Error("inner adapter not closed")
	}
	published, failed, dropped := p.Stats()
	if published != 3 || failed != 0 || dropped != 0 {
		t.Errorf("Stats = (%d, %d, %d), want (3, 0, 0)", published, failed, dropped)
	}
}

func TestAsyncPublisher_DropsWhenFull(t *testing.T) {
	inner := &recordingAdapter{release: make(chan struct{})}
	p := NewAsyncPublisher(inner, 1, nil)

	// The worker takes the first event and blocks; the second fills the queue.
	p.Enqueue(&Event{EventType: "a"})
	deadline := time.Now().Add(2 * time.Second)
	for len(p.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !p.Enqueue(&Event{EventType: "b"}) {
		t.Fatal("second event should fit in the queue")
	}
	if p.Enqueue(&Event{EventType: "c"}) {
		t.Fatal("third event should be dropped")
	}

	close(inner.release)
	if err := p.Close(t.Context()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, _, dropped := p.Stats()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestAsyncPublisher_ReportsErrors(t *testing.T) {
	inner := &recordingAdapter{err: errors.New("down")}
	var reported []string
	p := NewAsyncPublisher(inner, 4, func(e *Event, _ error) {
		reported = append(reported, e.EventType)
	})

	p.Enqueue(&Event{EventType: EventRunCompleted})
	_ = p.Close(t.Context())

	if len(reported) != 1 || reported[0] != EventRunCompleted {
		t.Errorf("reported = %v, want [%s]", reported, EventRunCompleted)
	}
	_, failed, _ := p.Stats()
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

// stallingAdapter blocks in Publish until its context is canceled.
type stallingAdapter struct {
	mu          sync.Mutex
	started     chan struct{}
	publishing  bool
	closedDirty bool
	calls       int
}

func (a *stallingAdapter) Publish(ctx context.Context, _ *Event) error {
	a.mu.Lock()
	a.calls++
	a.publishing = true
	a.mu.Unlock()
	a.started <- struct{}{}

	<-ctx.Done()

	a.mu.Lock()
	a.publishing = false
	a.mu.Unlock()
	return ctx.Err()
}

func (a *stallingAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closedDirty = a.publishing
	return nil
}

func TestAsyncPublisher_CloseTimeoutCancelsDelivery(t *testing.T) {
	inner := &stallingAdapter{started: make(chan struct{}, 1)}
	p := NewAsyncPublisher(inner, 4, nil)

	p.Enqueue(&Event{EventType: EventEpisodeFinalized})
	p.Enqueue(&Event{EventType: EventRunCompleted})
	<-inner.started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if inner.closedDirty {
		t.Error("inner adapter closed while a publish was in flight")
	}
	if inner.calls != 1 {
		t.Errorf("publish calls = %d, want 1", inner.calls)
	}
	published, failed, dropped := p.Stats()
	if published != 0 || failed != 1 || dropped != 1 {
		t.Errorf("Stats = (%d, %d, %d), want (0, 1, 1)", published, failed, dropped)
	}
}
