// Package capture acquires camera frames off the control path.
//
// The tick asks for a frame with RequestCapture and reads whatever finished
// last with GetLatestFrame. Neither call blocks. A single goroutine performs
// acquisitions, and at most one is pending at a time.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/marksman/log"
)

// Grabber produces one encoded frame.
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// GrabberFunc adapts a function to Grabber.
type GrabberFunc func(ctx context.Context) ([]byte, error)

// Grab implements Grabber.
func (f GrabberFunc) Grab(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("capture pipeline already started")

// CaptureError wraps a failed acquisition.
type CaptureError struct {
	// Attempt is the 1-based request number that failed.
	Attempt int64
	Err     error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture attempt %d: %v", e.Attempt, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Stats are the pipeline counters.
type Stats struct {
	Requested int64
	Completed int64
	Failed    int64
	// Skipped counts requests made while an acquisition was pending.
	Skipped int64
}

// Pipeline owns the acquisition goroutine and the frame buffer.
type Pipeline struct {
	grabber Grabber
	logger  *log.Logger
	now     func() time.Time

	buffer   FrameBuffer
	requests chan struct{}
	pending  atomic.Bool

	requested atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline around grabber. A nil logger discards logs.
func NewPipeline(grabber Grabber, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		grabber:  grabber,
		logger:   logger,
		now:      time.Now,
		requests: make(chan struct{}, 1),
	}
}

// Start launches the acquisition goroutine. It runs until ctx is canceled
// or Stop is called.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop cancels any in-flight acquisition and waits for the goroutine to exit.
// Safe to call more than once, and before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

// RequestCapture asks for a new acquisition. It reports false, and does
// nothing, when one is already pending.
func (p *Pipeline) RequestCapture() bool {
	if !p.pending.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return false
	}
	p.requested.Add(1)
	// Capacity 1 and the pending flag guarantee the slot is free.
	p.requests <- struct{}{}
	return true
}

// GetLatestFrame returns the bytes of the latest completed frame, or nil
// before the first completion. The slice must not be modified.
func (p *Pipeline) GetLatestFrame() []byte {
	if f := p.buffer.Load(); f != nil {
		return f.Data
	}
	return nil
}

// Latest returns the latest completed frame, or nil.
func (p *Pipeline) Latest() *Frame {
	return p.buffer.Load()
}

// Pending reports whether an acquisition is requested or in flight.
func (p *Pipeline) Pending() bool {
	return p.pending.Load()
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Requested: p.requested.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
	}
}

func (p *Pipeline) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.requests:
			p.acquire(ctx)
		}
	}
}

func (p *Pipeline) acquire(ctx context.Context) {
	defer p.pending.Store(false)

	data, err := p.grabber.Grab(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failed.Add(1)
		cerr := &CaptureError{Attempt: p.requested.Load(), Err: err}
		p.logger.Warn("frame capture failed, keeping previous frame", map[string]any{
			"error":   cerr.Error(),
			"attempt": cerr.Attempt,
		})
		return
	}

	f := p.buffer.Store(data, p.now())
	p.completed.Add(1)
	p.logger.Debug("frame captured", map[string]any{
		"seq":   f.Seq,
		"bytes": len(f.Data),
	})
}
