package adapter

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncPublisher decouples the control loop from a slow downstream adapter.
// Enqueue never blocks: when the queue is full the event is dropped and counted.
type AsyncPublisher struct {
	inner   Adapter
	queue   chan *Event
	onError func(*Event, error)

	dropped   atomic.Int64
	published atomic.Int64
	failed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DefaultQueueSize is the number of events buffered before dropping.
const DefaultQueueSize = 64

// NewAsyncPublisher starts a delivery goroutine for inner.
// onError may be nil.
func NewAsyncPublisher(inner Adapter, queueSize int, onError func(*Event, error)) *AsyncPublisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &AsyncPublisher{
		inner:   inner,
		queue:   make(chan *Event, queueSize),
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		if p.ctx.Err() != nil {
			// Close gave up; remaining events are dropped.
			p.dropped.Add(1)
			continue
		}
		if err := p.inner.Publish(p.ctx, event); err != nil {
			p.failed.Add(1)
			if p.onError != nil {
				p.onError(event, err)
			}
			continue
		}
		p.published.Add(1)
	}
}

// Enqueue schedules event for delivery and reports whether it was accepted.
// Must not be called after Close.
func (p *AsyncPublisher) Enqueue(event *Event) bool {
	select {
	case p.queue <- event:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Stats returns delivery counters.
func (p *AsyncPublisher) Stats() (published, failed, dropped int64) {
	return p.published.Load(), p.failed.Load(), p.dropped.Load()
}

// Close stops accepting events and waits for queued events to be delivered.
// When ctx expires first, the in-flight publish is canceled and the events
// still queued are dropped. The inner adapter is closed only after the
// delivery goroutine has exited.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.queue) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
	return p.inner.Close()
}
