package capture

import (
	"sync/atomic"
	"time"
)

// Frame is one completed acquisition. It is immutable once published.
type Frame struct {
	// Data is the encoded image.
	Data []byte
	// Seq numbers completed frames from 1.
	Seq uint64
	// CapturedAt is when the acquisition completed.
	CapturedAt time.Time
}

// FrameBuffer is a single-slot holder for the most recent frame.
// Writers swap a fresh Frame in; readers never see a partially written one.
type FrameBuffer struct {
	latest atomic.Pointer[Frame]
	seq    atomic.Uint64
}

// Store copies data into a new Frame and publishes it.
func (b *FrameBuffer) Store(data []byte, at time.Time) *Frame {
	f := &Frame{
		Data:       append([]byte(nil), data...),
		Seq:        b.seq.Add(1),
		CapturedAt: at,
	}
	b.latest.Store(f)
	return f
}

// Load returns the latest frame, or nil before the first Store.
func (b *FrameBuffer) Load() *Frame {
	return b.latest.Load()
}
