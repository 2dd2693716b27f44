package iox

import (
	"io"
	"testing"
)

type closer struct {
	closed bool
	err    error
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

func TestDiscardClose(t *testing.T) {
	tests := []struct {
		name   string
		closer io.Closer
	}{
		{"closer error ignored", &closer{err: io.ErrClosedPipe}},
		{"nil closer", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			DiscardClose(tt.closer)
			if c, ok := tt.closer.(*closer); ok && !c.closed {
				t.Error("DiscardClose did not close")
			}
		})
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return io.ErrUnexpectedEOF
	})
	if !called {
		t.Error("DiscardErr did not call fn")
	}
}
