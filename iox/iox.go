// Package iox holds cleanup helpers for deferred closes whose errors
// nothing can act on: sockets torn down at shutdown, read-only files,
// logger syncs on exit.
package iox

import "io"

// DiscardClose closes c, ignoring the error. A nil c is a no-op.
func DiscardClose(c io.Closer) {
	if c == nil {
		return
	}
	_ = c.Close()
}

// DiscardErr runs fn and drops its error, e.g. defer iox.DiscardErr(logger.Sync).
func DiscardErr(fn func() error) { _ = fn() }
