// Package adapter defines the event-bus adapter boundary.
//
// Adapters publish episode and run notifications to downstream systems
// (dataset indexers, training schedulers). The runtime owns adapter lifecycle;
// users provide configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// Event types.
const (
	EventEpisodeFinalized = "episode_finalized"
	EventEpisodeDiscarded = "episode_discarded"
	EventRunCompleted     = "run_completed"
)

// Event is the JSON payload published to downstream systems.
// Episode fields are set for episode events; run fields for run_completed.
type Event struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	RunID           string `json:"run_id"`
	Source          string `json:"source"`
	Mode            string `json:"mode"`
	Timestamp       string `json:"timestamp"` // RFC 3339

	// Episode events
	EpisodeIndex *uint32 `json:"episode_index,omitempty"`
	Steps        int     `json:"steps,omitempty"`

	// run_completed
	Outcome           string `json:"outcome,omitempty"` // success, failed, canceled
	EpisodesFinalized int64  `json:"episodes_finalized,omitempty"`
	EpisodesDiscarded int64  `json:"episodes_discarded,omitempty"`
	StoragePath       string `json:"storage_path,omitempty"`
	DurationMs        int64  `json:"duration_ms,omitempty"`
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends one event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the base delay before the first retry.
const DefaultBackoff = 500 * time.Millisecond

// Retry runs fn up to 1+retries times with exponential backoff between
// attempts (base, 2×base, 4×base...). It stops early when permanent reports
// true for the returned error. A nil permanent treats every error as retriable.
func Retry(ctx context.Context, retries int, base time.Duration, fn func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
