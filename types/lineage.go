// Package types defines core domain types for the marksman control loop.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// Mode selects where actions come from.
type Mode string

const (
	// ModeCollect drives the turret with the fallback policy and records episodes.
	ModeCollect Mode = "collect"
	// ModeInfer drives the turret with the remote policy service. Nothing is recorded.
	ModeInfer Mode = "infer"
)

// ParseMode parses a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCollect, ModeInfer:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode %q (must be collect or infer)", s)
	}
}

// RunMeta contains run identity shared by logs, records and published events.
type RunMeta struct {
	// RunID is the canonical run identifier. Must be globally unique.
	RunID string
	// Mode is the run mode.
	Mode Mode
	// Source names the environment the run executes in (partition key).
	Source string
	// Task is the natural-language task label stored with every step.
	Task string
}

// Validate checks the identity fields required by every run.
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	if r.Source == "" {
		return errors.New("source must be non-empty")
	}
	if r.Mode == ModeCollect && r.Task == "" {
		return errors.New("collect runs require a task label")
	}
	return nil
}
