package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID         string              `json:"run_id"`
	Mode          types.Mode          `json:"mode"`
	Source        string              `json:"source"`
	Outcome       types.OutcomeStatus `json:"outcome"`
	Message       string              `json:"message"`
	ExitCode      int                 `json:"exit_code"`
	DurationMs    int64               `json:"duration_ms"`
	ControlTimeMs int64               `json:"control_time_ms"`
	Ticks         int64               `json:"ticks"`
	Shots         int64               `json:"shots"`

	Episodes *ReportEpisodes   `json:"episodes,omitempty"`
	Policy   *ReportPolicy     `json:"policy"`
	Capture  *ReportCapture    `json:"capture"`
	Metrics  *metrics.Snapshot `json:"metrics"`
}

// ReportEpisodes holds episode counters in the report.
type ReportEpisodes struct {
	Finalized int    `json:"finalized"`
	Discarded int    `json:"discarded"`
	Index     uint32 `json:"index"`
}

// ReportPolicy holds action source stats in the report.
type ReportPolicy struct {
	Name      string `json:"name"`
	Decisions int64  `json:"decisions"`
	Succeeded int64  `json:"succeeded"`
	Fallbacks int64  `json:"fallbacks"`
}

// ReportCapture holds capture pipeline stats in the report.
type ReportCapture struct {
	Requested int64 `json:"requested"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// BuildRunReport composes a RunReport from a RunResult and metrics snapshot.
// The exitCode is the process exit code that will be returned to the caller.
func BuildRunReport(result *RunResult, snap metrics.Snapshot, exitCode int) *RunReport {
	report := &RunReport{
		RunID:         result.RunMeta.RunID,
		Mode:          result.RunMeta.Mode,
		Source:        result.RunMeta.Source,
		Outcome:       result.Outcome.Status,
		Message:       result.Outcome.Message,
		ExitCode:      exitCode,
		DurationMs:    result.Duration.Milliseconds(),
		ControlTimeMs: result.ControlTime.Milliseconds(),
		Ticks:         result.Ticks,
		Shots:         result.Shots,
		Policy: &ReportPolicy{
			Name:      result.SourceName,
			Decisions: result.SourceStats.Decisions,
			Succeeded: result.SourceStats.Succeeded,
			Fallbacks: result.SourceStats.Fallbacks,
		},
		Capture: &ReportCapture{
			Requested: result.Capture.Requested,
			Completed: result.Capture.Completed,
			Failed:    result.Capture.Failed,
			Skipped:   result.Capture.Skipped,
		},
		Metrics: &snap,
	}

	if result.RunMeta.Mode == types.ModeCollect {
		report.Episodes = &ReportEpisodes{
			Finalized: result.Episodes.Finalized,
			Discarded: result.Episodes.Discarded,
			Index:     result.Episodes.Index,
		}
	}

	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeRunReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
