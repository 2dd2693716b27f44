package runtime

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/marksman/capture"
	"github.com/justapithecus/marksman/episode"
	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/policy"
	"github.com/justapithecus/marksman/types"
)

func newTestRunResult() *RunResult {
	return &RunResult{
		RunMeta: &types.RunMeta{
			RunID:  "run-001",
			Mode:   types.ModeCollect,
			Source: "sim",
			Task:   "knock over the red target",
		},
		Outcome: &types.RunOutcome{
			Status:  types.OutcomeSuccess,
			Message: "collected 50 episodes (3 discarded)",
		},
		Duration:    5 * time.Second,
		ControlTime: 4500 * time.Millisecond,
		Ticks:       45,
		Shots:       53,
		Episodes:    episode.Summary{Index: 50, Finalized: 50, Discarded: 3, Terminal: 53, DoneReached: 1},
		SourceName:  policy.SourceAutoAim,
		SourceStats: policy.Stats{Decisions: 45, Succeeded: 45, Shots: 53},
		Capture:     capture.Stats{Requested: 46, Completed: 40, Skipped: 6},
	}
}

func newTestSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		RunsStarted:       1,
		RunsCompleted:     1,
		Ticks:             45,
		EpisodesFinalized: 50,
		EpisodesDiscarded: 3,
		LodeWriteSuccess:  100,
		Mode:              "collect",
		ActionSource:      policy.SourceAutoAim,
		StorageBackend:    "fs",
		RunID:             "run-001",
	}
}

func TestBuildRunReport_Collect(t *testing.T) {
	report := BuildRunReport(newTestRunResult(), newTestSnapshot(), 0)

	if report.RunID != "run-001" {
		t.Errorf("RunID = %q, want %q", report.RunID, "run-001")
	}
	if report.Outcome != types.OutcomeSuccess {
		t.Errorf("Outcome = %q, want %q", report.Outcome, types.OutcomeSuccess)
	}
	if report.DurationMs != 5000 {
		t.Errorf("DurationMs = %d, want 5000", report.DurationMs)
	}
	if report.ControlTimeMs != 4500 {
		t.Errorf("ControlTimeMs = %d, want 4500", report.ControlTimeMs)
	}
	if report.Episodes == nil {
		t.Fatal("Episodes is nil, want non-nil in collect mode")
	}
	if report.Episodes.Finalized != 50 || report.Episodes.Discarded != 3 {
		t.Errorf("Episodes = %+v, want 50 finalized, 3 discarded", report.Episodes)
	}
	if report.Policy.Name != policy.SourceAutoAim {
		t.Errorf("Policy.Name = %q, want %q", report.Policy.Name, policy.SourceAutoAim)
	}
	if report.Capture.Skipped != 6 {
		t.Errorf("Capture.Skipped = %d, want 6", report.Capture.Skipped)
	}
	if report.Metrics.LodeWriteSuccess != 100 {
		t.Errorf("Metrics.LodeWriteSuccess = %d, want 100", report.Metrics.LodeWriteSuccess)
	}
}

func TestBuildRunReport_InferOmitsEpisodes(t *testing.T) {
	result := newTestRunResult()
	result.RunMeta.Mode = types.ModeInfer
	result.Outcome = &types.RunOutcome{Status: types.OutcomeCanceled, Message: "run interrupted after 45 ticks"}

	report := BuildRunReport(result, newTestSnapshot(), 1)
	if report.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", report.ExitCode)
	}
	if report.Episodes != nil {
		t.Errorf("Episodes = %+v, want nil in infer mode", report.Episodes)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, exists := raw["episodes"]; exists {
		t.Error("episodes should be omitted in infer mode")
	}
}

func TestWriteRunReport_File(t *testing.T) {
	report := BuildRunReport(newTestRunResult(), newTestSnapshot(), 0)
	path := filepath.Join(t.TempDir(), "report.json")

	if err := WriteRunReport(report, path); err != nil {
		t.Fatalf("WriteRunReport failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}

	var decoded RunReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal report: %v", err)
	}
	if decoded.RunID != "run-001" {
		t.Errorf("decoded RunID = %q, want %q", decoded.RunID, "run-001")
	}
	if decoded.Episodes == nil || decoded.Episodes.Index != 50 {
		t.Errorf("decoded Episodes = %+v, want index 50", decoded.Episodes)
	}
}

func TestWriteRunReport_EmptyPath(t *testing.T) {
	if err := WriteRunReport(&RunReport{}, ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestWriteRunReportTo_Writer(t *testing.T) {
	report := BuildRunReport(newTestRunResult(), newTestSnapshot(), 0)

	var buf bytes.Buffer
	if err := writeRunReportTo(report, &buf); err != nil {
		t.Fatalf("writeRunReportTo failed: %v", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Error("report should end with a newline")
	}
	var decoded RunReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Ticks != 45 || decoded.Shots != 53 {
		t.Errorf("decoded Ticks/Shots = %d/%d, want 45/53", decoded.Ticks, decoded.Shots)
	}
}
