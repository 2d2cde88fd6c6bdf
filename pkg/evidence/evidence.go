// Package evidence persists a JSON journal of each pipeline run: the work
// order as received, the builder's output, the reviewer's verdict, and the
// terminal outcome.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/dispatch/pkg/workorder"
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	RunID     string                     `json:"run_id"`
	StartedAt time.Time                  `json:"started_at"`
	WorkOrder *workorder.WorkOrder       `json:"work_order"`
	Settings  workorder.ProviderSettings `json:"settings"`
}

// StageRecord captures one pipeline stage.
type StageRecord struct {
	Stage          string                   `json:"stage"`
	Backend        string                   `json:"backend"`
	Builder        *workorder.BuilderResult `json:"builder,omitempty"`
	Verdict        *workorder.ReviewVerdict `json:"verdict,omitempty"`
	Error          string                   `json:"error,omitempty"`
	DurationMillis int64                    `json:"duration_ms"`
}

// OutcomeRecord captures the terminal outcome.
type OutcomeRecord struct {
	RunID            string    `json:"run_id"`
	Status           string    `json:"status"`
	FailureStage     string    `json:"failure_stage,omitempty"`
	FailureKind      string    `json:"failure_kind,omitempty"`
	FailureDetail    string    `json:"failure_detail,omitempty"`
	FailureTransient bool      `json:"failure_transient,omitempty"`
	Notes            []string  `json:"notes,omitempty"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMillis   int64     `json:"duration_ms"`
}

// Writer writes one run's journal under baseDir/runID.
type Writer struct {
	runDir string
}

// NewWriter creates the journal directory for a run.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}
	return &Writer{runDir: runDir}, nil
}

// RunDir returns the run's journal directory.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteStage writes a stage record to <stage>.json.
func (w *Writer) WriteStage(record StageRecord) error {
	if record.Stage == "" {
		return fmt.Errorf("stage name is required")
	}
	return writeJSON(filepath.Join(w.runDir, record.Stage+".json"), record)
}

// WriteOutcome writes the terminal outcome to outcome.json.
func (w *Writer) WriteOutcome(record OutcomeRecord) error {
	return writeJSON(filepath.Join(w.runDir, "outcome.json"), record)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
