// Package pipeline sequences the build and review stages of one work
// order into a single terminal outcome.
package pipeline

import (
	"time"

	"github.com/zen-systems/dispatch/pkg/provider"
	"github.com/zen-systems/dispatch/pkg/workorder"
)

// Stage names the pipeline state a run is in when an event happens.
type Stage string

const (
	StagePending   Stage = "pending"
	StageBuilding  Stage = "building"
	StageReviewing Stage = "reviewing"
)

// Status is a run's terminal status. Exactly one is reached per run.
type Status string

const (
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusFailed           Status = "failed"
)

// Failure carries enough structure for the caller to decide on
// resubmission: the stage that failed, the error kind, human detail, and
// whether the underlying error looked transient. The pipeline itself
// never retries.
type Failure struct {
	Stage     Stage              `json:"stage"`
	Kind      provider.ErrorKind `json:"kind"`
	Detail    string             `json:"detail"`
	Transient bool               `json:"transient,omitempty"`
}

// Outcome is the single terminal result of a pipeline run.
type Outcome struct {
	RunID    string                   `json:"run_id"`
	Status   Status                   `json:"status"`
	Notes    []string                 `json:"notes,omitempty"`
	Failure  *Failure                 `json:"failure,omitempty"`
	Builder  *workorder.BuilderResult `json:"builder,omitempty"`
	Verdict  *workorder.ReviewVerdict `json:"verdict,omitempty"`
	Duration time.Duration            `json:"duration"`
}

// Failed reports whether the run ended in the failed status.
func (o *Outcome) Failed() bool {
	return o.Status == StatusFailed
}
