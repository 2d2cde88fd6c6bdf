package workorder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkOrder is the immutable task specification submitted for an automated
// code change. It is created once per task and passed read-only to both
// pipeline stages.
type WorkOrder struct {
	ID                 string   `yaml:"id" json:"id"`
	Title              string   `yaml:"title,omitempty" json:"title,omitempty"`
	Goal               string   `yaml:"goal" json:"goal"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
	StopConditions     []string `yaml:"stop_conditions,omitempty" json:"stop_conditions,omitempty"`
	RepoPath           string   `yaml:"repo_path" json:"repo_path"`
}

// Load reads a work order from a YAML file.
func Load(path string) (*WorkOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work order: %w", err)
	}
	var wo WorkOrder
	if err := yaml.Unmarshal(data, &wo); err != nil {
		return nil, fmt.Errorf("parse work order: %w", err)
	}
	if err := wo.Validate(); err != nil {
		return nil, err
	}
	return &wo, nil
}

// Validate checks the fields a run cannot proceed without.
func (w *WorkOrder) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("work order requires an id")
	}
	if w.Goal == "" {
		return fmt.Errorf("work order %s requires a goal", w.ID)
	}
	if w.RepoPath == "" {
		return fmt.Errorf("work order %s requires a repo path", w.ID)
	}
	return nil
}

// ProviderSettings selects and configures the backend for one pipeline run.
type ProviderSettings struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	CLIPath  string `yaml:"cli_path,omitempty" json:"cli_path,omitempty"`
}

// TestRun records one test command the builder executed to validate its
// own change.
type TestRun struct {
	Command string `json:"command"`
	Passed  bool   `json:"passed"`
	Output  string `json:"output,omitempty"`
}

// BuilderResult is the builder stage's output. An empty Diff is valid and
// means no change was produced.
type BuilderResult struct {
	Summary      string    `json:"summary"`
	FilesChanged []string  `json:"files_changed,omitempty"`
	Diff         string    `json:"diff,omitempty"`
	Tests        []TestRun `json:"tests,omitempty"`
	Risks        []string  `json:"risks,omitempty"`
}

// Decision is the reviewer's classification of a builder result.
type Decision string

const (
	DecisionApproved         Decision = "approved"
	DecisionChangesRequested Decision = "changes_requested"
)

// ParseDecision maps a backend-reported verdict string onto the closed
// decision set.
func ParseDecision(value string) (Decision, error) {
	switch Decision(value) {
	case DecisionApproved:
		return DecisionApproved, nil
	case DecisionChangesRequested:
		return DecisionChangesRequested, nil
	}
	return "", fmt.Errorf("unknown review decision %q", value)
}

// ReviewVerdict is the reviewer stage's output. Notes are required on both
// variants and may be empty.
type ReviewVerdict struct {
	Decision Decision `json:"decision"`
	Notes    []string `json:"notes"`
}
