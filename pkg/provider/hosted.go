package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/dispatch/pkg/modelclient"
	"github.com/zen-systems/dispatch/pkg/workorder"
	"github.com/zen-systems/dispatch/pkg/workspace"
)

// hostedProvider is the shared core for backends served by a hosted model
// API rather than a local agent binary. The model is asked for a unified
// diff, which the provider applies to the repo tree itself.
type hostedProvider struct {
	client modelclient.Client
	log    *zap.Logger
}

// hostedBuildReport is the JSON object the hosted build prompt demands.
type hostedBuildReport struct {
	Summary string              `json:"summary"`
	Diff    string              `json:"diff"`
	Tests   []workorder.TestRun `json:"tests,omitempty"`
	Risks   []string            `json:"risks,omitempty"`
}

// NewHosted wraps a model client as a provider. The provider's name is
// the client's name.
func NewHosted(client modelclient.Client, log *zap.Logger) Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &hostedProvider{client: client, log: log}
}

// Name returns the backend identifier.
func (p *hostedProvider) Name() string {
	return p.client.Name()
}

// RunBuilder asks the model for a unified diff satisfying the work order
// and applies it to the repo tree. A diff that fails verification or
// application leaves the tree rolled back.
func (p *hostedProvider) RunBuilder(ctx context.Context, wo *workorder.WorkOrder, settings workorder.ProviderSettings) (*workorder.BuilderResult, error) {
	model := p.model(settings)
	reply, err := p.client.Complete(ctx, model, hostedBuildPrompt(wo))
	if err != nil {
		return nil, p.classify(err, KindBuilderFailed)
	}

	raw, err := extractJSONBlock(reply)
	if err != nil {
		return nil, Errorf(KindProtocolError, p.Name(), "no build report in model reply: %v", err)
	}
	var report hostedBuildReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, Errorf(KindProtocolError, p.Name(), "malformed build report: %v", err)
	}

	result := &workorder.BuilderResult{
		Summary: report.Summary,
		Diff:    report.Diff,
		Tests:   report.Tests,
		Risks:   report.Risks,
	}
	if strings.TrimSpace(report.Diff) == "" {
		result.Diff = ""
		return result, nil
	}

	changed, err := workspace.DiffPaths(report.Diff)
	if err != nil {
		return nil, Errorf(KindProtocolError, p.Name(), "model produced unparsable diff: %v", err)
	}
	result.FilesChanged = changed

	snap, err := workspace.Take(wo.RepoPath)
	if err != nil {
		return nil, Errorf(KindBuilderFailed, p.Name(), "snapshot repo: %v", err)
	}
	defer snap.Close()

	if _, err := workspace.Apply(wo.RepoPath, report.Diff); err != nil {
		if restoreErr := snap.Restore(wo.RepoPath); restoreErr != nil {
			p.log.Warn("tree rollback failed", zap.String("repo_path", wo.RepoPath), zap.Error(restoreErr))
		}
		return nil, Errorf(KindBuilderFailed, p.Name(), "apply model diff: %v", err)
	}

	return result, nil
}

// RunReviewer asks the model to judge the builder result.
func (p *hostedProvider) RunReviewer(ctx context.Context, wo *workorder.WorkOrder, result *workorder.BuilderResult, settings workorder.ProviderSettings) (*workorder.ReviewVerdict, error) {
	reply, err := p.client.Complete(ctx, p.model(settings), reviewPrompt(wo, result))
	if err != nil {
		return nil, p.classify(err, KindReviewFailed)
	}
	return parseReviewReport(p.Name(), reply)
}

func (p *hostedProvider) model(settings workorder.ProviderSettings) string {
	if settings.Model != "" {
		return settings.Model
	}
	models := p.client.Models()
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

func (p *hostedProvider) classify(err error, fallback ErrorKind) error {
	return NewError(KindOf(err, fallback), p.Name(), err)
}

// hostedBuildPrompt renders the diff-producing build instruction. Unlike
// the CLI agents, a hosted model cannot touch the tree or run tests, so
// the whole change must arrive as one unified diff.
func hostedBuildPrompt(wo *workorder.WorkOrder) string {
	var sb strings.Builder
	sb.WriteString("You are producing a code change for the repository described below. You cannot run commands; respond with a unified diff.\n\n")
	fmt.Fprintf(&sb, "Work order %s: %s\n", wo.ID, wo.Title)
	fmt.Fprintf(&sb, "\nGoal:\n%s\n", wo.Goal)

	if len(wo.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for _, criterion := range wo.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", criterion)
		}
	}
	if len(wo.StopConditions) > 0 {
		sb.WriteString("\nStop conditions. If any of these would trigger, produce no diff (or only the safely-completed part) and record the condition in risks as \"stop condition triggered: <condition>\":\n")
		for _, condition := range wo.StopConditions {
			fmt.Fprintf(&sb, "- %s\n", condition)
		}
	}

	sb.WriteString(`
Reply with exactly one fenced JSON block. The diff field holds a standard
unified diff with a/ and b/ path prefixes; an empty diff means no change:

` + "```json" + `
{"summary": "<what the diff does>", "diff": "--- a/...\n+++ b/...\n@@ ... @@\n...", "tests": [], "risks": []}
` + "```" + `
`)
	return sb.String()
}
