package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/zen-systems/dispatch/pkg/workorder"
	"github.com/zen-systems/dispatch/pkg/workspace"
)

// cliProvider is the shared core for backends that run as a local
// coding-agent CLI. Each backend supplies its binary name, argument
// construction, and transcript extraction; build and review flow are
// common.
type cliProvider struct {
	name   string
	binary string
	log    *zap.Logger
	// args builds the command line that sends prompt to the agent.
	args func(prompt string) []string
	// transcript extracts the agent's final reply from raw stdout.
	transcript func(stdout string) (string, error)
}

// Name returns the backend identifier.
func (p *cliProvider) Name() string {
	return p.name
}

// RunBuilder snapshots the repo tree, invokes the agent with the build
// prompt, and derives the produced diff from the tree itself. Any failure
// rolls the tree back to the snapshot.
func (p *cliProvider) RunBuilder(ctx context.Context, wo *workorder.WorkOrder, settings workorder.ProviderSettings) (*workorder.BuilderResult, error) {
	path, err := resolveBinary(settings.CLIPath, p.binary, p.name)
	if err != nil {
		return nil, err
	}

	snap, err := workspace.Take(wo.RepoPath)
	if err != nil {
		return nil, Errorf(KindBuilderFailed, p.name, "snapshot repo: %v", err)
	}
	defer snap.Close()

	result, err := invoke(ctx, p.name, invocation{
		Path: path,
		Args: p.args(buildPrompt(wo)),
		Dir:  wo.RepoPath,
	})
	if err != nil {
		p.rollback(snap, wo.RepoPath)
		return nil, err
	}
	if result.ExitCode != 0 {
		p.rollback(snap, wo.RepoPath)
		return nil, Errorf(KindBuilderFailed, p.name, "agent exited with status %d: %s", result.ExitCode, tail(result.Stderr, 512))
	}

	transcript, err := p.transcript(result.Stdout)
	if err != nil {
		p.rollback(snap, wo.RepoPath)
		return nil, Errorf(KindProtocolError, p.name, "%v", err)
	}
	report, err := parseBuildReport(p.name, transcript)
	if err != nil {
		p.rollback(snap, wo.RepoPath)
		return nil, err
	}

	diff, changed, err := workspace.DiffTrees(snap, wo.RepoPath)
	if err != nil {
		p.rollback(snap, wo.RepoPath)
		return nil, Errorf(KindBuilderFailed, p.name, "diff repo tree: %v", err)
	}

	return &workorder.BuilderResult{
		Summary:      report.Summary,
		FilesChanged: changed,
		Diff:         diff,
		Tests:        report.Tests,
		Risks:        report.Risks,
	}, nil
}

// RunReviewer invokes the agent with the review prompt and parses its
// verdict. The builder result is evidence only; the review prompt forbids
// tree mutation.
func (p *cliProvider) RunReviewer(ctx context.Context, wo *workorder.WorkOrder, result *workorder.BuilderResult, settings workorder.ProviderSettings) (*workorder.ReviewVerdict, error) {
	path, err := resolveBinary(settings.CLIPath, p.binary, p.name)
	if err != nil {
		return nil, err
	}

	invRes, err := invoke(ctx, p.name, invocation{
		Path: path,
		Args: p.args(reviewPrompt(wo, result)),
		Dir:  wo.RepoPath,
	})
	if err != nil {
		return nil, err
	}
	if invRes.ExitCode != 0 {
		return nil, Errorf(KindReviewFailed, p.name, "agent exited with status %d: %s", invRes.ExitCode, tail(invRes.Stderr, 512))
	}

	transcript, err := p.transcript(invRes.Stdout)
	if err != nil {
		return nil, Errorf(KindProtocolError, p.name, "%v", err)
	}
	return parseReviewReport(p.name, transcript)
}

// rollback restores the pre-build tree. The run is already failing when
// this is called, so a restore failure is only logged.
func (p *cliProvider) rollback(snap *workspace.Snapshot, repoPath string) {
	if err := snap.Restore(repoPath); err != nil {
		p.log.Warn("tree rollback failed", zap.String("repo_path", repoPath), zap.Error(err))
	}
}
