package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zen-systems/dispatch/pkg/modelclient"
	"github.com/zen-systems/dispatch/pkg/provider"
	"github.com/zen-systems/dispatch/pkg/workorder"
)

// stubProvider is a deterministic provider double that records the order
// of stage invocations.
type stubProvider struct {
	name     string
	buildFn  func(ctx context.Context, wo *workorder.WorkOrder) (*workorder.BuilderResult, error)
	reviewFn func(ctx context.Context, wo *workorder.WorkOrder, result *workorder.BuilderResult) (*workorder.ReviewVerdict, error)

	mu    sync.Mutex
	calls []string
}

func (s *stubProvider) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubProvider) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *stubProvider) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubProvider) RunBuilder(ctx context.Context, wo *workorder.WorkOrder, _ workorder.ProviderSettings) (*workorder.BuilderResult, error) {
	s.record("build")
	if s.buildFn != nil {
		return s.buildFn(ctx, wo)
	}
	return &workorder.BuilderResult{Summary: "stub build"}, nil
}

func (s *stubProvider) RunReviewer(ctx context.Context, wo *workorder.WorkOrder, result *workorder.BuilderResult, _ workorder.ProviderSettings) (*workorder.ReviewVerdict, error) {
	s.record("review")
	if s.reviewFn != nil {
		return s.reviewFn(ctx, wo, result)
	}
	return &workorder.ReviewVerdict{Decision: workorder.DecisionApproved, Notes: []string{}}, nil
}

func testWorkOrder() *workorder.WorkOrder {
	return &workorder.WorkOrder{
		ID:                 "wo-1",
		Goal:               "add null check",
		AcceptanceCriteria: []string{"no crash on empty input"},
		RepoPath:           "/tmp/wo-1-repo",
	}
}

func newTestOrchestrator(stub provider.Provider, opts Options) *Orchestrator {
	reg := provider.NewRegistry()
	reg.Register(stub)
	return New(reg, opts)
}

func TestApprovedRun(t *testing.T) {
	oneLine := "--- a/p.go\n+++ b/p.go\n@@ -1,1 +1,2 @@\n p\n+check\n"
	stub := &stubProvider{
		buildFn: func(_ context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			return &workorder.BuilderResult{
				Summary:      "added null check",
				FilesChanged: []string{"p.go"},
				Diff:         oneLine,
				Tests:        []workorder.TestRun{{Command: "go test ./...", Passed: true}},
			}, nil
		},
		reviewFn: func(_ context.Context, _ *workorder.WorkOrder, _ *workorder.BuilderResult) (*workorder.ReviewVerdict, error) {
			return &workorder.ReviewVerdict{Decision: workorder.DecisionApproved, Notes: []string{"criteria satisfied"}}, nil
		},
	}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != StatusApproved {
		t.Fatalf("expected approved, got %+v", outcome)
	}
	if len(outcome.Notes) != 1 || outcome.Notes[0] != "criteria satisfied" {
		t.Fatalf("unexpected notes: %v", outcome.Notes)
	}
	if calls := stub.Calls(); len(calls) != 2 || calls[0] != "build" || calls[1] != "review" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestRiskyEmptyDiffStillReachesReview(t *testing.T) {
	stub := &stubProvider{
		buildFn: func(_ context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			return &workorder.BuilderResult{
				Summary: "halted early",
				Risks:   []string{"stop condition triggered: destructive rm -rf detected"},
			}, nil
		},
		reviewFn: func(_ context.Context, _ *workorder.WorkOrder, result *workorder.BuilderResult) (*workorder.ReviewVerdict, error) {
			for _, risk := range result.Risks {
				if strings.Contains(risk, "stop condition triggered") {
					return &workorder.ReviewVerdict{Decision: workorder.DecisionChangesRequested, Notes: []string{risk}}, nil
				}
			}
			return &workorder.ReviewVerdict{Decision: workorder.DecisionApproved, Notes: []string{}}, nil
		},
	}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != StatusChangesRequested {
		t.Fatalf("expected changes_requested, got %+v", outcome)
	}
	if calls := stub.Calls(); len(calls) != 2 {
		t.Fatalf("review should still run after a structurally valid build: %v", calls)
	}
}

func TestUnknownProviderFailsInPendingWithZeroCalls(t *testing.T) {
	stub := &stubProvider{}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "unknown_backend"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !outcome.Failed() {
		t.Fatalf("expected failed, got %+v", outcome)
	}
	if outcome.Failure.Stage != StagePending || outcome.Failure.Kind != provider.KindUnknownProvider {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	if calls := stub.Calls(); len(calls) != 0 {
		t.Fatalf("expected zero provider calls, got %v", calls)
	}
}

func TestBuilderErrorSkipsReview(t *testing.T) {
	stub := &stubProvider{
		buildFn: func(_ context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			return nil, provider.Errorf(provider.KindBuilderFailed, "stub", "agent exited with status 2")
		},
	}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Stage != StageBuilding || outcome.Failure.Kind != provider.KindBuilderFailed {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	if calls := stub.Calls(); len(calls) != 1 || calls[0] != "build" {
		t.Fatalf("reviewer must not run after a failed build: %v", calls)
	}
}

func TestBuilderTimeoutSkipsReview(t *testing.T) {
	stub := &stubProvider{
		buildFn: func(ctx context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			<-ctx.Done()
			return nil, provider.NewError(provider.KindOf(ctx.Err(), provider.KindTimeout), "stub", ctx.Err())
		},
	}
	o := newTestOrchestrator(stub, Options{BuildTimeout: 50 * time.Millisecond})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Stage != StageBuilding || outcome.Failure.Kind != provider.KindTimeout {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	if calls := stub.Calls(); len(calls) != 1 {
		t.Fatalf("reviewer must not run after a timed out build: %v", calls)
	}
}

func TestCancellationDuringBuildNeverReachesReview(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubProvider{
		buildFn: func(buildCtx context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			cancel()
			<-buildCtx.Done()
			return nil, provider.NewError(provider.KindOf(buildCtx.Err(), provider.KindCancelled), "stub", buildCtx.Err())
		},
	}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(ctx, testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Kind != provider.KindCancelled {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	if calls := stub.Calls(); len(calls) != 1 {
		t.Fatalf("reviewer must not run after cancellation: %v", calls)
	}
}

func TestContractViolationIsProtocolError(t *testing.T) {
	stub := &stubProvider{
		buildFn: func(_ context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			// Reports a changed file its empty diff does not touch.
			return &workorder.BuilderResult{Summary: "s", FilesChanged: []string{"x.go"}}, nil
		},
	}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Kind != provider.KindProtocolError {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
	if calls := stub.Calls(); len(calls) != 1 {
		t.Fatalf("reviewer must not see an invalid builder result: %v", calls)
	}
}

func TestFailureMarksTransientErrors(t *testing.T) {
	stub := &stubProvider{
		buildFn: func(_ context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			clientErr := &modelclient.ClientError{Status: 429, Err: fmt.Errorf("rate limit")}
			return nil, provider.NewError(provider.KindBuilderFailed, "stub", clientErr)
		},
	}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Failure == nil || !outcome.Failure.Transient {
		t.Fatalf("rate-limited failure should be marked transient: %+v", outcome.Failure)
	}
}

func TestFailureMarksPermanentErrors(t *testing.T) {
	stub := &stubProvider{
		buildFn: func(_ context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			return nil, provider.Errorf(provider.KindBuilderFailed, "stub", "agent exited with status 2")
		},
	}
	o := newTestOrchestrator(stub, Options{})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Transient {
		t.Fatalf("hard agent failure must not be marked transient: %+v", outcome.Failure)
	}
}

func TestIdempotentOutcomes(t *testing.T) {
	stub := &stubProvider{}
	o := newTestOrchestrator(stub, Options{})
	settings := workorder.ProviderSettings{Provider: "stub"}

	first, err := o.Execute(context.Background(), testWorkOrder(), settings)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := o.Execute(context.Background(), testWorkOrder(), settings)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Status != second.Status {
		t.Fatalf("outcomes differ: %s vs %s", first.Status, second.Status)
	}
	if len(first.Notes) != len(second.Notes) {
		t.Fatalf("notes differ: %v vs %v", first.Notes, second.Notes)
	}
}

func TestRunsAgainstSameRepoAreSerialized(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	stub := &stubProvider{
		buildFn: func(_ context.Context, _ *workorder.WorkOrder) (*workorder.BuilderResult, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return &workorder.BuilderResult{Summary: "s"}, nil
		},
	}
	o := newTestOrchestrator(stub, Options{})
	settings := workorder.ProviderSettings{Provider: "stub"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Execute(context.Background(), testWorkOrder(), settings); err != nil {
				t.Errorf("execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("runs against one repo path overlapped: max in flight %d", maxInFlight)
	}
}

func TestEvidenceJournalWritten(t *testing.T) {
	dir := t.TempDir()
	stub := &stubProvider{}
	o := newTestOrchestrator(stub, Options{EvidenceDir: dir})

	outcome, err := o.Execute(context.Background(), testWorkOrder(), workorder.ProviderSettings{Provider: "stub"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.RunID == "" {
		t.Fatalf("missing run ID")
	}

	for _, name := range []string{"run.json", "build.json", "review.json", "outcome.json"} {
		if _, statErr := os.Stat(filepath.Join(dir, outcome.RunID, name)); statErr != nil {
			t.Fatalf("missing journal file %s: %v", name, statErr)
		}
	}
}
