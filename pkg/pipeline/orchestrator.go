package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/dispatch/pkg/evidence"
	"github.com/zen-systems/dispatch/pkg/modelclient"
	"github.com/zen-systems/dispatch/pkg/provider"
	"github.com/zen-systems/dispatch/pkg/workorder"
	"github.com/zen-systems/dispatch/pkg/workspace"
)

const (
	defaultBuildTimeout  = 20 * time.Minute
	defaultReviewTimeout = 5 * time.Minute
)

// Options configures an Orchestrator.
type Options struct {
	// BuildTimeout bounds the builder stage. Zero means the default.
	BuildTimeout time.Duration
	// ReviewTimeout bounds the reviewer stage. Zero means the default.
	ReviewTimeout time.Duration
	// EvidenceDir enables the per-run JSON journal when non-empty.
	EvidenceDir string
	// Logger receives structured run events. Nil means no logging.
	Logger *zap.Logger
}

// Orchestrator executes work orders through the build-review pipeline.
// Independent runs may execute concurrently; runs against the same repo
// path are serialized. The registry is the only state shared across runs
// and is read-only.
type Orchestrator struct {
	registry      *provider.Registry
	buildTimeout  time.Duration
	reviewTimeout time.Duration
	evidenceDir   string
	log           *zap.Logger

	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
}

// New creates an orchestrator over the given registry.
func New(registry *provider.Registry, opts Options) *Orchestrator {
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = defaultBuildTimeout
	}
	if opts.ReviewTimeout <= 0 {
		opts.ReviewTimeout = defaultReviewTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:      registry,
		buildTimeout:  opts.BuildTimeout,
		reviewTimeout: opts.ReviewTimeout,
		evidenceDir:   opts.EvidenceDir,
		log:           opts.Logger,
		repoLocks:     make(map[string]*sync.Mutex),
	}
}

// Execute runs one work order to its terminal outcome. The returned error
// is non-nil only for an invalid work order; every backend failure is
// folded into a failed outcome instead.
func (o *Orchestrator) Execute(ctx context.Context, wo *workorder.WorkOrder, settings workorder.ProviderSettings) (*Outcome, error) {
	if err := wo.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := o.log.With(
		zap.String("run_id", runID),
		zap.String("work_order", wo.ID),
		zap.String("provider", settings.Provider),
	)
	start := time.Now()

	// The repo tree is an exclusively-owned resource per run.
	unlock := o.lockRepo(wo.RepoPath)
	defer unlock()

	journal := o.openJournal(runID, wo, settings, log)

	outcome := o.run(ctx, runID, wo, settings, log, journal)
	outcome.Duration = time.Since(start)

	if journal != nil {
		record := evidence.OutcomeRecord{
			RunID:          runID,
			Status:         string(outcome.Status),
			Notes:          outcome.Notes,
			FinishedAt:     time.Now().UTC(),
			DurationMillis: outcome.Duration.Milliseconds(),
		}
		if outcome.Failure != nil {
			record.FailureStage = string(outcome.Failure.Stage)
			record.FailureKind = string(outcome.Failure.Kind)
			record.FailureDetail = outcome.Failure.Detail
			record.FailureTransient = outcome.Failure.Transient
		}
		if err := journal.WriteOutcome(record); err != nil {
			log.Warn("journal outcome write failed", zap.Error(err))
		}
	}

	log.Info("run finished",
		zap.String("status", string(outcome.Status)),
		zap.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

// run drives the state machine: Pending -> Building -> Reviewing ->
// terminal. Each stage runs at most once; any failure is terminal.
func (o *Orchestrator) run(ctx context.Context, runID string, wo *workorder.WorkOrder, settings workorder.ProviderSettings, log *zap.Logger, journal *evidence.Writer) *Outcome {
	outcome := &Outcome{RunID: runID}

	// Pending: resolve the backend. An unknown name makes no provider calls.
	backend, err := o.registry.Resolve(settings.Provider)
	if err != nil {
		return o.fail(outcome, StagePending, err, provider.KindUnknownProvider)
	}

	// Building.
	log.Info("building", zap.String("backend", backend.Name()))
	buildStart := time.Now()
	buildCtx, cancelBuild := context.WithTimeout(ctx, o.buildTimeout)
	builder, err := backend.RunBuilder(buildCtx, wo, settings)
	cancelBuild()

	if journal != nil {
		record := evidence.StageRecord{
			Stage:          "build",
			Backend:        backend.Name(),
			Builder:        builder,
			DurationMillis: time.Since(buildStart).Milliseconds(),
		}
		if err != nil {
			record.Error = err.Error()
		}
		if writeErr := journal.WriteStage(record); writeErr != nil {
			log.Warn("journal stage write failed", zap.Error(writeErr))
		}
	}
	if err != nil {
		return o.fail(outcome, StageBuilding, err, provider.KindBuilderFailed)
	}
	outcome.Builder = builder

	// The builder's reported file set must be backed by its diff; a
	// violation is a backend contract bug, not a recoverable state.
	if err := workspace.VerifyFilesChanged(builder.FilesChanged, builder.Diff); err != nil {
		perr := provider.NewError(provider.KindProtocolError, backend.Name(), err)
		return o.fail(outcome, StageBuilding, perr, provider.KindProtocolError)
	}

	// A cancelled run must not proceed to review.
	if ctxErr := ctx.Err(); ctxErr != nil {
		perr := provider.NewError(provider.KindOf(ctxErr, provider.KindCancelled), backend.Name(), ctxErr)
		return o.fail(outcome, StageBuilding, perr, provider.KindCancelled)
	}

	// Reviewing. The builder result is forwarded untouched.
	log.Info("reviewing", zap.String("backend", backend.Name()))
	reviewStart := time.Now()
	reviewCtx, cancelReview := context.WithTimeout(ctx, o.reviewTimeout)
	verdict, err := backend.RunReviewer(reviewCtx, wo, builder, settings)
	cancelReview()

	if journal != nil {
		record := evidence.StageRecord{
			Stage:          "review",
			Backend:        backend.Name(),
			Verdict:        verdict,
			DurationMillis: time.Since(reviewStart).Milliseconds(),
		}
		if err != nil {
			record.Error = err.Error()
		}
		if writeErr := journal.WriteStage(record); writeErr != nil {
			log.Warn("journal stage write failed", zap.Error(writeErr))
		}
	}
	if err != nil {
		return o.fail(outcome, StageReviewing, err, provider.KindReviewFailed)
	}

	outcome.Verdict = verdict
	outcome.Notes = verdict.Notes
	switch verdict.Decision {
	case workorder.DecisionApproved:
		outcome.Status = StatusApproved
	default:
		outcome.Status = StatusChangesRequested
	}
	return outcome
}

func (o *Orchestrator) fail(outcome *Outcome, stage Stage, err error, fallback provider.ErrorKind) *Outcome {
	outcome.Status = StatusFailed
	outcome.Failure = &Failure{
		Stage:     stage,
		Kind:      provider.KindOf(err, fallback),
		Detail:    err.Error(),
		Transient: modelclient.IsTransient(err),
	}
	return outcome
}

// lockRepo serializes runs that target the same repo path.
func (o *Orchestrator) lockRepo(repoPath string) func() {
	key := repoPath
	if abs, err := filepath.Abs(repoPath); err == nil {
		key = abs
	}

	o.mu.Lock()
	lock, ok := o.repoLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.repoLocks[key] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (o *Orchestrator) openJournal(runID string, wo *workorder.WorkOrder, settings workorder.ProviderSettings, log *zap.Logger) *evidence.Writer {
	if o.evidenceDir == "" {
		return nil
	}
	journal, err := evidence.NewWriter(o.evidenceDir, runID)
	if err != nil {
		log.Warn("journal disabled", zap.Error(err))
		return nil
	}
	record := evidence.RunRecord{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		WorkOrder: wo,
		Settings:  settings,
	}
	if err := journal.WriteRun(record); err != nil {
		log.Warn("journal run write failed", zap.Error(err))
	}
	return journal
}
