// Package provider defines the backend abstraction for the build/review
// pipeline: a Provider turns a work order into a candidate change, and a
// candidate change into a review verdict.
package provider

import (
	"context"

	"github.com/zen-systems/dispatch/pkg/workorder"
)

// Provider is a concrete coding-agent backend. Implementations must not
// mutate the work order, must honor its stop conditions, and must enforce
// the deadline on the supplied context, leaving the repo tree consistent
// on every exit path.
type Provider interface {
	// Name returns the backend identifier.
	Name() string

	// RunBuilder invokes the backend against the work order's repo path and
	// returns the produced change.
	RunBuilder(ctx context.Context, wo *workorder.WorkOrder, settings workorder.ProviderSettings) (*workorder.BuilderResult, error)

	// RunReviewer judges a prior builder result. The builder result is
	// read-only evidence; a reviewer never re-invokes the builder.
	RunReviewer(ctx context.Context, wo *workorder.WorkOrder, result *workorder.BuilderResult, settings workorder.ProviderSettings) (*workorder.ReviewVerdict, error)
}
