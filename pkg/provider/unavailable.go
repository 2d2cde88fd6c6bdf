package provider

import (
	"context"

	"github.com/zen-systems/dispatch/pkg/workorder"
)

// unavailableProvider stands in for a backend whose credentials or
// configuration are missing at startup. It keeps the registry's name set
// closed while failing every run with the unavailable kind.
type unavailableProvider struct {
	name   string
	reason string
}

// NewUnavailable returns a provider that fails every call with
// provider_unavailable and the given reason.
func NewUnavailable(name, reason string) Provider {
	return &unavailableProvider{name: name, reason: reason}
}

func (p *unavailableProvider) Name() string {
	return p.name
}

func (p *unavailableProvider) RunBuilder(context.Context, *workorder.WorkOrder, workorder.ProviderSettings) (*workorder.BuilderResult, error) {
	return nil, Errorf(KindUnavailable, p.name, "%s", p.reason)
}

func (p *unavailableProvider) RunReviewer(context.Context, *workorder.WorkOrder, *workorder.BuilderResult, workorder.ProviderSettings) (*workorder.ReviewVerdict, error) {
	return nil, Errorf(KindUnavailable, p.name, "%s", p.reason)
}
