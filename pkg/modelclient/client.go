// Package modelclient wraps hosted LLM APIs behind one small completion
// interface. The hosted providers use it to request diffs and review
// verdicts without caring which vendor serves the model.
package modelclient

import "context"

// Client is a hosted model backend.
type Client interface {
	// Complete sends a prompt to the model and returns its text response.
	Complete(ctx context.Context, model string, prompt string) (string, error)

	// Name returns the client's identifier.
	Name() string

	// Models returns the supported model identifiers, default first.
	Models() []string
}
