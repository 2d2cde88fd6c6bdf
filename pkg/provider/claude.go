package provider

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// claudeEnvelope is the top-level object `claude --output-format json`
// prints: the agent's final reply lives in the result field.
type claudeEnvelope struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

// NewClaudeCLI wraps the Claude Code CLI. The agent is invoked in
// non-interactive print mode with JSON output; its envelope is unwrapped
// and the final reply parsed for the report block.
func NewClaudeCLI(log *zap.Logger) Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &cliProvider{
		name:   "claude",
		binary: "claude",
		log:    log,
		args: func(prompt string) []string {
			return []string{"-p", prompt, "--output-format", "json"}
		},
		transcript: unwrapClaudeEnvelope,
	}
}

func unwrapClaudeEnvelope(stdout string) (string, error) {
	var envelope claudeEnvelope
	if err := json.Unmarshal([]byte(stdout), &envelope); err != nil {
		return "", fmt.Errorf("unparsable claude envelope: %w", err)
	}
	if envelope.IsError {
		return "", fmt.Errorf("claude reported an error result: %s", tail(envelope.Result, 512))
	}
	if envelope.Result == "" {
		return "", fmt.Errorf("claude envelope has no result")
	}
	return envelope.Result, nil
}
