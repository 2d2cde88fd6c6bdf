package provider

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NewGeminiCLI wraps the Gemini CLI. The agent is invoked in prompt mode
// and replies on plain stdout; the report block is extracted from the raw
// transcript.
func NewGeminiCLI(log *zap.Logger) Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &cliProvider{
		name:   "gemini",
		binary: "gemini",
		log:    log,
		args: func(prompt string) []string {
			return []string{"-p", prompt, "--yolo"}
		},
		transcript: func(stdout string) (string, error) {
			if strings.TrimSpace(stdout) == "" {
				return "", fmt.Errorf("gemini produced no output")
			}
			return stdout, nil
		},
	}
}
