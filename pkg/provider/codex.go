package provider

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// codexEvent is one line of the JSONL stream `codex exec --json` emits.
// Only completed agent messages carry the reply text.
type codexEvent struct {
	Type string `json:"type"`
	Item struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// NewCodexCLI wraps the Codex CLI. The agent is invoked in exec mode with
// JSONL output; the last completed agent message is the reply.
func NewCodexCLI(log *zap.Logger) Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &cliProvider{
		name:   "codex",
		binary: "codex",
		log:    log,
		args: func(prompt string) []string {
			return []string{"exec", "--json", prompt}
		},
		transcript: lastCodexAgentMessage,
	}
}

func lastCodexAgentMessage(stdout string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var last string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var event codexEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if event.Type == "item.completed" && event.Item.Type == "agent_message" {
			last = event.Item.Text
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read codex event stream: %w", err)
	}
	if last == "" {
		return "", fmt.Errorf("no agent message in codex event stream")
	}
	return last, nil
}
