package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zen-systems/dispatch/pkg/workorder"
)

// buildReport is the JSON self-report every builder prompt demands from
// the backend at the end of its transcript.
type buildReport struct {
	Summary string              `json:"summary"`
	Tests   []workorder.TestRun `json:"tests,omitempty"`
	Risks   []string            `json:"risks,omitempty"`
}

// reviewReport is the JSON verdict every reviewer prompt demands.
type reviewReport struct {
	Decision string   `json:"decision"`
	Notes    []string `json:"notes"`
}

// buildPrompt renders the builder instruction for a work order.
func buildPrompt(wo *workorder.WorkOrder) string {
	var sb strings.Builder
	sb.WriteString("You are a coding agent executing a work order against the current repository.\n\n")
	fmt.Fprintf(&sb, "Work order %s: %s\n", wo.ID, wo.Title)
	fmt.Fprintf(&sb, "\nGoal:\n%s\n", wo.Goal)

	if len(wo.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for _, criterion := range wo.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", criterion)
		}
	}
	if len(wo.StopConditions) > 0 {
		sb.WriteString("\nStop conditions. If any of these would trigger, stop immediately, leave the tree in a consistent state with only safely-completed work, and record the condition in your risks as \"stop condition triggered: <condition>\":\n")
		for _, condition := range wo.StopConditions {
			fmt.Fprintf(&sb, "- %s\n", condition)
		}
	}

	sb.WriteString(`
Make the change directly in the working tree. Run the tests you rely on.
When you are done, end your reply with exactly one fenced JSON block:

` + "```json" + `
{"summary": "<what you changed>", "tests": [{"command": "<cmd>", "passed": true, "output": "<short excerpt>"}], "risks": ["<caveat>"]}
` + "```" + `
`)
	return sb.String()
}

// reviewPrompt renders the reviewer instruction for a builder result.
func reviewPrompt(wo *workorder.WorkOrder, result *workorder.BuilderResult) string {
	var sb strings.Builder
	sb.WriteString("You are reviewing a candidate code change. Do not modify any files; judge the evidence below.\n\n")
	fmt.Fprintf(&sb, "Work order %s: %s\n", wo.ID, wo.Title)
	fmt.Fprintf(&sb, "\nGoal:\n%s\n", wo.Goal)

	if len(wo.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for _, criterion := range wo.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", criterion)
		}
	}

	fmt.Fprintf(&sb, "\nBuilder summary:\n%s\n", result.Summary)
	if len(result.Risks) > 0 {
		sb.WriteString("\nBuilder-reported risks:\n")
		for _, risk := range result.Risks {
			fmt.Fprintf(&sb, "- %s\n", risk)
		}
	}
	if len(result.Tests) > 0 {
		sb.WriteString("\nBuilder test results:\n")
		for _, test := range result.Tests {
			status := "FAILED"
			if test.Passed {
				status = "passed"
			}
			fmt.Fprintf(&sb, "- %s: %s\n", test.Command, status)
		}
	}
	if result.Diff != "" {
		fmt.Fprintf(&sb, "\nDiff:\n%s\n", result.Diff)
	} else {
		sb.WriteString("\nDiff: (no change produced)\n")
	}

	sb.WriteString(`
Reply with exactly one fenced JSON block. Decision must be "approved" or
"changes_requested"; notes are required on both:

` + "```json" + `
{"decision": "approved", "notes": ["<remark>"]}
` + "```" + `
`)
	return sb.String()
}

// parseBuildReport extracts and decodes the builder's self-report.
func parseBuildReport(backend, transcript string) (*buildReport, error) {
	raw, err := extractJSONBlock(transcript)
	if err != nil {
		return nil, Errorf(KindProtocolError, backend, "no build report in output: %v", err)
	}
	var report buildReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, Errorf(KindProtocolError, backend, "malformed build report: %v", err)
	}
	return &report, nil
}

// parseReviewReport extracts and decodes the reviewer's verdict.
func parseReviewReport(backend, transcript string) (*workorder.ReviewVerdict, error) {
	raw, err := extractJSONBlock(transcript)
	if err != nil {
		return nil, Errorf(KindProtocolError, backend, "no review verdict in output: %v", err)
	}
	var report reviewReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, Errorf(KindProtocolError, backend, "malformed review verdict: %v", err)
	}
	decision, err := workorder.ParseDecision(report.Decision)
	if err != nil {
		return nil, Errorf(KindProtocolError, backend, "%v", err)
	}
	notes := report.Notes
	if notes == nil {
		notes = []string{}
	}
	return &workorder.ReviewVerdict{Decision: decision, Notes: notes}, nil
}

// extractJSONBlock returns the last fenced JSON block in text, falling
// back to the last balanced top-level object.
func extractJSONBlock(text string) (string, error) {
	if block, ok := lastFencedBlock(text); ok {
		if !json.Valid([]byte(block)) {
			return "", fmt.Errorf("fenced block is not valid JSON")
		}
		return block, nil
	}

	end := strings.LastIndexByte(text, '}')
	for end >= 0 {
		depth := 0
		for i := end; i >= 0; i-- {
			switch text[i] {
			case '}':
				depth++
			case '{':
				depth--
			}
			if depth == 0 {
				candidate := text[i : end+1]
				if json.Valid([]byte(candidate)) {
					return candidate, nil
				}
				break
			}
		}
		end = strings.LastIndexByte(text[:end], '}')
	}
	return "", fmt.Errorf("no JSON object found")
}

func lastFencedBlock(text string) (string, bool) {
	const fence = "```json"
	start := strings.LastIndex(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
