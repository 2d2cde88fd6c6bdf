package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zen-systems/dispatch/pkg/modelclient"
	"github.com/zen-systems/dispatch/pkg/workorder"
)

const hostedDiffReply = "```json\n" +
	`{"summary": "add greeting", "diff": "--- a/hello.txt\n+++ b/hello.txt\n@@ -1,1 +1,2 @@\n hello\n+world\n", "tests": [], "risks": []}` +
	"\n```"

func hostedOrder(t *testing.T) *workorder.WorkOrder {
	t.Helper()
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "hello.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("seed repo: %v", err)
	}
	return &workorder.WorkOrder{ID: "wo-1", Goal: "greet", RepoPath: repo}
}

func TestHostedBuilderAppliesModelDiff(t *testing.T) {
	wo := hostedOrder(t)
	client := modelclient.NewMockClient()
	client.SetDefault(hostedDiffReply)
	p := NewHosted(client, nil)

	result, err := p.RunBuilder(context.Background(), wo, workorder.ProviderSettings{})
	if err != nil {
		t.Fatalf("run builder: %v", err)
	}
	if result.Summary != "add greeting" {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if len(result.FilesChanged) != 1 || result.FilesChanged[0] != "hello.txt" {
		t.Fatalf("unexpected files changed: %v", result.FilesChanged)
	}

	data, err := os.ReadFile(filepath.Join(wo.RepoPath, "hello.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello\nworld\n" {
		t.Fatalf("diff not applied: %q", data)
	}
}

func TestHostedBuilderEmptyDiffMeansNoChange(t *testing.T) {
	wo := hostedOrder(t)
	client := modelclient.NewMockClient()
	client.SetDefault("```json\n" + `{"summary": "nothing to do", "diff": "", "tests": [], "risks": ["stop condition triggered: destructive rm -rf detected"]}` + "\n```")
	p := NewHosted(client, nil)

	result, err := p.RunBuilder(context.Background(), wo, workorder.ProviderSettings{})
	if err != nil {
		t.Fatalf("run builder: %v", err)
	}
	if result.Diff != "" || len(result.FilesChanged) != 0 {
		t.Fatalf("expected no change, got %+v", result)
	}
	if len(result.Risks) != 1 {
		t.Fatalf("risks lost: %v", result.Risks)
	}
}

func TestHostedBuilderRejectsUnparsableDiff(t *testing.T) {
	wo := hostedOrder(t)
	client := modelclient.NewMockClient()
	client.SetDefault("```json\n" + `{"summary": "bad", "diff": "this is not a diff", "tests": [], "risks": []}` + "\n```")
	p := NewHosted(client, nil)

	_, err := p.RunBuilder(context.Background(), wo, workorder.ProviderSettings{})
	if KindOf(err, "") != KindProtocolError {
		t.Fatalf("expected protocol_error, got %v", err)
	}
}

func TestHostedBuilderRejectsOverlappingHunks(t *testing.T) {
	wo := hostedOrder(t)
	client := modelclient.NewMockClient()
	client.SetDefault("```json\n" +
		`{"summary": "bad", "diff": "--- a/f.txt\n+++ b/f.txt\n@@ -4,2 +4,2 @@\n four\n-five\n+FIVE\n@@ -1,2 +1,2 @@\n one\n-two\n+TWO\n", "tests": [], "risks": []}` +
		"\n```")
	p := NewHosted(client, nil)

	_, err := p.RunBuilder(context.Background(), wo, workorder.ProviderSettings{})
	if KindOf(err, "") != KindProtocolError {
		t.Fatalf("expected protocol_error for out-of-order hunks, got %v", err)
	}
}

func TestHostedBuilderSurfacesClientErrors(t *testing.T) {
	wo := hostedOrder(t)
	client := modelclient.NewMockClient()
	client.Err = errors.New("api down")
	p := NewHosted(client, nil)

	_, err := p.RunBuilder(context.Background(), wo, workorder.ProviderSettings{})
	if KindOf(err, "") != KindBuilderFailed {
		t.Fatalf("expected builder_failed, got %v", err)
	}
}

func TestHostedReviewer(t *testing.T) {
	wo := hostedOrder(t)
	client := modelclient.NewMockClient()
	client.SetDefault("```json\n" + `{"decision": "changes_requested", "notes": ["builder reported a stop condition"]}` + "\n```")
	p := NewHosted(client, nil)

	verdict, err := p.RunReviewer(context.Background(), wo, &workorder.BuilderResult{Summary: "s"}, workorder.ProviderSettings{})
	if err != nil {
		t.Fatalf("run reviewer: %v", err)
	}
	if verdict.Decision != workorder.DecisionChangesRequested {
		t.Fatalf("unexpected decision: %s", verdict.Decision)
	}
}

func TestHostedUsesSettingsModel(t *testing.T) {
	wo := hostedOrder(t)
	client := modelclient.NewMockClient()
	client.SetDefault(hostedDiffReply)
	p := NewHosted(client, nil)

	if _, err := p.RunBuilder(context.Background(), wo, workorder.ProviderSettings{Model: "mock-special"}); err != nil {
		t.Fatalf("run builder: %v", err)
	}
	if len(client.ModelsUsed) != 1 || client.ModelsUsed[0] != "mock-special" {
		t.Fatalf("expected settings model to be used, got %v", client.ModelsUsed)
	}
}
