package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyModifiesExistingFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	original := "package main\n\nfunc main() {\n}\n"
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff := `--- a/main.go
+++ b/main.go
@@ -1,4 +1,5 @@
 package main

 func main() {
+	println("hello")
 }
`
	result, err := Apply(root, diff)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.AppliedFiles) != 1 || result.AppliedFiles[0] != "main.go" {
		t.Fatalf("unexpected applied files: %v", result.AppliedFiles)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n"
	if string(data) != want {
		t.Fatalf("unexpected content:\n%s", data)
	}
}

func TestApplyCreatesAndDeletesFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "old.txt"), []byte("stale\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff := `--- /dev/null
+++ b/notes.txt
@@ -0,0 +1,2 @@
+first
+second
--- a/old.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-stale
`
	result, err := Apply(root, diff)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.AppliedFiles) != 1 || len(result.DeletedFiles) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatalf("read created file: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Fatalf("unexpected content: %q", data)
	}
	if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected old.txt to be deleted")
	}
}

func TestApplyRejectsContextMismatchWithoutWriting(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("actual content\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-expected content
+replacement
`
	if _, err := Apply(root, diff); err == nil {
		t.Fatalf("expected context mismatch")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "actual content\n" {
		t.Fatalf("tree mutated despite failed apply: %q", data)
	}
}

func TestApplyRejectsOutOfOrderHunksWithoutWriting(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	original := "one\ntwo\nthree\nfour\nfive\n"
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff := `--- a/f.txt
+++ b/f.txt
@@ -4,2 +4,2 @@
 four
-five
+FIVE
@@ -1,2 +1,2 @@
 one
-two
+TWO
`
	if _, err := Apply(root, diff); err == nil {
		t.Fatalf("expected error for hunks out of order")
	}
	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Fatalf("tree mutated despite failed apply: %q", data)
	}
}

func TestApplyPreservesMissingTrailingNewline(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("one\ntwo"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff := `--- a/f.txt
+++ b/f.txt
@@ -1,2 +1,2 @@
-one
+ONE
 two
\ No newline at end of file
`
	if _, err := Apply(root, diff); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "ONE\ntwo" {
		t.Fatalf("expected missing trailing newline preserved, got %q", data)
	}
}

func TestApplyAddsTrailingNewlineWhenDiffSaysSo(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("line"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff := `--- a/f.txt
+++ b/f.txt
@@ -1,1 +1,1 @@
-line
\ No newline at end of file
+line
`
	if _, err := Apply(root, diff); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "line\n" {
		t.Fatalf("expected trailing newline added, got %q", data)
	}
}

func TestApplyRejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	diff := `--- /dev/null
+++ b/../escape.txt
@@ -0,0 +1,1 @@
+nope
`
	if _, err := Apply(root, diff); err == nil {
		t.Fatalf("expected path escape rejection")
	}
}
