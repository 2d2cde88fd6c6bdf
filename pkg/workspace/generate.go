package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const hunkContext = 3

// DiffTrees produces a unified diff between a snapshot and the current
// tree, plus the sorted list of repo-relative paths that changed. An
// identical tree yields an empty diff.
func DiffTrees(snapshot *Snapshot, current string) (string, []string, error) {
	paths, err := unionPaths(snapshot.Dir(), current)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	var changed []string
	for _, rel := range paths {
		oldContent, oldExists, err := readIfExists(filepath.Join(snapshot.Dir(), rel))
		if err != nil {
			return "", nil, err
		}
		newContent, newExists, err := readIfExists(filepath.Join(current, rel))
		if err != nil {
			return "", nil, err
		}
		if oldExists && newExists && oldContent == newContent {
			continue
		}

		oldHeader := "a/" + rel
		newHeader := "b/" + rel
		if !oldExists {
			oldHeader = "/dev/null"
		}
		if !newExists {
			newHeader = "/dev/null"
		}

		hunks := buildHunks(diffLines(oldContent, newContent), hunkContext)
		if len(hunks) == 0 {
			continue
		}

		oldNoEOL := oldExists && oldContent != "" && !strings.HasSuffix(oldContent, "\n")
		newNoEOL := newExists && newContent != "" && !strings.HasSuffix(newContent, "\n")
		oldTotal := len(splitLines(oldContent))
		newTotal := len(splitLines(newContent))

		fmt.Fprintf(&sb, "--- %s\n+++ %s\n", oldHeader, newHeader)
		for i, hunk := range hunks {
			markOld, markNew := false, false
			if i == len(hunks)-1 {
				markOld = oldNoEOL && hunkEndsSide(hunk.OldStart, hunk.OldLines, oldTotal)
				markNew = newNoEOL && hunkEndsSide(hunk.NewStart, hunk.NewLines, newTotal)
			}
			sb.WriteString(renderHunk(hunk, markOld, markNew))
		}
		changed = append(changed, rel)
	}

	sort.Strings(changed)
	return sb.String(), changed, nil
}

type lineOp struct {
	kind byte // ' ', '-', '+'
	text string
}

// diffLines computes a line-level edit script between two file contents.
func diffLines(oldContent, newContent string) []lineOp {
	dmp := diffmatchpatch.New()
	oldChars, newChars, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(oldChars, newChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var ops []lineOp
	for _, d := range diffs {
		kind := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

// buildHunks groups an edit script into unified hunks with the given
// number of context lines, merging hunks whose context would overlap.
func buildHunks(ops []lineOp, context int) []Hunk {
	type span struct{ start, end int }
	var spans []span
	for i := 0; i < len(ops); i++ {
		if ops[i].kind == ' ' {
			continue
		}
		start := i
		for i < len(ops) {
			if ops[i].kind != ' ' {
				i++
				continue
			}
			// Look ahead: a short equal gap stays in the same hunk.
			gap := 0
			for i+gap < len(ops) && ops[i+gap].kind == ' ' {
				gap++
			}
			if gap <= 2*context && i+gap < len(ops) {
				i += gap
				continue
			}
			break
		}
		spans = append(spans, span{start: start, end: i})
	}

	var hunks []Hunk
	for _, sp := range spans {
		start := sp.start - context
		if start < 0 {
			start = 0
		}
		end := sp.end + context
		if end > len(ops) {
			end = len(ops)
		}

		oldBefore, newBefore := 0, 0
		for _, op := range ops[:start] {
			switch op.kind {
			case ' ':
				oldBefore++
				newBefore++
			case '-':
				oldBefore++
			case '+':
				newBefore++
			}
		}

		hunk := Hunk{}
		for _, op := range ops[start:end] {
			switch op.kind {
			case ' ':
				hunk.OldLines++
				hunk.NewLines++
			case '-':
				hunk.OldLines++
			case '+':
				hunk.NewLines++
			}
			hunk.Lines = append(hunk.Lines, string(op.kind)+op.text)
		}

		hunk.OldStart = oldBefore + 1
		if hunk.OldLines == 0 {
			hunk.OldStart = oldBefore
		}
		hunk.NewStart = newBefore + 1
		if hunk.NewLines == 0 {
			hunk.NewStart = newBefore
		}
		hunks = append(hunks, hunk)
	}
	return hunks
}

// hunkEndsSide reports whether a hunk's range reaches the last line of
// its side of the file.
func hunkEndsSide(start, count, total int) bool {
	return count > 0 && start+count-1 == total
}

// renderHunk renders one hunk, inserting a "\ No newline at end of file"
// marker after the last old-side or new-side line when asked. A shared
// context line gets a single marker covering both sides.
func renderHunk(h Hunk, markOld, markNew bool) string {
	lastOld, lastNew := -1, -1
	for i, line := range h.Lines {
		if line == "" {
			continue
		}
		switch line[0] {
		case ' ':
			lastOld, lastNew = i, i
		case '-':
			lastOld = i
		case '+':
			lastNew = i
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
	for i, line := range h.Lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
		if (markOld && i == lastOld) || (markNew && i == lastNew) {
			sb.WriteString("\\ No newline at end of file\n")
		}
	}
	return sb.String()
}

func unionPaths(oldRoot, newRoot string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, root := range []string{oldRoot, newRoot} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			if excluded(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				seen[rel] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(seen))
	for rel := range seen {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths, nil
}

func readIfExists(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}
