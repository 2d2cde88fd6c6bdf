package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileModeDefault = 0644

// ApplyResult describes the changes an Apply made to the tree.
type ApplyResult struct {
	AppliedFiles []string `json:"applied_files,omitempty"`
	DeletedFiles []string `json:"deleted_files,omitempty"`
}

// Apply applies unified diff text to the tree rooted at root. Every file
// operation is planned and validated before anything is written, so a diff
// that fails to apply leaves the tree untouched.
func Apply(root, diff string) (*ApplyResult, error) {
	patches, err := ParseUnifiedDiff(diff)
	if err != nil {
		return nil, err
	}

	plans := make([]fileOp, 0, len(patches))
	for _, patch := range patches {
		plan, err := planFileOp(root, patch)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	result := &ApplyResult{}
	for _, plan := range plans {
		if plan.delete {
			if err := os.Remove(plan.path); err != nil && !os.IsNotExist(err) {
				return nil, err
			}
			result.DeletedFiles = append(result.DeletedFiles, plan.relative)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(plan.path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(plan.path, []byte(plan.content), plan.mode); err != nil {
			return nil, err
		}
		result.AppliedFiles = append(result.AppliedFiles, plan.relative)
	}

	return result, nil
}

type fileOp struct {
	path     string
	relative string
	content  string
	mode     os.FileMode
	delete   bool
}

func planFileOp(root string, patch Patch) (fileOp, error) {
	relative := patch.Path()
	if relative == "/dev/null" {
		return fileOp{}, fmt.Errorf("invalid patch with both paths /dev/null")
	}

	path, err := safeJoin(root, relative)
	if err != nil {
		return fileOp{}, err
	}

	if patch.IsDelete() {
		return fileOp{path: path, relative: relative, delete: true}, nil
	}

	mode := os.FileMode(fileModeDefault)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	var original string
	if normalizeDiffPath(patch.OldPath) != "/dev/null" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return fileOp{}, err
		}
		original = string(data)
	}

	updated, err := applyHunks(original, patch)
	if err != nil {
		return fileOp{}, fmt.Errorf("apply patch %s: %w", relative, err)
	}

	return fileOp{path: path, relative: relative, content: updated, mode: mode}, nil
}

func applyHunks(original string, patch Patch) (string, error) {
	oldLines := splitLines(original)
	var newLines []string

	index := 0
	for _, hunk := range patch.Hunks {
		target := hunk.OldStart - 1
		if target < 0 {
			target = 0
		}
		if target > len(oldLines) {
			return "", fmt.Errorf("hunk starts beyond file length")
		}
		if target < index {
			return "", fmt.Errorf("hunk at old line %d overlaps previous hunk", hunk.OldStart)
		}

		newLines = append(newLines, oldLines[index:target]...)
		index = target

		for _, line := range hunk.Lines {
			marker := byte(' ')
			text := ""
			if line != "" {
				marker = line[0]
				text = line[1:]
			}
			switch marker {
			case ' ':
				if index >= len(oldLines) || oldLines[index] != text {
					return "", fmt.Errorf("context mismatch at line %d", index+1)
				}
				newLines = append(newLines, text)
				index++
			case '-':
				if index >= len(oldLines) || oldLines[index] != text {
					return "", fmt.Errorf("delete mismatch at line %d", index+1)
				}
				index++
			case '+':
				newLines = append(newLines, text)
			default:
				return "", fmt.Errorf("invalid hunk line: %s", line)
			}
		}
	}

	tail := oldLines[index:]
	newLines = append(newLines, tail...)
	joined := strings.Join(newLines, "\n")
	if joined == "" {
		return joined, nil
	}

	// When the hunks reach the end of the old file, the diff's no-newline
	// marker decides the trailing newline; otherwise the untouched tail
	// keeps the old file's ending.
	noEOL := patch.NewNoEOL
	if len(tail) > 0 {
		noEOL = original != "" && !strings.HasSuffix(original, "\n")
	}
	if !noEOL {
		joined += "\n"
	}
	return joined, nil
}

func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

func safeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	cleaned := filepath.Clean(rel)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid path: %s", rel)
	}

	joined := filepath.Join(root, cleaned)
	relCheck, err := filepath.Rel(root, joined)
	if err != nil || strings.HasPrefix(relCheck, "..") {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return joined, nil
}
