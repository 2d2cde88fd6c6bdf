// Package workspace handles the repo working tree a run operates on:
// snapshot and restore, unified diff parsing and generation, and diff
// application.
package workspace

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Patch is a parsed unified diff for a single file. The NoEOL flags
// record "\ No newline at end of file" markers for each side.
type Patch struct {
	OldPath  string
	NewPath  string
	Hunks    []Hunk
	OldNoEOL bool
	NewNoEOL bool
}

// Hunk is one unified diff hunk.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
}

// Path returns the repo-relative path the patch touches, preferring the
// new side except for deletions.
func (p Patch) Path() string {
	newPath := normalizeDiffPath(p.NewPath)
	if newPath == "/dev/null" {
		return normalizeDiffPath(p.OldPath)
	}
	return newPath
}

// IsDelete reports whether the patch removes the file.
func (p Patch) IsDelete() bool {
	return normalizeDiffPath(p.NewPath) == "/dev/null"
}

// ParseUnifiedDiff parses unified diff text into per-file patches.
func ParseUnifiedDiff(input string) ([]Patch, error) {
	lines := strings.Split(input, "\n")
	var patches []Patch

	for i := 0; i < len(lines); {
		if !strings.HasPrefix(lines[i], "--- ") {
			i++
			continue
		}

		oldPath := diffHeaderPath(lines[i])
		i++
		if i >= len(lines) || !strings.HasPrefix(lines[i], "+++ ") {
			return nil, fmt.Errorf("expected +++ after --- for %s", oldPath)
		}
		patch := Patch{OldPath: oldPath, NewPath: diffHeaderPath(lines[i])}
		i++

		prevOldEnd := 0
		for i < len(lines) && strings.HasPrefix(lines[i], "@@") {
			hunk, oldNoEOL, newNoEOL, next, err := parseHunk(lines, i)
			if err != nil {
				return nil, err
			}
			if hunk.OldStart < prevOldEnd {
				return nil, fmt.Errorf("hunk at old line %d overlaps previous hunk", hunk.OldStart)
			}
			prevOldEnd = hunk.OldStart + hunk.OldLines
			patch.Hunks = append(patch.Hunks, hunk)
			patch.OldNoEOL = patch.OldNoEOL || oldNoEOL
			patch.NewNoEOL = patch.NewNoEOL || newNoEOL
			i = next
		}

		patches = append(patches, patch)
	}

	if len(patches) == 0 {
		return nil, fmt.Errorf("no unified diff content found")
	}
	return patches, nil
}

// DiffPaths lists the repo-relative paths a unified diff touches, sorted
// and de-duplicated. An empty diff touches nothing.
func DiffPaths(diff string) ([]string, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, nil
	}
	patches, err := ParseUnifiedDiff(diff)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(patches))
	var paths []string
	for _, patch := range patches {
		path := patch.Path()
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// VerifyFilesChanged checks that every reported changed file is actually
// touched by the diff. A violation is a backend contract bug.
func VerifyFilesChanged(filesChanged []string, diff string) error {
	if len(filesChanged) == 0 {
		return nil
	}
	touched, err := DiffPaths(diff)
	if err != nil {
		return fmt.Errorf("unparsable diff: %w", err)
	}
	touchedSet := make(map[string]struct{}, len(touched))
	for _, path := range touched {
		touchedSet[path] = struct{}{}
	}
	for _, path := range filesChanged {
		if _, ok := touchedSet[path]; !ok {
			return fmt.Errorf("reported file %s is not touched by the diff", path)
		}
	}
	return nil
}

func diffHeaderPath(line string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "---"), "+++"))
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseHunk(lines []string, start int) (Hunk, bool, bool, int, error) {
	hunk, err := parseHunkHeader(lines[start])
	if err != nil {
		return Hunk{}, false, false, 0, err
	}

	i := start + 1
	remainingOld := hunk.OldLines
	remainingNew := hunk.NewLines
	oldNoEOL, newNoEOL := false, false
	lastMarker := byte(0)
	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(line, "\\") {
			// "\ No newline at end of file" applies to the preceding line.
			switch lastMarker {
			case ' ':
				oldNoEOL, newNoEOL = true, true
			case '-':
				oldNoEOL = true
			case '+':
				newNoEOL = true
			}
			i++
			continue
		}
		if remainingOld <= 0 && remainingNew <= 0 {
			break
		}
		marker := byte(' ')
		if line != "" {
			marker = line[0]
		}
		switch marker {
		case ' ':
			remainingOld--
			remainingNew--
		case '-':
			remainingOld--
		case '+':
			remainingNew--
		default:
			return Hunk{}, false, false, 0, fmt.Errorf("invalid hunk line: %s", line)
		}
		lastMarker = marker
		hunk.Lines = append(hunk.Lines, line)
		i++
	}

	return hunk, oldNoEOL, newNoEOL, i, nil
}

func parseHunkHeader(line string) (Hunk, error) {
	if !strings.HasPrefix(line, "@@") {
		return Hunk{}, fmt.Errorf("invalid hunk header: %s", line)
	}
	trimmed := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "@@")), "@@")
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return Hunk{}, fmt.Errorf("invalid hunk header: %s", line)
	}

	oldStart, oldLines, err := parseHunkRange(fields[0], '-')
	if err != nil {
		return Hunk{}, err
	}
	newStart, newLines, err := parseHunkRange(fields[1], '+')
	if err != nil {
		return Hunk{}, err
	}
	return Hunk{OldStart: oldStart, OldLines: oldLines, NewStart: newStart, NewLines: newLines}, nil
}

func parseHunkRange(value string, prefix byte) (int, int, error) {
	value = strings.TrimSpace(value)
	if len(value) == 0 || value[0] != prefix {
		return 0, 0, fmt.Errorf("invalid hunk range: %s", value)
	}

	parts := strings.SplitN(value[1:], ",", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hunk start: %s", value)
	}
	count := 1
	if len(parts) == 2 {
		count, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid hunk length: %s", value)
		}
	}
	return start, count, nil
}

// normalizeDiffPath strips exactly one a/ or b/ header prefix, so a repo
// path that itself starts with a/ or b/ survives intact.
func normalizeDiffPath(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "a/") {
		return strings.TrimPrefix(path, "a/")
	}
	if strings.HasPrefix(path, "b/") {
		return strings.TrimPrefix(path, "b/")
	}
	return path
}
