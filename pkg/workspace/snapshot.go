package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Snapshot is a copy of a repo tree taken before a builder runs, used to
// compute the produced diff and to roll the tree back when a stage fails.
type Snapshot struct {
	dir string
}

// Dir returns the snapshot's backing directory.
func (s *Snapshot) Dir() string {
	return s.dir
}

// Take copies the tree rooted at src into a temp directory. VCS internals
// and run journals are excluded.
func Take(src string) (*Snapshot, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo path is not a directory")
	}

	dir, err := os.MkdirTemp("", "dispatch-snapshot-*")
	if err != nil {
		return nil, err
	}

	if err := copyTree(src, dir); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &Snapshot{dir: dir}, nil
}

// Restore puts the tree at dst back into the snapshot's state: snapshot
// files are copied over, files absent from the snapshot are removed.
// Excluded paths are left alone.
func (s *Snapshot) Restore(dst string) error {
	if err := copyTree(s.dir, dst); err != nil {
		return err
	}

	// Remove files created after the snapshot was taken.
	return filepath.WalkDir(dst, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dst, path)
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
		if d.IsDir() {
			return nil
		}
		if _, err := os.Stat(filepath.Join(s.dir, rel)); os.IsNotExist(err) {
			return os.Remove(path)
		}
		return nil
	})
}

// Close removes the snapshot's backing directory.
func (s *Snapshot) Close() error {
	return os.RemoveAll(s.dir)
}

// excluded reports tree paths a snapshot neither copies nor restores.
func excluded(rel string) bool {
	parts := strings.Split(rel, string(filepath.Separator))
	switch parts[0] {
	case ".git", ".dispatch":
		return true
	}
	return false
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
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

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
