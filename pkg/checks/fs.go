package checks

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// RepoFS is the real, disk-backed FS implementation rooted at a repo
// checkout. It walks os.DirFS sorted and reads each matched file in
// turn.
type RepoFS struct {
	Root string
}

func (r RepoFS) Glob(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(r.Root), pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (r RepoFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(r.Root, path))
}

func (r RepoFS) Stat(path string) (int64, bool, error) {
	info, err := os.Stat(filepath.Join(r.Root, path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

// MemFS is an in-memory FS used by tests.
type MemFS struct {
	Files map[string][]byte
}

func (m MemFS) Glob(pattern string) ([]string, error) {
	var out []string
	for path := range m.Files {
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m MemFS) ReadFile(path string) ([]byte, error) {
	b, ok := m.Files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return b, nil
}

func (m MemFS) Stat(path string) (int64, bool, error) {
	b, ok := m.Files[path]
	if !ok {
		return 0, false, nil
	}
	return int64(len(b)), true, nil
}
