package pluginmanager

import (
	"encoding/json"
	"errors"
	"os"
	"sort"

	"github.com/AmirTlinov/compas/pkg/hashutil"
)

// LockedFile is one entry in plugins.lock.json's files array.
type LockedFile struct {
	Path      string   `json:"path"`
	SHA256    string   `json:"sha256"`
	PluginIDs []string `json:"plugin_ids"`
}

// RegistryRef records which registry manifest the current selection
// was resolved from.
type RegistryRef struct {
	URL            string `json:"url,omitempty"`
	ManifestSHA256 string `json:"manifest_sha256"`
	ManifestVersion string `json:"manifest_version"`
}

// Selection names what was installed.
type Selection struct {
	Plugins []string `json:"plugins"`
	Packs   []string `json:"packs,omitempty"`
}

// Lockfile is plugins.lock.json.
type Lockfile struct {
	Schema    string      `json:"schema"`
	Registry  RegistryRef `json:"registry"`
	Selection Selection   `json:"selection"`
	Files     []LockedFile `json:"files"`
}

const lockSchema = "compas.plugins.lock.v1"

// LoadLockfile reads and parses plugins.lock.json; a missing file is
// not an error — it returns an empty, schema-stamped Lockfile, the
// initial-install state.
func LoadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Lockfile{Schema: lockSchema}, nil
	}
	if err != nil {
		return nil, err
	}
	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, err
	}
	return &lf, nil
}

// Save writes the lockfile deterministically (sorted files) via
// tmp+rename.
func (lf *Lockfile) Save(path string) error {
	lf.Schema = lockSchema
	sort.Slice(lf.Files, func(i, j int) bool { return lf.Files[i].Path < lf.Files[j].Path })
	data, err := hashutil.CanonicalMarshal(lf)
	if err != nil {
		return err
	}
	return hashutil.WriteFileAtomic(path, data, 0o644)
}

// FileOwners returns the set of plugin ids that own path, or nil if
// path is unmanaged.
func (lf *Lockfile) FileOwners(path string) []string {
	for _, f := range lf.Files {
		if f.Path == path {
			return f.PluginIDs
		}
	}
	return nil
}
