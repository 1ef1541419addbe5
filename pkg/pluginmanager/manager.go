package pluginmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/AmirTlinov/compas/pkg/hashutil"
)

var logger = slog.Default().With("component", "pluginmanager")

// Manager orchestrates plugin lifecycle operations against one repo's
// managed plugin directory. Its methods do not take the cross-process
// FileLock that Acquire provides; nothing in this module calls Acquire.
type Manager struct {
	RepoRoot          string
	PluginsDir        string // <repo>/.agents/mcp/compas/plugins
	LockfilePath      string // <repo>/.agents/mcp/compas/plugins.lock.json
	Keyring           *Keyring
	AllowUnsigned     bool
	AllowExperimental bool
	AllowDeprecated   bool
}

// NewManager derives the managed paths from repoRoot using the fixed
// reserved layout.
func NewManager(repoRoot string, keyring *Keyring) *Manager {
	base := filepath.Join(repoRoot, ".agents", "mcp", "compas")
	return &Manager{
		RepoRoot:     repoRoot,
		PluginsDir:   filepath.Join(base, "plugins"),
		LockfilePath: filepath.Join(base, "plugins.lock.json"),
		Keyring:      keyring,
	}
}

// CheckTierPolicy enforces the plugin tier gate: experimental needs
// --allow-experimental, deprecated needs --allow-deprecated.
func (m *Manager) CheckTierPolicy(records []PluginRecord) error {
	var denied []string
	for _, r := range records {
		switch r.Tier {
		case TierExperimental:
			if !m.AllowExperimental {
				denied = append(denied, r.ID+" (experimental)")
			}
		case TierDeprecated:
			if !m.AllowDeprecated {
				denied = append(denied, r.ID+" (deprecated)")
			}
		}
	}
	if len(denied) > 0 {
		return &ApiError{Code: ErrTierDenied, Message: "denied by tier policy: " + joinComma(denied)}
	}
	return nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// VerifyAndLoadManifest checks manifestBytes's sha256-over-bytes ECDSA
// signature (unless AllowUnsigned) and parses it.
func (m *Manager) VerifyAndLoadManifest(manifestBytes, signature []byte) (*Manifest, string, error) {
	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		return nil, "", err
	}
	if m.AllowUnsigned {
		return manifest, "", nil
	}
	if m.Keyring == nil {
		return nil, "", &ApiError{Code: ErrManifestUnsigned, Message: "no keyring configured and --allow-unsigned not set"}
	}
	keyID, err := m.Keyring.VerifyManifestSignature(manifestBytes, signature)
	if err != nil {
		return nil, "", err
	}
	return manifest, keyID, nil
}

// VerifyArchive confirms archivePath's sha256 matches the manifest's
// declared archive_sha256.
func VerifyArchive(archivePath, expectedSHA256 string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != expectedSHA256 {
		return fmt.Errorf("pluginmanager: archive sha256 mismatch: expected %s, got %s", expectedSHA256, got)
	}
	return nil
}

// InstallPlan describes, for one plugin, the files staged for
// install relative to the extracted archive root.
type InstallPlan struct {
	PluginID   string
	SourceDir  string // extracted archive root + path_in_archive
	FileHashes map[string]string
}

// BuildInstallPlan walks pluginDir (bounded to the plugin's own
// subtree) and computes each file's sha256, sorted deterministically —
// grounded on pack.FSRegistry.computeContentHash's sorted-walk hashing.
func BuildInstallPlan(pluginID, pluginDir string) (InstallPlan, error) {
	plan := InstallPlan{PluginID: pluginID, SourceDir: pluginDir, FileHashes: make(map[string]string)}
	err := filepath.Walk(pluginDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(pluginDir, p)
		if err != nil {
			return err
		}
		sum, err := hashutil.SHA256File(p)
		if err != nil {
			return err
		}
		plan.FileHashes[filepath.ToSlash(rel)] = sum
		return nil
	})
	return plan, err
}

// Install writes plan's files into m.PluginsDir/<pluginID>/..., each
// via its own tmp+rename, fail-closed on any conflict unless force is
// set. Conflicts are checked file by file as the files are written, so
// files written before a conflict is found stay on disk.
func (m *Manager) Install(plan InstallPlan, lf *Lockfile, force bool) error {
	logger.Info("installing plugin", "plugin_id", plan.PluginID, "files", len(plan.FileHashes), "force", force)
	targetDir := filepath.Join(m.PluginsDir, plan.PluginID)

	paths := make([]string, 0, len(plan.FileHashes))
	for rel := range plan.FileHashes {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		lockedPath := filepath.ToSlash(filepath.Join("plugins", plan.PluginID, rel))
		target := filepath.Join(targetDir, filepath.FromSlash(rel))

		if _, err := os.Stat(target); err == nil && !force {
			owners := lf.FileOwners(lockedPath)
			if len(owners) == 0 {
				return fmt.Errorf("pluginmanager: %s exists with no lock entry (use --force)", lockedPath)
			}
			existingSHA, err := hashutil.SHA256File(target)
			if err != nil {
				return err
			}
			if existingSHA != plan.FileHashes[rel] {
				return fmt.Errorf("pluginmanager: %s exists with a differing on-disk sha256 (use --force)", lockedPath)
			}
		}

		src := filepath.Join(plan.SourceDir, rel)
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		if err := hashutil.WriteFileAtomic(target, data, 0o644); err != nil {
			return err
		}

		lf.Files = append(lf.Files, LockedFile{Path: lockedPath, SHA256: plan.FileHashes[rel], PluginIDs: []string{plan.PluginID}})
	}

	if !contains(lf.Selection.Plugins, plan.PluginID) {
		lf.Selection.Plugins = append(lf.Selection.Plugins, plan.PluginID)
	}
	return nil
}

// Update re-resolves plan against pluginID's currently locked file
// set: files the new plan no longer names are removed, files it
// still names are refreshed, and files it newly names are staged.
// Before touching anything, every currently-owned file's on-disk
// sha256 is checked against its lockfile entry — any drift (a file
// modified outside the plugin manager) fails the update unless force
// is set, and a to-be-removed file's sha256 is re-checked immediately
// before deletion for the same reason.
func (m *Manager) Update(plan InstallPlan, lf *Lockfile, force bool) error {
	logger.Info("updating plugin", "plugin_id", plan.PluginID, "files", len(plan.FileHashes), "force", force)
	targetDir := filepath.Join(m.PluginsDir, plan.PluginID)

	existing := make(map[string]LockedFile)
	for _, f := range lf.Files {
		if contains(f.PluginIDs, plan.PluginID) {
			existing[f.Path] = f
		}
	}

	for rel, f := range existing {
		abs := filepath.Join(filepath.Dir(m.PluginsDir), filepath.FromSlash(rel))
		sum, err := hashutil.SHA256File(abs)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return err
		case sum != f.SHA256 && !force:
			return fmt.Errorf("pluginmanager: %s has drifted from its lockfile entry (use --force)", rel)
		}
	}

	paths := make([]string, 0, len(plan.FileHashes))
	for rel := range plan.FileHashes {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	newFiles := make([]LockedFile, 0, len(paths))
	for _, rel := range paths {
		lockedPath := filepath.ToSlash(filepath.Join("plugins", plan.PluginID, rel))
		target := filepath.Join(targetDir, filepath.FromSlash(rel))
		src := filepath.Join(plan.SourceDir, rel)

		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		if err := hashutil.WriteFileAtomic(target, data, 0o644); err != nil {
			return err
		}
		newFiles = append(newFiles, LockedFile{Path: lockedPath, SHA256: plan.FileHashes[rel], PluginIDs: []string{plan.PluginID}})
	}

	newRel := make(map[string]bool, len(newFiles))
	for _, f := range newFiles {
		newRel[f.Path] = true
	}
	for rel, f := range existing {
		if newRel[rel] {
			continue
		}
		abs := filepath.Join(filepath.Dir(m.PluginsDir), filepath.FromSlash(rel))
		sum, err := hashutil.SHA256File(abs)
		if err == nil && sum != f.SHA256 && !force {
			return fmt.Errorf("pluginmanager: %s cannot be removed: on-disk sha256 no longer matches lockfile (use --force)", rel)
		}
		if err == nil {
			if rmErr := os.Remove(abs); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				return rmErr
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	remaining := lf.Files[:0:0]
	for _, f := range lf.Files {
		if contains(f.PluginIDs, plan.PluginID) {
			continue
		}
		remaining = append(remaining, f)
	}
	lf.Files = append(remaining, newFiles...)

	if !contains(lf.Selection.Plugins, plan.PluginID) {
		lf.Selection.Plugins = append(lf.Selection.Plugins, plan.PluginID)
	}
	pruneEmptyDirs(targetDir)
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// DoctorReport is the output of the doctor operation.
type DoctorReport struct {
	MissingFiles  []string `json:"missing_files"`
	ModifiedFiles []string `json:"modified_files"`
	UnknownFiles  []string `json:"unknown_files"`
}

// Doctor verifies every locked file exists and matches its recorded
// sha256, and reports unmanaged files under the managed root.
func (m *Manager) Doctor(lf *Lockfile) (DoctorReport, error) {
	logger.Debug("running plugin doctor", "locked_files", len(lf.Files))
	var report DoctorReport
	managed := make(map[string]bool, len(lf.Files))

	for _, f := range lf.Files {
		abs := filepath.Join(filepath.Dir(m.PluginsDir), filepath.FromSlash(f.Path))
		managed[abs] = true
		sum, err := hashutil.SHA256File(abs)
		if errors.Is(err, os.ErrNotExist) {
			report.MissingFiles = append(report.MissingFiles, f.Path)
			continue
		}
		if err != nil {
			return report, err
		}
		if sum != f.SHA256 {
			report.ModifiedFiles = append(report.ModifiedFiles, f.Path)
		}
	}

	err := filepath.Walk(m.PluginsDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !managed[p] {
			rel, relErr := filepath.Rel(filepath.Dir(m.PluginsDir), p)
			if relErr != nil {
				rel = p
			}
			report.UnknownFiles = append(report.UnknownFiles, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	sort.Strings(report.MissingFiles)
	sort.Strings(report.ModifiedFiles)
	sort.Strings(report.UnknownFiles)
	if len(report.MissingFiles) > 0 || len(report.ModifiedFiles) > 0 {
		logger.Warn("plugin doctor found drift", "missing", len(report.MissingFiles), "modified", len(report.ModifiedFiles), "unknown", len(report.UnknownFiles))
	}
	return report, nil
}

// Uninstall removes every file owned exclusively by pluginID and
// prunes empty parent directories under the managed root.
func (m *Manager) Uninstall(lf *Lockfile, pluginID string) error {
	logger.Info("uninstalling plugin", "plugin_id", pluginID)
	remaining := lf.Files[:0:0]
	var toRemove []string
	for _, f := range lf.Files {
		if len(f.PluginIDs) == 1 && f.PluginIDs[0] == pluginID {
			toRemove = append(toRemove, f.Path)
			continue
		}
		remaining = append(remaining, f)
	}
	lf.Files = remaining
	lf.Selection.Plugins = removeString(lf.Selection.Plugins, pluginID)

	for _, rel := range toRemove {
		abs := filepath.Join(filepath.Dir(m.PluginsDir), filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	pruneEmptyDirs(filepath.Join(m.PluginsDir, pluginID))
	return nil
}

func removeString(ss []string, s string) []string {
	out := ss[:0:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func pruneEmptyDirs(dir string) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// ErrPluginNotInstalled is returned by Info for a plugin id outside
// the current selection.
const ErrPluginNotInstalled = "pack.plugin_not_installed"

// PluginSummary is one row of the list operation's output.
type PluginSummary struct {
	PluginID  string `json:"plugin_id"`
	FileCount int    `json:"file_count"`
}

// List reports every plugin in the current selection and how many
// files it owns, sorted by plugin id.
func (m *Manager) List(lf *Lockfile) []PluginSummary {
	counts := make(map[string]int, len(lf.Selection.Plugins))
	for _, f := range lf.Files {
		for _, id := range f.PluginIDs {
			counts[id]++
		}
	}
	ids := append([]string(nil), lf.Selection.Plugins...)
	sort.Strings(ids)

	summaries := make([]PluginSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, PluginSummary{PluginID: id, FileCount: counts[id]})
	}
	return summaries
}

// PluginInfo is the info operation's detail for one installed plugin.
type PluginInfo struct {
	PluginID string       `json:"plugin_id"`
	Files    []LockedFile `json:"files"`
}

// Info returns pluginID's locked file set, or ErrPluginNotInstalled if
// pluginID is not part of the current selection.
func (m *Manager) Info(lf *Lockfile, pluginID string) (PluginInfo, error) {
	if !contains(lf.Selection.Plugins, pluginID) {
		return PluginInfo{}, &ApiError{Code: ErrPluginNotInstalled, Message: pluginID + " is not installed"}
	}
	info := PluginInfo{PluginID: pluginID}
	for _, f := range lf.Files {
		if contains(f.PluginIDs, pluginID) {
			info.Files = append(info.Files, f)
		}
	}
	sort.Slice(info.Files, func(i, j int) bool { return info.Files[i].Path < info.Files[j].Path })
	return info, nil
}
