// Package witness writes the per-gate-run JSON artifact and maintains
// the append-only, hash-chained witness-chain ledger.
//
// Each new entry hash-chains to its predecessor
// (sha256(prev_hash + witness_sha256 + timestamp + gate_kind)), and every write in this package
// uses hashutil's atomic tmp+rename discipline.
package witness

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AmirTlinov/compas/pkg/hashutil"
)

const (
	maxFiles     = 20
	maxTotalSize = 2 << 20 // 2 MiB

	// genesisHash is the chain's fixed sentinel prev_hash for its first
	// entry — there is no predecessor entry_hash to point to.
	genesisHash = "genesis"
)

// Info is the {path, size_bytes, sha256, rotated_files} block embedded
// in GateOutput after a successful witness write.
type Info struct {
	Path         string   `json:"path"`
	SizeBytes    int64    `json:"size_bytes"`
	SHA256       string   `json:"sha256"`
	RotatedFiles []string `json:"rotated_files,omitempty"`
}

// ChainEntry is one append-only entry in witness/chain.json.
type ChainEntry struct {
	RunID         string `json:"run_id"`
	GateKind      string `json:"gate_kind"`
	Timestamp     string `json:"timestamp"`
	WitnessSHA256 string `json:"witness_sha256"`
	PrevHash      string `json:"prev_hash"`
	EntryHash     string `json:"entry_hash"`
	OK            bool   `json:"ok"`
}

type chainFile struct {
	Entries []ChainEntry `json:"entries"`
}

// Write serializes payload to <dir>/gate_<kind>.json via tmp+rename,
// computes its sha256, then rotates the witness directory and appends
// a chain entry. Returns the Info block and the new chain entry.
func Write(dir, kind string, payload any, ok bool, now time.Time) (Info, ChainEntry, error) {
	data, err := hashutil.CanonicalMarshal(payload)
	if err != nil {
		return Info{}, ChainEntry{}, fmt.Errorf("witness: marshal payload: %w", err)
	}

	fileName := "gate_" + kind + ".json"
	path := filepath.Join(dir, fileName)
	if err := hashutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return Info{}, ChainEntry{}, fmt.Errorf("witness.write_failed: %w", err)
	}

	sha := hashutil.SHA256Hex(data)
	rotated, err := rotate(dir, fileName)
	if err != nil {
		return Info{}, ChainEntry{}, fmt.Errorf("witness.rotation_failed: %w", err)
	}

	entry, err := appendChain(dir, kind, sha, ok, now)
	if err != nil {
		return Info{}, ChainEntry{}, fmt.Errorf("witness.chain_append_failed: %w", err)
	}

	return Info{Path: path, SizeBytes: int64(len(data)), SHA256: sha, RotatedFiles: rotated}, entry, nil
}

// rotate enforces the ≤20-files / ≤2 MiB-total bound on the witness
// directory's gate_*.json files, never deleting currentFile. Deletion
// order is oldest-modified first.
func rotate(dir, currentFile string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		name    string
		size    int64
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "gate_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), size: info.Size(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	var total int64
	for _, f := range files {
		total += f.size
	}

	var rotated []string
	i := 0
	for (len(files)-len(rotated) > maxFiles || total > maxTotalSize) && i < len(files) {
		f := files[i]
		i++
		if f.name == currentFile {
			continue
		}
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil {
			continue
		}
		rotated = append(rotated, f.name)
		total -= f.size
	}
	return rotated, nil
}

// appendChain reads the existing chain, verifies its tail entry_hash
// is internally consistent, computes the new entry, and writes the
// whole file back via tmp+rename.
func appendChain(dir, kind, witnessSHA string, ok bool, now time.Time) (ChainEntry, error) {
	chainPath := filepath.Join(dir, "chain.json")

	var chain chainFile
	data, err := os.ReadFile(chainPath)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &chain); jsonErr != nil {
			return ChainEntry{}, fmt.Errorf("existing chain.json is corrupt: %w", jsonErr)
		}
	case errors.Is(err, os.ErrNotExist):
		// first entry
	default:
		return ChainEntry{}, err
	}

	prevHash := genesisHash
	if len(chain.Entries) > 0 {
		last := chain.Entries[len(chain.Entries)-1]
		if computeEntryHash(last.PrevHash, last.WitnessSHA256, last.Timestamp, last.GateKind) != last.EntryHash {
			return ChainEntry{}, errors.New("chain integrity violation: tail entry_hash does not match its own fields")
		}
		prevHash = last.EntryHash
	}

	timestamp := now.UTC().Format(time.RFC3339)
	entry := ChainEntry{
		RunID:         uuid.New().String(),
		GateKind:      kind,
		Timestamp:     timestamp,
		WitnessSHA256: witnessSHA,
		PrevHash:      prevHash,
		OK:            ok,
	}
	entry.EntryHash = computeEntryHash(prevHash, witnessSHA, timestamp, kind)

	chain.Entries = append(chain.Entries, entry)
	out, err := hashutil.CanonicalMarshal(chain)
	if err != nil {
		return ChainEntry{}, err
	}
	if err := hashutil.WriteFileAtomic(chainPath, out, 0o644); err != nil {
		return ChainEntry{}, err
	}
	return entry, nil
}

func computeEntryHash(prevHash, witnessSHA, timestamp, kind string) string {
	return hashutil.SHA256Hex([]byte(prevHash + witnessSHA + timestamp + kind))
}

// VerifyChain walks chain.json end to end and reports whether every
// entry_hash matches its own fields and every prev_hash matches its
// predecessor's entry_hash.
func VerifyChain(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, "chain.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var chain chainFile
	if err := json.Unmarshal(data, &chain); err != nil {
		return fmt.Errorf("chain.json is corrupt: %w", err)
	}
	prev := genesisHash
	for i, e := range chain.Entries {
		if e.PrevHash != prev {
			return fmt.Errorf("entry %d: prev_hash mismatch", i)
		}
		if computeEntryHash(e.PrevHash, e.WitnessSHA256, e.Timestamp, e.GateKind) != e.EntryHash {
			return fmt.Errorf("entry %d: entry_hash does not match its fields", i)
		}
		prev = e.EntryHash
	}
	return nil
}
