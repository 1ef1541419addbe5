// Package hashutil provides deterministic hashing and atomic file-write
// helpers shared by every component that needs content-addressed state:
// the config loader's config_hash, the checks' duplicate-file grouping,
// the quality snapshot, and the witness chain.
package hashutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256File streams a file through SHA-256 without loading it fully into
// memory and returns the lowercase hex digest.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashutil: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashutil: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalMarshal marshals v into canonical JSON: sorted map keys (Go's
// default), no HTML escaping, compact, no trailing newline. It is the
// single source of truth for every byte-stable serialization in this repo
// (quality snapshots, config hashes, witness payloads).
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("hashutil: canonical encode: %w", err)
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 hex digest of v's canonical JSON form.
func CanonicalHash(v interface{}) (string, error) {
	canon, err := CanonicalMarshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canon), nil
}

// WriteFileAtomic writes data to path by first writing to a temp file in
// the same directory, then renaming it over path. Readers of path never
// observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hashutil: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("hashutil: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	// Ensure the temp file is removed on any failure path before rename.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("hashutil: write temp %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("hashutil: sync temp %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("hashutil: close temp %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("hashutil: chmod temp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("hashutil: rename %s -> %s: %w", tmpPath, path, err)
	}

	success = true
	return nil
}
