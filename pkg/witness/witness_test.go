package witness

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWriteCreatesFileAndChainEntry(t *testing.T) {
	dir := t.TempDir()
	info, entry, err := Write(dir, "ci_fast", map[string]any{"ok": true}, true, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Path != filepath.Join(dir, "gate_ci_fast.json") {
		t.Fatalf("unexpected path: %s", info.Path)
	}
	if entry.PrevHash != "genesis" {
		t.Fatalf("expected genesis prev_hash for first entry, got %q", entry.PrevHash)
	}
	if err := VerifyChain(dir); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

func TestAppendChainLinksHashes(t *testing.T) {
	dir := t.TempDir()
	_, first, err := Write(dir, "ci_fast", map[string]any{"n": 1}, true, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	_, second, err := Write(dir, "ci_fast", map[string]any{"n": 2}, true, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if second.PrevHash != first.EntryHash {
		t.Fatalf("expected second.prev_hash == first.entry_hash, got %q vs %q", second.PrevHash, first.EntryHash)
	}
	if err := VerifyChain(dir); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

func TestVerifyChainAbsentFileIsOK(t *testing.T) {
	dir := t.TempDir()
	if err := VerifyChain(dir); err != nil {
		t.Fatalf("missing chain.json should verify as ok, got %v", err)
	}
}
