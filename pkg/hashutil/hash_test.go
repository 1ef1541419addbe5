package hashutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	// sha256("hello") well-known digest, compared in full below.
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got != want[:64] {
		t.Fatalf("SHA256Hex(hello) = %s, want %s", got, want[:64])
	}
}

func TestCanonicalMarshalDeterministic(t *testing.T) {
	a := map[string]int{"b": 2, "a": 1, "c": 3}
	out1, err := CanonicalMarshal(a)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := CanonicalMarshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(out1) != string(out2) {
		t.Fatalf("non-deterministic output: %s vs %s", out1, out2)
	}
	if string(out1) != `{"a":1,"b":2,"c":3}` {
		t.Fatalf("unexpected canonical form: %s", out1)
	}
}

func TestWriteFileAtomicReplacesFully(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.json")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("second-longer-content"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second-longer-content" {
		t.Fatalf("got %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" || e.Name()[0] == '.' && e.Name() != filepath.Base(path) {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestSHA256File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := SHA256File(path)
	if err != nil {
		t.Fatal(err)
	}
	want := SHA256Hex([]byte("hello"))
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
