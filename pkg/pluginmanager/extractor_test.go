package pluginmanager

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func buildTarGz(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	tw.Close()
	gz.Close()

	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

func TestExtractSafeExtractsValidArchive(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"lint-basic/plugin.toml": "[plugin]\nid = \"lint-basic\"\n",
		"lint-basic/tool.toml":   "[tool]\nid = \"lint\"\n",
	})
	dest := t.TempDir()
	if err := ExtractSafe(archive, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "lint-basic", "plugin.toml"))
	if err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty extracted content")
	}
}

func TestExtractSafeRejectsPathTraversal(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"lint-basic/../../etc/passwd": "pwned",
	})
	dest := t.TempDir()
	if err := ExtractSafe(archive, dest); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestExtractSafeRejectsMultipleTopLevelDirs(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"lint-basic/plugin.toml": "a",
		"other-plugin/tool.toml": "b",
	})
	dest := t.TempDir()
	if err := ExtractSafe(archive, dest); err == nil {
		t.Fatalf("expected multi-root archive to be rejected")
	}
}

func TestExtractSafeRejectsSymlink(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{Name: "lint-basic/evil", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	tw.Close()
	gz.Close()
	archive := filepath.Join(t.TempDir(), "archive.tar.gz")
	os.WriteFile(archive, buf.Bytes(), 0o644)

	if err := ExtractSafe(archive, t.TempDir()); err == nil {
		t.Fatalf("expected symlink entry to be rejected")
	}
}
