package pluginmanager

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	maxPathBytes  = 512
	maxEntries    = 20_000
	maxFileBytes  = 10 << 20  // 10 MiB
	maxTotalBytes = 200 << 20 // 200 MiB
)

// ExtractSafe extracts a tar.gz archive into destDir, enforcing every
// invariant a safe extractor requires: no path traversal, no symlinks,
// bounded entry count and size. destDir is expected to already be a
// scratch temp directory; the caller renames it into place once
// extraction succeeds.
func ExtractSafe(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("pluginmanager: open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("pluginmanager: open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var topLevel string
	entries := 0
	var totalBytes int64

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("pluginmanager: read tar entry: %w", err)
		}

		entries++
		if entries > maxEntries {
			return fmt.Errorf("pluginmanager: archive exceeds MAX_ENTRIES (%d)", maxEntries)
		}

		name := hdr.Name
		if err := validateEntryPath(name); err != nil {
			return err
		}

		top := strings.SplitN(path.Clean(name), "/", 2)[0]
		if topLevel == "" {
			topLevel = top
		} else if top != topLevel {
			return fmt.Errorf("pluginmanager: archive has multiple top-level entries: %q and %q", topLevel, top)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(filepath.Join(destDir, filepath.FromSlash(name)), 0o755); err != nil {
				return err
			}
			continue
		case tar.TypeReg:
			// fall through to extraction below
		default:
			return fmt.Errorf("pluginmanager: rejecting non-regular entry %q (type %v)", name, hdr.Typeflag)
		}

		if hdr.Size > maxFileBytes {
			return fmt.Errorf("pluginmanager: entry %q exceeds MAX_FILE_BYTES (%d)", name, maxFileBytes)
		}
		totalBytes += hdr.Size
		if totalBytes > maxTotalBytes {
			return fmt.Errorf("pluginmanager: archive exceeds MAX_TOTAL_BYTES (%d)", maxTotalBytes)
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.CopyN(out, tr, hdr.Size); err != nil && !errors.Is(err, io.EOF) {
			out.Close()
			return fmt.Errorf("pluginmanager: write entry %q: %w", name, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	}

	if topLevel == "" {
		return errors.New("pluginmanager: archive contained no entries")
	}
	return nil
}

func validateEntryPath(name string) error {
	if len(name) > maxPathBytes {
		return fmt.Errorf("pluginmanager: entry path exceeds MAX_PATH_BYTES: %q", name)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("pluginmanager: entry path is not valid UTF-8: %q", name)
	}
	if path.IsAbs(name) {
		return fmt.Errorf("pluginmanager: entry path must not be absolute: %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("pluginmanager: entry path contains a %q component: %q", "..", name)
		}
	}
	return nil
}
