package transfer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"snowshare/internal/server/storage"

	"github.com/klauspost/compress/flate"
)

// CompressionLevel is the deflate level for archive entries.
const CompressionLevel = 5

const (
	maxEntryNameLength = 240
	maxSuffixExtLength = 16
)

// ArchiveEntry is one stored blob and the name it gets inside the archive.
type ArchiveEntry struct {
	StoredPath string
	Name       string
	Modified   time.Time
}

// ArchiveStreamer writes ZIP archives of stored blobs without buffering
// either the archive or any source file.
type ArchiveStreamer struct {
	store storage.Store
}

// NewArchiveStreamer creates an ArchiveStreamer reading from store.
func NewArchiveStreamer(store storage.Store) *ArchiveStreamer {
	return &ArchiveStreamer{store: store}
}

// Stream writes entries to w in order and returns how many were archived.
// Entries whose blob is missing from storage are skipped.
func (a *ArchiveStreamer) Stream(ctx context.Context, w io.Writer, entries []ArchiveEntry) (int, error) {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, CompressionLevel)
	})

	names := make(nameSet)
	written := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		rc, err := a.store.Open(e.StoredPath, 0, -1)
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("archive entry missing from storage, skipped",
				"path", e.StoredPath,
				"name", e.Name,
			)
			continue
		}
		if err != nil {
			return written, fmt.Errorf("failed to open %q: %w", e.StoredPath, err)
		}

		modified := e.Modified
		if modified.IsZero() {
			modified = time.Now()
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names.unique(e.Name),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			rc.Close()
			return written, fmt.Errorf("failed to add archive entry: %w", err)
		}
		_, err = io.Copy(fw, rc)
		rc.Close()
		if err != nil {
			return written, fmt.Errorf("failed to archive %q: %w", e.Name, err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("failed to finish archive: %w", err)
	}
	return written, nil
}

// ArchiveFilename is the download name of a bulk share's archive.
func ArchiveFilename(slug string) string {
	return SanitizeFilename(slug + "_files.zip")
}

// nameSet hands out archive entry names, suffixing repeats with " (n)".
type nameSet map[string]int

func (s nameSet) unique(name string) string {
	name = sanitizeEntryName(name)
	if name == "" {
		name = "file"
	}
	if _, taken := s[name]; !taken {
		s[name] = 1
		return name
	}

	ext := path.Ext(name)
	if len(ext) > maxSuffixExtLength || strings.Contains(ext, "/") {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)

	// Every candidate is distinct and new keys only grow the set, so this
	// ends after at most len(s) steps.
	for n := s[name]; ; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		candidate := truncateName(stem, maxEntryNameLength-len(suffix)-len(ext)) + suffix + ext
		if _, taken := s[candidate]; !taken {
			s[name] = n + 1
			s[candidate] = 1
			return candidate
		}
	}
}

// sanitizeEntryName keeps a relative, slash-separated path with no way out of
// the extraction directory.
func sanitizeEntryName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.ReplaceAll(p, "\x00", "")
	p = path.Clean("/" + p)
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return strings.TrimRight(truncateName(p, maxEntryNameLength), "/")
}

// truncateName cuts s to at most max bytes without splitting a UTF-8 rune.
func truncateName(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	i := max
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
