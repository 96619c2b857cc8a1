package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"snowshare/internal/server/pathsafe"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("stored file not found")
	ErrInvalidName = errors.New("invalid stored file name")
)

// Store defines the interface for blob storage backends.
type Store interface {
	Save(shareID, originalName string, data io.Reader) (*StoredFile, error)
	Open(storedPath string, start, end int64) (io.ReadCloser, error)
	Stat(storedPath string) (int64, error)
	Exists(storedPath string) bool
	Delete(storedPath string) error
	EnsureDir() error
}

// StoredFile describes a blob after it has been durably written.
type StoredFile struct {
	StoredPath string
	Size       int64
	MimeType   string
}

// FileSystemStore keeps blobs directly under one flat directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save streams data into a newly generated blob for shareID and returns the
// number of bytes actually written. A partial blob is removed on error.
func (fs *FileSystemStore) Save(shareID, originalName string, data io.Reader) (*StoredFile, error) {
	if err := fs.EnsureDir(); err != nil {
		return nil, err
	}

	name := GenerateName(shareID, originalName)
	filePath := filepath.Join(fs.basePath, name)

	// O_EXCL: generated names must never overwrite an existing blob.
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", name, err)
	}

	n, err := io.Copy(file, data)
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file %s: %w", name, err)
	}

	return &StoredFile{
		StoredPath: name,
		Size:       n,
		MimeType:   ContentType(originalName),
	}, nil
}

// Open returns a reader over bytes [start, end] of the blob, inclusive.
// A negative end reads to the end of the file. The caller must Close it.
func (fs *FileSystemStore) Open(storedPath string, start, end int64) (io.ReadCloser, error) {
	filePath, err := fs.resolve(storedPath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	if start < 0 {
		start = 0
	}
	if end < 0 {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		end = info.Size() - 1
	}
	length := end - start + 1
	if length < 0 {
		length = 0
	}

	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(file, start, length),
		file:          file,
	}, nil
}

// Stat returns the size in bytes of a stored blob.
func (fs *FileSystemStore) Stat(storedPath string) (int64, error) {
	filePath, err := fs.resolve(storedPath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return info.Size(), nil
}

// Exists reports whether the blob is present on disk.
func (fs *FileSystemStore) Exists(storedPath string) bool {
	_, err := fs.Stat(storedPath)
	return err == nil
}

// Delete removes a stored blob. Missing blobs are not an error.
func (fs *FileSystemStore) Delete(storedPath string) error {
	filePath, err := fs.resolve(storedPath)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", storedPath, err)
	}
	return nil
}

// resolve maps a stored name to its location, refusing anything that is not
// a bare name inside the storage root.
func (fs *FileSystemStore) resolve(storedPath string) (string, error) {
	if !pathsafe.ValidateFilename(storedPath) {
		return "", ErrInvalidName
	}
	return filepath.Join(fs.basePath, storedPath), nil
}

type sectionReadCloser struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.file.Close()
}

// GenerateName builds {shareID}_{randomID}_{base}{ext} for originalName.
// The random component keeps identical names from colliding.
func GenerateName(shareID, originalName string) string {
	name := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	ext := sanitizeComponent(strings.ToLower(filepath.Ext(name)), 16)
	base := sanitizeComponent(strings.TrimSuffix(name, filepath.Ext(name)), 64)
	if base == "" {
		base = "file"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%s_%s%s", sanitizeComponent(shareID, 64), random, base, ext)
}

// sanitizeComponent keeps [A-Za-z0-9._-] and replaces everything else with '_'.
func sanitizeComponent(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// ContentType returns the MIME type for a filename based on its extension.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log", ".md", ".csv":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".tar":
		return "application/x-tar"
	default:
		return "application/octet-stream"
	}
}
