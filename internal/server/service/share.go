package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snowshare/internal/server/database"
	"snowshare/internal/server/storage"
	"snowshare/internal/server/transfer"
)

// ShareRepository is the persistence the read side needs.
type ShareRepository interface {
	GetBySlug(ctx context.Context, slug string) (*database.Share, error)
	ListFiles(ctx context.Context, shareID string) ([]*database.ShareFile, error)
	GetFile(ctx context.Context, shareID, fileID string) (*database.ShareFile, error)
	ConsumeView(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// ShareInfo is returned for metadata queries. It never requires the password.
type ShareInfo struct {
	Slug             string     `json:"slug"`
	Type             string     `json:"type"`
	IsBulk           bool       `json:"isBulk"`
	FileCount        int        `json:"fileCount"`
	TotalSize        int64      `json:"totalSize"`
	PasswordRequired bool       `json:"passwordRequired"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	MaxViews         *int       `json:"maxViews"`
	ViewCount        int        `json:"viewCount"`
	CreatedAt        time.Time  `json:"createdAt"`
	Files            []FileInfo `json:"files"`
}

// FileInfo describes one file of a share.
type FileInfo struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
}

// ShareService contains the read and delete side of shares.
type ShareService struct {
	repo  ShareRepository
	store storage.Store
	gate  *AccessGate
}

// NewShareService creates a new share service.
func NewShareService(repo ShareRepository, store storage.Store, gate *AccessGate) *ShareService {
	return &ShareService{repo: repo, store: store, gate: gate}
}

// Resolve looks up a FILE share and runs it through the access gate.
func (s *ShareService) Resolve(ctx context.Context, slug, password string) (*database.Share, error) {
	share, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(share, password); err != nil {
		return nil, err
	}
	return share, nil
}

// Info returns share metadata. Expired or exhausted shares are reported as
// gone, but a password is not needed.
func (s *ShareService) Info(ctx context.Context, slug string) (*ShareInfo, error) {
	share, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CheckAvailable(share); err != nil {
		return nil, err
	}

	info := &ShareInfo{
		Slug:             share.Slug,
		Type:             string(share.Type),
		IsBulk:           share.IsBulk,
		PasswordRequired: share.PasswordHash != nil,
		ExpiresAt:        share.ExpiresAt,
		MaxViews:         share.MaxViews,
		ViewCount:        share.ViewCount,
		CreatedAt:        share.CreatedAt,
	}

	if share.IsBulk {
		files, err := s.repo.ListFiles(ctx, share.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			info.Files = append(info.Files, FileInfo{
				ID:           f.ID,
				Name:         f.OriginalName,
				RelativePath: f.RelativePath,
				Size:         f.Size,
				MimeType:     f.MimeType,
			})
			info.TotalSize += f.Size
		}
	} else {
		name := deref(share.OriginalName)
		info.Files = []FileInfo{{
			Name:         name,
			RelativePath: name,
			Size:         share.FileSize,
			MimeType:     deref(share.MimeType),
		}}
		info.TotalSize = share.FileSize
	}
	info.FileCount = len(info.Files)
	return info, nil
}

// SingleFile returns the blob of a non-bulk share.
func (s *ShareService) SingleFile(share *database.Share) (transfer.FileMeta, error) {
	if share.IsBulk || share.FilePath == nil {
		return transfer.FileMeta{}, ErrNotFound
	}
	return s.fileMeta(*share.FilePath, deref(share.OriginalName), deref(share.MimeType))
}

// BulkFile returns one file of a bulk share.
func (s *ShareService) BulkFile(ctx context.Context, share *database.Share, fileID string) (transfer.FileMeta, error) {
	if !share.IsBulk {
		return transfer.FileMeta{}, ErrNotFound
	}
	f, err := s.repo.GetFile(ctx, share.ID, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return transfer.FileMeta{}, ErrNotFound
		}
		return transfer.FileMeta{}, err
	}
	return s.fileMeta(f.FilePath, f.OriginalName, f.MimeType)
}

// ArchiveEntries lists a share's files in upload order, named by their
// relative path.
func (s *ShareService) ArchiveEntries(ctx context.Context, share *database.Share) ([]transfer.ArchiveEntry, error) {
	if !share.IsBulk {
		if share.FilePath == nil {
			return nil, ErrNotFound
		}
		return []transfer.ArchiveEntry{{
			StoredPath: *share.FilePath,
			Name:       deref(share.OriginalName),
			Modified:   share.CreatedAt,
		}}, nil
	}

	files, err := s.repo.ListFiles(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	entries := make([]transfer.ArchiveEntry, 0, len(files))
	for _, f := range files {
		name := f.RelativePath
		if name == "" {
			name = f.OriginalName
		}
		entries = append(entries, transfer.ArchiveEntry{
			StoredPath: f.FilePath,
			Name:       name,
			Modified:   f.CreatedAt,
		})
	}
	return entries, nil
}

// ClaimView takes one view of the share before its bytes are sent. The
// check and the increment are one statement, so concurrent downloads cannot
// exceed MaxViews.
func (s *ShareService) ClaimView(ctx context.Context, share *database.Share) error {
	ok, err := s.repo.ConsumeView(ctx, share.ID)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !ok {
		return ErrViewLimitReached
	}
	return nil
}

// Delete removes a share owned by userID, blobs first.
func (s *ShareService) Delete(ctx context.Context, slug, userID string) error {
	share, err := s.lookup(ctx, slug)
	if err != nil {
		return err
	}
	if userID == "" || share.OwnerID == nil || *share.OwnerID != userID {
		return ErrForbidden
	}

	paths, err := s.blobPaths(ctx, share)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := s.store.Delete(p); err != nil {
			slog.Error("failed to delete blob", "slug", slug, "path", p, "error", err)
		}
	}

	if err := s.repo.Delete(ctx, share.ID); err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete share record: %w", err)
	}

	slog.Info("share deleted", "slug", slug, "owner", userID, "files", len(paths))
	return nil
}

// Stats returns aggregate server statistics.
func (s *ShareService) Stats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

func (s *ShareService) lookup(ctx context.Context, slug string) (*database.Share, error) {
	share, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if share.Type != database.ShareTypeFile {
		return nil, ErrNotFound
	}
	return share, nil
}

func (s *ShareService) blobPaths(ctx context.Context, share *database.Share) ([]string, error) {
	if !share.IsBulk {
		if share.FilePath == nil {
			return nil, nil
		}
		return []string{*share.FilePath}, nil
	}
	files, err := s.repo.ListFiles(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.FilePath)
	}
	return paths, nil
}

// fileMeta sizes the blob from disk, so a missing blob surfaces as not found
// before any header is written.
func (s *ShareService) fileMeta(storedPath, name, mimeType string) (transfer.FileMeta, error) {
	size, err := s.store.Stat(storedPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("share blob missing from storage", "path", storedPath)
			return transfer.FileMeta{}, ErrNotFound
		}
		return transfer.FileMeta{}, err
	}
	if mimeType == "" {
		mimeType = storage.ContentType(name)
	}
	return transfer.FileMeta{
		StoredPath: storedPath,
		Name:       name,
		Size:       size,
		MimeType:   mimeType,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
