package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrShareNotFound = errors.New("share not found")
	ErrFileNotFound  = errors.New("share file not found")
	ErrSlugTaken     = errors.New("slug already in use")
)

const pgUniqueViolation = "23505"

const shareColumns = `
	id, slug, type, password_hash, expires_at, max_views, view_count,
	ip_source, owner_id, is_bulk, file_path, original_name, file_size,
	mime_type, created_at`

const shareFileColumns = `
	id, share_id, file_path, original_name, relative_path, size,
	mime_type, position, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Repository provides persistence for shares and their files.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateFileShare inserts a share and all of its file rows in one
// transaction, so the share only becomes visible once every row exists.
func (r *Repository) CreateFileShare(ctx context.Context, share *Share, files []*ShareFile) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO shares (`+shareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		share.ID,
		share.Slug,
		share.Type,
		share.PasswordHash,
		share.ExpiresAt,
		share.MaxViews,
		share.ViewCount,
		share.IPSource,
		share.OwnerID,
		share.IsBulk,
		share.FilePath,
		share.OriginalName,
		share.FileSize,
		share.MimeType,
		share.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "shares_slug_key") {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to create share: %w", err)
	}

	if len(files) > 0 {
		batch := &pgx.Batch{}
		for _, f := range files {
			batch.Queue(`
				INSERT INTO share_files (`+shareFileColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				f.ID, f.ShareID, f.FilePath, f.OriginalName, f.RelativePath,
				f.Size, f.MimeType, f.Position, f.CreatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to create share files: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit share: %w", err)
	}
	return nil
}

// GetBySlug retrieves a share by its slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Share, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+shareColumns+` FROM shares WHERE slug = $1`, slug)
	share, err := scanShare(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return share, nil
}

// SlugExists reports whether a slug is already taken.
func (r *Repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM shares WHERE slug = $1)", slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// ListFiles returns the files of a bulk share in upload order.
func (r *Repository) ListFiles(ctx context.Context, shareID string) ([]*ShareFile, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+shareFileColumns+`
		FROM share_files WHERE share_id = $1 ORDER BY position
	`, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to query share files: %w", err)
	}
	defer rows.Close()

	var files []*ShareFile
	for rows.Next() {
		f, err := scanShareFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetFile returns one file of a bulk share.
func (r *Repository) GetFile(ctx context.Context, shareID, fileID string) (*ShareFile, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+shareFileColumns+`
		FROM share_files WHERE share_id = $1 AND id = $2
	`, shareID, fileID)
	f, err := scanShareFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get share file: %w", err)
	}
	return f, nil
}

// ConsumeView atomically counts one view if the share still has views left.
// It reports false, without counting, once max_views is reached.
func (r *Repository) ConsumeView(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE shares SET view_count = view_count + 1
		WHERE id = $1 AND (max_views IS NULL OR view_count < max_views)
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to increment view count: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM shares WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check share: %w", err)
	}
	if !exists {
		return false, ErrShareNotFound
	}
	return false, nil
}

// Delete removes a share by ID. Its file rows go with it (ON DELETE CASCADE).
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM shares WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// GetExpired returns all shares whose expiration time has passed.
func (r *Repository) GetExpired(ctx context.Context) ([]*Share, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+shareColumns+`
		FROM shares WHERE expires_at IS NOT NULL AND expires_at < NOW()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired shares: %w", err)
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired share: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// UsageByIP sums stored bytes of FILE shares uploaded from ip.
func (r *Repository) UsageByIP(ctx context.Context, ip string) (int64, error) {
	return r.usage(ctx, "ip_source", ip)
}

// UsageByOwner sums stored bytes of FILE shares owned by ownerID.
func (r *Repository) UsageByOwner(ctx context.Context, ownerID string) (int64, error) {
	return r.usage(ctx, "owner_id", ownerID)
}

// usage adds single-file share sizes and bulk share file sizes for one key.
// column is always one of the two constants above, never client input.
func (r *Repository) usage(ctx context.Context, column, value string) (int64, error) {
	var used int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COALESCE((
				SELECT SUM(file_size) FROM shares
				WHERE `+column+` = $1 AND type = 'FILE' AND is_bulk = FALSE
			), 0)
			+
			COALESCE((
				SELECT SUM(f.size) FROM share_files f
				JOIN shares s ON s.id = f.share_id
				WHERE s.`+column+` = $1 AND s.type = 'FILE'
			), 0)
	`, value).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}
	return used, nil
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at IS NULL OR expires_at > NOW()),
			COUNT(*) FILTER (WHERE is_bulk),
			COALESCE(SUM(view_count), 0),
			COALESCE(SUM(file_size), 0)
				+ COALESCE((SELECT SUM(size) FROM share_files), 0)
		FROM shares
	`).Scan(
		&stats.TotalShares,
		&stats.ActiveShares,
		&stats.BulkShares,
		&stats.TotalViews,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func scanShare(row rowScanner) (*Share, error) {
	s := &Share{}
	err := row.Scan(
		&s.ID,
		&s.Slug,
		&s.Type,
		&s.PasswordHash,
		&s.ExpiresAt,
		&s.MaxViews,
		&s.ViewCount,
		&s.IPSource,
		&s.OwnerID,
		&s.IsBulk,
		&s.FilePath,
		&s.OriginalName,
		&s.FileSize,
		&s.MimeType,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanShareFile(row rowScanner) (*ShareFile, error) {
	f := &ShareFile{}
	err := row.Scan(
		&f.ID,
		&f.ShareID,
		&f.FilePath,
		&f.OriginalName,
		&f.RelativePath,
		&f.Size,
		&f.MimeType,
		&f.Position,
		&f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}
