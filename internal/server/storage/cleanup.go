package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"snowshare/internal/server/database"
)

// ExpiredShareRepository is the persistence the expiry sweep needs.
type ExpiredShareRepository interface {
	GetExpired(ctx context.Context) ([]*database.Share, error)
	ListFiles(ctx context.Context, shareID string) ([]*database.ShareFile, error)
	Delete(ctx context.Context, id string) error
}

// CleanupService periodically removes expired shares from both
// the database and file storage.
type CleanupService struct {
	repo     ExpiredShareRepository
	store    Store
	interval time.Duration
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo ExpiredShareRepository, store Store, interval time.Duration) *CleanupService {
	return &CleanupService{
		repo:     repo,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

// runCleanup deletes every expired share, blobs first. A share whose blobs
// cannot all be removed keeps its row so the next cycle retries it.
func (cs *CleanupService) runCleanup(ctx context.Context) (cleaned, failed int) {
	expired, err := cs.repo.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired shares", "error", err)
		return 0, 0
	}

	if len(expired) == 0 {
		slog.Debug("no expired shares to clean up")
		return 0, 0
	}

	for _, share := range expired {
		if err := cs.removeBlobs(ctx, share); err != nil {
			slog.Error("failed to delete share blobs",
				"share_id", share.ID,
				"slug", share.Slug,
				"error", err,
			)
			failed++
			continue
		}

		if err := cs.repo.Delete(ctx, share.ID); err != nil {
			slog.Error("failed to delete db record",
				"share_id", share.ID,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("cleaned up expired share",
			"share_id", share.ID,
			"slug", share.Slug,
			"bulk", share.IsBulk,
			"expired_at", share.ExpiresAt,
		)
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"total_expired", len(expired),
	)
	return cleaned, failed
}

func (cs *CleanupService) removeBlobs(ctx context.Context, share *database.Share) error {
	var paths []string
	if share.IsBulk {
		files, err := cs.repo.ListFiles(ctx, share.ID)
		if err != nil {
			return err
		}
		for _, f := range files {
			paths = append(paths, f.FilePath)
		}
	} else if share.FilePath != nil {
		paths = append(paths, *share.FilePath)
	}

	for _, p := range paths {
		if err := cs.store.Delete(p); err != nil {
			return fmt.Errorf("blob %s: %w", p, err)
		}
	}
	return nil
}
