package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"snowshare/internal/server/database"
	"snowshare/internal/server/quota"
	"snowshare/internal/server/service"
	"snowshare/internal/server/storage"
	"snowshare/internal/server/transfer"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports backend health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the snowshare API.
type Handler struct {
	ingest   *service.IngestPipeline
	shares   *service.ShareService
	archiver *transfer.ArchiveStreamer
	store    storage.Store
	auth     Authenticator
	health   HealthChecker
}

// NewHandler creates a new handler with its service dependencies.
func NewHandler(
	ingest *service.IngestPipeline,
	shares *service.ShareService,
	archiver *transfer.ArchiveStreamer,
	store storage.Store,
	auth Authenticator,
	health HealthChecker,
) *Handler {
	return &Handler{
		ingest:   ingest,
		shares:   shares,
		archiver: archiver,
		store:    store,
		auth:     auth,
		health:   health,
	}
}

// HandleUpload handles POST /api/upload.
// The multipart body is streamed straight into storage; it is never parsed
// into memory or temp files up front.
func (h *Handler) HandleUpload(c echo.Context) error {
	req := c.Request()

	userID, err := h.auth.Authenticate(req)
	if err != nil {
		return mapServiceError(c, err)
	}

	result, err := h.ingest.Ingest(req.Context(), service.IngestRequest{
		ContentType: req.Header.Get(echo.HeaderContentType),
		Body:        req.Body,
		Source:      quota.Source{IP: c.RealIP(), UserID: userID},
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleInfo handles GET /api/shares/:slug.
// Returns share metadata without requiring the password.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.shares.Info(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDownload handles GET /d/:slug.
// Serves the file of a single-file share with Range support; a bulk share is
// served as its ZIP archive.
func (h *Handler) HandleDownload(c echo.Context) error {
	share, err := h.shares.Resolve(c.Request().Context(), c.Param("slug"), c.QueryParam("password"))
	if err != nil {
		return mapServiceError(c, err)
	}
	if share.IsBulk {
		return h.streamArchive(c, share)
	}

	meta, err := h.shares.SingleFile(share)
	if err != nil {
		return mapServiceError(c, err)
	}
	return h.serveFile(c, share, meta)
}

// HandleBulkFile handles GET /d/:slug/files/:fileID.
func (h *Handler) HandleBulkFile(c echo.Context) error {
	ctx := c.Request().Context()
	share, err := h.shares.Resolve(ctx, c.Param("slug"), c.QueryParam("password"))
	if err != nil {
		return mapServiceError(c, err)
	}

	meta, err := h.shares.BulkFile(ctx, share, c.Param("fileID"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return h.serveFile(c, share, meta)
}

// HandleArchive handles GET /d/:slug/zip.
func (h *Handler) HandleArchive(c echo.Context) error {
	share, err := h.shares.Resolve(c.Request().Context(), c.Param("slug"), c.QueryParam("password"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return h.streamArchive(c, share)
}

// HandleDelete handles DELETE /api/shares/:slug.
// Only the authenticated owner may delete a share.
func (h *Handler) HandleDelete(c echo.Context) error {
	userID, err := h.auth.Authenticate(c.Request())
	if err != nil {
		return mapServiceError(c, err)
	}
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	if err := h.shares.Delete(c.Request().Context(), c.Param("slug"), userID); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "share deleted successfully",
	})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.shares.Stats(c.Request().Context())
	if err != nil {
		slog.Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_shares":       stats.TotalShares,
		"active_shares":      stats.ActiveShares,
		"bulk_shares":        stats.BulkShares,
		"total_views":        stats.TotalViews,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

func (h *Handler) serveFile(c echo.Context, share *database.Share, meta transfer.FileMeta) error {
	if countsAsView(c.Request()) {
		if err := h.shares.ClaimView(c.Request().Context(), share); err != nil {
			return mapServiceError(c, err)
		}
	}
	if err := transfer.ServeFile(c, h.store, meta); err != nil {
		return mapServiceError(c, err)
	}
	return nil
}

// streamArchive writes the share as a ZIP. Access has already been checked;
// only listing the files or claiming the view can fail before the status line.
func (h *Handler) streamArchive(c echo.Context, share *database.Share) error {
	ctx := c.Request().Context()
	entries, err := h.shares.ArchiveEntries(ctx, share)
	if err != nil {
		return mapServiceError(c, err)
	}

	if c.Request().Method == http.MethodGet {
		if err := h.shares.ClaimView(ctx, share); err != nil {
			return mapServiceError(c, err)
		}
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition,
		transfer.ContentDisposition(transfer.ArchiveFilename(share.Slug), "application/zip", false))
	res.Header().Set(echo.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	res.WriteHeader(http.StatusOK)
	if c.Request().Method == http.MethodHead {
		return nil
	}

	written, err := h.archiver.Stream(ctx, res, entries)
	if err != nil {
		slog.Error("archive stream failed",
			"slug", share.Slug,
			"entries_written", written,
			"entries_total", len(entries),
			"error", err,
		)
		// Headers are sent; only aborting the connection signals the failure.
		panic(http.ErrAbortHandler)
	}

	slog.Info("archive streamed",
		"slug", share.Slug,
		"entries", written,
		"skipped", len(entries)-written,
	)
	return nil
}

// countsAsView reports whether a request is a new view rather than a resumed
// or probing one. Views are claimed before any bytes are sent.
func countsAsView(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	rng := strings.TrimSpace(req.Header.Get("Range"))
	if rng == "" {
		return true
	}
	spec := strings.TrimSpace(strings.TrimPrefix(rng, "bytes="))
	return strings.HasPrefix(spec, "0-")
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	if c.Response().Committed {
		slog.Error("error after response was committed", "path", c.Request().URL.Path, "error", err)
		return nil
	}

	var inputErr *service.InputError
	switch {
	case errors.As(err, &inputErr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": inputErr.Error()})
	case errors.Is(err, ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "share not found"})
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "share has expired"})
	case errors.Is(err, service.ErrViewLimitReached):
		return c.JSON(http.StatusGone, echo.Map{"error": "share view limit reached"})
	case errors.Is(err, service.ErrPasswordRequired):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "password_required"})
	case errors.Is(err, service.ErrInvalidPassword):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid password"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed to modify this share"})
	case errors.Is(err, service.ErrSlugTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slug already in use"})
	case errors.Is(err, service.ErrQuotaExceeded):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "upload quota exceeded"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	default:
		slog.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
