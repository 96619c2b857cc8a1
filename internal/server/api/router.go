package api

import (
	"net/http"

	"snowshare/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
// The returned RateLimiter must be stopped on shutdown.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true

	// Quota is accounted per client IP, so only trust forwarding headers
	// when running behind a known proxy.
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Range"},
		ExposeHeaders: []string{
			echo.HeaderContentLength,
			echo.HeaderContentDisposition,
			"Content-Range",
			"Accept-Ranges",
		},
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoint only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Upload (rate-limited)
	e.POST("/api/upload", handler.HandleUpload, uploadLimiter.Middleware())

	// Share metadata and owner delete
	e.GET("/api/shares/:slug", handler.HandleInfo)
	e.DELETE("/api/shares/:slug", handler.HandleDelete)

	// Download
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		e.Add(method, "/d/:slug", handler.HandleDownload)
		e.Add(method, "/d/:slug/zip", handler.HandleArchive)
		e.Add(method, "/d/:slug/files/:fileID", handler.HandleBulkFile)
	}

	return e, uploadLimiter
}
