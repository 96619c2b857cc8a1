// Package transfer streams stored blobs to HTTP clients: single files with
// byte-range support and bulk shares as an on-the-fly ZIP archive.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"snowshare/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// ErrRangeNotSatisfiable is returned for any Range header that cannot be
// served as a single window of the resource.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

const noCache = "no-cache, no-store, must-revalidate"

// Range is an inclusive byte window.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the window.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// FileMeta describes a blob to serve.
type FileMeta struct {
	StoredPath string
	Name       string
	Size       int64
	MimeType   string
}

// ParseRange parses a "bytes=start-end" header for a resource of size bytes.
// The end bound defaults to size-1. Suffix ranges ("bytes=-500") and
// multi-range requests are not served.
func ParseRange(header string, size int64) (Range, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return Range{}, ErrRangeNotSatisfiable
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return Range{}, ErrRangeNotSatisfiable
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	start, ok := parseBound(startStr)
	if !ok {
		return Range{}, ErrRangeNotSatisfiable
	}
	end := size - 1
	if endStr != "" {
		if end, ok = parseBound(endStr); !ok {
			return Range{}, ErrRangeNotSatisfiable
		}
	}

	if start > end || start >= size || end >= size {
		return Range{}, ErrRangeNotSatisfiable
	}
	return Range{Start: start, End: end}, nil
}

func parseBound(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ServeFile writes meta's blob to the client, honoring a Range header.
// Errors returned before the status line is written (such as a missing blob)
// are left for the caller to map; failures after that are only logged since
// the response is already committed.
func ServeFile(c echo.Context, store storage.Store, meta FileMeta) error {
	req := c.Request()
	res := c.Response()
	h := res.Header()

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Accept-Ranges", "bytes")
	h.Set(echo.HeaderCacheControl, noCache)
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set(echo.HeaderXContentTypeOptions, "nosniff")

	status := http.StatusOK
	window := Range{Start: 0, End: meta.Size - 1}
	if header := req.Header.Get("Range"); header != "" {
		rng, err := ParseRange(header, meta.Size)
		if err != nil {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", meta.Size))
			return c.NoContent(http.StatusRequestedRangeNotSatisfiable)
		}
		window = rng
		status = http.StatusPartialContent
	}
	length := window.Length()

	var body io.ReadCloser
	if length > 0 && req.Method != http.MethodHead {
		rc, err := store.Open(meta.StoredPath, window.Start, window.End)
		if err != nil {
			return err
		}
		body = rc
		defer body.Close()
	}

	h.Set(echo.HeaderContentType, mimeType)
	h.Set(echo.HeaderContentDisposition, ContentDisposition(meta.Name, mimeType, AcceptsHTML(req)))
	h.Set(echo.HeaderContentLength, strconv.FormatInt(length, 10))
	if status == http.StatusPartialContent {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", window.Start, window.End, meta.Size))
	}
	res.WriteHeader(status)

	if body == nil {
		return nil
	}
	if n, err := io.Copy(res, body); err != nil {
		slog.Warn("file transfer interrupted",
			"path", meta.StoredPath,
			"sent", n,
			"expected", length,
			"error", err,
		)
	}
	return nil
}

// AcceptsHTML reports whether the request comes from something that renders
// HTML, i.e. a browser.
func AcceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}
