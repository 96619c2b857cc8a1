package transfer

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"snowshare/internal/server/storage"

	"github.com/labstack/echo/v4"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		size     int64
		expected Range
		wantErr  bool
	}{
		{"full window", "bytes=0-999", 1000, Range{0, 999}, false},
		{"open end", "bytes=500-", 1000, Range{500, 999}, false},
		{"single byte", "bytes=7-7", 1000, Range{7, 7}, false},
		{"whitespace", " bytes= 10 - 19 ", 1000, Range{10, 19}, false},
		{"start past end of file", "bytes=1000-1999", 1000, Range{}, true},
		{"end past end of file", "bytes=0-1000", 1000, Range{}, true},
		{"start after end", "bytes=20-10", 1000, Range{}, true},
		{"suffix range", "bytes=-500", 1000, Range{}, true},
		{"multi range", "bytes=0-1,5-6", 1000, Range{}, true},
		{"wrong unit", "items=0-1", 1000, Range{}, true},
		{"no dash", "bytes=5", 1000, Range{}, true},
		{"negative", "bytes=-1-5", 1000, Range{}, true},
		{"signed", "bytes=+1-5", 1000, Range{}, true},
		{"garbage", "bytes=a-b", 1000, Range{}, true},
		{"empty file", "bytes=0-", 0, Range{}, true},
		{"overflow", "bytes=0-99999999999999999999", 1000, Range{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrRangeNotSatisfiable) {
					t.Fatalf("expected ErrRangeNotSatisfiable, got %v (%+v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %+v, got %+v", tt.expected, got)
			}
		})
	}
}

func newTestBlob(t *testing.T, size int) (*storage.FileSystemStore, FileMeta, []byte) {
	t.Helper()
	store := storage.NewFileSystemStore(t.TempDir())
	content := make([]byte, size)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	saved, err := store.Save("share1", "data.bin", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("failed to save blob: %v", err)
	}
	return store, FileMeta{
		StoredPath: saved.StoredPath,
		Name:       "data.bin",
		Size:       saved.Size,
		MimeType:   saved.MimeType,
	}, content
}

func serve(t *testing.T, store storage.Store, meta FileMeta, method string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/d/abc", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := ServeFile(c, store, meta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec
}

func TestServeFile(t *testing.T) {
	store, meta, content := newTestBlob(t, 1000)

	t.Run("no range serves whole file", func(t *testing.T) {
		rec := serve(t, store, meta, http.MethodGet, nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !bytes.Equal(rec.Body.Bytes(), content) {
			t.Errorf("body differs from stored content (%d bytes)", rec.Body.Len())
		}
		if got := rec.Header().Get("Content-Length"); got != "1000" {
			t.Errorf("expected Content-Length 1000, got %q", got)
		}
		if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
			t.Errorf("expected Accept-Ranges bytes, got %q", got)
		}
		if got := rec.Header().Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
			t.Errorf("unexpected Cache-Control %q", got)
		}
		if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="data.bin"` {
			t.Errorf("unexpected Content-Disposition %q", got)
		}
	})

	t.Run("full range is partial content", func(t *testing.T) {
		rec := serve(t, store, meta, http.MethodGet, map[string]string{"Range": "bytes=0-999"})

		if rec.Code != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes 0-999/1000" {
			t.Errorf("unexpected Content-Range %q", got)
		}
		if rec.Body.Len() != 1000 {
			t.Errorf("expected 1000 bytes, got %d", rec.Body.Len())
		}
	})

	t.Run("window is exact", func(t *testing.T) {
		rec := serve(t, store, meta, http.MethodGet, map[string]string{"Range": "bytes=100-149"})

		if rec.Code != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", rec.Code)
		}
		if !bytes.Equal(rec.Body.Bytes(), content[100:150]) {
			t.Errorf("expected bytes 100-149, got %q", rec.Body.String())
		}
		if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(50) {
			t.Errorf("expected Content-Length 50, got %q", got)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes 100-149/1000" {
			t.Errorf("unexpected Content-Range %q", got)
		}
	})

	t.Run("unsatisfiable range", func(t *testing.T) {
		rec := serve(t, store, meta, http.MethodGet, map[string]string{"Range": "bytes=1000-1999"})

		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("expected 416, got %d", rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
			t.Errorf("unexpected Content-Range %q", got)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("expected empty body, got %d bytes", rec.Body.Len())
		}
	})

	t.Run("head sends headers only", func(t *testing.T) {
		rec := serve(t, store, meta, http.MethodHead, nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("expected no body, got %d bytes", rec.Body.Len())
		}
		if got := rec.Header().Get("Content-Length"); got != "1000" {
			t.Errorf("expected Content-Length 1000, got %q", got)
		}
	})

	t.Run("browser gets previewable types inline", func(t *testing.T) {
		textMeta := meta
		textMeta.Name = "notes.txt"
		textMeta.MimeType = "text/plain; charset=utf-8"
		rec := serve(t, store, textMeta, http.MethodGet, map[string]string{"Accept": "text/html,*/*"})

		if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "inline;") {
			t.Errorf("expected inline disposition, got %q", got)
		}
	})

	t.Run("missing blob is returned to caller", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/d/abc", nil)
		rec := httptest.NewRecorder()
		missing := meta
		missing.StoredPath = "gone.bin"

		err := ServeFile(e.NewContext(req, rec), store, missing)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected storage.ErrNotFound, got %v", err)
		}
		if rec.Body.Len() != 0 {
			t.Error("expected nothing written before the error")
		}
	})
}

func TestServeFile_Empty(t *testing.T) {
	store, meta, _ := newTestBlob(t, 0)

	t.Run("no range", func(t *testing.T) {
		rec := serve(t, store, meta, http.MethodGet, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get("Content-Length"); got != "0" {
			t.Errorf("expected Content-Length 0, got %q", got)
		}
	})

	t.Run("any range", func(t *testing.T) {
		rec := serve(t, store, meta, http.MethodGet, map[string]string{"Range": "bytes=0-"})
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("expected 416, got %d", rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes */0" {
			t.Errorf("unexpected Content-Range %q", got)
		}
	})
}
