package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"mime"
	"mime/multipart"
	"regexp"
	"strconv"
	"strings"
	"time"

	"snowshare/internal/server/database"
	"snowshare/internal/server/pathsafe"
	"snowshare/internal/server/quota"
	"snowshare/internal/server/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	ingestChunkSize     = 64 * 1024
	defaultChunkBuffer  = 8
	maxFieldBytes       = 4 * 1024
	maxFilesPerShare    = 1000
	maxPasswordBytes    = 72
	pathFieldSuffix     = "_path"
	slugMinLength       = 3
	slugMaxLength       = 50
	generatedSlugLength = 8
	maxSlugAttempts     = 5
	defaultAnonExpiry   = 7 * 24 * time.Hour
)

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IngestRequest is one incoming upload.
type IngestRequest struct {
	ContentType string
	Body        io.Reader
	Source      quota.Source
}

// IngestResult is returned after a successful upload.
type IngestResult struct {
	Share ShareSummary `json:"share"`
}

// ShareSummary describes a newly created share.
type ShareSummary struct {
	Slug        string     `json:"slug"`
	Type        string     `json:"type"`
	IsBulk      bool       `json:"isBulk"`
	FileCount   int        `json:"fileCount"`
	TotalSize   int64      `json:"totalSize"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	HasPassword bool       `json:"hasPassword"`
	URL         string     `json:"url"`
}

// ShareWriter persists new shares.
type ShareWriter interface {
	CreateFileShare(ctx context.Context, share *database.Share, files []*database.ShareFile) error
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// IngestOptions tune the pipeline.
type IngestOptions struct {
	BaseURL       string
	AnonMaxExpiry time.Duration
	ChunkBuffer   int
	PasswordCost  int
}

// IngestPipeline turns a streamed multipart upload into a share.
//
// One goroutine parses the body part by part and meters every chunk against
// the uploader's remaining quota; accepted chunks travel over a bounded
// channel to a second goroutine that writes them to the store. A violation
// cancels both, so nothing past the offending chunk is read or written.
// The share row is created only after every blob is on disk.
type IngestPipeline struct {
	repo   ShareWriter
	store  storage.Store
	ledger *quota.Ledger
	opts   IngestOptions
	now    func() time.Time
}

// NewIngestPipeline creates a new upload pipeline.
func NewIngestPipeline(repo ShareWriter, store storage.Store, ledger *quota.Ledger, opts IngestOptions) *IngestPipeline {
	if opts.AnonMaxExpiry <= 0 {
		opts.AnonMaxExpiry = defaultAnonExpiry
	}
	if opts.ChunkBuffer <= 0 {
		opts.ChunkBuffer = defaultChunkBuffer
	}
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	return &IngestPipeline{
		repo:   repo,
		store:  store,
		ledger: ledger,
		opts:   opts,
		now:    time.Now,
	}
}

type eventKind int

const (
	eventFileStart eventKind = iota
	eventChunk
	eventFileEnd
)

type ingestEvent struct {
	kind     eventKind
	field    string
	filename string
	data     []byte
}

type savedPart struct {
	field    string
	filename string
	stored   *storage.StoredFile
}

// uploadForm collects the text fields of an upload. Only the reader
// goroutine writes it.
type uploadForm struct {
	slug      string
	password  string
	expiresAt string
	maxViews  string
	paths     map[string][]string
}

// Ingest runs one upload to completion. Exactly one of the result and the
// error is non-nil; on error no share exists and no blob is left behind.
func (p *IngestPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	remaining, err := p.ledger.Remaining(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		slog.Warn("upload rejected, quota exhausted",
			"ip", req.Source.IP,
			"user", req.Source.UserID,
		)
		return nil, ErrQuotaExceeded
	}

	mr, err := newMultipartReader(req.ContentType, req.Body)
	if err != nil {
		return nil, err
	}

	shareID := uuid.NewString()
	meter := &quotaMeter{
		remaining: remaining,
		maxFile:   p.ledger.Limits(req.Source.Authenticated()).MaxFileSizeBytes,
	}
	form := &uploadForm{paths: make(map[string][]string)}
	var saved []savedPart

	events := make(chan ingestEvent, p.opts.ChunkBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Left open on error: the writer stops on the canceled context, so
		// the reader's error is the one Wait reports.
		if err := readParts(gctx, mr, form, meter, events); err != nil {
			return err
		}
		close(events)
		return nil
	})
	g.Go(func() error {
		return p.writeParts(gctx, shareID, events, &saved)
	})

	if err := g.Wait(); err != nil {
		p.discard(saved)
		slog.Warn("upload aborted",
			"ip", req.Source.IP,
			"bytes_read", meter.total,
			"files_written", len(saved),
			"error", err,
		)
		return nil, err
	}

	result, err := p.finalize(ctx, shareID, req.Source, form, saved)
	if err != nil {
		p.discard(saved)
		return nil, err
	}
	return result, nil
}

// readParts parses the multipart body and emits file events in body order.
func readParts(ctx context.Context, mr *multipart.Reader, form *uploadForm, meter *quotaMeter, events chan<- ingestEvent) error {
	send := func(ev ingestEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	files := 0
	buf := make([]byte, ingestChunkSize)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return inputError("", "malformed multipart body")
		}

		field := part.FormName()
		if part.FileName() == "" {
			err := form.set(field, part)
			part.Close()
			if err != nil {
				return err
			}
			continue
		}

		files++
		if files > maxFilesPerShare {
			return inputError(field, fmt.Sprintf("at most %d files per upload", maxFilesPerShare))
		}
		filename := part.FileName()
		if !pathsafe.ValidateFilename(filename) {
			return inputError(field, "invalid filename")
		}

		if err := send(ingestEvent{kind: eventFileStart, field: field, filename: filename}); err != nil {
			return err
		}
		meter.startFile()
		for {
			n, rerr := part.Read(buf)
			if n > 0 {
				if err := meter.add(int64(n)); err != nil {
					return err
				}
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if err := send(ingestEvent{kind: eventChunk, data: chunk}); err != nil {
					return err
				}
			}
			if errors.Is(rerr, io.EOF) {
				break
			}
			if rerr != nil {
				return inputError(field, "upload stream interrupted")
			}
		}
		part.Close()
		if err := send(ingestEvent{kind: eventFileEnd}); err != nil {
			return err
		}
	}
}

// writeParts stores each file announced on events. Every blob that was fully
// written is appended to saved, also when a later one fails.
func (p *IngestPipeline) writeParts(ctx context.Context, shareID string, events <-chan ingestEvent, saved *[]savedPart) error {
	for {
		var ev ingestEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			ev = e
		}
		if ev.kind != eventFileStart {
			return fmt.Errorf("unexpected ingest event %d outside a file", ev.kind)
		}

		body := &chunkReader{ctx: ctx, events: events}
		stored, err := p.store.Save(shareID, ev.filename, body)
		if err != nil {
			return fmt.Errorf("failed to store %q: %w", ev.filename, err)
		}
		*saved = append(*saved, savedPart{field: ev.field, filename: ev.filename, stored: stored})
	}
}

func (p *IngestPipeline) finalize(ctx context.Context, shareID string, src quota.Source, form *uploadForm, saved []savedPart) (*IngestResult, error) {
	if len(saved) == 0 {
		return nil, inputError("file", "no files provided")
	}

	expiresAt, err := p.resolveExpiry(form.expiresAt, src.Authenticated())
	if err != nil {
		return nil, err
	}
	maxViews, err := parseMaxViews(form.maxViews)
	if err != nil {
		return nil, err
	}

	customSlug := form.slug != ""
	if customSlug {
		if err := validateSlug(form.slug); err != nil {
			return nil, err
		}
		exists, err := p.repo.SlugExists(ctx, form.slug)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrSlugTaken
		}
	}

	var passwordHash *string
	if form.password != "" {
		if len(form.password) > maxPasswordBytes {
			return nil, inputError("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(form.password), p.opts.PasswordCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		h := string(hash)
		passwordHash = &h
	}

	now := p.now().UTC()
	share := &database.Share{
		ID:           shareID,
		Slug:         form.slug,
		Type:         database.ShareTypeFile,
		PasswordHash: passwordHash,
		ExpiresAt:    expiresAt,
		MaxViews:     maxViews,
		IPSource:     src.IP,
		IsBulk:       len(saved) > 1,
		CreatedAt:    now,
	}
	if src.Authenticated() {
		owner := src.UserID
		share.OwnerID = &owner
	}

	var (
		files     []*database.ShareFile
		totalSize int64
	)
	if share.IsBulk {
		for i, sp := range saved {
			rel := form.takePath(sp.field)
			if rel == "" {
				rel = sp.filename
			}
			files = append(files, &database.ShareFile{
				ID:           uuid.NewString(),
				ShareID:      shareID,
				FilePath:     sp.stored.StoredPath,
				OriginalName: sp.filename,
				RelativePath: rel,
				Size:         sp.stored.Size,
				MimeType:     sp.stored.MimeType,
				Position:     i,
				CreatedAt:    now,
			})
			totalSize += sp.stored.Size
		}
	} else {
		single := saved[0]
		share.FilePath = &single.stored.StoredPath
		share.OriginalName = &single.filename
		share.FileSize = single.stored.Size
		share.MimeType = &single.stored.MimeType
		totalSize = single.stored.Size
	}

	if err := p.createShare(ctx, share, files, customSlug); err != nil {
		return nil, err
	}

	slog.Info("share created",
		"slug", share.Slug,
		"share_id", share.ID,
		"bulk", share.IsBulk,
		"files", len(saved),
		"total_size", totalSize,
		"ip", src.IP,
	)

	return &IngestResult{Share: ShareSummary{
		Slug:        share.Slug,
		Type:        string(share.Type),
		IsBulk:      share.IsBulk,
		FileCount:   len(saved),
		TotalSize:   totalSize,
		ExpiresAt:   share.ExpiresAt,
		HasPassword: passwordHash != nil,
		URL:         fmt.Sprintf("%s/d/%s", p.opts.BaseURL, share.Slug),
	}}, nil
}

// createShare inserts the share, drawing fresh slugs on collision unless the
// client chose one.
func (p *IngestPipeline) createShare(ctx context.Context, share *database.Share, files []*database.ShareFile, customSlug bool) error {
	if customSlug {
		err := p.repo.CreateFileShare(ctx, share, files)
		if errors.Is(err, database.ErrSlugTaken) {
			return ErrSlugTaken
		}
		if err != nil {
			return fmt.Errorf("failed to create share record: %w", err)
		}
		return nil
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug, err := generateSecureToken(generatedSlugLength)
		if err != nil {
			return fmt.Errorf("failed to generate slug: %w", err)
		}
		share.Slug = slug

		err = p.repo.CreateFileShare(ctx, share, files)
		if errors.Is(err, database.ErrSlugTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create share record: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to allocate a unique slug after %d attempts", maxSlugAttempts)
}

// resolveExpiry parses the requested expiry. Anonymous shares always expire,
// at the latest after AnonMaxExpiry.
func (p *IngestPipeline) resolveExpiry(raw string, authenticated bool) (*time.Time, error) {
	now := p.now().UTC()

	var expires time.Time
	if raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			return nil, inputError("expiresAt", "must be an ISO-8601 timestamp")
		}
		if !t.After(now) {
			return nil, inputError("expiresAt", "must be in the future")
		}
		expires = t.UTC()
	}

	if authenticated {
		if raw == "" {
			return nil, nil
		}
		return &expires, nil
	}

	horizon := now.Add(p.opts.AnonMaxExpiry)
	if raw == "" || expires.After(horizon) {
		expires = horizon
	}
	return &expires, nil
}

func (p *IngestPipeline) discard(saved []savedPart) {
	for _, sp := range saved {
		if err := p.store.Delete(sp.stored.StoredPath); err != nil {
			slog.Error("failed to remove orphaned blob",
				"path", sp.stored.StoredPath,
				"error", err,
			)
		}
	}
}

func (f *uploadForm) set(field string, r io.Reader) error {
	b, err := io.ReadAll(io.LimitReader(r, maxFieldBytes+1))
	if err != nil {
		return inputError("", "malformed multipart body")
	}
	if len(b) > maxFieldBytes {
		return inputError(field, "form field too large")
	}
	value := string(b)

	if key, ok := strings.CutSuffix(field, pathFieldSuffix); ok && key != "" {
		if value == "" {
			return nil
		}
		if !pathsafe.Validate(value) {
			return inputError(field, "invalid relative path")
		}
		f.paths[key] = append(f.paths[key], pathsafe.Normalize(value))
		return nil
	}

	switch field {
	case "slug":
		f.slug = strings.TrimSpace(value)
	case "password":
		f.password = value
	case "expiresAt":
		f.expiresAt = strings.TrimSpace(value)
	case "maxViews":
		f.maxViews = strings.TrimSpace(value)
	}
	return nil
}

// takePath pops the next relative path declared for a file field.
func (f *uploadForm) takePath(field string) string {
	q := f.paths[field]
	if len(q) == 0 {
		return ""
	}
	f.paths[field] = q[1:]
	return q[0]
}

// quotaMeter tracks bytes accepted so far for one request.
type quotaMeter struct {
	remaining int64
	maxFile   int64
	total     int64
	file      int64
}

func (m *quotaMeter) startFile() {
	m.file = 0
}

// add accounts for one received chunk and fails once the request exceeds the
// remaining quota or the current file exceeds the per-file cap.
func (m *quotaMeter) add(n int64) error {
	m.total += n
	m.file += n
	if m.total > m.remaining {
		return ErrQuotaExceeded
	}
	if m.maxFile > 0 && m.file > m.maxFile {
		return ErrFileTooLarge
	}
	return nil
}

// chunkReader adapts the event channel for one file into an io.Reader that
// ends at the file's end event.
type chunkReader struct {
	ctx    context.Context
	events <-chan ingestEvent
	buf    []byte
	done   bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		// Checked first so buffered chunks are dropped once canceled.
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		select {
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		case ev, ok := <-r.events:
			if !ok {
				return 0, io.ErrUnexpectedEOF
			}
			switch ev.kind {
			case eventChunk:
				r.buf = ev.data
			case eventFileEnd:
				r.done = true
			default:
				return 0, fmt.Errorf("unexpected ingest event %d inside a file", ev.kind)
			}
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// --- Helpers ---

func newMultipartReader(contentType string, body io.Reader) (*multipart.Reader, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		return nil, inputError("", "expected a multipart/form-data body")
	}
	return multipart.NewReader(body, params["boundary"]), nil
}

func validateSlug(slug string) error {
	if len(slug) < slugMinLength || len(slug) > slugMaxLength {
		return inputError("slug", fmt.Sprintf("must be %d-%d characters", slugMinLength, slugMaxLength))
	}
	if !slugPattern.MatchString(slug) {
		return inputError("slug", "may only contain letters, digits, '-' and '_'")
	}
	return nil
}

func parseMaxViews(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return nil, inputError("maxViews", "must be a positive integer")
	}
	return &n, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
