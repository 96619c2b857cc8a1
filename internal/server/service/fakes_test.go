package service

import (
	"bytes"
	"context"
	"mime/multipart"
	"sync"
	"testing"

	"snowshare/internal/server/database"
)

// fakeRepo is an in-memory stand-in for database.Repository.
type fakeRepo struct {
	mu        sync.Mutex
	shares    map[string]*database.Share
	files     map[string][]*database.ShareFile
	createErr error
	// slugCollisions makes the next n creates fail with ErrSlugTaken.
	slugCollisions int
	createCalls    int
	extraUsage     int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		shares: make(map[string]*database.Share),
		files:  make(map[string][]*database.ShareFile),
	}
}

func (r *fakeRepo) CreateFileShare(_ context.Context, share *database.Share, files []*database.ShareFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return r.createErr
	}
	if r.slugCollisions > 0 {
		r.slugCollisions--
		return database.ErrSlugTaken
	}
	if _, ok := r.shares[share.Slug]; ok {
		return database.ErrSlugTaken
	}
	cp := *share
	r.shares[share.Slug] = &cp
	r.files[share.ID] = append([]*database.ShareFile(nil), files...)
	return nil
}

func (r *fakeRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.shares[slug]
	return ok, nil
}

func (r *fakeRepo) GetBySlug(_ context.Context, slug string) (*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shares[slug]
	if !ok {
		return nil, database.ErrShareNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) ListFiles(_ context.Context, shareID string) ([]*database.ShareFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*database.ShareFile(nil), r.files[shareID]...), nil
}

func (r *fakeRepo) GetFile(_ context.Context, shareID, fileID string) (*database.ShareFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files[shareID] {
		if f.ID == fileID {
			return f, nil
		}
	}
	return nil, database.ErrFileNotFound
}

func (r *fakeRepo) ConsumeView(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shares {
		if s.ID == id {
			if s.MaxViews != nil && s.ViewCount >= *s.MaxViews {
				return false, nil
			}
			s.ViewCount++
			return true, nil
		}
	}
	return false, database.ErrShareNotFound
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slug, s := range r.shares {
		if s.ID == id {
			delete(r.shares, slug)
			delete(r.files, id)
			return nil
		}
	}
	return database.ErrShareNotFound
}

func (r *fakeRepo) GetStats(_ context.Context) (*database.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &database.Stats{TotalShares: int64(len(r.shares))}
	for _, s := range r.shares {
		stats.TotalViews += int64(s.ViewCount)
		if s.IsBulk {
			stats.BulkShares++
		}
	}
	return stats, nil
}

func (r *fakeRepo) UsageByIP(_ context.Context, ip string) (int64, error) {
	return r.usage(func(s *database.Share) bool { return s.IPSource == ip }), nil
}

func (r *fakeRepo) UsageByOwner(_ context.Context, ownerID string) (int64, error) {
	return r.usage(func(s *database.Share) bool { return s.OwnerID != nil && *s.OwnerID == ownerID }), nil
}

func (r *fakeRepo) usage(match func(*database.Share) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.extraUsage
	for _, s := range r.shares {
		if s.Type != database.ShareTypeFile || !match(s) {
			continue
		}
		if !s.IsBulk {
			total += s.FileSize
			continue
		}
		for _, f := range r.files[s.ID] {
			total += f.Size
		}
	}
	return total
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shares)
}

// formPart is one multipart part; an empty filename makes it a text field.
type formPart struct {
	field    string
	filename string
	content  string
}

func buildMultipart(t *testing.T, parts ...formPart) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			if err := w.WriteField(p.field, p.content); err != nil {
				t.Fatalf("failed to write field %s: %v", p.field, err)
			}
			continue
		}
		fw, err := w.CreateFormFile(p.field, p.filename)
		if err != nil {
			t.Fatalf("failed to create file part %s: %v", p.field, err)
		}
		if _, err := fw.Write([]byte(p.content)); err != nil {
			t.Fatalf("failed to write file part %s: %v", p.field, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return w.FormDataContentType(), buf.Bytes()
}
