package database

import "time"

// ShareType distinguishes what a share points at.
type ShareType string

const (
	ShareTypeFile  ShareType = "FILE"
	ShareTypePaste ShareType = "PASTE"
	ShareTypeURL   ShareType = "URL"
)

// Share is one sharable unit addressed by its slug.
// For non-bulk FILE shares, FilePath/OriginalName/FileSize/MimeType describe
// the single blob; bulk shares keep their blobs in ShareFile rows instead.
type Share struct {
	ID           string
	Slug         string
	Type         ShareType
	PasswordHash *string // nil when no password set
	ExpiresAt    *time.Time
	MaxViews     *int
	ViewCount    int
	IPSource     string
	OwnerID      *string
	IsBulk       bool
	FilePath     *string
	OriginalName *string
	FileSize     int64
	MimeType     *string
	CreatedAt    time.Time
}

// ShareFile is one blob belonging to a bulk share.
type ShareFile struct {
	ID           string
	ShareID      string
	FilePath     string
	OriginalName string
	RelativePath string
	Size         int64
	MimeType     string
	Position     int
	CreatedAt    time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalShares  int64
	ActiveShares int64
	BulkShares   int64
	TotalViews   int64
	StorageUsed  int64
}
