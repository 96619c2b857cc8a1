// Package quota computes per-source byte usage and upload headroom.
//
// Usage is recomputed from persisted share records on every call. The check
// is advisory: two concurrent uploads from the same source both see the same
// headroom and may together overshoot it by the size of the other in-flight
// upload.
package quota

import (
	"context"
	"fmt"
)

const bytesPerMB = 1024 * 1024

// Source identifies who is uploading. Anonymous uploads are accounted by IP,
// authenticated uploads by owner.
type Source struct {
	IP     string
	UserID string
}

// Authenticated reports whether the source carries a user identity.
func (s Source) Authenticated() bool {
	return s.UserID != ""
}

// Limits are the byte ceilings that apply to one class of source.
type Limits struct {
	MaxFileSizeBytes int64
	QuotaBytes       int64
}

// Settings holds the configured ceilings in megabytes.
type Settings struct {
	AnonMaxFileSizeMB int64
	AnonQuotaMB       int64
	AuthMaxFileSizeMB int64
	AuthQuotaMB       int64
}

// UsageReader sums stored FILE share sizes.
type UsageReader interface {
	UsageByIP(ctx context.Context, ip string) (int64, error)
	UsageByOwner(ctx context.Context, ownerID string) (int64, error)
}

// Ledger answers quota questions against persisted usage.
type Ledger struct {
	usage    UsageReader
	settings Settings
}

// NewLedger creates a ledger reading usage from r.
func NewLedger(r UsageReader, settings Settings) *Ledger {
	return &Ledger{usage: r, settings: settings}
}

// MBToBytes converts a configured megabyte value to bytes.
func MBToBytes(mb int64) int64 {
	if mb <= 0 {
		return 0
	}
	return mb * bytesPerMB
}

// Limits returns the ceilings for anonymous or authenticated sources.
func (l *Ledger) Limits(authenticated bool) Limits {
	if authenticated {
		return Limits{
			MaxFileSizeBytes: MBToBytes(l.settings.AuthMaxFileSizeMB),
			QuotaBytes:       MBToBytes(l.settings.AuthQuotaMB),
		}
	}
	return Limits{
		MaxFileSizeBytes: MBToBytes(l.settings.AnonMaxFileSizeMB),
		QuotaBytes:       MBToBytes(l.settings.AnonQuotaMB),
	}
}

// Usage returns the bytes currently held by src across all FILE shares.
func (l *Ledger) Usage(ctx context.Context, src Source) (int64, error) {
	var (
		used int64
		err  error
	)
	if src.Authenticated() {
		used, err = l.usage.UsageByOwner(ctx, src.UserID)
	} else {
		used, err = l.usage.UsageByIP(ctx, src.IP)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compute usage: %w", err)
	}
	return used, nil
}

// Remaining returns max(0, quota - usage) for src.
func (l *Ledger) Remaining(ctx context.Context, src Source) (int64, error) {
	used, err := l.Usage(ctx, src)
	if err != nil {
		return 0, err
	}
	remaining := l.Limits(src.Authenticated()).QuotaBytes - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
