package quota

import (
	"context"
	"errors"
	"testing"
)

type fakeUsage struct {
	byIP    map[string]int64
	byOwner map[string]int64
	err     error
}

func (f *fakeUsage) UsageByIP(_ context.Context, ip string) (int64, error) {
	return f.byIP[ip], f.err
}

func (f *fakeUsage) UsageByOwner(_ context.Context, ownerID string) (int64, error) {
	return f.byOwner[ownerID], f.err
}

var testSettings = Settings{
	AnonMaxFileSizeMB: 10,
	AnonQuotaMB:       20,
	AuthMaxFileSizeMB: 100,
	AuthQuotaMB:       200,
}

func TestMBToBytes(t *testing.T) {
	if got := MBToBytes(1); got != 1024*1024 {
		t.Errorf("expected 1048576, got %d", got)
	}
	if got := MBToBytes(0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := MBToBytes(-5); got != 0 {
		t.Errorf("expected negative to clamp to 0, got %d", got)
	}
}

func TestLedger_Limits(t *testing.T) {
	l := NewLedger(&fakeUsage{}, testSettings)

	anon := l.Limits(false)
	if anon.MaxFileSizeBytes != 10*bytesPerMB || anon.QuotaBytes != 20*bytesPerMB {
		t.Errorf("unexpected anonymous limits: %+v", anon)
	}

	auth := l.Limits(true)
	if auth.MaxFileSizeBytes != 100*bytesPerMB || auth.QuotaBytes != 200*bytesPerMB {
		t.Errorf("unexpected authenticated limits: %+v", auth)
	}
}

func TestLedger_Remaining(t *testing.T) {
	usage := &fakeUsage{
		byIP:    map[string]int64{"10.0.0.1": 5 * bytesPerMB, "10.0.0.2": 25 * bytesPerMB},
		byOwner: map[string]int64{"alice": 50 * bytesPerMB},
	}
	l := NewLedger(usage, testSettings)
	ctx := context.Background()

	t.Run("anonymous source keyed by IP", func(t *testing.T) {
		got, err := l.Remaining(ctx, Source{IP: "10.0.0.1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 15*bytesPerMB {
			t.Errorf("expected %d, got %d", 15*bytesPerMB, got)
		}
	})

	t.Run("over quota clamps to zero", func(t *testing.T) {
		got, err := l.Remaining(ctx, Source{IP: "10.0.0.2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
	})

	t.Run("authenticated source keyed by owner", func(t *testing.T) {
		got, err := l.Remaining(ctx, Source{IP: "10.0.0.2", UserID: "alice"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 150*bytesPerMB {
			t.Errorf("expected %d, got %d", 150*bytesPerMB, got)
		}
	})

	t.Run("unknown source has full quota", func(t *testing.T) {
		got, err := l.Remaining(ctx, Source{IP: "192.168.1.1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 20*bytesPerMB {
			t.Errorf("expected full quota, got %d", got)
		}
	})
}

func TestLedger_UsageError(t *testing.T) {
	boom := errors.New("db down")
	l := NewLedger(&fakeUsage{err: boom}, testSettings)

	if _, err := l.Remaining(context.Background(), Source{IP: "1.2.3.4"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped db error, got %v", err)
	}
}
