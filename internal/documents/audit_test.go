package documents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ledger-backend/internal/ledger"
)

func TestAuditEventOutcomes(t *testing.T) {
	captureLogs(t)
	svc, store := newTestService(t)
	ctx := context.Background()

	live, err := svc.Upload(ctx, UploadInput{FileName: "a.pdf", Content: strings.NewReader("live")})
	if err != nil {
		t.Fatalf("upload live: %v", err)
	}
	gone, err := svc.Upload(ctx, UploadInput{FileName: "b.pdf", Content: strings.NewReader("gone")})
	if err != nil {
		t.Fatalf("upload gone: %v", err)
	}
	receipt, err := svc.Delete(ctx, gone.SavedAs)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	tests := []struct {
		name    string
		prepare func(t *testing.T)
		savedAs string
		status  ledger.Status
		hash    string
		want    AuditOutcome
	}{
		{name: "live upload intact", savedAs: live.SavedAs, status: ledger.StatusUploaded, hash: live.Hash, want: AuditOK},
		{name: "upload later deleted", savedAs: gone.SavedAs, status: ledger.StatusUploaded, hash: gone.Hash, want: AuditSuperseded},
		{name: "delete confirmed", savedAs: gone.SavedAs, status: ledger.StatusDeleted, hash: receipt.Hash, want: AuditOK},
		{name: "event not in ledger", savedAs: live.SavedAs, status: ledger.StatusUploaded, hash: strings.Repeat("0", 64), want: AuditUnknown},
		{
			name: "file reappeared after delete",
			prepare: func(t *testing.T) {
				if err := os.WriteFile(filepath.Join(store.Dir(), gone.SavedAs), []byte("back"), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			},
			savedAs: gone.SavedAs, status: ledger.StatusDeleted, hash: receipt.Hash, want: AuditResurrected,
		},
		{
			name: "live file altered",
			prepare: func(t *testing.T) {
				if err := os.WriteFile(filepath.Join(store.Dir(), live.SavedAs), []byte("edited"), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			},
			savedAs: live.SavedAs, status: ledger.StatusUploaded, hash: live.Hash, want: AuditMismatch,
		},
		{
			name: "live file missing",
			prepare: func(t *testing.T) {
				if err := os.Remove(filepath.Join(store.Dir(), live.SavedAs)); err != nil {
					t.Fatalf("remove: %v", err)
				}
			},
			savedAs: live.SavedAs, status: ledger.StatusUploaded, hash: live.Hash, want: AuditMissing,
		},
	}

	// Cases mutate shared storage, so they run in order.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepare != nil {
				tt.prepare(t)
			}
			got, err := svc.AuditEvent(ctx, tt.savedAs, tt.status, tt.hash)
			if err != nil {
				t.Fatalf("audit: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			wantAnomaly := tt.want != AuditOK && tt.want != AuditSuperseded
			if got.Anomaly() != wantAnomaly {
				t.Fatalf("Anomaly() = %v for %s", got.Anomaly(), got)
			}
		})
	}
}

func TestAuditEventRejectsInvalidName(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AuditEvent(context.Background(), "a/b", ledger.StatusUploaded, "ff")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
