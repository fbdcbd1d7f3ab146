package documents

import (
	"context"
	"errors"
	"fmt"

	"ledger-backend/internal/ledger"
	"ledger-backend/internal/shared/storage/object"
	"ledger-backend/internal/shared/util"
)

// AuditOutcome classifies a ledger event checked against current storage.
type AuditOutcome string

const (
	AuditOK          AuditOutcome = "ok"
	AuditSuperseded  AuditOutcome = "superseded"
	AuditUnknown     AuditOutcome = "unknown_event"
	AuditMissing     AuditOutcome = "missing"
	AuditMismatch    AuditOutcome = "mismatch"
	AuditResurrected AuditOutcome = "resurrected"
)

// Anomaly reports whether the outcome needs an operator.
func (o AuditOutcome) Anomaly() bool {
	switch o {
	case AuditOK, AuditSuperseded:
		return false
	default:
		return true
	}
}

// AuditEvent checks one published ledger event: the event must exist in the
// ledger, an upload that is still live must hash to the recorded digest, and
// a deleted document must be absent from storage.
func (s *Service) AuditEvent(ctx context.Context, savedAs string, status ledger.Status, hash string) (AuditOutcome, error) {
	if !util.ValidStorageKey(savedAs) {
		return "", fmt.Errorf("%w: invalid file name", ErrInvalidInput)
	}
	history, err := s.Ledger.History(ctx, savedAs)
	if err != nil {
		return "", fmt.Errorf("%w: read ledger: %w", ErrStorage, err)
	}
	if !containsEvent(history, status, hash) {
		return AuditUnknown, nil
	}
	latest := ledger.LastStatus(history)

	switch status {
	case ledger.StatusUploaded:
		if latest != ledger.StatusUploaded {
			return AuditSuperseded, nil
		}
		rc, err := s.Store.Open(ctx, savedAs)
		if err != nil {
			if errors.Is(err, object.ErrNotFound) {
				return AuditMissing, nil
			}
			return "", fmt.Errorf("%w: open file: %w", ErrStorage, err)
		}
		defer rc.Close()
		actual, _, err := util.DigestReader(rc)
		if err != nil {
			return "", fmt.Errorf("%w: hash file: %w", ErrStorage, err)
		}
		if actual != hash {
			return AuditMismatch, nil
		}
		return AuditOK, nil
	case ledger.StatusDeleted:
		exists, err := s.Store.Exists(ctx, savedAs)
		if err != nil {
			return "", fmt.Errorf("%w: stat file: %w", ErrStorage, err)
		}
		if exists {
			return AuditResurrected, nil
		}
		return AuditOK, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
}

func containsEvent(history []ledger.Entry, status ledger.Status, hash string) bool {
	for _, e := range history {
		if e.Status() == status && e.Base().Hash == hash {
			return true
		}
	}
	return false
}
