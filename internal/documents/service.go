package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ledger-backend/internal/ledger"
	"ledger-backend/internal/queue"
	"ledger-backend/internal/shared/metrics"
	"ledger-backend/internal/shared/storage/object"
	"ledger-backend/internal/shared/telemetry"
	"ledger-backend/internal/shared/util"
)

const dateLayout = "2006-01-02"

// Service records document uploads and deletions in the ledger.
type Service struct {
	Store  object.ObjectStore
	Ledger ledger.Repo
	// Events is optional.
	Events queue.Client
	Now    func() time.Time

	locks keyedMutex
}

// UploadInput carries an uploaded file and its descriptive fields. The
// descriptive fields are stored verbatim.
type UploadInput struct {
	FileName string
	Content  io.Reader
	Name     string
	Type     string
	Date     string
	Notes    string
	Doctor   string
	Link     string
}

// Upload stores the file, then appends an uploaded entry describing it.
func (s *Service) Upload(ctx context.Context, in UploadInput) (ledger.UploadedEntry, error) {
	if in.Content == nil || strings.TrimSpace(in.FileName) == "" {
		return ledger.UploadedEntry{}, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if in.Date != "" {
		if _, err := time.Parse(dateLayout, in.Date); err != nil {
			return ledger.UploadedEntry{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
		}
	}

	start := time.Now()
	obj, err := s.Store.Save(ctx, in.FileName, in.Content)
	if err != nil {
		metrics.IncUploadsFailed()
		switch {
		case errors.Is(err, object.ErrEmptyContent):
			return ledger.UploadedEntry{}, fmt.Errorf("%w: file is empty", ErrInvalidInput)
		case errors.Is(err, util.ErrInvalidFileName):
			return ledger.UploadedEntry{}, fmt.Errorf("%w: invalid file name", ErrInvalidInput)
		default:
			return ledger.UploadedEntry{}, fmt.Errorf("%w: save file: %w", ErrStorage, err)
		}
	}

	entry := ledger.UploadedEntry{
		Event: ledger.Event{
			SavedAs:   obj.Key,
			Hash:      obj.Digest,
			Timestamp: s.now(),
		},
		Name:             in.Name,
		Type:             in.Type,
		Date:             in.Date,
		Notes:            in.Notes,
		Doctor:           in.Doctor,
		Link:             in.Link,
		FileURL:          s.Store.URL(obj.Key),
		OriginalFileName: obj.OriginalFileName,
	}

	// The file is stored; a cancelled request must not skip the ledger entry.
	ctx = context.WithoutCancel(ctx)
	if err := s.Ledger.Append(ctx, entry); err != nil {
		metrics.IncUploadsFailed()
		s.inconsistency(ctx, "upload", entry.Event, err)
		return ledger.UploadedEntry{}, fmt.Errorf("%w: append ledger: %w", ErrStorage, err)
	}

	metrics.IncUploads()
	metrics.ObserveUploadDurationMs(metrics.SinceMillis(start))
	telemetry.Info("document.uploaded", map[string]any{
		"saved_as":   entry.SavedAs,
		"hash":       entry.Hash,
		"size_bytes": obj.SizeBytes,
		"mime_type":  obj.MimeType,
		"request_id": requestIDFrom(ctx),
	})
	s.publish(ctx, entry)
	return entry, nil
}

// Delete removes a stored document that the ledger shows as uploaded and
// appends a deleted entry carrying the digest of the removed bytes.
func (s *Service) Delete(ctx context.Context, savedAs string) (ledger.DeletedEntry, error) {
	if !util.ValidStorageKey(savedAs) {
		return ledger.DeletedEntry{}, fmt.Errorf("%w: invalid file name", ErrInvalidInput)
	}

	unlock := s.locks.Lock(savedAs)
	defer unlock()

	exists, err := s.Store.Exists(ctx, savedAs)
	if err != nil {
		metrics.IncDeletesFailed()
		return ledger.DeletedEntry{}, fmt.Errorf("%w: stat file: %w", ErrStorage, err)
	}
	if !exists {
		return ledger.DeletedEntry{}, fmt.Errorf("%w: file %s", ErrNotFound, savedAs)
	}

	history, err := s.Ledger.History(ctx, savedAs)
	if err != nil {
		metrics.IncDeletesFailed()
		return ledger.DeletedEntry{}, fmt.Errorf("%w: read ledger: %w", ErrStorage, err)
	}
	if ledger.LastStatus(history) != ledger.StatusUploaded {
		return ledger.DeletedEntry{}, fmt.Errorf("%w: no live upload recorded for %s", ErrNotFound, savedAs)
	}

	digest, err := s.Store.Remove(ctx, savedAs)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return ledger.DeletedEntry{}, fmt.Errorf("%w: file %s", ErrNotFound, savedAs)
		}
		metrics.IncDeletesFailed()
		return ledger.DeletedEntry{}, fmt.Errorf("%w: remove file: %w", ErrStorage, err)
	}

	entry := ledger.DeletedEntry{Event: ledger.Event{
		SavedAs:   savedAs,
		Hash:      digest,
		Timestamp: s.now(),
	}}

	ctx = context.WithoutCancel(ctx)
	if err := s.Ledger.Append(ctx, entry); err != nil {
		metrics.IncDeletesFailed()
		s.inconsistency(ctx, "delete", entry.Event, err)
		return ledger.DeletedEntry{}, fmt.Errorf("%w: append ledger: %w", ErrStorage, err)
	}

	metrics.IncDeletes()
	telemetry.Info("document.deleted", map[string]any{
		"saved_as":   entry.SavedAs,
		"hash":       entry.Hash,
		"request_id": requestIDFrom(ctx),
	})
	s.publish(ctx, entry)
	return entry, nil
}

// Lookup resolves a storage name or original file name to its file URL.
// Deleted documents still resolve; the ledger is a historical record.
func (s *Service) Lookup(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	e, err := s.Ledger.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("%w: read ledger: %w", ErrStorage, err)
	}
	up, ok := e.(ledger.UploadedEntry)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return up.FileURL, nil
}

// History returns the whole ledger in insertion order.
func (s *Service) History(ctx context.Context) ([]ledger.Entry, error) {
	entries, err := s.Ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger: %w", ErrStorage, err)
	}
	return entries, nil
}

// Open returns the stored bytes of savedAs.
func (s *Service) Open(ctx context.Context, savedAs string) (io.ReadCloser, error) {
	if !util.ValidStorageKey(savedAs) {
		return nil, fmt.Errorf("%w: invalid file name", ErrInvalidInput)
	}
	rc, err := s.Store.Open(ctx, savedAs)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, fmt.Errorf("%w: file %s", ErrNotFound, savedAs)
		}
		return nil, fmt.Errorf("%w: open file: %w", ErrStorage, err)
	}
	return rc, nil
}

func (s *Service) inconsistency(ctx context.Context, op string, ev ledger.Event, err error) {
	metrics.IncLedgerAppendFailed()
	telemetry.Error("ledger.inconsistency", map[string]any{
		"op":         op,
		"saved_as":   ev.SavedAs,
		"hash":       ev.Hash,
		"request_id": requestIDFrom(ctx),
		"err":        err.Error(),
	})
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
