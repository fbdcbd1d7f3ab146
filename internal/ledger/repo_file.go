package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"ledger-backend/internal/shared/telemetry"
)

// FileRepo keeps the ledger as a single JSON array on disk. Every
// read-modify-write runs under a process mutex and an advisory file lock, and
// the new array replaces the old one by atomic rename.
type FileRepo struct {
	path     string
	lockPath string
	mu       sync.RWMutex
	now      func() time.Time
}

// NewFileRepo constructs a FileRepo for the ledger at path.
func NewFileRepo(path string) *FileRepo {
	return &FileRepo{
		path:     path,
		lockPath: path + ".lock",
		now:      time.Now,
	}
}

// Path returns the ledger file location.
func (r *FileRepo) Path() string { return r.path }

// Init creates the ledger as "[]" when it is missing, blank or unparseable.
func (r *FileRepo) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %w", ErrIO, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	lock, err := acquireLock(r.lockPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer releaseLock(lock)

	records, ok, err := r.loadForWrite()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return r.writeAtomic(records)
}

// Append adds e to the end of the ledger. A corrupt ledger is set aside and
// replaced rather than failing the write.
func (r *FileRepo) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(e); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	lock, err := acquireLock(r.lockPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer releaseLock(lock)

	records, _, err := r.loadForWrite()
	if err != nil {
		return err
	}
	records = append(records, ToRecord(e))
	return r.writeAtomic(records)
}

// FindByName resolves name against savedAs, then originalFileName.
func (r *FileRepo) FindByName(ctx context.Context, name string) (Entry, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return findByName(entries, name)
}

// History returns the entries recorded for savedAs.
func (r *FileRepo) History(ctx context.Context, savedAs string) ([]Entry, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return historyOf(entries, savedAs), nil
}

// List decodes the whole ledger. Records that fail validation are skipped.
func (r *FileRepo) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("%w: read ledger: %w", ErrIO, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Entry{}, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parse ledger: %w", ErrIO, err)
	}
	return decodeRecords(records, r.path), nil
}

// loadForWrite reads the raw records. ok is false when the ledger was missing,
// blank or corrupt, in which case records is empty. Caller holds both locks.
func (r *FileRepo) loadForWrite() ([]Record, bool, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, false, nil
		}
		return nil, false, fmt.Errorf("%w: read ledger: %w", ErrIO, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, false, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		backup := r.path + ".corrupt-" + strconv.FormatInt(r.now().Unix(), 10)
		fields := map[string]any{
			"path":   r.path,
			"backup": backup,
			"bytes":  len(data),
			"err":    err.Error(),
		}
		if werr := os.WriteFile(backup, data, 0o600); werr != nil {
			fields["backup_err"] = werr.Error()
		}
		telemetry.Warn("ledger.corrupt_reset", fields)
		return []Record{}, false, nil
	}
	if records == nil {
		records = []Record{}
	}
	return records, true, nil
}

func (r *FileRepo) writeAtomic(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode ledger: %w", ErrIO, err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write ledger: %w", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync ledger: %w", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close ledger: %w", ErrIO, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: replace ledger: %w", ErrIO, err)
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func decodeRecords(records []Record, source string) []Entry {
	entries := make([]Entry, 0, len(records))
	for i, rec := range records {
		e, err := rec.Entry()
		if err != nil {
			telemetry.Warn("ledger.record_skipped", map[string]any{
				"source": source,
				"index":  i,
				"err":    err.Error(),
			})
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

var _ Repo = (*FileRepo)(nil)
