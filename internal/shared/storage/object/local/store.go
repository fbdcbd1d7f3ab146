package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"ledger-backend/internal/shared/storage/object"
	"ledger-backend/internal/shared/util"
)

// Store implements ObjectStore using a flat directory on the local filesystem.
type Store struct {
	baseDir string
	baseURL string
	mu      sync.RWMutex
	newID   func() string
}

// New creates a local object store rooted at baseDir. The directory is created
// if it does not exist.
func New(baseDir, baseURL string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local store: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir: %w", object.ErrIO, err)
	}
	return &Store{baseDir: baseDir, baseURL: baseURL, newID: uuid.NewString}, nil
}

// OpenDir returns a store over an existing baseDir without creating it. A
// missing directory behaves as an empty store.
func OpenDir(baseDir, baseURL string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local store: base directory is required")
	}
	return &Store{baseDir: baseDir, baseURL: baseURL, newID: uuid.NewString}, nil
}

// Dir returns the directory holding stored files.
func (s *Store) Dir() string { return s.baseDir }

// Save writes r to disk as <uuid>_<sanitized name>, hashing it on the way.
func (s *Store) Save(ctx context.Context, fileName string, r io.Reader) (object.Object, error) {
	sanitizedName, err := util.SanitizeFileName(fileName)
	if err != nil {
		return object.Object{}, fmt.Errorf("sanitize file name: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return object.Object{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	finalName := fmt.Sprintf("%s_%s", s.newID(), sanitizedName)
	fullPath := filepath.Join(s.baseDir, finalName)

	// O_EXCL: a name that already exists is never overwritten.
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return object.Object{}, fmt.Errorf("%w: open file: %w", object.ErrIO, err)
	}

	obj, err := writeHashed(f, r)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: close file: %w", object.ErrIO, cerr)
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return object.Object{}, err
	}

	obj.Key = finalName
	obj.OriginalFileName = sanitizedName
	return obj, nil
}

func writeHashed(f *os.File, r io.Reader) (object.Object, error) {
	var sniff [512]byte
	n, readErr := io.ReadFull(r, sniff[:])
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		return object.Object{}, fmt.Errorf("%w: read sniff: %w", object.ErrIO, readErr)
	}
	if n == 0 {
		return object.Object{}, object.ErrEmptyContent
	}
	mimeType := http.DetectContentType(sniff[:n])

	h := sha256.New()
	w := io.MultiWriter(f, h)
	if _, err := w.Write(sniff[:n]); err != nil {
		return object.Object{}, fmt.Errorf("%w: write sniff: %w", object.ErrIO, err)
	}
	written, err := io.Copy(w, r)
	if err != nil {
		return object.Object{}, fmt.Errorf("%w: write body: %w", object.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return object.Object{}, fmt.Errorf("%w: sync: %w", object.ErrIO, err)
	}

	return object.Object{
		Digest:    hex.EncodeToString(h.Sum(nil)),
		SizeBytes: int64(n) + written,
		MimeType:  mimeType,
	}, nil
}

// Remove reads back the stored content, hashes it and deletes the file.
func (s *Store) Remove(ctx context.Context, key string) (string, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", object.ErrNotFound
		}
		return "", fmt.Errorf("%w: open file: %w", object.ErrIO, err)
	}
	digest, _, err := util.DigestReader(f)
	_ = f.Close()
	if err != nil {
		return "", fmt.Errorf("%w: %w", object.ErrIO, err)
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", object.ErrNotFound
		}
		return "", fmt.Errorf("%w: remove file: %w", object.ErrIO, err)
	}
	return digest, nil
}

// Exists reports whether a regular file is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat: %w", object.ErrIO, err)
	}
	return info.Mode().IsRegular(), nil
}

// Open opens a stored object for reading.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("%w: open file: %w", object.ErrIO, err)
	}
	return f, nil
}

// URL returns the public locator of key.
func (s *Store) URL(key string) string {
	return object.FileURL(s.baseURL, key)
}

func (s *Store) path(key string) (string, error) {
	if !util.ValidStorageKey(key) {
		return "", object.ErrInvalidKey
	}
	return filepath.Join(s.baseDir, key), nil
}

var _ object.ObjectStore = (*Store)(nil)
