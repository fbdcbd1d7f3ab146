package object

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

var (
	// ErrNotFound indicates no object exists under the given key.
	ErrNotFound = errors.New("object: not found")

	// ErrEmptyContent indicates an attempt to store zero bytes.
	ErrEmptyContent = errors.New("object: content is empty")

	// ErrInvalidKey indicates a key that cannot name a flat stored object.
	ErrInvalidKey = errors.New("object: invalid storage key")

	// ErrIO indicates the backend failed to read or write.
	ErrIO = errors.New("object: I/O failure")
)

// Object describes a stored file.
type Object struct {
	Key              string
	OriginalFileName string
	Digest           string
	SizeBytes        int64
	MimeType         string
}

// ObjectStore defines the contract for saving, removing and serving uploaded files.
type ObjectStore interface {
	// Save persists r under a fresh collision-free key derived from fileName.
	Save(ctx context.Context, fileName string, r io.Reader) (Object, error)
	// Remove hashes the stored content and then deletes it, returning the digest.
	Remove(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// URL returns where clients can fetch the object.
	URL(key string) string
}

// FileURL joins the public base URL with the static files route.
func FileURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/files/" + url.PathEscape(key)
}
