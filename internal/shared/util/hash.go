package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// DigestBytes returns the lowercase hex SHA-256 digest of b.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestReader consumes r and returns its lowercase hex SHA-256 digest and size.
func DigestReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
