package util

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidFileName is returned when nothing usable remains after sanitizing.
var ErrInvalidFileName = errors.New("invalid file name")

var unsafeFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SanitizeFileName reduces a client-supplied name to its base name and replaces
// every character outside [A-Za-z0-9.-] with an underscore. The result never
// contains a path separator and is never "." or "..".
func SanitizeFileName(name string) (string, error) {
	s := name
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	s = unsafeFileNameChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "", ErrInvalidFileName
	}
	return s, nil
}

// ValidStorageKey reports whether key can be used as a flat storage name.
func ValidStorageKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}
