package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileURL(t *testing.T) {
	tests := []struct {
		base string
		key  string
		want string
	}{
		{base: "http://localhost:5000", key: "abc_report.pdf", want: "http://localhost:5000/files/abc_report.pdf"},
		{base: "http://localhost:5000/", key: "abc_report.pdf", want: "http://localhost:5000/files/abc_report.pdf"},
		{base: "", key: "abc_a_b.pdf", want: "/files/abc_a_b.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileURL(tt.base, tt.key), "base %q", tt.base)
	}
}
