package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriteEmitsJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Warn("ledger.corrupt", map[string]any{
		"path":  "ledger.json",
		"bytes": 12,
	})

	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode log json %q: %v", line, err)
	}
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if payload["msg"] != "ledger.corrupt" {
		t.Fatalf("unexpected msg: %v", payload["msg"])
	}
	if payload["path"] != "ledger.json" {
		t.Fatalf("unexpected path: %v", payload["path"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("missing ts field")
	}
}
