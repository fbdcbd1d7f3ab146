package documents_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ledger-backend/internal/bootstrap"
	"ledger-backend/internal/documents"
	"ledger-backend/internal/ledger"
	"ledger-backend/internal/shared/config"
	"ledger-backend/internal/shared/telemetry"
)

var savedAsPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}_report\.pdf$`)

type testApp struct {
	router     *gin.Engine
	uploadsDir string
}

func newTestApp(t *testing.T, mutate func(*config.Config)) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)

	dir := t.TempDir()
	cfg := config.Config{
		Port:            "0",
		Env:             "dev",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		PublicBaseURL:   "http://localhost:5000",
		ObjectStoreType: "local",
		UploadsDir:      filepath.Join(dir, "uploads"),
		LedgerBackend:   "file",
		LedgerPath:      filepath.Join(dir, "ledger.json"),
		MaxUploadBytes:  1 << 20,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return testApp{router: app.Router, uploadsDir: cfg.UploadsDir}
}

type uploadForm struct {
	field    string
	fileName string
	content  []byte
	fields   map[string]string
}

func (a testApp) upload(t *testing.T, form uploadForm) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range form.fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if form.fileName != "" {
		field := form.field
		if field == "" {
			field = "document"
		}
		fileWriter, err := writer.CreateFormFile(field, form.fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fileWriter.Write(form.content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	a.router.ServeHTTP(resp, req)
	return resp
}

func (a testApp) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	resp := httptest.NewRecorder()
	a.router.ServeHTTP(resp, req)
	return resp
}

func (a testApp) ledger(t *testing.T) []ledger.Record {
	t.Helper()
	resp := a.do(http.MethodGet, "/ledger")
	if resp.Code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d", resp.Code)
	}
	var records []ledger.Record
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	return records
}

func decodeEntry(t *testing.T, resp *httptest.ResponseRecorder) documents.EntryResponse {
	t.Helper()
	var out documents.EntryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode entry response: %v", err)
	}
	return out
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", resp.Body.String(), err)
	}
	return body.Error.Code
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestUploadRecordsEntryAndServesFile(t *testing.T) {
	app := newTestApp(t, nil)
	content := []byte("%PDF-1.4 fake report")

	resp := app.upload(t, uploadForm{
		fileName: "report.pdf",
		content:  content,
		fields: map[string]string{
			"name":   "Blood test",
			"type":   "lab",
			"date":   "2025-03-14",
			"notes":  "fasting",
			"doctor": "Dr. Rao",
			"link":   "https://clinic.example/visit/1",
		},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	got := decodeEntry(t, resp)
	if got.Message != "Document uploaded and recorded." {
		t.Fatalf("unexpected message %q", got.Message)
	}
	if !savedAsPattern.MatchString(got.SavedAs) {
		t.Fatalf("unexpected savedAs %q", got.SavedAs)
	}
	if got.Hash != sha256Hex(content) {
		t.Fatalf("hash mismatch: got %s", got.Hash)
	}
	if got.Status != ledger.StatusUploaded {
		t.Fatalf("unexpected status %q", got.Status)
	}
	if got.FileURL != "http://localhost:5000/files/"+got.SavedAs {
		t.Fatalf("unexpected fileUrl %q", got.FileURL)
	}
	if got.OriginalFileName != "report.pdf" {
		t.Fatalf("unexpected originalFileName %q", got.OriginalFileName)
	}
	if got.Name != "Blood test" || got.Type != "lab" || got.Date != "2025-03-14" ||
		got.Notes != "fasting" || got.Doctor != "Dr. Rao" || got.Link != "https://clinic.example/visit/1" {
		t.Fatalf("descriptive fields not stored verbatim: %+v", got.Record)
	}
	if _, err := time.Parse(ledger.TimestampLayout, got.Timestamp); err != nil {
		t.Fatalf("timestamp %q: %v", got.Timestamp, err)
	}

	onDisk, err := os.ReadFile(filepath.Join(app.uploadsDir, got.SavedAs))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(onDisk, content) {
		t.Fatalf("stored bytes differ")
	}

	served := app.do(http.MethodGet, "/files/"+got.SavedAs)
	if served.Code != http.StatusOK {
		t.Fatalf("serve: expected 200, got %d", served.Code)
	}
	if !bytes.Equal(served.Body.Bytes(), content) {
		t.Fatalf("served bytes differ")
	}
	if ct := served.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}

	records := app.ledger(t)
	if len(records) != 1 || records[0] != got.Record {
		t.Fatalf("ledger does not hold the returned entry: %+v", records)
	}
}

func TestLookupByStorageOrOriginalName(t *testing.T) {
	app := newTestApp(t, nil)
	created := decodeEntry(t, app.upload(t, uploadForm{fileName: "report.pdf", content: []byte("abc")}))

	for _, name := range []string{created.SavedAs, "report.pdf"} {
		resp := app.do(http.MethodGet, "/file/"+name)
		if resp.Code != http.StatusOK {
			t.Fatalf("lookup %s: expected 200, got %d", name, resp.Code)
		}
		var body documents.LookupResponse
		if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode lookup: %v", err)
		}
		if body.FileURL != created.FileURL {
			t.Fatalf("lookup %s: got %q want %q", name, body.FileURL, created.FileURL)
		}
	}

	resp := app.do(http.MethodGet, "/file/unknown.pdf")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "not_found" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestDeleteTwiceSecondIsNotFound(t *testing.T) {
	app := newTestApp(t, nil)
	content := []byte("delete me")
	created := decodeEntry(t, app.upload(t, uploadForm{fileName: "report.pdf", content: content}))

	first := app.do(http.MethodDelete, "/delete/"+created.SavedAs)
	if first.Code != http.StatusOK {
		t.Fatalf("first delete: expected 200, got %d: %s", first.Code, first.Body.String())
	}
	deleted := decodeEntry(t, first)
	if deleted.Message != "File deleted and recorded." {
		t.Fatalf("unexpected message %q", deleted.Message)
	}
	if deleted.Status != ledger.StatusDeleted || deleted.SavedAs != created.SavedAs {
		t.Fatalf("unexpected deleted entry %+v", deleted.Record)
	}
	if deleted.Hash != sha256Hex(content) {
		t.Fatalf("delete receipt hash mismatch")
	}
	if deleted.FileURL != "" || deleted.Name != "" {
		t.Fatalf("deleted entry carries upload-only fields: %+v", deleted.Record)
	}
	if _, err := os.Stat(filepath.Join(app.uploadsDir, created.SavedAs)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}

	second := app.do(http.MethodDelete, "/delete/"+created.SavedAs)
	if second.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", second.Code)
	}

	records := app.ledger(t)
	if len(records) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(records))
	}
	if records[0].Status != ledger.StatusUploaded || records[1].Status != ledger.StatusDeleted {
		t.Fatalf("unexpected ledger order %+v", records)
	}

	// The ledger is historical; lookups still resolve after deletion.
	if resp := app.do(http.MethodGet, "/file/report.pdf"); resp.Code != http.StatusOK {
		t.Fatalf("lookup after delete: expected 200, got %d", resp.Code)
	}
	if resp := app.do(http.MethodGet, "/files/"+created.SavedAs); resp.Code != http.StatusNotFound {
		t.Fatalf("serve after delete: expected 404, got %d", resp.Code)
	}
}

func TestDeleteUnknownLeavesLedgerUnchanged(t *testing.T) {
	app := newTestApp(t, nil)
	app.upload(t, uploadForm{fileName: "report.pdf", content: []byte("keep")})
	before := app.ledger(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "unknown name", path: "/delete/nonexistent.pdf", want: http.StatusNotFound},
		{name: "path separator", path: "/delete/a%5Cb.pdf", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := app.do(http.MethodDelete, tt.path)
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.Code)
			}
		})
	}

	after := app.ledger(t)
	if len(after) != len(before) {
		t.Fatalf("ledger changed: before %d after %d", len(before), len(after))
	}
}

func TestDeleteFileWithoutLedgerEntryIsNotFound(t *testing.T) {
	app := newTestApp(t, nil)
	stray := filepath.Join(app.uploadsDir, "stray.pdf")
	if err := os.WriteFile(stray, []byte("stray"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	resp := app.do(http.MethodDelete, "/delete/stray.pdf")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("stray file should be kept: %v", err)
	}
	if records := app.ledger(t); len(records) != 0 {
		t.Fatalf("expected empty ledger, got %d", len(records))
	}
}

func TestUploadValidation(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) { cfg.MaxUploadBytes = 16 })

	tests := []struct {
		name     string
		form     uploadForm
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing file",
			form:     uploadForm{fields: map[string]string{"name": "x"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation_error",
		},
		{
			name:     "empty file",
			form:     uploadForm{fileName: "empty.pdf", content: []byte{}},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation_error",
		},
		{
			name:     "bad date",
			form:     uploadForm{fileName: "a.pdf", content: []byte("x"), fields: map[string]string{"date": "14/03/2025"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation_error",
		},
		{
			name:     "too large",
			form:     uploadForm{fileName: "big.pdf", content: bytes.Repeat([]byte("x"), 64)},
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "payload_too_large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := app.upload(t, tt.form)
			if resp.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, resp.Code, resp.Body.String())
			}
			if code := errorCode(t, resp); code != tt.wantErr {
				t.Fatalf("expected code %s, got %s", tt.wantErr, code)
			}
		})
	}

	if records := app.ledger(t); len(records) != 0 {
		t.Fatalf("rejected uploads must not be recorded, got %d", len(records))
	}
	entries, err := os.ReadDir(app.uploadsDir)
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected uploads must not be stored, got %d files", len(entries))
	}
}

func TestUploadAcceptsFileFieldFallback(t *testing.T) {
	app := newTestApp(t, nil)
	resp := app.upload(t, uploadForm{field: "file", fileName: "report.pdf", content: []byte("x")})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestSequentialUploadsAppendInOrder(t *testing.T) {
	app := newTestApp(t, nil)
	const n = 5

	var savedAs []string
	for i := 0; i < n; i++ {
		resp := app.upload(t, uploadForm{fileName: "report.pdf", content: []byte(fmt.Sprintf("doc-%d", i))})
		if resp.Code != http.StatusOK {
			t.Fatalf("upload %d: expected 200, got %d", i, resp.Code)
		}
		savedAs = append(savedAs, decodeEntry(t, resp).SavedAs)
	}

	records := app.ledger(t)
	if len(records) != n {
		t.Fatalf("expected %d entries, got %d", n, len(records))
	}
	for i, rec := range records {
		if rec.SavedAs != savedAs[i] {
			t.Fatalf("entry %d: got %s want %s", i, rec.SavedAs, savedAs[i])
		}
	}
}

func TestConcurrentUploadsAreAllRecorded(t *testing.T) {
	app := newTestApp(t, nil)
	const n = 20

	var wg sync.WaitGroup
	codes := make([]int, n)
	names := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := app.upload(t, uploadForm{fileName: "report.pdf", content: []byte(fmt.Sprintf("concurrent-%d", i))})
			codes[i] = resp.Code
			if resp.Code == http.StatusOK {
				var out documents.EntryResponse
				if err := json.Unmarshal(resp.Body.Bytes(), &out); err == nil {
					names[i] = out.SavedAs
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		if codes[i] != http.StatusOK {
			t.Fatalf("upload %d: expected 200, got %d", i, codes[i])
		}
		if seen[names[i]] {
			t.Fatalf("duplicate savedAs %s", names[i])
		}
		seen[names[i]] = true
	}

	records := app.ledger(t)
	if len(records) != n {
		t.Fatalf("expected %d entries, got %d", n, len(records))
	}
	for _, rec := range records {
		if !seen[rec.SavedAs] {
			t.Fatalf("unexpected ledger entry %s", rec.SavedAs)
		}
	}
}

func TestVerifyReportsMissingAndTamperedFiles(t *testing.T) {
	app := newTestApp(t, nil)
	app.upload(t, uploadForm{fileName: "a.pdf", content: []byte("intact")})
	tampered := decodeEntry(t, app.upload(t, uploadForm{fileName: "b.pdf", content: []byte("original")}))
	missing := decodeEntry(t, app.upload(t, uploadForm{fileName: "c.pdf", content: []byte("gone")}))
	removed := decodeEntry(t, app.upload(t, uploadForm{fileName: "d.pdf", content: []byte("deleted")}))

	if err := os.WriteFile(filepath.Join(app.uploadsDir, tampered.SavedAs), []byte("edited"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := os.Remove(filepath.Join(app.uploadsDir, missing.SavedAs)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if resp := app.do(http.MethodDelete, "/delete/"+removed.SavedAs); resp.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.Code)
	}

	resp := app.do(http.MethodGet, "/ledger/verify")
	if resp.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.Code)
	}
	var report documents.VerifyReport
	if err := json.Unmarshal(resp.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}

	if report.Checked != 3 {
		t.Fatalf("expected 3 live documents checked, got %d", report.Checked)
	}
	if len(report.Missing) != 1 || report.Missing[0] != missing.SavedAs {
		t.Fatalf("unexpected missing %v", report.Missing)
	}
	if len(report.Mismatched) != 1 || report.Mismatched[0].SavedAs != tampered.SavedAs {
		t.Fatalf("unexpected mismatched %+v", report.Mismatched)
	}
	if report.Mismatched[0].Actual != sha256Hex([]byte("edited")) {
		t.Fatalf("unexpected actual digest")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, nil)

	resp := app.do(http.MethodGet, "/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = app.do(http.MethodGet, "/metrics")
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("ledger_uploads_total")) {
		t.Fatalf("metrics missing upload counter")
	}
}
