package documents

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ledger-backend/internal/shared/server/middleware"
	"ledger-backend/internal/shared/server/respond"
	"ledger-backend/internal/shared/telemetry"
)

const (
	defaultMaxUploadSize = 10 << 20 // 10MB
	// multipart framing and text fields on top of the file itself
	formOverhead = 1 << 20
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc            *Service
	MaxUploadBytes int64
}

// NewHandler constructs a Handler. maxUploadBytes <= 0 uses 10MB.
func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadSize
	}
	return &Handler{Svc: svc, MaxUploadBytes: maxUploadBytes}
}

// RegisterRoutes attaches the ledger routes. mutate runs before the handlers
// that change state.
func (h *Handler) RegisterRoutes(r gin.IRoutes, mutate ...gin.HandlerFunc) {
	r.POST("/upload", append(mutate, h.upload)...)
	r.DELETE("/delete/:filename", append(mutate, h.delete)...)
	r.GET("/file/:filename", h.lookup)
	r.GET("/files/:filename", h.serve)
	r.GET("/ledger", h.history)
	r.GET("/ledger/verify", h.verify)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+formOverhead)

	fileHeader, err := formFile(c, "document", "file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds "+strconv.FormatInt(h.MaxUploadBytes, 10)+" bytes", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "No file uploaded.", nil)
		return
	}
	if fileHeader.Size > h.MaxUploadBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds "+strconv.FormatInt(h.MaxUploadBytes, 10)+" bytes", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	entry, err := h.Svc.Upload(ctx, UploadInput{
		FileName: fileHeader.Filename,
		Content:  file,
		Name:     c.PostForm("name"),
		Type:     c.PostForm("type"),
		Date:     c.PostForm("date"),
		Notes:    c.PostForm("notes"),
		Doctor:   c.PostForm("doctor"),
		Link:     c.PostForm("link"),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Upload failed.", nil)
		}
		return
	}

	c.Set("savedAs", entry.SavedAs)
	respond.OK(c, toEntryResponse(uploadedMessage, entry))
}

func (h *Handler) delete(c *gin.Context) {
	name := c.Param("filename")
	c.Set("savedAs", name)

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	entry, err := h.Svc.Delete(ctx, name)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "File not found.", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Deletion failed.", nil)
		}
		return
	}

	respond.OK(c, toEntryResponse(deletedMessage, entry))
}

func (h *Handler) lookup(c *gin.Context) {
	fileURL, err := h.Svc.Lookup(c.Request.Context(), c.Param("filename"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "File not found in ledger.", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Lookup failed.", nil)
		}
		return
	}

	respond.OK(c, LookupResponse{FileURL: fileURL})
}

func (h *Handler) serve(c *gin.Context) {
	name := c.Param("filename")
	rc, err := h.Svc.Open(c.Request.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "File not found.", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read file", nil)
		}
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		telemetry.Error("file.serve_failed", map[string]any{
			"saved_as":   name,
			"request_id": middleware.RequestIDFromContext(c),
			"err":        err.Error(),
		})
	}
}

func (h *Handler) history(c *gin.Context) {
	entries, err := h.Svc.History(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read ledger", nil)
		return
	}
	respond.OK(c, toRecords(entries))
}

func (h *Handler) verify(c *gin.Context) {
	concurrency := 0
	if v := c.Query("concurrency"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			concurrency = parsed
		}
	}
	if concurrency > 32 {
		concurrency = 32
	}

	report, err := h.Svc.Verify(c.Request.Context(), concurrency)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "verification failed", nil)
		return
	}
	respond.OK(c, report)
}

// formFile returns the first multipart file found under fields.
func formFile(c *gin.Context, fields ...string) (*multipart.FileHeader, error) {
	var firstErr error
	for _, field := range fields {
		fh, err := c.FormFile(field)
		if err == nil {
			return fh, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
