package workerproc

import (
	"context"
	"errors"
	"strings"

	"ledger-backend/internal/documents"
	"ledger-backend/internal/ledger"
	"ledger-backend/internal/queue"
	"ledger-backend/internal/shared/util"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	return MessageMeta{BodyLen: len(body), BodySHA: util.DigestBytes([]byte(body))}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrInvalidEvent indicates a decoded message that does not describe a
// ledger event.
type ErrInvalidEvent struct {
	Meta      MessageMeta
	RequestID string
	Reason    string
}

func (e ErrInvalidEvent) Error() string { return "invalid ledger event: " + e.Reason }

// ErrProcess indicates auditing failed after successful parsing. The message
// should be retried.
type ErrProcess struct {
	SavedAs   string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "audit event"
	}
	return "audit event: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Auditor checks a ledger event against current storage.
type Auditor interface {
	AuditEvent(ctx context.Context, savedAs string, status ledger.Status, hash string) (documents.AuditOutcome, error)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}

	invalid := func(reason string) (queue.Message, MessageMeta, error) {
		return msg, meta, ErrInvalidEvent{Meta: meta, RequestID: msg.RequestID, Reason: reason}
	}
	switch {
	case strings.TrimSpace(msg.SavedAs) == "":
		return invalid("missing savedAs")
	case !util.ValidStorageKey(msg.SavedAs):
		return invalid("invalid savedAs")
	case strings.TrimSpace(msg.Hash) == "":
		return invalid("missing hash")
	case msg.Status != string(ledger.StatusUploaded) && msg.Status != string(ledger.StatusDeleted):
		return invalid("unknown status " + msg.Status)
	case msg.Version > queue.MessageVersion:
		return invalid("unsupported version")
	}
	return msg, meta, nil
}

// HandleMessage audits a parsed ledger event.
func HandleMessage(ctx context.Context, auditor Auditor, msg queue.Message) (documents.AuditOutcome, error) {
	if auditor == nil {
		return "", errors.New("auditor not configured")
	}
	outcome, err := auditor.AuditEvent(ctx, msg.SavedAs, ledger.Status(msg.Status), msg.Hash)
	if err != nil {
		return "", ErrProcess{SavedAs: msg.SavedAs, RequestID: msg.RequestID, Err: err}
	}
	return outcome, nil
}
