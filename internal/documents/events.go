package documents

import (
	"context"

	"ledger-backend/internal/ledger"
	"ledger-backend/internal/queue"
	"ledger-backend/internal/shared/metrics"
	"ledger-backend/internal/shared/telemetry"
)

type requestIDKey struct{}

// WithRequestID attaches the HTTP request id so ledger events can carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// publish sends e to the event queue. Failures are logged and counted only;
// the ledger entry is already durable.
func (s *Service) publish(ctx context.Context, e ledger.Entry) {
	if s.Events == nil {
		return
	}
	base := e.Base()
	msg := queue.Message{
		SavedAs:   base.SavedAs,
		Hash:      base.Hash,
		Status:    string(e.Status()),
		Timestamp: ledger.FormatTimestamp(base.Timestamp),
		RequestID: requestIDFrom(ctx),
		Version:   queue.MessageVersion,
	}
	if err := s.Events.Send(ctx, msg); err != nil {
		metrics.IncEventPublishFailed()
		telemetry.Error("ledger.event_publish_failed", map[string]any{
			"saved_as":   msg.SavedAs,
			"status":     msg.Status,
			"request_id": msg.RequestID,
			"err":        err.Error(),
		})
	}
}
