package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	uploadsTotal            atomic.Uint64
	uploadsFailedTotal      atomic.Uint64
	deletesTotal            atomic.Uint64
	deletesFailedTotal      atomic.Uint64
	ledgerAppendFailedTotal atomic.Uint64
	eventPublishFailedTotal atomic.Uint64

	auditEventsReceivedTotal      atomic.Uint64
	auditEventsCompletedTotal     atomic.Uint64
	auditEventsFailedTotal        atomic.Uint64
	auditEventsUnrecoverableTotal atomic.Uint64
	auditAnomaliesTotal           atomic.Uint64

	uploadDuration = newHistogram([]float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000})
)

// IncUploads increments the recorded-upload counter.
func IncUploads() {
	uploadsTotal.Add(1)
}

// IncUploadsFailed increments the failed-upload counter.
func IncUploadsFailed() {
	uploadsFailedTotal.Add(1)
}

// IncDeletes increments the recorded-delete counter.
func IncDeletes() {
	deletesTotal.Add(1)
}

// IncDeletesFailed increments the failed-delete counter.
func IncDeletesFailed() {
	deletesFailedTotal.Add(1)
}

// IncLedgerAppendFailed counts storage mutations whose ledger entry could not
// be written.
func IncLedgerAppendFailed() {
	ledgerAppendFailedTotal.Add(1)
}

// IncEventPublishFailed counts ledger events that could not be published.
func IncEventPublishFailed() {
	eventPublishFailedTotal.Add(1)
}

// IncAuditEventsReceived counts ledger events pulled by the audit worker.
func IncAuditEventsReceived() {
	auditEventsReceivedTotal.Add(1)
}

// IncAuditEventsCompleted counts ledger events audited and acknowledged.
func IncAuditEventsCompleted() {
	auditEventsCompletedTotal.Add(1)
}

// IncAuditEventsFailed counts audits left on the queue for retry.
func IncAuditEventsFailed() {
	auditEventsFailedTotal.Add(1)
}

// IncAuditEventsUnrecoverable counts malformed events dropped from the queue.
func IncAuditEventsUnrecoverable() {
	auditEventsUnrecoverableTotal.Add(1)
}

// IncAuditAnomalies counts audits that found storage disagreeing with the ledger.
func IncAuditAnomalies() {
	auditAnomaliesTotal.Add(1)
}

// ObserveUploadDurationMs records an upload duration in milliseconds.
func ObserveUploadDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	uploadDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "ledger_uploads_total", "Total documents uploaded and recorded", uploadsTotal.Load())
	writeCounter(&buf, "ledger_uploads_failed_total", "Total failed uploads", uploadsFailedTotal.Load())
	writeCounter(&buf, "ledger_deletes_total", "Total documents deleted and recorded", deletesTotal.Load())
	writeCounter(&buf, "ledger_deletes_failed_total", "Total failed deletes", deletesFailedTotal.Load())
	writeCounter(&buf, "ledger_append_failed_total", "Storage mutations without a ledger entry", ledgerAppendFailedTotal.Load())
	writeCounter(&buf, "ledger_event_publish_failed_total", "Ledger events that could not be published", eventPublishFailedTotal.Load())
	writeCounter(&buf, "ledger_audit_events_received_total", "Ledger events received by the audit worker", auditEventsReceivedTotal.Load())
	writeCounter(&buf, "ledger_audit_events_completed_total", "Ledger events audited", auditEventsCompletedTotal.Load())
	writeCounter(&buf, "ledger_audit_events_failed_total", "Ledger event audits that will be retried", auditEventsFailedTotal.Load())
	writeCounter(&buf, "ledger_audit_events_unrecoverable_total", "Malformed ledger events dropped", auditEventsUnrecoverableTotal.Load())
	writeCounter(&buf, "ledger_audit_anomalies_total", "Audits where storage disagrees with the ledger", auditAnomaliesTotal.Load())
	writeHistogram(&buf, "ledger_upload_duration_ms", "Upload duration in milliseconds", uploadDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts value in the first bucket that holds it; writeHistogram
// accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the milliseconds elapsed since start.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
