package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"ledger-backend/internal/bootstrap"
	"ledger-backend/internal/shared/config"
	"ledger-backend/internal/shared/metrics"
	"ledger-backend/internal/shared/telemetry"
	"ledger-backend/internal/workerproc"
)

const defaultRegion = "us-east-1"

func main() {
	defer telemetry.Sync()
	cfg := config.Load()

	queueURL := strings.TrimSpace(cfg.LedgerQueueURL)
	if queueURL == "" {
		telemetry.Error("worker.config_invalid", map[string]any{"err": "LEDGER_SQS_QUEUE_URL is required"})
		os.Exit(1)
	}
	region := cfg.AWSRegion
	if region == "" {
		region = defaultRegion
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := cfg.WorkerVisibilitySeconds
	concurrency := cfg.WorkerConcurrency
	shutdownTimeout := time.Duration(cfg.WorkerShutdownSeconds) * time.Second

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		telemetry.Error("worker.aws_config_failed", map[string]any{"err": err.Error()})
		os.Exit(1)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	// The worker only consumes events; it must not publish its own.
	cfg.LedgerQueueURL = ""
	app, err := bootstrap.BuildCore(ctx, cfg)
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"err": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue":       queueURL,
		"concurrency": concurrency,
		"visibility":  visibilitySeconds,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"err": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncAuditEventsReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, sqsClient, queueURL, app.DocumentsService, m)
			}(msg)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, auditor workerproc.Auditor, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)

	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, "", "")
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		var invalid workerproc.ErrInvalidEvent
		if errors.As(err, &invalid) && invalid.RequestID != "" {
			fields["request_id"] = invalid.RequestID
		}
		telemetry.Error("worker.event.unparseable", fields)
		if deleteMessage(ctx, client, queueURL, msg, "", "") {
			metrics.IncAuditEventsUnrecoverable()
		}
		return
	}

	outcome, err := workerproc.HandleMessage(ctx, auditor, decoded)
	if err != nil {
		fields := baseFields(msg, decoded.SavedAs, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.event.failed", fields)
		metrics.IncAuditEventsFailed()
		return
	}

	fields := baseFields(msg, decoded.SavedAs, decoded.RequestID)
	fields["status"] = decoded.Status
	fields["outcome"] = string(outcome)
	if outcome.Anomaly() {
		metrics.IncAuditAnomalies()
		telemetry.Warn("worker.event.anomaly", fields)
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.SavedAs, decoded.RequestID) {
		telemetry.Info("worker.event.audited", fields)
		metrics.IncAuditEventsCompleted()
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, savedAs, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, savedAs, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.event.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, savedAs, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.event.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, savedAs, requestID string) map[string]any {
	fields := map[string]any{
		"saved_as":       savedAs,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}
