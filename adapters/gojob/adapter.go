// Package gojob runs outbox dispatch as go-job queue work. The core
// dispatcher never spawns background loops; this adapter is how hosts that
// already run a go-job worker pool schedule ledger event delivery.
package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-protect/core"
)

const (
	JobIDOutboxDispatch = "protect.outbox.dispatch"

	ParamBatchSize = "batch_size"
)

// RetryPolicy bounds queue retry behavior so a failing dispatch run cannot
// requeue forever.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Delay returns the backoff before the given retry attempt, doubling from
// InitialDelay and capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = 2 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Normalize enforces the policy bounds on a nack operation: delays are
// clamped to MaxDelay, and once attempts are exhausted the delivery stops
// retrying — dead-lettered when the policy or caller asks for it, failed
// otherwise.
func (p RetryPolicy) Normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		if p.DeadLetterOnMax || out.Disposition == queue.NackDispositionDeadLetter {
			out.Disposition = queue.NackDispositionDeadLetter
		} else {
			out.Disposition = queue.NackDispositionFailed
		}
		return out
	}
	switch out.Disposition {
	case queue.NackDispositionDeadLetter, queue.NackDispositionFailed:
	default:
		out.Disposition = queue.NackDispositionRetry
	}
	return out
}

// NewOutboxDispatchMessage builds the queue message for one dispatch run.
// A batch size of zero lets the dispatcher fall back to its configured
// default.
func NewOutboxDispatchMessage(batchSize int, idempotencyKey string) *job.ExecutionMessage {
	parameters := map[string]any{}
	if batchSize > 0 {
		parameters[ParamBatchSize] = batchSize
	}
	return &job.ExecutionMessage{
		JobID:          JobIDOutboxDispatch,
		Parameters:     parameters,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// OutboxEnqueuer schedules dispatch runs on a go-job queue.
type OutboxEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewOutboxEnqueuer(enqueuer queue.Enqueuer) *OutboxEnqueuer {
	return &OutboxEnqueuer{enqueuer: enqueuer}
}

func (e *OutboxEnqueuer) EnqueueDispatch(ctx context.Context, batchSize int, idempotencyKey string) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if _, err := e.enqueuer.Enqueue(ctx, NewOutboxDispatchMessage(batchSize, idempotencyKey)); err != nil {
		return fmt.Errorf("gojob: enqueue dispatch run: %w", err)
	}
	return nil
}

// OutboxWorker consumes dispatch deliveries and drains the ledger outbox.
type OutboxWorker struct {
	dispatcher *core.OutboxDispatcher
	policy     RetryPolicy
	logger     core.Logger
}

type WorkerOption func(*OutboxWorker)

func WithLogger(logger core.Logger) WorkerOption {
	return func(w *OutboxWorker) {
		w.logger = logger
	}
}

func NewOutboxWorker(dispatcher *core.OutboxDispatcher, policy RetryPolicy, opts ...WorkerOption) (*OutboxWorker, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("gojob: outbox dispatcher is required")
	}
	w := &OutboxWorker{dispatcher: dispatcher, policy: policy}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(w)
	}
	return w, nil
}

// Handle runs one dispatch pass for the delivery, acking on success and
// nacking under the retry policy on failure. attempt counts prior failures
// of this message.
func (w *OutboxWorker) Handle(ctx context.Context, delivery queue.Delivery, attempt int) (core.DispatchStats, error) {
	if w == nil || w.dispatcher == nil {
		return core.DispatchStats{}, fmt.Errorf("gojob: worker is not configured")
	}
	if delivery == nil {
		return core.DispatchStats{}, fmt.Errorf("gojob: delivery is required")
	}

	stats, err := w.dispatcher.DispatchPending(ctx, batchSizeFrom(delivery.Message()))
	if err != nil {
		nack := w.policy.Normalize(queue.NackOptions{
			Delay:       w.policy.Delay(attempt + 1),
			Disposition: queue.NackDispositionRetry,
			Reason:      err.Error(),
		}, attempt+1)
		if nackErr := delivery.Nack(ctx, nack); nackErr != nil {
			return stats, fmt.Errorf("gojob: nack after dispatch failure: %w", nackErr)
		}
		return stats, err
	}
	if w.logger != nil {
		w.logger.Debug("outbox dispatch run",
			"claimed", stats.Claimed,
			"delivered", stats.Delivered,
			"retried", stats.Retried,
			"failed", stats.Failed,
		)
	}
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		return stats, fmt.Errorf("gojob: ack after dispatch: %w", ackErr)
	}
	return stats, nil
}

func batchSizeFrom(msg *job.ExecutionMessage) int {
	if msg == nil || len(msg.Parameters) == 0 {
		return 0
	}
	raw, ok := msg.Parameters[ParamBatchSize]
	if !ok {
		return 0
	}
	switch typed := raw.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// MetricsHook publishes worker lifecycle events to the module's metrics
// recorder.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.record(ctx, "protect.outbox.job.started", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "protect.outbox.job.completed", event)
	if h != nil && h.recorder != nil && event.Duration > 0 {
		h.recorder.ObserveHistogram(ctx, "protect.outbox.job.duration_ms",
			float64(event.Duration.Milliseconds()), eventTags(event))
	}
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "protect.outbox.job.failed", event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "protect.outbox.job.retried", event)
}

func (h *MetricsHook) record(ctx context.Context, name string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	h.recorder.IncCounter(ctx, name, 1, eventTags(event))
}

func eventTags(event worker.Event) map[string]string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	tags := map[string]string{}
	if message != nil {
		tags["job_id"] = message.JobID
	}
	if event.Attempt > 0 {
		tags["attempt"] = strconv.Itoa(event.Attempt)
	}
	return tags
}

var _ worker.Hook = (*MetricsHook)(nil)
