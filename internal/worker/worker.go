// Package worker scores asynchronous prediction requests from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Predictor is the part of the orchestrator the worker needs.
type Predictor interface {
	Predict(ctx context.Context, f domain.Features) (*domain.PredictionResult, error)
}

// Worker consumes prediction requests, scores them and publishes replies.
// Replies are also stored in the cache so callers can poll for them.
type Worker struct {
	bus       domain.EventBus
	predictor Predictor
	cache     domain.Cache

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed int64
	failed    int64
}

// NewWorker creates a new async worker. cache may be nil.
func NewWorker(bus domain.EventBus, predictor Predictor, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		predictor: predictor,
		cache:     cache,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the prediction request topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicPredictionRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicPredictionRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicPredictionRequested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.PredictionRequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse prediction request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.RequestID == "" {
		req.RequestID = msg.ID
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.Metadata[domain.MetadataTraceID]
	}

	slog.Debug("processing prediction request",
		"request_id", req.RequestID,
		"trace_id", traceID,
	)

	reply := domain.PredictionReplyMessage{RequestID: req.RequestID}
	topic := domain.TopicPredictionScored

	res, err := w.predictor.Predict(ctx, req.Features)
	if err != nil {
		reply.Status = domain.AsyncFailed
		reply.Error = err.Error()
		topic = domain.TopicPredictionFailed
		w.count(false)
		slog.Warn("async prediction failed",
			"request_id", req.RequestID,
			"error", err,
		)
	} else {
		reply.Status = domain.AsyncDone
		reply.Result = res
		w.count(true)
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}

	if w.cache != nil {
		if err := w.cache.Set(ctx, domain.AsyncResultKey(req.RequestID), payload, domain.AsyncResultTTL); err != nil {
			slog.Warn("failed to store async reply",
				"request_id", req.RequestID,
				"error", err,
			)
		}
	}

	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish reply",
			"request_id", req.RequestID,
			"topic", topic,
			"error", err,
		)
	}

	slog.Info("async prediction processed",
		"request_id", req.RequestID,
		"status", reply.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) count(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// Stop cancels in-flight handling and unsubscribes.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("worker stopped")
	return nil
}

// Stats holds worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
