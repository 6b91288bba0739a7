// Package predictor orchestrates churn predictions: scorer selection with
// heuristic fallback, risk derivation, the retention playbook, persistence,
// counters and outbound events.
package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/playbook"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

var tracer = otel.Tracer("kestrel-predictor")

// Orchestrator turns canonical features into a persisted PredictionResult.
// It is safe for concurrent use.
type Orchestrator struct {
	scorer   scoring.Scorer
	fallback *scoring.Heuristic
	repo     domain.Repository

	cache         domain.Cache
	counterWindow time.Duration
	bus           domain.EventBus
	playbook      *playbook.Engine

	evaluated atomic.Int64
	churned   atomic.Int64

	newID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScorer replaces the scorer chosen from configuration.
func WithScorer(s scoring.Scorer) Option {
	return func(o *Orchestrator) { o.scorer = s }
}

// WithCache mirrors counters into c with the given window.
func WithCache(c domain.Cache, window time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.counterWindow = window
	}
}

// WithEventBus publishes recorded and high risk events to b.
func WithEventBus(b domain.EventBus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithPlaybook applies retention playbook rules to every result.
func WithPlaybook(e *playbook.Engine) Option {
	return func(o *Orchestrator) { o.playbook = e }
}

// New creates an orchestrator. A non-empty RemoteURL selects the remote
// scorer; otherwise the heuristic is used and no network call is made.
func New(cfg domain.ScoringConfig, repo domain.Repository, opts ...Option) *Orchestrator {
	fallback := scoring.NewHeuristic()

	o := &Orchestrator{
		fallback: fallback,
		repo:     repo,
		newID:    func() string { return uuid.New().String() },
	}

	if cfg.RemoteURL != "" {
		o.scorer = scoring.NewRemote(cfg.RemoteURL, cfg.Timeout)
	} else {
		o.scorer = fallback
	}

	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Predict scores one customer and appends exactly one prediction record.
// Errors are returned for invalid features and persistence failures only;
// remote scoring failures fall back to the heuristic.
func (o *Orchestrator) Predict(ctx context.Context, f domain.Features) (*domain.PredictionResult, error) {
	ctx, span := tracer.Start(ctx, "predictor.Predict")
	defer span.End()

	if err := f.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := o.score(ctx, f)
	res.Label = domain.LabelFor(res.Probability)
	res.RiskLevel = domain.RiskLevelFor(res.Probability)

	if o.playbook != nil {
		if ruleID, ok := o.playbook.Apply(f, res); ok {
			slog.Debug("playbook rule matched", "rule_id", ruleID, "action", res.SuggestedAction)
		}
	}

	o.countEvaluation(ctx, res)

	rec := domain.NewPredictionRecord(o.newID(), f, res)
	id, err := o.repo.SavePrediction(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return nil, fmt.Errorf("failed to save prediction: %w", err)
	}

	span.SetAttributes(
		attribute.String("prediction.id", id),
		attribute.String("prediction.source", string(res.Source)),
		attribute.String("prediction.risk_level", string(res.RiskLevel)),
		attribute.Float64("prediction.probability", res.Probability),
	)

	o.publish(ctx, id, res)

	slog.Info("prediction recorded",
		"id", id,
		"label", res.Label,
		"probability", fmt.Sprintf("%.3f", res.Probability),
		"risk_level", res.RiskLevel,
		"source", res.Source,
	)

	return res, nil
}

// PredictBatch runs Predict on each item in order. The first error aborts
// the batch; records already appended stay.
func (o *Orchestrator) PredictBatch(ctx context.Context, items []domain.Features) (*domain.BatchResult, error) {
	batch := &domain.BatchResult{
		Items: make([]*domain.PredictionResult, 0, len(items)),
	}

	for i, f := range items {
		res, err := o.Predict(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		batch.Items = append(batch.Items, res)
		if res.WillChurn() {
			batch.ChurnCount++
		}
	}
	batch.Total = len(batch.Items)

	return batch, nil
}

// Counters returns this instance's evaluated/churned totals.
func (o *Orchestrator) Counters() domain.Counters {
	return domain.Counters{
		Evaluated: o.evaluated.Load(),
		Churned:   o.churned.Load(),
	}
}

// WindowCounters returns the shared windowed counters from the cache, or
// zeros when no cache is configured.
func (o *Orchestrator) WindowCounters(ctx context.Context) (domain.Counters, error) {
	if o.cache == nil {
		return domain.Counters{}, nil
	}

	evaluated, err := o.cache.GetCounter(ctx, domain.CounterEvaluated)
	if err != nil {
		return domain.Counters{}, err
	}
	churned, err := o.cache.GetCounter(ctx, domain.CounterChurned)
	if err != nil {
		return domain.Counters{}, err
	}
	return domain.Counters{Evaluated: evaluated, Churned: churned}, nil
}

// UsesRemote reports whether a remote scorer is configured.
func (o *Orchestrator) UsesRemote() bool {
	_, ok := o.scorer.(*scoring.Remote)
	return ok
}

func (o *Orchestrator) score(ctx context.Context, f domain.Features) *domain.PredictionResult {
	res, err := o.scorer.Score(ctx, f)
	if err == nil {
		return res
	}

	if errors.Is(err, domain.ErrRemoteUnavailable) || errors.Is(err, domain.ErrMalformedResponse) {
		slog.Warn("remote scorer failed, using heuristic", "error", err)
	} else {
		slog.Error("scorer failed, using heuristic", "error", err)
	}
	return o.fallback.Evaluate(f)
}

func (o *Orchestrator) countEvaluation(ctx context.Context, res *domain.PredictionResult) {
	o.evaluated.Inc()
	churned := res.WillChurn()
	if churned {
		o.churned.Inc()
	}

	if o.cache == nil {
		return
	}
	if _, err := o.cache.IncrementCounter(ctx, domain.CounterEvaluated, o.counterWindow); err != nil {
		slog.Warn("failed to mirror counter", "counter", domain.CounterEvaluated, "error", err)
	}
	if churned {
		if _, err := o.cache.IncrementCounter(ctx, domain.CounterChurned, o.counterWindow); err != nil {
			slog.Warn("failed to mirror counter", "counter", domain.CounterChurned, "error", err)
		}
	}
}

// RecordedEvent is the payload published on the recorded and high risk topics.
type RecordedEvent struct {
	ID     string                   `json:"id"`
	Result *domain.PredictionResult `json:"result"`
}

func (o *Orchestrator) publish(ctx context.Context, id string, res *domain.PredictionResult) {
	if o.bus == nil {
		return
	}

	payload, err := json.Marshal(RecordedEvent{ID: id, Result: res})
	if err != nil {
		slog.Error("failed to encode prediction event", "id", id, "error", err)
		return
	}

	if err := o.bus.Publish(ctx, domain.TopicPredictionRecorded, payload); err != nil {
		slog.Warn("failed to publish prediction", "id", id, "error", err)
	}
	if res.RiskLevel == domain.RiskHigh {
		if err := o.bus.Publish(ctx, domain.TopicHighRisk, payload); err != nil {
			slog.Warn("failed to publish high risk alert", "id", id, "error", err)
		}
	}
}
