package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-scoring")

// maxResponseBytes caps how much of a remote reply is read.
const maxResponseBytes = 1 << 20

// Remote calls the external scoring service and normalizes its reply.
// Failures are reported as domain.ErrRemoteUnavailable or
// domain.ErrMalformedResponse; no retries are attempted.
type Remote struct {
	url    string
	client *http.Client
	now    Clock
}

// NewRemote creates a remote scorer for the given endpoint.
func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = domain.DefaultRemoteTimeout
	}
	return &Remote{
		url:    url,
		client: &http.Client{Timeout: timeout},
		now:    utcNow,
	}
}

type remoteRequest struct {
	Features map[string]any `json:"features"`
}

// Score implements Scorer.
func (r *Remote) Score(ctx context.Context, f domain.Features) (*domain.PredictionResult, error) {
	ctx, span := tracer.Start(ctx, "scoring.Remote",
		trace.WithAttributes(attribute.String("scoring.url", r.url)),
	)
	defer span.End()

	res, err := r.score(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Float64("prediction.probability", res.Probability))
	return res, nil
}

func (r *Remote) score(ctx context.Context, f domain.Features) (*domain.PredictionResult, error) {
	body, err := json.Marshal(remoteRequest{Features: f.Payload()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrRemoteUnavailable, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty response body", domain.ErrMalformedResponse)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	return Normalize(doc, r.now())
}
