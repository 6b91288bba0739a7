// Package scoring provides the churn scorers: a deterministic local
// heuristic and an adapter for the remote scoring service.
package scoring

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer produces a canonical prediction for a set of features.
type Scorer interface {
	Score(ctx context.Context, f domain.Features) (*domain.PredictionResult, error)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
