// Package stats computes dashboard statistics over persisted predictions.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalGeography is the single geography bucket reported until records
// carry a location.
const GlobalGeography = "Global"

// Aggregator computes StatsSnapshots from the repository on demand.
type Aggregator struct {
	repo domain.Repository
	now  func() time.Time
}

// NewAggregator creates an aggregator over repo.
func NewAggregator(repo domain.Repository) *Aggregator {
	return &Aggregator{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Compute builds a snapshot of every stored prediction. Concurrent appends
// may or may not be reflected.
func (a *Aggregator) Compute(ctx context.Context) (*domain.StatsSnapshot, error) {
	total, err := a.repo.CountPredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count predictions: %w", err)
	}

	records, err := a.repo.ListPredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	snap := &domain.StatsSnapshot{
		Total:       total,
		ByRisk:      domain.EmptyRiskBuckets(),
		Geographies: map[string]int64{GlobalGeography: total},
	}

	for _, rec := range records {
		if domain.IsChurnLabel(rec.Label) {
			snap.Churned++
		}
		countMotives(&snap.Motives, rec)
	}

	if total > 0 {
		snap.ChurnRate = float64(snap.Churned) / float64(total)
	}

	grouped, err := a.repo.CountByRiskLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to group by risk: %w", err)
	}
	for label, n := range grouped {
		snap.ByRisk[domain.ParseRiskLevel(label)] += n
	}

	named := snap.Motives.MonthToMonth + snap.Motives.FiberOptic +
		snap.Motives.NoOnlineSecurity + snap.Motives.HighMonthlyCharge
	snap.Motives.Other = max(total-named, 0)
	snap.Motives.Total = total

	snap.LastPrediction = a.now()
	top, err := a.repo.TopPredictions(ctx, domain.TopRiskLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load top predictions: %w", err)
	}
	if len(top) > 0 {
		snap.LastPrediction = top[0].CreatedAt
	}

	return snap, nil
}

// TopRisk returns the highest-probability records, at most TopRiskLimit.
func (a *Aggregator) TopRisk(ctx context.Context) ([]*domain.PredictionRecord, error) {
	return a.repo.TopPredictions(ctx, domain.TopRiskLimit)
}

// Clear deletes every prediction record.
func (a *Aggregator) Clear(ctx context.Context) error {
	return a.repo.ClearPredictions(ctx)
}

func countMotives(m *domain.Motives, rec *domain.PredictionRecord) {
	if rec.Contract == domain.ContractMonthToMonth {
		m.MonthToMonth++
	}
	if rec.InternetService == domain.InternetFiberOptic {
		m.FiberOptic++
	}
	if rec.OnlineSecurity == domain.ValueNo {
		m.NoOnlineSecurity++
	}
	if rec.MonthlyCharges >= domain.HighMonthlyChargeThreshold {
		m.HighMonthlyCharge++
	}
}
