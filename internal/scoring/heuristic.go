package scoring

import (
	"context"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fixed weights of the fallback logistic model.
const (
	heuristicIntercept     = -1.0
	weightTenure           = -0.03
	weightMonthlyCharges   = -0.01
	weightTotalCharges     = -0.005
	weightSeniorCitizen    = 0.10
	weightMonthToMonth     = 0.15
	weightTwoYear          = -0.05
	weightNoOnlineSecurity = 0.08
)

// Heuristic scores features locally with a fixed-weight logistic model.
// It never fails and never blocks.
type Heuristic struct {
	now Clock
}

// NewHeuristic creates a heuristic scorer.
func NewHeuristic() *Heuristic {
	return &Heuristic{now: utcNow}
}

// Score implements Scorer. The returned error is always nil.
func (h *Heuristic) Score(_ context.Context, f domain.Features) (*domain.PredictionResult, error) {
	return h.Evaluate(f), nil
}

// contribution is one signed term of the linear score.
type contribution struct {
	feature string
	value   float64
}

// Evaluate computes the heuristic prediction.
func (h *Heuristic) Evaluate(f domain.Features) *domain.PredictionResult {
	cTenure := weightTenure * float64(f.Tenure)
	cMonthly := weightMonthlyCharges * f.MonthlyCharges
	cTotal := weightTotalCharges * f.TotalCharges

	cSenior := 0.0
	if f.SeniorCitizen == 1 {
		cSenior = weightSeniorCitizen
	}

	cContract := 0.0
	switch f.Contract {
	case domain.ContractMonthToMonth:
		cContract = weightMonthToMonth
	case domain.ContractTwoYear:
		cContract = weightTwoYear
	}

	cSecurity := 0.0
	if f.OnlineSecurity == domain.ValueNo {
		cSecurity = weightNoOnlineSecurity
	}

	z := heuristicIntercept + cTenure + cMonthly + cTotal + cSenior + cContract + cSecurity
	p := 1.0 / (1.0 + math.Exp(-z))
	label := domain.LabelFor(p)

	return &domain.PredictionResult{
		Label:       label,
		Probability: p,
		TopFeatures: rankContributions([]contribution{
			{feature: domain.FeatureTenure, value: cTenure},
			{feature: domain.FeatureContract, value: cContract},
			{feature: domain.FeatureOnlineSecurity, value: cSecurity},
		}, 3),
		RiskLevel:       domain.RiskLevelFor(p),
		ConfidenceScore: domain.ConfidenceFor(p),
		SuggestedAction: domain.DefaultAction(label),
		ModelVersion:    domain.DefaultModelVersion,
		Source:          domain.SourceHeuristic,
		Timestamp:       h.now(),
	}
}

// rankContributions orders by absolute magnitude, descending. Ties keep the
// input order.
func rankContributions(cs []contribution, limit int) []string {
	ranked := make([]contribution, len(cs))
	copy(ranked, cs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].value) > math.Abs(ranked[j].value)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	names := make([]string, len(ranked))
	for i, c := range ranked {
		names[i] = c.feature
	}
	return names
}
