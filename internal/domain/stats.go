package domain

import "time"

// StatsSnapshot is a computed view over all persisted predictions.
// It is recomputed on every query and never stored.
type StatsSnapshot struct {
	Total          int64               `json:"total"`
	Churned        int64               `json:"churned"`
	ChurnRate      float64             `json:"churn_rate"`
	ByRisk         map[RiskLevel]int64 `json:"by_risk"`
	Motives        Motives             `json:"motives"`
	LastPrediction time.Time           `json:"last_prediction"`
	Geographies    map[string]int64    `json:"geographies"`
}

// Motives are coarse explanatory categories. The four named buckets overlap:
// one record may count in several of them, so Other can undercount.
type Motives struct {
	MonthToMonth      int64 `json:"month_to_month_contract"`
	FiberOptic        int64 `json:"fiber_optic"`
	NoOnlineSecurity  int64 `json:"no_online_security"`
	HighMonthlyCharge int64 `json:"high_monthly_charges"`
	Other             int64 `json:"other"`
	Total             int64 `json:"total"`
}

// HighMonthlyChargeThreshold is the monthly charge at which a record counts
// toward the high-charges motive.
const HighMonthlyChargeThreshold = 90.0

// TopRiskLimit is the number of records returned by top-risk queries.
const TopRiskLimit = 20

// EmptyRiskBuckets returns a bucket map with every level at zero.
func EmptyRiskBuckets() map[RiskLevel]int64 {
	return map[RiskLevel]int64{
		RiskLow:    0,
		RiskMedium: 0,
		RiskHigh:   0,
	}
}

// Counters is the evaluated/churned pair tracked by an orchestrator.
type Counters struct {
	Evaluated int64 `json:"evaluated"`
	Churned   int64 `json:"churned"`
}
