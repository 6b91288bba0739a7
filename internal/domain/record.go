package domain

import "time"

// PredictionRecord is the durable, append-only projection of a prediction.
// It keeps the subset of features needed later for motive aggregation.
type PredictionRecord struct {
	ID              string    `json:"id"`
	Label           string    `json:"label"`
	Probability     float64   `json:"probability"`
	RiskLevel       string    `json:"risk_level"`
	ConfidenceScore float64   `json:"confidence_score"`
	SuggestedAction string    `json:"suggested_action"`
	Source          string    `json:"source"`
	ModelVersion    string    `json:"model_version"`
	TopFeatures     []string  `json:"top_features"`
	Tenure          int       `json:"tenure"`
	MonthlyCharges  float64   `json:"monthly_charges"`
	Contract        string    `json:"contract"`
	InternetService string    `json:"internet_service"`
	OnlineSecurity  string    `json:"online_security"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewPredictionRecord projects a result and its originating features.
func NewPredictionRecord(id string, f Features, res *PredictionResult) *PredictionRecord {
	return &PredictionRecord{
		ID:              id,
		Label:           string(res.Label),
		Probability:     res.Probability,
		RiskLevel:       string(res.RiskLevel),
		ConfidenceScore: res.ConfidenceScore,
		SuggestedAction: res.SuggestedAction,
		Source:          string(res.Source),
		ModelVersion:    res.ModelVersion,
		TopFeatures:     res.TopFeatures,
		Tenure:          f.Tenure,
		MonthlyCharges:  f.MonthlyCharges,
		Contract:        f.Contract,
		InternetService: f.InternetService,
		OnlineSecurity:  f.OnlineSecurity,
		CreatedAt:       res.Timestamp,
	}
}
