package domain

import (
	"math"
	"strings"
	"time"
)

// Label is the binary churn verdict.
type Label string

const (
	LabelWillChurn Label = "WILL_CHURN"
	LabelWillStay  Label = "WILL_STAY"
)

// RiskLevel is the three-bucket classification derived from probability.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Source identifies which scorer produced a result.
type Source string

const (
	SourceHeuristic Source = "HEURISTIC"
	SourceRemote    Source = "REMOTE"
)

// Decision thresholds.
const (
	ChurnThreshold      = 0.50
	HighRiskThreshold   = 0.70
	MediumRiskThreshold = 0.50
)

// DefaultModelVersion is reported when no model version is known.
const DefaultModelVersion = "v1.0"

// Suggested actions used when no explicit action is supplied.
const (
	ActionRetention = "Priority retention / loyalty offer"
	ActionUpsell    = "Upsell / loyalty program"
)

// PredictionResult is the canonical output of a churn prediction.
type PredictionResult struct {
	Label           Label     `json:"label"`
	Probability     float64   `json:"probability"`
	TopFeatures     []string  `json:"top_features"`
	RiskLevel       RiskLevel `json:"risk_level"`
	ConfidenceScore float64   `json:"confidence_score"`
	SuggestedAction string    `json:"suggested_action"`
	ModelVersion    string    `json:"model_version"`
	Source          Source    `json:"source"`
	Timestamp       time.Time `json:"timestamp"`
}

// WillChurn reports whether the result carries the churn label.
func (r *PredictionResult) WillChurn() bool {
	return r.Label == LabelWillChurn
}

// LabelFor returns WILL_CHURN iff p >= 0.5.
func LabelFor(p float64) Label {
	if p >= ChurnThreshold {
		return LabelWillChurn
	}
	return LabelWillStay
}

// RiskLevelFor buckets a probability: >= 0.70 HIGH, >= 0.50 MEDIUM, else LOW.
func RiskLevelFor(p float64) RiskLevel {
	switch {
	case p >= HighRiskThreshold:
		return RiskHigh
	case p >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ConfidenceFor returns max(0.5, |p-0.5|*2).
func ConfidenceFor(p float64) float64 {
	return math.Max(0.5, math.Abs(p-0.5)*2)
}

// DefaultAction returns the retention action for churners and the upsell
// action otherwise.
func DefaultAction(label Label) string {
	if label == LabelWillChurn {
		return ActionRetention
	}
	return ActionUpsell
}

// churnTokens are the stored labels that count as churn, compared
// case-insensitively. Older rows used "Va a cancelar", "Yes", "True" or "1".
var churnTokens = []string{
	string(LabelWillChurn),
	"va a cancelar",
	"yes",
	"true",
	"1",
}

// IsChurnLabel reports whether a stored label is churn-affirmative.
func IsChurnLabel(label string) bool {
	label = strings.TrimSpace(label)
	for _, token := range churnTokens {
		if strings.EqualFold(label, token) {
			return true
		}
	}
	return false
}

// ParseRiskLevel maps a stored risk label onto a bucket by case-insensitive
// substring, accepting legacy Spanish labels ("alto", "medio").
func ParseRiskLevel(s string) RiskLevel {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "high") || strings.Contains(s, "alto"):
		return RiskHigh
	case strings.Contains(s, "medium") || strings.Contains(s, "medio"):
		return RiskMedium
	default:
		return RiskLow
	}
}

// BatchResult is the response of a batch prediction.
type BatchResult struct {
	Items      []*PredictionResult `json:"items"`
	Total      int                 `json:"total"`
	ChurnCount int                 `json:"churn_count"`
}
