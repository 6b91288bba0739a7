package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTopFeatures is reported when the remote payload names none.
var DefaultTopFeatures = []string{
	domain.FeatureTenure,
	domain.FeatureContract,
	domain.FeaturePaymentMethod,
}

// Remote payload keys. The legacy flat shape has been served with both the
// English and the Spanish probability key.
const (
	keyProbability     = "probability"
	keyLegacyProb      = "probabilidad"
	keyTopFeatures     = "top_features"
	keyMetadata        = "metadata"
	keyModelVersion    = "model_version"
	keyPrediction      = "prediction"
	keyChurnProb       = "churn_probability"
	keyConfidenceScore = "confidence_score"
	keyBusinessLogic   = "business_logic"
	keySuggestedAction = "suggested_action"
)

// Normalize maps a decoded remote response onto the canonical result.
//
// Each field is resolved through the same chain: the enriched nested shape
// first, then the legacy flat shape, then a computed default. Label and risk
// level are always derived from the resolved probability, so a remote
// will_churn or risk_level never contradicts the canonical thresholds.
func Normalize(doc map[string]any, now time.Time) (*domain.PredictionResult, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: empty response document", domain.ErrMalformedResponse)
	}

	prediction := asObject(doc[keyPrediction])

	p, ok := firstNumber(
		lookup(prediction, keyChurnProb),
		doc[keyProbability],
		doc[keyLegacyProb],
	)
	if !ok {
		return nil, fmt.Errorf("%w: no churn probability in response", domain.ErrMalformedResponse)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: probability %v outside [0,1]", domain.ErrMalformedResponse, p)
	}

	label := domain.LabelFor(p)

	confidence := domain.ConfidenceFor(p)
	if c, ok := asNumber(lookup(prediction, keyConfidenceScore)); ok && c >= 0.5 && c <= 1 {
		confidence = c
	}

	modelVersion := domain.DefaultModelVersion
	if v := asString(lookup(asObject(doc[keyMetadata]), keyModelVersion)); v != "" {
		modelVersion = v
	}

	action := asString(lookup(asObject(doc[keyBusinessLogic]), keySuggestedAction))
	if action == "" {
		action = domain.DefaultAction(label)
	}

	return &domain.PredictionResult{
		Label:           label,
		Probability:     p,
		TopFeatures:     topFeatures(doc[keyTopFeatures]),
		RiskLevel:       domain.RiskLevelFor(p),
		ConfidenceScore: confidence,
		SuggestedAction: action,
		ModelVersion:    modelVersion,
		Source:          domain.SourceRemote,
		Timestamp:       now,
	}, nil
}

// topFeatures keeps at most three string entries, falling back to the
// default list when none are usable.
func topFeatures(v any) []string {
	items, _ := v.([]any)
	names := make([]string, 0, 3)
	for _, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		names = append(names, s)
		if len(names) == 3 {
			break
		}
	}
	if len(names) == 0 {
		return append([]string(nil), DefaultTopFeatures...)
	}
	return names
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func lookup(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func firstNumber(candidates ...any) (float64, bool) {
	for _, c := range candidates {
		if n, ok := asNumber(c); ok {
			return n, true
		}
	}
	return 0, false
}
