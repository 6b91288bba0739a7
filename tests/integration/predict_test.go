//go:build integration

// Package integration exercises a running Kestrel instance end to end.
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// KESTREL_TEST_URL selects the instance (default http://localhost:8080).
// The tests clear the prediction history, so never point them at a
// production deployment.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if u := os.Getenv("KESTREL_TEST_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

var client = &http.Client{Timeout: 10 * time.Second}

type predictionResult struct {
	Label           string   `json:"label"`
	Probability     float64  `json:"probability"`
	TopFeatures     []string `json:"top_features"`
	RiskLevel       string   `json:"risk_level"`
	ConfidenceScore float64  `json:"confidence_score"`
	SuggestedAction string   `json:"suggested_action"`
	Source          string   `json:"source"`
}

type statsSnapshot struct {
	Total     int64            `json:"total"`
	Churned   int64            `json:"churned"`
	ChurnRate float64          `json:"churn_rate"`
	ByRisk    map[string]int64 `json:"by_risk"`
}

func call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL()+path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func customer(tenure int, contract string, monthly float64) map[string]any {
	return map[string]any{
		"gender":           "Female",
		"SeniorCitizen":    0,
		"Partner":          "No",
		"Dependents":       "No",
		"tenure":           tenure,
		"PhoneService":     "Yes",
		"MultipleLines":    "No",
		"InternetService":  "Fiber optic",
		"OnlineSecurity":   "No",
		"OnlineBackup":     "No",
		"DeviceProtection": "No",
		"TechSupport":      "No",
		"StreamingTV":      "Yes",
		"StreamingMovies":  "Yes",
		"Contract":         contract,
		"PaperlessBilling": "Yes",
		"PaymentMethod":    "Electronic check",
		"MonthlyCharges":   monthly,
		"TotalCharges":     monthly * float64(tenure),
	}
}

func TestPredictAndStats(t *testing.T) {
	if code := call(t, http.MethodDelete, "/api/churn/predictions", nil, nil); code != http.StatusNoContent {
		t.Fatalf("clear failed: %d", code)
	}

	customers := []map[string]any{
		customer(1, "Month-to-month", 95.5),
		customer(60, "Two year", 20.0),
		customer(24, "One year", 55.0),
	}

	for i, c := range customers {
		var res predictionResult
		if code := call(t, http.MethodPost, "/api/churn/predict", c, &res); code != http.StatusOK {
			t.Fatalf("customer %d: expected 200, got %d", i, code)
		}

		if res.Probability < 0 || res.Probability > 1 {
			t.Errorf("customer %d: probability out of range %v", i, res.Probability)
		}
		if (res.Label == "WILL_CHURN") != (res.Probability >= 0.5) {
			t.Errorf("customer %d: label %s inconsistent with p=%v", i, res.Label, res.Probability)
		}
		if len(res.TopFeatures) > 3 {
			t.Errorf("customer %d: too many top features %v", i, res.TopFeatures)
		}
		if res.Source != "HEURISTIC" && res.Source != "REMOTE" {
			t.Errorf("customer %d: unexpected source %q", i, res.Source)
		}
	}

	var snap statsSnapshot
	if code := call(t, http.MethodGet, "/api/churn/stats", nil, &snap); code != http.StatusOK {
		t.Fatalf("stats failed: %d", code)
	}
	if snap.Total != int64(len(customers)) {
		t.Errorf("expected %d records, got %d", len(customers), snap.Total)
	}
	buckets := snap.ByRisk["LOW"] + snap.ByRisk["MEDIUM"] + snap.ByRisk["HIGH"]
	if buckets != snap.Total {
		t.Errorf("risk buckets sum to %d, total is %d", buckets, snap.Total)
	}
}

func TestInvalidInputRejected(t *testing.T) {
	c := customer(5, "Month-to-month", 70)
	c["tenure"] = -1

	var before, after statsSnapshot
	call(t, http.MethodGet, "/api/churn/stats", nil, &before)

	if code := call(t, http.MethodPost, "/api/churn/predict", c, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	call(t, http.MethodGet, "/api/churn/stats", nil, &after)
	if after.Total != before.Total {
		t.Errorf("invalid input was recorded: %d -> %d", before.Total, after.Total)
	}
}

func TestBatch(t *testing.T) {
	items := []map[string]any{
		customer(2, "Month-to-month", 80),
		customer(70, "Two year", 25),
	}

	var res struct {
		Items      []predictionResult `json:"items"`
		Total      int                `json:"total"`
		ChurnCount int                `json:"churn_count"`
	}
	if code := call(t, http.MethodPost, "/api/churn/predict/batch", items, &res); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if res.Total != 2 || len(res.Items) != 2 {
		t.Errorf("unexpected batch %+v", res)
	}
}
