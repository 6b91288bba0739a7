package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/playbook"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "predictor.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// failingRepo fails every save.
type failingRepo struct {
	domain.Repository
}

func (failingRepo) SavePrediction(ctx context.Context, rec *domain.PredictionRecord) (string, error) {
	return "", errors.New("disk full")
}

func newCustomer() domain.Features {
	return domain.Features{
		Gender:          "Male",
		Tenure:          0,
		Contract:        domain.ContractMonthToMonth,
		OnlineSecurity:  domain.ValueNo,
		InternetService: domain.InternetFiberOptic,
		PaymentMethod:   "Electronic check",
	}
}

func TestPredictHeuristicOnly(t *testing.T) {
	repo := newRepo(t)
	o := New(domain.ScoringConfig{}, repo)
	ctx := context.Background()

	if o.UsesRemote() {
		t.Fatal("expected heuristic scorer without remote URL")
	}

	res, err := o.Predict(ctx, newCustomer())
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if math.Abs(res.Probability-0.3165) > 0.0001 {
		t.Errorf("expected probability ~0.3165, got %.4f", res.Probability)
	}
	if res.Label != domain.LabelWillStay {
		t.Errorf("expected WILL_STAY, got %s", res.Label)
	}
	if res.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW, got %s", res.RiskLevel)
	}
	if res.Source != domain.SourceHeuristic {
		t.Errorf("expected HEURISTIC, got %s", res.Source)
	}

	n, _ := repo.CountPredictions(ctx)
	if n != 1 {
		t.Errorf("expected exactly one record, got %d", n)
	}

	counters := o.Counters()
	if counters.Evaluated != 1 || counters.Churned != 0 {
		t.Errorf("unexpected counters %+v", counters)
	}
}

func TestPredictRemote(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"prediction":{"churn_probability":0.68,"risk_level":"Alto"},"metadata":{"model_version":"xgb-1"}}`))
	}))
	defer server.Close()

	repo := newRepo(t)
	o := New(domain.ScoringConfig{RemoteURL: server.URL, Timeout: time.Second}, repo)

	res, err := o.Predict(context.Background(), newCustomer())
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("expected one remote call, got %d", calls.Load())
	}
	if res.Source != domain.SourceRemote {
		t.Errorf("expected REMOTE, got %s", res.Source)
	}
	if res.RiskLevel != domain.RiskMedium {
		t.Errorf("expected MEDIUM regardless of remote label, got %s", res.RiskLevel)
	}
	if res.Label != domain.LabelWillChurn {
		t.Errorf("expected WILL_CHURN, got %s", res.Label)
	}

	records, _ := repo.ListPredictions(context.Background())
	if len(records) != 1 || records[0].ModelVersion != "xgb-1" || records[0].Source != "REMOTE" {
		t.Errorf("unexpected stored record %+v", records)
	}

	if c := o.Counters(); c.Evaluated != 1 || c.Churned != 1 {
		t.Errorf("unexpected counters %+v", c)
	}
}

func TestPredictFallsBackOnRemoteFailure(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"Unavailable": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"Malformed": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"label":"Va a cancelar"}`))
		},
		"OutOfRange": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"probability":3}`))
		},
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			repo := newRepo(t)
			o := New(domain.ScoringConfig{RemoteURL: server.URL, Timeout: time.Second}, repo)

			res, err := o.Predict(context.Background(), newCustomer())
			if err != nil {
				t.Fatalf("Predict must not fail on remote errors: %v", err)
			}
			if res.Source != domain.SourceHeuristic {
				t.Errorf("expected HEURISTIC fallback, got %s", res.Source)
			}
			n, _ := repo.CountPredictions(context.Background())
			if n != 1 {
				t.Errorf("expected one record, got %d", n)
			}
		})
	}
}

func TestPredictInvalidFeatures(t *testing.T) {
	repo := newRepo(t)
	o := New(domain.ScoringConfig{}, repo)

	f := newCustomer()
	f.MonthlyCharges = -5

	_, err := o.Predict(context.Background(), f)
	if !errors.Is(err, domain.ErrInvalidFeatureValue) {
		t.Fatalf("expected ErrInvalidFeatureValue, got %v", err)
	}

	n, _ := repo.CountPredictions(context.Background())
	if n != 0 {
		t.Errorf("invalid input must not be persisted, got %d records", n)
	}
	if c := o.Counters(); c.Evaluated != 0 {
		t.Errorf("invalid input must not be counted, got %+v", c)
	}
}

func TestPredictPersistenceFailure(t *testing.T) {
	o := New(domain.ScoringConfig{}, failingRepo{})

	res, err := o.Predict(context.Background(), newCustomer())
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if res != nil {
		t.Error("expected no partial result")
	}
}

func TestPredictRiskThresholds(t *testing.T) {
	tests := []struct {
		p    float64
		risk domain.RiskLevel
	}{
		{0.70, domain.RiskHigh},
		{0.6999, domain.RiskMedium},
		{0.50, domain.RiskMedium},
		{0.4999, domain.RiskLow},
		{0.0, domain.RiskLow},
		{1.0, domain.RiskHigh},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"probability": tt.p})
		}))

		o := New(domain.ScoringConfig{RemoteURL: server.URL, Timeout: time.Second}, newRepo(t))
		res, err := o.Predict(context.Background(), newCustomer())
		server.Close()
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if res.RiskLevel != tt.risk {
			t.Errorf("p=%v: expected %s, got %s", tt.p, tt.risk, res.RiskLevel)
		}
		if (res.Label == domain.LabelWillChurn) != (tt.p >= 0.5) {
			t.Errorf("p=%v: label %s inconsistent", tt.p, res.Label)
		}
	}
}

func TestPredictBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Features domain.Features `json:"features"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		p := 0.2
		if body.Features.Tenure < 3 {
			p = 0.9
		}
		json.NewEncoder(w).Encode(map[string]any{"probability": p})
	}))
	defer server.Close()

	repo := newRepo(t)
	o := New(domain.ScoringConfig{RemoteURL: server.URL, Timeout: time.Second}, repo)

	items := []domain.Features{
		{Tenure: 1, Contract: domain.ContractMonthToMonth},
		{Tenure: 24, Contract: domain.ContractTwoYear},
		{Tenure: 2, Contract: domain.ContractMonthToMonth},
	}

	batch, err := o.PredictBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("PredictBatch failed: %v", err)
	}
	if batch.Total != 3 || len(batch.Items) != 3 {
		t.Errorf("expected 3 items, got %d/%d", batch.Total, len(batch.Items))
	}
	if batch.ChurnCount != 2 {
		t.Errorf("expected churn count 2, got %d", batch.ChurnCount)
	}
	if batch.Items[1].Label != domain.LabelWillStay {
		t.Errorf("expected order preserved, item 1 is %s", batch.Items[1].Label)
	}

	t.Run("Empty", func(t *testing.T) {
		batch, err := o.PredictBatch(context.Background(), nil)
		if err != nil {
			t.Fatalf("PredictBatch failed: %v", err)
		}
		if batch.Total != 0 || batch.ChurnCount != 0 || batch.Items == nil {
			t.Errorf("unexpected empty batch %+v", batch)
		}
	})

	t.Run("InvalidItemAborts", func(t *testing.T) {
		_, err := o.PredictBatch(context.Background(), []domain.Features{{Tenure: -1}})
		if !errors.Is(err, domain.ErrInvalidFeatureValue) {
			t.Errorf("expected ErrInvalidFeatureValue, got %v", err)
		}
	})
}

func TestConcurrentCounters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"probability":0.8}`))
	}))
	defer server.Close()

	lru := cache.NewLRUCache(100)
	o := New(domain.ScoringConfig{RemoteURL: server.URL, Timeout: 5 * time.Second}, newRepo(t),
		WithCache(lru, time.Hour),
	)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Predict(context.Background(), newCustomer()); err != nil {
				t.Errorf("Predict failed: %v", err)
			}
		}()
	}
	wg.Wait()

	c := o.Counters()
	if c.Evaluated != n || c.Churned != n {
		t.Errorf("expected %d/%d, got %+v", n, n, c)
	}

	window, err := o.WindowCounters(context.Background())
	if err != nil {
		t.Fatalf("WindowCounters failed: %v", err)
	}
	if window.Evaluated != n || window.Churned != n {
		t.Errorf("expected mirrored %d/%d, got %+v", n, n, window)
	}
}

func TestWindowCountersWithoutCache(t *testing.T) {
	o := New(domain.ScoringConfig{}, newRepo(t))
	c, err := o.WindowCounters(context.Background())
	if err != nil || c.Evaluated != 0 || c.Churned != 0 {
		t.Errorf("expected zero counters, got %+v, %v", c, err)
	}
}

func TestPlaybookOverridesAction(t *testing.T) {
	engine, err := playbook.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	engine.LoadRule(&domain.PlaybookRule{
		ID:         "new-fiber",
		Expression: `tenure < 3 && internet_service == "Fiber optic"`,
		Action:     "Welcome call from fiber team",
		Enabled:    true,
	})

	repo := newRepo(t)
	o := New(domain.ScoringConfig{}, repo, WithPlaybook(engine))

	res, err := o.Predict(context.Background(), newCustomer())
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if res.SuggestedAction != "Welcome call from fiber team" {
		t.Errorf("expected playbook action, got %q", res.SuggestedAction)
	}

	records, _ := repo.ListPredictions(context.Background())
	if records[0].SuggestedAction != "Welcome call from fiber team" {
		t.Errorf("expected stored playbook action, got %q", records[0].SuggestedAction)
	}
}

func TestPredictPublishesEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"probability":0.91}`))
	}))
	defer server.Close()

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)

	var recorded RecordedEvent
	eventBus.Subscribe(ctx, domain.TopicPredictionRecorded, func(ctx context.Context, msg *domain.Message) error {
		defer wg.Done()
		return json.Unmarshal(msg.Payload, &recorded)
	})
	eventBus.Subscribe(ctx, domain.TopicHighRisk, func(ctx context.Context, msg *domain.Message) error {
		wg.Done()
		return nil
	})

	o := New(domain.ScoringConfig{RemoteURL: server.URL, Timeout: time.Second}, newRepo(t), WithEventBus(eventBus))
	if _, err := o.Predict(ctx, newCustomer()); err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for events")
	}

	if recorded.ID == "" || recorded.Result == nil || recorded.Result.RiskLevel != domain.RiskHigh {
		t.Errorf("unexpected recorded event %+v", recorded)
	}
}

func TestPredictIgnoresClosedBus(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	eventBus.Close()

	o := New(domain.ScoringConfig{}, newRepo(t), WithEventBus(eventBus))
	if _, err := o.Predict(context.Background(), newCustomer()); err != nil {
		t.Errorf("bus failures must not fail predictions: %v", err)
	}
}
