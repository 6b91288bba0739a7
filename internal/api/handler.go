package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/playbook"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// maxUploadSize bounds multipart CSV uploads.
const maxUploadSize = 32 << 20

// Deps are the components served over HTTP. Only Predictor and Stats are
// required; routes whose dependency is missing answer 503. Async scoring
// needs a running Worker besides the Bus and Cache.
type Deps struct {
	Predictor *predictor.Orchestrator
	Stats     *stats.Aggregator
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Playbook  *playbook.Engine
	Worker    *worker.Worker
	Version   string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	predictor *predictor.Orchestrator
	stats     *stats.Aggregator
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	playbook  *playbook.Engine
	worker    *worker.Worker
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		predictor: deps.Predictor,
		stats:     deps.Stats,
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		playbook:  deps.Playbook,
		worker:    deps.Worker,
		version:   deps.Version,
	}
}

// Health returns the health status of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	scorer := string(domain.SourceHeuristic)
	if h.predictor != nil && h.predictor.UsesRemote() {
		scorer = string(domain.SourceRemote)
	}

	body := map[string]any{
		"status":  status,
		"version": h.version,
		"scorer":  scorer,
	}
	if h.worker != nil {
		body["worker"] = h.worker.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "repository not reachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Predict handles POST /api/churn/predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req domain.FeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	f, err := req.ToFeatures()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.predictor.Predict(r.Context(), f)
	if err != nil {
		h.writePredictError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// PredictBatch handles POST /api/churn/predict/batch with a JSON array body.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []domain.FeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of customers")
		return
	}

	items := make([]domain.Features, 0, len(reqs))
	for i := range reqs {
		f, err := reqs[i].ToFeatures()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d: %v", i, err))
			return
		}
		items = append(items, f)
	}

	h.runBatch(w, r, items)
}

// PredictBatchCSV handles POST /api/churn/predict/batch/csv. The customers
// are read from the multipart "file" field.
func (h *Handler) PredictBatchCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	rows, err := dataset.Read(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]domain.Features, len(rows))
	for i, row := range rows {
		items[i] = row.Features
	}

	slog.Info("csv batch parsed", "rows", len(items))
	h.runBatch(w, r, items)
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request, items []domain.Features) {
	result, err := h.predictor.PredictBatch(r.Context(), items)
	if err != nil {
		h.writePredictError(w, r, err)
		return
	}

	slog.Info("batch scored",
		"total", result.Total,
		"churn_count", result.ChurnCount,
	)
	writeJSON(w, http.StatusOK, result)
}

// AsyncAccepted is the response of POST /api/churn/predict/async.
type AsyncAccepted struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	PollURL   string `json:"pollUrl"`
}

// PredictAsync queues a prediction on the EventBus and returns 202. The
// result is polled at GET /api/churn/predict/async/{id}.
func (h *Handler) PredictAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.asyncAvailable() {
		writeError(w, http.StatusServiceUnavailable, "async scoring not available")
		return
	}

	var req domain.FeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	f, err := req.ToFeatures()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID := uuid.New().String()

	pending, _ := json.Marshal(domain.PredictionReplyMessage{
		RequestID: requestID,
		Status:    domain.AsyncPending,
	})
	if err := h.cache.Set(ctx, domain.AsyncResultKey(requestID), pending, domain.AsyncResultTTL); err != nil {
		slog.Error("failed to store pending request", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue prediction")
		return
	}

	payload, err := json.Marshal(domain.PredictionRequestMessage{
		RequestID: requestID,
		TraceID:   GetTraceID(ctx),
		Features:  f,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode request")
		return
	}
	if err := h.bus.Publish(ctx, domain.TopicPredictionRequested, payload); err != nil {
		slog.Error("failed to publish prediction request", "request_id", requestID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue prediction")
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncAccepted{
		RequestID: requestID,
		Status:    domain.AsyncPending,
		PollURL:   "/api/churn/predict/async/" + requestID,
	})
}

// asyncAvailable reports whether a queued request would ever be consumed.
func (h *Handler) asyncAvailable() bool {
	return h.worker != nil && h.bus != nil && h.cache != nil
}

// GetAsyncResult returns the state of an asynchronous prediction.
func (h *Handler) GetAsyncResult(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")

	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "async scoring not available")
		return
	}

	data, err := h.cache.Get(r.Context(), domain.AsyncResultKey(requestID))
	if err != nil {
		slog.Error("failed to read async result", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read result")
		return
	}
	if data == nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}

	var reply domain.PredictionReplyMessage
	if err := json.Unmarshal(data, &reply); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt async result")
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// Stats handles GET /api/churn/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Compute(r.Context())
	if err != nil {
		slog.Error("failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// TopRisk handles GET /api/churn/top-risk.
func (h *Handler) TopRisk(w http.ResponseWriter, r *http.Request) {
	records, err := h.stats.TopRisk(r.Context())
	if err != nil {
		slog.Error("failed to load top risk", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load top risk customers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"count": len(records),
	})
}

// Counters handles GET /api/churn/counters. "process" counts this instance
// since start; "window" is shared across instances through the cache.
func (h *Handler) Counters(w http.ResponseWriter, r *http.Request) {
	window, err := h.predictor.WindowCounters(r.Context())
	if err != nil {
		slog.Warn("failed to read window counters", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]domain.Counters{
		"process": h.predictor.Counters(),
		"window":  window,
	})
}

// ClearPredictions handles DELETE /api/churn/predictions.
func (h *Handler) ClearPredictions(w http.ResponseWriter, r *http.Request) {
	if err := h.stats.Clear(r.Context()); err != nil {
		slog.Error("failed to clear predictions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear predictions")
		return
	}
	slog.Info("prediction history cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writePredictError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrInvalidFeatureValue) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("prediction failed",
		"trace_id", GetTraceID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "failed to record prediction")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
