package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// PlaybookRuleRequest is the request body for creating a playbook rule.
type PlaybookRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Action      string `json:"action"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

// ListPlaybook returns every stored rule and how many are loaded.
func (h *Handler) ListPlaybook(w http.ResponseWriter, r *http.Request) {
	if !h.playbookAvailable(w) {
		return
	}

	rules, err := h.repo.ListPlaybookRules(r.Context())
	if err != nil {
		slog.Error("failed to list playbook rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list playbook rules")
		return
	}

	loaded := h.playbook.GetLoadedRules()
	active := make([]string, len(loaded))
	for i, rule := range loaded {
		active[i] = rule.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": len(loaded),
		"active": active,
	})
}

// GetPlaybookRule returns a stored rule by ID.
func (h *Handler) GetPlaybookRule(w http.ResponseWriter, r *http.Request) {
	if !h.playbookAvailable(w) {
		return
	}

	rule, err := h.repo.GetPlaybookRule(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to get playbook rule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get playbook rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreatePlaybookRule validates and stores a rule. Stored rules take effect
// on POST /api/playbook/reload.
func (h *Handler) CreatePlaybookRule(w http.ResponseWriter, r *http.Request) {
	if !h.playbookAvailable(w) {
		return
	}

	var req PlaybookRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	rule := &domain.PlaybookRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Action:      req.Action,
		Priority:    req.Priority,
		Enabled:     req.Enabled,
	}

	if err := h.playbook.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if err := h.repo.SavePlaybookRule(r.Context(), rule); err != nil {
		slog.Error("failed to save playbook rule", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("playbook rule saved", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule saved. Call POST /api/playbook/reload or POST /api/playbook/{id}/activate to apply it.",
	})
}

// DeletePlaybookRule removes a rule from storage and from the live engine.
func (h *Handler) DeletePlaybookRule(w http.ResponseWriter, r *http.Request) {
	if !h.playbookAvailable(w) {
		return
	}

	ruleID := chi.URLParam(r, "id")
	err := h.repo.DeletePlaybookRule(r.Context(), ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete playbook rule", "id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	h.playbook.RemoveRule(ruleID)
	slog.Info("playbook rule deleted", "id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// ActivatePlaybookRule loads one stored rule into the live engine without
// reloading the others.
func (h *Handler) ActivatePlaybookRule(w http.ResponseWriter, r *http.Request) {
	if !h.playbookAvailable(w) {
		return
	}

	ruleID := chi.URLParam(r, "id")
	rule, err := h.repo.GetPlaybookRule(r.Context(), ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to get playbook rule", "id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get playbook rule")
		return
	}
	if !rule.Enabled {
		writeError(w, http.StatusConflict, "rule is disabled")
		return
	}

	if err := h.playbook.LoadRule(rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule: "+err.Error())
		return
	}

	slog.Info("playbook rule activated", "id", rule.ID, "loaded", h.playbook.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"rule":   rule,
		"loaded": h.playbook.RulesCount(),
	})
}

// ReloadPlaybook replaces the live rule set with the stored one.
func (h *Handler) ReloadPlaybook(w http.ResponseWriter, r *http.Request) {
	if !h.playbookAvailable(w) {
		return
	}

	rules, err := h.repo.ListPlaybookRules(r.Context())
	if err != nil {
		slog.Error("failed to list playbook rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.playbook.ReloadRules(rules); err != nil {
		slog.Error("failed to reload playbook", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("playbook reloaded from database", "loaded", h.playbook.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "playbook reloaded successfully",
		"count":   h.playbook.RulesCount(),
	})
}

func (h *Handler) playbookAvailable(w http.ResponseWriter) bool {
	if h.repo == nil || h.playbook == nil {
		writeError(w, http.StatusServiceUnavailable, "playbook not available")
		return false
	}
	return true
}
