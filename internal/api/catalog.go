package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/repository"
)

// ListTools handles GET /tools.
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	tools, err := h.repo.ListTools(ctx, taskID)
	if err != nil {
		slog.Error("failed to list tools", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list tools",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	})
}

// GetTool handles GET /tools/{id}.
func (h *Handler) GetTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	toolID := chi.URLParam(r, "id")

	tool, err := h.repo.GetTool(ctx, taskID, toolID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "tool not found",
			})
			return
		}
		slog.Error("failed to get tool", "id", toolID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get tool",
		})
		return
	}

	writeJSON(w, http.StatusOK, tool)
}

// CreateTool handles POST /tools.
func (h *Handler) CreateTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	var tool domain.MonitorTool
	if err := json.NewDecoder(r.Body).Decode(&tool); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if tool.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if tool.ID == "" {
		tool.ID = uuid.New().String()
	}
	if err := validateTool(&tool); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.saveTool(ctx, taskID, &tool); err != nil {
		slog.Error("failed to save tool", "id", tool.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save tool",
		})
		return
	}

	writeJSON(w, http.StatusCreated, tool)
}

// UpdateTool handles PUT /tools/{id}.
func (h *Handler) UpdateTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	toolID := chi.URLParam(r, "id")

	var tool domain.MonitorTool
	if err := json.NewDecoder(r.Body).Decode(&tool); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tool.ID = toolID
	if tool.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if err := validateTool(&tool); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.saveTool(ctx, taskID, &tool); err != nil {
		slog.Error("failed to save tool", "id", toolID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save tool",
		})
		return
	}

	writeJSON(w, http.StatusOK, tool)
}

// DeleteTool handles DELETE /tools/{id}. The repository cascade strips
// every reference to the tool from the task's systems; affected systems
// will score differently on their next run, which the published
// catalog.changed event triggers.
func (h *Handler) DeleteTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	toolID := chi.URLParam(r, "id")

	if err := h.repo.DeleteTool(ctx, taskID, toolID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "tool not found",
			})
			return
		}
		slog.Error("failed to delete tool", "id", toolID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete tool",
		})
		return
	}

	h.refreshCatalog(ctx, taskID)
	h.publish(ctx, taskID, domain.TopicCatalogChanged, &domain.CatalogChange{
		TaskID: taskID,
		ToolID: toolID,
		Action: "deleted",
	})

	slog.Info("tool deleted", "task_id", taskID, "id", toolID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "tool deleted and references stripped",
	})
}

// saveTool persists a tool, refreshes the cached catalog and publishes
// the catalog change.
func (h *Handler) saveTool(ctx context.Context, taskID string, tool *domain.MonitorTool) error {
	if err := h.repo.SaveTool(ctx, taskID, tool); err != nil {
		return err
	}

	h.refreshCatalog(ctx, taskID)
	h.publish(ctx, taskID, domain.TopicCatalogChanged, &domain.CatalogChange{
		TaskID: taskID,
		ToolID: tool.ID,
		Action: "saved",
	})
	return nil
}

// validateTool rejects unknown capabilities and scenarios that reference
// capabilities the tool does not declare.
func validateTool(tool *domain.MonitorTool) error {
	declared := make(map[domain.Capability]bool, len(tool.Capabilities))
	for _, c := range tool.Capabilities {
		if !c.Valid() {
			return errors.New("unknown capability: " + string(c))
		}
		declared[c] = true
	}
	for _, s := range tool.Scenarios {
		if s.ID == "" {
			return errors.New("scenario id is required")
		}
		if !s.Capability.Valid() {
			return errors.New("scenario " + s.ID + " has unknown capability: " + string(s.Capability))
		}
		if !declared[s.Capability] {
			return errors.New("scenario " + s.ID + " references undeclared capability: " + string(s.Capability))
		}
	}
	return nil
}

// CreateAdvisoryRequest is the request body for POST /advisories.
type CreateAdvisoryRequest struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Expression  string                `json:"expression"`
	Bands       []domain.AdvisoryBand `json:"bands"`
	Enabled     bool                  `json:"enabled"`
}

// ListAdvisories handles GET /advisories.
func (h *Handler) ListAdvisories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	advisories, err := h.repo.ListAdvisories(ctx, taskID)
	if err != nil {
		slog.Error("failed to list advisories", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list advisories",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"advisories": advisories,
		"count":      len(advisories),
	})
}

// CreateAdvisory handles POST /advisories: it validates the CEL
// expression, persists the advisory and reports how to apply it.
func (h *Handler) CreateAdvisory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	var req CreateAdvisoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	cfg := &domain.AdvisoryConfig{
		ID:          req.ID,
		TaskID:      taskID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if h.advisories != nil {
		if err := h.advisories.Validate(cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveAdvisory(ctx, taskID, cfg); err != nil {
		slog.Error("failed to save advisory", "id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save advisory",
		})
		return
	}

	slog.Info("advisory created", "task_id", taskID, "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"advisory": cfg,
		"message":  "Advisory created. Call POST /advisories/reload to apply changes.",
	})
}

// ReloadAdvisories handles POST /advisories/reload: it reloads all
// enabled advisories from the database into the engine.
func (h *Handler) ReloadAdvisories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	if h.advisories == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "advisory engine not available",
		})
		return
	}

	configs, err := h.repo.ListAdvisories(ctx, taskID)
	if err != nil {
		slog.Error("failed to list advisories from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load advisories from database",
		})
		return
	}

	if err := h.advisories.Reload(configs); err != nil {
		slog.Error("failed to reload advisories into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload advisories: " + err.Error(),
		})
		return
	}

	slog.Info("advisories reloaded from database", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "advisories reloaded successfully",
		"count":   len(configs),
	})
}
