package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsgrade/kestrel/internal/advisory"
	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/metrics"
	"github.com/opsgrade/kestrel/internal/repository"
	"github.com/opsgrade/kestrel/internal/scoring"
	"github.com/opsgrade/kestrel/internal/snapshot"
)

// catalogTTL bounds how long a cached catalog snapshot is served before
// scoring re-reads the repository.
const catalogTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	advisories *advisory.Engine
	table      *domain.RuleTable
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, advisories *advisory.Engine, table *domain.RuleTable, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		advisories: advisories,
		table:      table,
		version:    version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateSystemRequest is the request body for POST /systems. A client may
// submit a locally generated temporary id; the server assigns the durable
// id and records the mapping so the client can reconcile.
type CreateSystemRequest struct {
	domain.SystemConfig
	TempID string `json:"tempId,omitempty"`
}

// CreateSystem handles POST /systems.
func (h *Handler) CreateSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	var req CreateSystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	sys := req.SystemConfig
	if sys.ID == "" {
		sys.ID = uuid.New().String()
	}
	domain.SanitizeSystem(&sys)

	if err := h.repo.SaveSystem(ctx, taskID, &sys, time.Time{}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "system already exists: " + sys.ID,
			})
			return
		}
		slog.Error("failed to create system", "id", sys.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save system",
		})
		return
	}

	if req.TempID != "" {
		if err := h.repo.MapClientID(ctx, taskID, req.TempID, sys.ID); err != nil {
			slog.Error("failed to map client id", "temp_id", req.TempID, "error", err)
		}
	}

	h.publish(ctx, taskID, domain.TopicSystemSaved, &sys)

	resp := map[string]interface{}{"system": &sys}
	if req.TempID != "" {
		resp["tempId"] = req.TempID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UpdateSystemRequest is the request body for PUT /systems/{id}. The
// expectedUpdatedAt stamp must match the stored one or the save is
// rejected with 409.
type UpdateSystemRequest struct {
	domain.SystemConfig
	ExpectedUpdatedAt time.Time `json:"expectedUpdatedAt"`
}

// UpdateSystem handles PUT /systems/{id}.
func (h *Handler) UpdateSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	systemID := chi.URLParam(r, "id")

	var req UpdateSystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ExpectedUpdatedAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "expectedUpdatedAt is required",
		})
		return
	}

	sys := req.SystemConfig
	sys.ID = systemID
	domain.SanitizeSystem(&sys)

	if err := h.repo.SaveSystem(ctx, taskID, &sys, req.ExpectedUpdatedAt); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			metrics.SaveConflictsTotal.WithLabelValues(taskID).Inc()
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "system was modified concurrently; re-fetch and retry",
			})
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "system not found",
			})
		default:
			slog.Error("failed to update system", "id", systemID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save system",
			})
		}
		return
	}

	h.publish(ctx, taskID, domain.TopicSystemSaved, &sys)

	writeJSON(w, http.StatusOK, map[string]interface{}{"system": &sys})
}

// ListSystems handles GET /systems.
func (h *Handler) ListSystems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	systems, err := h.repo.ListSystems(ctx, taskID)
	if err != nil {
		slog.Error("failed to list systems", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list systems",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"systems": systems,
		"count":   len(systems),
	})
}

// GetSystem handles GET /systems/{id}.
func (h *Handler) GetSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	systemID := chi.URLParam(r, "id")

	sys, err := h.repo.GetSystem(ctx, taskID, systemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "system not found",
			})
			return
		}
		slog.Error("failed to get system", "id", systemID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get system",
		})
		return
	}

	writeJSON(w, http.StatusOK, sys)
}

// DeleteSystem handles DELETE /systems/{id}.
func (h *Handler) DeleteSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	systemID := chi.URLParam(r, "id")

	if err := h.repo.DeleteSystem(ctx, taskID, systemID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "system not found",
			})
			return
		}
		slog.Error("failed to delete system", "id", systemID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete system",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "system deleted",
	})
}

// ScoreResponse is the response for POST /systems/{id}/score.
type ScoreResponse struct {
	Record   *domain.ScoreRecord      `json:"record"`
	Findings []domain.AdvisoryFinding `json:"findings"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// ScoreSystem handles POST /systems/{id}/score: it sanitizes the stored
// configuration, scores it against the current catalog and rule table,
// persists an audit record for a fresh round and runs the advisories.
func (h *Handler) ScoreSystem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	traceID := GetTraceID(ctx)
	systemID := chi.URLParam(r, "id")

	sys, err := h.repo.GetSystem(ctx, taskID, systemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "system not found",
			})
			return
		}
		slog.Error("failed to get system", "id", systemID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get system",
		})
		return
	}
	domain.SanitizeSystem(sys)

	catalog, err := h.loadCatalog(ctx, taskID)
	if err != nil {
		slog.Error("failed to load tool catalog", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load tool catalog",
		})
		return
	}

	result := scoring.Score(sys, catalog, h.table)

	round, err := h.repo.NextScoreRound(ctx, taskID, systemID)
	if err != nil {
		slog.Error("failed to allocate score round", "system", systemID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to allocate score round",
		})
		return
	}

	rec := &domain.ScoreRecord{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		SystemID:    systemID,
		Round:       round,
		Result:      *result,
		Inputs:      *sys,
		RuleVersion: result.RuleVersion,
		TraceID:     traceID,
	}
	if err := h.repo.SaveScoreRecord(ctx, taskID, rec); err != nil {
		slog.Error("failed to save score record", "system", systemID, "round", round, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save score record",
		})
		return
	}

	metrics.EvaluationsTotal.WithLabelValues(taskID).Inc()
	metrics.EvaluationDuration.WithLabelValues(taskID).Observe(time.Since(start).Seconds())
	if h.cache != nil {
		if _, err := h.cache.IncrementCounter(ctx, taskID, "evals", 24*time.Hour); err != nil {
			slog.Error("failed to increment evaluation counter", "error", err)
		}
	}

	h.publish(ctx, taskID, domain.TopicScoreComputed, rec)

	var findings []domain.AdvisoryFinding
	if h.advisories != nil && h.advisories.Count() > 0 {
		findings, err = h.advisories.EvaluateAll(ctx, taskID, result)
		if err != nil {
			slog.Error("advisory evaluation failed", "system", systemID, "error", err)
		}
		for i := range findings {
			findings[i].SystemID = systemID
			metrics.AdvisoryFindingsTotal.WithLabelValues(taskID, findings[i].Outcome).Inc()
			if findings[i].Outcome != domain.AdvisoryOK {
				h.publish(ctx, taskID, domain.TopicAdvisoryFlagged, &findings[i])
			}
		}
	}
	if findings == nil {
		findings = []domain.AdvisoryFinding{}
	}

	resp := ScoreResponse{Record: rec, Findings: findings}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// ListScores handles GET /systems/{id}/scores (newest round first).
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	systemID := chi.URLParam(r, "id")

	records, err := h.repo.ListScoreRecords(ctx, taskID, systemID)
	if err != nil {
		slog.Error("failed to list score records", "system", systemID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list score records",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// GetScore handles GET /scores/{id}.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)
	recordID := chi.URLParam(r, "id")

	rec, err := h.repo.GetScoreRecord(ctx, taskID, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "score record not found",
			})
			return
		}
		slog.Error("failed to get score record", "id", recordID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get score record",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetRuleTable handles GET /ruletable. The table is loaded once at process
// start; a nil table means the compiled defaults are in effect.
func (h *Handler) GetRuleTable(w http.ResponseWriter, r *http.Request) {
	if h.table == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version": "",
			"rules":   map[string]domain.ScoreRule{},
			"source":  "defaults",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": h.table.Version,
		"rules":   h.table.Rules,
		"source":  "file",
	})
}

// Export handles GET /export: a full task snapshot as JSON.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	ruleVersion := ""
	if h.table != nil {
		ruleVersion = h.table.Version
	}

	doc, err := snapshot.Export(ctx, h.repo, taskID, ruleVersion)
	if err != nil {
		slog.Error("export failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "export failed",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := snapshot.Encode(w, doc); err != nil {
		slog.Error("failed to encode snapshot", "error", err)
	}
}

// Import handles POST /import: applies a snapshot document to the task.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := GetTaskID(ctx)

	doc, err := snapshot.Decode(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid snapshot document: " + err.Error(),
		})
		return
	}

	summary, err := snapshot.Import(ctx, h.repo, taskID, doc)
	if err != nil {
		slog.Error("import failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "import failed: " + err.Error(),
		})
		return
	}

	// Imported tools invalidate any cached catalog.
	h.refreshCatalog(ctx, taskID)

	slog.Info("snapshot imported", "task_id", taskID, "tools", summary.Tools, "systems", summary.Systems)
	writeJSON(w, http.StatusOK, summary)
}

// loadCatalog returns the task's tool catalog, preferring the cache.
func (h *Handler) loadCatalog(ctx context.Context, taskID string) ([]*domain.MonitorTool, error) {
	if h.cache != nil {
		if tools, err := h.cache.GetCatalog(ctx, taskID); err == nil && tools != nil {
			return tools, nil
		}
	}

	tools, err := h.repo.ListTools(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		if err := h.cache.SetCatalog(ctx, taskID, tools, catalogTTL); err != nil {
			slog.Error("failed to cache catalog", "error", err)
		}
	}
	return tools, nil
}

// refreshCatalog re-reads the catalog from the repository into the cache
// after a catalog mutation.
func (h *Handler) refreshCatalog(ctx context.Context, taskID string) {
	if h.cache == nil {
		return
	}
	tools, err := h.repo.ListTools(ctx, taskID)
	if err != nil {
		slog.Error("failed to refresh catalog cache", "error", err)
		return
	}
	if err := h.cache.SetCatalog(ctx, taskID, tools, catalogTTL); err != nil {
		slog.Error("failed to refresh catalog cache", "error", err)
	}
}

// publish marshals payload and publishes it on the bus, logging failures.
func (h *Handler) publish(ctx context.Context, taskID, topic string, payload interface{}) {
	if h.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event payload", "topic", topic, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, taskID, topic, data); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
