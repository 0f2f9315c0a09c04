package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/opsgrade/kestrel/internal/advisory"
	"github.com/opsgrade/kestrel/internal/bus"
	"github.com/opsgrade/kestrel/internal/cache"
	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/repository"
	"github.com/opsgrade/kestrel/internal/snapshot"
)

// createTestServer builds a server over a temp sqlite store, an in-memory
// cache and a channel bus.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := advisory.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create advisory engine: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	table := &domain.RuleTable{Version: "test-rules"}

	return NewServer(cfg, repo, cache.NewLRUCache(100), bus.NewChannelBus(16), engine, table, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path, taskID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if taskID != "" {
		req.Header.Set("X-Task-ID", taskID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func testToolBody() map[string]interface{} {
	return map[string]interface{}{
		"id":           "tool-zbx",
		"name":         "Zabbix",
		"capabilities": []string{"host", "process"},
		"scenarios": []map[string]string{
			{"id": "sc-cpu", "capability": "host", "metric": "cpu.util", "severity": "red"},
			{"id": "sc-mem", "capability": "host", "metric": "mem.util"},
		},
	}
}

func testSystemBody() map[string]interface{} {
	return map[string]interface{}{
		"id":            "sys-001",
		"name":          "billing-core",
		"tier":          "A",
		"serverTotal":   10,
		"serverCovered": 9,
		"selectedToolIds": []string{
			"tool-zbx",
		},
		"toolCapabilities": map[string][]string{
			"tool-zbx": {"host"},
		},
		"checkedScenarioIds": []string{"sc-cpu"},
		"opsLeadConfigured":  true,
		"dataMonitor":        "full",
	}
}

func TestSystemEndpoints(t *testing.T) {
	server := createTestServer(t)
	taskID := "task-001"

	t.Run("MissingTaskID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/systems", "", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateSystem", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/systems", taskID, testSystemBody())
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			System domain.SystemConfig `json:"system"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.System.ID != "sys-001" {
			t.Errorf("expected id sys-001, got %s", resp.System.ID)
		}
		if resp.System.UpdatedAt.IsZero() {
			t.Error("expected updatedAt to be set on create")
		}
	})

	t.Run("CreateDuplicateConflicts", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/systems", taskID, testSystemBody())
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("CreateAssignsDurableIDForTempID", func(t *testing.T) {
		body := testSystemBody()
		delete(body, "id")
		body["name"] = "payments-edge"
		body["tempId"] = "local-42"

		rr := doJSON(t, server, http.MethodPost, "/systems", taskID, body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			System domain.SystemConfig `json:"system"`
			TempID string              `json:"tempId"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.System.ID == "" {
			t.Error("expected a server-assigned durable id")
		}
		if resp.TempID != "local-42" {
			t.Errorf("expected tempId echoed back, got %q", resp.TempID)
		}
	})

	t.Run("CreateRequiresName", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/systems", taskID, map[string]interface{}{"id": "sys-x"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UpdateWithCurrentStamp", func(t *testing.T) {
		get := doJSON(t, server, http.MethodGet, "/systems/sys-001", taskID, nil)
		if get.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", get.Code)
		}
		var sys domain.SystemConfig
		json.Unmarshal(get.Body.Bytes(), &sys)

		body := testSystemBody()
		body["serverCovered"] = 10
		body["expectedUpdatedAt"] = sys.UpdatedAt.Format(time.RFC3339Nano)

		rr := doJSON(t, server, http.MethodPut, "/systems/sys-001", taskID, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("StaleUpdateConflicts", func(t *testing.T) {
		body := testSystemBody()
		body["serverCovered"] = 3
		body["expectedUpdatedAt"] = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)

		rr := doJSON(t, server, http.MethodPut, "/systems/sys-001", taskID, body)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}

		// The stale write must not have been applied.
		get := doJSON(t, server, http.MethodGet, "/systems/sys-001", taskID, nil)
		var sys domain.SystemConfig
		json.Unmarshal(get.Body.Bytes(), &sys)
		if sys.ServerCovered != 10 {
			t.Errorf("stale update leaked through: serverCovered = %d", sys.ServerCovered)
		}
	})

	t.Run("UpdateRequiresStamp", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPut, "/systems/sys-001", taskID, testSystemBody())
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UpdateMissingSystem", func(t *testing.T) {
		body := testSystemBody()
		body["expectedUpdatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

		rr := doJSON(t, server, http.MethodPut, "/systems/no-such", taskID, body)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("TaskIsolation", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/systems/sys-001", "task-other", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for foreign task, got %d", rr.Code)
		}
	})

	t.Run("DeleteSystem", func(t *testing.T) {
		body := testSystemBody()
		body["id"] = "sys-del"
		body["name"] = "throwaway"
		if rr := doJSON(t, server, http.MethodPost, "/systems", taskID, body); rr.Code != http.StatusCreated {
			t.Fatalf("setup create failed: %d", rr.Code)
		}

		rr := doJSON(t, server, http.MethodDelete, "/systems/sys-del", taskID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if rr := doJSON(t, server, http.MethodGet, "/systems/sys-del", taskID, nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", rr.Code)
		}
	})
}

func TestScoreEndpoints(t *testing.T) {
	server := createTestServer(t)
	taskID := "task-001"

	if rr := doJSON(t, server, http.MethodPost, "/tools", taskID, testToolBody()); rr.Code != http.StatusCreated {
		t.Fatalf("tool setup failed: %d: %s", rr.Code, rr.Body.String())
	}
	if rr := doJSON(t, server, http.MethodPost, "/systems", taskID, testSystemBody()); rr.Code != http.StatusCreated {
		t.Fatalf("system setup failed: %d: %s", rr.Code, rr.Body.String())
	}

	t.Run("ScoreSystem", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/systems/sys-001/score", taskID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Record == nil || resp.Record.ID == "" {
			t.Fatal("expected a persisted score record")
		}
		if resp.Record.Round != 1 {
			t.Errorf("expected round 1, got %d", resp.Record.Round)
		}
		if resp.Record.Result.Total <= 0 {
			t.Errorf("expected a positive total, got %v", resp.Record.Result.Total)
		}
		if resp.Record.Result.RuleVersion != "test-rules" {
			t.Errorf("expected rule version test-rules, got %s", resp.Record.Result.RuleVersion)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
	})

	t.Run("RoundsIncrease", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/systems/sys-001/score", taskID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Record.Round != 2 {
			t.Errorf("expected round 2, got %d", resp.Record.Round)
		}
	})

	t.Run("ListScores", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/systems/sys-001/scores", taskID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Records []domain.ScoreRecord `json:"records"`
			Count   int                  `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Fatalf("expected 2 records, got %d", resp.Count)
		}
		if resp.Records[0].Round != 2 {
			t.Errorf("expected newest round first, got %d", resp.Records[0].Round)
		}
	})

	t.Run("GetScoreByID", func(t *testing.T) {
		list := doJSON(t, server, http.MethodGet, "/systems/sys-001/scores", taskID, nil)
		var resp struct {
			Records []domain.ScoreRecord `json:"records"`
		}
		json.Unmarshal(list.Body.Bytes(), &resp)

		rr := doJSON(t, server, http.MethodGet, "/scores/"+resp.Records[0].ID, taskID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("ScoreMissingSystem", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/systems/no-such/score", taskID, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestToolEndpoints(t *testing.T) {
	server := createTestServer(t)
	taskID := "task-001"

	t.Run("CreateTool", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/tools", taskID, testToolBody())
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectsUndeclaredScenarioCapability", func(t *testing.T) {
		body := testToolBody()
		body["id"] = "tool-bad"
		body["scenarios"] = []map[string]string{
			{"id": "sc-db", "capability": "db", "metric": "db.conn"},
		}
		rr := doJSON(t, server, http.MethodPost, "/tools", taskID, body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UpdateTool", func(t *testing.T) {
		body := testToolBody()
		body["name"] = "Zabbix 7"
		rr := doJSON(t, server, http.MethodPut, "/tools/tool-zbx", taskID, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		get := doJSON(t, server, http.MethodGet, "/tools/tool-zbx", taskID, nil)
		var tool domain.MonitorTool
		json.Unmarshal(get.Body.Bytes(), &tool)
		if tool.Name != "Zabbix 7" {
			t.Errorf("update not applied: %s", tool.Name)
		}
	})

	t.Run("DeleteToolStripsReferences", func(t *testing.T) {
		if rr := doJSON(t, server, http.MethodPost, "/systems", taskID, testSystemBody()); rr.Code != http.StatusCreated {
			t.Fatalf("system setup failed: %d", rr.Code)
		}

		rr := doJSON(t, server, http.MethodDelete, "/tools/tool-zbx", taskID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		get := doJSON(t, server, http.MethodGet, "/systems/sys-001", taskID, nil)
		var sys domain.SystemConfig
		json.Unmarshal(get.Body.Bytes(), &sys)
		if len(sys.SelectedToolIDs) != 0 {
			t.Errorf("tool selection not stripped: %v", sys.SelectedToolIDs)
		}
		if len(sys.CheckedScenarioIDs) != 0 {
			t.Errorf("checked scenarios not stripped: %v", sys.CheckedScenarioIDs)
		}
	})

	t.Run("DeleteMissingTool", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodDelete, "/tools/no-such", taskID, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRuleTableEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/ruletable", "task-001", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["version"] != "test-rules" {
		t.Errorf("expected version test-rules, got %v", resp["version"])
	}
}

func TestExportImport(t *testing.T) {
	server := createTestServer(t)
	taskID := "task-001"

	if rr := doJSON(t, server, http.MethodPost, "/tools", taskID, testToolBody()); rr.Code != http.StatusCreated {
		t.Fatalf("tool setup failed: %d", rr.Code)
	}
	if rr := doJSON(t, server, http.MethodPost, "/systems", taskID, testSystemBody()); rr.Code != http.StatusCreated {
		t.Fatalf("system setup failed: %d", rr.Code)
	}

	export := doJSON(t, server, http.MethodGet, "/export", taskID, nil)
	if export.Code != http.StatusOK {
		t.Fatalf("export failed: %d: %s", export.Code, export.Body.String())
	}

	var doc snapshot.Document
	if err := json.Unmarshal(export.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse snapshot: %v", err)
	}
	if len(doc.Tools) != 1 || len(doc.Systems) != 1 {
		t.Fatalf("unexpected snapshot contents: %d tools, %d systems", len(doc.Tools), len(doc.Systems))
	}
	if doc.RuleVersion != "test-rules" {
		t.Errorf("expected rule version test-rules, got %s", doc.RuleVersion)
	}

	// Import into a second task on a fresh server.
	other := createTestServer(t)
	rr := doJSON(t, other, http.MethodPost, "/import", taskID, doc)
	if rr.Code != http.StatusOK {
		t.Fatalf("import failed: %d: %s", rr.Code, rr.Body.String())
	}

	var summary snapshot.Summary
	json.Unmarshal(rr.Body.Bytes(), &summary)
	if summary.Tools != 1 || summary.Systems != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// Scoring on the imported data must work immediately.
	score := doJSON(t, other, http.MethodPost, "/systems/sys-001/score", taskID, nil)
	if score.Code != http.StatusOK {
		t.Errorf("scoring imported system failed: %d: %s", score.Code, score.Body.String())
	}

	t.Run("RejectsBadDocument", func(t *testing.T) {
		rr := doJSON(t, other, http.MethodPost, "/import", taskID, map[string]string{"version": "99"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAdvisoryEndpoints(t *testing.T) {
	server := createTestServer(t)
	taskID := "task-001"

	if rr := doJSON(t, server, http.MethodPost, "/tools", taskID, testToolBody()); rr.Code != http.StatusCreated {
		t.Fatalf("tool setup failed: %d", rr.Code)
	}
	if rr := doJSON(t, server, http.MethodPost, "/systems", taskID, testSystemBody()); rr.Code != http.StatusCreated {
		t.Fatalf("system setup failed: %d", rr.Code)
	}

	lower := 0.0
	upper := 80.0

	t.Run("CreateAdvisory", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/advisories", taskID, CreateAdvisoryRequest{
			ID:         "adv-low-total",
			Name:       "Low total score",
			Expression: "total",
			Bands: []domain.AdvisoryBand{
				{LowerLimit: &lower, UpperLimit: &upper, Outcome: domain.AdvisoryAttention, Reason: "total below 80"},
				{LowerLimit: &upper, Outcome: domain.AdvisoryOK, Reason: "healthy"},
			},
			Enabled: true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectsBadExpression", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/advisories", taskID, CreateAdvisoryRequest{
			ID:         "adv-bad",
			Name:       "Broken",
			Expression: "no_such_var + 1",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadAndEvaluate", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/advisories/reload", taskID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("reload failed: %d: %s", rr.Code, rr.Body.String())
		}

		score := doJSON(t, server, http.MethodPost, "/systems/sys-001/score", taskID, nil)
		if score.Code != http.StatusOK {
			t.Fatalf("score failed: %d", score.Code)
		}

		var resp ScoreResponse
		json.Unmarshal(score.Body.Bytes(), &resp)
		if len(resp.Findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(resp.Findings))
		}
		if resp.Findings[0].AdvisoryID != "adv-low-total" {
			t.Errorf("unexpected advisory id: %s", resp.Findings[0].AdvisoryID)
		}
		if resp.Findings[0].SystemID != "sys-001" {
			t.Errorf("finding missing system id: %+v", resp.Findings[0])
		}
	})

	t.Run("ListAdvisories", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/advisories", taskID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 advisory, got %d", resp.Count)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("MetricsExposed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TaskMiddlewareExtractsID", func(t *testing.T) {
		var capturedTaskID string

		handler := TaskMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTaskID = GetTaskID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Task-ID", "my-task-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTaskID != "my-task-123" {
			t.Errorf("expected task ID 'my-task-123', got '%s'", capturedTaskID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
