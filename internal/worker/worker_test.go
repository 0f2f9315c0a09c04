package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsgrade/kestrel/internal/bus"
	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-*.db")
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

	return repo
}

func seedTask(t *testing.T, repo domain.Repository, taskID string) {
	t.Helper()
	ctx := context.Background()

	tool := &domain.MonitorTool{
		ID:           "tool-zbx",
		Name:         "Zabbix",
		Capabilities: []domain.Capability{domain.CapHost},
		Scenarios: []domain.Scenario{
			{ID: "sc-cpu", Capability: domain.CapHost, Metric: "cpu.util"},
		},
	}
	if err := repo.SaveTool(ctx, taskID, tool); err != nil {
		t.Fatalf("SaveTool failed: %v", err)
	}

	sys := &domain.SystemConfig{
		ID:                 "sys-001",
		Name:               "billing-core",
		ServerTotal:        10,
		ServerCovered:      9,
		SelectedToolIDs:    []string{"tool-zbx"},
		ToolCapabilities:   map[string][]domain.Capability{"tool-zbx": {domain.CapHost}},
		CheckedScenarioIDs: []string{"sc-cpu"},
		OpsLeadConfigured:  true,
		DataMonitor:        domain.DataMonitorFull,
	}
	if err := repo.SaveSystem(ctx, taskID, sys, time.Time{}); err != nil {
		t.Fatalf("SaveSystem failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	seedTask(t, repo, "task-001")

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, repo, nil)

		cfg := Config{
			TaskIDs: []string{"task-001"},
		}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("CatalogChangeTriggersRescore", func(t *testing.T) {
		w := NewWorker(eventBus, repo, nil)

		cfg := Config{
			TaskIDs: []string{"task-001"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track published scores
		var scoreReceived atomic.Bool
		var scorePayload []byte

		eventBus.Subscribe(context.Background(), "task-001", domain.TopicScoreComputed, func(ctx context.Context, msg *domain.Message) error {
			scorePayload = msg.Payload
			scoreReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		change := domain.CatalogChange{
			TaskID: "task-001",
			ToolID: "tool-zbx",
			Action: "saved",
		}
		payload, _ := json.Marshal(change)
		if err := eventBus.Publish(context.Background(), "task-001", domain.TopicCatalogChanged, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !scoreReceived.Load() {
			t.Fatal("expected score to be published after catalog change")
		}

		var rec domain.ScoreRecord
		if err := json.Unmarshal(scorePayload, &rec); err != nil {
			t.Fatalf("failed to parse score record: %v", err)
		}
		if rec.SystemID != "sys-001" {
			t.Errorf("expected systemId 'sys-001', got '%s'", rec.SystemID)
		}
		if rec.Round < 1 {
			t.Errorf("expected a fresh round, got %d", rec.Round)
		}
		if rec.Result.Total <= 0 {
			t.Errorf("expected a positive total, got %v", rec.Result.Total)
		}

		// The record must also be in the audit log.
		records, err := repo.ListScoreRecords(context.Background(), "task-001", "sys-001")
		if err != nil {
			t.Fatalf("ListScoreRecords failed: %v", err)
		}
		if len(records) == 0 {
			t.Error("expected persisted score records")
		}
	})

	t.Run("EachChangeGetsFreshRound", func(t *testing.T) {
		w := NewWorker(eventBus, repo, nil)

		cfg := Config{
			TaskIDs: []string{"task-001"},
		}
		w.Start(cfg)
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		before, _ := repo.ListScoreRecords(context.Background(), "task-001", "sys-001")

		change := domain.CatalogChange{TaskID: "task-001", ToolID: "tool-zbx", Action: "deleted"}
		payload, _ := json.Marshal(change)
		eventBus.Publish(context.Background(), "task-001", domain.TopicCatalogChanged, payload)
		eventBus.Publish(context.Background(), "task-001", domain.TopicCatalogChanged, payload)

		time.Sleep(150 * time.Millisecond)

		after, _ := repo.ListScoreRecords(context.Background(), "task-001", "sys-001")
		if len(after) != len(before)+2 {
			t.Errorf("expected %d records, got %d", len(before)+2, len(after))
		}
		if len(after) >= 2 && after[0].Round == after[1].Round {
			t.Errorf("rounds must be distinct, got %d twice", after[0].Round)
		}
	})

	t.Run("MultiTask", func(t *testing.T) {
		w := NewWorker(eventBus, repo, nil)

		cfg := Config{
			TaskIDs: []string{"task-a", "task-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tasks, got %d", stats.SubscriptionCount)
		}
	})
}

func TestTaskIsolation(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	seedTask(t, repo, "task-001")

	w := NewWorker(eventBus, repo, nil)
	w.Start(Config{TaskIDs: []string{"task-001"}})
	defer w.Stop()

	var scoreReceived atomic.Bool
	eventBus.Subscribe(context.Background(), "task-001", domain.TopicScoreComputed, func(ctx context.Context, msg *domain.Message) error {
		scoreReceived.Store(true)
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	// A change on a foreign task must not trigger a rescore here.
	change := domain.CatalogChange{TaskID: "task-other", ToolID: "tool-x", Action: "saved"}
	payload, _ := json.Marshal(change)
	eventBus.Publish(context.Background(), "task-other", domain.TopicCatalogChanged, payload)

	time.Sleep(100 * time.Millisecond)

	if scoreReceived.Load() {
		t.Error("foreign task catalog change leaked into this task")
	}
}
