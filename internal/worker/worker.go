// Package worker provides async rescoring driven by catalog changes.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/metrics"
	"github.com/opsgrade/kestrel/internal/scoring"
)

// Worker rescores a task's systems when its tool catalog changes: every
// catalog.changed event triggers a full rescore of the task, each system
// getting a fresh round and audit record.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	table *domain.RuleTable

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TaskIDs is the list of tasks to watch.
	TaskIDs []string
}

// NewWorker creates a new rescoring worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, table *domain.RuleTable) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		table:  table,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins watching catalog changes for the given tasks.
func (w *Worker) Start(cfg Config) error {
	for _, taskID := range cfg.TaskIDs {
		if err := w.startTaskWorker(taskID); err != nil {
			slog.Error("failed to start worker for task",
				"task_id", taskID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"task_count", len(cfg.TaskIDs),
	)

	return nil
}

// startTaskWorker subscribes to catalog changes for a specific task.
func (w *Worker) startTaskWorker(taskID string) error {
	sub, err := w.bus.Subscribe(w.ctx, taskID, domain.TopicCatalogChanged, func(ctx context.Context, msg *domain.Message) error {
		return w.handleCatalogChange(ctx, taskID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("task worker started",
		"task_id", taskID,
		"topic", domain.TopicCatalogChanged,
	)

	return nil
}

// handleCatalogChange rescores every system of the task against the
// catalog as it now stands.
func (w *Worker) handleCatalogChange(ctx context.Context, taskID string, msg *domain.Message) error {
	start := time.Now()

	var change domain.CatalogChange
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		slog.Error("failed to parse catalog change",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if change.TaskID != "" {
		taskID = change.TaskID
	}

	catalog, err := w.repo.ListTools(ctx, taskID)
	if err != nil {
		slog.Error("failed to load catalog for rescore",
			"task_id", taskID,
			"error", err,
		)
		return err
	}

	systems, err := w.repo.ListSystems(ctx, taskID)
	if err != nil {
		slog.Error("failed to list systems for rescore",
			"task_id", taskID,
			"error", err,
		)
		return err
	}

	rescored := 0
	for _, sys := range systems {
		if err := w.rescore(ctx, taskID, sys, catalog); err != nil {
			slog.Error("rescore failed",
				"task_id", taskID,
				"system_id", sys.ID,
				"error", err,
			)
			continue
		}
		rescored++
	}

	slog.Info("catalog change processed",
		"task_id", taskID,
		"tool_id", change.ToolID,
		"action", change.Action,
		"systems_rescored", rescored,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// rescore scores one system and persists the record for a fresh round.
func (w *Worker) rescore(ctx context.Context, taskID string, sys *domain.SystemConfig, catalog []*domain.MonitorTool) error {
	domain.SanitizeSystem(sys)
	result := scoring.Score(sys, catalog, w.table)

	round, err := w.repo.NextScoreRound(ctx, taskID, sys.ID)
	if err != nil {
		return err
	}

	rec := &domain.ScoreRecord{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		SystemID:    sys.ID,
		Round:       round,
		Result:      *result,
		Inputs:      *sys,
		RuleVersion: result.RuleVersion,
	}
	if err := w.repo.SaveScoreRecord(ctx, taskID, rec); err != nil {
		return err
	}

	metrics.EvaluationsTotal.WithLabelValues(taskID).Inc()

	payload, _ := json.Marshal(rec)
	if err := w.bus.Publish(ctx, taskID, domain.TopicScoreComputed, payload); err != nil {
		slog.Error("failed to publish score",
			"system_id", sys.ID,
			"error", err,
		)
	}

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
