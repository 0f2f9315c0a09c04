package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require taskID for strict per-task isolation.
type Repository interface {
	// Tool catalog operations. DeleteTool cascades: it removes every
	// reference to the tool (selections, capability grants, checked
	// scenarios) from the task's systems in the same transaction.
	SaveTool(ctx context.Context, taskID string, tool *MonitorTool) error
	GetTool(ctx context.Context, taskID string, toolID string) (*MonitorTool, error)
	ListTools(ctx context.Context, taskID string) ([]*MonitorTool, error)
	DeleteTool(ctx context.Context, taskID string, toolID string) error

	// System operations. SaveSystem enforces optimistic concurrency: a
	// non-zero expected timestamp must match the stored updated_at or the
	// save is rejected with ErrConflict. A zero expected timestamp means
	// "create"; it fails with ErrConflict if the system already exists.
	SaveSystem(ctx context.Context, taskID string, sys *SystemConfig, expected time.Time) error
	GetSystem(ctx context.Context, taskID string, systemID string) (*SystemConfig, error)
	ListSystems(ctx context.Context, taskID string) ([]*SystemConfig, error)
	DeleteSystem(ctx context.Context, taskID string, systemID string) error

	// Score audit records: insert-only, one per (system, round).
	SaveScoreRecord(ctx context.Context, taskID string, rec *ScoreRecord) error
	GetScoreRecord(ctx context.Context, taskID string, recordID string) (*ScoreRecord, error)
	ListScoreRecords(ctx context.Context, taskID string, systemID string) ([]*ScoreRecord, error)
	NextScoreRound(ctx context.Context, taskID string, systemID string) (int64, error)

	// Advisory configuration operations.
	SaveAdvisory(ctx context.Context, taskID string, adv *AdvisoryConfig) error
	ListAdvisories(ctx context.Context, taskID string) ([]*AdvisoryConfig, error)

	// Client-generated temporary id reconciliation (save path).
	MapClientID(ctx context.Context, taskID string, tempID string, durableID string) error
	ResolveClientID(ctx context.Context, taskID string, tempID string) (string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
