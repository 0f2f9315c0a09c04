// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opsgrade/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("version conflict")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTool upserts a catalog tool with task isolation.
func (r *SQLRepository) SaveTool(ctx context.Context, taskID string, tool *domain.MonitorTool) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}
	if tool == nil || tool.ID == "" {
		return fmt.Errorf("%w: tool id is required", ErrInvalidInput)
	}

	capabilities, _ := json.Marshal(tool.Capabilities)
	scenarios, _ := json.Marshal(tool.Scenarios)

	now := time.Now().UTC()
	created := tool.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO tools (
			id, task_id, name, capabilities, scenarios, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, task_id) DO UPDATE SET
			name = excluded.name,
			capabilities = excluded.capabilities,
			scenarios = excluded.scenarios,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tool.ID, taskID, tool.Name,
		string(capabilities), string(scenarios),
		created, now,
	)
	if err == nil {
		tool.TaskID = taskID
		tool.CreatedAt = created
		tool.UpdatedAt = now
	}
	return err
}

// GetTool retrieves a tool by ID with task isolation.
func (r *SQLRepository) GetTool(ctx context.Context, taskID string, toolID string) (*domain.MonitorTool, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, task_id, name, capabilities, scenarios, created_at, updated_at
		FROM tools
		WHERE task_id = ? AND id = ?
	`

	var tool domain.MonitorTool
	var capabilities, scenarios string

	err := r.db.QueryRowContext(ctx, r.rebind(query), taskID, toolID).Scan(
		&tool.ID, &tool.TaskID, &tool.Name,
		&capabilities, &scenarios,
		&tool.CreatedAt, &tool.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(capabilities), &tool.Capabilities)
	if scenarios != "" {
		json.Unmarshal([]byte(scenarios), &tool.Scenarios)
	}

	return &tool, nil
}

// ListTools retrieves the full tool catalog for a task.
func (r *SQLRepository) ListTools(ctx context.Context, taskID string) ([]*domain.MonitorTool, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, task_id, name, capabilities, scenarios, created_at, updated_at
		FROM tools
		WHERE task_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*domain.MonitorTool
	for rows.Next() {
		var tool domain.MonitorTool
		var capabilities, scenarios string

		if err := rows.Scan(
			&tool.ID, &tool.TaskID, &tool.Name,
			&capabilities, &scenarios,
			&tool.CreatedAt, &tool.UpdatedAt,
		); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(capabilities), &tool.Capabilities)
		if scenarios != "" {
			json.Unmarshal([]byte(scenarios), &tool.Scenarios)
		}
		tools = append(tools, &tool)
	}

	return tools, rows.Err()
}

// DeleteTool removes a tool and cascades into the task's systems: the
// tool's selection, its capability grants and its scenario check-offs are
// stripped from every system in the same transaction, bumping each
// touched system's update stamp.
func (r *SQLRepository) DeleteTool(ctx context.Context, taskID string, toolID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	tool, err := r.GetTool(ctx, taskID, toolID)
	if err != nil {
		return err
	}
	scenarioIDs := make(map[string]bool)
	for _, id := range tool.ScenarioIDs() {
		scenarioIDs[id] = true
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM tools WHERE task_id = ? AND id = ?`), taskID, toolID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	rows, err := tx.QueryContext(ctx, r.rebind(`SELECT id, config FROM systems WHERE task_id = ?`), taskID)
	if err != nil {
		return err
	}

	type patch struct {
		id     string
		config string
	}
	var patches []patch

	for rows.Next() {
		var id, config string
		if err := rows.Scan(&id, &config); err != nil {
			rows.Close()
			return err
		}

		var sys domain.SystemConfig
		if err := json.Unmarshal([]byte(config), &sys); err != nil {
			rows.Close()
			return fmt.Errorf("failed to parse system %s config: %w", id, err)
		}

		if !stripTool(&sys, toolID, scenarioIDs) {
			continue
		}

		updated, err := json.Marshal(&sys)
		if err != nil {
			rows.Close()
			return err
		}
		patches = append(patches, patch{id: id, config: string(updated)})
	}
	if err := rows.Close(); err != nil {
		return err
	}

	nowNs := time.Now().UTC().UnixNano()
	for _, p := range patches {
		if _, err := tx.ExecContext(ctx,
			r.rebind(`UPDATE systems SET config = ?, updated_at_ns = ? WHERE task_id = ? AND id = ?`),
			p.config, nowNs, taskID, p.id,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// stripTool removes every reference to toolID from a system configuration.
// Returns true if anything changed.
func stripTool(sys *domain.SystemConfig, toolID string, scenarioIDs map[string]bool) bool {
	changed := false

	kept := sys.SelectedToolIDs[:0]
	for _, id := range sys.SelectedToolIDs {
		if id == toolID {
			changed = true
			continue
		}
		kept = append(kept, id)
	}
	sys.SelectedToolIDs = kept

	if _, ok := sys.ToolCapabilities[toolID]; ok {
		delete(sys.ToolCapabilities, toolID)
		changed = true
	}

	checked := sys.CheckedScenarioIDs[:0]
	for _, id := range sys.CheckedScenarioIDs {
		if scenarioIDs[id] {
			changed = true
			continue
		}
		checked = append(checked, id)
	}
	sys.CheckedScenarioIDs = checked

	return changed
}

// SaveSystem stores a system configuration under optimistic concurrency.
// A zero expected timestamp creates the system and fails with ErrConflict
// if it already exists; a non-zero expected timestamp must match the
// stored update stamp exactly or the save is rejected with ErrConflict.
func (r *SQLRepository) SaveSystem(ctx context.Context, taskID string, sys *domain.SystemConfig, expected time.Time) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}
	if sys == nil || sys.ID == "" {
		return fmt.Errorf("%w: system id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	sys.TaskID = taskID
	sys.UpdatedAt = now

	if expected.IsZero() {
		if sys.CreatedAt.IsZero() {
			sys.CreatedAt = now
		}
		config, err := json.Marshal(sys)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO systems (id, task_id, name, tier, config, created_at, updated_at_ns)
			SELECT ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM systems WHERE task_id = ? AND id = ?)
		`
		result, err := r.db.ExecContext(ctx, r.rebind(query),
			sys.ID, taskID, sys.Name, string(sys.Tier), string(config),
			sys.CreatedAt, now.UnixNano(),
			taskID, sys.ID,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: system %s already exists", ErrConflict, sys.ID)
		}
		return nil
	}

	config, err := json.Marshal(sys)
	if err != nil {
		return err
	}

	query := `
		UPDATE systems
		SET name = ?, tier = ?, config = ?, updated_at_ns = ?
		WHERE task_id = ? AND id = ? AND updated_at_ns = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		sys.Name, string(sys.Tier), string(config), now.UnixNano(),
		taskID, sys.ID, expected.UnixNano(),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx,
			r.rebind(`SELECT 1 FROM systems WHERE task_id = ? AND id = ?`), taskID, sys.ID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: system %s was modified concurrently", ErrConflict, sys.ID)
	}
	return nil
}

// GetSystem retrieves a system configuration with task isolation.
func (r *SQLRepository) GetSystem(ctx context.Context, taskID string, systemID string) (*domain.SystemConfig, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT config, created_at, updated_at_ns
		FROM systems
		WHERE task_id = ? AND id = ?
	`

	var config string
	var createdAt time.Time
	var updatedNs int64

	err := r.db.QueryRowContext(ctx, r.rebind(query), taskID, systemID).Scan(&config, &createdAt, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sys domain.SystemConfig
	if err := json.Unmarshal([]byte(config), &sys); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	sys.ID = systemID
	sys.TaskID = taskID
	sys.CreatedAt = createdAt
	sys.UpdatedAt = time.Unix(0, updatedNs).UTC()

	return &sys, nil
}

// ListSystems retrieves all system configurations for a task.
func (r *SQLRepository) ListSystems(ctx context.Context, taskID string) ([]*domain.SystemConfig, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, config, created_at, updated_at_ns
		FROM systems
		WHERE task_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var systems []*domain.SystemConfig
	for rows.Next() {
		var id, config string
		var createdAt time.Time
		var updatedNs int64

		if err := rows.Scan(&id, &config, &createdAt, &updatedNs); err != nil {
			return nil, err
		}

		var sys domain.SystemConfig
		if err := json.Unmarshal([]byte(config), &sys); err != nil {
			return nil, fmt.Errorf("failed to parse system %s config: %w", id, err)
		}
		sys.ID = id
		sys.TaskID = taskID
		sys.CreatedAt = createdAt
		sys.UpdatedAt = time.Unix(0, updatedNs).UTC()
		systems = append(systems, &sys)
	}

	return systems, rows.Err()
}

// DeleteSystem removes a system configuration.
func (r *SQLRepository) DeleteSystem(ctx context.Context, taskID string, systemID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM systems WHERE task_id = ? AND id = ?`), taskID, systemID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveScoreRecord stores an immutable score audit record.
func (r *SQLRepository) SaveScoreRecord(ctx context.Context, taskID string, rec *domain.ScoreRecord) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	result, _ := json.Marshal(rec.Result)
	inputs, _ := json.Marshal(rec.Inputs)

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.TaskID = taskID

	query := `
		INSERT INTO score_records (
			id, task_id, system_id, round, result, inputs, rule_version, trace_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, taskID, rec.SystemID, rec.Round,
		string(result), string(inputs),
		rec.RuleVersion, rec.TraceID, rec.CreatedAt,
	)
	return err
}

// GetScoreRecord retrieves a score record by ID with task isolation.
func (r *SQLRepository) GetScoreRecord(ctx context.Context, taskID string, recordID string) (*domain.ScoreRecord, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, task_id, system_id, round, result, inputs, rule_version, trace_id, created_at
		FROM score_records
		WHERE task_id = ? AND id = ?
	`

	var rec domain.ScoreRecord
	var result, inputs string

	err := r.db.QueryRowContext(ctx, r.rebind(query), taskID, recordID).Scan(
		&rec.ID, &rec.TaskID, &rec.SystemID, &rec.Round,
		&result, &inputs, &rec.RuleVersion, &rec.TraceID, &rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(result), &rec.Result)
	json.Unmarshal([]byte(inputs), &rec.Inputs)

	return &rec, nil
}

// ListScoreRecords retrieves a system's score history, newest round first.
func (r *SQLRepository) ListScoreRecords(ctx context.Context, taskID string, systemID string) ([]*domain.ScoreRecord, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, task_id, system_id, round, result, inputs, rule_version, trace_id, created_at
		FROM score_records
		WHERE task_id = ? AND system_id = ?
		ORDER BY round DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), taskID, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ScoreRecord
	for rows.Next() {
		var rec domain.ScoreRecord
		var result, inputs string

		if err := rows.Scan(
			&rec.ID, &rec.TaskID, &rec.SystemID, &rec.Round,
			&result, &inputs, &rec.RuleVersion, &rec.TraceID, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(result), &rec.Result)
		json.Unmarshal([]byte(inputs), &rec.Inputs)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// NextScoreRound allocates the next evaluation round for a system.
func (r *SQLRepository) NextScoreRound(ctx context.Context, taskID string, systemID string) (int64, error) {
	if taskID == "" {
		return 0, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT COALESCE(MAX(round), 0) + 1
		FROM score_records
		WHERE task_id = ? AND system_id = ?
	`

	var round int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), taskID, systemID).Scan(&round); err != nil {
		return 0, err
	}
	return round, nil
}

// SaveAdvisory upserts an advisory configuration with task isolation.
func (r *SQLRepository) SaveAdvisory(ctx context.Context, taskID string, adv *domain.AdvisoryConfig) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}
	if adv == nil || adv.ID == "" {
		return fmt.Errorf("%w: advisory id is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(adv.Bands)

	enabled := 0
	if adv.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO advisories (
			id, task_id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, task_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		adv.ID, taskID, adv.Name, adv.Description,
		adv.Version, adv.Expression, string(bands), enabled,
		now, now,
	)
	if err == nil {
		adv.TaskID = taskID
	}
	return err
}

// ListAdvisories retrieves all advisory configurations for a task.
func (r *SQLRepository) ListAdvisories(ctx context.Context, taskID string) ([]*domain.AdvisoryConfig, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, task_id, name, description, version, expression, bands, enabled
		FROM advisories
		WHERE task_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var advisories []*domain.AdvisoryConfig
	for rows.Next() {
		var adv domain.AdvisoryConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&adv.ID, &adv.TaskID, &adv.Name, &adv.Description,
			&adv.Version, &adv.Expression, &bands, &enabled,
		); err != nil {
			return nil, err
		}

		adv.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &adv.Bands)
		advisories = append(advisories, &adv)
	}

	return advisories, rows.Err()
}

// MapClientID records the durable id assigned for a client-generated
// temporary id. Saving again for the same temp id overwrites the mapping.
func (r *SQLRepository) MapClientID(ctx context.Context, taskID string, tempID string, durableID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}
	if tempID == "" || durableID == "" {
		return fmt.Errorf("%w: temp and durable ids are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO id_map (task_id, temp_id, durable_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, temp_id) DO UPDATE SET
			durable_id = excluded.durable_id
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), taskID, tempID, durableID, time.Now().UTC())
	return err
}

// ResolveClientID looks up the durable id for a client temporary id.
func (r *SQLRepository) ResolveClientID(ctx context.Context, taskID string, tempID string) (string, error) {
	if taskID == "" {
		return "", fmt.Errorf("%w: taskID is required", ErrInvalidInput)
	}

	var durableID string
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT durable_id FROM id_map WHERE task_id = ? AND temp_id = ?`), taskID, tempID,
	).Scan(&durableID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return durableID, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
