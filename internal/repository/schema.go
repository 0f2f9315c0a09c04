package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTools = `
CREATE TABLE IF NOT EXISTS tools (
    id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    name TEXT NOT NULL,
    capabilities TEXT NOT NULL,
    scenarios TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_tools_task ON tools(task_id);
CREATE INDEX IF NOT EXISTS idx_tools_name ON tools(task_id, name);
`

// Systems carry their full configuration as one JSON document; the
// updated_at_ns column holds the update stamp as integer unix nanoseconds
// so the optimistic-concurrency comparison is exact on every driver.
const schemaSystems = `
CREATE TABLE IF NOT EXISTS systems (
    id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    name TEXT NOT NULL,
    tier TEXT,
    config TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at_ns BIGINT NOT NULL,
    PRIMARY KEY (id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_systems_task ON systems(task_id);
CREATE INDEX IF NOT EXISTS idx_systems_name ON systems(task_id, name);
`

const schemaScoreRecords = `
CREATE TABLE IF NOT EXISTS score_records (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    system_id TEXT NOT NULL,
    round BIGINT NOT NULL,
    result TEXT NOT NULL,
    inputs TEXT NOT NULL,
    rule_version TEXT,
    trace_id TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (task_id, system_id, round)
);

CREATE INDEX IF NOT EXISTS idx_score_records_task ON score_records(task_id);
CREATE INDEX IF NOT EXISTS idx_score_records_system ON score_records(task_id, system_id);
`

const schemaAdvisories = `
CREATE TABLE IF NOT EXISTS advisories (
    id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_advisories_task ON advisories(task_id);
`

// id_map reconciles client-generated temporary ids against the durable
// server-assigned ids handed out on first save.
const schemaIDMap = `
CREATE TABLE IF NOT EXISTS id_map (
    task_id TEXT NOT NULL,
    temp_id TEXT NOT NULL,
    durable_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (task_id, temp_id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTools,
		schemaSystems,
		schemaScoreRecords,
		schemaAdvisories,
		schemaIDMap,
	}
}
