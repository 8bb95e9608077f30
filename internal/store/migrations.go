package store

import (
	"fmt"
	"strconv"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

// schemaVersion reads meta(schema_version) as an integer. The value is
// stored as text, so it must never be compared lexicographically: "10"
// sorts before "2".
func (s *Store) schemaVersion() (int, error) {
	var raw string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("unreadable schema version %q: %w", raw, err)
	}
	return v, nil
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		display_name  TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id),
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		color       TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL REFERENCES users(id),
		project_id        TEXT REFERENCES projects(id),
		parent_id         TEXT REFERENCES tasks(id),
		title             TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'pending',
		priority          TEXT NOT NULL DEFAULT 'medium',
		category          TEXT,
		due_date          INTEGER,
		estimated_minutes INTEGER,
		actual_minutes    INTEGER,
		started_at        INTEGER,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		completed_at      INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_due ON tasks(user_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL REFERENCES users(id),
		task_id         TEXT REFERENCES tasks(id),
		project_id      TEXT REFERENCES projects(id),
		type            TEXT NOT NULL DEFAULT 'general',
		title           TEXT NOT NULL DEFAULT '',
		message_count   INTEGER NOT NULL DEFAULT 0,
		total_tokens    INTEGER NOT NULL DEFAULT 0,
		last_message_at INTEGER,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_task ON conversations(task_id);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		input_tokens    INTEGER NOT NULL DEFAULT 0,
		output_tokens   INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

// migrateV2 adds the AI assistance layer: stall tracking, enrichment
// proposals, versioned task contexts, and execution history.
func (s *Store) migrateV2() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version >= 2 {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS task_stalls (
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL REFERENCES tasks(id),
		reason     TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at   INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_stalls_task ON task_stalls(task_id);
	CREATE INDEX IF NOT EXISTS idx_stalls_open ON task_stalls(task_id) WHERE ended_at IS NULL;

	CREATE TABLE IF NOT EXISTS enrichment_proposals (
		id                TEXT PRIMARY KEY,
		task_id           TEXT NOT NULL REFERENCES tasks(id),
		user_id           TEXT NOT NULL REFERENCES users(id),
		status            TEXT NOT NULL DEFAULT 'proposed',
		estimated_minutes INTEGER,
		category          TEXT,
		subtasks          TEXT NOT NULL DEFAULT '[]',
		reasoning         TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		applied_at        INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_task ON enrichment_proposals(task_id, status);

	CREATE TABLE IF NOT EXISTS task_contexts (
		id              TEXT PRIMARY KEY,
		task_id         TEXT NOT NULL REFERENCES tasks(id),
		user_id         TEXT NOT NULL REFERENCES users(id),
		type            TEXT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		content         TEXT NOT NULL,
		metadata        TEXT,
		conversation_id TEXT,
		version         INTEGER NOT NULL,
		is_current      INTEGER NOT NULL DEFAULT 1,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_contexts_current ON task_contexts(task_id, type) WHERE is_current = 1;
	CREATE UNIQUE INDEX IF NOT EXISTS ux_contexts_version ON task_contexts(task_id, type, version);
	CREATE INDEX IF NOT EXISTS idx_contexts_task ON task_contexts(task_id, updated_at);

	CREATE TABLE IF NOT EXISTS execution_history (
		id                   TEXT PRIMARY KEY,
		task_id              TEXT NOT NULL UNIQUE REFERENCES tasks(id),
		user_id              TEXT NOT NULL REFERENCES users(id),
		title                TEXT NOT NULL,
		category             TEXT,
		estimated_minutes    INTEGER,
		actual_minutes       INTEGER,
		estimate_ratio       REAL,
		days_overdue         INTEGER,
		outcome              TEXT NOT NULL,
		subtasks_total       INTEGER NOT NULL DEFAULT 0,
		subtasks_completed   INTEGER NOT NULL DEFAULT 0,
		subtasks_added_late  INTEGER NOT NULL DEFAULT 0,
		stall_count          INTEGER NOT NULL DEFAULT 0,
		stall_minutes        INTEGER NOT NULL DEFAULT 0,
		stall_events         TEXT NOT NULL DEFAULT '[]',
		added_subtask_titles TEXT NOT NULL DEFAULT '[]',
		fingerprint          TEXT NOT NULL DEFAULT '[]',
		completed_at         INTEGER NOT NULL,
		created_at           INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_user ON execution_history(user_id, completed_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
