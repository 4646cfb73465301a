// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists the workspace collaborators the chat pipeline
// consumes: default agents, provider API keys, and workspace memory.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id            TEXT PRIMARY KEY,
	workspace_id  TEXT NOT NULL,
	name          TEXT NOT NULL,
	system_prompt TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	temperature   REAL,
	max_tokens    INTEGER,
	is_default    INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_agents_workspace ON agents(workspace_id, is_default);

CREATE TABLE IF NOT EXISTS api_keys (
	id            TEXT PRIMARY KEY,
	workspace_id  TEXT NOT NULL,
	provider      TEXT NOT NULL,
	encrypted_key TEXT NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_api_keys_lookup ON api_keys(workspace_id, provider, is_active);

CREATE TABLE IF NOT EXISTS memory (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	project_id   TEXT,
	key          TEXT NOT NULL,
	value        TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_workspace ON memory(workspace_id, project_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_ws_key
	ON memory(workspace_id, key) WHERE project_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_proj_key
	ON memory(workspace_id, project_id, key) WHERE project_id IS NOT NULL;
`

// =============================================================================
// STORE
// =============================================================================

// Store wraps the sqlite database holding workspace state.
type Store struct {
	db     *sql.DB
	cipher *Cipher
}

// Open opens (creating if necessary) the database at path. The cipher
// encrypts API keys at rest; pass nil to store keys in the clear, which is
// only acceptable in tests.
func Open(path string, cipher *Cipher) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, cipher: cipher}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
