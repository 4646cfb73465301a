// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is one key-value fact the workspace has accumulated about
// its projects. Entries with a nil ProjectID apply workspace-wide.
type MemoryEntry struct {
	ID          string
	WorkspaceID string
	ProjectID   *string
	Key         string
	Value       string
	UpdatedAt   time.Time
}

// UpsertMemory stores a fact, replacing any previous value for the same
// key in the same scope. Workspace-wide and project scopes use separate
// conflict targets because SQLite treats NULLs as distinct in unique
// constraints.
func (s *Store) UpsertMemory(ctx context.Context, workspaceID string, projectID *string, key, value string) error {
	now := time.Now().UTC()

	var err error
	if projectID == nil {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memory (id, workspace_id, project_id, key, value, updated_at)
			VALUES (?, ?, NULL, ?, ?, ?)
			ON CONFLICT(workspace_id, key) WHERE project_id IS NULL
			DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			uuid.NewString(), workspaceID, key, value, now)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memory (id, workspace_id, project_id, key, value, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(workspace_id, project_id, key) WHERE project_id IS NOT NULL
			DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			uuid.NewString(), workspaceID, *projectID, key, value, now)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert memory: %w", err)
	}
	return nil
}

// DeleteMemory removes a fact from a scope.
func (s *Store) DeleteMemory(ctx context.Context, workspaceID string, projectID *string, key string) error {
	var err error
	if projectID == nil {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM memory WHERE workspace_id = ? AND project_id IS NULL AND key = ?`,
			workspaceID, key)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM memory WHERE workspace_id = ? AND project_id = ? AND key = ?`,
			workspaceID, *projectID, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	return nil
}

// MemoryContext returns the facts relevant to a chat turn: workspace-wide
// entries first, then entries scoped to the project, each group in
// insertion order. An empty projectID selects only workspace-wide
// entries.
func (s *Store) MemoryContext(ctx context.Context, workspaceID, projectID string) ([]MemoryEntry, error) {
	var rows *sql.Rows
	var err error
	if projectID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, workspace_id, project_id, key, value, updated_at
			FROM memory
			WHERE workspace_id = ? AND project_id IS NULL
			ORDER BY rowid`,
			workspaceID)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, workspace_id, project_id, key, value, updated_at
			FROM memory
			WHERE workspace_id = ? AND (project_id IS NULL OR project_id = ?)
			ORDER BY project_id IS NOT NULL, rowid`,
			workspaceID, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		var entry MemoryEntry
		if err := rows.Scan(&entry.ID, &entry.WorkspaceID, &entry.ProjectID, &entry.Key, &entry.Value, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
