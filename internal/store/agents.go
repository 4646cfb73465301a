// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent is a stored chat persona: a system prompt plus the model
// configuration a workspace chats with by default.
type Agent struct {
	ID           string
	WorkspaceID  string
	Name         string
	SystemPrompt string
	Provider     string
	Model        string
	Temperature  *float64
	MaxTokens    *int
	IsDefault    bool
	CreatedAt    time.Time
}

// SaveAgent inserts or replaces an agent. A missing ID is generated.
// Marking an agent default clears the flag on the workspace's other
// agents.
func (s *Store) SaveAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if agent.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE agents SET is_default = 0 WHERE workspace_id = ? AND id != ?`,
			agent.WorkspaceID, agent.ID,
		); err != nil {
			return fmt.Errorf("failed to clear default flag: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO agents
			(id, workspace_id, name, system_prompt, provider, model, temperature, max_tokens, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.WorkspaceID, agent.Name, agent.SystemPrompt,
		agent.Provider, agent.Model, agent.Temperature, agent.MaxTokens,
		agent.IsDefault, agent.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}

	return tx.Commit()
}

// DefaultAgent returns the workspace's default agent, or ErrNotFound when
// none is stored.
func (s *Store) DefaultAgent(ctx context.Context, workspaceID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, system_prompt, provider, model, temperature, max_tokens, is_default, created_at
		FROM agents
		WHERE workspace_id = ? AND is_default = 1
		ORDER BY created_at DESC
		LIMIT 1`,
		workspaceID,
	)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return agent, err
}

// ListAgents returns all agents in a workspace, newest first.
func (s *Store) ListAgents(ctx context.Context, workspaceID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, system_prompt, provider, model, temperature, max_tokens, is_default, created_at
		FROM agents
		WHERE workspace_id = ?
		ORDER BY created_at DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	err := row.Scan(
		&agent.ID, &agent.WorkspaceID, &agent.Name, &agent.SystemPrompt,
		&agent.Provider, &agent.Model, &agent.Temperature, &agent.MaxTokens,
		&agent.IsDefault, &agent.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	return &agent, nil
}
