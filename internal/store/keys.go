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

// APIKey is a stored provider credential. The key material is encrypted
// at rest when the store carries a cipher.
type APIKey struct {
	ID          string
	WorkspaceID string
	Provider    string
	IsActive    bool
	CreatedAt   time.Time
}

// SaveAPIKey stores a credential for a provider in a workspace. The
// plaintext never touches the database when a cipher is configured.
func (s *Store) SaveAPIKey(ctx context.Context, workspaceID, providerName, plaintext string) (*APIKey, error) {
	stored := plaintext
	if s.cipher != nil {
		encrypted, err := s.cipher.EncryptString(plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt key: %w", err)
		}
		stored = encrypted
	}

	key := &APIKey{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Provider:    providerName,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, workspace_id, provider, encrypted_key, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		key.ID, key.WorkspaceID, key.Provider, stored, key.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to save api key: %w", err)
	}

	return key, nil
}

// ActiveKey returns the decrypted credential for a provider. When several
// active keys exist the most recently created wins. Returns ErrNotFound
// when the workspace has no active key for the provider.
func (s *Store) ActiveKey(ctx context.Context, workspaceID, providerName string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `
		SELECT encrypted_key
		FROM api_keys
		WHERE workspace_id = ? AND provider = ? AND is_active = 1
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		workspaceID, providerName,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query api key: %w", err)
	}

	if s.cipher != nil {
		return s.cipher.DecryptString(stored)
	}
	return stored, nil
}

// DeactivateKeys marks every key for a provider inactive, e.g. after a
// credential is revoked upstream.
func (s *Store) DeactivateKeys(ctx context.Context, workspaceID, providerName string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0
		WHERE workspace_id = ? AND provider = ?`,
		workspaceID, providerName,
	); err != nil {
		return fmt.Errorf("failed to deactivate keys: %w", err)
	}
	return nil
}

// ListAPIKeys returns key metadata for a workspace, newest first. Key
// material is never included.
func (s *Store) ListAPIKeys(ctx context.Context, workspaceID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, provider, is_active, created_at
		FROM api_keys
		WHERE workspace_id = ?
		ORDER BY created_at DESC, rowid DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.WorkspaceID, &key.Provider, &key.IsActive, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}
