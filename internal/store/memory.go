package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertRunMemory writes the shared scratchpad for a run, refreshing
// updated_at on every write.
func (s *Store) UpsertRunMemory(ctx context.Context, runID string, content json.RawMessage) error {
	if len(content) == 0 {
		content = json.RawMessage("{}")
	}
	now := nowMs()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_memory (run_id, content, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		runID, string(content), now, now)
	if err != nil {
		return fmt.Errorf("upsert run memory: %w", err)
	}
	return nil
}

// GetRunMemory fetches the scratchpad for a run.
func (s *Store) GetRunMemory(ctx context.Context, runID string) (*RunMemory, error) {
	var (
		m         RunMemory
		content   string
		createdMs int64
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, content, created_at, updated_at
		FROM run_memory WHERE run_id = ?`, runID).
		Scan(&m.RunID, &content, &createdMs, &updatedMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run memory: %w", err)
	}
	m.Content = json.RawMessage(content)
	m.CreatedAt = msToTime(createdMs)
	m.UpdatedAt = msToTime(updatedMs)
	return &m, nil
}
