package store

import (
	"context"
	"database/sql"
	"fmt"

	"sitegraph/internal/logging"

	"github.com/google/uuid"
)

// CreatePendingAction defers an input-dependent action for later processing.
// Duplicate deferrals of the same action are collapsed (insert-or-fetch on
// the pending key) so re-processing a node never piles up pending rows.
func (s *Store) CreatePendingAction(ctx context.Context, runID, fromNodeID, actionType, actionTarget, actionValue string) (*PendingAction, bool, error) {
	pa := &PendingAction{
		ID:           uuid.NewString(),
		RunID:        runID,
		FromNodeID:   fromNodeID,
		ActionType:   actionType,
		ActionTarget: actionTarget,
		ActionValue:  actionValue,
		Status:       PendingOpen,
		CreatedAt:    msToTime(nowMs()),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, run_id, from_node_id, action_type,
			action_target, action_value, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pa.ID, pa.RunID, pa.FromNodeID, pa.ActionType, pa.ActionTarget,
		pa.ActionValue, pa.Status, pa.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			existing, ferr := s.findPendingByKey(ctx, runID, fromNodeID, actionType, actionTarget, actionValue)
			if ferr != nil {
				return nil, false, fmt.Errorf("pending race re-read: %w", ferr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create pending action: %w", err)
	}
	logging.StoreDebug("Pending action queued: run=%s node=%s %s %s",
		runID, fromNodeID, actionType, actionTarget)
	return pa, true, nil
}

const pendingColumns = `id, run_id, from_node_id, action_type, action_target,
	action_value, status, created_at`

func (s *Store) findPendingByKey(ctx context.Context, runID, fromNodeID, actionType, actionTarget, actionValue string) (*PendingAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_actions
		WHERE run_id = ? AND from_node_id = ? AND action_type = ?
		  AND action_target = ? AND action_value = ?`,
		runID, fromNodeID, actionType, actionTarget, actionValue)
	return scanPending(row)
}

// ListPendingActions returns pending actions for a run, optionally filtered
// by status ("" = all) and source node ("" = all).
func (s *Store) ListPendingActions(ctx context.Context, runID string, fromNodeID string, status PendingStatus) ([]PendingAction, error) {
	q := `SELECT ` + pendingColumns + ` FROM pending_actions WHERE run_id = ?`
	args := []interface{}{runID}
	if fromNodeID != "" {
		q += ` AND from_node_id = ?`
		args = append(args, fromNodeID)
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	defer rows.Close()

	var out []PendingAction
	for rows.Next() {
		pa, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pa)
	}
	return out, rows.Err()
}

// UpdatePendingActionStatus transitions one pending row.
func (s *Store) UpdatePendingActionStatus(ctx context.Context, id string, status PendingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update pending action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingActions counts open pending actions for a run.
func (s *Store) CountPendingActions(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_actions WHERE run_id = ? AND status = ?`,
		runID, PendingOpen).Scan(&n)
	return n, err
}

func scanPending(row rowScanner) (*PendingAction, error) {
	var (
		pa        PendingAction
		createdMs int64
	)
	err := row.Scan(&pa.ID, &pa.RunID, &pa.FromNodeID, &pa.ActionType,
		&pa.ActionTarget, &pa.ActionValue, &pa.Status, &createdMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending action: %w", err)
	}
	pa.CreatedAt = msToTime(createdMs)
	return &pa, nil
}
