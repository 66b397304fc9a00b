package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sitegraph/internal/logging"

	"github.com/google/uuid"
)

func nowMs() int64 { return time.Now().UnixMilli() }

func msToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// CreateRun inserts a new run in status running and returns it.
func (s *Store) CreateRun(ctx context.Context, targetURL, startURL, ownerID string, metadata json.RawMessage) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		TargetURL: targetURL,
		StartURL:  startURL,
		Status:    StatusRunning,
		OwnerID:   ownerID,
		Metadata:  metadata,
		CreatedAt: msToTime(nowMs()),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, target_url, start_url, status, owner_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TargetURL, run.StartURL, run.Status, run.OwnerID,
		nullableJSON(run.Metadata), run.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logging.Store("Run created: id=%s target=%s", run.ID, run.TargetURL)
	return run, nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_url, start_url, status, owner_id, metadata,
		       created_at, completed_at, evaluation_payload
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// RunStatusOf returns just the status of a run.
func (s *Store) RunStatusOf(ctx context.Context, id string) (RunStatus, error) {
	var status RunStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("run status: %w", err)
	}
	return status, nil
}

// TransitionRun atomically moves a run from one status to another. It returns
// true only for the caller whose UPDATE actually changed the row, so exactly
// one of any number of concurrent callers wins a given transition. Terminal
// states are never left: the WHERE clause pins the expected current status.
func (s *Store) TransitionRun(ctx context.Context, id string, from, to RunStatus) (bool, error) {
	var completedAt interface{}
	if to.Terminal() {
		completedAt = nowMs()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?`,
		to, completedAt, id, from)
	if err != nil {
		return false, fmt.Errorf("transition run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	won := n == 1
	if won {
		logging.Store("Run %s: %s -> %s", id, from, to)
	}
	return won, nil
}

// AttachEvaluation stores the final evaluation payload on a run.
func (s *Store) AttachEvaluation(ctx context.Context, id string, payload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET evaluation_payload = ? WHERE id = ?`, string(payload), id)
	if err != nil {
		return fmt.Errorf("attach evaluation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasEvaluation reports whether a run already carries an evaluation payload.
// Used to keep the finalize job idempotent under queue re-delivery.
func (s *Store) HasEvaluation(ctx context.Context, id string) (bool, error) {
	var has int
	err := s.db.QueryRowContext(ctx, `
		SELECT evaluation_payload IS NOT NULL FROM runs WHERE id = ?`, id).Scan(&has)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return has == 1, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_url, start_url, status, owner_id, metadata,
		       created_at, completed_at, evaluation_payload
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; nodes, edges, pending actions, and run memory
// cascade with it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Store("Run deleted: %s", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r           Run
		metadata    sql.NullString
		createdMs   int64
		completedMs sql.NullInt64
		evaluation  sql.NullString
	)
	err := row.Scan(&r.ID, &r.TargetURL, &r.StartURL, &r.Status, &r.OwnerID,
		&metadata, &createdMs, &completedMs, &evaluation)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if metadata.Valid {
		r.Metadata = json.RawMessage(metadata.String)
	}
	r.CreatedAt = msToTime(createdMs)
	if completedMs.Valid {
		t := msToTime(completedMs.Int64)
		r.CompletedAt = &t
	}
	if evaluation.Valid {
		r.Evaluation = json.RawMessage(evaluation.String)
	}
	return &r, nil
}

func nullableJSON(m json.RawMessage) interface{} {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
