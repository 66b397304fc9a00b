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

// EdgeParams carries one attempted transition for recording.
type EdgeParams struct {
	RunID            string
	FromNodeID       string
	ToNodeID         string // empty for failed transitions
	ActionType       string
	ActionTarget     string
	ActionValue      string
	Cost             float64
	LatencyMs        int64
	Outcome          Outcome
	ErrorMsg         string
	IntentLabel      string
	IntentConfidence float64
	DepthDiff        DepthDiff
	DiffRefs         json.RawMessage
}

// RecordEdge inserts an edge, or returns the already-recorded one for the
// same key. Follows the same insert-or-fetch discipline as nodes: a unique
// violation on the edge key means another worker recorded this attempt, and
// is never surfaced as an error. The second return value reports whether
// this call created the edge.
func (s *Store) RecordEdge(ctx context.Context, p EdgeParams) (*Edge, bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RecordEdge")
	defer timer.Stop()

	edge := &Edge{
		ID:               uuid.NewString(),
		RunID:            p.RunID,
		FromNodeID:       p.FromNodeID,
		ToNodeID:         p.ToNodeID,
		ActionType:       p.ActionType,
		ActionTarget:     p.ActionTarget,
		ActionValue:      p.ActionValue,
		Cost:             p.Cost,
		LatencyMs:        p.LatencyMs,
		Outcome:          p.Outcome,
		Attempts:         1,
		ErrorMsg:         p.ErrorMsg,
		IntentLabel:      p.IntentLabel,
		IntentConfidence: p.IntentConfidence,
		DepthDiff:        p.DepthDiff,
		DiffRefs:         p.DiffRefs,
		CreatedAt:        msToTime(nowMs()),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (id, run_id, from_node_id, to_node_id, action_type,
			action_target, action_value, cost, latency_ms, outcome, attempts,
			error_msg, intent_label, intent_confidence, depth_diff_type,
			diff_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edge.ID, edge.RunID, edge.FromNodeID, nullableString(edge.ToNodeID),
		edge.ActionType, edge.ActionTarget, edge.ActionValue, edge.Cost,
		edge.LatencyMs, edge.Outcome, edge.Attempts, edge.ErrorMsg,
		nullableString(edge.IntentLabel), edge.IntentConfidence,
		string(edge.DepthDiff), nullableJSON(edge.DiffRefs),
		edge.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			// Repeated attempt of a known edge key. Bump the attempt counter
			// so the retry cap sees real attempt history, then return the
			// winning row.
			if _, uerr := s.db.ExecContext(ctx, `
				UPDATE edges SET attempts = attempts + 1
				WHERE run_id = ? AND from_node_id = ? AND COALESCE(to_node_id, '') = ?
				  AND action_type = ? AND action_target = ? AND action_value = ?`,
				p.RunID, p.FromNodeID, p.ToNodeID, p.ActionType, p.ActionTarget,
				p.ActionValue); uerr != nil {
				return nil, false, fmt.Errorf("edge attempt bump: %w", uerr)
			}
			existing, ferr := s.findEdgeByKey(ctx, p)
			if ferr != nil {
				return nil, false, fmt.Errorf("edge race re-read: %w", ferr)
			}
			logging.StoreDebug("Edge already recorded: run=%s edge=%s attempts=%d",
				p.RunID, existing.ID, existing.Attempts)
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("record edge: %w", err)
	}

	logging.Store("Edge recorded: run=%s %s -> %s action=%s outcome=%s",
		p.RunID, p.FromNodeID, orNull(p.ToNodeID), p.ActionType, p.Outcome)
	return edge, true, nil
}

func orNull(s string) string {
	if s == "" {
		return "NULL"
	}
	return s
}

const edgeColumns = `id, run_id, from_node_id, to_node_id, action_type,
	action_target, action_value, cost, latency_ms, outcome, attempts,
	error_msg, intent_label, intent_confidence, depth_diff_type, diff_refs,
	created_at`

func (s *Store) findEdgeByKey(ctx context.Context, p EdgeParams) (*Edge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE run_id = ? AND from_node_id = ? AND COALESCE(to_node_id, '') = ?
		  AND action_type = ? AND action_target = ? AND action_value = ?`,
		p.RunID, p.FromNodeID, p.ToNodeID, p.ActionType, p.ActionTarget, p.ActionValue)
	return scanEdge(row)
}

// FindSuccessfulEdge looks up a previously successful attempt of an action
// from a node, regardless of destination. Used as the duplicate pre-check
// before scheduling an action job.
func (s *Store) FindSuccessfulEdge(ctx context.Context, key EdgeKey) (*Edge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE run_id = ? AND from_node_id = ? AND action_type = ?
		  AND action_target = ? AND action_value = ? AND outcome = ?
		ORDER BY created_at DESC LIMIT 1`,
		key.RunID, key.FromNodeID, key.ActionType, key.ActionTarget, key.ActionValue,
		OutcomeSuccess)
	return scanEdge(row)
}

// CountFailedEdges counts failed attempts of one action from one node, for
// the retry cap. Repeats of the same failure dedup into one row, so this
// sums attempt counters rather than counting rows.
func (s *Store) CountFailedEdges(ctx context.Context, key EdgeKey) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(attempts), 0) FROM edges
		WHERE run_id = ? AND from_node_id = ? AND action_type = ?
		  AND action_target = ? AND action_value = ? AND outcome != ?`,
		key.RunID, key.FromNodeID, key.ActionType, key.ActionTarget, key.ActionValue,
		OutcomeSuccess).Scan(&n)
	return n, err
}

// CountEdges returns the total number of edges recorded for a run.
func (s *Store) CountEdges(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edges WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// CountSuccessEdges returns the number of successful edges for a run.
func (s *Store) CountSuccessEdges(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edges WHERE run_id = ? AND outcome = ?`,
		runID, OutcomeSuccess).Scan(&n)
	return n, err
}

// CountSuccessEdgesSince returns the number of successful edges recorded
// within the trailing window. Drives the idle-window completion policies.
func (s *Store) CountSuccessEdgesSince(ctx context.Context, runID string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges
		WHERE run_id = ? AND outcome = ? AND created_at >= ?`,
		runID, OutcomeSuccess, cutoff).Scan(&n)
	return n, err
}

// ListEdges returns all edges for a run in creation order.
func (s *Store) ListEdges(ctx context.Context, runID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+edgeColumns+` FROM edges WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

func scanEdge(row rowScanner) (*Edge, error) {
	var (
		e          Edge
		toNode     sql.NullString
		intent     sql.NullString
		confidence sql.NullFloat64
		diffRefs   sql.NullString
		createdMs  int64
	)
	err := row.Scan(&e.ID, &e.RunID, &e.FromNodeID, &toNode, &e.ActionType,
		&e.ActionTarget, &e.ActionValue, &e.Cost, &e.LatencyMs, &e.Outcome,
		&e.Attempts, &e.ErrorMsg, &intent, &confidence, &e.DepthDiff, &diffRefs,
		&createdMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan edge: %w", err)
	}
	e.ToNodeID = toNode.String
	e.IntentLabel = intent.String
	e.IntentConfidence = confidence.Float64
	if diffRefs.Valid {
		e.DiffRefs = json.RawMessage(diffRefs.String)
	}
	e.CreatedAt = msToTime(createdMs)
	return &e, nil
}
