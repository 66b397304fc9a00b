package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sitegraph/internal/logging"

	"github.com/google/uuid"
)

// NodeParams carries everything needed to register an observed state.
type NodeParams struct {
	RunID              string
	URL                string
	URLNormalized      string
	A11yHash           string
	ContentHash        string
	StateHash          string
	InputStateHash     string
	AuthState          json.RawMessage
	StorageFingerprint json.RawMessage
	RouteDepth         int
	ModalDepth         int
	InteractionDepth   int
	Artifacts          ArtifactPayloads
}

// CreateOrGetNode registers a node for an equivalence key, or returns the
// existing one. Safe under concurrent invocation with the same key: the
// optimistic lookup avoids most insert attempts, and a lost insert race is
// detected via the UNIQUE constraint and resolved by re-reading the winner.
// The second return value reports whether this call created the node.
func (s *Store) CreateOrGetNode(ctx context.Context, p NodeParams) (*Node, bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateOrGetNode")
	defer timer.Stop()

	existing, err := s.findNodeByKey(ctx, p.RunID, p.URLNormalized, p.A11yHash, p.StateHash, p.InputStateHash)
	if err != nil && err != ErrNotFound {
		return nil, false, err
	}
	if existing != nil {
		// New observation of a known state: its artifacts are discarded,
		// existing fields are never overwritten.
		logging.StoreDebug("Node dedup hit: run=%s node=%s", p.RunID, existing.ID)
		return existing, false, nil
	}

	node := &Node{
		ID:                 uuid.NewString(),
		RunID:              p.RunID,
		URL:                p.URL,
		URLNormalized:      p.URLNormalized,
		A11yHash:           p.A11yHash,
		ContentHash:        p.ContentHash,
		StateHash:          p.StateHash,
		InputStateHash:     p.InputStateHash,
		AuthState:          p.AuthState,
		StorageFingerprint: p.StorageFingerprint,
		RouteDepth:         p.RouteDepth,
		ModalDepth:         p.ModalDepth,
		InteractionDepth:   p.InteractionDepth,
		CreatedAt:          msToTime(nowMs()),
	}

	// Artifact storage failures are logged and tolerated; the node row is
	// created with whatever refs succeeded.
	node.Artifacts = s.writeArtifacts(p.RunID, node.ID, p.Artifacts)
	refsJSON, _ := json.Marshal(node.Artifacts)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, run_id, url, url_normalized, a11y_hash, content_hash,
			state_hash, input_state_hash, auth_state, storage_fingerprint,
			artifact_refs, route_depth, modal_depth, interaction_depth, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.RunID, node.URL, node.URLNormalized, node.A11yHash,
		nullableString(node.ContentHash), node.StateHash, node.InputStateHash,
		nullableJSON(node.AuthState), nullableJSON(node.StorageFingerprint),
		string(refsJSON), node.RouteDepth, node.ModalDepth, node.InteractionDepth,
		node.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race; another worker registered this state first.
			s.discardArtifacts(node.Artifacts)
			winner, ferr := s.findNodeByKey(ctx, p.RunID, p.URLNormalized, p.A11yHash, p.StateHash, p.InputStateHash)
			if ferr != nil {
				return nil, false, fmt.Errorf("node race re-read: %w", ferr)
			}
			logging.StoreDebug("Node create race lost: run=%s winner=%s", p.RunID, winner.ID)
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("create node: %w", err)
	}

	logging.Store("Node created: run=%s node=%s url=%s", p.RunID, node.ID, node.URLNormalized)
	return node, true, nil
}

const nodeColumns = `id, run_id, url, url_normalized, a11y_hash, content_hash,
	state_hash, input_state_hash, auth_state, storage_fingerprint, artifact_refs,
	route_depth, modal_depth, interaction_depth, created_at`

func (s *Store) findNodeByKey(ctx context.Context, runID, urlNorm, a11yHash, stateHash, inputHash string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE run_id = ? AND url_normalized = ? AND a11y_hash = ?
		  AND state_hash = ? AND input_state_hash = ?`,
		runID, urlNorm, a11yHash, stateHash, inputHash)
	return scanNode(row)
}

// GetNode fetches a node by id.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// FindEquivalentNodes returns other nodes in the run sharing the same state
// fingerprints (differing only by URL). Used to suppress re-running actions
// already explored from an equivalent state.
func (s *Store) FindEquivalentNodes(ctx context.Context, runID, a11yHash, stateHash, inputHash, excludeID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE run_id = ? AND a11y_hash = ? AND state_hash = ?
		  AND input_state_hash = ? AND id != ?`,
		runID, a11yHash, stateHash, inputHash, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find equivalent nodes: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// ListNodes returns all nodes for a run in creation order.
func (s *Store) ListNodes(ctx context.Context, runID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// CountNodes returns the number of nodes in a run.
func (s *Store) CountNodes(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func collectNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		n           Node
		contentHash sql.NullString
		authState   sql.NullString
		storageFP   sql.NullString
		refs        sql.NullString
		createdMs   int64
	)
	err := row.Scan(&n.ID, &n.RunID, &n.URL, &n.URLNormalized, &n.A11yHash,
		&contentHash, &n.StateHash, &n.InputStateHash, &authState, &storageFP,
		&refs, &n.RouteDepth, &n.ModalDepth, &n.InteractionDepth, &createdMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	n.ContentHash = contentHash.String
	if authState.Valid {
		n.AuthState = json.RawMessage(authState.String)
	}
	if storageFP.Valid {
		n.StorageFingerprint = json.RawMessage(storageFP.String)
	}
	if refs.Valid && refs.String != "" {
		_ = json.Unmarshal([]byte(refs.String), &n.Artifacts)
	}
	n.CreatedAt = msToTime(createdMs)
	return &n, nil
}
