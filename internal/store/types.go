package store

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of an exploration run. All transitions out
// of StatusRunning are terminal.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusStopped   RunStatus = "stopped"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Outcome classifies one attempted action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
	OutcomeTimeout Outcome = "timeout"
	OutcomeBlocked Outcome = "blocked"
)

// DepthDiff classifies the structural significance of a transition.
type DepthDiff string

const (
	DiffSameNode        DepthDiff = "same_node"
	DiffNewPage         DepthDiff = "new_page"
	DiffModalOverlay    DepthDiff = "modal_overlay"
	DiffDrawer          DepthDiff = "drawer"
	DiffInteractionOnly DepthDiff = "interaction_only"
)

// Run is one exploration session.
type Run struct {
	ID          string
	TargetURL   string
	StartURL    string
	Status      RunStatus
	OwnerID     string
	Metadata    json.RawMessage
	CreatedAt   time.Time
	CompletedAt *time.Time
	Evaluation  json.RawMessage
}

// ArtifactRefs holds opaque references to the raw artifacts captured with a
// node. Empty string means the artifact is missing (storage failures are
// non-fatal).
type ArtifactRefs struct {
	DOM        string `json:"dom,omitempty"`
	A11y       string `json:"a11y,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Storage    string `json:"storage,omitempty"`
	CSS        string `json:"css,omitempty"`
}

// Node is a distinct observed application state within a run. The equivalence
// key is (run_id, url_normalized, a11y_hash, state_hash, input_state_hash);
// two captures with the same key collapse to one node.
type Node struct {
	ID                 string
	RunID              string
	URL                string
	URLNormalized      string
	A11yHash           string
	ContentHash        string // empty when no content sample was hashed
	StateHash          string
	InputStateHash     string
	AuthState          json.RawMessage
	StorageFingerprint json.RawMessage
	Artifacts          ArtifactRefs
	RouteDepth         int
	ModalDepth         int
	InteractionDepth   int
	CreatedAt          time.Time
}

// Edge is one attempted transition. ToNodeID is empty for failed attempts;
// failed attempts are graph data, not discarded noise.
type Edge struct {
	ID               string
	RunID            string
	FromNodeID       string
	ToNodeID         string // empty = NULL (failed transition)
	ActionType       string
	ActionTarget     string
	ActionValue      string
	Cost             float64
	LatencyMs        int64
	Outcome          Outcome
	Attempts         int // delivery count for this edge key, starts at 1
	ErrorMsg         string
	IntentLabel      string
	IntentConfidence float64
	DepthDiff        DepthDiff
	DiffRefs         json.RawMessage
	CreatedAt        time.Time
}

// PendingStatus tracks the lifecycle of a deferred action.
type PendingStatus string

const (
	PendingOpen      PendingStatus = "pending"
	PendingProcessed PendingStatus = "processed"
	PendingSkipped   PendingStatus = "skipped"
)

// PendingAction is an extracted action deferred because it needs externally
// supplied input before execution.
type PendingAction struct {
	ID           string
	RunID        string
	FromNodeID   string
	ActionType   string
	ActionTarget string
	ActionValue  string
	Status       PendingStatus
	CreatedAt    time.Time
}

// RunMemory is the single shared scratchpad for a run.
type RunMemory struct {
	RunID     string
	Content   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EdgeKey identifies an edge attempt for dedup and retry accounting.
type EdgeKey struct {
	RunID        string
	FromNodeID   string
	ActionType   string
	ActionTarget string
	ActionValue  string
}
