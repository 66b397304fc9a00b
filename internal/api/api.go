// Package api exposes the control plane over HTTP: starting and stopping
// runs, monitoring progress, and reading the recorded graph. Exploration
// itself happens in workers; every handler here is a thin veneer over the
// store, the queue, and the orchestrator.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"sitegraph/internal/queue"
	"sitegraph/internal/store"
)

// Runner is the orchestrator surface the API needs.
type Runner interface {
	StartRun(ctx context.Context, targetURL, startURL, ownerID string, metadata json.RawMessage) (*store.Run, error)
	StopRun(ctx context.Context, runID string) (bool, error)
}

// Handler serves the control-plane routes.
type Handler struct {
	store  *store.Store
	queue  queue.Queue
	runner Runner
	log    *zap.Logger
}

// NewHandler wires a handler.
func NewHandler(st *store.Store, q queue.Queue, runner Runner, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: st, queue: q, runner: runner, log: log}
}

// Register mounts all routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(h.requestLogger())

	e.GET("/healthz", h.Health)
	e.POST("/runs", h.CreateRun)
	e.GET("/runs", h.ListRuns)
	e.GET("/runs/:id", h.GetRun)
	e.GET("/runs/:id/monitor", h.MonitorRun)
	e.GET("/runs/:id/graph", h.GetGraph)
	e.POST("/runs/:id/stop", h.StopRun)
	e.DELETE("/runs/:id", h.DeleteRun)
	e.GET("/nodes/:id", h.GetNode)
	e.GET("/queue/depth", h.QueueDepth)
}

func (h *Handler) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			h.log.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
			)
			return err
		}
	}
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type createRunRequest struct {
	TargetURL string          `json:"target_url"`
	StartURL  string          `json:"start_url"`
	OwnerID   string          `json:"owner_id"`
	Metadata  json.RawMessage `json:"metadata"`
}

// CreateRun starts an exploration.
// POST /runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.TargetURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "target_url is required"})
	}

	run, err := h.runner.StartRun(c.Request().Context(), req.TargetURL, req.StartURL, req.OwnerID, req.Metadata)
	if err != nil {
		h.log.Error("start run failed", zap.String("target", req.TargetURL), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start run"})
	}
	return c.JSON(http.StatusCreated, runView(run))
}

// ListRuns returns all runs, newest first.
// GET /runs
func (h *Handler) ListRuns(c echo.Context) error {
	runs, err := h.store.ListRuns(c.Request().Context())
	if err != nil {
		h.log.Error("list runs failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
	}
	views := make([]map[string]interface{}, 0, len(runs))
	for i := range runs {
		views = append(views, runView(&runs[i]))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": views})
}

// GetRun returns one run, evaluation included once attached.
// GET /runs/:id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.store.GetRun(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		h.log.Error("get run failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	return c.JSON(http.StatusOK, runView(run))
}

// MonitorRun returns live progress counters for a run.
// GET /runs/:id/monitor
func (h *Handler) MonitorRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")

	run, err := h.store.GetRun(ctx, runID)
	if err == store.ErrNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}

	nodes, err := h.store.CountNodes(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to count nodes"})
	}
	edges, _ := h.store.CountEdges(ctx, runID)
	success, _ := h.store.CountSuccessEdges(ctx, runID)
	pending, _ := h.store.CountPendingActions(ctx, runID)
	depth, _ := h.queue.Depth(ctx)

	view := map[string]interface{}{
		"run_id":          runID,
		"status":          run.Status,
		"nodes":           nodes,
		"edges":           edges,
		"success_edges":   success,
		"failed_edges":    edges - success,
		"pending_actions": pending,
		"queue_depth":     depth,
	}
	if mem, err := h.store.GetRunMemory(ctx, runID); err == nil {
		view["memory"] = mem.Content
	}
	return c.JSON(http.StatusOK, view)
}

// GetGraph returns the full recorded graph for a run.
// GET /runs/:id/graph
func (h *Handler) GetGraph(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")

	if _, err := h.store.GetRun(ctx, runID); err == store.ErrNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	} else if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}

	nodes, err := h.store.ListNodes(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list nodes"})
	}
	edges, err := h.store.ListEdges(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list edges"})
	}

	nodeViews := make([]map[string]interface{}, 0, len(nodes))
	for i := range nodes {
		nodeViews = append(nodeViews, nodeView(&nodes[i]))
	}
	edgeViews := make([]map[string]interface{}, 0, len(edges))
	for i := range edges {
		edgeViews = append(edgeViews, edgeView(&edges[i]))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"nodes":  nodeViews,
		"edges":  edgeViews,
	})
}

// StopRun requests a graceful stop.
// POST /runs/:id/stop
func (h *Handler) StopRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")

	run, err := h.store.GetRun(ctx, runID)
	if err == store.ErrNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if run.Status.Terminal() {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"run_id":  runID,
			"status":  run.Status,
			"message": "run already in terminal state",
		})
	}

	won, err := h.runner.StopRun(ctx, runID)
	if err != nil {
		h.log.Error("stop run failed", zap.String("run", runID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to stop run"})
	}
	status := store.StatusStopped
	if !won {
		// Lost the race to another terminal transition; report what happened.
		if cur, err := h.store.GetRun(ctx, runID); err == nil {
			status = cur.Status
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"status": status,
	})
}

// DeleteRun removes a run and everything recorded under it.
// DELETE /runs/:id
func (h *Handler) DeleteRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")

	run, err := h.store.GetRun(ctx, runID)
	if err == store.ErrNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if !run.Status.Terminal() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "run is still active; stop it first"})
	}

	if err := h.store.DeleteRun(ctx, runID); err != nil {
		h.log.Error("delete run failed", zap.String("run", runID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete run"})
	}
	return c.NoContent(http.StatusNoContent)
}

// GetNode returns one node together with its captured artifact payloads.
// Blobs that cannot be read are listed under artifacts_missing rather than
// failing the request.
// GET /nodes/:id
func (h *Handler) GetNode(c echo.Context) error {
	node, payloads, missing, err := h.store.GetNodeWithArtifacts(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "node not found"})
	}
	if err != nil {
		h.log.Error("get node failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get node"})
	}

	view := nodeView(node)
	artifacts := map[string][]byte{}
	for kind, data := range map[string][]byte{
		"dom":        payloads.DOM,
		"a11y":       payloads.A11y,
		"screenshot": payloads.Screenshot,
		"storage":    payloads.Storage,
		"css":        payloads.CSS,
	} {
		if len(data) > 0 {
			artifacts[kind] = data
		}
	}
	view["artifact_payloads"] = artifacts
	if len(missing) > 0 {
		kinds := make([]string, 0, len(missing))
		for kind := range missing {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		view["artifacts_missing"] = kinds
	}
	return c.JSON(http.StatusOK, view)
}

// QueueDepth reports outstanding work across all runs.
// GET /queue/depth
func (h *Handler) QueueDepth(c echo.Context) error {
	depth, err := h.queue.Depth(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read queue depth"})
	}
	return c.JSON(http.StatusOK, map[string]int64{"depth": depth})
}

func runView(r *store.Run) map[string]interface{} {
	view := map[string]interface{}{
		"id":         r.ID,
		"target_url": r.TargetURL,
		"start_url":  r.StartURL,
		"status":     r.Status,
		"owner_id":   r.OwnerID,
		"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		view["completed_at"] = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	if len(r.Metadata) > 0 {
		view["metadata"] = r.Metadata
	}
	if len(r.Evaluation) > 0 {
		view["evaluation"] = r.Evaluation
	}
	return view
}

func nodeView(n *store.Node) map[string]interface{} {
	return map[string]interface{}{
		"id":                n.ID,
		"url":               n.URL,
		"url_normalized":    n.URLNormalized,
		"a11y_hash":         n.A11yHash,
		"state_hash":        n.StateHash,
		"input_state_hash":  n.InputStateHash,
		"content_hash":      n.ContentHash,
		"route_depth":       n.RouteDepth,
		"modal_depth":       n.ModalDepth,
		"interaction_depth": n.InteractionDepth,
		"artifacts":         n.Artifacts,
		"created_at":        n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func edgeView(e *store.Edge) map[string]interface{} {
	view := map[string]interface{}{
		"id":            e.ID,
		"from_node_id":  e.FromNodeID,
		"action_type":   e.ActionType,
		"action_target": e.ActionTarget,
		"outcome":       e.Outcome,
		"attempts":      e.Attempts,
		"latency_ms":    e.LatencyMs,
		"depth_diff":    e.DepthDiff,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.ToNodeID != "" {
		view["to_node_id"] = e.ToNodeID
	}
	if e.ActionValue != "" {
		view["action_value"] = e.ActionValue
	}
	if e.ErrorMsg != "" {
		view["error"] = e.ErrorMsg
	}
	if e.IntentLabel != "" {
		view["intent"] = e.IntentLabel
		view["intent_confidence"] = e.IntentConfidence
	}
	return view
}
