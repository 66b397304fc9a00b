// Package worker orchestrates exploration: it consumes queue messages,
// drives the browser, persists nodes and edges, and decides when a run is
// finished. Any number of workers can run concurrently against the same
// store and queue; all cross-worker races resolve through the store's
// insert-or-fetch primitives and the run status transition.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sitegraph/internal/action"
	"sitegraph/internal/analysis"
	"sitegraph/internal/completion"
	"sitegraph/internal/crawl"
	"sitegraph/internal/intent"
	"sitegraph/internal/logging"
	"sitegraph/internal/queue"
	"sitegraph/internal/store"
)

// Config tunes orchestration behavior.
type Config struct {
	Workers         int           `json:"workers"`
	RetryCap        int           `json:"retry_cap"`
	CompletionDelay time.Duration `json:"completion_delay"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		RetryCap:        3,
		CompletionDelay: 10 * time.Second,
	}
}

func (c Config) workers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

func (c Config) retryCap() int {
	if c.RetryCap <= 0 {
		return 3
	}
	return c.RetryCap
}

func (c Config) completionDelay() time.Duration {
	if c.CompletionDelay <= 0 {
		return 10 * time.Second
	}
	return c.CompletionDelay
}

// Deps are the orchestrator's collaborators. Store, Queue, and Driver are
// required; the rest default to the non-networked implementations.
type Deps struct {
	Store     *store.Store
	Queue     queue.Queue
	Driver    crawl.Driver
	Labeler   intent.Labeler
	Suggester intent.ValueSuggester
	Analyzer  analysis.Analyzer
	Policy    completion.Policy
}

// Orchestrator runs the exploration loop.
type Orchestrator struct {
	store     *store.Store
	queue     queue.Queue
	driver    crawl.Driver
	labeler   intent.Labeler
	suggester intent.ValueSuggester
	analyzer  analysis.Analyzer
	policy    completion.Policy
	cfg       Config
}

// New wires an orchestrator, filling unset optional deps with defaults.
func New(deps Deps, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:     deps.Store,
		queue:     deps.Queue,
		driver:    deps.Driver,
		labeler:   deps.Labeler,
		suggester: deps.Suggester,
		analyzer:  deps.Analyzer,
		policy:    deps.Policy,
		cfg:       cfg,
	}
	if o.labeler == nil {
		o.labeler = intent.Heuristic{}
	}
	if o.suggester == nil {
		o.suggester = intent.StaticSuggester{}
	}
	if o.analyzer == nil {
		o.analyzer = analysis.Static{}
	}
	if o.policy == nil {
		o.policy = completion.Default()
	}
	return o
}

// StartRun registers a run, captures its root state, and seeds the queue.
func (o *Orchestrator) StartRun(ctx context.Context, targetURL, startURL, ownerID string, metadata json.RawMessage) (*store.Run, error) {
	if startURL == "" {
		startURL = targetURL
	}

	run, err := o.store.CreateRun(ctx, targetURL, startURL, ownerID, metadata)
	if err != nil {
		return nil, err
	}
	logging.Worker("run %s started for %s", run.ID, targetURL)

	session, err := o.driver.Session(ctx, run.ID)
	if err != nil {
		return nil, o.failRun(ctx, run.ID, fmt.Errorf("open session: %w", err))
	}
	if err := session.Navigate(ctx, startURL); err != nil {
		return nil, o.failRun(ctx, run.ID, err)
	}
	snap, err := session.Capture(ctx)
	if err != nil {
		return nil, o.failRun(ctx, run.ID, err)
	}

	root, _, err := o.store.CreateOrGetNode(ctx, buildNodeParams(run.ID, snap, 0, 0, 0))
	if err != nil {
		return nil, o.failRun(ctx, run.ID, err)
	}

	m := queue.NewMessage(queue.KindProcessNode, run.ID)
	m.NodeID = root.ID
	if err := o.queue.Enqueue(ctx, m); err != nil {
		return nil, o.failRun(ctx, run.ID, err)
	}
	o.scheduleCompletionCheck(ctx, run.ID)
	return run, nil
}

// StopRun requests a graceful stop. In-flight messages for the run are
// dropped by the status check at the top of every handler.
func (o *Orchestrator) StopRun(ctx context.Context, runID string) (bool, error) {
	return o.store.TransitionRun(ctx, runID, store.StatusRunning, store.StatusStopped)
}

func (o *Orchestrator) failRun(ctx context.Context, runID string, cause error) error {
	logging.Get(logging.CategoryWorker).Error("run %s failed: %v", runID, cause)
	if _, err := o.store.TransitionRun(ctx, runID, store.StatusRunning, store.StatusFailed); err != nil {
		logging.Get(logging.CategoryWorker).Error("run %s: fail transition error: %v", runID, err)
	}
	return cause
}

// Run consumes queue messages until the context is cancelled. Handler errors
// are logged, not fatal: a poisoned message must not take the worker down.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.workers(); i++ {
		g.Go(func() error {
			for {
				m, err := o.queue.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if err := o.handle(ctx, m); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logging.Get(logging.CategoryWorker).Error("%s %s: %v", m.Kind, m.RunID, err)
				}
			}
		})
	}
	return g.Wait()
}

func (o *Orchestrator) handle(ctx context.Context, m *queue.Message) error {
	timer := logging.StartTimer(logging.CategoryWorker, string(m.Kind))
	defer timer.Stop()

	switch m.Kind {
	case queue.KindProcessNode:
		return o.processNode(ctx, m)
	case queue.KindProcessAction:
		return o.processAction(ctx, m)
	case queue.KindProcessPending:
		return o.processPending(ctx, m)
	case queue.KindCheckCompletion:
		return o.checkCompletion(ctx, m)
	case queue.KindRunAnalysis:
		return o.runAnalysis(ctx, m)
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
}

// runActive reports whether the run still accepts work. Messages for
// terminal runs are silently dropped.
func (o *Orchestrator) runActive(ctx context.Context, runID string) (bool, error) {
	status, err := o.store.RunStatusOf(ctx, runID)
	if err != nil {
		return false, err
	}
	if status.Terminal() {
		logging.WorkerDebug("run %s is %s, dropping message", runID, status)
		return false, nil
	}
	return true, nil
}

// processNode enumerates a node's candidate actions: executable ones are
// queued, input-requiring ones become pending rows.
func (o *Orchestrator) processNode(ctx context.Context, m *queue.Message) error {
	active, err := o.runActive(ctx, m.RunID)
	if err != nil || !active {
		return err
	}
	node, err := o.store.GetNode(ctx, m.NodeID)
	if err != nil {
		return err
	}

	session, err := o.driver.Session(ctx, m.RunID)
	if err != nil {
		return err
	}
	if err := session.Navigate(ctx, node.URL); err != nil {
		return err
	}
	snap, err := session.Capture(ctx)
	if err != nil {
		return err
	}

	executable, deferred := action.Partition(action.Extract(snap.Elements))
	logging.WorkerDebug("node %s: %d executable, %d deferred", node.ID, len(executable), len(deferred))

	for _, act := range deferred {
		if _, _, err := o.store.CreatePendingAction(ctx, m.RunID, node.ID,
			string(act.Type), act.Target, act.Value); err != nil {
			return err
		}
	}

	for _, act := range executable {
		skip, err := o.alreadySettled(ctx, m.RunID, node.ID, act)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		am := queue.NewMessage(queue.KindProcessAction, m.RunID)
		am.NodeID = node.ID
		am.Action = &act
		if err := o.queue.Enqueue(ctx, am); err != nil {
			return err
		}
	}

	o.scheduleCompletionCheck(ctx, m.RunID)
	return nil
}

// alreadySettled suppresses actions that already produced a successful edge
// or exhausted their failure budget.
func (o *Orchestrator) alreadySettled(ctx context.Context, runID, fromNodeID string, act action.Action) (bool, error) {
	key := store.EdgeKey{
		RunID:        runID,
		FromNodeID:   fromNodeID,
		ActionType:   string(act.Type),
		ActionTarget: act.Target,
		ActionValue:  act.Value,
	}
	if _, err := o.store.FindSuccessfulEdge(ctx, key); err == nil {
		return true, nil
	} else if err != store.ErrNotFound {
		return false, err
	}
	failures, err := o.store.CountFailedEdges(ctx, key)
	if err != nil {
		return false, err
	}
	if failures >= o.cfg.retryCap() {
		logging.WorkerDebug("action %s on %s: retry budget exhausted (%d)", act.Target, fromNodeID, failures)
		return true, nil
	}
	return false, nil
}

// processAction executes one action from a known node and records the
// resulting edge. Failed attempts are recorded too; they carry no
// destination and create no node.
func (o *Orchestrator) processAction(ctx context.Context, m *queue.Message) error {
	if m.Action == nil {
		return fmt.Errorf("process_action without action payload")
	}
	active, err := o.runActive(ctx, m.RunID)
	if err != nil || !active {
		return err
	}
	from, err := o.store.GetNode(ctx, m.NodeID)
	if err != nil {
		return err
	}

	// Re-check: another worker may have settled this action since enqueue.
	skip, err := o.alreadySettled(ctx, m.RunID, from.ID, *m.Action)
	if err != nil || skip {
		return err
	}

	session, err := o.driver.Session(ctx, m.RunID)
	if err != nil {
		return err
	}
	if err := session.Navigate(ctx, from.URL); err != nil {
		return err
	}

	res := session.Execute(ctx, *m.Action)
	if res.Outcome != store.OutcomeSuccess {
		_, _, err := o.store.RecordEdge(ctx, store.EdgeParams{
			RunID:        m.RunID,
			FromNodeID:   from.ID,
			ActionType:   string(m.Action.Type),
			ActionTarget: m.Action.Target,
			ActionValue:  m.Action.Value,
			Cost:         1,
			LatencyMs:    res.Latency.Milliseconds(),
			Outcome:      res.Outcome,
			ErrorMsg:     res.Error,
		})
		if err != nil {
			return err
		}
		o.scheduleCompletionCheck(ctx, m.RunID)
		return nil
	}

	snap, err := session.Capture(ctx)
	if err != nil {
		return err
	}

	params := buildNodeParams(m.RunID, snap, 0, 0, 0)
	sameNode := params.URLNormalized == from.URLNormalized &&
		params.A11yHash == from.A11yHash &&
		params.StateHash == from.StateHash &&
		params.InputStateHash == from.InputStateHash

	diff := Classify(from, sameNode, params.URLNormalized, snap)
	params.RouteDepth, params.ModalDepth, params.InteractionDepth = NextDepths(from, diff)

	to := from
	created := false
	if !sameNode {
		to, created, err = o.store.CreateOrGetNode(ctx, params)
		if err != nil {
			return err
		}
	}

	label := o.labeler.GuessIntent(ctx, intent.Request{
		Action:    *m.Action,
		FromURL:   from.URL,
		ToURL:     snap.URL,
		ToTitle:   snap.Title,
		DepthDiff: diff,
	})

	if _, _, err := o.store.RecordEdge(ctx, store.EdgeParams{
		RunID:            m.RunID,
		FromNodeID:       from.ID,
		ToNodeID:         to.ID,
		ActionType:       string(m.Action.Type),
		ActionTarget:     m.Action.Target,
		ActionValue:      m.Action.Value,
		Cost:             1,
		LatencyMs:        res.Latency.Milliseconds(),
		Outcome:          store.OutcomeSuccess,
		IntentLabel:      label.Intent,
		IntentConfidence: label.Confidence,
		DepthDiff:        diff,
	}); err != nil {
		return err
	}

	if created {
		nm := queue.NewMessage(queue.KindProcessNode, m.RunID)
		nm.NodeID = to.ID
		if err := o.queue.Enqueue(ctx, nm); err != nil {
			return err
		}
	}

	progress, _ := json.Marshal(map[string]string{
		"last_node":   to.ID,
		"last_action": m.Action.Target,
		"last_url":    snap.URL,
	})
	if err := o.store.UpsertRunMemory(ctx, m.RunID, progress); err != nil {
		logging.Get(logging.CategoryWorker).Warn("run %s: memory update failed: %v", m.RunID, err)
	}

	o.scheduleCompletionCheck(ctx, m.RunID)
	return nil
}

// processPending replays deferred actions with suggested input values.
// Each pending row is dispatched at most once.
func (o *Orchestrator) processPending(ctx context.Context, m *queue.Message) error {
	active, err := o.runActive(ctx, m.RunID)
	if err != nil || !active {
		return err
	}

	pending, err := o.store.ListPendingActions(ctx, m.RunID, m.NodeID, store.PendingOpen)
	if err != nil {
		return err
	}
	logging.Worker("run %s: replaying %d pending actions", m.RunID, len(pending))

	for _, pa := range pending {
		act := action.Action{
			Type:   action.Type(pa.ActionType),
			Target: pa.ActionTarget,
			Value:  pa.ActionValue,
		}
		if role, name, ok := action.ParseTarget(pa.ActionTarget); ok {
			act.Role, act.Name = role, name
		}
		if act.Value == "" {
			act.Value = o.suggester.SuggestValue(ctx, act)
		}

		am := queue.NewMessage(queue.KindProcessAction, m.RunID)
		am.NodeID = pa.FromNodeID
		am.Action = &act
		if err := o.queue.Enqueue(ctx, am); err != nil {
			return err
		}
		if err := o.store.UpdatePendingActionStatus(ctx, pa.ID, store.PendingProcessed); err != nil {
			return err
		}
	}
	return nil
}

// checkCompletion evaluates the completion policy. When it fires, exactly
// one worker wins the status transition and enqueues the final analysis;
// every other concurrent check observes the terminal status and drops out.
func (o *Orchestrator) checkCompletion(ctx context.Context, m *queue.Message) error {
	active, err := o.runActive(ctx, m.RunID)
	if err != nil || !active {
		return err
	}

	decision, err := o.policy.Evaluate(ctx, o.store, m.RunID)
	if err != nil {
		return err
	}
	if !decision.Done {
		return nil
	}

	// Exhaust deferred input actions before declaring the run idle.
	open, err := o.store.CountPendingActions(ctx, m.RunID)
	if err != nil {
		return err
	}
	if open > 0 {
		pm := queue.NewMessage(queue.KindProcessPending, m.RunID)
		if err := o.queue.Enqueue(ctx, pm); err != nil {
			return err
		}
		o.scheduleCompletionCheck(ctx, m.RunID)
		return nil
	}

	won, err := o.store.TransitionRun(ctx, m.RunID, store.StatusRunning, store.StatusCompleted)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	logging.Worker("run %s completed: %s", m.RunID, decision.Reason)
	am := queue.NewMessage(queue.KindRunAnalysis, m.RunID)
	return o.queue.Enqueue(ctx, am)
}

// runAnalysis computes and attaches the run evaluation. Guarded twice:
// only the completion winner enqueues this message, and an existing
// evaluation short-circuits redelivery.
func (o *Orchestrator) runAnalysis(ctx context.Context, m *queue.Message) error {
	has, err := o.store.HasEvaluation(ctx, m.RunID)
	if err != nil {
		return err
	}
	if has {
		logging.WorkerDebug("run %s already evaluated", m.RunID)
		return nil
	}

	payload, err := o.analyzer.Evaluate(ctx, o.store, m.RunID)
	if err != nil {
		logging.Get(logging.CategoryWorker).Warn("run %s: analyzer failed, using static: %v", m.RunID, err)
		payload, err = analysis.Static{}.Evaluate(ctx, o.store, m.RunID)
		if err != nil {
			return o.failAnalysis(ctx, m.RunID, err)
		}
	}
	if err := o.store.AttachEvaluation(ctx, m.RunID, payload); err != nil {
		return o.failAnalysis(ctx, m.RunID, err)
	}
	logging.Worker("run %s: evaluation attached", m.RunID)

	if session, err := o.driver.Session(ctx, m.RunID); err == nil {
		_ = session.Close()
	}
	return nil
}

// failAnalysis marks a run failed when no evaluation could be attached.
func (o *Orchestrator) failAnalysis(ctx context.Context, runID string, cause error) error {
	if _, terr := o.store.TransitionRun(ctx, runID, store.StatusCompleted, store.StatusFailed); terr != nil {
		logging.Get(logging.CategoryWorker).Error("run %s: fail transition error: %v", runID, terr)
	}
	return cause
}

func (o *Orchestrator) scheduleCompletionCheck(ctx context.Context, runID string) {
	m := queue.NewMessage(queue.KindCheckCompletion, runID)
	if err := o.queue.EnqueueAfter(ctx, m, o.cfg.completionDelay()); err != nil {
		logging.Get(logging.CategoryWorker).Warn("run %s: completion check not scheduled: %v", runID, err)
	}
}
