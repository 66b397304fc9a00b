package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"sitegraph/internal/queue"
	"sitegraph/internal/store"
)

type fakeRunner struct {
	store    *store.Store
	startErr error
	stopped  []string
}

func (f *fakeRunner) StartRun(ctx context.Context, targetURL, startURL, ownerID string, metadata json.RawMessage) (*store.Run, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.store.CreateRun(ctx, targetURL, startURL, ownerID, metadata)
}

func (f *fakeRunner) StopRun(ctx context.Context, runID string) (bool, error) {
	f.stopped = append(f.stopped, runID)
	return f.store.TransitionRun(ctx, runID, store.StatusRunning, store.StatusStopped)
}

func newTestHandler(t *testing.T) (*Handler, *store.Store, *fakeRunner, *echo.Echo) {
	t.Helper()
	s, err := store.Open(":memory:", t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := queue.NewMemory()
	t.Cleanup(func() { q.Close() })

	runner := &fakeRunner{store: s}
	h := NewHandler(s, q, runner, nil)
	e := echo.New()
	h.Register(e)
	return h, s, runner, e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	_, _, _, e := newTestHandler(t)

	rec, body := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestCreateRun(t *testing.T) {
	_, _, _, e := newTestHandler(t)

	rec, body := doJSON(t, e, http.MethodPost, "/runs",
		`{"target_url": "https://app.test", "owner_id": "qa"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", rec.Code, body)
	}
	if body["id"] == "" || body["id"] == nil {
		t.Errorf("expected run id in response, got %v", body)
	}
	if body["target_url"] != "https://app.test" {
		t.Errorf("target url lost: %v", body["target_url"])
	}
	if body["status"] != string(store.StatusRunning) {
		t.Errorf("new run should be running, got %v", body["status"])
	}
}

func TestCreateRunValidation(t *testing.T) {
	_, _, _, e := newTestHandler(t)

	rec, _ := doJSON(t, e, http.MethodPost, "/runs", `{"owner_id": "qa"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing target_url should be rejected, got %d", rec.Code)
	}

	rec, _ = doJSON(t, e, http.MethodPost, "/runs", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body should be rejected, got %d", rec.Code)
	}
}

func TestCreateRunRunnerFailure(t *testing.T) {
	_, _, runner, e := newTestHandler(t)
	runner.startErr = errors.New("browser unavailable")

	rec, _ := doJSON(t, e, http.MethodPost, "/runs", `{"target_url": "https://app.test"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on runner failure, got %d", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	_, _, _, e := newTestHandler(t)

	rec, _ := doJSON(t, e, http.MethodGet, "/runs/no-such-run", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	_, s, _, e := newTestHandler(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "https://a.test", "", "", nil); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := s.CreateRun(ctx, "https://b.test", "", "", nil); err != nil {
		t.Fatalf("create run: %v", err)
	}

	rec, body := doJSON(t, e, http.MethodGet, "/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	runs, ok := body["runs"].([]interface{})
	if !ok {
		t.Fatalf("expected runs array, got %v", body)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestMonitorRun(t *testing.T) {
	_, s, _, e := newTestHandler(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "https://app.test", "", "", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	src, _, _ := s.CreateOrGetNode(ctx, store.NodeParams{
		RunID: run.ID, URL: "https://app.test/", URLNormalized: "https://app.test/",
		A11yHash: "a", StateHash: "s", InputStateHash: "i",
	})
	dst, _, _ := s.CreateOrGetNode(ctx, store.NodeParams{
		RunID: run.ID, URL: "https://app.test/next", URLNormalized: "https://app.test/next",
		A11yHash: "b", StateHash: "s", InputStateHash: "i",
	})
	s.RecordEdge(ctx, store.EdgeParams{
		RunID: run.ID, FromNodeID: src.ID, ToNodeID: dst.ID,
		ActionType: "click", ActionTarget: "role=link name=Next",
		Outcome: store.OutcomeSuccess, DepthDiff: store.DiffNewPage,
	})
	s.RecordEdge(ctx, store.EdgeParams{
		RunID: run.ID, FromNodeID: src.ID,
		ActionType: "click", ActionTarget: "role=button name=Broken",
		Outcome: store.OutcomeTimeout, ErrorMsg: "click timed out",
	})
	s.UpsertRunMemory(ctx, run.ID, json.RawMessage(`{"last_url":"https://app.test/next"}`))

	rec, body := doJSON(t, e, http.MethodGet, "/runs/"+run.ID+"/monitor", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["nodes"] != float64(2) {
		t.Errorf("expected 2 nodes, got %v", body["nodes"])
	}
	if body["edges"] != float64(2) {
		t.Errorf("expected 2 edges, got %v", body["edges"])
	}
	if body["success_edges"] != float64(1) {
		t.Errorf("expected 1 success edge, got %v", body["success_edges"])
	}
	if body["failed_edges"] != float64(1) {
		t.Errorf("expected 1 failed edge, got %v", body["failed_edges"])
	}
	mem, ok := body["memory"].(map[string]interface{})
	if !ok || mem["last_url"] != "https://app.test/next" {
		t.Errorf("expected run memory in monitor view, got %v", body["memory"])
	}
}

func TestGetGraph(t *testing.T) {
	_, s, _, e := newTestHandler(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "https://app.test", "", "", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	src, _, _ := s.CreateOrGetNode(ctx, store.NodeParams{
		RunID: run.ID, URL: "https://app.test/", URLNormalized: "https://app.test/",
		A11yHash: "a", StateHash: "s", InputStateHash: "i",
	})
	s.RecordEdge(ctx, store.EdgeParams{
		RunID: run.ID, FromNodeID: src.ID,
		ActionType: "fill", ActionTarget: "role=textbox name=Email",
		Outcome: store.OutcomeBlocked, ErrorMsg: "element disabled",
	})

	rec, body := doJSON(t, e, http.MethodGet, "/runs/"+run.ID+"/graph", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	nodes, _ := body["nodes"].([]interface{})
	edges, _ := body["edges"].([]interface{})
	if len(nodes) != 1 {
		t.Errorf("expected 1 node, got %d", len(nodes))
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	edge := edges[0].(map[string]interface{})
	if _, present := edge["to_node_id"]; present {
		t.Errorf("failed edge must not carry a destination: %v", edge)
	}
	if edge["outcome"] != string(store.OutcomeBlocked) {
		t.Errorf("outcome lost: %v", edge["outcome"])
	}
}

func TestStopRun(t *testing.T) {
	_, s, runner, e := newTestHandler(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "https://app.test", "", "", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	rec, body := doJSON(t, e, http.MethodPost, "/runs/"+run.ID+"/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["status"] != string(store.StatusStopped) {
		t.Errorf("expected stopped status, got %v", body["status"])
	}
	if len(runner.stopped) != 1 || runner.stopped[0] != run.ID {
		t.Errorf("runner not asked to stop: %v", runner.stopped)
	}

	// Stopping again is a no-op on an already-terminal run.
	rec, body = doJSON(t, e, http.MethodPost, "/runs/"+run.ID+"/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat stop, got %d", rec.Code)
	}
	if body["status"] != string(store.StatusStopped) {
		t.Errorf("expected stopped status on repeat, got %v", body["status"])
	}
	if len(runner.stopped) != 1 {
		t.Errorf("terminal run should not reach the runner again: %v", runner.stopped)
	}
}

func TestDeleteRun(t *testing.T) {
	_, s, _, e := newTestHandler(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "https://app.test", "", "", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	rec, _ := doJSON(t, e, http.MethodDelete, "/runs/"+run.ID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("active run should refuse deletion, got %d", rec.Code)
	}

	if _, err := s.TransitionRun(ctx, run.ID, store.StatusRunning, store.StatusStopped); err != nil {
		t.Fatalf("stop run: %v", err)
	}
	rec, _ = doJSON(t, e, http.MethodDelete, "/runs/"+run.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := s.GetRun(ctx, run.ID); err != store.ErrNotFound {
		t.Errorf("run should be gone, got %v", err)
	}

	rec, _ = doJSON(t, e, http.MethodDelete, "/runs/"+run.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleting a missing run should 404, got %d", rec.Code)
	}
}

func TestGetNodeWithArtifactPayloads(t *testing.T) {
	_, s, _, e := newTestHandler(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "https://app.test", "", "", nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	node, _, err := s.CreateOrGetNode(ctx, store.NodeParams{
		RunID: run.ID, URL: "https://app.test/", URLNormalized: "https://app.test/",
		A11yHash: "a", StateHash: "s", InputStateHash: "i",
		Artifacts: store.ArtifactPayloads{DOM: []byte("<html></html>")},
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	rec, body := doJSON(t, e, http.MethodGet, "/nodes/"+node.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["id"] != node.ID {
		t.Errorf("expected node %s, got %v", node.ID, body["id"])
	}
	payloads, ok := body["artifact_payloads"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected artifact payloads, got %v", body)
	}
	dom, err := base64.StdEncoding.DecodeString(payloads["dom"].(string))
	if err != nil || string(dom) != "<html></html>" {
		t.Errorf("DOM payload lost: %v %q", err, dom)
	}
	if _, present := body["artifacts_missing"]; present {
		t.Errorf("nothing should be missing: %v", body["artifacts_missing"])
	}

	// A lost blob degrades to a missing-artifact report, not an error.
	if err := os.Remove(node.Artifacts.DOM); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	rec, body = doJSON(t, e, http.MethodGet, "/nodes/"+node.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with lost blob, got %d", rec.Code)
	}
	missing, _ := body["artifacts_missing"].([]interface{})
	if len(missing) != 1 || missing[0] != "dom" {
		t.Errorf("expected dom reported missing, got %v", body["artifacts_missing"])
	}

	rec, _ = doJSON(t, e, http.MethodGet, "/nodes/no-such-node", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown node should 404, got %d", rec.Code)
	}
}

func TestQueueDepth(t *testing.T) {
	h, _, _, e := newTestHandler(t)
	ctx := context.Background()

	h.queue.Enqueue(ctx, queue.NewMessage(queue.KindCheckCompletion, "r1"))
	h.queue.Enqueue(ctx, queue.NewMessage(queue.KindCheckCompletion, "r2"))

	rec, body := doJSON(t, e, http.MethodGet, "/queue/depth", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["depth"] != float64(2) {
		t.Errorf("expected depth 2, got %v", body["depth"])
	}
}
