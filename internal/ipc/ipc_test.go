package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evolab/evolab/internal/catalog"
	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/importer"
	"github.com/evolab/evolab/internal/population"
	"github.com/evolab/evolab/internal/store"
	"github.com/evolab/evolab/internal/workflow"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cat := catalog.New(db, nil)
	if _, err := cat.LoadSeed(context.Background(), filepath.Join("..", "..", "configs", "problems.yaml")); err != nil {
		t.Fatalf("load seed: %v", err)
	}

	return &Handler{
		Controller:     workflow.NewController(db, nil, nil),
		Catalog:        cat,
		Query:          population.NewQuery(db),
		Importer:       importer.New(nil),
		StreamInterval: 10 * time.Millisecond,
	}
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func startRun(t *testing.T, h *Handler, session string) domain.EvolutionRun {
	t.Helper()
	w := serve(h, http.MethodPost, "/api/v1/sessions/"+session+"/run", `{"problemId":"prob-1"}`)
	expectStatus(t, w, http.StatusCreated)
	return decode[domain.EvolutionRun](t, w)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	w := serve(h, http.MethodGet, "/api/v1/health", "")
	expectStatus(t, w, http.StatusOK)
}

func TestProblems_CRUD(t *testing.T) {
	h := newTestHandler(t)

	w := serve(h, http.MethodGet, "/api/v1/problems?tags=sorting,arrays", "")
	expectStatus(t, w, http.StatusOK)
	problems := decode[[]domain.Problem](t, w)
	if len(problems) != 1 || problems[0].ID != "prob-1" {
		t.Fatalf("expected only prob-1, got %+v", problems)
	}

	body := `{"title":"Two Sum","description":"Find two numbers","functionSignature":"def two_sum(nums, target):",
		"testCases":[{"input":"[2,7], 9","expectedOutput":"[0,1]"}],"tags":["arrays"],"difficulty":"easy"}`
	w = serve(h, http.MethodPost, "/api/v1/problems", body)
	expectStatus(t, w, http.StatusCreated)
	created := decode[domain.Problem](t, w)
	if !strings.HasPrefix(created.ID, "prob-") {
		t.Errorf("expected generated id, got %q", created.ID)
	}

	w = serve(h, http.MethodPut, "/api/v1/problems/"+created.ID, strings.Replace(body, "Two Sum", "Two Sum II", 1))
	expectStatus(t, w, http.StatusOK)
	if got := decode[domain.Problem](t, w); got.Title != "Two Sum II" {
		t.Errorf("expected updated title, got %q", got.Title)
	}

	w = serve(h, http.MethodGet, "/api/v1/problems/tags", "")
	expectStatus(t, w, http.StatusOK)
	if tags := decode[[]string](t, w); len(tags) != 10 {
		t.Errorf("expected 10 tags, got %v", tags)
	}

	w = serve(h, http.MethodDelete, "/api/v1/problems/"+created.ID, "")
	expectStatus(t, w, http.StatusNoContent)
	w = serve(h, http.MethodGet, "/api/v1/problems/"+created.ID, "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestProblems_Errors(t *testing.T) {
	h := newTestHandler(t)

	w := serve(h, http.MethodPost, "/api/v1/problems", `{"title":""}`)
	expectStatus(t, w, http.StatusBadRequest)
	if apiErr := decode[APIError](t, w); apiErr.Code != domain.ErrValidation.Code {
		t.Errorf("expected validation code, got %d", apiErr.Code)
	}

	w = serve(h, http.MethodPost, "/api/v1/problems", "not json")
	expectStatus(t, w, http.StatusBadRequest)

	startRun(t, h, "sess-1")
	w = serve(h, http.MethodDelete, "/api/v1/problems/prob-1", "")
	expectStatus(t, w, http.StatusConflict)

	w = serve(h, http.MethodGet, "/api/v1/problems?sort=type", "")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestSessionRunControls(t *testing.T) {
	h := newTestHandler(t)

	w := serve(h, http.MethodGet, "/api/v1/sessions/sess-1/run", "")
	expectStatus(t, w, http.StatusOK)
	if cur := decode[CurrentRunResponse](t, w); cur.State != domain.StateIdle || cur.Run != nil {
		t.Fatalf("expected idle session, got %+v", cur)
	}

	run := startRun(t, h, "sess-1")
	if run.Status.State != domain.StateRunning || run.Status.DiversityIndex != 1.0 {
		t.Errorf("unexpected initial status %+v", run.Status)
	}

	w = serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run", `{"problemId":"prob-1"}`)
	expectStatus(t, w, http.StatusConflict)

	w = serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run/resume", "")
	expectStatus(t, w, http.StatusConflict)

	w = serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run/pause", "")
	expectStatus(t, w, http.StatusOK)
	if got := decode[domain.EvolutionRun](t, w); got.Status.State != domain.StatePaused {
		t.Errorf("expected paused, got %s", got.Status.State)
	}

	w = serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run/resume", "")
	expectStatus(t, w, http.StatusOK)

	w = serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run/stop", "")
	expectStatus(t, w, http.StatusOK)
	stopped := decode[domain.EvolutionRun](t, w)
	if stopped.Status.State != domain.StateCompleted || stopped.CompletedAt == nil {
		t.Errorf("expected completed with completedAt, got %+v", stopped)
	}

	w = serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run/stop", "")
	expectStatus(t, w, http.StatusConflict)

	w = serve(h, http.MethodGet, "/api/v1/runs?session=sess-1", "")
	expectStatus(t, w, http.StatusOK)
	if runs := decode[[]domain.EvolutionRun](t, w); len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("expected the stopped run, got %+v", runs)
	}
}

func TestStartRun_InvalidParameters(t *testing.T) {
	h := newTestHandler(t)
	body := `{"problemId":"prob-1","parameters":{"populationSize":10,"selectionStrategy":"elite","eliteCount":6,
		"maxGenerations":20,"targetFitness":1,"diversityWeight":0.3,"model":"gemini-1.5-pro","temperature":0.7}}`

	w := serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run", body)
	expectStatus(t, w, http.StatusBadRequest)

	w = serve(h, http.MethodPost, "/api/v1/sessions/sess-1/run", `{"problemId":"prob-404"}`)
	expectStatus(t, w, http.StatusNotFound)
}

func TestEngineCallbacksAndReads(t *testing.T) {
	h := newTestHandler(t)
	run := startRun(t, h, "sess-1")
	base := "/api/v1/runs/" + run.ID

	gen0 := `{"generation":0,"apiCalls":2,"elapsedMs":150,"individuals":[
		{"id":"ind-a","code":"def sort_array(arr): return arr","generation":0,
		 "testResults":[{"passed":true,"input":"[]","expectedOutput":"[]","actualOutput":"[]"},
		                {"passed":false,"input":"[2,1]","expectedOutput":"[1,2]","actualOutput":"[2,1]","error":"wrong order"}]},
		{"id":"ind-b","code":"def sort_array(arr): return sorted(arr)","generation":0,"fitness":0.9}],
		"logs":[{"type":"info","message":"initial population generated"}]}`
	w := serve(h, http.MethodPost, base+"/generations", gen0)
	expectStatus(t, w, http.StatusOK)
	after := decode[domain.EvolutionRun](t, w)
	if after.Status.BestFitness != 0.9 || after.BestIndividualID != "ind-b" {
		t.Errorf("unexpected status after generation 0: %+v", after)
	}

	w = serve(h, http.MethodPost, base+"/generations", gen0)
	expectStatus(t, w, http.StatusBadRequest)

	w = serve(h, http.MethodGet, base+"/individuals?generation=0", "")
	expectStatus(t, w, http.StatusOK)
	inds := decode[[]domain.Individual](t, w)
	if len(inds) != 2 || inds[0].ID != "ind-b" || inds[1].Fitness != 0.5 {
		t.Errorf("unexpected individuals %+v", inds)
	}

	w = serve(h, http.MethodGet, base+"/individuals", "")
	expectStatus(t, w, http.StatusBadRequest)
	w = serve(h, http.MethodGet, base+"/individuals?generation=-1", "")
	expectStatus(t, w, http.StatusBadRequest)

	w = serve(h, http.MethodGet, base+"/best", "")
	expectStatus(t, w, http.StatusOK)
	if best := decode[*domain.Individual](t, w); best == nil || best.ID != "ind-b" {
		t.Errorf("unexpected best %+v", best)
	}

	w = serve(h, http.MethodGet, base+"/metrics", "")
	expectStatus(t, w, http.StatusOK)
	if metrics := decode[[]domain.EvolutionMetrics](t, w); len(metrics) != 1 || metrics[0].APICallsMade != 2 {
		t.Errorf("unexpected metrics %+v", metrics)
	}

	w = serve(h, http.MethodGet, base+"/logs", "")
	expectStatus(t, w, http.StatusOK)
	logs := decode[[]domain.LogEntry](t, w)
	if len(logs) < 2 {
		t.Fatalf("expected start and generation logs, got %+v", logs)
	}
	w = serve(h, http.MethodGet, base+"/logs?since_seq="+jsonInt(logs[len(logs)-1].Seq), "")
	expectStatus(t, w, http.StatusOK)
	if tail := decode[[]domain.LogEntry](t, w); len(tail) != 0 {
		t.Errorf("expected no logs after last seq, got %+v", tail)
	}

	w = serve(h, http.MethodGet, "/api/v1/individuals/ind-a/lineage", "")
	expectStatus(t, w, http.StatusOK)
	w = serve(h, http.MethodGet, "/api/v1/individuals/ind-missing", "")
	expectStatus(t, w, http.StatusNotFound)

	w = serve(h, http.MethodPost, base+"/fail", `{"message":"sandbox crashed"}`)
	expectStatus(t, w, http.StatusOK)
	if failed := decode[domain.EvolutionRun](t, w); failed.Status.ErrorMessage != "sandbox crashed" {
		t.Errorf("unexpected failed run %+v", failed.Status)
	}

	w = serve(h, http.MethodGet, base+"/snapshots", "")
	expectStatus(t, w, http.StatusOK)
	snaps := decode[[]domain.StatusSnapshot](t, w)
	if len(snaps) != 3 || snaps[2].Trigger != domain.TriggerFailed {
		t.Errorf("unexpected snapshots %+v", snaps)
	}

	w = serve(h, http.MethodGet, "/api/v1/runs/run-missing", "")
	expectStatus(t, w, http.StatusNotFound)

	w = serve(h, http.MethodGet, "/api/v1/dashboard", "")
	expectStatus(t, w, http.StatusOK)
	if dash := decode[domain.DashboardSummary](t, w); dash.TotalRuns != 1 || dash.TotalProblems != 3 {
		t.Errorf("unexpected dashboard %+v", dash)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestStreamLogs_EndsWhenRunFinishes(t *testing.T) {
	h := newTestHandler(t)
	run := startRun(t, h, "sess-1")
	if _, err := h.Controller.Stop(context.Background(), "sess-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/logs/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "id: 1\n") {
		t.Errorf("expected first log entry, got %q", body)
	}
	if !strings.Contains(body, "event: end\n") {
		t.Errorf("expected end event, got %q", body)
	}
}

func TestStreamLogs_FollowsActiveRun(t *testing.T) {
	h := newTestHandler(t)
	run := startRun(t, h, "sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/logs/stream", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, "id: 1\n") {
		t.Errorf("expected entries after Last-Event-ID only, got %q", body)
	}
	if strings.Contains(body, "event: end") {
		t.Errorf("active run stream must not end, got %q", body)
	}
}

func TestStreamLogs_UnknownRun(t *testing.T) {
	h := newTestHandler(t)
	w := serve(h, http.MethodGet, "/api/v1/runs/run-missing/logs/stream", "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestImport(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	h.Importer.APIBase = srv.URL

	w := serve(h, http.MethodPost, "/api/v1/import", `{"url":"https://github.com/acme/widgets"}`)
	expectStatus(t, w, http.StatusBadGateway)

	w = serve(h, http.MethodPost, "/api/v1/import", `{"url":"https://example.com/acme"}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = serve(h, http.MethodPost, "/api/v1/import", `{}`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestMetricsRoute(t *testing.T) {
	h := newTestHandler(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("evolab_active_runs 0\n"))
	})
	w := httptest.NewRecorder()
	NewRouter(h, metrics).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	expectStatus(t, w, http.StatusOK)

	w = serve(h, http.MethodGet, "/metrics", "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestCORSHeaders(t *testing.T) {
	h := newTestHandler(t)
	srv := NewServer(h, ":0", nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs/run-1", nil)
	w := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS origin *")
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", w.Code)
	}
}
