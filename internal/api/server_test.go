package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/config"
	"github.com/JakeFAU/pricewise/internal/configstore"
	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/snapshot"
	"github.com/JakeFAU/pricewise/internal/staleness"
	"github.com/JakeFAU/pricewise/internal/storage/memory"
	"github.com/JakeFAU/pricewise/internal/store"
)

func TestServer_StartRun_Accepted(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{runID: "run-1"}
	server := newTestServer(t, testDeps{runner: runner})

	rec := serve(server, http.MethodPost, BasePath+"/scraper/run", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, 1, runner.Starts())
}

func TestServer_StartRun_ConflictWhenRunning(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{startErr: fmt.Errorf("begin: %w", pricewise.ErrAlreadyRunning)}
	server := newTestServer(t, testDeps{runner: runner})

	rec := serve(server, http.MethodPost, BasePath+"/scraper/run", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")
}

func TestServer_StartRun_SpawnFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{startErr: fmt.Errorf("%w: exec: no such file", pricewise.ErrSpawnFailed)}
	server := newTestServer(t, testDeps{runner: runner})

	rec := serve(server, http.MethodPost, BasePath+"/scraper/run", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StopRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	server := newTestServer(t, testDeps{runner: runner})

	rec := serve(server, http.MethodPost, BasePath+"/scraper/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	runner.stopErr = errors.New("persist run state: disk full")
	rec = serve(server, http.MethodPost, BasePath+"/scraper/stop", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: pricewise.StatusPayload{
		RunState: pricewise.RunState{Status: pricewise.RunStatusIdle, Revision: 3},
		Config:   pricewise.NewConfigView(configstore.Defaults()),
		Outputs:  pricewise.Outputs{AnalysisJSON: true},
		LogTail:  []string{"done"},
	}}
	server := newTestServer(t, testDeps{runner: runner})

	rec := serve(server, http.MethodGet, BasePath+"/scraper/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload pricewise.StatusPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, int64(3), payload.RunState.Revision)
	assert.True(t, payload.Outputs.AnalysisJSON)
	assert.Equal(t, "OCCUPANCY TRACKING", payload.Config.ModeName)
	assert.Equal(t, []string{"done"}, payload.LogTail)
}

func TestServer_File(t *testing.T) {
	t.Parallel()

	snaps := &fakeSnapshots{artifacts: map[string]*pricewise.Artifact{
		"csv": {Data: []byte("hotel_name\nA\n"), ContentType: "text/csv", Filename: "pricing_data.csv"},
	}}
	server := newTestServer(t, testDeps{snapshots: snaps})

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{name: "missing target", target: "", want: http.StatusBadRequest},
		{name: "unknown target", target: "passwd", want: http.StatusBadRequest},
		{name: "absent artifact", target: "analysis", want: http.StatusNotFound},
		{name: "present artifact", target: "csv", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(server, http.MethodGet, BasePath+"/scraper/file?target="+tt.target, nil)
			require.Equal(t, tt.want, rec.Code)
		})
	}

	rec := serve(server, http.MethodGet, BasePath+"/scraper/file?target=csv", nil)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="pricing_data.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "hotel_name\nA\n", rec.Body.String())
}

func TestServer_RunAnalyzer(t *testing.T) {
	t.Parallel()

	generated := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	runner := &fakeRunner{analyzed: &pricewise.Snapshot{ID: "current", GeneratedAt: &generated}}
	server := newTestServer(t, testDeps{runner: runner})

	rec := serve(server, http.MethodPost, BasePath+"/analyzer/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2026-03-01T08:00:00Z", body["generatedAt"])

	runner.analyzeErr = pricewise.ErrNoRawData
	rec = serve(server, http.MethodPost, BasePath+"/analyzer/run", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no raw pricing data")
}

func TestServer_AnalyzerStatus(t *testing.T) {
	t.Parallel()

	updated := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	fresh := &fakeFreshness{verdict: staleness.Verdict{
		Outdated:    true,
		Reason:      staleness.ReasonDayRolled,
		LastUpdated: &updated,
	}}
	server := newTestServer(t, testDeps{freshness: fresh})

	rec := serve(server, http.MethodGet, BasePath+"/analyzer/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["outdated"])
	assert.Equal(t, "2026-03-01T08:00:00Z", body["lastUpdated"])

	fresh.err = errors.New("stat outputs: permission denied")
	rec = serve(server, http.MethodGet, BasePath+"/analyzer/status", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Snapshots(t *testing.T) {
	t.Parallel()

	archive := make([]pricewise.Snapshot, 5)
	for i := range archive {
		archive[i] = pricewise.Snapshot{ID: fmt.Sprintf("a%d", i), Source: pricewise.SourceArchive}
	}
	snaps := &fakeSnapshots{
		current: &pricewise.Snapshot{ID: "current", Source: pricewise.SourceCurrent},
		archive: archive,
	}
	server := newTestServer(t, testDeps{snapshots: snaps})

	rec := serve(server, http.MethodGet, BasePath+"/snapshots?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dto snapshotsDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.NotNil(t, dto.Current)
	assert.Equal(t, "current", dto.Current.ID)
	require.Len(t, dto.Archive, 2)
	assert.Equal(t, "a0", dto.Archive[0].ID)
	assert.Equal(t, 5, dto.ArchiveTotal)

	rec = serve(server, http.MethodGet, BasePath+"/snapshots?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SnapshotsEmpty(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testDeps{snapshots: &fakeSnapshots{}})

	rec := serve(server, http.MethodGet, BasePath+"/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"current":null,"archive":[],"archiveTotal":0}`, rec.Body.String())
}

func TestServer_Config(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testDeps{})

	rec := serve(server, http.MethodGet, BasePath+"/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got configDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 90, got.Config.DaysAhead)
	assert.InDelta(t, 0.5, got.Config.RequestDelay, 1e-9)

	rec = serve(server, http.MethodPut, BasePath+"/config",
		[]byte(`{"daysAhead": 30, "guests": 0, "occupancyMode": "yes", "stayDurations": "2, 4 4"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	got = configDTO{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, 30, got.Config.DaysAhead)
	assert.Equal(t, 2, got.Config.Guests)
	assert.Equal(t, []int{2, 4}, got.Config.StayDurations)
	assert.ElementsMatch(t, []string{"occupancyMode", "guests"}, got.Rejected)

	rec = serve(server, http.MethodGet, BasePath+"/config", nil)
	got = configDTO{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 30, got.Config.DaysAhead, "accepted fields persist")
}

func TestServer_ConfigBadJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testDeps{})

	rec := serve(server, http.MethodPut, BasePath+"/config", []byte(`{"daysAhead":`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(server, http.MethodPut, BasePath+"/config", []byte(`[1,2]`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Runs(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordRunStart(ctx, "run-1", started, "OCCUPANCY TRACKING"))
	require.NoError(t, repo.CompleteRun(ctx, "run-1", started.Add(time.Minute), store.RunSuccess, 0, nil))
	server := newTestServer(t, testDeps{runs: repo})

	rec := serve(server, http.MethodGet, BasePath+"/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"durationMs":60000`)

	rec = serve(server, http.MethodGet, BasePath+"/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = serve(server, http.MethodGet, BasePath+"/runs/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, http.MethodGet, BasePath+"/runs?offset=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunsWithoutLedger(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testDeps{})
	rec := serve(server, http.MethodGet, BasePath+"/runs", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	server := newTestServer(t, testDeps{runner: runner})

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/readyz", nil).Code)

	metricsRec := serve(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "pricewise_http_requests_total")

	runner.statusErr = errors.New("run state unreadable")
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/readyz", nil).Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "s3cret"}}
	server := newTestServerWithConfig(t, testDeps{}, cfg)

	rec := serve(server, http.MethodGet, BasePath+"/config", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, BasePath+"/config", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", nil).Code, "probes skip auth")
}

func TestServer_RequestIDEchoed(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testDeps{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type testDeps struct {
	runner    *fakeRunner
	snapshots *fakeSnapshots
	freshness *fakeFreshness
	runs      store.RunRepository
}

func newTestServer(t *testing.T, deps testDeps) *Server {
	t.Helper()
	return newTestServerWithConfig(t, deps, config.Config{})
}

func newTestServerWithConfig(t *testing.T, deps testDeps, cfg config.Config) *Server {
	t.Helper()
	if deps.runner == nil {
		deps.runner = &fakeRunner{}
	}
	if deps.snapshots == nil {
		deps.snapshots = &fakeSnapshots{}
	}
	if deps.freshness == nil {
		deps.freshness = &fakeFreshness{}
	}
	configs := configstore.New(filepath.Join(t.TempDir(), configstore.FileName), zap.NewNop())
	return NewServer(Deps{
		Runner:    deps.runner,
		Snapshots: deps.snapshots,
		Configs:   configs,
		Freshness: deps.freshness,
		Runs:      deps.runs,
	}, cfg, zap.NewNop())
}

func serve(s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type fakeRunner struct {
	mu         sync.Mutex
	runID      string
	startErr   error
	stopErr    error
	status     pricewise.StatusPayload
	statusErr  error
	analyzed   *pricewise.Snapshot
	analyzeErr error
	starts     int
}

func (f *fakeRunner) StartRun(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.runID, f.startErr
}

func (f *fakeRunner) StopRun(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopErr
}

func (f *fakeRunner) Status(context.Context) (pricewise.StatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeRunner) RunAnalyzerOnly(context.Context) (*pricewise.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analyzeErr != nil {
		return nil, fmt.Errorf("analyzer pass: %w", f.analyzeErr)
	}
	return f.analyzed, nil
}

func (f *fakeRunner) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeSnapshots struct {
	current   *pricewise.Snapshot
	archive   []pricewise.Snapshot
	artifacts map[string]*pricewise.Artifact
}

func (f *fakeSnapshots) Current() (*pricewise.Snapshot, error) {
	return f.current, nil
}

func (f *fakeSnapshots) ListArchive() ([]pricewise.Snapshot, error) {
	return f.archive, nil
}

func (f *fakeSnapshots) ReadFile(target string) (*pricewise.Artifact, error) {
	switch target {
	case "analysis", "csv", "history", "log":
		return f.artifacts[target], nil
	default:
		return nil, fmt.Errorf("%w: %q", snapshot.ErrUnknownTarget, target)
	}
}

type fakeFreshness struct {
	verdict staleness.Verdict
	err     error
}

func (f *fakeFreshness) Evaluate(context.Context) (staleness.Verdict, error) {
	return f.verdict, f.err
}

func TestServer_FileETag(t *testing.T) {
	t.Parallel()

	snaps := &fakeSnapshots{artifacts: map[string]*pricewise.Artifact{
		"history": {Data: []byte("{}\n"), ContentType: "application/x-ndjson", Filename: "history.jsonl"},
	}}
	server := newTestServer(t, testDeps{snapshots: snaps})

	rec := serve(server, http.MethodGet, BasePath+"/scraper/file?target=history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, BasePath+"/scraper/file?target=history", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServer_ControlThrottle(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Server: config.ServerConfig{ControlRPS: 0.001, ControlBurst: 2}}
	runner := &fakeRunner{}
	server := newTestServerWithConfig(t, testDeps{runner: runner}, cfg)

	require.Equal(t, http.StatusOK, serve(server, http.MethodPost, BasePath+"/scraper/stop", nil).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodPost, BasePath+"/scraper/stop", nil).Code)
	rec := serve(server, http.MethodPost, BasePath+"/scraper/stop", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, BasePath+"/scraper/status", nil).Code,
		"reads are not throttled")
}
