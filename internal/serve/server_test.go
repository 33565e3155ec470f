package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/source"
	"github.com/marcus/nacre/internal/watch"
)

func testSnapshot() *source.Snapshot {
	base := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	closed := base.Add(-time.Hour)
	return &source.Snapshot{
		Issues: []models.Issue{
			{ID: "web", Title: "Website epic", Type: models.TypeEpic, Status: models.StatusOpen, Priority: 2, CreatedAt: base.Add(-72 * time.Hour), UpdatedAt: base},
			{ID: "web.auth", Title: "Login flow", Type: models.TypeFeature, Status: models.StatusInProgress, Priority: 1, CreatedAt: base.Add(-48 * time.Hour), UpdatedAt: base},
			{ID: "web.auth.oauth", Title: "OAuth provider", Type: models.TypeTask, Status: models.StatusClosed, Priority: 2, CreatedAt: base.Add(-24 * time.Hour), UpdatedAt: closed, ClosedAt: &closed},
			{ID: "infra", Title: "Build pipeline", Type: models.TypeChore, Status: models.StatusOpen, Priority: 3, CreatedAt: base.Add(-24 * time.Hour), UpdatedAt: base},
		},
		Dependencies: []models.Dependency{
			{From: "web.auth", To: "infra", Kind: models.DepBlocks},
		},
		Events: []models.Event{
			{IssueID: "web.auth", Kind: models.EventCreated, At: base.Add(-48 * time.Hour), Seq: 0},
			{IssueID: "web.auth", Kind: models.EventStatusChanged, At: base.Add(-24 * time.Hour), From: models.StatusOpen, To: models.StatusInProgress, Seq: 1},
			{IssueID: "web.auth.oauth", Kind: models.EventCreated, At: base.Add(-24 * time.Hour), Seq: 2},
			{IssueID: "web.auth.oauth", Kind: models.EventStatusChanged, At: closed, From: models.StatusOpen, To: models.StatusClosed, Seq: 3},
		},
		FetchedAt: base,
	}
}

// newTestServer builds a server over a watcher that has already scanned
// the fixture snapshot once.
func newTestServer(t *testing.T, config ServeConfig) *Server {
	t.Helper()
	w := watch.New(source.Func(func(ctx context.Context) (*source.Snapshot, error) {
		return testSnapshot(), nil
	}), watch.Config{})
	if got := w.Scan(context.Background()); got != watch.ResultChanged {
		t.Fatalf("initial scan = %v, want changed", got)
	}
	return NewServer(w, config)
}

func getData(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.OK {
		t.Fatalf("ok = false, error = %+v", env.Error)
	}
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is %T, want object", env.Data)
	}
	return data
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	data := getData(t, resp)
	if data["status"] != "ok" {
		t.Errorf("status = %v, want ok", data["status"])
	}
	if data["stale"] != false {
		t.Errorf("stale = %v, want false", data["stale"])
	}
	if data["change_token"] == "" {
		t.Error("change_token missing")
	}
}

func TestBeforeFirstScanReturns503(t *testing.T) {
	w := watch.New(source.Func(func(ctx context.Context) (*source.Snapshot, error) {
		return testSnapshot(), nil
	}), watch.Config{})
	srv := NewServer(w, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/metrics")
	if err != nil {
		t.Fatalf("GET /v1/metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Code != ErrUnavailable {
		t.Errorf("error = %+v, want code %s", env.Error, ErrUnavailable)
	}
}

func TestMetricsDefaultAndWindow(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/metrics")
	if err != nil {
		t.Fatalf("GET /v1/metrics: %v", err)
	}
	data := getData(t, resp)
	if _, ok := data["lead_time"]; !ok {
		t.Error("lead_time missing from default metrics")
	}
	if data["wip"] != float64(1) {
		t.Errorf("wip = %v, want 1", data["wip"])
	}

	resp, err = http.Get(ts.URL + "/v1/metrics?window=7d")
	if err != nil {
		t.Fatalf("GET /v1/metrics?window=7d: %v", err)
	}
	data = getData(t, resp)
	win, ok := data["window"].(map[string]interface{})
	if !ok {
		t.Fatal("window missing from scoped metrics")
	}
	start, _ := time.Parse(time.RFC3339, win["start"].(string))
	end, _ := time.Parse(time.RFC3339, win["end"].(string))
	if got := end.Sub(start); got != 7*24*time.Hour {
		t.Errorf("window length = %v, want 168h", got)
	}
}

func TestMetricsInvalidWindow(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, raw := range []string{"bogus", "-3h", "0d"} {
		resp, err := http.Get(ts.URL + "/v1/metrics?window=" + raw)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("window=%s: status = %d, want 400", raw, resp.StatusCode)
		}
	}
}

func TestGraphScopes(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/graph")
	if err != nil {
		t.Fatalf("GET /v1/graph: %v", err)
	}
	data := getData(t, resp)
	if nodes := data["nodes"].([]interface{}); len(nodes) != 4 {
		t.Errorf("unscoped nodes = %d, want 4", len(nodes))
	}

	resp, err = http.Get(ts.URL + "/v1/graph?epic=web")
	if err != nil {
		t.Fatalf("GET /v1/graph?epic=web: %v", err)
	}
	data = getData(t, resp)
	if nodes := data["nodes"].([]interface{}); len(nodes) != 3 {
		t.Errorf("epic-scoped nodes = %d, want 3", len(nodes))
	}

	resp, err = http.Get(ts.URL + "/v1/graph?type=nonsense")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid type: status = %d, want 400", resp.StatusCode)
	}
}

func TestEpicsEndpoint(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/epics")
	if err != nil {
		t.Fatalf("GET /v1/epics: %v", err)
	}
	data := getData(t, resp)
	epics, ok := data["epics"].([]interface{})
	if !ok || len(epics) != 1 {
		t.Fatalf("epics = %v, want one entry", data["epics"])
	}
	first := epics[0].(map[string]interface{})
	epic := first["epic"].(map[string]interface{})
	if epic["id"] != "web" {
		t.Errorf("epic = %v, want web", epic["id"])
	}
	if first["total"] != float64(2) || first["closed"] != float64(1) {
		t.Errorf("progress = %v/%v, want 1/2", first["closed"], first["total"])
	}
}

func TestListIssuesFiltersAndSearch(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/issues?status=open")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	data := getData(t, resp)
	if data["total"] != float64(2) {
		t.Errorf("open total = %v, want 2", data["total"])
	}

	resp, err = http.Get(ts.URL + "/v1/issues?q=login")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	data = getData(t, resp)
	issues := data["issues"].([]interface{})
	if len(issues) == 0 {
		t.Fatal("fuzzy search returned nothing")
	}
	top := issues[0].(map[string]interface{})
	if top["id"] != "web.auth" {
		t.Errorf("top match = %v, want web.auth", top["id"])
	}

	resp, err = http.Get(ts.URL + "/v1/issues?limit=2&offset=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	data = getData(t, resp)
	if got := len(data["issues"].([]interface{})); got != 2 {
		t.Errorf("page size = %d, want 2", got)
	}
	if data["has_more"] != false {
		t.Errorf("has_more = %v, want false", data["has_more"])
	}

	resp, err = http.Get(ts.URL + "/v1/issues?limit=0")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0: status = %d, want 400", resp.StatusCode)
	}
}

func TestGetIssueDetail(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/issues/web.auth")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	data := getData(t, resp)
	issue := data["issue"].(map[string]interface{})
	if issue["id"] != "web.auth" {
		t.Errorf("id = %v, want web.auth", issue["id"])
	}
	if issue["parent_id"] != "web" {
		t.Errorf("parent_id = %v, want web", issue["parent_id"])
	}
	intervals, ok := data["intervals"].([]interface{})
	if !ok || len(intervals) != 2 {
		t.Fatalf("intervals = %v, want 2 entries", data["intervals"])
	}
	blockedBy := data["blocked_by"].([]interface{})
	if len(blockedBy) != 1 || blockedBy[0] != "infra" {
		t.Errorf("blocked_by = %v, want [infra]", blockedBy)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/issues/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /v1/refresh: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, ServeConfig{Token: "secret-token"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// No header.
	resp, err := http.Get(ts.URL + "/v1/issues")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no header: status = %d, want 401", resp.StatusCode)
	}

	// Wrong token.
	req, _ := http.NewRequest("GET", ts.URL+"/v1/issues", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}

	// Correct token.
	req, _ = http.NewRequest("GET", ts.URL+"/v1/issues", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("correct token: status = %d, want 200", resp.StatusCode)
	}

	// Health is exempt.
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status = %d, want 200", resp.StatusCode)
	}
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	srv := newTestServer(t, ServeConfig{CORSOrigin: "http://localhost:5173"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/issues", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}

	// Mismatched origin gets no CORS headers.
	req, _ = http.NewRequest("GET", ts.URL+"/v1/issues", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q, want empty", got)
	}
}

func TestEventsStreamInitialPing(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	var lines []string
	for range 3 {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	if !strings.HasPrefix(lines[0], "id: ") {
		t.Errorf("first line = %q, want id", lines[0])
	}
	if lines[1] != "event: ping" {
		t.Errorf("second line = %q, want event: ping", lines[1])
	}
	if !strings.HasPrefix(lines[2], "data: {") {
		t.Errorf("third line = %q, want data payload", lines[2])
	}
}

func TestEventsStreamStaleLastEventID(t *testing.T) {
	srv := newTestServer(t, ServeConfig{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/events", nil)
	req.Header.Set("Last-Event-ID", "stale-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	r.ReadString('\n') // id line
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if strings.TrimRight(line, "\n") != "event: refresh" {
		t.Errorf("event line = %q, want event: refresh", line)
	}
}
