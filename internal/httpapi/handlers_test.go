package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/promptgate/promptgate/internal/events"
	"github.com/promptgate/promptgate/internal/journal"
	"github.com/promptgate/promptgate/internal/ledger"
	providerctx "github.com/promptgate/promptgate/internal/providers"
	"github.com/promptgate/promptgate/internal/router"
)

type fakeProvider struct {
	name     string
	priority int
	healthy  bool
	content  string
	genErr   error
}

func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) Priority() int         { return f.priority }
func (f *fakeProvider) CostPerToken() float64 { return 0.0001 }

func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts router.GenerateOptions) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.content, nil
}

func (f *fakeProvider) CheckHealth(ctx context.Context) (bool, error) {
	return f.healthy, nil
}

func newHistoryStore(t *testing.T) *journal.Store {
	t.Helper()
	dir := t.TempDir()
	s := journal.NewStore(journal.Options{
		Enabled:     true,
		FilePath:    filepath.Join(dir, "history.json"),
		MaxFileSize: 1024 * 1024,
		MaxFileAge:  24 * time.Hour,
		RolloverDir: filepath.Join(dir, "archive"),
	})
	if err := s.EnsureFile(); err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	return s
}

func newTestDeps(t *testing.T, providers ...router.Provider) Dependencies {
	t.Helper()
	limits := make(map[string]ledger.Limit)
	for _, p := range providers {
		limits[p.Name()] = ledger.Limit{RequestLimit: 100, LimitType: ledger.LimitTypeDay, CostPerToken: 0.0001, DailyBudgetLimit: 5}
	}
	lg := ledger.New(limits)
	cfg := router.Config{DailyBudget: 10, MaxRetries: 3, EnableCostTracking: true, EnableRateLimiting: true}
	disabled := journal.NewStore(journal.Options{Enabled: false})
	rt := router.New(providers, lg, disabled, cfg)
	return Dependencies{
		Router:  rt,
		Ledger:  lg,
		History: newHistoryStore(t),
		Journal: disabled,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestServer(t *testing.T, d Dependencies) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	MountRoutes(r, d)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestGenerateSuccess(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, content: "hello"}
	d := newTestDeps(t, p1)
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/generate", `{"prompt":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != true || body["content"] != "hello" || body["provider"] != "p1" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["duration"]; !ok {
		t.Error("missing duration field")
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	d := newTestDeps(t, &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"})
	ts := newTestServer(t, d)

	for _, body := range []string{`{"prompt":""}`, `{"prompt":"   "}`, `{}`} {
		resp := postJSON(t, ts.URL+"/api/ai/generate", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestGenerateMalformedBody(t *testing.T) {
	d := newTestDeps(t, &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"})
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/generate", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerateAllFailed(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, genErr: errors.New("down")}
	p2 := &fakeProvider{name: "p2", priority: 2, healthy: true, genErr: errors.New("down too")}
	d := newTestDeps(t, p1, p2)
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/generate", `{"prompt":"hi"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != false {
		t.Errorf("success = %v", body["success"])
	}
	failed, _ := body["failedProviders"].([]any)
	if len(failed) != 2 || failed[0] != "p1" || failed[1] != "p2" {
		t.Errorf("failedProviders = %v", failed)
	}
	if body["error"] == "" {
		t.Error("missing error message")
	}
	if _, ok := body["totalAttemptedCost"]; !ok {
		t.Error("missing totalAttemptedCost")
	}
}

func TestGenerateAppendsHistoryWithDefaults(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, content: "answer"}
	d := newTestDeps(t, p1)
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/generate", `{"prompt":"question"}`)
	resp.Body.Close()

	doc, err := journal.Load[journal.Document](d.History)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc == nil || len(doc.Responses) != 1 {
		t.Fatalf("expected 1 history entry, got %+v", doc)
	}
	e := doc.Responses[0]
	if e.Prompt != "question" || e.Content != "answer" || !e.Success {
		t.Errorf("entry = %+v", e)
	}
	if e.MaxTokens != 1000 || e.Temperature != 0.7 || e.Model != "default" {
		t.Errorf("defaults not applied: %+v", e)
	}
}

func TestGenerateExplicitOptions(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"}
	d := newTestDeps(t, p1)
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/generate",
		`{"prompt":"q","maxTokens":42,"temperature":0,"model":"tiny","stopSequences":["END"]}`)
	resp.Body.Close()

	doc, _ := journal.Load[journal.Document](d.History)
	e := doc.Responses[0]
	// An explicit temperature of 0 must survive; it is not "absent".
	if e.MaxTokens != 42 || e.Temperature != 0 || e.Model != "tiny" {
		t.Errorf("options not honored: %+v", e)
	}
}

func TestStatusEndpoint(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"}
	p2 := &fakeProvider{name: "p2", priority: 2, healthy: false}
	d := newTestDeps(t, p1, p2)
	ts := newTestServer(t, d)

	resp, err := http.Get(ts.URL + "/api/ai/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var statuses []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0]["name"] != "p1" || statuses[0]["isHealthy"] != true {
		t.Errorf("p1 status = %v", statuses[0])
	}
	if statuses[1]["isHealthy"] != false {
		t.Errorf("p2 status = %v", statuses[1])
	}
}

func TestSpendEndpoint(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"}
	d := newTestDeps(t, p1)
	d.Ledger.Record("p1", 10, 0.5)
	ts := newTestServer(t, d)

	resp, err := http.Get(ts.URL + "/api/ai/spend")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var spend float64
	if err := json.NewDecoder(resp.Body).Decode(&spend); err != nil {
		t.Fatalf("spend must be a bare number: %v", err)
	}
	if spend < 0.49 || spend > 0.51 {
		t.Errorf("spend = %f, want 0.5", spend)
	}
}

func TestHealthEndpoint(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"}
	p2 := &fakeProvider{name: "p2", priority: 2, healthy: false}
	d := newTestDeps(t, p1, p2)
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/health", "")
	body := decodeBody(t, resp)
	if body["status"] != "Healthy" {
		t.Errorf("status = %v", body["status"])
	}
	if body["healthyProviders"] != float64(1) || body["totalProviders"] != float64(2) {
		t.Errorf("counts = %v / %v", body["healthyProviders"], body["totalProviders"])
	}
}

func TestHealthEndpointAllDown(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: false}
	d := newTestDeps(t, p1)
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/health", "")
	body := decodeBody(t, resp)
	if body["status"] != "Unhealthy" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestHistoryEndpointEmpty(t *testing.T) {
	d := newTestDeps(t, &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"})
	ts := newTestServer(t, d)

	resp, err := http.Get(ts.URL + "/api/ai/history")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if body["totalRequests"] != float64(0) {
		t.Errorf("expected empty document, got %v", body)
	}
	if _, ok := body["responses"]; !ok {
		t.Error("missing responses field")
	}
}

func TestRolloverEndpoint(t *testing.T) {
	d := newTestDeps(t, &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"})
	ts := newTestServer(t, d)

	resp := postJSON(t, ts.URL+"/api/ai/rollover", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["message"] == "" {
		t.Errorf("missing message: %v", body)
	}
}

func TestWeeklyUsageEndpoint(t *testing.T) {
	d := newTestDeps(t, &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"})
	d.Ledger.Record("p1", 5, 0.01)
	ts := newTestServer(t, d)

	resp, err := http.Get(ts.URL + "/api/ai/usage/weekly")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if body["totalRequests"] != float64(1) {
		t.Errorf("totalRequests = %v", body["totalRequests"])
	}
	providers, _ := body["providers"].(map[string]any)
	days, _ := providers["p1"].([]any)
	if len(days) != 7 {
		t.Errorf("expected 7 days for p1, got %d", len(days))
	}
}

func TestServiceHealthEndpoint(t *testing.T) {
	d := newTestDeps(t, &fakeProvider{name: "p1", priority: 1, healthy: true, content: "x"})
	ts := newTestServer(t, d)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestSSEHandlerWritesConnectedEvent(t *testing.T) {
	bus := events.NewBus()
	handler := SSEHandler(bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the stream ends right after the connected event
	req := httptest.NewRequest(http.MethodGet, "/api/ai/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "event: connected") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

// requestIDProvider records the request ID its Generate call observes.
type requestIDProvider struct {
	fakeProvider
	gotRequestID string
}

func (p *requestIDProvider) Generate(ctx context.Context, prompt string, opts router.GenerateOptions) (string, error) {
	p.gotRequestID = providerctx.RequestID(ctx)
	return "ok", nil
}

func TestGenerateForwardsRequestIDToProviders(t *testing.T) {
	p := &requestIDProvider{fakeProvider: fakeProvider{name: "p1", priority: 1, healthy: true}}
	d := newTestDeps(t, p)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	MountRoutes(r, d)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/api/ai/generate", `{"prompt":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if p.gotRequestID == "" {
		t.Error("expected the adapter to see the inbound request ID")
	}
}
