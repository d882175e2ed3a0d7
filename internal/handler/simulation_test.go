package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"whatif-backend/internal/cache"
	"whatif-backend/internal/client"
	"whatif-backend/internal/model"
	"whatif-backend/internal/service"
	"whatif-backend/internal/store"
)

const engineBody = `{
  "run_id": 12,
  "facts": {"horizon_months": 6},
  "scenarios": [
    {"name": "A", "summary": "Accept now", "assumptions": ["stable"],
     "signals": {"fit_score": 0.8}, "metrics": {"expected_value": 5400, "risk": 0.3, "stress": 0.2},
     "assumption_trace": [{"key": "offer_probability", "value": 0.58, "sensitivity": 0.7}]},
    {"name": "B", "summary": "Wait", "assumptions": [],
     "signals": {"fit_score": 0.4}, "metrics": {"expected_value": "3100", "risk": 0.6, "stress": 0.5},
     "assumption_trace": []}
  ],
  "comparison": ["A beats B on stability"],
  "ranking": [{"name": "A", "fit_score": 0.8}]
}`

type stubEngine struct {
	status  int
	body    string
	submits atomic.Int32

	mu   sync.Mutex
	sent []byte
}

func (e *stubEngine) lastBody() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

func (e *stubEngine) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/simulate":
			e.submits.Add(1)
			b, _ := io.ReadAll(r.Body)
			e.mu.Lock()
			e.sent = b
			e.mu.Unlock()
			w.WriteHeader(e.status)
			io.WriteString(w, e.body)
		case "/demo/seed", "/health":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func setupRouter(t *testing.T, engine *stubEngine, auth *Auth, limiter *RateLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(engine.handler(t))
	t.Cleanup(srv.Close)

	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewSimulationService(client.New(srv.URL, srv.Client()), service.Options{
		Store:    st,
		Cache:    cache.NewMemory(),
		Timeout:  5 * time.Second,
		CacheTTL: time.Minute,
		Logger:   logger,
	})

	if auth == nil {
		auth = NewAuth("", "secret")
	}
	r := gin.New()
	r.Use(RequestLogger(logger))
	Register(r, NewSimulationHandler(svc), auth, limiter)
	return r
}

func doJSON(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestSimulate_OK(t *testing.T) {
	engine := &stubEngine{status: http.StatusOK, body: engineBody}
	r := setupRouter(t, engine, nil, nil)

	w := doJSON(r, http.MethodPost, "/api/simulate", mustJSON(t, model.DemoRequest()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}

	var view struct {
		RunID     string `json:"run_id"`
		Best      string `json:"best"`
		Scenarios []struct {
			BarWidth      float64 `json:"bar_width"`
			ExpectedValue string  `json:"expected_value"`
			Trace         []struct {
				Level string `json:"level"`
			} `json:"trace"`
		} `json:"scenarios"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.RunID != "12" || view.Best != "A" {
		t.Errorf("run_id = %q best = %q", view.RunID, view.Best)
	}
	if len(view.Scenarios) != 2 || view.Scenarios[0].BarWidth != 1 || view.Scenarios[1].BarWidth != 0.5 {
		t.Errorf("scenarios = %+v", view.Scenarios)
	}
	if view.Scenarios[1].ExpectedValue != "CA$3,100" {
		t.Errorf("numeric string not coerced: %q", view.Scenarios[1].ExpectedValue)
	}
	if view.Scenarios[0].Trace[0].Level != "HIGH" {
		t.Errorf("trace level = %q", view.Scenarios[0].Trace[0].Level)
	}

	var sent map[string]any
	if err := json.Unmarshal(engine.lastBody(), &sent); err != nil {
		t.Fatalf("engine body: %v", err)
	}
	if sent["horizon"] != "6m" || sent["use_llm"] != false {
		t.Errorf("engine received %v", sent)
	}

	latest := doJSON(r, http.MethodGet, "/api/results/latest", "")
	if latest.Code != http.StatusOK || !strings.Contains(latest.Body.String(), `"run_id":"12"`) {
		t.Errorf("latest = %d %s", latest.Code, latest.Body.String())
	}

	run := doJSON(r, http.MethodGet, "/api/runs/12", "")
	if run.Code != http.StatusOK {
		t.Errorf("run lookup = %d %s", run.Code, run.Body.String())
	}

	runs := doJSON(r, http.MethodGet, "/api/runs", "")
	if runs.Code != http.StatusOK || !strings.Contains(runs.Body.String(), `"engine_run_id":"12"`) {
		t.Errorf("runs = %d %s", runs.Code, runs.Body.String())
	}
}

func TestSimulate_PartialBodyUsesDefaults(t *testing.T) {
	engine := &stubEngine{status: http.StatusOK, body: engineBody}
	r := setupRouter(t, engine, nil, nil)

	w := doJSON(r, http.MethodPost, "/api/simulate", `{"decision_text": "Move cities?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var sent model.SimulationRequest
	if err := json.Unmarshal(engine.lastBody(), &sent); err != nil {
		t.Fatal(err)
	}
	if sent.DecisionText != "Move cities?" || sent.Horizon != model.Horizon6M {
		t.Errorf("engine received %+v", sent)
	}
}

func TestSimulate_ValidationErrors(t *testing.T) {
	engine := &stubEngine{status: http.StatusOK, body: engineBody}
	r := setupRouter(t, engine, nil, nil)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing decision", `{"title": "x"}`, "decision_text"},
		{"bad horizon", `{"decision_text": "d", "horizon": "5y"}`, "horizon"},
		{"priority too high", `{"decision_text": "d", "priorities": {"growth": 11}}`, "priorities.growth"},
		{"probability above one", `{"decision_text": "d", "assumptions": {"offer_probability": 1.5}}`, "assumptions.offer_probability"},
		{"blank decision", `{"decision_text": "   "}`, "decision_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/simulate", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var body struct {
				Fields map[string]string `json:"fields"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if _, ok := body.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %s", body.Fields, tt.wantField)
			}
		})
	}

	if w := doJSON(r, http.MethodPost, "/api/simulate", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/simulate", ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d", w.Code)
	}
	if engine.submits.Load() != 0 {
		t.Errorf("engine called %d times for invalid requests", engine.submits.Load())
	}
}

func TestSimulate_EngineErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"engine message", http.StatusUnprocessableEntity, "bad horizon", "bad horizon"},
		{"empty body", http.StatusInternalServerError, "", "Request failed: 500"},
		{"malformed", http.StatusOK, `{"scenarios": []}`, "malformed engine response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{status: tt.status, body: tt.body}
			r := setupRouter(t, engine, nil, nil)

			w := doJSON(r, http.MethodPost, "/api/simulate", mustJSON(t, model.DemoRequest()))
			if w.Code != http.StatusBadGateway {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var body struct {
				Error string `json:"error"`
			}
			json.Unmarshal(w.Body.Bytes(), &body)
			if !strings.Contains(body.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", body.Error, tt.wantMsg)
			}

			if latest := doJSON(r, http.MethodGet, "/api/results/latest", ""); latest.Code != http.StatusNotFound {
				t.Errorf("latest after failure = %d", latest.Code)
			}
		})
	}
}

func TestDemo_EmptyBody(t *testing.T) {
	engine := &stubEngine{status: http.StatusOK, body: engineBody}
	r := setupRouter(t, engine, nil, nil)

	w := doJSON(r, http.MethodPost, "/api/demo", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var sent model.SimulationRequest
	if err := json.Unmarshal(engine.lastBody(), &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Title != model.DemoRequest().Title || sent.DecisionText != model.DemoRequest().DecisionText {
		t.Errorf("demo should submit the demo decision, got %q / %q", sent.Title, sent.DecisionText)
	}
}

func TestLatest_ScopedToCaller(t *testing.T) {
	r := setupRouter(t, &stubEngine{status: http.StatusOK, body: engineBody}, nil, nil)

	w := doJSON(r, http.MethodPost, "/api/simulate", mustJSON(t, model.DemoRequest()), "Authorization", "Bearer user-1")
	if w.Code != http.StatusOK {
		t.Fatalf("simulate = %d %s", w.Code, w.Body.String())
	}

	if w := doJSON(r, http.MethodGet, "/api/results/latest", "", "Authorization", "Bearer user-1"); w.Code != http.StatusOK {
		t.Errorf("own latest = %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/results/latest", "", "Authorization", "Bearer user-2"); w.Code != http.StatusNotFound {
		t.Errorf("other caller's latest = %d, want 404", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/results/latest", ""); w.Code != http.StatusNotFound {
		t.Errorf("anonymous latest = %d, want 404", w.Code)
	}
}

func TestRuns_NotFoundAndBadLimit(t *testing.T) {
	r := setupRouter(t, &stubEngine{status: http.StatusOK, body: engineBody}, nil, nil)

	if w := doJSON(r, http.MethodGet, "/api/runs/404", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/runs?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	r := setupRouter(t, &stubEngine{status: http.StatusOK}, nil, nil)

	if w := doJSON(r, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"busy":false`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(r, http.MethodGet, "/api/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready = %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_Flow(t *testing.T) {
	auth := NewAuth("letmein", "secret")
	r := setupRouter(t, &stubEngine{status: http.StatusOK, body: engineBody}, auth, nil)

	if w := doJSON(r, http.MethodGet, "/api/results/latest", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health should stay public, got %d", w.Code)
	}

	wrong := doJSON(r, http.MethodPost, "/api/auth/verify", `{"code": "nope"}`)
	if strings.Contains(wrong.Body.String(), `"token"`) {
		t.Errorf("wrong code issued a token: %s", wrong.Body.String())
	}

	ok := doJSON(r, http.MethodPost, "/api/auth/verify", `{"code": "letmein"}`)
	var body struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(ok.Body.Bytes(), &body); err != nil || !body.Success || body.Token == "" {
		t.Fatalf("verify = %s", ok.Body.String())
	}

	w := doJSON(r, http.MethodPost, "/api/simulate", mustJSON(t, model.DemoRequest()), "Authorization", "Bearer "+body.Token)
	if w.Code != http.StatusOK {
		t.Errorf("authorized simulate = %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_TokenExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := NewAuth("code", "secret")
	auth.now = func() time.Time { return now }

	token := auth.generateToken()
	if !auth.ValidateToken(token) {
		t.Fatal("fresh token rejected")
	}
	if auth.ValidateToken(token + "0") {
		t.Error("tampered token accepted")
	}
	if NewAuth("code", "other").ValidateToken(token) {
		t.Error("token accepted under a different secret")
	}

	now = now.Add(tokenTTL + time.Second)
	if auth.ValidateToken(token) {
		t.Error("expired token accepted")
	}
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	defer limiter.Stop()
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	r := setupRouter(t, &stubEngine{status: http.StatusOK, body: engineBody}, nil, limiter)
	body := mustJSON(t, model.DemoRequest())

	for i := 0; i < 2; i++ {
		if w := doJSON(r, http.MethodPost, "/api/simulate", body); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	if w := doJSON(r, http.MethodPost, "/api/simulate", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/results/latest", ""); w.Code != http.StatusOK {
		t.Errorf("reads should not be rate limited, got %d", w.Code)
	}

	now = now.Add(time.Minute)
	if w := doJSON(r, http.MethodPost, "/api/simulate", body); w.Code != http.StatusOK {
		t.Errorf("after refill status = %d", w.Code)
	}
}

func TestRequestLogger_KeepsIncomingID(t *testing.T) {
	r := setupRouter(t, &stubEngine{status: http.StatusOK}, nil, nil)
	w := doJSON(r, http.MethodGet, "/api/health", "", requestIDHeader, "abc-123")
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}
}
