package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

func testRouter(t *testing.T, allowedOrigin string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := openTestStore(t)
	p := testProjector(t, store, 1000)
	return SetupRouter(p, nil, allowedOrigin)
}

func TestStatusEndpoint_OK(t *testing.T) {
	r := testRouter(t, "*")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store, no-cache, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("wildcard origin not sent: %q", got)
	}
}

func TestStatusEndpoint_MethodAndPathErrors(t *testing.T) {
	r := testRouter(t, "*")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", w.Code)
	}
}

func TestCORS_ExactOriginEcho(t *testing.T) {
	r := testRouter(t, "https://dash.example.com")

	// Matching origin is echoed with Vary: Origin.
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("matching origin not echoed: %q", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q", got)
	}

	// A foreign origin gets no allow header at all.
	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestRoundsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := openTestStore(t)
	store.InsertRound(&models.Round{ID: "b1", Type: models.RoundTypeBuy, Ts: 100, Txs: []string{"sig1"}})
	store.InsertRound(&models.Round{ID: "b2", Type: models.RoundTypeBuy, Ts: 200, Txs: []string{"sig2"}})
	r := SetupRouter(testProjector(t, store, 1000), nil, "*")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rounds?type=buy", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /rounds = %d", w.Code)
	}
	var body struct {
		Type   string         `json:"type"`
		Rounds []models.Round `json:"rounds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rounds) != 2 || body.Rounds[0].ID != "b2" {
		t.Errorf("expected newest-first history, got %+v", body.Rounds)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rounds?type=bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus type = %d, want 400", w.Code)
	}
}

func TestCORS_PreflightNoContent(t *testing.T) {
	r := testRouter(t, "*")

	for _, path := range []string{"/status", "/rounds"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, path, nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s = %d, want 204", path, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Methods"); got == "" {
			t.Errorf("preflight %s missing allow-methods", path)
		}
	}

	// A preflight against a path that does not exist is still a 404, not a
	// blanket 204.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("OPTIONS /nope = %d, want 404", w.Code)
	}
}
