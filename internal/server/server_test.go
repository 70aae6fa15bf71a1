package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thecyberlearn/quantum-tasks/internal/config"
	"github.com/thecyberlearn/quantum-tasks/internal/payments"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockGateway is a scriptable payments.Gateway for server tests.
type mockGateway struct {
	paid map[string]bool
	seq  int
}

func newMockGateway() *mockGateway {
	return &mockGateway{paid: make(map[string]bool)}
}

func (m *mockGateway) CreateSession(ctx context.Context, p payments.CreateParams) (*payments.Session, error) {
	m.seq++
	id := fmt.Sprintf("cs_test_%d", m.seq)
	return &payments.Session{
		ID:                id,
		URL:               "https://checkout.example.com/" + id,
		ClientReferenceID: p.UserID,
		Amount:            p.Amount,
		Currency:          p.Currency,
	}, nil
}

func (m *mockGateway) RetrieveSession(ctx context.Context, id string) (*payments.Session, error) {
	return &payments.Session{ID: id, Paid: m.paid[id], Complete: m.paid[id]}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		Currency:         "aed",
		CheckoutBaseURL:  "http://localhost:8080",
		CheckoutLifetime: 30 * time.Minute,
		AgentTimeout:     10 * time.Second,
		N8NWebhookBase:   "https://n8n.example.com",
		BreakerFailures:  5,
		BreakerCooldown:  30 * time.Second,
	}
}

func newTestServer(t *testing.T) (*Server, *mockGateway) {
	t.Helper()
	gw := newMockGateway()
	s, err := New(testConfig(), WithGateway(gw))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s, gw
}

func doJSON(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	// Run() was never called, so the server reports not ready.
	w := doJSON(s, "GET", "/health/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s, _ := newTestServer(t)

	expected := []string{
		"GET:/health",
		"GET:/metrics",
		"GET:/v1/agents",
		"GET:/v1/agents/:agentId",
		"GET:/v1/users/:userId/wallet",
		"GET:/v1/users/:userId/wallet/ledger",
		"GET:/v1/wallet/topup/amounts",
		"POST:/v1/users/:userId/wallet/topup",
		"POST:/v1/users/:userId/wallet/topup/:sessionId/verify",
		"POST:/v1/users/:userId/agents/:agentId/invoke",
		"GET:/v1/users/:userId/invocations",
		"POST:/v1/admin/reconcile",
		"GET:/v1/admin/wallet/audit",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}
	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

func TestSeededCatalogServed(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(s, "GET", "/v1/agents", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Count == 0 {
		t.Error("Expected seeded agents in demo mode")
	}
}

func TestTopUpFlowEndToEnd(t *testing.T) {
	s, gw := newTestServer(t)

	// Empty wallet to start.
	w := doJSON(s, "GET", "/v1/users/user-1/wallet", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET wallet: %d: %s", w.Code, w.Body.String())
	}

	// Start a top-up from the menu.
	w = doJSON(s, "POST", "/v1/users/user-1/wallet/topup", `{"amount":50}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST topup: %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Verify before paying: 402, nothing credited.
	w = doJSON(s, "POST", "/v1/users/user-1/wallet/topup/"+created.Session.ID+"/verify", "")
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("verify unpaid: %d: %s", w.Code, w.Body.String())
	}

	// Pay, verify, and the balance lands.
	gw.paid[created.Session.ID] = true
	w = doJSON(s, "POST", "/v1/users/user-1/wallet/topup/"+created.Session.ID+"/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify paid: %d: %s", w.Code, w.Body.String())
	}
	var verified struct {
		Account struct {
			Balance string `json:"balance"`
		} `json:"account"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &verified); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if verified.Account.Balance != "50.00" {
		t.Errorf("balance = %q, want 50.00", verified.Account.Balance)
	}

	// Replay is a no-op with the same balance.
	w = doJSON(s, "POST", "/v1/users/user-1/wallet/topup/"+created.Session.ID+"/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify replay: %d: %s", w.Code, w.Body.String())
	}
}

func TestOffMenuAmountRejected(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(s, "POST", "/v1/users/user-1/wallet/topup", `{"amount":37}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInvokeWithEmptyWallet(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(s, "POST", "/v1/users/user-1/agents/data-analyzer/invoke", `{"input":{}}`)
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminReconcileOpenInDevelopment(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(s, "POST", "/v1/admin/reconcile", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Clean bool `json:"clean"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !resp.Clean {
		t.Error("Expected a clean report on a fresh server")
	}
}

func TestAdminSecretEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "hunter2"
	s, err := New(cfg, WithGateway(newMockGateway()))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	w := doJSON(s, "POST", "/v1/admin/reconcile", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without secret, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/v1/admin/reconcile", nil)
	req.Header.Set("X-Admin-Secret", "hunter2")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNotFoundRoute(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(s, "GET", "/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
