package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ndhoang/fraudguard/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeCompleter returns a canned analyst reply
type fakeCompleter struct {
	reply string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return f.reply, nil
}

const fraudReply = `{
	"fraud_score": 90,
	"fraud_decision": true,
	"fraud_reason": "pattern matches account takeover",
	"fraud_details": [
		{"type": "behavior", "fraud_score": 90, "message": "sudden change in spending pattern"}
	],
	"fraud_suggestions": "freeze the card",
	"alert": {"is_alert": true, "alert_message": "likely account takeover", "alert_details": "x", "alert_suggestions": "y"}
}`

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		RateLimitRPM:       10000,
		SuspicionThreshold: config.DefaultSuspicionThreshold,
		AIWeight:           config.DefaultAIWeight,
		AmountFactor:       config.DefaultAmountFactor,
		VelocityPerHour:    config.DefaultVelocityPerHour,
		OffHoursStart:      config.DefaultOffHoursStart,
		OffHoursEnd:        config.DefaultOffHoursEnd,
		HistoryLimit:       config.DefaultHistoryLimit,
		AnalystTimeout:     time.Second,
		BlacklistSnapshot:  "blacklist.json",
		AlertMediumScore:   config.DefaultAlertMediumScore,
		AlertHighScore:     config.DefaultAlertHighScore,
	}
}

// newTestServer creates a server with in-memory stores
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger)}, opts...)
	s, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func post(s *Server, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	return w
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := get(s, "/health")
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
	s := newTestServer(t)

	// Server hasn't called Run() so ready is false
	w := get(s, "/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	expected := []string{
		"GET:/health",
		"GET:/ready",
		"GET:/metrics",
		"GET:/ws/feed",
		"POST:/api/v1/transactions",
		"POST:/api/v1/transactions/:id/verify",
		"GET:/api/v1/users/:id/profile",
		"GET:/api/v1/users/:id/alerts",
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

// ---------------------------------------------------------------------------
// Transaction scoring tests
// ---------------------------------------------------------------------------

func TestScoreTransactionMissingFields(t *testing.T) {
	s := newTestServer(t)

	w := post(s, "/api/v1/transactions", `{"amount": 50.0, "sourceIp": "10.0.0.1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["error"] != "validation_failed" {
		t.Errorf("Expected validation_failed, got %v", resp["error"])
	}
	if _, ok := resp["fields"]; !ok {
		t.Error("Expected field errors in response")
	}
}

func TestScoreTransactionBadIP(t *testing.T) {
	s := newTestServer(t)

	w := post(s, "/api/v1/transactions",
		`{"userId": "user-1", "amount": 50.0, "sourceIp": "not-an-ip"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestScoreCleanTransaction(t *testing.T) {
	s := newTestServer(t)

	w := post(s, "/api/v1/transactions", `{
		"userId": "user-1",
		"amount": 42.50,
		"currency": "USD",
		"category": "groceries",
		"sourceIp": "203.0.113.7",
		"geolocation": "Hanoi, VN",
		"deviceId": "device-1"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	txnID, _ := resp["transactionId"].(string)
	if !strings.HasPrefix(txnID, "txn_") {
		t.Errorf("Expected generated transaction ID, got %q", txnID)
	}
	if resp["suspicious"] != false {
		t.Errorf("Expected clean verdict, got suspicious=%v", resp["suspicious"])
	}
	// Neutral model score 0.5 makes the traditional pipeline report 50,
	// and the unconfigured analyst reports 0: 0*0.6 + 50*0.4 = 20.
	if got := resp["fraudScore"].(float64); got != 20 {
		t.Errorf("Expected combined score 20, got %v", got)
	}
	if got := resp["traditionalScore"].(float64); got != 50 {
		t.Errorf("Expected traditional score 50, got %v", got)
	}
}

func TestSuspiciousTransactionRaisesAlert(t *testing.T) {
	s := newTestServer(t, WithAnalyst(&fakeCompleter{reply: fraudReply}))

	w := post(s, "/api/v1/transactions", `{
		"transactionId": "txn_fraud_1",
		"userId": "user-2",
		"amount": 9000,
		"currency": "USD",
		"category": "electronics",
		"sourceIp": "198.51.100.9"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var verdict map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("Failed to parse verdict: %v", err)
	}
	if verdict["suspicious"] != true {
		t.Fatalf("Expected suspicious verdict, got %v", verdict["suspicious"])
	}
	if got := verdict["aiScore"].(float64); got != 90 {
		t.Errorf("Expected AI score 90, got %v", got)
	}

	// The alert should now be visible on the user's alert feed
	aw := get(s, "/api/v1/users/user-2/alerts")
	if aw.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", aw.Code)
	}
	var alertResp struct {
		Count  int `json:"count"`
		Alerts []struct {
			TransactionID string `json:"transactionId"`
			Severity      string `json:"severity"`
		} `json:"alerts"`
	}
	if err := json.Unmarshal(aw.Body.Bytes(), &alertResp); err != nil {
		t.Fatalf("Failed to parse alerts: %v", err)
	}
	if alertResp.Count != 1 {
		t.Fatalf("Expected 1 alert, got %d", alertResp.Count)
	}
	if alertResp.Alerts[0].TransactionID != "txn_fraud_1" {
		t.Errorf("Alert points at wrong transaction: %s", alertResp.Alerts[0].TransactionID)
	}
}

// ---------------------------------------------------------------------------
// Verification tests
// ---------------------------------------------------------------------------

func TestVerifyTransaction(t *testing.T) {
	s := newTestServer(t, WithAnalyst(&fakeCompleter{reply: fraudReply}))

	w := post(s, "/api/v1/transactions", `{
		"transactionId": "txn_verify_1",
		"userId": "user-3",
		"amount": 500,
		"sourceIp": "198.51.100.9"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	vw := post(s, "/api/v1/transactions/txn_verify_1/verify",
		`{"userId": "user-3", "legitimate": true}`)
	if vw.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", vw.Code, vw.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(vw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["legitimate"] != true {
		t.Errorf("Expected legitimate=true, got %v", resp["legitimate"])
	}

	// Marking it legitimate folds it into the profile
	pw := get(s, "/api/v1/users/user-3/profile")
	if pw.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", pw.Code)
	}
	var profileResp struct {
		Profile struct {
			TxCount int `json:"tx_count"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(pw.Body.Bytes(), &profileResp); err != nil {
		t.Fatalf("Failed to parse profile: %v", err)
	}
	if profileResp.Profile.TxCount != 1 {
		t.Errorf("Expected profile tx_count 1 after verification, got %d", profileResp.Profile.TxCount)
	}
}

func TestVerifyMissingBody(t *testing.T) {
	s := newTestServer(t)

	w := post(s, "/api/v1/transactions/txn_x/verify", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestVerifyUnknownTransaction(t *testing.T) {
	s := newTestServer(t)

	w := post(s, "/api/v1/transactions/txn_ghost/verify",
		`{"userId": "user-1", "legitimate": false}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Profile endpoint tests
// ---------------------------------------------------------------------------

func TestUserProfileColdStart(t *testing.T) {
	s := newTestServer(t)

	w := get(s, "/api/v1/users/nobody/profile")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Profile struct {
			UserID  string `json:"user_id"`
			TxCount int    `json:"tx_count"`
		} `json:"profile"`
		RecentTransactions []json.RawMessage `json:"recentTransactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Profile.TxCount != 0 {
		t.Errorf("Expected empty profile, got tx_count %d", resp.Profile.TxCount)
	}
	if len(resp.RecentTransactions) != 0 {
		t.Errorf("Expected no recent transactions, got %d", len(resp.RecentTransactions))
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := get(s, "/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestRunStartsWithBlacklistFeedConfigured(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["203.0.113.50"]`))
	}))
	defer feed.Close()

	cfg := testConfig()
	cfg.BlacklistURL = feed.URL
	cfg.BlacklistRefresh = time.Hour
	cfg.BlacklistSnapshot = filepath.Join(t.TempDir(), "blacklist.json")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, WithLogger(logger))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.ready.Load() {
		if time.Now().After(deadline) {
			t.Fatal("server never became ready; startup stuck before ListenAndServe")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !s.blacklist.Contains("203.0.113.50") {
		t.Error("blacklist feed not loaded during startup")
	}
}
