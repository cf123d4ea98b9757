package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndhoang/fraudguard/internal/alerts"
	"github.com/ndhoang/fraudguard/internal/analysis"
	"github.com/ndhoang/fraudguard/internal/analyst"
	"github.com/ndhoang/fraudguard/internal/model"
	"github.com/ndhoang/fraudguard/internal/profile"
	"github.com/ndhoang/fraudguard/internal/rules"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

type fakeBlacklist map[string]bool

func (f fakeBlacklist) Contains(ip string) bool { return f[ip] }

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func testConfig() Config {
	return Config{
		Policy: Policy{SuspicionThreshold: 0.65, AIWeight: 0.6},
		RuleParams: rules.Params{
			AmountFactor:    2.0,
			VelocityPerHour: 5,
			OffHoursStart:   1,
			OffHoursEnd:     5,
		},
		HistoryLimit: 100,
	}
}

type fixture struct {
	engine   *Engine
	profiles *profile.MemoryStore
	analyses analysis.Store
	alerts   *alerts.MemoryStore
	deny     fakeBlacklist
}

func newFixture(t *testing.T, analystReply string, analyses analysis.Store) *fixture {
	t.Helper()
	if analyses == nil {
		analyses = analysis.NewMemoryStore()
	}
	f := &fixture{
		profiles: profile.NewMemoryStore(),
		analyses: analyses,
		alerts:   alerts.NewMemoryStore(),
		deny:     fakeBlacklist{},
	}

	var analystOracle *analyst.Oracle
	if analystReply == "" {
		analystOracle = analyst.NewOracle(nil, time.Second)
	} else {
		analystOracle = analyst.NewOracle(&fakeCompleter{reply: analystReply}, time.Second)
	}

	alertSvc := alerts.NewService(f.alerts, nil, alerts.Bands{Medium: 50, High: 75})
	f.engine = New(testConfig(), f.profiles, f.analyses,
		model.NewOracle(context.Background(), ""), analystOracle, alertSvc, f.deny, nil)
	return f
}

func testTxn(id string, amount float64) *transaction.Transaction {
	return &transaction.Transaction{
		ID:          id,
		UserID:      "u1",
		Amount:      decimal.NewFromFloat(amount),
		Currency:    "USD",
		Category:    "food",
		Timestamp:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		SourceIP:    "198.51.100.4",
		Geolocation: "US",
		DeviceID:    "dev-a",
	}
}

// --- combiner ---

func TestCombineArithmetic(t *testing.T) {
	// ai 60, traditional 40 → 60×0.6 + 40×0.4 = 52.
	txn := testTxn("t1", 50)
	checks := []rules.CheckResult{{Name: "x", Suspicious: true, Score: 0.4, Reason: "r"}}
	ai := &analyst.AiVerdict{FraudScore: 60, FraudDecision: true, FraudReason: "ai reason"}

	v := combine(txn, checks, 0, ai, Policy{SuspicionThreshold: 0.65, AIWeight: 0.6})
	if math.Abs(v.FraudScore-52) > 1e-9 {
		t.Errorf("combined = %v, want 52", v.FraudScore)
	}
	if v.TraditionalScore != 40 || v.AiScore != 60 {
		t.Errorf("component scores: trad=%v ai=%v", v.TraditionalScore, v.AiScore)
	}
}

func TestCombineDisjunctiveSuspicion(t *testing.T) {
	txn := testTxn("t1", 50)
	// AI says fraud with a tiny score; traditional is silent.
	ai := &analyst.AiVerdict{FraudScore: 10, FraudDecision: true, FraudReason: "gut feeling"}
	v := combine(txn, nil, 0, ai, Policy{SuspicionThreshold: 0.65, AIWeight: 0.6})
	if !v.Suspicious {
		t.Error("AI decision alone must make the verdict suspicious")
	}

	// Traditional crosses the threshold; AI is neutral.
	checks := []rules.CheckResult{{Name: "x", Suspicious: true, Score: 0.9, Reason: "r"}}
	v = combine(txn, checks, 0, analyst.Fallback("down"), Policy{SuspicionThreshold: 0.65, AIWeight: 0.6})
	if !v.Suspicious {
		t.Error("traditional score above threshold must make the verdict suspicious")
	}

	// Neither pipeline fires.
	v = combine(txn, nil, 0, analyst.Fallback("down"), Policy{SuspicionThreshold: 0.65, AIWeight: 0.6})
	if v.Suspicious {
		t.Error("clean on both pipelines must not be suspicious")
	}
}

func TestCombineTraditionalTakesStrongestSignal(t *testing.T) {
	txn := testTxn("t1", 50)
	checks := []rules.CheckResult{{Name: "x", Suspicious: true, Score: 0.3, Reason: "r"}}
	v := combine(txn, checks, 0.7, analyst.Fallback("down"), Policy{SuspicionThreshold: 0.65, AIWeight: 0.6})
	if v.TraditionalScore != 70 {
		t.Errorf("traditional = %v, want model-driven 70", v.TraditionalScore)
	}
	if !v.Suspicious {
		t.Error("model score above threshold must flag")
	}
}

func TestCombineDetailsSortedAndTagged(t *testing.T) {
	txn := testTxn("t1", 50)
	checks := []rules.CheckResult{
		{Name: "weak", Suspicious: true, Score: 0.3, Reason: "weak reason"},
		{Name: "strong", Suspicious: true, Score: 0.8, Reason: "strong reason"},
		{Name: "silent", Suspicious: false},
	}
	ai := &analyst.AiVerdict{
		FraudScore:    55,
		FraudDecision: true,
		FraudReason:   "several factors",
		FraudDetails:  []analyst.Detail{{Type: "location", FraudScore: 55, Message: "odd place"}},
	}

	v := combine(txn, checks, 0.7, ai, Policy{SuspicionThreshold: 0.65, AIWeight: 0.6})
	if len(v.Details) != 4 {
		t.Fatalf("details = %d, want 4 (two rules, model, one ai)", len(v.Details))
	}
	for i := 1; i < len(v.Details); i++ {
		if v.Details[i].FraudScore > v.Details[i-1].FraudScore {
			t.Errorf("details not sorted descending: %+v", v.Details)
		}
	}
	if v.Details[0].Type != "strong" || v.Details[0].Source != analysis.SourceRule {
		t.Errorf("top detail = %+v", v.Details[0])
	}
}

func TestCombineReasonsDeduplicated(t *testing.T) {
	txn := testTxn("t1", 50)
	checks := []rules.CheckResult{
		{Name: "a", Suspicious: true, Score: 0.7, Reason: "same reason"},
		{Name: "b", Suspicious: true, Score: 0.7, Reason: "same reason"},
	}
	ai := &analyst.AiVerdict{FraudScore: 50, FraudDecision: true, FraudReason: "same reason"}

	v := combine(txn, checks, 0, ai, Policy{SuspicionThreshold: 0.65, AIWeight: 0.6})
	if len(v.Reasons) != 1 || v.Reasons[0] != "same reason" {
		t.Errorf("reasons = %v, want single de-duplicated entry", v.Reasons)
	}
}

// --- Process ---

func TestProcessCleanTransactionFoldsProfile(t *testing.T) {
	f := newFixture(t, "", nil)
	ctx := context.Background()

	v, err := f.engine.Process(ctx, testTxn("t1", 50))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Suspicious {
		t.Errorf("clean transaction flagged: %+v", v)
	}

	prof, err := f.profiles.Get(ctx, "u1")
	if err != nil || prof == nil {
		t.Fatalf("profile missing after clean transaction: %v", err)
	}
	if prof.TxCount != 1 || prof.AvgAmount != 50 {
		t.Errorf("profile = %+v", prof)
	}

	got, err := f.alerts.ListByUser(ctx, "u1", 10)
	if err != nil || len(got) != 0 {
		t.Errorf("clean transaction raised alerts: %v %v", got, err)
	}
}

func TestProcessBlacklistedIPRaisesAlert(t *testing.T) {
	f := newFixture(t, "", nil)
	f.deny["198.51.100.4"] = true
	ctx := context.Background()

	v, err := f.engine.Process(ctx, testTxn("t1", 50))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !v.Suspicious {
		t.Fatalf("blacklisted source not flagged: %+v", v)
	}
	if v.TraditionalScore != 90 {
		t.Errorf("traditional = %v, want blacklist 90", v.TraditionalScore)
	}

	got, _ := f.alerts.ListByUser(ctx, "u1", 10)
	if len(got) != 1 {
		t.Fatalf("alerts = %d, want exactly 1", len(got))
	}
	if got[0].TransactionID != "t1" {
		t.Errorf("alert = %+v", got[0])
	}

	// Flagged transactions must not feed the profile.
	prof, _ := f.profiles.Get(ctx, "u1")
	if prof != nil && prof.TxCount > 0 {
		t.Errorf("suspicious transaction leaked into profile: %+v", prof)
	}
}

func TestProcessAnalystDecisionFlags(t *testing.T) {
	reply := `{"fraud_score": 10, "fraud_decision": true, "fraud_reason": "mule pattern", "fraud_details": []}`
	f := newFixture(t, reply, nil)

	v, err := f.engine.Process(context.Background(), testTxn("t1", 50))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !v.Suspicious {
		t.Error("analyst decision must flag regardless of combined score")
	}
	found := false
	for _, r := range v.Reasons {
		if r == "mule pattern" {
			found = true
		}
	}
	if !found {
		t.Errorf("analyst reason missing from %v", v.Reasons)
	}
}

type failingStore struct {
	analysis.Store
}

func (f *failingStore) Record(context.Context, *analysis.TransactionAnalysis) error {
	return errors.New("disk full")
}

func TestProcessPersistenceFailureIsAnError(t *testing.T) {
	f := newFixture(t, "", &failingStore{Store: analysis.NewMemoryStore()})

	if _, err := f.engine.Process(context.Background(), testTxn("t1", 50)); err == nil {
		t.Fatal("record failure must fail the request")
	}
}

func TestProcessCancelledContext(t *testing.T) {
	f := newFixture(t, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.engine.Process(ctx, testTxn("t1", 50)); err == nil {
		t.Fatal("cancelled context must abort processing")
	}
	if _, err := f.analyses.Get(context.Background(), "t1"); err != analysis.ErrNotFound {
		t.Error("no partial verdict may be persisted after cancellation")
	}
}

// --- VerifyTransaction ---

func TestVerifyLegitimateRestoresLearning(t *testing.T) {
	f := newFixture(t, "", nil)
	f.deny["198.51.100.4"] = true
	ctx := context.Background()

	if _, err := f.engine.Process(ctx, testTxn("t1", 50)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := f.engine.VerifyTransaction(ctx, "t1", "u1", true); err != nil {
		t.Fatalf("verify: %v", err)
	}

	rec, err := f.analyses.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.Verified || rec.IsFraud {
		t.Errorf("record after verification: %+v", rec)
	}

	// The cleared transaction now counts toward the baseline.
	prof, _ := f.profiles.Get(ctx, "u1")
	if prof == nil || prof.TxCount != 1 {
		t.Errorf("profile after verification: %+v", prof)
	}
}

func TestVerifyConfirmsFraud(t *testing.T) {
	f := newFixture(t, "", nil)
	f.deny["198.51.100.4"] = true
	ctx := context.Background()

	if _, err := f.engine.Process(ctx, testTxn("t1", 50)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := f.engine.VerifyTransaction(ctx, "t1", "u1", false); err != nil {
		t.Fatalf("verify: %v", err)
	}
	rec, _ := f.analyses.Get(ctx, "t1")
	if !rec.Verified || !rec.IsFraud {
		t.Errorf("record after fraud confirmation: %+v", rec)
	}
}

func TestVerifyUnknownOrForeignTransaction(t *testing.T) {
	f := newFixture(t, "", nil)
	ctx := context.Background()

	if err := f.engine.VerifyTransaction(ctx, "ghost", "u1", true); err != ErrNotFound {
		t.Errorf("unknown transaction: got %v, want ErrNotFound", err)
	}

	if _, err := f.engine.Process(ctx, testTxn("t1", 50)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := f.engine.VerifyTransaction(ctx, "t1", "someone-else", true); err != ErrNotFound {
		t.Errorf("foreign transaction: got %v, want ErrNotFound", err)
	}
}

// --- idempotence across repeated folds ---

func TestRepeatedScoringIsStable(t *testing.T) {
	f := newFixture(t, "", nil)
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		txn := testTxn(id, 50)
		txn.Timestamp = txn.Timestamp.Add(time.Duration(i) * 5 * time.Minute)
		if _, err := f.engine.Process(ctx, txn); err != nil {
			t.Fatalf("process %s: %v", id, err)
		}
	}

	prof, _ := f.profiles.Get(ctx, "u1")
	if prof.TxCount != 3 || prof.AvgAmount != 50 {
		t.Errorf("profile = %+v", prof)
	}
	if len(prof.IPs) != 1 || len(prof.Locations) != 1 {
		t.Errorf("profile sets = %+v", prof)
	}
}

func TestProfileEndpointColdStart(t *testing.T) {
	f := newFixture(t, "", nil)
	prof, recent, err := f.engine.Profile(context.Background(), "ghost", 10)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !prof.IsColdStart() || len(recent) != 0 {
		t.Errorf("cold start: %+v %v", prof, recent)
	}
}
