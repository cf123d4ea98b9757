package rules

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndhoang/fraudguard/internal/profile"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

type fakeBlacklist map[string]bool

func (f fakeBlacklist) Contains(ip string) bool { return f[ip] }

func defaultParams() Params {
	return Params{
		AmountFactor:    2.0,
		VelocityPerHour: 5,
		OffHoursStart:   1,
		OffHoursEnd:     5,
	}
}

func evalCtx(mutate ...func(*EvalContext)) *EvalContext {
	ec := &EvalContext{
		Profile: &profile.Baseline{
			UserID:       "u1",
			Locations:    []string{"US"},
			Devices:      []string{"dev-a"},
			Categories:   []string{"food"},
			IPs:          []string{"198.51.100.4"},
			AvgAmount:    100,
			TypicalHours: []int{9, 12, 18},
			TxCount:      20,
		},
		Txn: &transaction.Transaction{
			ID:          "t1",
			UserID:      "u1",
			Amount:      decimal.NewFromInt(50),
			Category:    "food",
			Timestamp:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
			SourceIP:    "198.51.100.4",
			Geolocation: "US",
			DeviceID:    "dev-a",
		},
		RecentCount: 1,
		Blacklist:   fakeBlacklist{},
		Params:      defaultParams(),
	}
	for _, m := range mutate {
		m(ec)
	}
	return ec
}

func TestCleanTransactionTripsNothing(t *testing.T) {
	results := DefaultSet().Run(context.Background(), evalCtx())
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	for _, r := range results {
		if r.Suspicious {
			t.Errorf("check %s flagged a clean transaction: %+v", r.Name, r)
		}
	}
}

func TestBlacklistCheck(t *testing.T) {
	ec := evalCtx(func(ec *EvalContext) {
		ec.Blacklist = fakeBlacklist{"198.51.100.4": true}
	})
	r := BlacklistCheck{}.Evaluate(ec)
	if !r.Suspicious || r.Score != 0.9 {
		t.Errorf("blacklisted IP: got %+v, want suspicious at 0.9", r)
	}
}

func TestBlacklistShortCircuitsNewIP(t *testing.T) {
	// A blacklisted address that is also new to the user scores only
	// through the blacklist check.
	ec := evalCtx(func(ec *EvalContext) {
		ec.Txn.SourceIP = "203.0.113.50"
		ec.Blacklist = fakeBlacklist{"203.0.113.50": true}
	})
	if r := (NewIPCheck{}).Evaluate(ec); r.Suspicious {
		t.Errorf("new-IP check must defer to blacklist check: %+v", r)
	}
	if r := (BlacklistCheck{}).Evaluate(ec); !r.Suspicious || r.Score != 0.9 {
		t.Errorf("blacklist check: %+v", r)
	}
}

func TestNewIPCheck(t *testing.T) {
	ec := evalCtx(func(ec *EvalContext) { ec.Txn.SourceIP = "203.0.113.50" })
	r := NewIPCheck{}.Evaluate(ec)
	if !r.Suspicious || r.Score != 0.7 {
		t.Errorf("new IP: got %+v, want suspicious at 0.7", r)
	}

	// No IP history means nothing to compare against.
	cold := evalCtx(func(ec *EvalContext) {
		ec.Profile.IPs = nil
		ec.Txn.SourceIP = "203.0.113.50"
	})
	if r := (NewIPCheck{}).Evaluate(cold); r.Suspicious {
		t.Errorf("cold-start IP check should stay silent: %+v", r)
	}
}

func TestNewLocationCheck(t *testing.T) {
	ec := evalCtx(func(ec *EvalContext) { ec.Txn.Geolocation = "RU" })
	r := NewLocationCheck{}.Evaluate(ec)
	if !r.Suspicious || r.Score != 0.7 {
		t.Errorf("new location: got %+v, want suspicious at 0.7", r)
	}

	empty := evalCtx(func(ec *EvalContext) {
		ec.Txn.Geolocation = ""
	})
	if r := (NewLocationCheck{}).Evaluate(empty); r.Suspicious {
		t.Errorf("missing geolocation should stay silent: %+v", r)
	}
}

func TestAmountDeviationFormula(t *testing.T) {
	// avg 100, factor 2.0 → threshold 200. amount 300 → 300/200×0.5 = 0.75.
	ec := evalCtx(func(ec *EvalContext) { ec.Txn.Amount = decimal.NewFromInt(300) })
	r := AmountDeviationCheck{}.Evaluate(ec)
	if !r.Suspicious {
		t.Fatalf("amount 3x average should flag: %+v", r)
	}
	if math.Abs(r.Score-0.75) > 1e-9 {
		t.Errorf("score = %v, want 0.75", r.Score)
	}

	// Extreme amounts cap at 0.9.
	huge := evalCtx(func(ec *EvalContext) { ec.Txn.Amount = decimal.NewFromInt(100000) })
	if r := (AmountDeviationCheck{}).Evaluate(huge); r.Score != 0.9 {
		t.Errorf("score = %v, want cap 0.9", r.Score)
	}

	// At or below the threshold nothing fires.
	edge := evalCtx(func(ec *EvalContext) { ec.Txn.Amount = decimal.NewFromInt(200) })
	if r := (AmountDeviationCheck{}).Evaluate(edge); r.Suspicious {
		t.Errorf("amount at threshold should not flag: %+v", r)
	}

	// No average yet means the check cannot judge.
	cold := evalCtx(func(ec *EvalContext) {
		ec.Profile.AvgAmount = 0
		ec.Txn.Amount = decimal.NewFromInt(100000)
	})
	if r := (AmountDeviationCheck{}).Evaluate(cold); r.Suspicious {
		t.Errorf("cold-start amount check should stay silent: %+v", r)
	}
}

func TestNewCategoryCheck(t *testing.T) {
	ec := evalCtx(func(ec *EvalContext) { ec.Txn.Category = "casino" })
	r := NewCategoryCheck{}.Evaluate(ec)
	if !r.Suspicious || r.Score != 0.5 {
		t.Errorf("new category: got %+v, want suspicious at 0.5", r)
	}
}

func TestOffHoursCheck(t *testing.T) {
	night := evalCtx(func(ec *EvalContext) {
		ec.Txn.Timestamp = time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	})
	r := OffHoursCheck{}.Evaluate(night)
	if !r.Suspicious || r.Score != 0.6 {
		t.Errorf("3am transaction: got %+v, want suspicious at 0.6", r)
	}

	// A night-shift user with 3 in their typical hours is fine.
	nightOwl := evalCtx(func(ec *EvalContext) {
		ec.Txn.Timestamp = time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
		ec.Profile.TypicalHours = []int{2, 3, 4}
	})
	if r := (OffHoursCheck{}).Evaluate(nightOwl); r.Suspicious {
		t.Errorf("typical night hour should not flag: %+v", r)
	}

	// Daytime is out of the window entirely.
	if r := (OffHoursCheck{}).Evaluate(evalCtx()); r.Suspicious {
		t.Errorf("noon should not flag: %+v", r)
	}
}

func TestVelocityFormula(t *testing.T) {
	// limit 5: count 5 → 5/5×0.4 = 0.4.
	at := evalCtx(func(ec *EvalContext) { ec.RecentCount = 5 })
	r := VelocityCheck{}.Evaluate(at)
	if !r.Suspicious || math.Abs(r.Score-0.4) > 1e-9 {
		t.Errorf("count 5: got %+v, want suspicious at 0.4", r)
	}

	// count 12 → 12/5×0.4 = 0.96, capped at 0.8.
	burst := evalCtx(func(ec *EvalContext) { ec.RecentCount = 12 })
	if r := (VelocityCheck{}).Evaluate(burst); r.Score != 0.8 {
		t.Errorf("score = %v, want cap 0.8", r.Score)
	}

	under := evalCtx(func(ec *EvalContext) { ec.RecentCount = 4 })
	if r := (VelocityCheck{}).Evaluate(under); r.Suspicious {
		t.Errorf("under the limit should not flag: %+v", r)
	}
}

func TestNewDeviceCheck(t *testing.T) {
	ec := evalCtx(func(ec *EvalContext) { ec.Txn.DeviceID = "dev-z" })
	r := NewDeviceCheck{}.Evaluate(ec)
	if !r.Suspicious || r.Score != 0.6 {
		t.Errorf("new device: got %+v, want suspicious at 0.6", r)
	}
}

func TestColdStartProfileStaysSilent(t *testing.T) {
	ec := evalCtx(func(ec *EvalContext) {
		ec.Profile = profile.NewBaseline("fresh")
		ec.Txn.SourceIP = "203.0.113.50"
		ec.Txn.Geolocation = "RU"
		ec.Txn.Category = "casino"
		ec.Txn.DeviceID = "dev-z"
		ec.Txn.Amount = decimal.NewFromInt(100000)
	})
	for _, r := range DefaultSet().Run(context.Background(), ec) {
		if r.Suspicious {
			t.Errorf("check %s flagged a cold-start user: %+v", r.Name, r)
		}
	}
}

type panickyCheck struct{}

func (panickyCheck) Name() string                      { return "panicky" }
func (panickyCheck) Evaluate(*EvalContext) CheckResult { panic("boom") }

func TestRunSurvivesPanickingCheck(t *testing.T) {
	s := &Set{checks: []Check{panickyCheck{}, BlacklistCheck{}}}
	results := s.Run(context.Background(), evalCtx())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Suspicious {
		t.Errorf("panicking check must yield non-suspicious: %+v", results[0])
	}
}
