// Package rules implements the deterministic fraud checks.
//
// Every check is a pure function over an EvalContext snapshot: profile,
// transaction, trailing-hour count and blacklist are all read once by
// the engine and handed in, so a check never does I/O and never blocks.
package rules

import (
	"context"
	"fmt"

	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/profile"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

// Lookup answers blacklist membership for an EvalContext snapshot.
type Lookup interface {
	Contains(ip string) bool
}

// Params are the tunable thresholds shared by the checks.
type Params struct {
	AmountFactor    float64 // multiple of the average amount that trips the amount check
	VelocityPerHour int     // trailing-hour count that trips the velocity check
	OffHoursStart   int     // suspicious overnight window, inclusive
	OffHoursEnd     int
}

// EvalContext is the read-only snapshot a check evaluates against.
// Profile is never nil: cold-start users get an empty baseline.
type EvalContext struct {
	Profile     *profile.Baseline
	Txn         *transaction.Transaction
	RecentCount int // user's transactions in the trailing hour, this one included
	Blacklist   Lookup
	Params      Params
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name       string  `json:"name"`
	Suspicious bool    `json:"suspicious"`
	Reason     string  `json:"reason,omitempty"`
	Score      float64 `json:"score"` // 0-1
}

// Check is a single fraud rule.
type Check interface {
	Name() string
	Evaluate(ec *EvalContext) CheckResult
}

// Set is an ordered collection of checks run as one pass.
type Set struct {
	checks []Check
}

// DefaultSet returns all production checks in evaluation order.
func DefaultSet() *Set {
	return &Set{checks: []Check{
		BlacklistCheck{},
		NewIPCheck{},
		NewLocationCheck{},
		AmountDeviationCheck{},
		NewCategoryCheck{},
		OffHoursCheck{},
		VelocityCheck{},
		NewDeviceCheck{},
	}}
}

// Run evaluates every check against ec. A panicking check yields a
// non-suspicious result and a log line; the pass never aborts.
func (s *Set) Run(ctx context.Context, ec *EvalContext) []CheckResult {
	results := make([]CheckResult, 0, len(s.checks))
	for _, c := range s.checks {
		results = append(results, s.safeEvaluate(ctx, c, ec))
	}
	return results
}

func (s *Set) safeEvaluate(ctx context.Context, c Check, ec *EvalContext) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("fraud check panicked",
				"check", c.Name(), "panic", fmt.Sprint(r))
			result = CheckResult{Name: c.Name()}
		}
	}()
	return c.Evaluate(ec)
}
