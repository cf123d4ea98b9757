// Package engine orchestrates the full scoring pipeline for one
// transaction: per-user serialization, context reads, rule evaluation,
// concurrent oracle fan-out, combination, persistence and follow-up.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ndhoang/fraudguard/internal/alerts"
	"github.com/ndhoang/fraudguard/internal/analysis"
	"github.com/ndhoang/fraudguard/internal/analyst"
	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/metrics"
	"github.com/ndhoang/fraudguard/internal/model"
	"github.com/ndhoang/fraudguard/internal/profile"
	"github.com/ndhoang/fraudguard/internal/realtime"
	"github.com/ndhoang/fraudguard/internal/rules"
	"github.com/ndhoang/fraudguard/internal/syncutil"
	"github.com/ndhoang/fraudguard/internal/traces"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

// ErrNotFound is returned when verification references an unknown transaction.
var ErrNotFound = analysis.ErrNotFound

// Config carries the engine's policy knobs.
type Config struct {
	Policy       Policy
	RuleParams   rules.Params
	HistoryLimit int
}

// Engine scores transactions.
type Engine struct {
	cfg      Config
	locks    *syncutil.UserMutex
	profiles profile.Store
	updater  *profile.Updater
	analyses analysis.Store
	checks   *rules.Set
	model    *model.Oracle
	analyst  *analyst.Oracle
	alerts   *alerts.Service
	deny     rules.Lookup
	hub      *realtime.Hub // optional
}

// New wires up an engine.
func New(cfg Config, profiles profile.Store, analyses analysis.Store,
	modelOracle *model.Oracle, analystOracle *analyst.Oracle,
	alertSvc *alerts.Service, deny rules.Lookup, hub *realtime.Hub) *Engine {
	return &Engine{
		cfg:      cfg,
		locks:    syncutil.NewUserMutex(),
		profiles: profiles,
		updater:  profile.NewUpdater(profiles, analyses, cfg.HistoryLimit),
		analyses: analyses,
		checks:   rules.DefaultSet(),
		model:    modelOracle,
		analyst:  analystOracle,
		alerts:   alertSvc,
		deny:     deny,
		hub:      hub,
	}
}

// Process scores one validated transaction and returns its verdict.
//
// The per-user lock serializes scoring with profile folds so a burst of
// transactions for the same user sees consistent state. Persistence
// failure is a hard error: a verdict that was never recorded would hide
// a fraud decision.
func (e *Engine) Process(ctx context.Context, txn *transaction.Transaction) (*analysis.Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "engine.Process",
		traces.TransactionID(txn.ID),
		traces.UserID(txn.UserID),
		traces.Amount(txn.Amount.String()),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	}()

	unlock, err := e.locks.Lock(ctx, txn.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Context reads under the user lock.
	prof, err := e.profiles.Get(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if prof == nil {
		prof = profile.NewBaseline(txn.UserID)
	}
	recent, err := e.analyses.CountSince(ctx, txn.UserID, txn.Timestamp.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count recent transactions: %w", err)
	}
	history, err := e.analyses.ListRecentLegit(ctx, txn.UserID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	ec := &rules.EvalContext{
		Profile:     prof,
		Txn:         txn,
		RecentCount: recent + 1, // this transaction included
		Blacklist:   e.deny,
		Params:      e.cfg.RuleParams,
	}
	checks := e.checks.Run(ctx, ec)

	modelScore, aiVerdict := e.consultOracles(ctx, prof, history, txn)
	if err := ctx.Err(); err != nil {
		// Caller gave up; do not persist a partial verdict.
		return nil, err
	}

	verdict := combine(txn, checks, modelScore, aiVerdict, e.cfg.Policy)
	span.SetAttributes(traces.Score(verdict.FraudScore))

	if err := e.analyses.Record(ctx, analysis.NewRecord(txn, verdict)); err != nil {
		return nil, fmt.Errorf("record analysis: %w", err)
	}

	if verdict.Suspicious {
		metrics.TransactionsScoredTotal.WithLabelValues("suspicious").Inc()
		e.raiseAlert(ctx, txn, verdict)
	} else {
		metrics.TransactionsScoredTotal.WithLabelValues("clean").Inc()
		if _, err := e.updater.Update(ctx, txn.UserID); err != nil {
			return nil, fmt.Errorf("fold profile: %w", err)
		}
	}

	if e.hub != nil {
		e.hub.BroadcastVerdict(verdict)
	}

	logging.L(ctx).Info("transaction scored",
		"transaction_id", txn.ID,
		"user_id", txn.UserID,
		"score", verdict.FraudScore,
		"suspicious", verdict.Suspicious,
	)
	return verdict, nil
}

// consultOracles runs both oracles concurrently and joins before
// combining. Each oracle owns its timeout and degrades internally, so
// the only error that can escape is caller cancellation.
func (e *Engine) consultOracles(ctx context.Context, prof *profile.Baseline,
	history []*transaction.Transaction, txn *transaction.Transaction) (float64, *analyst.AiVerdict) {
	var (
		wg         sync.WaitGroup
		modelScore float64
		aiVerdict  *analyst.AiVerdict
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, span := traces.StartSpan(ctx, "oracle.model", traces.Oracle("model"))
		defer span.End()
		modelScore = e.model.Score(ctx, txn)
	}()
	go func() {
		defer wg.Done()
		_, span := traces.StartSpan(ctx, "oracle.analyst", traces.Oracle("analyst"))
		defer span.End()
		aiVerdict = e.analyst.Judge(ctx, prof, history, txn)
	}()
	wg.Wait()
	return modelScore, aiVerdict
}

// raiseAlert records and dispatches the alert for a suspicious verdict.
// Alert storage failures are logged, not returned: the verdict itself
// is already durable.
func (e *Engine) raiseAlert(ctx context.Context, txn *transaction.Transaction, v *analysis.Verdict) {
	a, err := e.alerts.Raise(ctx, txn, v)
	if err != nil {
		logging.L(ctx).Error("failed to raise alert",
			"transaction_id", txn.ID, "error", err)
		return
	}
	if e.hub != nil {
		e.hub.BroadcastAlert(a)
	}
}

// VerifyTransaction applies verification feedback: the account holder
// (or an analyst) confirms a flagged transaction as legitimate or as
// fraud. Legitimate transactions re-enter profile learning immediately.
func (e *Engine) VerifyTransaction(ctx context.Context, txnID, userID string, legitimate bool) error {
	unlock, err := e.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := e.analyses.Get(ctx, txnID)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		// Do not leak other users' transaction IDs.
		return ErrNotFound
	}

	if err := e.analyses.MarkVerified(ctx, txnID, !legitimate); err != nil {
		return err
	}
	logging.L(ctx).Info("transaction verified",
		"transaction_id", txnID,
		"user_id", userID,
		"legitimate", legitimate,
	)

	if legitimate {
		if _, err := e.updater.Update(ctx, userID); err != nil {
			return fmt.Errorf("fold profile: %w", err)
		}
	}
	return nil
}

// Profile returns the user's baseline together with recent analyses.
func (e *Engine) Profile(ctx context.Context, userID string, recentLimit int) (*profile.Baseline, []*analysis.TransactionAnalysis, error) {
	prof, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if prof == nil {
		prof = profile.NewBaseline(userID)
	}
	recent, err := e.analyses.ListRecent(ctx, userID, recentLimit)
	if err != nil {
		return nil, nil, err
	}
	return prof, recent, nil
}
