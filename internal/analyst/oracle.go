package analyst

import (
	"context"
	"errors"
	"time"

	"github.com/ndhoang/fraudguard/internal/circuitbreaker"
	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/metrics"
	"github.com/ndhoang/fraudguard/internal/profile"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

const breakerKey = "analyst"

// Completer is the model call surface the oracle depends on.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Oracle asks the language-model analyst for a fraud judgment. Every
// failure mode (no client, open breaker, timeout, transport error,
// unparseable response) degrades to a typed neutral fallback; the
// oracle never returns an error to the scoring pipeline.
type Oracle struct {
	client  Completer
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// NewOracle creates the analyst oracle. A nil client configures a
// fallback-only oracle (no API endpoint deployed).
func NewOracle(client Completer, timeout time.Duration) *Oracle {
	return &Oracle{
		client:  client,
		breaker: circuitbreaker.New(5, 30*time.Second),
		timeout: timeout,
	}
}

// Ready reports whether an analyst endpoint is configured.
func (o *Oracle) Ready() bool {
	return o.client != nil
}

// Judge returns the analyst's verdict for txn given the user's profile
// and recent history.
func (o *Oracle) Judge(ctx context.Context, p *profile.Baseline, history []*transaction.Transaction, txn *transaction.Transaction) *AiVerdict {
	log := logging.L(ctx)

	if o.client == nil {
		metrics.OracleFallbacksTotal.WithLabelValues("analyst", "unavailable").Inc()
		return Fallback("analyst not configured")
	}
	if !o.breaker.Allow(breakerKey) {
		metrics.OracleFallbacksTotal.WithLabelValues("analyst", "unavailable").Inc()
		log.Warn("analyst circuit open, using fallback verdict", "transaction_id", txn.ID)
		return Fallback("analyst temporarily unavailable")
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.client.Complete(callCtx, systemPrompt, BuildPrompt(p, history, txn))
	if err != nil {
		o.breaker.RecordFailure(breakerKey)
		cause := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			cause = "timeout"
		}
		metrics.OracleFallbacksTotal.WithLabelValues("analyst", cause).Inc()
		log.Error("analyst call failed, using fallback verdict",
			"transaction_id", txn.ID, "error", err)
		return Fallback("analyst call failed")
	}
	o.breaker.RecordSuccess(breakerKey)

	verdict, warnings, err := ParseVerdict(raw)
	if err != nil {
		metrics.OracleFallbacksTotal.WithLabelValues("analyst", "error").Inc()
		log.Error("analyst response rejected, using fallback verdict",
			"transaction_id", txn.ID, "error", err)
		return Fallback("analyst response invalid")
	}
	for _, w := range warnings {
		metrics.VerdictRepairsTotal.WithLabelValues(w.Kind).Inc()
		log.Warn("analyst verdict repaired",
			"transaction_id", txn.ID, "kind", w.Kind, "detail", w.Message)
	}
	return verdict
}
