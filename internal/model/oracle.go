package model

import (
	"context"
	"fmt"
	"math"

	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/metrics"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

// NeutralScore is returned whenever the classifier cannot produce a
// real score. It sits exactly between clean and fraudulent so the
// combiner neither amplifies nor suppresses the rule signal.
const NeutralScore = 0.5

// Oracle scores transactions with the loaded classifier, degrading to
// NeutralScore when no classifier is available or inference misbehaves.
type Oracle struct {
	params *Params
}

// NewOracle loads the artifact at path. An empty path configures a
// neutral-only oracle; a broken artifact is logged and treated the
// same way rather than failing startup.
func NewOracle(ctx context.Context, path string) *Oracle {
	if path == "" {
		logging.L(ctx).Info("no model artifact configured, model oracle is neutral")
		return &Oracle{}
	}
	p, err := LoadParams(path)
	if err != nil {
		logging.L(ctx).Error("failed to load model artifact, model oracle is neutral",
			"path", path, "error", err)
		return &Oracle{}
	}
	logging.L(ctx).Info("model artifact loaded",
		"path", path, "kind", p.Kind,
		"features", len(p.Numeric)+len(p.Categorical))
	return &Oracle{params: p}
}

// Ready reports whether a classifier is loaded.
func (o *Oracle) Ready() bool {
	return o.params != nil
}

// Score returns the fraud probability for txn on [0,1]. It never
// fails: degraded paths return NeutralScore and are logged and counted.
func (o *Oracle) Score(ctx context.Context, txn *transaction.Transaction) float64 {
	if o.params == nil {
		metrics.OracleFallbacksTotal.WithLabelValues("model", "unavailable").Inc()
		return NeutralScore
	}
	score, err := o.infer(txn)
	if err != nil {
		logging.L(ctx).Error("model inference failed, using neutral score",
			"transaction_id", txn.ID, "error", err)
		metrics.OracleFallbacksTotal.WithLabelValues("model", "error").Inc()
		return NeutralScore
	}
	return score
}

func (o *Oracle) infer(txn *transaction.Transaction) (float64, error) {
	x := o.params.vector(txn)
	raw := o.params.Intercept
	for i, w := range o.params.Weights {
		raw += w * x[i]
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, fmt.Errorf("non-finite decision value")
	}

	var score float64
	switch o.params.Kind {
	case KindProbability:
		score = sigmoid(raw)
	case KindAnomaly:
		// Decision-function output roughly spans [-1,1]; fold it onto [0,1].
		score = clamp01(raw/2 + 0.5)
	default:
		return 0, fmt.Errorf("unknown classifier kind %q", o.params.Kind)
	}
	return score, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
