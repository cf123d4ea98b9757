package engine

import (
	"fmt"
	"time"

	"github.com/ndhoang/fraudguard/internal/analysis"
	"github.com/ndhoang/fraudguard/internal/analyst"
	"github.com/ndhoang/fraudguard/internal/rules"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

// Policy holds the decision knobs of the combiner.
type Policy struct {
	SuspicionThreshold float64 // traditional suspicion cutoff on [0,1]
	AIWeight           float64 // AI share of the combined score
}

// combine folds the rule results, the model score and the analyst
// verdict into the final verdict.
//
// The traditional pipeline takes the strongest of its signals: the top
// rule score or the model probability, whichever is higher. The
// combined score blends the analyst's judgment with the traditional
// one, but suspicion itself is disjunctive: either pipeline saying
// fraud makes the verdict fraud, regardless of how the blend nets out.
func combine(txn *transaction.Transaction, checks []rules.CheckResult, modelScore float64, ai *analyst.AiVerdict, p Policy) *analysis.Verdict {
	rulesScore := 0.0
	for _, c := range checks {
		if c.Score > rulesScore {
			rulesScore = c.Score
		}
	}

	traditional := rulesScore
	if modelScore > traditional {
		traditional = modelScore
	}
	traditionalScore := traditional * 100
	traditionalSuspicious := traditional >= p.SuspicionThreshold

	aiScore := ai.FraudScore
	aiSuspicious := ai.FraudDecision

	combined := aiScore*p.AIWeight + traditionalScore*(1-p.AIWeight)
	suspicious := aiSuspicious || traditionalSuspicious

	details := buildDetails(checks, modelScore, ai, p)
	reasons := buildReasons(checks, ai, details)

	v := &analysis.Verdict{
		TransactionID:    txn.ID,
		UserID:           txn.UserID,
		FraudScore:       combined,
		Suspicious:       suspicious,
		TraditionalScore: traditionalScore,
		AiScore:          aiScore,
		Reasons:          reasons,
		Details:          details,
		Suggestions:      ai.FraudSuggestions,
		EvaluatedAt:      time.Now().UTC(),
	}

	if suspicious {
		v.Alert = analysis.AlertInfo{
			IsAlert:     true,
			Message:     ai.Alert.Message,
			Details:     ai.Alert.Details,
			Suggestions: ai.Alert.Suggestions,
		}
		if v.Alert.Message == "" {
			v.Alert.Message = fmt.Sprintf("Suspicious transaction %s", txn.ID)
		}
	}

	return v
}

// buildDetails collects every flagged factor: rules, the model when it
// crossed the threshold on its own, and the analyst's details. Sorted
// strongest first.
func buildDetails(checks []rules.CheckResult, modelScore float64, ai *analyst.AiVerdict, p Policy) []analysis.Detail {
	details := make([]analysis.Detail, 0, len(checks)+len(ai.FraudDetails)+1)
	for _, c := range checks {
		if !c.Suspicious {
			continue
		}
		details = append(details, analysis.Detail{
			Type:       c.Name,
			FraudScore: c.Score * 100,
			Message:    c.Reason,
			Source:     analysis.SourceRule,
		})
	}
	if modelScore >= p.SuspicionThreshold {
		details = append(details, analysis.Detail{
			Type:       "model",
			FraudScore: modelScore * 100,
			Message:    fmt.Sprintf("statistical model scored %.2f", modelScore),
			Source:     analysis.SourceModel,
		})
	}
	for _, d := range ai.FraudDetails {
		details = append(details, analysis.Detail{
			Type:       d.Type,
			FraudScore: d.FraudScore,
			Message:    d.Message,
			Source:     analysis.SourceAI,
		})
	}
	analysis.SortDetails(details)
	return details
}

// buildReasons unions the rule reasons, the analyst's headline reason
// and the per-detail messages, de-duplicated in insertion order.
func buildReasons(checks []rules.CheckResult, ai *analyst.AiVerdict, details []analysis.Detail) []string {
	reasons := make([]string, 0, len(checks)+len(details)+1)
	seen := make(map[string]bool)
	add := func(r string) {
		if r == "" || seen[r] {
			return
		}
		seen[r] = true
		reasons = append(reasons, r)
	}
	for _, c := range checks {
		if c.Suspicious {
			add(c.Reason)
		}
	}
	if ai.FraudDecision {
		add(ai.FraudReason)
	}
	for _, d := range details {
		add(d.Message)
	}
	return reasons
}
