// Package analyst scores transactions with a language-model fraud
// analyst behind a hardened response boundary.
//
// The model's output is untrusted text. Everything that crosses into
// the scoring pipeline goes through parse, validation and consistency
// repair first; anything unrecoverable degrades to a typed neutral
// fallback instead of an error.
package analyst

import (
	"encoding/json"
	"fmt"
	"math"
)

// Detail is one fraud factor reported by the analyst.
type Detail struct {
	Type       string  `json:"type"`
	FraudScore float64 `json:"fraud_score"` // 0-100
	Message    string  `json:"message"`
}

// AlertBlock is the analyst's alert recommendation.
type AlertBlock struct {
	IsAlert     bool   `json:"is_alert"`
	Message     string `json:"alert_message"`
	Details     string `json:"alert_details"`
	Suggestions string `json:"alert_suggestions"`
}

// AiVerdict is the analyst's typed judgment of one transaction.
type AiVerdict struct {
	FraudScore       float64    `json:"fraud_score"` // 0-100
	FraudDecision    bool       `json:"fraud_decision"`
	FraudReason      string     `json:"fraud_reason"`
	FraudDetails     []Detail   `json:"fraud_details"`
	FraudSuggestions string     `json:"fraud_suggestions"`
	Alert            AlertBlock `json:"alert"`
}

// meanTolerance is how far the reported overall score may drift from
// the mean of the detail scores before it is overwritten.
const meanTolerance = 0.01

// Warning kinds for consistency repairs.
const (
	WarnScoreMean     = "score_mean"
	WarnDuplicateType = "duplicate_type"
)

// Warning records one consistency repair applied to a verdict.
type Warning struct {
	Kind    string
	Message string
}

// Fallback returns the neutral verdict used when the analyst cannot be
// consulted: score 0, not suspicious, no details.
func Fallback(reason string) *AiVerdict {
	return &AiVerdict{
		FraudReason:  reason,
		FraudDetails: []Detail{},
	}
}

// ParseVerdict turns raw model output into a validated AiVerdict.
// It extracts the first balanced JSON object from surrounding prose,
// requires the core fields, and repairs internal inconsistencies.
// Returned warnings describe repairs that were applied.
func ParseVerdict(raw string) (*AiVerdict, []Warning, error) {
	blob, err := extractJSON(raw)
	if err != nil {
		return nil, nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &fields); err != nil {
		return nil, nil, fmt.Errorf("malformed verdict JSON: %w", err)
	}
	for _, required := range []string{"fraud_score", "fraud_decision", "fraud_reason", "fraud_details"} {
		if _, ok := fields[required]; !ok {
			return nil, nil, fmt.Errorf("verdict missing required field %q", required)
		}
	}

	var v AiVerdict
	if err := json.Unmarshal([]byte(blob), &v); err != nil {
		return nil, nil, fmt.Errorf("verdict field types invalid: %w", err)
	}
	if v.FraudDetails == nil {
		v.FraudDetails = []Detail{}
	}

	warnings := repair(&v)
	return &v, warnings, nil
}

// repair enforces the verdict's internal consistency rules in place and
// returns a description of every fix applied.
func repair(v *AiVerdict) []Warning {
	var warnings []Warning

	if len(v.FraudDetails) > 0 {
		var sum float64
		for _, d := range v.FraudDetails {
			sum += d.FraudScore
		}
		mean := sum / float64(len(v.FraudDetails))
		if math.Abs(mean-v.FraudScore) > meanTolerance {
			warnings = append(warnings, Warning{
				Kind: WarnScoreMean,
				Message: fmt.Sprintf("overall score %.2f disagrees with detail mean %.2f, corrected",
					v.FraudScore, mean),
			})
			v.FraudScore = mean
		}
	}

	seen := make(map[string]bool, len(v.FraudDetails))
	for _, d := range v.FraudDetails {
		if seen[d.Type] {
			warnings = append(warnings, Warning{
				Kind:    WarnDuplicateType,
				Message: fmt.Sprintf("duplicate detail type %q", d.Type),
			})
		}
		seen[d.Type] = true
	}

	return warnings
}

// extractJSON returns the first balanced top-level JSON object in s.
// Models wrap their JSON in prose and code fences often enough that
// plain unmarshal is not an option.
func extractJSON(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			// Quotes are tracked even before the first brace so that
			// a brace quoted in surrounding prose is not mistaken for
			// the start of the object.
			inString = true
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}
	if start >= 0 {
		return "", fmt.Errorf("unbalanced JSON object in model output")
	}
	return "", fmt.Errorf("no JSON object in model output")
}
