// Package analysis defines the scoring verdict and the persisted
// per-transaction analysis record.
package analysis

import (
	"sort"
	"time"
)

// Detail is one scored factor that contributed to a verdict.
type Detail struct {
	Type       string  `json:"type"`
	FraudScore float64 `json:"fraudScore"` // 0-100
	Message    string  `json:"message"`
	Source     string  `json:"source"` // "rule", "model" or "ai"
}

// Detail sources.
const (
	SourceRule  = "rule"
	SourceModel = "model"
	SourceAI    = "ai"
)

// AlertInfo is the alert block attached to a suspicious verdict.
type AlertInfo struct {
	IsAlert     bool   `json:"isAlert"`
	Message     string `json:"message"`
	Details     string `json:"details"`
	Suggestions string `json:"suggestions"`
}

// Verdict is the final outcome of scoring one transaction.
// It is immutable once built.
type Verdict struct {
	TransactionID    string    `json:"transactionId"`
	UserID           string    `json:"userId"`
	FraudScore       float64   `json:"fraudScore"` // combined, 0-100
	Suspicious       bool      `json:"suspicious"`
	TraditionalScore float64   `json:"traditionalScore"` // 0-100
	AiScore          float64   `json:"aiScore"`          // 0-100
	Reasons          []string  `json:"reasons"`
	Details          []Detail  `json:"analysisDetails"`
	Suggestions      string    `json:"suggestions,omitempty"`
	Alert            AlertInfo `json:"alert"`
	EvaluatedAt      time.Time `json:"evaluatedAt"`
}

// SortDetails orders details by score descending, stably, so the
// strongest signals lead the report.
func SortDetails(details []Detail) {
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].FraudScore > details[j].FraudScore
	})
}
