// Package alerts records and dispatches fraud alerts.
//
// Exactly one alert is raised per suspicious verdict. Recording is
// authoritative; webhook delivery is fire-and-forget and never affects
// the scoring request.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/ndhoang/fraudguard/internal/analysis"
	"github.com/ndhoang/fraudguard/internal/idgen"
	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/metrics"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

// Severity bands an alert by its combined fraud score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert statuses.
const (
	StatusNew          = "new"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Alert is one recorded fraud alert.
type Alert struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	TransactionID string    `json:"transactionId"`
	FraudScore    float64   `json:"fraudScore"` // combined, 0-100
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`
	Reasons       []string  `json:"reasons"`
	Details       string    `json:"details"`
	Suggestions   string    `json:"suggestions,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Bands holds the severity cutovers on the combined 0-100 score.
type Bands struct {
	Medium float64 // scores at or above become medium
	High   float64 // scores at or above become high
}

// Classify bands a combined score.
func (b Bands) Classify(score float64) Severity {
	switch {
	case score >= b.High:
		return SeverityHigh
	case score >= b.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Service builds, records and dispatches alerts.
type Service struct {
	store    Store
	notifier *Notifier // nil when no webhook is configured
	bands    Bands
}

// NewService creates the alert service. notifier may be nil.
func NewService(store Store, notifier *Notifier, bands Bands) *Service {
	return &Service{store: store, notifier: notifier, bands: bands}
}

// Raise records one alert for a suspicious verdict and dispatches it.
// Recording failures are returned; dispatch failures are not.
func (s *Service) Raise(ctx context.Context, txn *transaction.Transaction, v *analysis.Verdict) (*Alert, error) {
	a := &Alert{
		ID:            idgen.WithPrefix("alert_"),
		UserID:        txn.UserID,
		TransactionID: txn.ID,
		FraudScore:    v.FraudScore,
		Severity:      s.bands.Classify(v.FraudScore),
		Message:       v.Alert.Message,
		Reasons:       v.Reasons,
		Details:       v.Alert.Details,
		Suggestions:   v.Alert.Suggestions,
		Status:        StatusNew,
		CreatedAt:     time.Now().UTC(),
	}
	if a.Message == "" {
		a.Message = fmt.Sprintf("Suspicious transaction %s (score %.0f)", txn.ID, v.FraudScore)
	}
	if a.Details == "" {
		a.Details = fmt.Sprintf("%s %s in category %q from %s",
			txn.Amount.String(), txn.Currency, txn.Category, txn.SourceIP)
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("record alert: %w", err)
	}

	metrics.AlertsEmittedTotal.WithLabelValues(string(a.Severity)).Inc()
	logging.L(ctx).Info("fraud alert raised",
		"alert_id", a.ID,
		"user_id", a.UserID,
		"transaction_id", a.TransactionID,
		"severity", a.Severity,
		"score", a.FraudScore,
	)

	s.notifier.Emit(a)
	return a, nil
}

// Recent returns the user's newest alerts.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]*Alert, error) {
	return s.store.ListByUser(ctx, userID, limit)
}
