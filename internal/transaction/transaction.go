// Package transaction defines the immutable transaction input accepted by the
// scoring engine, plus the validation applied before a transaction enters it.
package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single financial transaction submitted for scoring.
// It is created by the caller and never mutated by the engine.
type Transaction struct {
	ID          string          `json:"transactionId"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
	SourceIP    string          `json:"sourceIp"`
	Geolocation string          `json:"geolocation"`
	DeviceID    string          `json:"deviceId"`
}

// Hour returns the transaction's hour of day (0-23).
func (t *Transaction) Hour() int {
	return t.Timestamp.Hour()
}

// AmountFloat returns the amount as a float64 for scoring math.
// Precision loss is acceptable here: scores are behavioral thresholds,
// not money movement.
func (t *Transaction) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}
