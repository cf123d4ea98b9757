package analysis

import (
	"time"

	"github.com/ndhoang/fraudguard/internal/transaction"
)

// TransactionAnalysis is the persisted record of one scored transaction:
// the transaction snapshot, the verdict, and the fraud/verification flags
// that control whether the transaction may feed profile learning.
type TransactionAnalysis struct {
	ID        string                   `json:"id"` // equals the transaction ID
	UserID    string                   `json:"userId"`
	Txn       *transaction.Transaction `json:"transaction"`
	Verdict   *Verdict                 `json:"verdict"`
	IsFraud   bool                     `json:"isFraud"`
	Verified  bool                     `json:"verified"`
	CreatedAt time.Time                `json:"createdAt"`
}

// NewRecord builds the analysis record for a freshly scored transaction.
// IsFraud starts as the verdict's decision and can only change through
// verification feedback.
func NewRecord(txn *transaction.Transaction, v *Verdict) *TransactionAnalysis {
	return &TransactionAnalysis{
		ID:        txn.ID,
		UserID:    txn.UserID,
		Txn:       txn,
		Verdict:   v,
		IsFraud:   v.Suspicious,
		CreatedAt: time.Now().UTC(),
	}
}
