package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/metrics"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

// History supplies the transactions a baseline is allowed to learn from.
// Implementations must exclude transactions that were flagged suspicious,
// otherwise a fraudster could normalize their own behavior over time.
type History interface {
	ListRecentLegit(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error)
}

// Updater recomputes user baselines from clean transaction history.
//
// Each update is a full recompute over the most recent window rather than
// an incremental fold, which makes the operation idempotent: updating
// twice with the same history yields the same baseline.
type Updater struct {
	store        Store
	history      History
	historyLimit int
	now          func() time.Time
}

// NewUpdater creates an Updater that learns from at most historyLimit
// recent legitimate transactions per user.
func NewUpdater(store Store, history History, historyLimit int) *Updater {
	return &Updater{
		store:        store,
		history:      history,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Update recomputes and persists the baseline for userID.
// A user with no clean history gets a cold-start baseline.
func (u *Updater) Update(ctx context.Context, userID string) (*Baseline, error) {
	txns, err := u.history.ListRecentLegit(ctx, userID, u.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", userID, err)
	}

	b := Recompute(userID, txns)
	b.LastUpdated = u.now().UTC()

	if err := u.store.Put(ctx, b); err != nil {
		return nil, fmt.Errorf("save profile for %s: %w", userID, err)
	}

	metrics.ProfileFoldsTotal.Inc()
	logging.L(ctx).Debug("profile updated",
		"user_id", userID,
		"tx_count", b.TxCount,
		"avg_amount", b.AvgAmount,
	)
	return b, nil
}

// Recompute builds a baseline purely from the given transactions.
// It does not set LastUpdated.
func Recompute(userID string, txns []*transaction.Transaction) *Baseline {
	b := NewBaseline(userID)
	if len(txns) == 0 {
		return b
	}

	locations := make(map[string]bool)
	devices := make(map[string]bool)
	categories := make(map[string]bool)
	ips := make(map[string]bool)
	hours := make(map[int]bool)
	var total float64

	for _, t := range txns {
		if t.Geolocation != "" {
			locations[t.Geolocation] = true
		}
		if t.DeviceID != "" {
			devices[t.DeviceID] = true
		}
		if t.Category != "" {
			categories[t.Category] = true
		}
		if t.SourceIP != "" {
			ips[t.SourceIP] = true
		}
		hours[t.Hour()] = true
		total += t.AmountFloat()
	}

	b.Locations = sortedStrings(locations)
	b.Devices = sortedStrings(devices)
	b.Categories = sortedStrings(categories)
	b.IPs = sortedStrings(ips)
	b.TypicalHours = sortedInts(hours)
	b.AvgAmount = total / float64(len(txns))
	b.TxCount = len(txns)
	return b
}
