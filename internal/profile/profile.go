// Package profile maintains per-user behavioral baselines.
//
// A baseline summarizes a user's recent legitimate activity: where they
// transact from, which devices they use, which categories they spend in,
// their average transaction amount, and the hours they are typically
// active. Scoring rules compare incoming transactions against this
// baseline, so keeping it honest (in particular, excluding transactions
// flagged as suspicious) is what prevents an attacker from drifting a
// profile toward fraudulent behavior.
package profile

import (
	"sort"
	"time"
)

// Baseline is the learned behavioral profile for one user.
type Baseline struct {
	UserID       string    `json:"user_id"`
	Locations    []string  `json:"locations"`
	Devices      []string  `json:"devices"`
	Categories   []string  `json:"categories"`
	IPs          []string  `json:"ips"`
	AvgAmount    float64   `json:"avg_amount"`
	TypicalHours []int     `json:"typical_hours"`
	TxCount      int       `json:"tx_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// NewBaseline returns an empty cold-start baseline for userID.
func NewBaseline(userID string) *Baseline {
	return &Baseline{
		UserID:       userID,
		Locations:    []string{},
		Devices:      []string{},
		Categories:   []string{},
		IPs:          []string{},
		TypicalHours: []int{},
	}
}

// IsColdStart reports whether the baseline has no observed history yet.
func (b *Baseline) IsColdStart() bool {
	return b == nil || b.TxCount == 0
}

// HasLocation reports whether loc is part of the user's known locations.
// An empty loc matches nothing.
func (b *Baseline) HasLocation(loc string) bool {
	return contains(b.Locations, loc)
}

// HasDevice reports whether dev is one of the user's known devices.
func (b *Baseline) HasDevice(dev string) bool {
	return contains(b.Devices, dev)
}

// HasCategory reports whether cat is one of the user's usual categories.
func (b *Baseline) HasCategory(cat string) bool {
	return contains(b.Categories, cat)
}

// HasIP reports whether ip is a source address the user has transacted
// from before.
func (b *Baseline) HasIP(ip string) bool {
	return contains(b.IPs, ip)
}

// HasTypicalHour reports whether hour is within the user's usual activity hours.
func (b *Baseline) HasTypicalHour(hour int) bool {
	for _, h := range b.TypicalHours {
		if h == hour {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate freely.
func (b *Baseline) Clone() *Baseline {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Locations = append([]string(nil), b.Locations...)
	cp.Devices = append([]string(nil), b.Devices...)
	cp.Categories = append([]string(nil), b.Categories...)
	cp.IPs = append([]string(nil), b.IPs...)
	cp.TypicalHours = append([]int(nil), b.TypicalHours...)
	return &cp
}

func contains(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func sortedStrings(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}
