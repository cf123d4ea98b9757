// Package blacklist maintains the set of known-bad source IPs.
//
// The set comes from a live HTTP feed when one is configured, falling
// back to the last-known-good local snapshot, falling back to an empty
// set. Lookups run against an atomically swapped snapshot so scoring
// never blocks on a refresh.
package blacklist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/metrics"
	"github.com/ndhoang/fraudguard/internal/retry"
)

const (
	fetchAttempts  = 3
	fetchBaseDelay = 500 * time.Millisecond
	maxFeedBytes   = 10 << 20
)

type ipSet map[string]struct{}

// Blacklist is a concurrent-safe IP deny set.
type Blacklist struct {
	url          string
	snapshotPath string
	client       *http.Client
	current      atomic.Pointer[ipSet]
}

// New creates a Blacklist reading from url (may be empty) with
// snapshotPath as the last-known-good fallback file.
func New(url, snapshotPath string) *Blacklist {
	b := &Blacklist{
		url:          url,
		snapshotPath: snapshotPath,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
	empty := make(ipSet)
	b.current.Store(&empty)
	return b
}

// Contains reports whether ip is blacklisted.
func (b *Blacklist) Contains(ip string) bool {
	set := *b.current.Load()
	_, ok := set[ip]
	return ok
}

// Size returns the number of blacklisted IPs.
func (b *Blacklist) Size() int {
	return len(*b.current.Load())
}

// Load populates the set at startup: live feed first, snapshot file
// second, empty set third. It never fails; degraded tiers are logged.
func (b *Blacklist) Load(ctx context.Context) {
	log := logging.L(ctx)

	if b.url != "" {
		if err := b.refreshFromFeed(ctx); err == nil {
			log.Info("blacklist loaded from live feed", "size", b.Size(), "url", b.url)
			return
		} else {
			log.Warn("blacklist live feed unavailable, trying snapshot", "error", err)
		}
	}

	if ips, err := readSnapshot(b.snapshotPath); err == nil {
		b.swap(ips)
		log.Info("blacklist loaded from snapshot", "size", len(ips), "path", b.snapshotPath)
		return
	} else if !os.IsNotExist(err) {
		log.Warn("blacklist snapshot unreadable", "path", b.snapshotPath, "error", err)
	}

	log.Info("blacklist starting empty")
}

// refreshFromFeed fetches the live feed, swaps the set in, and persists
// the snapshot. The in-memory set is untouched on failure.
func (b *Blacklist) refreshFromFeed(ctx context.Context) error {
	var ips []string
	err := retry.Do(ctx, fetchAttempts, fetchBaseDelay, func() error {
		var err error
		ips, err = b.fetch(ctx)
		return err
	})
	if err != nil {
		return err
	}

	b.swap(ips)

	if err := writeSnapshot(b.snapshotPath, ips); err != nil {
		logging.L(ctx).Warn("failed to persist blacklist snapshot",
			"path", b.snapshotPath, "error", err)
	}
	return nil
}

func (b *Blacklist) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blacklist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch blacklist: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read blacklist body: %w", err)
	}
	ips, err := parseFeed(body)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return ips, nil
}

func (b *Blacklist) swap(ips []string) {
	set := make(ipSet, len(ips))
	for _, ip := range ips {
		if ip != "" {
			set[ip] = struct{}{}
		}
	}
	b.current.Store(&set)
	metrics.BlacklistSize.Set(float64(len(set)))
}

// parseFeed accepts either a bare JSON array of IPs or an object with
// an "ips" array.
func parseFeed(body []byte) ([]string, error) {
	var ips []string
	if err := json.Unmarshal(body, &ips); err == nil {
		return ips, nil
	}
	var wrapped struct {
		IPs []string `json:"ips"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse blacklist feed: %w", err)
	}
	return wrapped.IPs, nil
}

func readSnapshot(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFeed(data)
}

func writeSnapshot(path string, ips []string) error {
	data, err := json.Marshal(ips)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
