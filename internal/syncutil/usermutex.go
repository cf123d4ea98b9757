// Package syncutil provides per-key synchronization primitives.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// UserMutex provides a fixed-size pool of channel-based mutexes keyed by
// user ID, supporting context cancellation. Scoring and profile folds for
// the same user are serialized through it (single-writer-per-user); callers
// waiting on a lock can bail out when their request is cancelled.
//
// Memory is bounded regardless of how many users are seen, at the cost of
// occasional false sharing between users that hash to the same shard.
type UserMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// against a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

// NewUserMutex creates a new per-user sharded mutex.
func NewUserMutex() *UserMutex {
	m := &UserMutex{}
	m.init()
	return m
}

func (m *UserMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // start unlocked
		}
	})
}

// Lock acquires the mutex for the given user, respecting context
// cancellation. On success it returns an unlock function the caller MUST
// invoke when done. On cancellation it returns nil and the context error.
func (m *UserMutex) Lock(ctx context.Context, userID string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(userID)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *UserMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
