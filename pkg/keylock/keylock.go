// Package keylock hands out exclusive, FIFO-ordered slots keyed by UUID.
//
// Waiters for the same key are served in arrival order; different keys never contend
// beyond a short shard mutex. Idle slots are dropped once nobody holds or waits on them.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const shardCount = 64

// ErrTimeout is returned when a slot could not be acquired within the requested timeout.
var ErrTimeout = errors.New("keylock: timed out waiting for slot")

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

type shard struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

// Registry is safe for concurrent use. The zero value is not usable; call New.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{slots: make(map[uuid.UUID]*slot)}
	}
	return r
}

func (r *Registry) shardFor(key uuid.UUID) *shard {
	return r.shards[xxhash.Sum64(key[:])%shardCount]
}

// Acquire waits for the slot of key. A timeout <= 0 waits until ctx is done.
// The returned release func must be called exactly once.
func (r *Registry) Acquire(ctx context.Context, key uuid.UUID, timeout time.Duration) (func(), error) {
	sh := r.shardFor(key)

	sh.mu.Lock()
	s, ok := sh.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		sh.slots[key] = s
	}
	s.refs++
	sh.mu.Unlock()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.sem.Acquire(waitCtx, 1); err != nil {
		r.unref(sh, key, s)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.sem.Release(1)
			r.unref(sh, key, s)
		})
	}, nil
}

func (r *Registry) unref(sh *shard, key uuid.UUID, s *slot) {
	sh.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(sh.slots, key)
	}
	sh.mu.Unlock()
}

// Len reports how many keys are currently held or waited on.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.slots)
		sh.mu.Unlock()
	}
	return n
}
