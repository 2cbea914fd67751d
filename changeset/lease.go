package changeset

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/scmforge/scmcore/internal/metrics"
	"github.com/scmforge/scmcore/pushrebase"
)

// LeaseKey identifies one per-bcs lease.
type LeaseKey struct {
	RepoID int32
	Bcs    pushrebase.BcsId
}

type leaseHeldError struct{}

func (e *leaseHeldError) Error() string { return "changeset: lease held by another derivation" }

var errLeaseHeld = &leaseHeldError{}

// LeaseManager grants exclusive per-bcs leases during hg-changeset
// derivation (§4.9 step 1), so concurrent pushes deriving the same bonsai
// changeset don't race on the same manifest/file-node uploads. The
// in-process map here stands in for a distributed lease (e.g. a SQL row
// lock) in a multi-server deployment; callers always re-check the mapping
// immediately after acquiring.
type LeaseManager struct {
	mu     sync.Mutex
	held   map[LeaseKey]struct{}
	meters *metrics.Meters
}

// NewLeaseManager builds a LeaseManager reporting contention to m.
func NewLeaseManager(m *metrics.Meters) *LeaseManager {
	return &LeaseManager{held: make(map[LeaseKey]struct{}), meters: m}
}

// Acquire blocks, retrying with exponential randomized backoff, until key's
// lease is free, then takes it. The returned func releases it.
func (lm *LeaseManager) Acquire(ctx context.Context, key LeaseKey) (func(), error) {
	if lm.tryAcquire(key) {
		return func() { lm.release(key) }, nil
	}

	if lm.meters != nil {
		lm.meters.LeaseContentions.Inc()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by ctx, not a fixed deadline
	boCtx := backoff.WithContext(bo, ctx)

	err := backoff.Retry(func() error {
		if lm.tryAcquire(key) {
			return nil
		}
		return errLeaseHeld
	}, boCtx)
	if err != nil {
		return nil, err
	}
	return func() { lm.release(key) }, nil
}

func (lm *LeaseManager) tryAcquire(key LeaseKey) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, ok := lm.held[key]; ok {
		return false
	}
	lm.held[key] = struct{}{}
	return true
}

func (lm *LeaseManager) release(key LeaseKey) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.held, key)
}
