package rebalance

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"

	"stokcabang/backend/internal/domain"
)

// BatchFunc runs one rebalance pass over every item and branch.
type BatchFunc func(ctx context.Context) (*domain.RebalanceRunResult, error)

// Locker is the distributed-lock surface the scheduler needs. A nil Locker
// disables cross-replica coordination; the in-process single-flight guard
// still applies. *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Scheduler triggers the rebalance batch on a fixed interval and on demand.
// Overlapping runs are rejected: at most one batch executes per process, and
// when a Locker is configured at most one executes across all replicas.
type Scheduler struct {
	batch    BatchFunc
	interval time.Duration
	locker   Locker
	lockKey  string
	lockTTL  time.Duration
	running  atomic.Bool
}

// ErrRunInProgress is returned when a trigger finds a batch already running.
var ErrRunInProgress = errors.New("rebalance run already in progress")

func NewScheduler(batch BatchFunc, interval time.Duration, locker Locker, lockTTL time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Scheduler{
		batch:    batch,
		interval: interval,
		locker:   locker,
		lockKey:  "stokcabang:rebalance:run",
		lockTTL:  lockTTL,
	}
}

// Run blocks until ctx is cancelled, firing the batch every interval. One
// pass runs immediately at startup so a fresh deployment does not wait half
// a day for its first recommendations.
func (s *Scheduler) Run(ctx context.Context) {
	s.fire(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
		s.fire(ctx)
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	result, err := s.Trigger(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		log.Println("[rebalance] skipped scheduled run, previous run still in progress")
	case err != nil:
		log.Printf("[rebalance] WARN: scheduled run failed: %v", err)
	default:
		log.Printf("[rebalance] run complete: items=%d branches=%d created=%d skipped=%d",
			result.ItemsScanned, result.BranchesScanned, result.RecommendationsCreated, result.SkippedExisting)
	}
}

// Trigger runs one batch now. It returns ErrRunInProgress when another run
// holds either the in-process guard or the distributed lock.
func (s *Scheduler) Trigger(ctx context.Context) (*domain.RebalanceRunResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, s.lockKey, s.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrRunInProgress
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	return s.batch(ctx)
}
