package rebalance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stokcabang/backend/internal/domain"
)

func TestTriggerRejectsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once

	sched := NewScheduler(func(ctx context.Context) (*domain.RebalanceRunResult, error) {
		startedOnce.Do(func() { close(started) })
		<-release
		return &domain.RebalanceRunResult{}, nil
	}, time.Hour, nil, time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := sched.Trigger(context.Background()); err != nil {
			t.Errorf("first trigger failed: %v", err)
		}
	}()

	<-started
	if _, err := sched.Trigger(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress for overlapping trigger, got %v", err)
	}

	close(release)
	wg.Wait()

	// Guard is released once the run completes.
	if _, err := sched.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger after completion failed: %v", err)
	}
}

func TestRunFiresImmediatelyAndStopsOnCancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	sched := NewScheduler(func(ctx context.Context) (*domain.RebalanceRunResult, error) {
		select {
		case fired <- struct{}{}:
		default:
		}
		return &domain.RebalanceRunResult{}, nil
	}, time.Hour, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate run at startup")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
