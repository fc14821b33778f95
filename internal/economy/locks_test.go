package economy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireTimesOut(t *testing.T) {
	r := NewLockRegistry(time.Minute)
	release, err := r.Acquire(context.Background(), 1, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = r.Acquire(context.Background(), 1, 20*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	r := NewLockRegistry(time.Minute)
	release, err := r.Acquire(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Acquire(ctx, 1, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewLockRegistry(time.Minute)
	release, err := r.Acquire(context.Background(), 5, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()

	release, err = r.Acquire(context.Background(), 5, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	release()
}

func TestSweepEvictsIdleEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewLockRegistry(10 * time.Minute)
	r.now = func() time.Time { return now }

	held, err := r.Acquire(context.Background(), 1, time.Second)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	idle, err := r.Acquire(context.Background(), 2, time.Second)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	idle()

	now = now.Add(11 * time.Minute)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if r.Len() != 1 {
		t.Fatalf("expected held entry to survive, len=%d", r.Len())
	}
	held()
}

func TestAcquirePairOppositeOrderDoesNotDeadlock(t *testing.T) {
	r := NewLockRegistry(time.Minute)
	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := r.AcquirePair(context.Background(), 1, 2, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			release()
		}()
		go func() {
			defer wg.Done()
			release, err := r.AcquirePair(context.Background(), 2, 1, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			release()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("pair acquire failed: %v", err)
	}
}
