package economy

import (
	"context"
	"sync"
	"time"
)

// LockRegistry hands out one exclusive lock per user id. Entries are created
// lazily and evicted once they have been idle for idleTTL with no holder or
// waiter, so the map tracks active users instead of every user ever seen.
type LockRegistry struct {
	mu        sync.Mutex
	locks     map[int64]*userLock
	seq       uint64
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type userLock struct {
	sem      chan struct{}
	id       uint64 // stable ordering identity while the entry is referenced
	refs     int
	lastUsed time.Time
}

func NewLockRegistry(idleTTL time.Duration) *LockRegistry {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &LockRegistry{
		locks:   make(map[int64]*userLock),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Acquire blocks until the user's lock is held, the timeout elapses or ctx is
// done. The returned release func must be called exactly once.
func (r *LockRegistry) Acquire(ctx context.Context, userID int64, timeout time.Duration) (func(), error) {
	l := r.ref(userID)
	if err := r.wait(ctx, l, deadlineTimer(timeout)); err != nil {
		r.unref(l)
		return nil, err
	}
	return r.releaser(l), nil
}

// AcquirePair locks two distinct users in a global order so that concurrent
// opposite-direction transfers cannot deadlock. Ordering uses the registry's
// own lock identity, not the user id.
func (r *LockRegistry) AcquirePair(ctx context.Context, a, b int64, timeout time.Duration) (func(), error) {
	r.mu.Lock()
	la := r.refLocked(a)
	lb := r.refLocked(b)
	r.mu.Unlock()

	first, second := la, lb
	if second.id < first.id {
		first, second = second, first
	}

	timer := deadlineTimer(timeout)
	if err := r.wait(ctx, first, timer); err != nil {
		r.unref(la)
		r.unref(lb)
		return nil, err
	}
	if err := r.wait(ctx, second, timer); err != nil {
		<-first.sem
		r.unref(la)
		r.unref(lb)
		return nil, err
	}
	releaseFirst := r.releaser(first)
	releaseSecond := r.releaser(second)
	return func() {
		releaseSecond()
		releaseFirst()
	}, nil
}

// Len reports how many lock entries are currently tracked.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Sweep evicts idle entries and returns how many were removed.
func (r *LockRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

func (r *LockRegistry) ref(userID int64) *userLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refLocked(userID)
}

func (r *LockRegistry) refLocked(userID int64) *userLock {
	now := r.now()
	if now.Sub(r.lastSweep) >= r.idleTTL {
		r.sweepLocked(now)
		r.lastSweep = now
	}
	l, ok := r.locks[userID]
	if !ok {
		r.seq++
		l = &userLock{sem: make(chan struct{}, 1), id: r.seq}
		r.locks[userID] = l
	}
	l.refs++
	l.lastUsed = now
	return l
}

func (r *LockRegistry) unref(l *userLock) {
	r.mu.Lock()
	l.refs--
	l.lastUsed = r.now()
	r.mu.Unlock()
}

func (r *LockRegistry) sweepLocked(now time.Time) int {
	removed := 0
	for id, l := range r.locks {
		if l.refs == 0 && now.Sub(l.lastUsed) >= r.idleTTL {
			delete(r.locks, id)
			removed++
		}
	}
	return removed
}

func (r *LockRegistry) releaser(l *userLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			r.unref(l)
		})
	}
}

func (r *LockRegistry) wait(ctx context.Context, l *userLock, timer <-chan time.Time) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-timer:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deadlineTimer returns nil (never fires) for non-positive timeouts.
func deadlineTimer(timeout time.Duration) <-chan time.Time {
	if timeout <= 0 {
		return nil
	}
	return time.After(timeout)
}
