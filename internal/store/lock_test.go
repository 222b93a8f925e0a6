package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adforge/adforge/internal/model"
)

func TestTryAcquireLock(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	ok, err := s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "tok-a", time.Minute, nil)
	if err != nil {
		t.Fatalf("TryAcquireLock: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	// A different token loses while the lock is live
	ok, err = s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "tok-b", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("contending acquire should lose")
	}

	// The same token renews the lease
	ok, err = s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "tok-a", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("holder should renew its own lock")
	}

	held, err := s.IsLockHeld(ctx, "u1", model.LockTypeMigration)
	if err != nil {
		t.Fatal(err)
	}
	if !held {
		t.Error("lock should be held")
	}
}

func TestExpiredLockSteal(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	// A lock that expired in the past
	ok, err := s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "tok-old", -time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}

	ok, err = s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "tok-new", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expired lock should be stolen")
	}

	// The old holder's release must not free the stolen lock
	if err := s.ReleaseLock(ctx, "u1", model.LockTypeMigration, "tok-old"); err != nil {
		t.Fatal(err)
	}
	held, _ := s.IsLockHeld(ctx, "u1", model.LockTypeMigration)
	if !held {
		t.Error("stale token released a stolen lock")
	}

	if err := s.ReleaseLock(ctx, "u1", model.LockTypeMigration, "tok-new"); err != nil {
		t.Fatal(err)
	}
	held, _ = s.IsLockHeld(ctx, "u1", model.LockTypeMigration)
	if held {
		t.Error("matching token should release the lock")
	}
}

func TestExpiredLockStealSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if ok, err := s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "tok-old", -time.Second, nil); err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}

	// Concurrent stealers of the same expired row: the conditional update
	// admits exactly one
	const stealers = 8
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < stealers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := fmt.Sprintf("thief-%d", i)
			ok, err := s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, tok, time.Minute, nil)
			if err != nil {
				t.Errorf("TryAcquireLock: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want 1", got)
	}

	// A late steal against the now-renewed row must lose too
	ok, err := s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "tok-late", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("steal of an unexpired foreign lock should lose")
	}
}

func TestCleanupExpiredLocks(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if ok, err := s.TryAcquireLock(ctx, "u1", model.LockTypeMigration, "t1", -time.Second, nil); err != nil || !ok {
		t.Fatalf("seed: ok=%v err=%v", ok, err)
	}
	if ok, err := s.TryAcquireLock(ctx, "u2", model.LockTypeMigration, "t2", time.Minute, nil); err != nil || !ok {
		t.Fatalf("seed: ok=%v err=%v", ok, err)
	}

	n, err := s.CleanupExpiredLocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d locks, want 1", n)
	}

	held, _ := s.IsLockHeld(ctx, "u2", model.LockTypeMigration)
	if !held {
		t.Error("live lock swept by cleanup")
	}
}
