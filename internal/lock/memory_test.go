package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adforge/adforge/internal/model"
)

func TestAcquireAndContention(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	h1, err := m.Acquire(ctx, "u1", model.LockTypeMigration, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h1 == nil {
		t.Fatal("first acquire should succeed")
	}

	h2, err := m.Acquire(ctx, "u1", model.LockTypeMigration, time.Minute)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if h2 != nil {
		t.Fatal("second acquire should yield, not error")
	}

	// A different owner or lock type is independent
	if h, _ := m.Acquire(ctx, "u2", model.LockTypeMigration, time.Minute); h == nil {
		t.Error("other owner should acquire freely")
	}
	if h, _ := m.Acquire(ctx, "u1", model.LockTypeAtomic, time.Minute); h == nil {
		t.Error("other lock type should acquire freely")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	h, _ := m.Acquire(ctx, "u1", model.LockTypeMigration, time.Minute)
	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	held, err := m.IsHeld(ctx, "u1", model.LockTypeMigration)
	if err != nil {
		t.Fatal(err)
	}
	if held {
		t.Error("lock should be free after release")
	}
	if h2, _ := m.Acquire(ctx, "u1", model.LockTypeMigration, time.Minute); h2 == nil {
		t.Error("reacquire after release should succeed")
	}

	// Releasing a nil handle is a no-op
	if err := m.Release(ctx, nil); err != nil {
		t.Errorf("Release(nil): %v", err)
	}
}

func TestExpiredLockIsStolen(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	h1, _ := m.Acquire(ctx, "u1", model.LockTypeMigration, 30*time.Second)
	if h1 == nil {
		t.Fatal("acquire failed")
	}

	// Advance past the TTL: the abandoned lock is up for grabs
	now = now.Add(31 * time.Second)

	h2, err := m.Acquire(ctx, "u1", model.LockTypeMigration, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if h2 == nil {
		t.Fatal("expired lock should be stealable")
	}

	// The original holder's release must not free the stolen lock
	if err := m.Release(ctx, h1); err != nil {
		t.Fatal(err)
	}
	held, _ := m.IsHeld(ctx, "u1", model.LockTypeMigration)
	if !held {
		t.Error("stale token released a lock it no longer owns")
	}

	if err := m.Release(ctx, h2); err != nil {
		t.Fatal(err)
	}
	held, _ = m.IsHeld(ctx, "u1", model.LockTypeMigration)
	if held {
		t.Error("current token should release the lock")
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(ctx, "u1", model.LockTypeMigration, time.Minute)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			if h != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
