package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/magiconair/properties/assert"
)

func TestReserveCommitReplay(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	meta := Meta{AlertID: "a1", EntityRef: "0xabc", StepKind: "freeze"}

	check, err := store.CheckAndReserve(ctx, "fp1", meta)
	if err != nil {
		t.Fatalf("reserve is err: %v", err)
	}
	assert.Equal(t, check.State, Reserved)

	check, _ = store.CheckAndReserve(ctx, "fp1", meta)
	assert.Equal(t, check.State, InFlightByOther)

	if err := store.Commit(ctx, "fp1", "confirmed"); err != nil {
		t.Fatalf("commit is err: %v", err)
	}
	check, _ = store.CheckAndReserve(ctx, "fp1", meta)
	assert.Equal(t, check.State, AlreadyCompleted)
	assert.Equal(t, check.Outcome, "confirmed")
}

func TestReleaseMakesFingerprintReservable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.CheckAndReserve(ctx, "fp1", Meta{})
	if err := store.Release(ctx, "fp1"); err != nil {
		t.Fatalf("release is err: %v", err)
	}
	check, _ := store.CheckAndReserve(ctx, "fp1", Meta{})
	assert.Equal(t, check.State, Reserved)
}

func TestReleaseNeverDropsCompletedRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.CheckAndReserve(ctx, "fp1", Meta{})
	store.Commit(ctx, "fp1", "acked")
	store.Release(ctx, "fp1")

	check, _ := store.CheckAndReserve(ctx, "fp1", Meta{})
	assert.Equal(t, check.State, AlreadyCompleted)
}

func TestConcurrentReservesHaveOneWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var mu sync.Mutex
	winners := 0
	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check, err := store.CheckAndReserve(ctx, "fp1", Meta{})
			if err == nil && check.State == Reserved {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, winners, 1)
}

func TestStaleReservations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.CheckAndReserve(ctx, "fp1", Meta{AlertID: "a1", EntityRef: "0xabc", StepKind: "freeze"})
	store.CheckAndReserve(ctx, "fp2", Meta{})
	store.Commit(ctx, "fp2", "acked")

	time.Sleep(2 * time.Millisecond)
	stale, err := store.StaleReservations(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("stale reservations is err: %v", err)
	}
	assert.Equal(t, len(stale), 1)
	assert.Equal(t, stale[0].Fingerprint, "fp1")
	assert.Equal(t, stale[0].EntityRef, "0xabc")
}
