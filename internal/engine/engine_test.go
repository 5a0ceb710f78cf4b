package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalmed/vitalsync/internal/queue"
	"github.com/vitalmed/vitalsync/internal/store"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// stubApplier scripts per-item outcomes and records the order of attempts.
type stubApplier struct {
	mu       sync.Mutex
	fail     map[string]int // item id -> number of failures before success
	failAll  bool
	applied  []string
	started  chan struct{} // closed on first Apply, when set
	release  chan struct{} // Apply blocks until closed, when set
	panicMsg string
}

func (a *stubApplier) Apply(_ context.Context, item *store.PendingItem) error {
	a.mu.Lock()
	if a.started != nil {
		select {
		case <-a.started:
		default:
			close(a.started)
		}
	}
	a.applied = append(a.applied, item.ID)
	release := a.release
	a.mu.Unlock()

	if release != nil {
		<-release
	}
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return errors.New("remote unavailable")
	}
	if remaining, ok := a.fail[item.ID]; ok && remaining > 0 {
		a.fail[item.ID] = remaining - 1
		return errors.New("remote rejected action")
	}
	return nil
}

type fixture struct {
	store   *store.Store
	queue   *queue.Queue
	applier *stubApplier
	online  bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(store.NewMemoryBackend(), testLogger())
	q := queue.New(context.Background(), st, queue.DefaultConfig(), testLogger())
	return &fixture{store: st, queue: q, applier: &stubApplier{fail: map[string]int{}}, online: true}
}

func (f *fixture) engine() *Engine {
	return New(context.Background(), f.queue, f.store, f.applier,
		func() bool { return f.online }, nil, nil, testLogger())
}

func (f *fixture) enqueue(t *testing.T, typ queue.ActionType) *store.PendingItem {
	t.Helper()
	item, err := f.queue.Enqueue(context.Background(),
		store.Action{Type: string(typ), Data: json.RawMessage(`{"v":1}`)}, "user-1")
	require.NoError(t, err)
	return item
}

func TestSyncNowRejectedWhileOffline(t *testing.T) {
	f := newFixture(t)
	f.online = false
	f.enqueue(t, queue.ActionUpdateProfile)
	e := f.engine()

	res := e.SyncNow(context.Background())

	assert.False(t, res.Success)
	assert.Equal(t, ReasonOffline, res.Reason)
	assert.Equal(t, 1, f.queue.Len(), "offline rejection must not mutate the queue")
	assert.Nil(t, e.LastSync(), "offline rejection must not move the watermark")
}

func TestSyncNowRejectedWithEmptyQueue(t *testing.T) {
	f := newFixture(t)
	e := f.engine()

	res := e.SyncNow(context.Background())

	assert.False(t, res.Success)
	assert.Equal(t, ReasonNothingToSync, res.Reason)
	assert.Nil(t, e.LastSync())
}

func TestSyncNowDrainsQueueInOrder(t *testing.T) {
	f := newFixture(t)
	first := f.enqueue(t, queue.ActionUpdateProfile)
	second := f.enqueue(t, queue.ActionCancelService)
	e := f.engine()

	res := e.SyncNow(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SyncedCount)
	assert.Equal(t, 0, res.FailedCount)
	assert.Equal(t, []string{first.ID, second.ID}, f.applier.applied)
	assert.Equal(t, 0, f.queue.Len())
	require.NotNil(t, e.LastSync())
	assert.WithinDuration(t, time.Now(), *e.LastSync(), 5*time.Second)
}

func TestSecondConcurrentSyncRejected(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, queue.ActionUpdateProfile)
	f.applier.started = make(chan struct{})
	f.applier.release = make(chan struct{})
	e := f.engine()

	done := make(chan Result, 1)
	go func() { done <- e.SyncNow(context.Background()) }()

	<-f.applier.started
	second := e.SyncNow(context.Background())
	assert.Equal(t, ReasonAlreadyInProgress, second.Reason)

	close(f.applier.release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.SyncedCount)

	// Only one pass executed: the single item was applied exactly once.
	assert.Len(t, f.applier.applied, 1)
}

func TestRetryCapEnforcement(t *testing.T) {
	f := newFixture(t)
	f.applier.failAll = true
	item := f.enqueue(t, queue.ActionUpdateMedicalInfo)
	e := f.engine()
	ctx := context.Background()

	// Pass 1 and 2: item fails and is re-queued with an incremented count.
	for wantRetry := 1; wantRetry <= 2; wantRetry++ {
		res := e.SyncNow(ctx)
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.FailedCount)
		require.Equal(t, 1, f.queue.Len())
		got := f.queue.Snapshot()[0]
		assert.Equal(t, item.ID, got.ID)
		assert.Equal(t, wantRetry, got.RetryCount)
		assert.NotEmpty(t, got.LastError)
		assert.NotNil(t, got.LastRetryAt)
	}

	// Pass 3: the cap (3) is reached and the item is dropped.
	res := e.SyncNow(ctx)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, 0, f.queue.Len(), "exhausted item must be absent after the 3rd failed pass")

	// The drop is durable.
	assert.Empty(t, f.store.LoadQueue(ctx))
}

func TestPartialFailureKeepsSurvivorsOrdered(t *testing.T) {
	f := newFixture(t)
	ok1 := f.enqueue(t, queue.ActionUpdateProfile)
	bad := f.enqueue(t, queue.ActionRateService)
	ok2 := f.enqueue(t, queue.ActionAddEmergencyContact)
	f.applier.fail[bad.ID] = 1
	e := f.engine()

	res := e.SyncNow(context.Background())

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.SyncedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []string{ok1.ID, bad.ID, ok2.ID}, f.applier.applied,
		"items must be attempted sequentially in enqueue order")

	// The failed item survives with retry bookkeeping; it was not retried
	// within the same pass.
	require.Equal(t, 1, f.queue.Len())
	survivor := f.queue.Snapshot()[0]
	assert.Equal(t, bad.ID, survivor.ID)
	assert.Equal(t, 1, survivor.RetryCount)

	// Watermark moves even on a partial pass.
	require.NotNil(t, e.LastSync())

	// Next pass drains the survivor.
	res2 := e.SyncNow(context.Background())
	assert.True(t, res2.Success)
	assert.Equal(t, 1, res2.SyncedCount)
	assert.Equal(t, 0, f.queue.Len())
}

func TestPassPanicReturnsEngineToIdle(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, queue.ActionUpdateProfile)
	f.applier.panicMsg = "connectivity lost mid-pass"
	e := f.engine()

	res := e.SyncNow(context.Background())
	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "connectivity lost mid-pass")

	// Engine is idle again: a new request is evaluated normally rather than
	// rejected as in-progress.
	f.applier.panicMsg = ""
	res2 := e.SyncNow(context.Background())
	assert.True(t, res2.Success)
	assert.Equal(t, 1, res2.SyncedCount)
}

func TestWatermarkRestoredFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stamp := time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, f.store.SaveLastSync(ctx, stamp))

	e := f.engine()
	require.NotNil(t, e.LastSync())
	assert.True(t, e.LastSync().Equal(stamp))
}
