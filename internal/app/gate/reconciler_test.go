package gate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/domain/validation"
	"ticketgate/internal/utils/clock"
	"ticketgate/internal/utils/logger"
)

type testDevice struct {
	id         string
	gate       *Gate
	store      *Store
	reconciler *Reconciler
	clock      *clock.Fixed
	client     *deviceClient
}

func newTestDevice(t *testing.T, id string, auth *fakeAuthority, at time.Time, cfg *ReconcilerConfig) *testDevice {
	t.Helper()
	clk := clock.NewFixed(at)
	g, store := newTestGate(t, id, clk)
	client := auth.client(id)
	rec := NewReconciler(g.Queue(), client, cfg, clk, logger.Discard())
	g.SetKicker(rec)
	return &testDevice{id: id, gate: g, store: store, reconciler: rec, clock: clk, client: client}
}

func (d *testDevice) validate(t *testing.T, code string) Outcome {
	t.Helper()
	o, err := d.gate.Validate(context.Background(), code, "", validation.MethodScan)
	require.NoError(t, err)
	return o
}

func (d *testDevice) record(t *testing.T, id string) validation.Record {
	t.Helper()
	records, err := d.store.Records(context.Background(), RecordFilter{})
	require.NoError(t, err)
	for _, r := range records {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("record %s not found on %s", id, d.id)
	return validation.Record{}
}

func TestReconciler_Flush_SyncsOfflineAcceptance(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	dev := newTestDevice(t, "dev-1", auth, testNow, nil)

	o := dev.validate(t, "TCK-001")
	require.True(t, o.Accepted)

	res, err := dev.reconciler.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Batches)
	assert.Zero(t, res.Conflicts)

	rec := dev.record(t, o.Record.ID)
	assert.Equal(t, validation.SyncSynced, rec.SyncStatus)
	assert.NotNil(t, rec.SyncedAt)
	assert.NoError(t, rec.Err())

	cur, err := dev.store.Cursor(ctx)
	require.NoError(t, err)
	assert.NotNil(t, cur.LastFlushAt)
	assert.Positive(t, cur.LastRevision)
}

func TestReconciler_LaterValidationConflicts(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	t1 := testNow.Add(10 * time.Minute)
	t2 := testNow.Add(12 * time.Minute)
	dev1 := newTestDevice(t, "dev-1", auth, t1, nil)
	dev2 := newTestDevice(t, "dev-2", auth, t2, nil)

	o1 := dev1.validate(t, "TCK-002")
	o2 := dev2.validate(t, "TCK-002")
	require.True(t, o1.Accepted)
	require.True(t, o2.Accepted)

	_, err := dev1.reconciler.Flush(ctx)
	require.NoError(t, err)
	res, err := dev2.reconciler.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, validation.SyncSynced, dev1.record(t, o1.Record.ID).SyncStatus)

	lost := dev2.record(t, o2.Record.ID)
	assert.Equal(t, validation.SyncConflict, lost.SyncStatus)
	assert.True(t, lost.NeedsReview)
	assert.Equal(t, "dev-1", lost.CanonicalDeviceID)
	require.NotNil(t, lost.CanonicalValidatedAt)
	assert.True(t, t1.Equal(*lost.CanonicalValidatedAt))
	assert.ErrorIs(t, lost.Err(), validation.ErrConflictLost)

	assert.Equal(t, 1, auth.repo.syncedCount("t-2"))
}

func TestReconciler_EarlierValidationWinsRegardlessOfArrival(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	t1 := testNow.Add(10 * time.Minute)
	t2 := testNow.Add(12 * time.Minute)
	dev1 := newTestDevice(t, "dev-1", auth, t1, nil)
	dev2 := newTestDevice(t, "dev-2", auth, t2, nil)

	o1 := dev1.validate(t, "TCK-002")
	o2 := dev2.validate(t, "TCK-002")

	// Устройство с более поздней валидацией подключилось первым.
	_, err := dev2.reconciler.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, validation.SyncSynced, dev2.record(t, o2.Record.ID).SyncStatus)

	_, err = dev1.reconciler.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, validation.SyncSynced, dev1.record(t, o1.Record.ID).SyncStatus)

	// Понижение приходит на dev-2 через ленту изменений.
	res, err := dev2.reconciler.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Demoted)
	assert.Zero(t, res.Sent)

	demoted := dev2.record(t, o2.Record.ID)
	assert.Equal(t, validation.SyncConflict, demoted.SyncStatus)
	assert.True(t, demoted.NeedsReview)
	assert.Equal(t, validation.ReasonSuperseded, demoted.LastError)
	assert.Equal(t, "dev-1", demoted.CanonicalDeviceID)

	assert.Equal(t, 1, auth.repo.syncedCount("t-2"))
	assert.Equal(t, "dev-1", auth.repo.canonicalDevice("t-2"))
}

func TestReconciler_TransportFailureKeepsRecordsPending(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	dev := newTestDevice(t, "dev-1", auth, testNow, nil)
	o := dev.validate(t, "TCK-001")
	auth.setDown(true)

	_, err := dev.reconciler.Flush(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrTransport)
	rec := dev.record(t, o.Record.ID)
	assert.Equal(t, validation.SyncPending, rec.SyncStatus)
	assert.Equal(t, 1, rec.Attempts)
	assert.NotEmpty(t, rec.LastError)

	stats := dev.reconciler.Stats()
	assert.NotEmpty(t, stats.LastError)
	assert.NotNil(t, stats.LastErrorAt)

	auth.setDown(false)
	_, err = dev.reconciler.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, validation.SyncSynced, dev.record(t, o.Record.ID).SyncStatus)
	assert.Empty(t, dev.reconciler.Stats().LastError)
}

func TestReconciler_LostResponseResubmitsIdempotently(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	auth.dropResponses = 1
	dev := newTestDevice(t, "dev-1", auth, testNow, nil)
	o := dev.validate(t, "TCK-001")

	_, err := dev.reconciler.Flush(ctx)
	require.ErrorIs(t, err, validation.ErrTransport)
	assert.Equal(t, validation.SyncPending, dev.record(t, o.Record.ID).SyncStatus)

	res, err := dev.reconciler.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, validation.SyncSynced, dev.record(t, o.Record.ID).SyncStatus)
	assert.Equal(t, 1, auth.repo.syncedCount("t-1"))
	assert.Equal(t, 2, auth.batchCount())
}

func TestReconciler_SendsInBatches(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	dev := newTestDevice(t, "dev-1", auth, testNow, &ReconcilerConfig{BatchSize: 1})
	dev.validate(t, "TCK-001")
	dev.validate(t, "TCK-002")

	res, err := dev.reconciler.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Synced)

	counts, err := dev.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Synced: 2}, counts)
}

func TestReconciler_HalvesBatchRejectedAsTooLarge(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	auth.svc = validation.NewService(auth.repo, nil, clock.NewFixed(testNow.Add(time.Hour)), logger.Discard(),
		&validation.ServiceConfig{MaxBatch: 1})
	dev := newTestDevice(t, "dev-1", auth, testNow, &ReconcilerConfig{BatchSize: 4})
	dev.validate(t, "TCK-001")
	dev.validate(t, "TCK-002")

	res, err := dev.reconciler.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 2, res.Synced)
	counts, err := dev.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Synced: 2}, counts)

	// Уменьшенный размер сохраняется для следующих flush.
	assert.Equal(t, 1, dev.reconciler.batchSize)
	assert.Empty(t, dev.reconciler.Stats().LastError)
}

func TestReconciler_ResultOrderMismatch(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	auth.shuffle = true
	dev := newTestDevice(t, "dev-1", auth, testNow, nil)
	dev.validate(t, "TCK-001")
	dev.validate(t, "TCK-002")

	_, err := dev.reconciler.Flush(ctx)
	require.ErrorIs(t, err, ErrResultMismatch)

	counts, err := dev.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)

	auth.mu.Lock()
	auth.shuffle = false
	auth.mu.Unlock()

	_, err = dev.reconciler.Flush(ctx)
	require.NoError(t, err)
	counts, err = dev.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Synced)
}

func TestReconciler_FlushIsExclusive(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	auth.block = make(chan struct{})
	auth.entered = make(chan struct{})
	entered := auth.entered
	dev := newTestDevice(t, "dev-1", auth, testNow, nil)
	dev.validate(t, "TCK-001")

	done := make(chan error, 1)
	go func() {
		_, err := dev.reconciler.Flush(ctx)
		done <- err
	}()
	<-entered

	_, err := dev.reconciler.Flush(ctx)
	assert.ErrorIs(t, err, ErrFlushInProgress)

	close(auth.block)
	require.NoError(t, <-done)
}

func TestReconciler_EmptyQueueOnlyPullsChanges(t *testing.T) {
	auth := newFakeAuthority()
	dev := newTestDevice(t, "dev-1", auth, testNow, nil)

	res, err := dev.reconciler.Flush(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Sent)
	assert.Zero(t, res.Batches)
	assert.Zero(t, auth.batchCount())
}

func TestReconciler_RunFlushesAfterKick(t *testing.T) {
	auth := newFakeAuthority()
	dev := newTestDevice(t, "dev-1", auth, testNow, &ReconcilerConfig{
		BatchWindow:  10 * time.Millisecond,
		SyncInterval: time.Hour,
	})
	mon := NewMonitor(dev.client, MonitorConfig{}, dev.clock, logger.Discard())
	mon.Set(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.reconciler.Run(ctx, mon) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	o := dev.validate(t, "TCK-001")

	assert.Eventually(t, func() bool {
		return dev.record(t, o.Record.ID).SyncStatus == validation.SyncSynced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconciler_RunFlushesOnReconnect(t *testing.T) {
	auth := newFakeAuthority()
	dev := newTestDevice(t, "dev-1", auth, testNow, &ReconcilerConfig{
		BatchWindow:  10 * time.Millisecond,
		SyncInterval: time.Hour,
	})
	mon := NewMonitor(dev.client, MonitorConfig{}, dev.clock, logger.Discard())

	o := dev.validate(t, "TCK-001")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.reconciler.Run(ctx, mon) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Пока связи нет, запись ждет в очереди.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, validation.SyncPending, dev.record(t, o.Record.ID).SyncStatus)
	assert.Zero(t, auth.batchCount())

	mon.Set(true)

	assert.Eventually(t, func() bool {
		return dev.record(t, o.Record.ID).SyncStatus == validation.SyncSynced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconciler_RunCancelsFlushWhenConnectionDrops(t *testing.T) {
	auth := newFakeAuthority()
	auth.block = make(chan struct{})
	auth.entered = make(chan struct{})
	entered := auth.entered
	dev := newTestDevice(t, "dev-1", auth, testNow, &ReconcilerConfig{
		BatchWindow:  10 * time.Millisecond,
		SyncInterval: time.Hour,
	})
	mon := NewMonitor(dev.client, MonitorConfig{}, dev.clock, logger.Discard())
	mon.Set(true)
	o := dev.validate(t, "TCK-001")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.reconciler.Run(ctx, mon) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not reach the authority")
	}

	mon.Set(false)

	assert.Eventually(t, func() bool {
		return dev.reconciler.Stats().Failures == 1
	}, 2*time.Second, 10*time.Millisecond)

	stats := dev.reconciler.Stats()
	assert.NotEmpty(t, stats.LastError)
	assert.NotEmpty(t, stats.NextRetryAfter)

	rec := dev.record(t, o.Record.ID)
	assert.Equal(t, validation.SyncPending, rec.SyncStatus)
	assert.Equal(t, 1, rec.Attempts)
	assert.NotEmpty(t, rec.LastError)
	assert.Zero(t, auth.batchCount())
}

func TestReconciler_SecondProcessFindsBatchAlreadySynced(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority()
	clk := clock.NewFixed(testNow)
	path := filepath.Join(t.TempDir(), "gate.db")

	newProcess := func() (*Gate, *Store, *deviceClient) {
		store := openTestStore(t, path, "dev-1")
		require.NoError(t, store.ReplaceSnapshot(ctx, testTickets(), "2026-10-16", testNow))
		g, err := NewGate(ctx, store, &stubFetcher{tickets: testTickets()}, GateConfig{
			DeviceID: "dev-1", DefaultValidator: "controller", Location: time.UTC,
		}, clk, logger.Discard())
		require.NoError(t, err)
		return g, store, auth.client("dev-1")
	}

	// a — `gate run`, b — разовая `gate validate` на той же базе.
	gateA, _, clientA := newProcess()
	gateB, storeB, clientB := newProcess()
	recA := NewReconciler(gateA.Queue(), clientA, nil, clk, logger.Discard())
	recB := NewReconciler(gateB.Queue(), clientB, nil, clk, logger.Discard())

	o, err := gateB.Validate(ctx, "TCK-001", "", validation.MethodScan)
	require.NoError(t, err)
	require.True(t, o.Accepted)

	// a успевает отправить ту же запись, пока b ждет ответа.
	clientB.beforeSubmit = func() {
		_, err := recA.Flush(ctx)
		require.NoError(t, err)
	}

	res, err := recB.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Zero(t, res.Synced)
	assert.Empty(t, recB.Stats().LastError)
	counts, err := storeB.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Synced: 1}, counts)
	assert.Equal(t, 1, auth.repo.syncedCount("t-1"))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{n: 0, want: time.Second},
		{n: 1, want: 2 * time.Second},
		{n: 3, want: 8 * time.Second},
		{n: 8, want: 256 * time.Second},
		{n: 9, want: 5 * time.Minute},
		{n: 100, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(time.Second, 5*time.Minute, tt.n), "n=%d", tt.n)
	}
}
