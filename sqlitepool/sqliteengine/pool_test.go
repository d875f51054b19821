package sqliteengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool/sqliteengine/internal/adapters"
)

func testSettings() sqlitepool.Settings {
	return sqlitepool.Settings{
		ReadPoolCapacity:             5,
		ReadEvictionChunk:            2,
		ReadCreateAttempts:           3,
		WritePoolCapacity:            4,
		WriteLiveCeiling:             2,
		WriteAdmissionIntervalMillis: 10,
		WriteAdmissionMaxAttempts:    50,
		DebounceDelayMillis:          20,
		DebounceFallbackMillis:       500,
	}.Normalized()
}

func Test_NewPoolManager_RequiresDatabasePath(t *testing.T) {
	_, err := NewPoolManager("")

	assert.ErrorIs(t, err, sqlitepool.ErrEmptyDatabasePath)
}

func Test_PoolManager_AcquireRead_RegistersHandleAsynchronously(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings())

	handle, err := pm.AcquireRead(context.Background())
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.False(t, handle.IsReadWrite())

	pm.disposals.Wait() // let the fire-and-forget registration land

	assert.Equal(t, 1, pm.Stats().ReadPoolSize)
}

func Test_PoolManager_AcquireRead_RetriesOnTransientFailure(t *testing.T) {
	connector := &fakeConnector{failuresLeft: 2}
	pm := newTestPool(t, connector, testSettings())

	handle, err := pm.AcquireRead(context.Background())

	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, 3, connector.connectCount())
}

func Test_PoolManager_AcquireRead_ExhaustsRetryBudget(t *testing.T) {
	connector := &fakeConnector{failuresLeft: 99}
	pm := newTestPool(t, connector, testSettings())

	handle, err := pm.AcquireRead(context.Background())

	require.Nil(t, handle)
	assert.ErrorIs(t, err, sqlitepool.ErrPoolExhausted)
	assert.Equal(t, 3, connector.connectCount())
}

func Test_PoolManager_AcquireShortCircuitsWhileReleasing(t *testing.T) {
	pm := newTestPool(t, &fakeConnector{}, testSettings())
	pm.releasing.Store(true)

	_, readErr := pm.AcquireRead(context.Background())
	_, writeErr := pm.AcquireReadWrite(context.Background(), false)

	assert.ErrorIs(t, readErr, sqlitepool.ErrPoolReleasing)
	assert.ErrorIs(t, writeErr, sqlitepool.ErrPoolReleasing)
}

func Test_PoolManager_ReadPoolEvictsOldestChunkAtCapacity(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings()) // capacity 5, chunk 2

	handles := make([]*Handle, 0, 5)
	for i := 0; i < 5; i++ {
		handle, err := pm.AcquireRead(context.Background())
		require.NoError(t, err)
		handles = append(handles, handle)
	}

	pm.disposals.Wait()
	require.Equal(t, 5, pm.Stats().ReadPoolSize)

	_, err := pm.AcquireRead(context.Background())
	require.NoError(t, err)

	pm.disposals.Wait()

	// oldest two were evicted and closed, the new handle registered
	assert.Equal(t, 4, pm.Stats().ReadPoolSize)
	assert.False(t, handles[0].IsOpen())
	assert.False(t, handles[1].IsOpen())
	assert.True(t, handles[2].IsOpen())
}

//nolint:funlen
func Test_PoolManager_WriterCeilingBoundsLiveHandles(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings()) // ceiling 2

	first, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)
	second, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)

	require.Equal(t, 2, pm.countLiveWriters())

	var maxObserved int
	var observedMu sync.Mutex

	observe := func() {
		observedMu.Lock()
		defer observedMu.Unlock()

		if live := pm.countLiveWriters(); live > maxObserved {
			maxObserved = live
		}
	}

	sampling := make(chan struct{})
	go func() {
		defer close(sampling)

		for i := 0; i < 100; i++ {
			observe()
			time.Sleep(2 * time.Millisecond)
		}
	}()

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)

		for i := 0; i < 3; i++ {
			handle, acquireErr := pm.AcquireReadWrite(context.Background(), false)
			if !assert.NoError(t, acquireErr) {
				return
			}

			observe()
			pm.Release(handle)
			pm.disposals.Wait() // the released handle must leave the live count
		}
	}()

	// free capacity so the waiting acquisitions are admitted within budget
	time.Sleep(30 * time.Millisecond)
	pm.Release(first)
	time.Sleep(30 * time.Millisecond)
	pm.Release(second)

	<-acquired
	<-sampling
	pm.disposals.Wait()

	observedMu.Lock()
	defer observedMu.Unlock()
	assert.LessOrEqual(t, maxObserved, 2)
}

func Test_PoolManager_WriterAdmissionOverAdmitsAfterBudget(t *testing.T) {
	settings := testSettings()
	settings.WriteAdmissionMaxAttempts = 2
	settings.WriteAdmissionIntervalMillis = 5
	settings.WriteLiveCeiling = 1

	connector := &fakeConnector{}
	pm := newTestPool(t, connector, settings)

	held, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)
	defer pm.Release(held)

	// ceiling is reached and never clears, yet the call must not fail
	start := time.Now()
	handle, err := pm.AcquireReadWrite(context.Background(), false)

	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.GreaterOrEqual(t, time.Since(start), 8*time.Millisecond)
	assert.Equal(t, 2, pm.countLiveWriters())
}

func Test_PoolManager_WriterAdmissionHonorsBusyFlag(t *testing.T) {
	settings := testSettings()
	settings.WriteAdmissionMaxAttempts = 3
	settings.WriteAdmissionIntervalMillis = 5

	pm := newTestPool(t, &fakeConnector{}, settings)
	pm.SetBusy(true)

	start := time.Now()
	handle, err := pm.AcquireReadWrite(context.Background(), false)

	// busy stalls admission for the whole budget, then over-admits
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.GreaterOrEqual(t, time.Since(start), 12*time.Millisecond)
}

func Test_PoolManager_WriterAdmissionRespectsContext(t *testing.T) {
	settings := testSettings()
	settings.WriteLiveCeiling = 1

	pm := newTestPool(t, &fakeConnector{}, settings)

	held, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)
	defer pm.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = pm.AcquireReadWrite(ctx, false)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_PoolManager_WritePoolEvictsClosedAndErroredAtCapacity(t *testing.T) {
	settings := testSettings()
	settings.WriteLiveCeiling = 10 // keep admission out of the way

	connector := &fakeConnector{}
	pm := newTestPool(t, connector, settings) // write capacity 4

	handles := make([]*Handle, 0, 4)
	for i := 0; i < 4; i++ {
		handle, err := pm.AcquireReadWrite(context.Background(), true)
		require.NoError(t, err)
		handles = append(handles, handle)
	}

	require.Equal(t, 4, pm.Stats().WritePoolSize)

	// two handles go stale: one closed, one errored mid-transaction
	require.NoError(t, handles[0].close())
	connector.opened[1].setInTransaction(true)
	handles[1].markIOError()

	fifth, err := pm.AcquireReadWrite(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, fifth)

	pm.disposals.Wait()

	// the stale pair was replaced by the newcomer; survivors stay put
	assert.Equal(t, 3, pm.Stats().WritePoolSize)
	assert.True(t, handles[2].IsOpen())
	assert.True(t, handles[3].IsOpen())
}

func Test_PoolManager_ReleaseQuarantinesCleanTransaction(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings())

	handle, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)

	conn := connector.lastConn(t)
	conn.setInTransaction(true)

	pm.Release(handle)
	pm.disposals.Wait()

	// a live transaction is never destroyed in place
	assert.True(t, handle.IsOpen())
	assert.False(t, conn.isClosed())
	assert.Equal(t, 1, pm.Stats().QuarantineSize)

	// once the transaction ends, the next sweep disposes it
	conn.setInTransaction(false)
	pm.sweepQuarantine()

	assert.False(t, handle.IsOpen())
	assert.Equal(t, 0, pm.Stats().QuarantineSize)
}

func Test_PoolManager_ReleaseClosesErroredTransaction(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings())

	handle, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)

	conn := connector.lastConn(t)
	conn.setInTransaction(true)
	handle.markIOError()

	pm.Release(handle)
	pm.disposals.Wait()

	assert.False(t, handle.IsOpen())
	assert.Equal(t, 0, pm.Stats().QuarantineSize)
}

func Test_PoolManager_ReleaseAllQuarantinesOpenTransaction(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings())

	writer, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)
	reader, err := pm.AcquireRead(context.Background())
	require.NoError(t, err)

	connector.opened[0].setInTransaction(true)

	require.NoError(t, pm.ReleaseAll())

	stats := pm.Stats()
	assert.Equal(t, 0, stats.ReadPoolSize)
	assert.Equal(t, 0, stats.WritePoolSize)

	// the mid-transaction writer is tracked, not leaked
	assert.Equal(t, 1, stats.QuarantineSize)
	assert.True(t, writer.IsOpen())
	assert.False(t, reader.IsOpen())
}

func Test_PoolManager_ReleaseAllRerunsEngineConfiguration(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings())

	_, err := pm.AcquireReadWrite(context.Background(), true)
	require.NoError(t, err)
	require.True(t, pm.optimized.Load())

	require.NoError(t, pm.ReleaseAll())

	assert.False(t, pm.optimized.Load())
}

func Test_PoolManager_ChangeEventsReachSubscriber(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings()) // debounce 20ms

	sub := pm.Subscribe()
	defer sub.Cancel()

	handle, err := pm.AcquireReadWrite(context.Background(), false)
	require.NoError(t, err)
	defer pm.Release(handle)

	conn := connector.lastConn(t)
	conn.fireHook(3, "users", 7) // unknown op codes are ignored
	conn.fireHook(adapters.OpCodeInsert, "users", 7)
	conn.fireHook(adapters.OpCodeInsert, "users", 8)

	select {
	case batch := <-sub.Events():
		require.Len(t, batch, 1)
		assert.Equal(t, sqlitepool.OpInsert, batch[0].Kind)
		assert.Equal(t, "users", batch[0].Table)
	case <-time.After(2 * time.Second):
		t.Fatal("expected one insert event for table users")
	}
}

func Test_PoolManager_BackgroundWriterIsSilent(t *testing.T) {
	connector := &fakeConnector{}
	pm := newTestPool(t, connector, testSettings())

	sub := pm.Subscribe()
	defer sub.Cancel()

	handle, err := pm.AcquireReadWrite(context.Background(), true)
	require.NoError(t, err)
	defer pm.Release(handle)

	conn := connector.lastConn(t)
	conn.fireHook(adapters.OpCodeInsert, "users", 1)

	select {
	case batch := <-sub.Events():
		t.Fatalf("background handle must not fan out events, got %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func Test_PoolManager_SubscriptionCancelClosesChannel(t *testing.T) {
	pm := newTestPool(t, &fakeConnector{}, testSettings())

	sub := pm.Subscribe()
	sub.Cancel()
	sub.Cancel() // safe to call twice

	_, open := <-sub.Events()
	assert.False(t, open)
}

func Test_PoolManager_ShutdownClosesSubscribers(t *testing.T) {
	pm := newTestPool(t, &fakeConnector{}, testSettings())

	sub := pm.Subscribe()

	require.NoError(t, pm.Shutdown())

	_, open := <-sub.Events()
	assert.False(t, open)

	late := pm.Subscribe()
	_, open = <-late.Events()
	assert.False(t, open)
}
