package mediasync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signage/internal/metrics"
	"signage/internal/models"
	"signage/internal/test"
)

var engineNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	engine    *Engine
	db        *gorm.DB
	flash     *fakeFlashSales
	playlists *fakePlaylists
	schedules *fakeSchedules
	bg        *fakeBackground
	catalog   *fakeCatalog
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
}

func newEngineFixture(t *testing.T) *engineFixture {
	db, tearDown := test.GetTestDB(t)
	t.Cleanup(tearDown)

	f := &engineFixture{
		db:        db,
		flash:     &fakeFlashSales{},
		playlists: &fakePlaylists{},
		schedules: &fakeSchedules{},
		bg:        &fakeBackground{},
		catalog:   &fakeCatalog{},
		notifier:  &recordingNotifier{},
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
	}
	nop := zerolog.Nop()

	f.engine = NewEngine(db, Sources{
		FlashSale:  f.flash,
		Playlists:  f.playlists,
		Schedules:  f.schedules,
		Background: f.bg,
		Catalog:    f.catalog,
		Devices:    dbDevices{db: db},
	}, EngineConfig{
		PreloadWindow: 30 * time.Minute,
		Now:           fixedClock(engineNow),
		Logger:        &nop,
		Metrics:       f.metrics,
		Notifier:      f.notifier,
	})
	return f
}

func planPairs(result *PlanResult) [][2]string {
	pairs := make([][2]string, len(result.Items))
	for i, item := range result.Items {
		pairs[i] = [2]string{item.MediaID, item.PriorityClass.String()}
	}
	return pairs
}

func TestEngine_NoRequiredMediaIsReady(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "empty")

	status, err := f.engine.GetSyncStatus(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.Zero(t, status.MissingCount)

	plan, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	assert.Empty(t, plan.Items)
	assert.Equal(t, int64(1), plan.PlanVersion)

	status, err = f.engine.GetSyncStatus(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.Zero(t, status.MissingCount)
	assert.Equal(t, models.SyncStateReady, status.OverallStatus)
}

func TestEngine_PlaylistProgressAckScenario(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	d1 := test.CreateTestDevice(t, f.db, "D1")
	f.playlists.set(d1.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1", "m2"}})

	plan, err := f.engine.GetSyncPlan(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"m1", "P1"}, {"m2", "P1"}}, planPairs(plan))

	_, err = f.engine.ReportSyncProgress(ctx, d1.ID, "m1", 1000)
	require.NoError(t, err)
	_, err = f.engine.ReportSyncAck(ctx, d1.ID, "m1")
	require.NoError(t, err)

	status, err := f.engine.GetSyncStatus(ctx, d1.ID)
	require.NoError(t, err)
	assert.False(t, status.Ready)
	assert.Equal(t, 1, status.MissingCount)
	assert.Equal(t, []string{"m2"}, status.MissingMediaIDs)

	// a flash sale on m2 escalates it ahead of every P1 item without touching its status
	f.flash.set(d1.ID, &FlashSale{ID: "sale", MediaIDs: []string{"m2"}, StartsAt: engineNow})

	plan, err = f.engine.GetSyncPlan(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"m2", "P0"}, {"m1", "P1"}}, planPairs(plan))
	assert.Equal(t, models.SyncItemPlanned, plan.Items[0].Status)
	assert.Equal(t, models.SyncItemCompleted, plan.Items[1].Status)
	assert.Equal(t, int64(2), plan.PlanVersion)

	status, err = f.engine.GetSyncStatus(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, status.MissingMediaIDs)
	assert.Equal(t, PriorityClass(P0), status.PerItem[0].PriorityClass)
}

func TestEngine_AckIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "idem")
	f.bg.ids = []string{"m1"}

	_, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)

	first, err := f.engine.ReportSyncAck(ctx, device.ID, "m1")
	require.NoError(t, err)
	second, err := f.engine.ReportSyncAck(ctx, device.ID, "m1")
	require.NoError(t, err)

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	assert.Equal(t, models.SyncItemCompleted, second.Item.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReportsTotal.WithLabelValues(ReportAck, "noop")))
}

func TestEngine_StaleProgressRejected(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "stale")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1"}})

	_, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)

	_, err = f.engine.ReportSyncProgress(ctx, device.ID, "m1", 500)
	require.NoError(t, err)
	_, err = f.engine.ReportSyncProgress(ctx, device.ID, "m1", 400)
	assert.ErrorIs(t, err, ErrStaleProgress)

	status, err := f.engine.GetSyncStatus(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), status.PerItem[0].BytesProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReportsTotal.WithLabelValues(ReportProgress, "stale")))
}

func TestEngine_CompletionPreservedAndRetirement(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "retire")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1", "m2", "m3"}})

	_, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	_, err = f.engine.ReportSyncAck(ctx, device.ID, "m1")
	require.NoError(t, err)
	_, err = f.engine.ReportSyncProgress(ctx, device.ID, "m2", 10)
	require.NoError(t, err)

	// m1 moves to background, m2 and m3 are no longer required
	f.playlists.set(device.ID)
	f.bg.ids = []string{"m1"}

	plan, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)
	assert.Equal(t, "m1", plan.Items[0].MediaID)
	assert.Equal(t, P3, plan.Items[0].PriorityClass)
	assert.Equal(t, models.SyncItemCompleted, plan.Items[0].Status)

	status, err := f.engine.GetSyncStatus(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.Empty(t, status.MissingMediaIDs)
	assert.Len(t, status.PerItem, 1)

	_, err = f.engine.ReportSyncProgress(ctx, device.ID, "m2", 20)
	assert.ErrorIs(t, err, ErrUnknownItem)
	_, err = f.engine.ReportSyncAck(ctx, device.ID, "m3")
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestEngine_ContentReplacedWhileRequired(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "content")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1"}})
	f.catalog.set("m1", 1000, "sha-old")

	plan, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), plan.Items[0].SizeBytes)
	assert.Equal(t, "sha-old", plan.Items[0].Checksum)

	_, err = f.engine.ReportSyncAck(ctx, device.ID, "m1")
	require.NoError(t, err)

	f.catalog.set("m1", 1200, "sha-new")
	plan, err = f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncItemPlanned, plan.Items[0].Status)
	assert.Zero(t, plan.Items[0].BytesProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileChangesTotal.WithLabelValues("invalidated")))
}

func TestEngine_CatalogOutageKeepsCompletion(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "catalog")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1"}})
	f.catalog.set("m1", 10, "abc")

	_, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	_, err = f.engine.ReportSyncAck(ctx, device.ID, "m1")
	require.NoError(t, err)

	f.catalog.err = errors.New("catalog down")
	plan, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncItemCompleted, plan.Items[0].Status)
	assert.Equal(t, int64(10), plan.Items[0].SizeBytes)
}

func TestEngine_PartialSourceOutageStillPlans(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "partial")
	f.flash.err = errors.New("flash sale store unavailable")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1"}})

	plan, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, plan.Degraded)
	assert.Equal(t, []string{SourceFlashSale}, plan.UnavailableSources)
	assert.Equal(t, [][2]string{{"m1", "P1"}}, planPairs(plan))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PlanRequestsTotal.WithLabelValues("degraded")))
}

func TestEngine_AllSourcesDownFailsWithoutSideEffects(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "down")
	down := errors.New("down")
	f.flash.err, f.playlists.err, f.schedules.err, f.bg.err = down, down, down, down

	plan, err := f.engine.GetSyncPlan(ctx, device.ID)
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)

	var states int64
	require.NoError(t, f.db.Model(&models.DeviceSyncState{}).Count(&states).Error)
	assert.Zero(t, states)
}

func TestEngine_UnknownDevice(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.GetSyncPlan(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.engine.ReportSyncProgress(ctx, "missing", "m1", 1)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.engine.ReportSyncAck(ctx, "missing", "m1")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.engine.ReportSyncFailure(ctx, "missing", "m1", "x")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.engine.GetSyncStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestEngine_DeviceDeletedMidSync(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "doomed")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1", "m2", "m3", "m4"}})

	_, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)
	_, err = f.engine.ReportSyncAck(ctx, device.ID, "m1")
	require.NoError(t, err)
	_, err = f.engine.ReportSyncProgress(ctx, device.ID, "m2", 64)
	require.NoError(t, err)
	_, err = f.engine.ReportSyncFailure(ctx, device.ID, "m3", "timeout")
	require.NoError(t, err)

	require.NoError(t, f.db.Delete(&models.Device{}, "id = ?", device.ID).Error)
	require.NoError(t, f.engine.OnDeviceDeleted(ctx, device.ID))
	require.NoError(t, f.engine.OnDeviceDeleted(ctx, device.ID))

	_, err = f.engine.GetSyncPlan(ctx, device.ID)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.engine.ReportSyncProgress(ctx, device.ID, "m2", 128)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.engine.ReportSyncAck(ctx, device.ID, "m4")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.engine.GetSyncStatus(ctx, device.ID)
	assert.ErrorIs(t, err, ErrUnknownDevice)

	var items, states int64
	require.NoError(t, f.db.Model(&models.DeviceSyncItem{}).Where("device_id = ?", device.ID).Count(&items).Error)
	require.NoError(t, f.db.Model(&models.DeviceSyncState{}).Where("device_id = ?", device.ID).Count(&states).Error)
	assert.Zero(t, items)
	assert.Zero(t, states)
}

func TestEngine_ConcurrentReportsStayMonotonic(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "busy")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1"}})

	_, err := f.engine.GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)

	const reporters = 20
	const polls = 5
	var wg sync.WaitGroup
	errs := make(chan error, reporters+polls)

	for i := 1; i <= reporters; i++ {
		wg.Add(1)
		go func(bytes int64) {
			defer wg.Done()
			if _, err := f.engine.ReportSyncProgress(ctx, device.ID, "m1", bytes); err != nil && !errors.Is(err, ErrStaleProgress) {
				errs <- err
			}
		}(int64(i * 100))
	}
	for i := 0; i < polls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.GetSyncPlan(ctx, device.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	status, err := f.engine.GetSyncStatus(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, status.PerItem, 1)
	assert.Equal(t, int64(reporters*100), status.PerItem[0].BytesProgress)
	assert.Equal(t, models.SyncItemDownloading, status.PerItem[0].Status)
	assert.Equal(t, int64(1+polls), status.PlanVersion)
}

// peerEngine builds a second engine over the fixture's database, as another
// API instance or the worker process would
func (f *engineFixture) peerEngine() *Engine {
	nop := zerolog.Nop()
	return NewEngine(f.db, Sources{
		FlashSale:  f.flash,
		Playlists:  f.playlists,
		Schedules:  f.schedules,
		Background: f.bg,
		Catalog:    f.catalog,
		Devices:    dbDevices{db: f.db},
	}, EngineConfig{
		PreloadWindow: 30 * time.Minute,
		Now:           fixedClock(engineNow),
		Logger:        &nop,
	})
}

func TestEngine_TwoInstancesShareOneDatabase(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	device := test.CreateTestDevice(t, f.db, "shared")
	f.playlists.set(device.ID, ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1", "m2"}})
	engines := []*Engine{f.engine, f.peerEngine()}

	_, err := engines[0].GetSyncPlan(ctx, device.ID)
	require.NoError(t, err)

	const reporters = 20
	const polls = 6
	var wg sync.WaitGroup
	errs := make(chan error, reporters+polls)

	for i := 1; i <= reporters; i++ {
		wg.Add(1)
		go func(engine *Engine, bytes int64) {
			defer wg.Done()
			if _, err := engine.ReportSyncProgress(ctx, device.ID, "m1", bytes); err != nil && !errors.Is(err, ErrStaleProgress) {
				errs <- err
			}
		}(engines[i%2], int64(i*100))
	}
	for i := 0; i < polls; i++ {
		wg.Add(1)
		go func(engine *Engine) {
			defer wg.Done()
			if _, err := engine.GetSyncPlan(ctx, device.ID); err != nil {
				errs <- err
			}
		}(engines[i%2])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	status, err := engines[1].GetSyncStatus(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1+polls), status.PlanVersion)
	assert.Equal(t, int64(reporters*100), status.PerItem[0].BytesProgress)

	// one instance clears the sync state while the other keeps planning
	var racing sync.WaitGroup
	deleteErrs := make(chan error, 2*polls)
	for i := 0; i < polls; i++ {
		racing.Add(2)
		go func() {
			defer racing.Done()
			deleteErrs <- engines[1].OnDeviceDeleted(ctx, device.ID)
		}()
		go func() {
			defer racing.Done()
			_, err := engines[0].GetSyncPlan(ctx, device.ID)
			deleteErrs <- err
		}()
	}
	racing.Wait()
	close(deleteErrs)
	for err := range deleteErrs {
		assert.NoError(t, err)
	}

	var items []models.DeviceSyncItem
	require.NoError(t, f.db.Where("device_id = ?", device.ID).Find(&items).Error)
	if len(items) == 0 {
		return
	}
	var state models.DeviceSyncState
	require.NoError(t, f.db.Where("device_id = ?", device.ID).Take(&state).Error)
	for _, item := range items {
		assert.LessOrEqual(t, item.PlanVersion, state.LastPlanVersion, item.MediaID)
	}
}

func TestEngine_NotifyRequirementsChanged(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	a := test.CreateTestDevice(t, f.db, "a")
	b := test.CreateTestDevice(t, f.db, "b")

	err := f.engine.NotifyRequirementsChanged(ctx, []string{a.ID, "ghost", b.ID}, "playlist_updated")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, []string{a.ID, b.ID}, f.notifier.devices)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.NotificationsTotal.WithLabelValues("sent")))

	f.notifier.err = errors.New("redis down")
	err = f.engine.NotifyRequirementsChanged(ctx, []string{a.ID}, "flash_sale_updated")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownDevice)
}

func TestEngine_PersistenceFailurePropagates(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	playlists := &fakePlaylists{}
	playlists.set("d1", ActivePlaylist{PlaylistID: "p1", MediaIDs: []string{"m1"}})
	nop := zerolog.Nop()
	engine := NewEngine(db, Sources{
		Playlists: playlists,
		Devices:   staticDevices{"d1": true},
	}, EngineConfig{Now: fixedClock(engineNow), Logger: &nop})

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(sqlmock.AnyArg(), "d1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "device_sync_states"`).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	plan, err := engine.GetSyncPlan(context.Background(), "d1")
	assert.Nil(t, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err = engine.ReportSyncAck(context.Background(), "d1", "m1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownItem)
	assert.NoError(t, mock.ExpectationsWereMet())
}
