package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/tuyalocal2mqtt/internal/adapter/device"
	"github.com/berfenger/tuyalocal2mqtt/internal/adapter/platform"
	"github.com/berfenger/tuyalocal2mqtt/internal/adapter/scheduler"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/service"
	"github.com/berfenger/tuyalocal2mqtt/internal/metrics"
	"github.com/berfenger/tuyalocal2mqtt/internal/util/actorutil"
	"github.com/berfenger/tuyalocal2mqtt/pkg/deviceconfig"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type entryFixture struct {
	as        *actor.ActorSystem
	sessions  *device.TestSessionFactory
	forwarder *platform.TestForwarder
	retry     *scheduler.TestRetryScheduler
	engine    *service.MigrationEngine
	manager   *service.EntryLifecycleManager
	logger    *zap.Logger
}

func newEntryFixture(t *testing.T) *entryFixture {
	logger := zap.Must(zap.NewDevelopment())
	lib, err := deviceconfig.DefaultLibrary()
	require.NoError(t, err)

	f := &entryFixture{
		as:        actorutil.NewActorSystemWithZapLogger(logger),
		sessions:  device.NewTestSessionFactory(),
		forwarder: platform.NewTestForwarder(),
		retry:     scheduler.NewTestRetryScheduler(),
		logger:    logger,
	}
	m := metrics.New()
	f.engine = service.NewMigrationEngine(f.sessions, lib, m, logger)
	f.manager = service.NewEntryLifecycleManager(f.sessions, f.forwarder, service.NewDeviceRegistry(), m, logger)
	t.Cleanup(f.as.Shutdown)
	return f
}

func (f *entryFixture) spawn(t *testing.T, entry *domain.ConfigEntry) *actor.PID {
	settings := EntryActorSettings{MigrationTimeout: time.Second, RetryDelay: time.Minute}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewEntryActor(entry, f.engine, f.manager, f.retry, settings, f.logger)
	})
	pid, err := f.as.Root.SpawnNamed(props, EntryActorName(entry.EntryId))
	require.NoError(t, err)
	return pid
}

func (f *entryFixture) status(t *testing.T, pid *actor.PID) domain.EntryStatus {
	res, err := f.as.Root.RequestFuture(pid, domain.EntryStatusRequest{}, time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.EntryStatusResponse)
	require.True(t, ok)
	require.Len(t, resp.Entries, 1)
	return resp.Entries[0]
}

func (f *entryFixture) waitState(t *testing.T, pid *actor.PID, expected string) domain.EntryStatus {
	var last domain.EntryStatus
	require.Eventually(t, func() bool {
		last = f.status(t, pid)
		return last.State == expected
	}, 3*time.Second, 20*time.Millisecond, "entry never reached %s", expected)
	return last
}

func entryData(typ string) map[string]any {
	return map[string]any{
		domain.CONF_DEVICE_ID: "dev1",
		domain.CONF_LOCAL_KEY: "secret",
		domain.CONF_HOST:      "192.168.1.20",
		domain.CONF_TYPE:      typ,
	}
}

func TestEntryActorMigratesAndLoads(t *testing.T) {
	f := newEntryFixture(t)
	entry := domain.NewConfigEntry("e1", "Heater", 1, entryData("heater"), map[string]any{
		"climate":              true,
		domain.CONF_CHILD_LOCK: true,
	})
	pid := f.spawn(t, entry)

	st := f.waitState(t, pid, domain.ENTRY_STATE_LOADED)
	assert.Equal(t, "e1", st.EntryId)
	assert.Equal(t, "dev1", st.DeviceId)
	assert.Equal(t, "goldair_heater", st.Type)
	assert.Equal(t, domain.CURRENT_ENTRY_VERSION, st.Version)
	assert.Empty(t, st.LastError)

	assert.Eventually(t, func() bool {
		return len(f.status(t, pid).Platforms) == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEntryActorRetriesFailedMigration(t *testing.T) {
	f := newEntryFixture(t)
	entry := domain.NewConfigEntry("e1", "Mystery", 1, entryData(domain.CONF_TYPE_AUTO), map[string]any{"climate": true})
	pid := f.spawn(t, entry)

	st := f.waitState(t, pid, domain.ENTRY_STATE_MIGRATION_FAILED)
	assert.NotEmpty(t, st.LastError)
	assert.Equal(t, 1, st.Version)

	delay, ok := f.retry.Pending(EntryActorName("e1"))
	require.True(t, ok)
	assert.Equal(t, time.Minute, delay)

	// the device shows up before the retry fires
	f.sessions.WithType("dev1", "goldair_heater")
	require.NoError(t, f.retry.Fire(EntryActorName("e1")))

	st = f.waitState(t, pid, domain.ENTRY_STATE_LOADED)
	assert.Equal(t, "goldair_heater", st.Type)
	assert.Empty(t, st.LastError)
}

func TestEntryActorOptionsUpdateAfterFailureReloads(t *testing.T) {
	f := newEntryFixture(t)
	entry := domain.NewConfigEntry("e1", "Toaster", 3, entryData("toaster"), nil)
	pid := f.spawn(t, entry)

	f.waitState(t, pid, domain.ENTRY_STATE_MIGRATION_FAILED)

	// fixing the entry is up to the user; here the type is corrected by hand
	snap := entry.Snapshot()
	snap.Data[domain.CONF_TYPE] = "kogan_heater"
	entry.Commit(snap.Version, snap.Data, snap.Options)
	res, err := f.as.Root.RequestFuture(pid, domain.UpdateEntryOptionsRequest{
		EntryId: "e1",
		Options: map[string]any{"climate": true},
	}, 3*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.UpdateEntryOptionsResponse)
	require.True(t, ok)
	assert.False(t, resp.HasResponseError())
	assert.Equal(t, domain.ENTRY_STATE_LOADED, resp.Status.State)

	_, pending := f.retry.Pending(EntryActorName("e1"))
	assert.False(t, pending)
}

func TestEntryActorUpdateOptions(t *testing.T) {
	f := newEntryFixture(t)
	entry := domain.NewConfigEntry("e1", "Heater", 4, entryData("goldair_heater"), map[string]any{"climate": true})
	pid := f.spawn(t, entry)
	f.waitState(t, pid, domain.ENTRY_STATE_LOADED)

	res, err := f.as.Root.RequestFuture(pid, domain.UpdateEntryOptionsRequest{
		EntryId: "e1",
		Options: map[string]any{"climate": true, "lock": true},
	}, 3*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.UpdateEntryOptionsResponse)
	require.True(t, ok)
	assert.False(t, resp.HasResponseError())
	assert.Equal(t, domain.ENTRY_STATE_LOADED, resp.Status.State)

	assert.Eventually(t, func() bool {
		platforms := f.status(t, pid).Platforms
		return assert.ObjectsAreEqual([]domain.Platform{domain.PLATFORM_CLIMATE, domain.PLATFORM_LOCK}, platforms)
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []platform.ForwardCall{{DeviceId: "dev1", Platform: domain.PLATFORM_CLIMATE}}, f.forwarder.Unloads())
}

func TestEntryActorUnload(t *testing.T) {
	f := newEntryFixture(t)
	entry := domain.NewConfigEntry("e1", "Heater", 4, entryData("goldair_heater"), map[string]any{"climate": true, "light": true})
	pid := f.spawn(t, entry)
	f.waitState(t, pid, domain.ENTRY_STATE_LOADED)

	res, err := f.as.Root.RequestFuture(pid, domain.UnloadEntryRequest{EntryId: "e1"}, 3*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.UnloadEntryResponse)
	require.True(t, ok)
	assert.False(t, resp.HasResponseError())
	assert.Equal(t, domain.ENTRY_STATE_UNLOADED, resp.Status.State)

	assert.Equal(t, []platform.ForwardCall{
		{DeviceId: "dev1", Platform: domain.PLATFORM_CLIMATE},
		{DeviceId: "dev1", Platform: domain.PLATFORM_LIGHT},
	}, f.forwarder.Unloads())
	assert.Equal(t, 1, f.sessions.Closed())

	// the actor is gone
	_, err = f.as.Root.RequestFuture(pid, domain.EntryStatusRequest{}, 200*time.Millisecond).Result()
	assert.Error(t, err)
}

func TestEntryActorUnloadFailure(t *testing.T) {
	f := newEntryFixture(t)
	boom := errors.New("boom")
	entry := domain.NewConfigEntry("e1", "Heater", 4, entryData("goldair_heater"), map[string]any{"climate": true, "lock": true})
	pid := f.spawn(t, entry)
	f.waitState(t, pid, domain.ENTRY_STATE_LOADED)
	require.Eventually(t, func() bool {
		return len(f.status(t, pid).Platforms) == 2
	}, 2*time.Second, 20*time.Millisecond)

	f.forwarder.FailUnload(domain.PLATFORM_LOCK, boom)
	res, err := f.as.Root.RequestFuture(pid, domain.UnloadEntryRequest{EntryId: "e1"}, 3*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.UnloadEntryResponse)
	require.True(t, ok)
	assert.ErrorIs(t, resp.GetResponseError(), boom)
	assert.Equal(t, domain.ENTRY_STATE_UNLOAD_FAILED, resp.Status.State)
	assert.Equal(t, []domain.Platform{domain.PLATFORM_LOCK}, resp.Status.Platforms)

	// retrying picks up where it stopped
	f.forwarder.FailUnload(domain.PLATFORM_LOCK, nil)
	res, err = f.as.Root.RequestFuture(pid, domain.UnloadEntryRequest{EntryId: "e1"}, 3*time.Second).Result()
	require.NoError(t, err)
	resp, ok = res.(domain.UnloadEntryResponse)
	require.True(t, ok)
	assert.False(t, resp.HasResponseError())
	assert.Len(t, f.forwarder.Unloads(), 2)
}

func TestEntryActorStopReleasesDevice(t *testing.T) {
	f := newEntryFixture(t)
	entry := domain.NewConfigEntry("e1", "Heater", 4, entryData("goldair_heater"), map[string]any{"climate": true})
	pid := f.spawn(t, entry)
	f.waitState(t, pid, domain.ENTRY_STATE_LOADED)

	require.NoError(t, f.as.Root.StopFuture(pid).Wait())

	assert.Empty(t, f.forwarder.Unloads())
	assert.Equal(t, 1, f.sessions.Closed())
	assert.Nil(t, f.manager.Lookup("dev1"))
	assert.Equal(t, 0, entry.ListenerCount())
}
