package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
	"github.com/berfenger/tuyalocal2mqtt/internal/metrics"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// EntryLifecycleManager sets up, unloads and reloads configuration entries.
// Calls for one entry must not overlap; the entry actor guarantees it.
type EntryLifecycleManager struct {
	sessions  port.SessionFactory
	forwarder port.PlatformForwarder
	registry  *DeviceRegistry
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu        sync.Mutex
	listening map[*domain.ConfigEntry]func()
}

func NewEntryLifecycleManager(sessions port.SessionFactory, forwarder port.PlatformForwarder, registry *DeviceRegistry,
	m *metrics.Metrics, logger *zap.Logger) *EntryLifecycleManager {
	return &EntryLifecycleManager{
		sessions:  sessions,
		forwarder: forwarder,
		registry:  registry,
		metrics:   m,
		logger:    logger.With(zap.String("component", "lifecycle")),
		listening: map[*domain.ConfigEntry]func(){},
	}
}

// Setup opens (or reuses) the device session and schedules one registration per
// enabled platform. Registrations run in the background; their outcome ends up
// in the device bookkeeping. Always returns true.
func (m *EntryLifecycleManager) Setup(ctx context.Context, entry *domain.ConfigEntry) bool {
	view := entry.View()
	logger := m.logger.With(zap.String("entry", entry.EntryId), zap.String("device", view.DeviceId))

	bk := m.registry.Lookup(view.DeviceId)
	if bk == nil {
		session, err := m.sessions.Open(ctx, view.Connection())
		if err != nil {
			logger.Error("lifecycle: could not open device session", zap.Error(err))
			m.listen(entry)
			return true
		}
		bk = NewDeviceBookkeeping(session)
		m.registry.Insert(view.DeviceId, bk)
		m.metrics.SetLoadedDevices(m.registry.Len())
	}

	platforms := view.EnabledPlatforms()
	if len(platforms) > 0 {
		// registrations outlive the setup call
		regCtx := context.WithoutCancel(ctx)
		p := pool.New().WithErrors()
		for _, platform := range platforms {
			p.Go(func() error {
				err := m.forwarder.ForwardEntrySetup(regCtx, entry, platform)
				m.metrics.Registration(platform.String(), err)
				if err != nil {
					bk.markFailed(platform, err)
					return fmt.Errorf("register %s: %w", platform, err)
				}
				bk.markRegistered(platform)
				return nil
			})
		}
		bk.inflight.Add(1)
		go func() {
			defer bk.inflight.Done()
			if err := p.Wait(); err != nil {
				logger.Error("lifecycle: platform registration failed", zap.Error(err))
			} else {
				logger.Debug("lifecycle: platforms registered", zap.Stringers("platforms", platforms))
			}
		}()
	}

	m.listen(entry)
	logger.Info("lifecycle: entry set up", zap.Int("platforms", len(platforms)))
	return true
}

// Unload deregisters every registered platform in order, then closes the session.
// The first deregistration error aborts the unload and leaves the device loaded.
func (m *EntryLifecycleManager) Unload(ctx context.Context, entry *domain.ConfigEntry) (bool, error) {
	deviceId := entry.DeviceId()
	logger := m.logger.With(zap.String("entry", entry.EntryId), zap.String("device", deviceId))

	bk := m.registry.Lookup(deviceId)
	if bk == nil {
		return true, nil
	}
	bk.WaitRegistrations()

	for _, platform := range bk.Platforms() {
		err := m.forwarder.ForwardEntryUnload(ctx, entry, platform)
		m.metrics.Deregistration(platform.String(), err)
		if err != nil {
			logger.Error("lifecycle: platform unload failed", zap.Stringer("platform", platform), zap.Error(err))
			return false, fmt.Errorf("unload %s of device %s: %w", platform, deviceId, err)
		}
		bk.unmark(platform)
	}

	if err := bk.Session.Close(); err != nil {
		logger.Warn("lifecycle: session close failed", zap.Error(err))
	}
	m.registry.Remove(deviceId)
	m.metrics.SetLoadedDevices(m.registry.Len())
	logger.Info("lifecycle: entry unloaded")
	return true, nil
}

// Update reloads the entry after its options changed.
func (m *EntryLifecycleManager) Update(ctx context.Context, entry *domain.ConfigEntry) error {
	if _, err := m.Unload(ctx, entry); err != nil {
		return err
	}
	m.Setup(ctx, entry)
	return nil
}

// Release closes the session of a loaded device and drops its bookkeeping
// without deregistering, so retained registrations survive a restart.
func (m *EntryLifecycleManager) Release(entry *domain.ConfigEntry) {
	deviceId := entry.DeviceId()
	bk := m.registry.Lookup(deviceId)
	if bk == nil {
		return
	}
	bk.WaitRegistrations()
	if err := bk.Session.Close(); err != nil {
		m.logger.Warn("lifecycle: session close failed", zap.String("device", deviceId), zap.Error(err))
	}
	m.registry.Remove(deviceId)
	m.metrics.SetLoadedDevices(m.registry.Len())
}

// Forget drops the update listener installed by Setup.
func (m *EntryLifecycleManager) Forget(entry *domain.ConfigEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if remove, ok := m.listening[entry]; ok {
		remove()
		delete(m.listening, entry)
	}
}

func (m *EntryLifecycleManager) Lookup(deviceId string) *DeviceBookkeeping {
	return m.registry.Lookup(deviceId)
}

func (m *EntryLifecycleManager) listen(entry *domain.ConfigEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listening[entry]; ok {
		return
	}
	m.listening[entry] = entry.AddUpdateListener(m.Update)
}
