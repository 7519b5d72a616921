package service

import (
	"maps"
	"sync"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
)

// DeviceBookkeeping is what the lifecycle manager keeps for one loaded device.
type DeviceBookkeeping struct {
	Session port.DeviceSession

	mu         sync.Mutex
	registered map[domain.Platform]bool
	errs       map[domain.Platform]error
	inflight   sync.WaitGroup
}

func NewDeviceBookkeeping(session port.DeviceSession) *DeviceBookkeeping {
	return &DeviceBookkeeping{
		Session:    session,
		registered: map[domain.Platform]bool{},
		errs:       map[domain.Platform]error{},
	}
}

// Platforms returns the registered platforms in registration order.
func (b *DeviceBookkeeping) Platforms() []domain.Platform {
	b.mu.Lock()
	defer b.mu.Unlock()
	var platforms []domain.Platform
	for _, p := range domain.ALL_PLATFORMS {
		if b.registered[p] {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

func (b *DeviceBookkeeping) IsRegistered(p domain.Platform) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered[p]
}

// RegistrationErrors returns the platforms whose last registration attempt failed.
func (b *DeviceBookkeeping) RegistrationErrors() map[domain.Platform]error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.errs)
}

// WaitRegistrations blocks until every scheduled registration has finished.
func (b *DeviceBookkeeping) WaitRegistrations() {
	b.inflight.Wait()
}

func (b *DeviceBookkeeping) markRegistered(p domain.Platform) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered[p] = true
	delete(b.errs, p)
}

func (b *DeviceBookkeeping) markFailed(p domain.Platform, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[p] = err
}

func (b *DeviceBookkeeping) unmark(p domain.Platform) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registered, p)
}

// DeviceRegistry holds the bookkeeping of every loaded device, keyed by device id.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*DeviceBookkeeping
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: map[string]*DeviceBookkeeping{},
	}
}

func (r *DeviceRegistry) Insert(deviceId string, b *DeviceBookkeeping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[deviceId] = b
}

// Lookup returns nil when the device is not loaded.
func (r *DeviceRegistry) Lookup(deviceId string) *DeviceBookkeeping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[deviceId]
}

func (r *DeviceRegistry) Remove(deviceId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceId)
}

func (r *DeviceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
