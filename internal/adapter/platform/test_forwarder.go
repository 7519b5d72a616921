package platform

import (
	"context"
	"sync"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
)

type ForwardCall struct {
	DeviceId string
	Platform domain.Platform
}

// TestForwarder records platform registrations in memory.
type TestForwarder struct {
	mu         sync.Mutex
	setups     []ForwardCall
	unloads    []ForwardCall
	setupErrs  map[domain.Platform]error
	unloadErrs map[domain.Platform]error
	setupGate  chan struct{}
}

func NewTestForwarder() *TestForwarder {
	return &TestForwarder{
		setupErrs:  map[domain.Platform]error{},
		unloadErrs: map[domain.Platform]error{},
	}
}

func (f *TestForwarder) FailSetup(p domain.Platform, err error) *TestForwarder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupErrs[p] = err
	return f
}

// FailUnload makes the unload of p fail with err; a nil err clears it.
func (f *TestForwarder) FailUnload(p domain.Platform, err error) *TestForwarder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.unloadErrs, p)
	} else {
		f.unloadErrs[p] = err
	}
	return f
}

// HoldSetups blocks every registration until the returned func is called.
func (f *TestForwarder) HoldSetups() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.setupGate = gate
	return func() {
		close(gate)
	}
}

func (f *TestForwarder) ForwardEntrySetup(ctx context.Context, entry *domain.ConfigEntry, platform domain.Platform) error {
	f.mu.Lock()
	gate := f.setupGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups = append(f.setups, ForwardCall{DeviceId: entry.DeviceId(), Platform: platform})
	return f.setupErrs[platform]
}

func (f *TestForwarder) ForwardEntryUnload(ctx context.Context, entry *domain.ConfigEntry, platform domain.Platform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unloadErrs[platform]; err != nil {
		return err
	}
	f.unloads = append(f.unloads, ForwardCall{DeviceId: entry.DeviceId(), Platform: platform})
	return nil
}

func (f *TestForwarder) Setups() []ForwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ForwardCall(nil), f.setups...)
}

// Unloads lists the successful deregistrations in call order.
func (f *TestForwarder) Unloads() []ForwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ForwardCall(nil), f.unloads...)
}
