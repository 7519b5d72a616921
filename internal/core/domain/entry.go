package domain

import (
	"context"
	"maps"
	"sync"
)

const (
	CONF_DEVICE_ID = "device_id"
	CONF_LOCAL_KEY = "local_key"
	CONF_HOST      = "host"
	CONF_TYPE      = "type"
	CONF_NAME      = "name"

	CONF_TYPE_AUTO = "auto"

	// legacy option keys, renamed by the 1 -> 2 migration
	CONF_CHILD_LOCK    = "child_lock"
	CONF_DISPLAY_LIGHT = "display_light"

	FIRST_ENTRY_VERSION   = 1
	CURRENT_ENTRY_VERSION = 4
)

type UpdateListener func(ctx context.Context, entry *ConfigEntry) error

// ConfigEntry is the host supplied record for one device integration.
// Data holds the device identity, Options the user editable settings.
// Once the entry is shared, Version, Data and Options are only read and
// written through the methods below.
type ConfigEntry struct {
	EntryId string
	Title   string
	Version int
	Data    map[string]any
	Options map[string]any

	fieldsMu  sync.RWMutex
	mu        sync.Mutex
	listeners []UpdateListener
}

func NewConfigEntry(entryId, title string, version int, data, options map[string]any) *ConfigEntry {
	if data == nil {
		data = map[string]any{}
	}
	if options == nil {
		options = map[string]any{}
	}
	return &ConfigEntry{
		EntryId: entryId,
		Title:   title,
		Version: version,
		Data:    data,
		Options: options,
	}
}

func (e *ConfigEntry) DeviceId() string {
	e.fieldsMu.RLock()
	defer e.fieldsMu.RUnlock()
	return stringValue(e.Data[CONF_DEVICE_ID])
}

func (e *ConfigEntry) CurrentVersion() int {
	e.fieldsMu.RLock()
	defer e.fieldsMu.RUnlock()
	return e.Version
}

func (e *ConfigEntry) View() EntryView {
	e.fieldsMu.RLock()
	defer e.fieldsMu.RUnlock()
	return Merge(e.Data, e.Options, e.Title)
}

// Commit replaces the persisted partitions and the version in one step.
func (e *ConfigEntry) Commit(version int, data, options map[string]any) {
	e.fieldsMu.Lock()
	defer e.fieldsMu.Unlock()
	e.Version = version
	e.Data = data
	e.Options = options
}

// AddUpdateListener registers fn to run when the entry options change.
// The returned func removes the listener again.
func (e *ConfigEntry) AddUpdateListener(fn UpdateListener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
	idx := len(e.listeners) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.listeners) {
			e.listeners[idx] = nil
		}
	}
}

func (e *ConfigEntry) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, l := range e.listeners {
		if l != nil {
			n++
		}
	}
	return n
}

// UpdateOptions replaces the options partition and notifies the update listeners
// in registration order. The first listener error is returned.
func (e *ConfigEntry) UpdateOptions(ctx context.Context, options map[string]any) error {
	options = maps.Clone(options)
	if options == nil {
		options = map[string]any{}
	}
	e.fieldsMu.Lock()
	e.Options = options
	e.fieldsMu.Unlock()

	e.mu.Lock()
	listeners := make([]UpdateListener, 0, len(e.listeners))
	for _, l := range e.listeners {
		if l != nil {
			listeners = append(listeners, l)
		}
	}
	e.mu.Unlock()

	for _, l := range listeners {
		if err := l(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is a detached copy of the persisted part of the entry.
type Snapshot struct {
	EntryId string         `json:"entry_id"`
	Title   string         `json:"title"`
	Version int            `json:"version"`
	Data    map[string]any `json:"data"`
	Options map[string]any `json:"options"`
}

func (e *ConfigEntry) Snapshot() Snapshot {
	e.fieldsMu.RLock()
	defer e.fieldsMu.RUnlock()
	return Snapshot{
		EntryId: e.EntryId,
		Title:   e.Title,
		Version: e.Version,
		Data:    maps.Clone(e.Data),
		Options: maps.Clone(e.Options),
	}
}
