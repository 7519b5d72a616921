package domain

import (
	"fmt"
	"maps"
	"slices"
)

type Partition int

const (
	PARTITION_DATA Partition = iota
	PARTITION_OPTIONS
)

func (p Partition) String() string {
	switch p {
	case PARTITION_DATA:
		return "data"
	case PARTITION_OPTIONS:
		return "options"
	default:
		return "unknown"
	}
}

// identity fields always live in the data partition
var identityKeys = []string{CONF_DEVICE_ID, CONF_LOCAL_KEY, CONF_HOST}

// PartitionOf returns where key is stored for a record at the given schema version.
// The type tag moved around: data at version 1, options at version 2, data again from 3.
func PartitionOf(key string, version int) Partition {
	if slices.Contains(identityKeys, key) {
		return PARTITION_DATA
	}
	if key == CONF_TYPE {
		if version == 2 {
			return PARTITION_OPTIONS
		}
		return PARTITION_DATA
	}
	return PARTITION_OPTIONS
}

// EntryView is the merged, typed view of data + options + title.
type EntryView struct {
	DeviceId string
	LocalKey string
	Host     string
	Type     string
	Name     string
	// only flags stored as booleans, keyed by platform
	Features map[Platform]bool
	// every other option, legacy keys included
	Extra map[string]any
}

type ConnectionFields struct {
	DeviceId string
	LocalKey string
	Host     string
}

// mergeRaw overlays options on data.
func mergeRaw(data, options map[string]any) map[string]any {
	raw := make(map[string]any, len(data)+len(options))
	maps.Copy(raw, data)
	maps.Copy(raw, options)
	return raw
}

func Merge(data, options map[string]any, title string) EntryView {
	raw := mergeRaw(data, options)

	view := EntryView{
		Name:     title,
		Features: map[Platform]bool{},
		Extra:    map[string]any{},
	}
	for k, v := range raw {
		switch {
		case k == CONF_DEVICE_ID:
			view.DeviceId = stringValue(v)
		case k == CONF_LOCAL_KEY:
			view.LocalKey = stringValue(v)
		case k == CONF_HOST:
			view.Host = stringValue(v)
		case k == CONF_TYPE:
			view.Type = stringValue(v)
		case IsPlatform(k):
			if b, ok := v.(bool); ok {
				view.Features[Platform(k)] = b
			} else {
				view.Extra[k] = v
			}
		default:
			view.Extra[k] = v
		}
	}
	return view
}

// Split decomposes the view for a record at the current schema version.
func Split(view EntryView) (data map[string]any, options map[string]any) {
	return SplitForVersion(view, CURRENT_ENTRY_VERSION)
}

func SplitForVersion(view EntryView, version int) (data map[string]any, options map[string]any) {
	raw := map[string]any{
		CONF_DEVICE_ID: view.DeviceId,
		CONF_LOCAL_KEY: view.LocalKey,
		CONF_HOST:      view.Host,
	}
	if view.Type != "" {
		raw[CONF_TYPE] = view.Type
	}
	for p, enabled := range view.Features {
		raw[p.ConfKey()] = enabled
	}
	for k, v := range view.Extra {
		raw[k] = v
	}
	return SplitRaw(raw, version)
}

// SplitRaw distributes a flat record over data and options using PartitionOf.
func SplitRaw(raw map[string]any, version int) (data map[string]any, options map[string]any) {
	data = map[string]any{}
	options = map[string]any{}
	for k, v := range raw {
		if PartitionOf(k, version) == PARTITION_DATA {
			data[k] = v
		} else {
			options[k] = v
		}
	}
	return data, options
}

func (v EntryView) Connection() ConnectionFields {
	return ConnectionFields{
		DeviceId: v.DeviceId,
		LocalKey: v.LocalKey,
		Host:     v.Host,
	}
}

func (v EntryView) Enabled(p Platform) bool {
	return v.Features[p]
}

// EnabledPlatforms lists the enabled platforms in ALL_PLATFORMS order.
func (v EntryView) EnabledPlatforms() []Platform {
	var platforms []Platform
	for _, p := range ALL_PLATFORMS {
		if v.Enabled(p) {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
