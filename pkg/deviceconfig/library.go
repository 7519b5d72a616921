package deviceconfig

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed devices/*.yaml
var devicesFS embed.FS

var ErrConfigNotFound = errors.New("device config not found")

// Library indexes device configs by config type and legacy type.
type Library struct {
	configs  []*DeviceConfig
	byType   map[string]*DeviceConfig
	byLegacy map[string]*DeviceConfig
}

var (
	defaultLibrary     *Library
	defaultLibraryOnce sync.Once
	defaultLibraryErr  error
)

// DefaultLibrary loads the embedded device configs once.
func DefaultLibrary() (*Library, error) {
	defaultLibraryOnce.Do(func() {
		sub, err := fs.Sub(devicesFS, "devices")
		if err != nil {
			defaultLibraryErr = err
			return
		}
		defaultLibrary, defaultLibraryErr = LoadLibrary(sub)
	})
	return defaultLibrary, defaultLibraryErr
}

// LoadLibrary reads every *.yaml file at the root of fsys.
func LoadLibrary(fsys fs.FS) (*Library, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	lib := &Library{
		byType:   map[string]*DeviceConfig{},
		byLegacy: map[string]*DeviceConfig{},
	}
	for _, file := range files {
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		cfg := &DeviceConfig{}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		cfg.ConfigType = strings.TrimSuffix(path.Base(file), path.Ext(file))
		lib.configs = append(lib.configs, cfg)
		lib.byType[cfg.ConfigType] = cfg
		if cfg.LegacyType != "" {
			if prev, ok := lib.byLegacy[cfg.LegacyType]; ok {
				return nil, fmt.Errorf("legacy type %q declared by %s and %s", cfg.LegacyType, prev.ConfigType, cfg.ConfigType)
			}
			lib.byLegacy[cfg.LegacyType] = cfg
		}
	}
	return lib, nil
}

// Resolve finds a config by its config type or, failing that, by its legacy type.
func (l *Library) Resolve(typeId string) (*DeviceConfig, error) {
	if cfg, ok := l.byType[typeId]; ok {
		return cfg, nil
	}
	if cfg, ok := l.byLegacy[typeId]; ok {
		return cfg, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, typeId)
}

// BestMatch returns the matching config covering most of the status map.
// Ties go to the config type that sorts first. Nil when nothing matches.
func (l *Library) BestMatch(status map[string]any) *DeviceConfig {
	var best *DeviceConfig
	bestQuality := -1
	for _, cfg := range l.configs {
		if !cfg.Matches(status) {
			continue
		}
		q := cfg.MatchQuality(status)
		if q > bestQuality || (q == bestQuality && cfg.ConfigType < best.ConfigType) {
			best = cfg
			bestQuality = q
		}
	}
	return best
}

func (l *Library) ConfigTypes() []string {
	types := make([]string, 0, len(l.configs))
	for _, cfg := range l.configs {
		types = append(types, cfg.ConfigType)
	}
	return types
}
