package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
	"github.com/berfenger/tuyalocal2mqtt/internal/metrics"

	"go.uber.org/zap"
)

const (
	CONFIG_TYPE_SMARTPLUG_V1 = "smartplugv1"
	CONFIG_TYPE_SMARTPLUG_V2 = "smartplugv2"
)

// MigrationRecord is the persisted part of an entry as seen by a migration step.
type MigrationRecord struct {
	Title   string
	Version int
	Data    map[string]any
	Options map[string]any
}

type MigrationStep interface {
	FromVersion() int
	Apply(ctx context.Context, record MigrationRecord) (MigrationRecord, error)
}

// MigrationEngine brings stored entries up to domain.CURRENT_ENTRY_VERSION.
type MigrationEngine struct {
	steps   []MigrationStep
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewMigrationEngine(sessions port.SessionFactory, resolver port.TypeResolver, m *metrics.Metrics, logger *zap.Logger) *MigrationEngine {
	return NewMigrationEngineWithSteps(DefaultMigrationSteps(sessions, resolver, m, logger), m, logger)
}

func NewMigrationEngineWithSteps(steps []MigrationStep, m *metrics.Metrics, logger *zap.Logger) *MigrationEngine {
	return &MigrationEngine{
		steps:   steps,
		metrics: m,
		logger:  logger.With(zap.String("component", "migration")),
	}
}

func DefaultMigrationSteps(sessions port.SessionFactory, resolver port.TypeResolver, m *metrics.Metrics, logger *zap.Logger) []MigrationStep {
	inference := deviceInference{
		sessions: sessions,
		metrics:  m,
		logger:   logger.With(zap.String("component", "inference")),
	}
	return []MigrationStep{
		removeAutoDetectStep{inference: inference},
		promoteTypeStep{inference: inference},
		canonicalTypeStep{
			inference: inference,
			resolver:  resolver,
			ambiguous: map[string][]string{
				CONFIG_TYPE_SMARTPLUG_V1: {CONFIG_TYPE_SMARTPLUG_V2},
			},
		},
	}
}

// MigrateEntry reports whether the entry is usable at the current version.
func (e *MigrationEngine) MigrateEntry(ctx context.Context, entry *domain.ConfigEntry) bool {
	ok, _ := e.Migrate(ctx, entry)
	return ok
}

// Migrate runs every applicable step in order. The entry is only modified when all steps succeed.
func (e *MigrationEngine) Migrate(ctx context.Context, entry *domain.ConfigEntry) (bool, error) {
	snap := entry.Snapshot()
	record := MigrationRecord{
		Title:   snap.Title,
		Version: snap.Version,
		Data:    snap.Data,
		Options: snap.Options,
	}
	from := record.Version
	if from < domain.FIRST_ENTRY_VERSION {
		err := fmt.Errorf("migrate entry %s from version %d: %w", entry.EntryId, from, ErrVersionTooOld)
		e.logger.Error("migration: failed", zap.String("entry", entry.EntryId), zap.Error(err))
		e.metrics.Migration(err)
		return false, err
	}

	for step := e.stepFrom(record.Version); step != nil; step = e.stepFrom(record.Version) {
		e.logger.Info("migration: upgrading entry", zap.String("entry", entry.EntryId), zap.Int("from", record.Version))
		next, err := step.Apply(ctx, record)
		if err == nil && next.Version <= record.Version {
			err = ErrVersionNotAdvanced
		}
		if err != nil {
			err = fmt.Errorf("migrate entry %s from version %d: %w", entry.EntryId, record.Version, err)
			e.logger.Error("migration: failed", zap.String("entry", entry.EntryId), zap.Error(err))
			e.metrics.Migration(err)
			return false, err
		}
		record = next
	}

	if record.Version == from {
		return true, nil
	}

	entry.Commit(record.Version, record.Data, record.Options)
	e.metrics.Migration(nil)
	e.logger.Info("migration: complete", zap.String("entry", entry.EntryId), zap.Int("from", from), zap.Int("to", record.Version))
	return true, nil
}

func (e *MigrationEngine) stepFrom(version int) MigrationStep {
	for _, s := range e.steps {
		if s.FromVersion() == version {
			return s
		}
	}
	return nil
}

type deviceInference struct {
	sessions port.SessionFactory
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// inferType asks the live device for its type through a short lived session.
func (i deviceInference) inferType(ctx context.Context, conn domain.ConnectionFields) (string, error) {
	session, err := i.sessions.Open(ctx, conn)
	if err != nil {
		i.metrics.Inference(err)
		return "", fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			i.logger.Warn("inference: session close failed", zap.String("device", conn.DeviceId), zap.Error(err))
		}
	}()

	typ, err := session.InferType(ctx)
	if err == nil && typ == "" {
		i.metrics.Inference(ErrDeviceNotInferred)
	} else {
		i.metrics.Inference(err)
	}
	if err != nil {
		return "", err
	}
	i.logger.Debug("inference: device type", zap.String("device", conn.DeviceId), zap.String("type", typ))
	return typ, nil
}

func (i deviceInference) requireType(ctx context.Context, conn domain.ConnectionFields) (string, error) {
	typ, err := i.inferType(ctx, conn)
	if err != nil {
		return "", fmt.Errorf("%w: device %s: %w", ErrDeviceNotInferred, conn.DeviceId, err)
	}
	if typ == "" {
		return "", fmt.Errorf("%w: device %s", ErrDeviceNotInferred, conn.DeviceId)
	}
	return typ, nil
}

// 1 -> 2: resolve "auto" and move child_lock/display_light to lock/light.
type removeAutoDetectStep struct {
	inference deviceInference
}

func (s removeAutoDetectStep) FromVersion() int {
	return 1
}

func (s removeAutoDetectStep) Apply(ctx context.Context, record MigrationRecord) (MigrationRecord, error) {
	view := domain.Merge(record.Data, record.Options, record.Title)
	conn, err := connectionOf(view)
	if err != nil {
		return record, err
	}

	if view.Type == domain.CONF_TYPE_AUTO {
		typ, err := s.inference.requireType(ctx, conn)
		if err != nil {
			return record, err
		}
		view.Type = typ
	}
	renameFeature(&view, domain.CONF_CHILD_LOCK, domain.PLATFORM_LOCK)
	renameFeature(&view, domain.CONF_DISPLAY_LIGHT, domain.PLATFORM_LIGHT)

	return splitRecord(record.Title, view, 2), nil
}

// 2 -> 3: the type tag moves from options to data.
type promoteTypeStep struct {
	inference deviceInference
}

func (s promoteTypeStep) FromVersion() int {
	return 2
}

func (s promoteTypeStep) Apply(ctx context.Context, record MigrationRecord) (MigrationRecord, error) {
	view := domain.Merge(record.Data, record.Options, record.Title)
	conn, err := connectionOf(view)
	if err != nil {
		return record, err
	}

	if view.Type == "" || view.Type == domain.CONF_TYPE_AUTO {
		view.Type, err = s.inference.requireType(ctx, conn)
		if err != nil {
			return record, err
		}
	}

	return splitRecord(record.Title, view, 3), nil
}

// 3 -> 4: legacy type identifiers become config types.
// Config types listed in ambiguous are checked against the live device.
type canonicalTypeStep struct {
	inference deviceInference
	resolver  port.TypeResolver
	ambiguous map[string][]string
}

func (s canonicalTypeStep) FromVersion() int {
	return 3
}

func (s canonicalTypeStep) Apply(ctx context.Context, record MigrationRecord) (MigrationRecord, error) {
	view := domain.Merge(record.Data, record.Options, record.Title)
	conn, err := connectionOf(view)
	if err != nil {
		return record, err
	}

	cfg, err := s.resolver.Resolve(view.Type)
	if err != nil {
		return record, fmt.Errorf("%w %q: %w", ErrUnknownDeviceType, view.Type, err)
	}
	configType := cfg.ConfigType
	if alternatives, ok := s.ambiguous[configType]; ok {
		configType = s.disambiguate(ctx, conn, configType, alternatives)
	}
	view.Type = configType

	data, options := domain.Split(view)
	return MigrationRecord{Title: record.Title, Version: domain.CURRENT_ENTRY_VERSION, Data: data, Options: options}, nil
}

// disambiguate never fails: anything but an exact alternative keeps configType.
func (s canonicalTypeStep) disambiguate(ctx context.Context, conn domain.ConnectionFields, configType string, alternatives []string) string {
	inferred, err := s.inference.inferType(ctx, conn)
	if err != nil {
		s.inference.logger.Warn("inference: keeping default config type", zap.String("device", conn.DeviceId),
			zap.String("type", configType), zap.Error(err))
		return configType
	}
	if slices.Contains(alternatives, inferred) {
		return inferred
	}
	return configType
}

func connectionOf(view domain.EntryView) (domain.ConnectionFields, error) {
	conn := view.Connection()
	if conn.DeviceId == "" || conn.LocalKey == "" || conn.Host == "" {
		return conn, fmt.Errorf("%w: device_id, local_key and host are required", ErrMissingIdentity)
	}
	return conn, nil
}

// renameFeature moves the legacy key from to the platform flag to, replacing
// any value already stored under to.
func renameFeature(view *domain.EntryView, from string, to domain.Platform) {
	v, ok := view.Extra[from]
	if !ok {
		return
	}
	delete(view.Extra, from)
	delete(view.Features, to)
	delete(view.Extra, to.ConfKey())
	if enabled, isBool := v.(bool); isBool {
		view.Features[to] = enabled
	} else {
		view.Extra[to.ConfKey()] = v
	}
}

func splitRecord(title string, view domain.EntryView, version int) MigrationRecord {
	data, options := domain.SplitForVersion(view, version)
	return MigrationRecord{
		Title:   title,
		Version: version,
		Data:    data,
		Options: options,
	}
}
