package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/service"
	. "github.com/berfenger/tuyalocal2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// extra time given to a migration task after its context deadline
const MIGRATION_TIMEOUT_GRACE = 2 * time.Second

type EntryActorSettings struct {
	MigrationTimeout time.Duration
	RetryDelay       time.Duration
}

// EntryActor owns one configuration entry: it migrates it, sets it up and
// serializes every later reload or unload.
type EntryActor struct {
	entry    *domain.ConfigEntry
	engine   *service.MigrationEngine
	manager  *service.EntryLifecycleManager
	retry    port.RetryScheduler
	settings EntryActorSettings
	behavior actor.Behavior
	stash    *Stash
	logger   *zap.Logger

	state     string
	lastError error
	// reported while a background task owns the entry
	busy         bool
	snapshot     domain.EntryStatus
	pendingReply *actor.PID
}

type migrationResult struct {
	Err error
}

type retryMigration struct {
}

type updateResult struct {
	Err     error
	ReplyTo *actor.PID
}

type unloadResult struct {
	Err     error
	ReplyTo *actor.PID
}

func NewEntryActor(entry *domain.ConfigEntry, engine *service.MigrationEngine, manager *service.EntryLifecycleManager,
	retry port.RetryScheduler, settings EntryActorSettings, logger *zap.Logger) *EntryActor {
	act := &EntryActor{
		entry:    entry,
		engine:   engine,
		manager:  manager,
		retry:    retry,
		settings: settings,
		behavior: actor.NewBehavior(),
		stash:    &Stash{},
		logger:   ActorLogger(EntryActorName(entry.EntryId), logger),
		state:    domain.ENTRY_STATE_STARTING,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func EntryActorName(entryId string) string {
	return fmt.Sprintf("%s-%s", domain.ACTOR_ID_ENTRY_PREFIX, entryId)
}

func (state *EntryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *EntryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("entry@starting started", zap.Int("version", state.entry.CurrentVersion()))
		state.startMigration(ctx)
	case domain.EntryStatusRequest:
		state.respondStatus(ctx, msg)
	default:
		state.logger.Debug("entry@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) MigratingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case migrationResult:
		state.busy = false
		if msg.Err != nil {
			state.logger.Error("entry@migrating failed", zap.Error(msg.Err), zap.Duration("retry_in", state.settings.RetryDelay))
			state.lastError = msg.Err
			state.state = domain.ENTRY_STATE_MIGRATION_FAILED
			state.behavior.Become(state.MigrationFailedReceive)
			state.scheduleRetry(ctx)
		} else {
			state.logger.Info("entry@migrating loaded", zap.Int("version", state.entry.CurrentVersion()))
			state.lastError = nil
			state.state = domain.ENTRY_STATE_LOADED
			state.behavior.Become(state.LoadedReceive)
		}
		if state.pendingReply != nil {
			ReplyWith(ctx, state.pendingReply, domain.UpdateEntryOptionsResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Err,
				},
				Status: state.status(),
			})
			state.pendingReply = nil
		}
		state.stash.UnstashAll(ctx)
	case domain.EntryStatusRequest:
		state.respondStatus(ctx, msg)
	case *actor.Stopping:
		state.release()
	default:
		state.logger.Debug("entry@migrating stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) MigrationFailedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case retryMigration:
		state.logger.Info("entry@migration_failed retrying")
		state.startMigration(ctx)
	case domain.UpdateEntryOptionsRequest:
		// nothing is loaded yet, so new options just mean another attempt
		state.logger.Info("entry@migration_failed UpdateEntryOptionsRequest")
		state.cancelRetry()
		if err := state.entry.UpdateOptions(context.Background(), msg.Options); err != nil {
			state.logger.Warn("entry@migration_failed update listener error", zap.Error(err))
		}
		state.pendingReply = ForRequest(msg).ReplyTo(ctx)
		state.startMigration(ctx)
	case domain.UnloadEntryRequest:
		state.logger.Info("entry@migration_failed UnloadEntryRequest")
		state.cancelRetry()
		state.state = domain.ENTRY_STATE_UNLOADED
		ForRequest(msg).Respond(ctx, domain.UnloadEntryResponse{Status: state.status()})
		ctx.Stop(ctx.Self())
	case domain.EntryStatusRequest:
		state.respondStatus(ctx, msg)
	case *actor.Stopping:
		state.release()
	default:
		state.logger.Debug("entry@migration_failed ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// LoadedReceive serves both loaded and unload_failed.
func (state *EntryActor) LoadedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.UpdateEntryOptionsRequest:
		state.logger.Info("entry@loaded UpdateEntryOptionsRequest")
		replyTo := ForRequest(msg).ReplyTo(ctx)
		options := msg.Options
		state.becomeBusy(domain.ENTRY_STATE_UPDATING)
		state.behavior.Become(state.UpdatingReceive)
		NewBackgroundTask(ctx, func() (*updateResult, error) {
			// fires the update listener installed on setup
			err := state.entry.UpdateOptions(context.Background(), options)
			return &updateResult{Err: err, ReplyTo: replyTo}, nil
		}).Recover(func(err error) updateResult {
			return updateResult{Err: err, ReplyTo: replyTo}
		}).PipeTo(ctx.Self())
	case domain.UnloadEntryRequest:
		state.logger.Info("entry@loaded UnloadEntryRequest")
		replyTo := ForRequest(msg).ReplyTo(ctx)
		state.becomeBusy(domain.ENTRY_STATE_UNLOADING)
		state.behavior.Become(state.UnloadingReceive)
		NewBackgroundTask(ctx, func() (*unloadResult, error) {
			_, err := state.manager.Unload(context.Background(), state.entry)
			return &unloadResult{Err: err, ReplyTo: replyTo}, nil
		}).Recover(func(err error) unloadResult {
			return unloadResult{Err: err, ReplyTo: replyTo}
		}).PipeTo(ctx.Self())
	case domain.EntryStatusRequest:
		state.respondStatus(ctx, msg)
	case *actor.Stopping:
		state.release()
	default:
		state.logger.Debug("entry@loaded ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *EntryActor) UpdatingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case updateResult:
		state.busy = false
		if msg.Err != nil {
			state.logger.Error("entry@updating failed", zap.Error(msg.Err))
			state.lastError = msg.Err
			state.state = domain.ENTRY_STATE_UNLOAD_FAILED
		} else {
			state.lastError = nil
			state.state = domain.ENTRY_STATE_LOADED
		}
		state.behavior.Become(state.LoadedReceive)
		ReplyWith(ctx, msg.ReplyTo, domain.UpdateEntryOptionsResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: msg.Err,
			},
			Status: state.status(),
		})
		state.stash.UnstashAll(ctx)
	case domain.EntryStatusRequest:
		state.respondStatus(ctx, msg)
	case *actor.Stopping:
		state.release()
	default:
		state.logger.Debug("entry@updating stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) UnloadingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case unloadResult:
		state.busy = false
		if msg.Err != nil {
			state.logger.Error("entry@unloading failed", zap.Error(msg.Err))
			state.lastError = msg.Err
			state.state = domain.ENTRY_STATE_UNLOAD_FAILED
			state.behavior.Become(state.LoadedReceive)
			ReplyWith(ctx, msg.ReplyTo, domain.UnloadEntryResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Err,
				},
				Status: state.status(),
			})
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Info("entry@unloading unloaded")
		state.lastError = nil
		state.state = domain.ENTRY_STATE_UNLOADED
		ReplyWith(ctx, msg.ReplyTo, domain.UnloadEntryResponse{Status: state.status()})
		ctx.Stop(ctx.Self())
	case domain.EntryStatusRequest:
		state.respondStatus(ctx, msg)
	case *actor.Stopping:
		state.release()
	default:
		state.logger.Debug("entry@unloading stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// startMigration migrates the entry and sets it up in the background.
func (state *EntryActor) startMigration(ctx actor.Context) {
	state.becomeBusy(domain.ENTRY_STATE_MIGRATING)
	state.behavior.Become(state.MigratingReceive)

	timeout := state.settings.MigrationTimeout
	NewBackgroundTask(ctx, func() (*migrationResult, error) {
		mctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := state.engine.Migrate(mctx, state.entry); err != nil {
			return &migrationResult{Err: err}, nil
		}
		state.manager.Setup(mctx, state.entry)
		return &migrationResult{}, nil
	}).WithTimeout(timeout + MIGRATION_TIMEOUT_GRACE).Recover(func(err error) migrationResult {
		return migrationResult{Err: err}
	}).PipeTo(ctx.Self())
}

func (state *EntryActor) scheduleRetry(ctx actor.Context) {
	toSelf := SelfSender(ctx)
	err := state.retry.ScheduleRetry(state.retryKey(), state.settings.RetryDelay, func(context.Context) {
		toSelf(retryMigration{})
	})
	if err != nil {
		state.logger.Error("entry@migration_failed could not schedule retry", zap.Error(err))
	}
}

func (state *EntryActor) cancelRetry() {
	if err := state.retry.Cancel(state.retryKey()); err != nil {
		state.logger.Warn("entry: could not cancel retry", zap.Error(err))
	}
}

func (state *EntryActor) retryKey() string {
	return EntryActorName(state.entry.EntryId)
}

// release runs when the actor stops: the device goes away without touching its registrations.
func (state *EntryActor) release() {
	state.logger.Debug("entry: release")
	state.cancelRetry()
	state.manager.Forget(state.entry)
	state.manager.Release(state.entry)
}

func (state *EntryActor) becomeBusy(s string) {
	state.snapshot = state.status()
	state.snapshot.State = s
	state.state = s
	state.busy = true
}

func (state *EntryActor) respondStatus(ctx actor.Context, req domain.EntryStatusRequest) {
	st := state.snapshot
	if !state.busy {
		st = state.status()
	}
	ForRequest(req).Respond(ctx, domain.EntryStatusResponse{Entries: []domain.EntryStatus{st}})
}

func (state *EntryActor) status() domain.EntryStatus {
	view := state.entry.View()
	st := domain.EntryStatus{
		EntryId:   state.entry.EntryId,
		Title:     state.entry.Title,
		DeviceId:  view.DeviceId,
		Type:      view.Type,
		Version:   state.entry.CurrentVersion(),
		State:     state.state,
		Platforms: []domain.Platform{},
	}
	if bk := state.manager.Lookup(view.DeviceId); bk != nil {
		if platforms := bk.Platforms(); platforms != nil {
			st.Platforms = platforms
		}
	}
	if state.lastError != nil {
		st.LastError = state.lastError.Error()
	}
	return st
}
