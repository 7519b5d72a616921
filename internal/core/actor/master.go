package actor

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	adactor "github.com/berfenger/tuyalocal2mqtt/internal/adapter/actor"
	"github.com/berfenger/tuyalocal2mqtt/internal/config"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/service"
	"github.com/berfenger/tuyalocal2mqtt/internal/metrics"
	. "github.com/berfenger/tuyalocal2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

var ErrEntryNotFound = errors.New("entry not found")

type MQTTActorProvider func() *adactor.MQTTActor

// AdapterProvider builds the device and platform adapters once the MQTT actor is up.
type AdapterProvider func(root *actor.RootContext, mqttActor *actor.PID) (port.SessionFactory, port.PlatformForwarder)

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	currentStatus      statusCollection
	mqttActor          *actor.PID
	entryActors        map[string]*actor.PID
	mqttActorProvider  MQTTActorProvider
	adapterProvider    AdapterProvider
	resolver           port.TypeResolver
	retry              port.RetryScheduler
	metrics            *metrics.Metrics
	logger             *zap.Logger
	rootLogger         *zap.Logger
}

type healthCheckResult struct {
	mqttActorHealthy bool
	checksReceived   int
	respondTo        *actor.PID
}

type statusCollection struct {
	entries   []domain.EntryStatus
	expected  int
	received  int
	respondTo *actor.PID
}

type entryStatusUnavailable struct {
	EntryId string
}

func NewMasterOfPuppetsActor(config config.Config, resolver port.TypeResolver, retry port.RetryScheduler, m *metrics.Metrics,
	mqttActorProvider MQTTActorProvider, adapterProvider AdapterProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		rootLogger:        logger,
		entryActors:       map[string]*actor.PID{},
		mqttActorProvider: mqttActorProvider,
		adapterProvider:   adapterProvider,
		resolver:          resolver,
		retry:             retry,
		metrics:           m,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		sessions, forwarder := state.adapterProvider(ctx.ActorSystem().Root, state.mqttActor)
		registry := service.NewDeviceRegistry()
		engine := service.NewMigrationEngine(sessions, state.resolver, state.metrics, state.rootLogger)
		manager := service.NewEntryLifecycleManager(sessions, forwarder, registry, state.metrics, state.rootLogger)

		// start one child per configured entry
		for _, entryCfg := range state.config.Entries {
			pid, err := state.startEntryActor(ctx, entryCfg, engine, manager)
			if err != nil {
				panic(err)
			}
			state.entryActors[entryCfg.EntryId] = pid
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = healthCheckResult{respondTo: ctx.Sender()}
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.EntryStatusRequest:
		state.logger.Debug("master@default EntryStatusRequest")
		state.currentStatus = statusCollection{
			entries:   []domain.EntryStatus{},
			expected:  len(state.entryActors),
			respondTo: ForRequest(msg).ReplyTo(ctx),
		}
		if state.currentStatus.expected == 0 {
			state.currentStatus.respond(ctx)
			return
		}
		for entryId, pid := range state.entryActors {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.EntryStatusRequest{}, 1*time.Second), func(err error) any {
				return entryStatusUnavailable{EntryId: entryId}
			})
		}

		ctx.SetReceiveTimeout(2 * time.Second)

		state.behavior.BecomeStacked(state.StatusCollectReceive)
	case domain.UpdateEntryOptionsRequest:
		state.logger.Debug("master@default UpdateEntryOptionsRequest", zap.String("entry", msg.EntryId))
		if pid, ok := state.entryActors[msg.EntryId]; ok {
			ctx.Forward(pid)
		} else {
			ForRequest(msg).Respond(ctx, domain.UpdateEntryOptionsResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("%w: %s", ErrEntryNotFound, msg.EntryId),
				},
			})
		}
	case domain.UnloadEntryRequest:
		state.logger.Debug("master@default UnloadEntryRequest", zap.String("entry", msg.EntryId))
		if pid, ok := state.entryActors[msg.EntryId]; ok {
			ctx.Forward(pid)
		} else {
			ForRequest(msg).Respond(ctx, domain.UnloadEntryResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("%w: %s", ErrEntryNotFound, msg.EntryId),
				},
			})
		}
	case *actor.Terminated:
		for entryId, pid := range state.entryActors {
			if pid.Equal(msg.Who) {
				state.logger.Info("master@default entry stopped", zap.String("entry", entryId))
				delete(state.entryActors, entryId)
			}
		}
	case domain.ActorHealthResponse, domain.EntryStatusResponse, entryStatusUnavailable:
		state.logger.Debug("master@default late response", zap.String("type", fmt.Sprintf("%T", msg)))
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy && msg.Id == domain.ACTOR_ID_MQTT {
			state.currentHealthCheck.mqttActorHealthy = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) StatusCollectReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		state.logger.Warn("master@status some entries did not answer",
			zap.Int("expected", state.currentStatus.expected), zap.Int("received", state.currentStatus.received))
		state.finishStatus(ctx)
	case domain.EntryStatusResponse:
		state.currentStatus.entries = append(state.currentStatus.entries, msg.Entries...)
		state.currentStatus.received++
		if state.currentStatus.allReceived() {
			state.finishStatus(ctx)
		}
	case entryStatusUnavailable:
		state.currentStatus.entries = append(state.currentStatus.entries, domain.EntryStatus{
			EntryId:   msg.EntryId,
			State:     domain.ENTRY_STATE_UNAVAILABLE,
			Platforms: []domain.Platform{},
		})
		state.currentStatus.received++
		if state.currentStatus.allReceived() {
			state.finishStatus(ctx)
		}
	case *actor.Terminated:
		state.DefaultReceive(ctx)
	default:
		state.logger.Debug("master@status stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) finishStatus(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentStatus.respond(ctx)
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startEntryActor(ctx actor.Context, entryCfg config.EntryConfig,
	engine *service.MigrationEngine, manager *service.EntryLifecycleManager) (*actor.PID, error) {

	entry := domain.NewConfigEntry(entryCfg.EntryId, entryCfg.Title, entryCfg.Version,
		maps.Clone(entryCfg.Data), maps.Clone(entryCfg.Options))
	settings := EntryActorSettings{
		MigrationTimeout: 4 * state.config.Inference.Timeout(),
		RetryDelay:       state.config.Retry.Delay(),
	}

	entryProps := actor.PropsFromProducer(func() actor.Actor {
		return NewEntryActor(entry, engine, manager, state.retry, settings, state.rootLogger)
	})
	return ctx.SpawnNamed(entryProps, EntryActorName(entryCfg.EntryId))
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 1
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.mqttActorHealthy,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}

func (state *statusCollection) allReceived() bool {
	return state.received >= state.expected
}

func (state *statusCollection) respond(ctx actor.Context) {
	slices.SortFunc(state.entries, func(a, b domain.EntryStatus) int {
		return strings.Compare(a.EntryId, b.EntryId)
	})
	if state.respondTo != nil {
		ctx.Send(state.respondTo, domain.EntryStatusResponse{Entries: state.entries})
	}
}
