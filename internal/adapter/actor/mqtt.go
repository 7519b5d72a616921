package actor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/tuyalocal2mqtt/internal/config"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/mqtt"
	"github.com/berfenger/tuyalocal2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// queries nobody answered within this window are dropped
const STALE_QUERY_AGE = 1 * time.Minute

type MQTTActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *mqtt.MQTTClient
	logger   *zap.Logger
	pending  map[string][]pendingQuery

	// test actor only
	mu        sync.Mutex
	dps       map[string]map[string]any
	published []domain.PublishMessageRequest
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type deviceStatusReceived struct {
	Status *mqtt.DeviceStatus
}

type deviceQueryFailed struct {
	DeviceId string
	Error    error
}

type pendingQuery struct {
	replyTo *actor.PID
	since   time.Time
}

func NewMQTTActor(config *config.Config, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
		pending:  map[string][]pendingQuery{},
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")
		toSelf := actorutil.SelfSender(ctx)

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			toSelf(MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				toSelf(MQTTConnectionLost{Error: err})
			} else {
				toSelf(MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")
		toSelf := actorutil.SelfSender(ctx)

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)
		if err := state.publishBridgeDiscovery(); err != nil {
			state.logger.Error("mqtt@starting bridge discovery error", zap.Error(err))
		}

		// subscribe to device status reports
		state.client.SubscribeToDeviceStatus(func(c pahomqtt.Client, m pahomqtt.Message) {
			status, err := state.client.ParseDeviceStatus(m)
			if err != nil {
				state.logger.Warn("mqtt@default invalid device status", zap.String("topic", m.Topic()), zap.Error(err))
				return
			}
			toSelf(deviceStatusReceived{Status: status})
		}, func(err error) {
			if err != nil {
				toSelf(MQTTConnectionLost{Error: err})
			} else {
				toSelf(MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic), zap.Bool("retain", msg.Retain))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.DeviceStatusRequest:
		state.logger.Debug("mqtt@default DeviceStatusRequest", zap.String("device", msg.DeviceId))
		state.queryDevice(ctx, msg.DeviceId, actorutil.ForRequest(msg).ReplyTo(ctx))
	case deviceStatusReceived:
		state.answerQueries(ctx, msg.Status.DeviceId, domain.DeviceStatusResponse{
			DeviceId: msg.Status.DeviceId,
			Dps:      msg.Status.Dps,
		})
	case deviceQueryFailed:
		state.logger.Error("mqtt@default device query failed", zap.String("device", msg.DeviceId), zap.Error(msg.Error))
		state.answerQueries(ctx, msg.DeviceId, domain.DeviceStatusResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: msg.Error,
			},
			DeviceId: msg.DeviceId,
		})
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	toSelf := actorutil.SelfSender(ctx)
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		toSelf(publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *MQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		actorutil.ReplyWith(ctx, msg.ReplyTo, domain.PublishMessageResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: msg.Error,
			},
		})
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case deviceStatusReceived, deviceQueryFailed:
		// answers must not wait behind a publish
		state.behavior.UnbecomeStacked()
		state.DefaultReceive(ctx)
		state.behavior.BecomeStacked(state.MessagePublishResultReceive)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// queryDevice publishes a status query unless one is already in flight for the device.
func (state *MQTTActor) queryDevice(ctx actor.Context, deviceId string, replyTo *actor.PID) {
	now := time.Now()
	var live []pendingQuery
	for _, q := range state.pending[deviceId] {
		if now.Sub(q.since) < STALE_QUERY_AGE {
			live = append(live, q)
		}
	}
	alreadyQuerying := len(live) > 0
	state.pending[deviceId] = append(live, pendingQuery{replyTo: replyTo, since: now})
	if alreadyQuerying {
		return
	}

	toSelf := actorutil.SelfSender(ctx)
	state.client.Publish(state.client.DeviceTopic(deviceId, mqtt.DEVICE_TOPIC_QUERY), "", 1, false, func(err error) {
		if err != nil {
			toSelf(deviceQueryFailed{DeviceId: deviceId, Error: err})
		}
	}, 5*time.Second)
}

func (state *MQTTActor) answerQueries(ctx actor.Context, deviceId string, resp domain.DeviceStatusResponse) {
	for _, q := range state.pending[deviceId] {
		actorutil.ReplyWith(ctx, q.replyTo, resp)
	}
	delete(state.pending, deviceId)
}

func (state *MQTTActor) publishBridgeDiscovery() error {
	payload, err := json.Marshal(mqtt.BridgeStateDiscoveryMessage(state.client.Topics))
	if err != nil {
		return err
	}
	state.client.Publish(state.client.BridgeDiscoveryTopic(), payload, 0, true, func(error) {}, 1*time.Second)
	return nil
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

// NewTestMQTTActor answers requests without a broker. Device queries are served
// from dps, keyed by device id; unknown devices never answer.
func NewTestMQTTActor(config *config.Config, dps map[string]map[string]any, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
		pending:  map[string][]pendingQuery{},
		dps:      dps,
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.PublishMessageRequest:
		state.mu.Lock()
		state.published = append(state.published, msg)
		state.mu.Unlock()
		actorutil.ReplyWith(ctx, actorutil.ForRequest(msg).ReplyTo(ctx), domain.PublishMessageResponse{})
	case domain.DeviceStatusRequest:
		state.mu.Lock()
		dps, ok := state.dps[msg.DeviceId]
		state.mu.Unlock()
		if ok {
			actorutil.ReplyWith(ctx, actorutil.ForRequest(msg).ReplyTo(ctx), domain.DeviceStatusResponse{
				DeviceId: msg.DeviceId,
				Dps:      dps,
			})
		}
	}
}

// Published returns the messages the test actor accepted, oldest first.
func (state *MQTTActor) Published() []domain.PublishMessageRequest {
	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]domain.PublishMessageRequest(nil), state.published...)
}
