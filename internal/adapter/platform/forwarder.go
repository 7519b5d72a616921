package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
	"github.com/berfenger/tuyalocal2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
)

// MQTTForwarder registers entities through Home Assistant MQTT discovery.
type MQTTForwarder struct {
	root     *actor.RootContext
	mqtt     *actor.PID
	resolver port.TypeResolver
	topics   mqtt.Topics
	timeout  time.Duration
}

func NewMQTTForwarder(root *actor.RootContext, mqttActor *actor.PID, resolver port.TypeResolver, topics mqtt.Topics,
	timeout time.Duration) *MQTTForwarder {
	return &MQTTForwarder{
		root:     root,
		mqtt:     mqttActor,
		resolver: resolver,
		topics:   topics,
		timeout:  timeout,
	}
}

func (f *MQTTForwarder) ForwardEntrySetup(ctx context.Context, entry *domain.ConfigEntry, platform domain.Platform) error {
	view := entry.View()
	devCfg, err := f.resolver.Resolve(view.Type)
	if err != nil {
		return err
	}
	entity, ok := devCfg.EntityFor(platform.String())
	if !ok {
		return fmt.Errorf("%s does not support platform %s", devCfg.ConfigType, platform)
	}

	payload, err := json.Marshal(mqtt.EntityDiscoveryMessage(f.topics, view, devCfg, entity, platform))
	if err != nil {
		return err
	}
	return f.publish(f.topics.EntityDiscoveryTopic(view.DeviceId, platform), string(payload))
}

// ForwardEntryUnload clears the retained discovery config, which removes the entity.
func (f *MQTTForwarder) ForwardEntryUnload(ctx context.Context, entry *domain.ConfigEntry, platform domain.Platform) error {
	return f.publish(f.topics.EntityDiscoveryTopic(entry.DeviceId(), platform), "")
}

func (f *MQTTForwarder) publish(topic, payload string) error {
	res, err := f.root.RequestFuture(f.mqtt, domain.PublishMessageRequest{
		Topic:   topic,
		Payload: payload,
		Retain:  true,
	}, f.timeout).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	resp, ok := res.(domain.PublishMessageResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T", res)
	}
	return resp.GetResponseError()
}
