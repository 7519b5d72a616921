package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
	"github.com/berfenger/tuyalocal2mqtt/internal/mqtt"
	"github.com/berfenger/tuyalocal2mqtt/pkg/deviceconfig"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// MQTTSessionFactory opens device sessions through the gateway behind the MQTT actor.
type MQTTSessionFactory struct {
	root    *actor.RootContext
	mqtt    *actor.PID
	library *deviceconfig.Library
	topics  mqtt.Topics
	timeout time.Duration
	logger  *zap.Logger
}

func NewMQTTSessionFactory(root *actor.RootContext, mqttActor *actor.PID, library *deviceconfig.Library, topics mqtt.Topics,
	timeout time.Duration, logger *zap.Logger) *MQTTSessionFactory {
	return &MQTTSessionFactory{
		root:    root,
		mqtt:    mqttActor,
		library: library,
		topics:  topics,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "session")),
	}
}

type connectPayload struct {
	Host     string `json:"host"`
	LocalKey string `json:"local_key"`
}

func (f *MQTTSessionFactory) Open(ctx context.Context, conn domain.ConnectionFields) (port.DeviceSession, error) {
	payload, err := json.Marshal(connectPayload{Host: conn.Host, LocalKey: conn.LocalKey})
	if err != nil {
		return nil, err
	}
	if err := f.publish(ctx, f.topics.DeviceTopic(conn.DeviceId, mqtt.DEVICE_TOPIC_CONNECT), string(payload)); err != nil {
		return nil, fmt.Errorf("connect device %s: %w", conn.DeviceId, err)
	}
	f.logger.Debug("session: opened", zap.String("device", conn.DeviceId))
	return &MQTTSession{factory: f, deviceId: conn.DeviceId}, nil
}

func (f *MQTTSessionFactory) publish(ctx context.Context, topic, payload string) error {
	res, err := f.root.RequestFuture(f.mqtt, domain.PublishMessageRequest{
		Topic:   topic,
		Payload: payload,
	}, f.requestTimeout(ctx)).Result()
	if err != nil {
		return err
	}
	resp, ok := res.(domain.PublishMessageResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T", res)
	}
	return resp.GetResponseError()
}

// requestTimeout is the configured timeout, shortened to the context deadline.
func (f *MQTTSessionFactory) requestTimeout(ctx context.Context) time.Duration {
	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = max(left, time.Millisecond)
		}
	}
	return timeout
}

type MQTTSession struct {
	factory  *MQTTSessionFactory
	deviceId string

	mu     sync.Mutex
	closed bool
}

// InferType matches the data points reported by the device against the config library.
func (s *MQTTSession) InferType(ctx context.Context) (string, error) {
	f := s.factory
	res, err := f.root.RequestFuture(f.mqtt, domain.DeviceStatusRequest{DeviceId: s.deviceId}, f.requestTimeout(ctx)).Result()
	if err != nil {
		return "", fmt.Errorf("query device %s: %w", s.deviceId, err)
	}
	resp, ok := res.(domain.DeviceStatusResponse)
	if !ok {
		return "", fmt.Errorf("unexpected response %T", res)
	}
	if resp.HasResponseError() {
		return "", fmt.Errorf("query device %s: %w", s.deviceId, resp.GetResponseError())
	}

	cfg := f.library.BestMatch(resp.Dps)
	if cfg == nil {
		f.logger.Debug("session: no config matches device", zap.String("device", s.deviceId), zap.Any("dps", resp.Dps))
		return "", nil
	}
	return cfg.ConfigType, nil
}

func (s *MQTTSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	f := s.factory
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.publish(ctx, f.topics.DeviceTopic(s.deviceId, mqtt.DEVICE_TOPIC_DISCONNECT), ""); err != nil {
		return fmt.Errorf("disconnect device %s: %w", s.deviceId, err)
	}
	f.logger.Debug("session: closed", zap.String("device", s.deviceId))
	return nil
}
