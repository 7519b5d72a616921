package device

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	adactor "github.com/berfenger/tuyalocal2mqtt/internal/adapter/actor"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/mqtt"
	"github.com/berfenger/tuyalocal2mqtt/internal/util"
	"github.com/berfenger/tuyalocal2mqtt/internal/util/actorutil"
	"github.com/berfenger/tuyalocal2mqtt/pkg/deviceconfig"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSessionFixture(t *testing.T, dps map[string]map[string]any) (*MQTTSessionFactory, *adactor.MQTTActor) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	mqttActor := adactor.NewTestMQTTActor(&cfg, dps, logger)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttActor }))

	lib, err := deviceconfig.DefaultLibrary()
	require.NoError(t, err)

	factory := NewMQTTSessionFactory(as.Root, pid, lib, mqtt.NewTopics(cfg.MQTT), 300*time.Millisecond, logger)
	return factory, mqttActor
}

var conn = domain.ConnectionFields{DeviceId: "dev1", LocalKey: "secret", Host: "192.168.1.20"}

func TestSessionOpenAndClose(t *testing.T) {
	factory, mqttActor := newSessionFixture(t, nil)

	session, err := factory.Open(context.Background(), conn)
	require.NoError(t, err)

	published := mqttActor.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "tuyalocal/device/dev1/connect", published[0].Topic)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(published[0].Payload), &payload))
	assert.Equal(t, map[string]string{"host": "192.168.1.20", "local_key": "secret"}, payload)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	published = mqttActor.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "tuyalocal/device/dev1/disconnect", published[1].Topic)
}

func TestSessionInfersType(t *testing.T) {
	factory, _ := newSessionFixture(t, map[string]map[string]any{
		"dev1": {"1": true, "9": float64(0), "18": float64(120), "19": float64(25), "20": float64(2300)},
	})

	session, err := factory.Open(context.Background(), conn)
	require.NoError(t, err)
	defer session.Close()

	typ, err := session.InferType(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "smartplugv2", typ)
}

func TestSessionUnmatchedStatusInfersNothing(t *testing.T) {
	factory, _ := newSessionFixture(t, map[string]map[string]any{
		"dev1": {"42": "mystery"},
	})

	session, err := factory.Open(context.Background(), conn)
	require.NoError(t, err)
	defer session.Close()

	typ, err := session.InferType(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", typ)
}

func TestSessionSilentDeviceTimesOut(t *testing.T) {
	factory, _ := newSessionFixture(t, nil)

	session, err := factory.Open(context.Background(), conn)
	require.NoError(t, err)
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = session.InferType(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}
