package actor

import (
	"testing"
	"time"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/util"
	"github.com/berfenger/tuyalocal2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	context := as.Root

	mqttActor := NewTestMQTTActor(&cfg, map[string]map[string]any{
		"dev1": {"1": true, "2": float64(24)},
	}, logger)
	props := actor.PropsFromProducer(func() actor.Actor { return mqttActor })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)
	assert.Equal(t, domain.ACTOR_ID_MQTT, resp.Id)

	result, err = context.RequestFuture(pid, domain.DeviceStatusRequest{DeviceId: "dev1"}, 2*time.Second).Result()
	require.NoError(t, err)
	status, ok := result.(domain.DeviceStatusResponse)
	require.True(t, ok)
	assert.Equal(t, "dev1", status.DeviceId)
	assert.Equal(t, true, status.Dps["1"])

	// unknown devices never answer
	_, err = context.RequestFuture(pid, domain.DeviceStatusRequest{DeviceId: "nope"}, 200*time.Millisecond).Result()
	assert.Error(t, err)

	result, err = context.RequestFuture(pid, domain.PublishMessageRequest{
		Topic:   "tuyalocal/device/dev1/connect",
		Payload: "{}",
		Retain:  false,
	}, 2*time.Second).Result()
	require.NoError(t, err)
	pubResp, ok := result.(domain.PublishMessageResponse)
	require.True(t, ok)
	assert.False(t, pubResp.HasResponseError())

	published := mqttActor.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "tuyalocal/device/dev1/connect", published[0].Topic)

	context.Stop(pid)
}
