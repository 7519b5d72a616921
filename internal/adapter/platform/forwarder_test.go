package platform

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

func newForwarderFixture(t *testing.T) (*MQTTForwarder, *adactor.MQTTActor) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	mqttActor := adactor.NewTestMQTTActor(&cfg, nil, logger)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttActor }))

	lib, err := deviceconfig.DefaultLibrary()
	require.NoError(t, err)

	return NewMQTTForwarder(as.Root, pid, lib, mqtt.NewTopics(cfg.MQTT), time.Second), mqttActor
}

func heaterEntry() *domain.ConfigEntry {
	return domain.NewConfigEntry("e1", "Living room", domain.CURRENT_ENTRY_VERSION, map[string]any{
		domain.CONF_DEVICE_ID: "dev1",
		domain.CONF_LOCAL_KEY: "secret",
		domain.CONF_HOST:      "192.168.1.20",
		domain.CONF_TYPE:      "goldair_heater",
	}, map[string]any{"climate": true, "lock": true})
}

func TestForwarderPublishesDiscovery(t *testing.T) {
	forwarder, mqttActor := newForwarderFixture(t)
	entry := heaterEntry()

	require.NoError(t, forwarder.ForwardEntrySetup(context.Background(), entry, domain.PLATFORM_CLIMATE))
	require.NoError(t, forwarder.ForwardEntrySetup(context.Background(), entry, domain.PLATFORM_LOCK))

	published := mqttActor.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "homeassistant/climate/tuyalocal/dev1/config", published[0].Topic)
	assert.True(t, published[0].Retain)

	var climate mqtt.HADiscoveryConfig
	require.NoError(t, json.Unmarshal([]byte(published[0].Payload), &climate))
	assert.Equal(t, "Living room", climate.Name)
	assert.Equal(t, "tuya_dev1_climate", climate.UniqueId)

	var lock mqtt.HADiscoveryConfig
	require.NoError(t, json.Unmarshal([]byte(published[1].Payload), &lock))
	assert.Equal(t, "Child lock", lock.Name)
}

func TestForwarderRejectsUnsupportedPlatform(t *testing.T) {
	forwarder, mqttActor := newForwarderFixture(t)

	err := forwarder.ForwardEntrySetup(context.Background(), heaterEntry(), domain.PLATFORM_FAN)
	assert.Error(t, err)
	assert.Empty(t, mqttActor.Published())
}

func TestForwarderRejectsUnknownType(t *testing.T) {
	forwarder, _ := newForwarderFixture(t)
	entry := heaterEntry()
	entry.Data[domain.CONF_TYPE] = "toaster"

	err := forwarder.ForwardEntrySetup(context.Background(), entry, domain.PLATFORM_CLIMATE)
	assert.ErrorIs(t, err, deviceconfig.ErrConfigNotFound)
}

func TestForwarderUnloadClearsDiscovery(t *testing.T) {
	forwarder, mqttActor := newForwarderFixture(t)

	require.NoError(t, forwarder.ForwardEntryUnload(context.Background(), heaterEntry(), domain.PLATFORM_LOCK))

	published := mqttActor.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "homeassistant/lock/tuyalocal/dev1/config", published[0].Topic)
	assert.Equal(t, "", published[0].Payload)
	assert.True(t, published[0].Retain)
}
