package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/tuyalocal2mqtt/internal/config"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/pkg/deviceconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTopics() Topics {
	return NewTopics(config.MQTTConfig{BaseTopic: "loremTopic", HADiscoveryTopic: "homeassistant"})
}

func TestDeviceDpsTopicParse(t *testing.T) {
	assert := assert.New(t)
	topics := testTopics()

	deviceId, err := topics.DeviceIdFromDpsTopic("loremTopic/device/bf1234abcd/dps")
	assert.NoError(err)
	assert.Equal("bf1234abcd", deviceId, "device extract")
	assert.Equal(topics.DeviceTopic(deviceId, DEVICE_TOPIC_DPS), "loremTopic/device/bf1234abcd/dps")
}

func TestDeviceDpsTopicParseFail(t *testing.T) {
	assert := assert.New(t)
	topics := testTopics()

	_, err := topics.DeviceIdFromDpsTopic("loremTopic/device/bf1234abcd/query")
	assert.Error(err)
	_, err = topics.DeviceIdFromDpsTopic("otherTopic/device/bf1234abcd/dps")
	assert.Error(err)
}

func TestParseDeviceStatusPayload(t *testing.T) {
	status, err := ParseDeviceStatusPayload("dev1", []byte(`{"dps":{"1":true,"2":21}}`))
	require.NoError(t, err)
	assert.Equal(t, "dev1", status.DeviceId)
	assert.Equal(t, true, status.Dps["1"])
	assert.Equal(t, float64(21), status.Dps["2"])

	_, err = ParseDeviceStatusPayload("dev1", []byte(`{"devId":"dev1"}`))
	assert.Error(t, err)

	_, err = ParseDeviceStatusPayload("dev1", []byte(`not json`))
	assert.Error(t, err)
}

func TestEntityDiscoveryMessage(t *testing.T) {
	topics := testTopics()
	lib, err := deviceconfig.DefaultLibrary()
	require.NoError(t, err)
	devCfg, err := lib.Resolve("goldair_heater")
	require.NoError(t, err)

	view := domain.Merge(map[string]any{domain.CONF_DEVICE_ID: "dev1"}, nil, "Bedroom heater")

	primary, _ := devCfg.EntityFor("climate")
	msg := EntityDiscoveryMessage(topics, view, devCfg, primary, domain.PLATFORM_CLIMATE)
	assert.Equal(t, "Bedroom heater", msg.Name)
	assert.Equal(t, "tuya_dev1_climate", msg.UniqueId)
	assert.Equal(t, "loremTopic/climate/dev1/state", msg.StateTopic)
	assert.Equal(t, "loremTopic/climate/dev1/set", msg.CommandTopic)
	assert.Equal(t, "Goldair GPPH heater", msg.Device.Model)
	assert.Equal(t, BRIDGE_DEVICE_ID, msg.Device.ViaDevice)

	lock, _ := devCfg.EntityFor("lock")
	msg = EntityDiscoveryMessage(topics, view, devCfg, lock, domain.PLATFORM_LOCK)
	assert.Equal(t, "Child lock", msg.Name)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"availability_topic":"loremTopic/bridge/state"`)
	assert.Equal(t, "homeassistant/lock/loremTopic/dev1/config", topics.EntityDiscoveryTopic("dev1", domain.PLATFORM_LOCK))
}

func TestBridgeStateDiscovery(t *testing.T) {
	msg := BridgeStateDiscoveryMessage(testTopics())
	assert.Equal(t, "loremTopic/bridge/state", msg.StateTopic)
	assert.Equal(t, MQTT_PAYLOAD_ONLINE, msg.PayloadOn)
	assert.Equal(t, []string{BRIDGE_DEVICE_ID}, msg.Device.Id)
}
