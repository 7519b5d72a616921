package mqtt

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/berfenger/tuyalocal2mqtt/internal/config"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
)

const (
	DEVICE_TOPIC_CONNECT    = "connect"
	DEVICE_TOPIC_DISCONNECT = "disconnect"
	DEVICE_TOPIC_QUERY      = "query"
	DEVICE_TOPIC_DPS        = "dps"
)

// Topics maps bridge, device and entity names to MQTT topics.
type Topics struct {
	baseTopic       string
	discoveryTopic  string
	deviceDpsRegexp *regexp.Regexp
}

func NewTopics(cfg config.MQTTConfig) Topics {
	return Topics{
		baseTopic:       cfg.BaseTopic,
		discoveryTopic:  cfg.HADiscoveryTopic,
		deviceDpsRegexp: deviceDpsExtractor(cfg.BaseTopic),
	}
}

func (t Topics) BridgeStateTopic() string {
	return bridgeStateTopic(t.baseTopic)
}

func (t Topics) DeviceTopic(deviceId, kind string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.baseTopic, deviceId, kind)
}

// DeviceDpsWildcard matches the status topic of every device.
func (t Topics) DeviceDpsWildcard() string {
	return fmt.Sprintf("%s/device/+/%s", t.baseTopic, DEVICE_TOPIC_DPS)
}

// DeviceIdFromDpsTopic extracts the device id of a status topic.
func (t Topics) DeviceIdFromDpsTopic(topic string) (string, error) {
	matches := t.deviceDpsRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return "", errors.New("invalid device status topic")
	}
	return matches[0][1], nil
}

func (t Topics) EntityStateTopic(deviceId string, platform domain.Platform) string {
	return fmt.Sprintf("%s/%s/%s/state", t.baseTopic, platform, deviceId)
}

func (t Topics) EntityCommandTopic(deviceId string, platform domain.Platform) string {
	return fmt.Sprintf("%s/%s/%s/set", t.baseTopic, platform, deviceId)
}

func (t Topics) EntityDiscoveryTopic(deviceId string, platform domain.Platform) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discoveryTopic, platform, t.baseTopic, deviceId)
}

func (t Topics) BridgeDiscoveryTopic() string {
	return fmt.Sprintf("%s/binary_sensor/%s/bridge_state/config", t.discoveryTopic, t.baseTopic)
}

func deviceDpsExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/device/([a-zA-Z0-9_-]+)/%s$", regexp.QuoteMeta(baseTopic), DEVICE_TOPIC_DPS))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
