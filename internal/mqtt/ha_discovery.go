package mqtt

import (
	"fmt"

	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/pkg/deviceconfig"

	"github.com/carlmjohnson/versioninfo"
)

const BRIDGE_DEVICE_ID = "tuyalocal2mqtt_bridge"

type HADiscoveryConfig struct {
	Device           HADiscoveryDevice `json:"device"`
	StateTopic       string            `json:"state_topic"`
	CommandTopic     string            `json:"command_topic,omitempty"`
	DeviceClass      string            `json:"device_class,omitempty"`
	AvTopic          string            `json:"availability_topic,omitempty"`
	EntityCategory   string            `json:"entity_category,omitempty"`
	Name             string            `json:"name"`
	UniqueId         string            `json:"unique_id"`
	Platform         string            `json:"platform"`
	EnabledByDefault *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn        string            `json:"payload_on,omitempty"`
	PayloadOff       string            `json:"payload_off,omitempty"`
	Icon             string            `json:"icon,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func BridgeDevice() HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{BRIDGE_DEVICE_ID},
		Manufacturer: "tuyalocal2mqtt",
		Version:      versioninfo.Short(),
		Model:        "Tuya local bridge",
		Name:         "Tuya Local Bridge",
	}
}

func BridgeStateDiscoveryMessage(topics Topics) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:         BridgeDevice(),
		StateTopic:     topics.BridgeStateTopic(),
		DeviceClass:    "connectivity",
		EntityCategory: "diagnostic",
		Name:           "Bridge state",
		UniqueId:       BRIDGE_DEVICE_ID + "_state",
		Platform:       "mqtt",
		PayloadOn:      MQTT_PAYLOAD_ONLINE,
		PayloadOff:     MQTT_PAYLOAD_OFFLINE,
	}
}

// EntityDiscoveryMessage describes the entity of platform for a configured device.
// Primary entities take the device name, secondary ones their own.
func EntityDiscoveryMessage(topics Topics, view domain.EntryView, devCfg *deviceconfig.DeviceConfig, entity deviceconfig.Entity,
	platform domain.Platform) HADiscoveryConfig {
	name := entity.Name
	if name == "" {
		name = view.Name
	}
	return HADiscoveryConfig{
		Device:       entryDevice(view, devCfg),
		StateTopic:   topics.EntityStateTopic(view.DeviceId, platform),
		CommandTopic: topics.EntityCommandTopic(view.DeviceId, platform),
		AvTopic:      topics.BridgeStateTopic(),
		Name:         name,
		UniqueId:     EntityUniqueId(view.DeviceId, platform),
		Platform:     "mqtt",
	}
}

func EntityUniqueId(deviceId string, platform domain.Platform) string {
	return fmt.Sprintf("tuya_%s_%s", deviceId, platform)
}

func entryDevice(view domain.EntryView, devCfg *deviceconfig.DeviceConfig) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{fmt.Sprintf("tuya_%s", view.DeviceId)},
		Manufacturer: "Tuya",
		Model:        devCfg.Name,
		Name:         view.Name,
		ViaDevice:    BRIDGE_DEVICE_ID,
	}
}
