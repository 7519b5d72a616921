package config

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

const REDACTED = "*redacted*"

type Config struct {
	LogLevel  zapcore.Level
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Inference InferenceConfig `mapstructure:"inference"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Entries   []EntryConfig   `mapstructure:"entries"`
	Port      uint            `mapstructure:"port"`
	HttpLog   bool            `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host             string
	Port             int
	Username         string
	Password         string
	BaseTopic        string `mapstructure:"base_topic"`
	HADiscoveryTopic string `mapstructure:"ha_discovery_topic"`
}

type InferenceConfig struct {
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

type RetryConfig struct {
	DelayMillis uint32 `mapstructure:"delay_millis"`
}

// EntryConfig is a stored configuration entry as found in the config file.
type EntryConfig struct {
	EntryId string         `mapstructure:"entry_id"`
	Title   string         `mapstructure:"title"`
	Version int            `mapstructure:"version"`
	Data    map[string]any `mapstructure:"data"`
	Options map[string]any `mapstructure:"options"`
}

func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c RetryConfig) Delay() time.Duration {
	return time.Duration(c.DelayMillis) * time.Millisecond
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// NormalizeEntries fills in entry ids, versions and titles and rejects entries
// without a device id or sharing an id.
func NormalizeEntries(entries []EntryConfig) ([]EntryConfig, error) {
	out := make([]EntryConfig, 0, len(entries))
	entryIds := map[string]bool{}
	deviceIds := map[string]bool{}
	for i, e := range entries {
		deviceId := fmt.Sprint(e.Data["device_id"])
		if e.Data["device_id"] == nil || deviceId == "" {
			return nil, fmt.Errorf("entries[%d]: data.device_id is required", i)
		}
		if deviceIds[deviceId] {
			return nil, fmt.Errorf("entries[%d]: device %s configured twice", i, deviceId)
		}
		deviceIds[deviceId] = true

		if e.EntryId == "" {
			e.EntryId = uuid.NewString()
		}
		if entryIds[e.EntryId] {
			return nil, fmt.Errorf("entries[%d]: duplicated entry_id %s", i, e.EntryId)
		}
		entryIds[e.EntryId] = true

		if e.Version <= 0 {
			e.Version = 1
		}
		if e.Title == "" {
			e.Title = deviceId
		}
		e.Data = maps.Clone(e.Data)
		e.Options = maps.Clone(e.Options)
		out = append(out, e)
	}
	return out, nil
}

// Redacted returns a copy of cfg safe to print.
func Redacted(cfg Config) Config {
	cfg.MQTT.Username = REDACTED
	cfg.MQTT.Password = REDACTED
	entries := make([]EntryConfig, len(cfg.Entries))
	for i, e := range cfg.Entries {
		e.Data = maps.Clone(e.Data)
		if _, ok := e.Data["local_key"]; ok {
			e.Data["local_key"] = REDACTED
		}
		entries[i] = e
	}
	cfg.Entries = entries
	return cfg
}
