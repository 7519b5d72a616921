package util

import (
	"github.com/berfenger/tuyalocal2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "tuyalocal",
			HADiscoveryTopic: "homeassistant",
		},
		Inference: config.InferenceConfig{
			TimeoutMillis: 1000,
		},
		Retry: config.RetryConfig{
			DelayMillis: 60000,
		},
		Port: 8080,
	}
}
