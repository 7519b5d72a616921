package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/tuyalocal2mqtt/internal/adapter/actor"
	"github.com/berfenger/tuyalocal2mqtt/internal/adapter/device"
	"github.com/berfenger/tuyalocal2mqtt/internal/adapter/platform"
	"github.com/berfenger/tuyalocal2mqtt/internal/adapter/scheduler"
	"github.com/berfenger/tuyalocal2mqtt/internal/config"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/actor"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/port"
	"github.com/berfenger/tuyalocal2mqtt/internal/metrics"
	"github.com/berfenger/tuyalocal2mqtt/internal/mqtt"
	"github.com/berfenger/tuyalocal2mqtt/internal/server"
	"github.com/berfenger/tuyalocal2mqtt/internal/util/actorutil"
	"github.com/berfenger/tuyalocal2mqtt/pkg/deviceconfig"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	defer logger.Sync()

	// device config library
	library, err := deviceconfig.DefaultLibrary()
	if err != nil {
		panic(err)
	}
	logger.Info("device configs loaded", zap.Strings("types", library.ConfigTypes()))

	// metrics
	m := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(m, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// retry scheduler
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	retry := scheduler.NewQuartzRetryScheduler(logger)
	retry.Start(schedCtx)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, library, retry, m, mqttActorProvider(cfg, logger),
			adapterProvider(cfg, library, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, registry)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master did not stop cleanly", zap.Error(err))
	}
	retry.Stop()
	stopScheduler()
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => TUYALOCAL_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("TUYALOCAL_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("tuyalocal")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.Inference.TimeoutMillis < 100 {
		return nil, errors.New("config param inference.timeout_millis should be >= 100ms")
	}
	if cfg.Retry.DelayMillis < 1000 {
		return nil, errors.New("config param retry.delay_millis should be >= 1000ms")
	}

	entries, err := config.NormalizeEntries(cfg.Entries)
	if err != nil {
		return nil, err
	}
	cfg.Entries = entries

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func() *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, logger)
	}
}

func adapterProvider(cfg *config.Config, library *deviceconfig.Library, logger *zap.Logger) actor.AdapterProvider {
	topics := mqtt.NewTopics(cfg.MQTT)
	return func(root *pactor.RootContext, mqttActor *pactor.PID) (port.SessionFactory, port.PlatformForwarder) {
		sessions := device.NewMQTTSessionFactory(root, mqttActor, library, topics, cfg.Inference.Timeout(), logger)
		forwarder := platform.NewMQTTForwarder(root, mqttActor, library, topics, 10*time.Second)
		return sessions, forwarder
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "tuyalocal")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("inference.timeout_millis", 5000)
	viper.SetDefault("retry.delay_millis", 60000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	slog.Info("Using", "config", config.Redacted(cfg))
}
