package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/victron2mqtt/internal/adapter/actor"
	"github.com/berfenger/victron2mqtt/internal/config"
	"github.com/berfenger/victron2mqtt/internal/core/actor"
	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/core/port"
	"github.com/berfenger/victron2mqtt/internal/core/service"
	"github.com/berfenger/victron2mqtt/internal/heartbeat"
	"github.com/berfenger/victron2mqtt/internal/server"
	"github.com/berfenger/victron2mqtt/internal/util/actorutil"
	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	_ "github.com/joho/godotenv/autoload"
	"github.com/lmittmann/tint"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func gracefulShutdown(apiServer *http.Server, logger *zap.Logger, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// bootstrap logger until the configured one exists
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.DateTime})))

	// load and validate config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("using config", zap.Any("config", cfg.Redacted()))

	groups, err := service.BuildCatalog(*cfg)
	if err != nil {
		logger.Error("invalid metric catalog", zap.Error(err))
		os.Exit(1)
	}
	dumpCatalog(groups, logger)

	connector, err := createConnector(cfg, logger)
	if err != nil {
		logger.Error("cannot create modbus connector", zap.Error(err))
		os.Exit(1)
	}
	reader := victron_modbus.NewRegisterReader(victron_modbus.DefaultMaxAttempts, logger)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, func() port.PollRunner {
			return service.NewPollCycle(groups, connector, reader, logger)
		}, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Error("cannot spawn master actor", zap.Error(err))
		os.Exit(1)
	}

	// heartbeat: one poll tick per interval, the first one right away
	hb := heartbeat.New(logger)
	hbCtx, hbCancel := context.WithCancel(context.Background())
	defer hbCancel()
	root.Send(pid, domain.PollTickRequest{})
	err = hb.Start(hbCtx, cfg.MonitorConfig.PollInterval(), func() {
		root.Send(pid, domain.PollTickRequest{})
	})
	if err != nil {
		logger.Error("cannot start heartbeat", zap.Error(err))
		os.Exit(1)
	}

	server := server.NewServer(*cfg, root, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, logger, done)

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done

	hb.Stop()
	if err := root.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master actor did not stop cleanly", zap.Error(err))
	}
	as.Shutdown()
	logger.Info("graceful shutdown complete")
}

func initConfig() (*config.Config, error) {

	// alias PORT => VICTRON2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("VICTRON2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("victron2mqtt")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = parseLogLevel(viper.GetString("log_level"))
	if cfg.Debug {
		cfg.LogLevel = zap.DebugLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "trace", "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func createConnector(cfg *config.Config, logger *zap.Logger) (victron_modbus.Connector, error) {
	gw := cfg.Gateway
	if gw.Simulate {
		logger.Warn("gateway simulation enabled, no device will be contacted")
		return victron_modbus.CreateSimulatedConnector(uint8(gw.GatewayUnitId), uint8(gw.InverterUnitId),
			uint8(gw.BatteryUnitId), uint8(gw.SolarChargerUnitId)), nil
	}
	connector, err := victron_modbus.CreateTCPConnector(gw.Host, gw.Port, gw.ReadTimeout(), logger, nil)
	if err != nil {
		return nil, err
	}
	return connector, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func dumpCatalog(groups []domain.UnitGroup, logger *zap.Logger) {
	for _, g := range groups {
		for _, m := range g.Metrics {
			logger.Debug("metric",
				zap.String("group", g.Id),
				zap.Uint8("unit_id", g.UnitId),
				zap.String("id", m.Id),
				zap.Uint16("address", m.Address),
				zap.String("aggregation", string(m.Kind)),
				zap.Float64("divisor", m.Divisor),
				zap.Int("window", m.WindowCapacity))
		}
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("debug", false)
	viper.SetDefault("gateway.host", "")
	viper.SetDefault("gateway.port", 502)
	viper.SetDefault("gateway.gateway_unit_id", config.DEFAULT_GATEWAY_UNIT_ID)
	viper.SetDefault("gateway.inverter_unit_id", config.DEFAULT_INVERTER_UNIT_ID)
	viper.SetDefault("gateway.battery_unit_id", config.DEFAULT_BATTERY_UNIT_ID)
	viper.SetDefault("gateway.solar_charger_unit_id", config.DEFAULT_SOLAR_CHARGER_UNIT_ID)
	viper.SetDefault("gateway.read_timeout_millis", config.DEFAULT_READ_TIMEOUT_MILLIS)
	viper.SetDefault("gateway.simulate", false)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "victron")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("monitor.poll_interval_millis", config.DEFAULT_POLL_INTERVAL_MILLIS)
	viper.SetDefault("monitor.window_size", config.DEFAULT_WINDOW_SIZE)
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}
