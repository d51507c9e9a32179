package util

import (
	"github.com/berfenger/victron2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Gateway: config.GatewayConfig{
			Host:              "-.-.-.-",
			Port:              502,
			GatewayUnitId:     config.DEFAULT_GATEWAY_UNIT_ID,
			InverterUnitId:    config.DEFAULT_INVERTER_UNIT_ID,
			BatteryUnitId:     config.DEFAULT_BATTERY_UNIT_ID,
			ReadTimeoutMillis: config.DEFAULT_READ_TIMEOUT_MILLIS,
			Simulate:          true,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "victron",
			HADiscoveryEnable: true,
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalMillis: 5000,
			WindowSize:         config.DEFAULT_WINDOW_SIZE,
		},
		Port: 8080,
	}
}
