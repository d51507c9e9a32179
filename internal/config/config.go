package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	MAX_UNIT_ID                   = 247
	MIN_POLL_INTERVAL_MILLIS      = 1000
	MIN_READ_TIMEOUT_MILLIS       = 100
	DEFAULT_READ_TIMEOUT_MILLIS   = 2000
	DEFAULT_POLL_INTERVAL_MILLIS  = 10000
	DEFAULT_WINDOW_SIZE           = 30
	DEFAULT_GATEWAY_UNIT_ID       = 100
	DEFAULT_INVERTER_UNIT_ID      = 228
	DEFAULT_BATTERY_UNIT_ID       = 225
	DEFAULT_SOLAR_CHARGER_UNIT_ID = 0
)

var topicRegexp = regexp.MustCompile("^[a-z0-9_]+$")

type Config struct {
	LogLevel      zapcore.Level
	Debug         bool           `mapstructure:"debug"`
	Gateway       GatewayConfig  `mapstructure:"gateway"`
	MQTT          MQTTConfig     `mapstructure:"mqtt"`
	MonitorConfig MonitorConfig  `mapstructure:"monitor"`
	Metrics       []MetricConfig `mapstructure:"metrics"`
	Port          uint           `mapstructure:"port"`
	HttpLog       bool           `mapstructure:"http_log"`
}

type GatewayConfig struct {
	Host               string
	Port               uint
	GatewayUnitId      uint `mapstructure:"gateway_unit_id"`
	InverterUnitId     uint `mapstructure:"inverter_unit_id"`
	BatteryUnitId      uint `mapstructure:"battery_unit_id"`
	SolarChargerUnitId uint `mapstructure:"solar_charger_unit_id"`
	ReadTimeoutMillis  uint `mapstructure:"read_timeout_millis"`
	Simulate           bool `mapstructure:"simulate"`
}

func (g GatewayConfig) ReadTimeout() time.Duration {
	return time.Duration(g.ReadTimeoutMillis) * time.Millisecond
}

type MonitorConfig struct {
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
	WindowSize         int    `mapstructure:"window_size"`
}

func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMillis) * time.Millisecond
}

// MetricConfig overrides a built-in metric (matched by id) or adds a new one.
// Zero values keep the built-in setting.
type MetricConfig struct {
	Id          string
	Name        string
	Group       string
	Address     uint16
	Divisor     float64
	Aggregation string
	Table       string
	Window      int
	Factor      int64
	Unit        string
	DeviceClass string `mapstructure:"device_class"`
	StateClass  string `mapstructure:"state_class"`
	Disabled    bool
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	if !topicRegexp.MatchString(lowerBaseTopic) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks ranges and normalizes topics in place.
func (c *Config) Validate() error {
	if c.Gateway.Host == "" && !c.Gateway.Simulate {
		return errors.New("gateway.host is required")
	}
	if c.Gateway.Port == 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	if c.Gateway.ReadTimeoutMillis < MIN_READ_TIMEOUT_MILLIS {
		return fmt.Errorf("gateway.read_timeout_millis must be >= %d", MIN_READ_TIMEOUT_MILLIS)
	}
	if c.MonitorConfig.PollIntervalMillis < MIN_POLL_INTERVAL_MILLIS {
		return fmt.Errorf("monitor.poll_interval_millis must be >= %d", MIN_POLL_INTERVAL_MILLIS)
	}
	if err := c.validateUnitIds(); err != nil {
		return err
	}

	baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return fmt.Errorf("mqtt.base_topic: %w", err)
	}
	c.MQTT.BaseTopic = baseTopic
	if c.MQTT.HADiscoveryEnable {
		discoveryTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
		if err != nil {
			return fmt.Errorf("mqtt.ha_discovery_topic: %w", err)
		}
		c.MQTT.HADiscoveryTopic = discoveryTopic
	}
	return nil
}

func (c *Config) validateUnitIds() error {
	ids := map[string]uint{
		"gateway.gateway_unit_id":       c.Gateway.GatewayUnitId,
		"gateway.inverter_unit_id":      c.Gateway.InverterUnitId,
		"gateway.battery_unit_id":       c.Gateway.BatteryUnitId,
		"gateway.solar_charger_unit_id": c.Gateway.SolarChargerUnitId,
	}
	seen := make(map[uint]string)
	for _, key := range []string{"gateway.gateway_unit_id", "gateway.inverter_unit_id",
		"gateway.battery_unit_id", "gateway.solar_charger_unit_id"} {
		id := ids[key]
		if id > MAX_UNIT_ID {
			return fmt.Errorf("%s out of range: %d", key, id)
		}
		if id == 0 {
			// disabled group
			continue
		}
		if other, ok := seen[id]; ok {
			return fmt.Errorf("%s and %s share unit id %d", other, key, id)
		}
		seen[id] = key
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.MQTT.Password != "" {
		c.MQTT.Password = "********"
	}
	c.Metrics = append([]MetricConfig{}, c.Metrics...)
	return c
}
