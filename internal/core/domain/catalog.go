package domain

import (
	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"
)

const (
	GROUP_ID_VEBUS         = "vebus"
	GROUP_ID_BATTERY       = "battery"
	GROUP_ID_GATEWAY       = "gateway"
	GROUP_ID_SOLAR_CHARGER = "solar_charger"
)

// GroupOrder is the order in which unit groups are polled.
var GroupOrder = []string{GROUP_ID_VEBUS, GROUP_ID_BATTERY, GROUP_ID_GATEWAY, GROUP_ID_SOLAR_CHARGER}

const (
	SENSOR_ID_BRIDGE_STATE = "bridge"

	SENSOR_ID_VEBUS_AC_IN_VOLTAGE    = "vebus_ac_in_voltage"
	SENSOR_ID_VEBUS_AC_IN_CURRENT    = "vebus_ac_in_current"
	SENSOR_ID_VEBUS_AC_IN_POWER      = "vebus_ac_in_power"
	SENSOR_ID_VEBUS_AC_IN_FREQUENCY  = "vebus_ac_in_frequency"
	SENSOR_ID_VEBUS_AC_OUT_VOLTAGE   = "vebus_ac_out_voltage"
	SENSOR_ID_VEBUS_AC_OUT_CURRENT   = "vebus_ac_out_current"
	SENSOR_ID_VEBUS_AC_OUT_POWER     = "vebus_ac_out_power"
	SENSOR_ID_VEBUS_AC_OUT_FREQUENCY = "vebus_ac_out_frequency"
	SENSOR_ID_VEBUS_GRID_LOST_ALARM  = "vebus_grid_lost_alarm"
	SENSOR_ID_VEBUS_STATE            = "vebus_state"

	SENSOR_ID_BATTERY_VOLTAGE     = "battery_voltage"
	SENSOR_ID_BATTERY_CURRENT     = "battery_current"
	SENSOR_ID_BATTERY_SOC         = "battery_soc"
	SENSOR_ID_BATTERY_TEMPERATURE = "battery_temperature"

	SENSOR_ID_GRID_POWER_L1      = "grid_power_l1"
	SENSOR_ID_CONSUMPTION_L1     = "consumption_l1"
	SENSOR_ID_PV_ON_OUTPUT       = "pv_on_output"
	SENSOR_ID_BATTERY_POWER      = "battery_power"
	SENSOR_ID_BATTERY_LIFE_STATE = "battery_life_state"

	SENSOR_ID_SOLAR_CHARGER_VOLTAGE      = "solar_charger_voltage"
	SENSOR_ID_SOLAR_CHARGER_CURRENT      = "solar_charger_current"
	SENSOR_ID_SOLAR_CHARGER_POWER        = "solar_charger_power"
	SENSOR_ID_SOLAR_CHARGER_TOTAL_ENERGY = "solar_charger_total_energy"
)

const (
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_BATTERY         = "battery"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_ENUM            = "enum"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

// UnitIds holds the configured unit id per group. A zero id disables the group.
type UnitIds struct {
	Gateway      uint8
	Inverter     uint8
	Battery      uint8
	SolarCharger uint8
}

func (u UnitIds) ForGroup(group string) uint8 {
	switch group {
	case GROUP_ID_VEBUS:
		return u.Inverter
	case GROUP_ID_BATTERY:
		return u.Battery
	case GROUP_ID_GATEWAY:
		return u.Gateway
	case GROUP_ID_SOLAR_CHARGER:
		return u.SolarCharger
	default:
		return 0
	}
}

func rolling(id, name, group string, address uint16, divisor float64, unit, deviceClass string) MetricSpec {
	return MetricSpec{
		Id:                id,
		Name:              name,
		Group:             group,
		Address:           address,
		Divisor:           divisor,
		Kind:              AGGREGATION_ROLLING_AVERAGE,
		WindowCapacity:    DEFAULT_WINDOW_CAPACITY,
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
		StateClass:        STATE_CLASS_MEASUREMENT,
	}
}

func enumerated(id, name, group string, address uint16, table victron_modbus.EnumerationTable) MetricSpec {
	return MetricSpec{
		Id:          id,
		Name:        name,
		Group:       group,
		Address:     address,
		Kind:        AGGREGATION_ENUMERATED_STATE,
		Table:       table,
		DeviceClass: DEVICE_CLASS_ENUM,
	}
}

// DefaultMetrics returns the built-in register catalog of a Venus GX installation.
// Divisors are the ones published by the gateway register list, including the
// /0.1 on the VE.Bus power registers.
func DefaultMetrics() []MetricSpec {
	return []MetricSpec{
		// VE.Bus (Multiplus)
		rolling(SENSOR_ID_VEBUS_AC_IN_VOLTAGE, "AC input voltage", GROUP_ID_VEBUS, 3, 10, "V", DEVICE_CLASS_VOLTAGE),
		rolling(SENSOR_ID_VEBUS_AC_IN_CURRENT, "AC input current", GROUP_ID_VEBUS, 6, 10, "A", DEVICE_CLASS_CURRENT),
		rolling(SENSOR_ID_VEBUS_AC_IN_FREQUENCY, "AC input frequency", GROUP_ID_VEBUS, 9, 100, "Hz", DEVICE_CLASS_FREQUENCY),
		rolling(SENSOR_ID_VEBUS_AC_IN_POWER, "AC input power", GROUP_ID_VEBUS, 12, 0.1, "W", DEVICE_CLASS_POWER),
		rolling(SENSOR_ID_VEBUS_AC_OUT_VOLTAGE, "AC output voltage", GROUP_ID_VEBUS, 15, 10, "V", DEVICE_CLASS_VOLTAGE),
		rolling(SENSOR_ID_VEBUS_AC_OUT_CURRENT, "AC output current", GROUP_ID_VEBUS, 18, 10, "A", DEVICE_CLASS_CURRENT),
		rolling(SENSOR_ID_VEBUS_AC_OUT_FREQUENCY, "AC output frequency", GROUP_ID_VEBUS, 21, 100, "Hz", DEVICE_CLASS_FREQUENCY),
		rolling(SENSOR_ID_VEBUS_AC_OUT_POWER, "AC output power", GROUP_ID_VEBUS, 23, 0.1, "W", DEVICE_CLASS_POWER),
		enumerated(SENSOR_ID_VEBUS_STATE, "VE.Bus state", GROUP_ID_VEBUS, 31, victron_modbus.VEBusStateTable),
		enumerated(SENSOR_ID_VEBUS_GRID_LOST_ALARM, "Grid lost alarm", GROUP_ID_VEBUS, 64, victron_modbus.GridLossAlarmTable),

		// Battery monitor
		rolling(SENSOR_ID_BATTERY_VOLTAGE, "Battery voltage", GROUP_ID_BATTERY, 259, 100, "V", DEVICE_CLASS_VOLTAGE),
		rolling(SENSOR_ID_BATTERY_CURRENT, "Battery current", GROUP_ID_BATTERY, 261, 10, "A", DEVICE_CLASS_CURRENT),
		rolling(SENSOR_ID_BATTERY_TEMPERATURE, "Battery temperature", GROUP_ID_BATTERY, 262, 10, "°C", DEVICE_CLASS_TEMPERATURE),
		rolling(SENSOR_ID_BATTERY_SOC, "Battery state of charge", GROUP_ID_BATTERY, 266, 10, "%", DEVICE_CLASS_BATTERY),

		// GX system
		rolling(SENSOR_ID_PV_ON_OUTPUT, "PV on output", GROUP_ID_GATEWAY, 808, 1, "W", DEVICE_CLASS_POWER),
		rolling(SENSOR_ID_CONSUMPTION_L1, "Consumption L1", GROUP_ID_GATEWAY, 817, 1, "W", DEVICE_CLASS_POWER),
		rolling(SENSOR_ID_GRID_POWER_L1, "Grid power L1", GROUP_ID_GATEWAY, 820, 1, "W", DEVICE_CLASS_POWER),
		rolling(SENSOR_ID_BATTERY_POWER, "Battery power", GROUP_ID_GATEWAY, 842, 1, "W", DEVICE_CLASS_POWER),
		enumerated(SENSOR_ID_BATTERY_LIFE_STATE, "ESS battery life state", GROUP_ID_GATEWAY, 2900, victron_modbus.BatteryLifeStateTable),

		// Solar charger
		rolling(SENSOR_ID_SOLAR_CHARGER_VOLTAGE, "PV voltage", GROUP_ID_SOLAR_CHARGER, 776, 100, "V", DEVICE_CLASS_VOLTAGE),
		rolling(SENSOR_ID_SOLAR_CHARGER_CURRENT, "PV current", GROUP_ID_SOLAR_CHARGER, 777, 10, "A", DEVICE_CLASS_CURRENT),
		rolling(SENSOR_ID_SOLAR_CHARGER_POWER, "PV power", GROUP_ID_SOLAR_CHARGER, 789, 10, "W", DEVICE_CLASS_POWER),
		{
			Id:                SENSOR_ID_SOLAR_CHARGER_TOTAL_ENERGY,
			Name:              "PV total energy",
			Group:             GROUP_ID_SOLAR_CHARGER,
			Address:           790,
			Divisor:           1,
			Kind:              AGGREGATION_RAW_PASS_THROUGH,
			Factor:            100,
			UnitOfMeasurement: "Wh",
			DeviceClass:       DEVICE_CLASS_ENERGY,
			StateClass:        STATE_CLASS_TOTAL_INCREASING,
		},
	}
}
