package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	STATE_VALUE_TEMPLATE = "{{ value_json.label }}"
	// label of enumerated metrics whose unit could not be reached
	SENTINEL_LABEL       = "Unavailable"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("victron_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "victron2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Victron bridge %s", md5HashShort(baseTopic)),
	}
}

// GroupDevice describes the physical device behind one unit group.
func GroupDevice(baseTopic string, group UnitGroup) Device {
	var model string
	switch group.Id {
	case GROUP_ID_VEBUS:
		model = "MultiPlus (VE.Bus)"
	case GROUP_ID_BATTERY:
		model = "Battery monitor"
	case GROUP_ID_GATEWAY:
		model = "GX device"
	case GROUP_ID_SOLAR_CHARGER:
		model = "Solar charger (MPPT)"
	default:
		model = group.Id
	}
	hash := md5HashShort(fmt.Sprintf("%s/%s/%d", baseTopic, group.Id, group.UnitId))
	return Device{
		Id:           fmt.Sprintf("victron_%s_%s", group.Id, hash),
		Manufacturer: "Victron Energy",
		Model:        model,
		Name:         fmt.Sprintf("Victron %s %d", model, group.UnitId),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_BRIDGE_STATE,
			SensorType:     SENSOR_TYPE_BINARY,
			Name:           "Bridge state",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
		},
	}
}

// MetricSensors returns one discovery component per metric of the group. Only
// the first sensor carries the full device description.
func MetricSensors(device Device, group UnitGroup) []GenericSensor {
	var sensors []GenericSensor
	for i, m := range group.Metrics {
		dev := device
		if i > 0 {
			dev = IdDevice(device)
		}
		sensors = append(sensors, MetricSensor(dev, m))
	}
	return sensors
}

func MetricSensor(device Device, m MetricSpec) GenericSensor {
	sensor := GenericSensor{
		Device:            device,
		Id:                m.Id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              m.Name,
		UniqueId:          uniqueId(device.Id, m.Id),
		UnitOfMeasurement: m.UnitOfMeasurement,
		StateClass:        m.StateClass,
		DeviceClass:       m.DeviceClass,
	}
	if m.Kind == AGGREGATION_ENUMERATED_STATE {
		sensor.UnitOfMeasurement = ""
		sensor.StateClass = ""
		sensor.ValueTemplate = STATE_VALUE_TEMPLATE
		sensor.JsonAttributes = true
		if sensor.DeviceClass == DEVICE_CLASS_ENUM {
			labels := m.Table.Labels()
			for _, code := range m.Table.Codes() {
				sensor.Options = append(sensor.Options, labels[code])
			}
			sensor.Options = append(sensor.Options, m.Table.UnknownLabel(), SENTINEL_LABEL)
		}
	}
	return sensor
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
