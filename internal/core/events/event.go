package events

import (
	. "github.com/berfenger/victron2mqtt/internal/core/domain"
)

// EmittedValueToUpdateEvent maps a cycle value to the sensor event published on MQTT.
func EmittedValueToUpdateEvent(value EmittedValue) SensorUpdateEvent {
	switch value.Kind {
	case AGGREGATION_ENUMERATED_STATE:
		return StateSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: value.MetricId,
			},
			Code:       value.Code,
			Label:      value.Label,
			ReadFailed: value.ReadFailed,
		}
	case AGGREGATION_RAW_PASS_THROUGH:
		return FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: value.MetricId,
			},
			Value:    value.Value,
			Decimals: 0,
		}
	default:
		return FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: value.MetricId,
			},
			Value:    value.Value,
			Decimals: 3,
		}
	}
}

func EmittedValuesToUpdateEvents(values []EmittedValue) []any {
	var events []any
	for _, v := range values {
		events = append(events, EmittedValueToUpdateEvent(v))
	}
	return events
}

func BridgeOnlineUpdateEvent(online bool) any {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_STATE,
		},
		Value: online,
	}
}
