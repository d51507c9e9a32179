package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/victron2mqtt/internal/config"
	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := config.Config{
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "victron",
			HADiscoveryTopic: "ha",
		},
	}
	return CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	assert.Equal("victron/bridge/state", c.BridgeStateTopic())
	assert.Equal("victron/sensor/battery_voltage/state", c.SensorStateTopic(domain.SENSOR_ID_BATTERY_VOLTAGE))
	assert.Equal("victron/binary_sensor/bridge/state", c.BinarySensorStateTopic(domain.SENSOR_ID_BRIDGE_STATE))
	assert.False(c.IsConnected())
}

func TestPayloadFormat(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("10.500", FormatFloat(10.5, 3))
	assert.Equal("123400", FormatFloat(123400, 0))

	payload, err := FormatState(StatePayload{Code: 3, Label: "Bulk"})
	assert.Nil(err)
	assert.JSONEq(`{"code":3,"label":"Bulk"}`, payload)

	// a failed read is flagged so it can be told apart from a real code 0
	payload, err = FormatState(StatePayload{Code: 0, Label: "Ok", ReadFailed: true})
	assert.Nil(err)
	assert.JSONEq(`{"code":0,"label":"Ok","read_failed":true}`, payload)
}

func TestStateSensorDiscovery(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	c := testClient()
	group := domain.UnitGroup{
		Id:     domain.GROUP_ID_VEBUS,
		UnitId: 228,
		Metrics: []domain.MetricSpec{
			{Id: domain.SENSOR_ID_VEBUS_AC_IN_VOLTAGE, Name: "AC input voltage", Kind: domain.AGGREGATION_ROLLING_AVERAGE,
				UnitOfMeasurement: "V", DeviceClass: domain.DEVICE_CLASS_VOLTAGE, StateClass: domain.STATE_CLASS_MEASUREMENT},
			{Id: domain.SENSOR_ID_VEBUS_STATE, Name: "VE.Bus state", Kind: domain.AGGREGATION_ENUMERATED_STATE,
				Table: victron_modbus.VEBusStateTable, DeviceClass: domain.DEVICE_CLASS_ENUM},
		},
	}
	dev := domain.GroupDevice("victron", group)
	sensors := domain.MetricSensors(dev, group)
	require.Len(sensors, 2)

	voltage := GenericSensorToHADiscoveryMessage(c, sensors[0])
	assert.Equal("victron/sensor/vebus_ac_in_voltage/state", voltage.StateTopic)
	assert.Equal("V", voltage.UnitOfMeasurement)
	assert.Empty(voltage.ValueTemplate)
	assert.Equal(dev.Model, voltage.Device.Model)

	state := GenericSensorToHADiscoveryMessage(c, sensors[1])
	assert.Equal(domain.STATE_VALUE_TEMPLATE, state.ValueTemplate)
	assert.Equal(state.StateTopic, state.JsonAttributesTopic)
	assert.Contains(state.Options, "Bulk")
	assert.Contains(state.Options, domain.SENTINEL_LABEL)
	// only the first sensor carries the full device
	assert.Empty(state.Device.Model)
	assert.Equal("ha/sensor/"+dev.Id+"/vebus_state/config", c.HADiscoverySensorTopic(sensors[1]))

	raw, err := json.Marshal(state)
	assert.Nil(err)
	assert.Contains(string(raw), `"value_template":"{{ value_json.label }}"`)
}

func TestBridgeDiscovery(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	bridge := domain.BridgeDevice("victron")
	sensors := domain.BridgeSensors(bridge)
	msg := GenericSensorToHADiscoveryMessage(c, sensors[0])
	assert.Equal(c.BridgeStateTopic(), msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, msg.PayloadOn)
	assert.Equal(MQTT_PAYLOAD_OFFLINE, msg.PayloadOff)
}
