package service

import (
	"context"
	"slices"
	"testing"

	"github.com/berfenger/victron2mqtt/internal/config"
	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	GATEWAY_UNIT  = 100
	BATTERY_UNIT  = 225
	INVERTER_UNIT = 228
)

var testUnitIds = domain.UnitIds{
	Gateway:  GATEWAY_UNIT,
	Inverter: INVERTER_UNIT,
	Battery:  BATTERY_UNIT,
}

func newTestCycle(t *testing.T, metrics []domain.MetricSpec, connector victron_modbus.Connector) *PollCycle {
	groups, err := GroupMetrics(metrics, testUnitIds)
	require.NoError(t, err)
	logger := zap.Must(zap.NewDevelopment())
	return NewPollCycle(groups, connector, victron_modbus.NewRegisterReader(victron_modbus.DefaultMaxAttempts, logger), logger)
}

func TestRollingAverageAcrossCycles(t *testing.T) {
	assert := assert.New(t)

	connector := victron_modbus.NewTestConnector()
	connector.SetSequence(BATTERY_UNIT, 776, 1000, 1100, 1200)

	cycle := newTestCycle(t, []domain.MetricSpec{{
		Id:             "pv_voltage",
		Group:          domain.GROUP_ID_BATTERY,
		Address:        776,
		Divisor:        100,
		Kind:           domain.AGGREGATION_ROLLING_AVERAGE,
		WindowCapacity: 3,
	}}, connector)

	var means []float64
	for i := 0; i < 3; i++ {
		sink := &BufferSink{}
		report := cycle.Run(context.Background(), sink)
		assert.Equal(1, report.Emitted)
		assert.True(report.Healthy())
		means = append(means, sink.Values()[0].Value)
	}
	assert.Equal([]float64{10.0, 10.5, 11.0}, means)
	assert.Equal(3, connector.Connections())
	assert.Equal(1, connector.MaxOpenConnections())
	assert.Equal(0, connector.OpenConnections())
}

func TestConnectionFailureIsolatedToGroup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	connector := victron_modbus.CreateSimulatedConnector(GATEWAY_UNIT, INVERTER_UNIT, BATTERY_UNIT, 0)
	connector.SetUnreachable(INVERTER_UNIT, true)

	cycle := newTestCycle(t, domain.DefaultMetrics(), connector)
	sink := &BufferSink{}
	report := cycle.Run(context.Background(), sink)

	assert.Equal(1, report.ConnectionFailures)
	assert.Equal([]uint8{INVERTER_UNIT}, report.FailedUnits)
	assert.Equal(0, report.ReadFailures)

	values := sink.ById()
	require.Len(values, report.Emitted)

	// inverter group: sentinels, windows untouched
	acIn := values[domain.SENSOR_ID_VEBUS_AC_IN_VOLTAGE]
	assert.True(acIn.Sentinel)
	assert.Equal("0", acIn.Format())
	state := values[domain.SENSOR_ID_VEBUS_STATE]
	assert.True(state.Sentinel)
	assert.Equal(domain.SENTINEL_LABEL, state.Label)
	w, ok := cycle.Window(domain.SENSOR_ID_VEBUS_AC_IN_VOLTAGE)
	require.True(ok)
	assert.Equal(0, w.Len())

	// battery and gateway groups still emitted
	assert.False(values[domain.SENSOR_ID_BATTERY_VOLTAGE].Sentinel)
	assert.Equal(53.21, values[domain.SENSOR_ID_BATTERY_VOLTAGE].Value)
	assert.Equal(-8.4, values[domain.SENSOR_ID_BATTERY_CURRENT].Value)
	assert.Equal(-180.0, values[domain.SENSOR_ID_GRID_POWER_L1].Value)
	lifeState := values[domain.SENSOR_ID_BATTERY_LIFE_STATE]
	assert.Equal(victron_modbus.BatteryLifeSelfConsumption, lifeState.Code)
	assert.Equal("Self-consumption", lifeState.Label)

	assert.Equal([]uint8{BATTERY_UNIT, GATEWAY_UNIT}, connector.OpenedUnits())
}

func TestReadFailurePushesZero(t *testing.T) {
	assert := assert.New(t)

	connector := victron_modbus.NewTestConnector()
	connector.SetRegister(GATEWAY_UNIT, 820, 300)

	cycle := newTestCycle(t, []domain.MetricSpec{{
		Id:             "grid",
		Group:          domain.GROUP_ID_GATEWAY,
		Address:        820,
		Divisor:        1,
		Kind:           domain.AGGREGATION_ROLLING_AVERAGE,
		WindowCapacity: 30,
	}}, connector)

	sink := &BufferSink{}
	cycle.Run(context.Background(), sink)
	assert.Equal(300.0, sink.Values()[0].Value)

	// one failure is absorbed by the retry
	connector.FailReads(GATEWAY_UNIT, 820, 1)
	sink.Reset()
	report := cycle.Run(context.Background(), sink)
	assert.Equal(0, report.ReadFailures)
	assert.Equal(300.0, sink.Values()[0].Value)

	// two failures push a zero sample
	connector.FailReads(GATEWAY_UNIT, 820, 2)
	sink.Reset()
	report = cycle.Run(context.Background(), sink)
	assert.Equal(1, report.ReadFailures)
	value := sink.Values()[0]
	assert.True(value.ReadFailed)
	assert.False(value.Sentinel)
	assert.Equal(3, value.Samples)
	assert.Equal(200.0, value.Value)
}

func TestEnumeratedAndRawMetrics(t *testing.T) {
	assert := assert.New(t)

	connector := victron_modbus.NewTestConnector()
	connector.SetSequence(INVERTER_UNIT, 31, 3, 99)
	connector.SetRegister(INVERTER_UNIT, 64, 1)
	connector.SetRegister(BATTERY_UNIT, 790, 1234)
	connector.SetRegister(BATTERY_UNIT, 12, 41)

	cycle := newTestCycle(t, []domain.MetricSpec{
		{Id: "state", Group: domain.GROUP_ID_VEBUS, Address: 31, Kind: domain.AGGREGATION_ENUMERATED_STATE, Table: victron_modbus.VEBusStateTable},
		{Id: "grid_lost", Group: domain.GROUP_ID_VEBUS, Address: 64, Kind: domain.AGGREGATION_ENUMERATED_STATE, Table: victron_modbus.GridLossAlarmTable},
		{Id: "energy", Group: domain.GROUP_ID_BATTERY, Address: 790, Kind: domain.AGGREGATION_RAW_PASS_THROUGH, Factor: 100},
		{Id: "power", Group: domain.GROUP_ID_BATTERY, Address: 12, Divisor: 0.1, Kind: domain.AGGREGATION_ROLLING_AVERAGE, WindowCapacity: 30},
	}, connector)

	sink := &BufferSink{}
	cycle.Run(context.Background(), sink)
	values := sink.ById()
	assert.Equal(3, values["state"].Code)
	assert.Equal("Bulk", values["state"].Label)
	assert.Equal(victron_modbus.GridLossUnknownCode, values["grid_lost"].Code)
	assert.Equal(victron_modbus.GridLossUnknownLabel, values["grid_lost"].Label)
	assert.Equal("123400", values["energy"].Format())
	assert.Equal(0, values["energy"].Samples)
	assert.Equal("410", values["power"].Format())

	sink.Reset()
	cycle.Run(context.Background(), sink)
	values = sink.ById()
	assert.Equal(99, values["state"].Code)
	assert.Equal(victron_modbus.VEBusStateUnknownLabel, values["state"].Label)
}

func TestCancelledCycleStopsAtGroupBoundary(t *testing.T) {
	assert := assert.New(t)

	connector := victron_modbus.CreateSimulatedConnector(GATEWAY_UNIT, INVERTER_UNIT, BATTERY_UNIT, 0)
	cycle := newTestCycle(t, domain.DefaultMetrics(), connector)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &BufferSink{}
	report := cycle.Run(ctx, sink)
	assert.True(report.Aborted)
	assert.Equal(0, report.Emitted)
	assert.Equal(0, connector.Connections())
}

func TestDispose(t *testing.T) {
	assert := assert.New(t)

	connector := victron_modbus.CreateSimulatedConnector(GATEWAY_UNIT, INVERTER_UNIT, BATTERY_UNIT, 0)
	cycle := newTestCycle(t, domain.DefaultMetrics(), connector)
	cycle.Run(context.Background(), &BufferSink{})
	cycle.Dispose()

	_, ok := cycle.Window(domain.SENSOR_ID_BATTERY_VOLTAGE)
	assert.False(ok)
	assert.Empty(cycle.Groups())
}

func TestBuildCatalog(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg := config.Config{
		Gateway: config.GatewayConfig{
			GatewayUnitId:  100,
			InverterUnitId: 228,
			BatteryUnitId:  225,
		},
		MonitorConfig: config.MonitorConfig{WindowSize: 10},
		Metrics: []config.MetricConfig{
			{Id: domain.SENSOR_ID_BATTERY_SOC, Aggregation: "max", Window: 5},
			{Id: domain.SENSOR_ID_VEBUS_AC_IN_CURRENT, Disabled: true},
			{Id: "battery_midpoint", Group: domain.GROUP_ID_BATTERY, Address: 264, Divisor: 100, Aggregation: "avg", Unit: "V"},
			{Id: domain.SENSOR_ID_VEBUS_STATE, Aggregation: "avg", Divisor: 1},
		},
	}

	groups, err := BuildCatalog(cfg)
	require.NoError(err)
	// solar charger disabled by default
	require.Len(groups, 3)
	assert.Equal(domain.GROUP_ID_VEBUS, groups[0].Id)
	assert.Equal(uint8(228), groups[0].UnitId)
	assert.Equal(domain.GROUP_ID_BATTERY, groups[1].Id)
	assert.Equal(domain.GROUP_ID_GATEWAY, groups[2].Id)

	for _, m := range groups[0].Metrics {
		assert.NotEqual(domain.SENSOR_ID_VEBUS_AC_IN_CURRENT, m.Id)
		assert.Equal(uint8(228), m.UnitId)
	}

	vebusState := groups[0].Metrics[slices.IndexFunc(groups[0].Metrics, func(m domain.MetricSpec) bool {
		return m.Id == domain.SENSOR_ID_VEBUS_STATE
	})]
	assert.Equal(domain.AGGREGATION_ROLLING_AVERAGE, vebusState.Kind)
	assert.Equal(10, vebusState.WindowCapacity)

	byId := map[string]domain.MetricSpec{}
	for _, m := range groups[1].Metrics {
		byId[m.Id] = m
	}
	assert.Equal(domain.AGGREGATION_ROLLING_MAXIMUM, byId[domain.SENSOR_ID_BATTERY_SOC].Kind)
	assert.Equal(5, byId[domain.SENSOR_ID_BATTERY_SOC].WindowCapacity)
	assert.Equal(10, byId[domain.SENSOR_ID_BATTERY_VOLTAGE].WindowCapacity)
	assert.Equal(uint16(264), byId["battery_midpoint"].Address)
	assert.Equal(10, byId["battery_midpoint"].WindowCapacity)
}

func TestBuildCatalogRejectsInvalidOverrides(t *testing.T) {
	assert := assert.New(t)

	base := config.Config{Gateway: config.GatewayConfig{GatewayUnitId: 100, InverterUnitId: 228, BatteryUnitId: 225}}

	cases := [][]config.MetricConfig{
		{{Id: "x", Group: "nowhere", Address: 1, Aggregation: "avg"}},
		{{Id: "x", Group: domain.GROUP_ID_GATEWAY, Address: 1, Aggregation: "median"}},
		{{Id: "x", Group: domain.GROUP_ID_GATEWAY, Aggregation: "avg"}},
		{{Id: "x", Group: domain.GROUP_ID_GATEWAY, Address: 1, Aggregation: "state"}},
		{{Id: "x", Group: domain.GROUP_ID_GATEWAY, Address: 1, Aggregation: "state", Table: "unknown"}},
		{{Id: "", Address: 1}},
	}
	for _, overrides := range cases {
		cfg := base
		cfg.Metrics = overrides
		_, err := BuildCatalog(cfg)
		assert.Error(err, "%+v", overrides)
	}
}
