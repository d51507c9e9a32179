package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/util/actorutil"
	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fakeMaster(healthy bool) actor.ReceiveFunc {
	report := domain.CycleReport{Cycle: 4, Emitted: 2, ConnectionFailures: 1, FailedUnits: []uint8{228}}
	return func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		case domain.GetLatestValuesRequest:
			ctx.Respond(domain.GetLatestValuesResponse{
				Cycles:     4,
				LastReport: &report,
				Values: []domain.EmittedValue{
					{MetricId: domain.SENSOR_ID_BATTERY_VOLTAGE, Kind: domain.AGGREGATION_ROLLING_AVERAGE, Value: 53.21, Samples: 4},
					{MetricId: domain.SENSOR_ID_VEBUS_STATE, Kind: domain.AGGREGATION_ENUMERATED_STATE, Label: domain.SENTINEL_LABEL, Sentinel: true},
				},
			})
		case domain.GetCatalogRequest:
			ctx.Respond(domain.GetCatalogResponse{Groups: []domain.UnitGroup{{
				Id:     domain.GROUP_ID_VEBUS,
				UnitId: 228,
				Metrics: []domain.MetricSpec{
					{Id: domain.SENSOR_ID_VEBUS_AC_IN_POWER, UnitId: 228, Address: 12, Divisor: 0.1, Kind: domain.AGGREGATION_ROLLING_AVERAGE, WindowCapacity: 30, UnitOfMeasurement: "W"},
					{Id: domain.SENSOR_ID_VEBUS_STATE, UnitId: 228, Address: 31, Kind: domain.AGGREGATION_ENUMERATED_STATE, Table: victron_modbus.VEBusStateTable},
				},
			}}})
		}
	}
}

func testServer(t *testing.T, healthy bool) http.Handler {
	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromFunc(fakeMaster(healthy)))
	s := &Server{
		rootContext:    as.Root,
		masterActor:    pid,
		requestTimeout: time.Second,
	}
	return s.RegisterRoutes()
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	assert := assert.New(t)

	rec := get(testServer(t, true), "/healthcheck")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("health_check: OK", rec.Body.String())

	rec = get(testServer(t, false), "/healthcheck")
	assert.Equal(http.StatusServiceUnavailable, rec.Code)
}

func TestValues(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	rec := get(testServer(t, true), "/api/values")
	require.Equal(http.StatusOK, rec.Code)

	var view valuesView
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(uint64(4), view.Cycles)
	require.NotNil(view.LastCycle)
	assert.False(view.LastCycle.Healthy)
	assert.Equal([]int{228}, view.LastCycle.FailedUnits)

	require.Len(view.Values, 2)
	assert.Equal("53.21", view.Values[0].Payload)
	assert.Nil(view.Values[0].Code)
	assert.True(view.Values[1].Sentinel)
	require.NotNil(view.Values[1].Code)
	assert.Equal(0, *view.Values[1].Code)
	assert.Equal(domain.SENTINEL_LABEL, view.Values[1].Label)
}

func TestMetrics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	rec := get(testServer(t, true), "/api/metrics")
	require.Equal(http.StatusOK, rec.Code)

	var groups []groupView
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(groups, 1)
	require.Len(groups[0].Metrics, 2)
	power := groups[0].Metrics[0]
	assert.Equal(0.1, power.Divisor)
	assert.Equal(30, power.Window)
	assert.Equal("rolling-average", power.Aggregation)
	assert.Equal("vebus_state", groups[0].Metrics[1].Table)
}
