package server

import (
	"net/http"
	"time"

	"github.com/berfenger/victron2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type valueView struct {
	Id         string    `json:"id"`
	Kind       string    `json:"kind"`
	Value      float64   `json:"value"`
	Payload    string    `json:"payload"`
	Code       *int      `json:"code,omitempty"`
	Label      string    `json:"label,omitempty"`
	Samples    int       `json:"samples"`
	Sentinel   bool      `json:"sentinel"`
	ReadFailed bool      `json:"read_failed"`
	At         time.Time `json:"at"`
}

type reportView struct {
	Cycle              uint64    `json:"cycle"`
	Started            time.Time `json:"started"`
	DurationMillis     int64     `json:"duration_millis"`
	Emitted            int       `json:"emitted"`
	ConnectionFailures int       `json:"connection_failures"`
	ReadFailures       int       `json:"read_failures"`
	FailedUnits        []int     `json:"failed_units,omitempty"`
	Aborted            bool      `json:"aborted"`
	Healthy            bool      `json:"healthy"`
}

type valuesView struct {
	Cycles    uint64      `json:"cycles"`
	LastCycle *reportView `json:"last_cycle,omitempty"`
	Values    []valueView `json:"values"`
}

type metricView struct {
	Id          string  `json:"id"`
	Name        string  `json:"name"`
	UnitId      uint8   `json:"unit_id"`
	Address     uint16  `json:"address"`
	Aggregation string  `json:"aggregation"`
	Divisor     float64 `json:"divisor,omitempty"`
	Window      int     `json:"window,omitempty"`
	Factor      int64   `json:"factor,omitempty"`
	Table       string  `json:"table,omitempty"`
	Unit        string  `json:"unit,omitempty"`
}

type groupView struct {
	Id      string       `json:"id"`
	UnitId  uint8        `json:"unit_id"`
	Metrics []metricView `json:"metrics"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/values", s.ValuesHandler)
	e.GET("/api/metrics", s.MetricsHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, s.requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ValuesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetLatestValuesRequest{}, s.requestTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetLatestValuesResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	view := valuesView{
		Cycles: response.Cycles,
		Values: make([]valueView, 0, len(response.Values)),
	}
	if r := response.LastReport; r != nil {
		view.LastCycle = &reportView{
			Cycle:              r.Cycle,
			Started:            r.Started,
			DurationMillis:     r.Duration.Milliseconds(),
			Emitted:            r.Emitted,
			ConnectionFailures: r.ConnectionFailures,
			ReadFailures:       r.ReadFailures,
			Aborted:            r.Aborted,
			Healthy:            r.Healthy(),
		}
		// []uint8 would be encoded as base64
		for _, u := range r.FailedUnits {
			view.LastCycle.FailedUnits = append(view.LastCycle.FailedUnits, int(u))
		}
	}
	for _, v := range response.Values {
		item := valueView{
			Id:         v.MetricId,
			Kind:       string(v.Kind),
			Value:      v.Value,
			Payload:    v.Format(),
			Samples:    v.Samples,
			Sentinel:   v.Sentinel,
			ReadFailed: v.ReadFailed,
			At:         v.At,
		}
		if v.Kind == domain.AGGREGATION_ENUMERATED_STATE {
			code := v.Code
			item.Code = &code
			item.Label = v.Label
		}
		view.Values = append(view.Values, item)
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) MetricsHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetCatalogRequest{}, s.requestTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetCatalogResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	groups := make([]groupView, 0, len(response.Groups))
	for _, g := range response.Groups {
		group := groupView{Id: g.Id, UnitId: g.UnitId}
		for _, m := range g.Metrics {
			metric := metricView{
				Id:          m.Id,
				Name:        m.Name,
				UnitId:      m.UnitId,
				Address:     m.Address,
				Aggregation: string(m.Kind),
				Unit:        m.UnitOfMeasurement,
			}
			switch m.Kind {
			case domain.AGGREGATION_ROLLING_AVERAGE, domain.AGGREGATION_ROLLING_MAXIMUM:
				metric.Divisor = m.Divisor
				metric.Window = m.WindowCapacity
			case domain.AGGREGATION_RAW_PASS_THROUGH:
				metric.Factor = m.Factor
			case domain.AGGREGATION_ENUMERATED_STATE:
				metric.Table = m.Table.Name()
			}
			group.Metrics = append(group.Metrics, metric)
		}
		groups = append(groups, group)
	}
	return c.JSON(http.StatusOK, groups)
}
