package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"
)

type AggregationKind string

const (
	AGGREGATION_ROLLING_AVERAGE  AggregationKind = "rolling-average"
	AGGREGATION_ROLLING_MAXIMUM  AggregationKind = "rolling-maximum"
	AGGREGATION_ENUMERATED_STATE AggregationKind = "enumerated-state"
	AGGREGATION_RAW_PASS_THROUGH AggregationKind = "raw-pass-through"
)

const (
	DEFAULT_WINDOW_CAPACITY = 30
)

// ParseAggregationKind accepts the canonical names plus the short forms used in config files.
func ParseAggregationKind(s string) (AggregationKind, error) {
	switch s {
	case "avg", "average", string(AGGREGATION_ROLLING_AVERAGE):
		return AGGREGATION_ROLLING_AVERAGE, nil
	case "max", "maximum", string(AGGREGATION_ROLLING_MAXIMUM):
		return AGGREGATION_ROLLING_MAXIMUM, nil
	case "state", "enum", string(AGGREGATION_ENUMERATED_STATE):
		return AGGREGATION_ENUMERATED_STATE, nil
	case "raw", string(AGGREGATION_RAW_PASS_THROUGH):
		return AGGREGATION_RAW_PASS_THROUGH, nil
	default:
		return "", fmt.Errorf("unknown aggregation kind %q", s)
	}
}

func (k AggregationKind) Windowed() bool {
	return k == AGGREGATION_ROLLING_AVERAGE || k == AGGREGATION_ROLLING_MAXIMUM
}

// MetricSpec is the static configuration of one polled register.
type MetricSpec struct {
	Id             string
	Name           string
	Group          string
	UnitId         uint8
	Address        uint16
	Divisor        float64
	Kind           AggregationKind
	WindowCapacity int
	// raw metrics only: multiplier applied to the register value
	Factor int64
	// enumerated metrics only
	Table victron_modbus.EnumerationTable

	UnitOfMeasurement string
	DeviceClass       string
	StateClass        string
}

func (m MetricSpec) Validate() error {
	if m.Id == "" {
		return fmt.Errorf("metric without id at address %d", m.Address)
	}
	if m.Group == "" {
		return fmt.Errorf("metric %s: group required", m.Id)
	}
	switch m.Kind {
	case AGGREGATION_ROLLING_AVERAGE, AGGREGATION_ROLLING_MAXIMUM:
		if m.Divisor == 0 {
			return fmt.Errorf("metric %s: divisor must be non-zero", m.Id)
		}
	case AGGREGATION_RAW_PASS_THROUGH:
		if m.Factor == 0 {
			return fmt.Errorf("metric %s: factor must be non-zero", m.Id)
		}
	case AGGREGATION_ENUMERATED_STATE:
		if m.Table.Name() == "" {
			return fmt.Errorf("metric %s: enumeration table required", m.Id)
		}
	default:
		return fmt.Errorf("metric %s: unknown aggregation kind %q", m.Id, m.Kind)
	}
	return nil
}

// UnitGroup is the set of metrics read through a single connection to one unit id.
type UnitGroup struct {
	Id      string
	UnitId  uint8
	Metrics []MetricSpec
}

// EmittedValue is the per-cycle output of one metric.
type EmittedValue struct {
	MetricId string
	Kind     AggregationKind
	// rolling and raw metrics
	Value float64
	// enumerated metrics
	Code  int
	Label string
	// retained samples after the update (windowed metrics)
	Samples int
	// set when the unit id could not be reached
	Sentinel   bool
	ReadFailed bool
	At         time.Time
}

// Format renders the decimal form handed to the sink for non-enumerated metrics.
func (v EmittedValue) Format() string {
	if v.Sentinel {
		return "0"
	}
	switch v.Kind {
	case AGGREGATION_RAW_PASS_THROUGH:
		return strconv.FormatInt(int64(v.Value), 10)
	case AGGREGATION_ENUMERATED_STATE:
		return strconv.Itoa(v.Code)
	default:
		return strconv.FormatFloat(v.Value, 'f', -1, 64)
	}
}

func (v EmittedValue) String() string {
	if v.Kind == AGGREGATION_ENUMERATED_STATE {
		return fmt.Sprintf("%s=%d(%s)", v.MetricId, v.Code, v.Label)
	}
	return fmt.Sprintf("%s=%s", v.MetricId, v.Format())
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Cycle              uint64
	Started            time.Time
	Duration           time.Duration
	Emitted            int
	ConnectionFailures int
	ReadFailures       int
	FailedUnits        []uint8
	Aborted            bool
}

func (r CycleReport) Healthy() bool {
	return r.ConnectionFailures == 0 && r.ReadFailures == 0 && !r.Aborted
}
