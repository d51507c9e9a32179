package service

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/core/port"
	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"
	"go.uber.org/zap"
)

// PollCycle owns the catalog and the sample windows of a running bridge.
// Create it once, call Run once per heartbeat, Dispose on shutdown.
// Run must not be called concurrently.
type PollCycle struct {
	groups    []domain.UnitGroup
	connector victron_modbus.Connector
	reader    *victron_modbus.RegisterReader
	windows   map[string]*SampleWindow
	cycles    uint64
	logger    *zap.Logger
	now       func() time.Time
}

func NewPollCycle(groups []domain.UnitGroup, connector victron_modbus.Connector,
	reader *victron_modbus.RegisterReader, logger *zap.Logger) *PollCycle {
	windows := make(map[string]*SampleWindow)
	for _, g := range groups {
		for _, m := range g.Metrics {
			if m.Kind.Windowed() {
				windows[m.Id] = NewSampleWindow(m.WindowCapacity)
			}
		}
	}
	return &PollCycle{
		groups:    groups,
		connector: connector,
		reader:    reader,
		windows:   windows,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *PollCycle) Groups() []domain.UnitGroup {
	return p.groups
}

// Window exposes the sample window of a windowed metric.
func (p *PollCycle) Window(metricId string) (*SampleWindow, bool) {
	w, ok := p.windows[metricId]
	return w, ok
}

// Run polls every group in order, one connection per group, and emits one
// value per metric to sink. Failures are absorbed and counted in the report.
// A cancelled ctx stops the cycle at the next group boundary.
func (p *PollCycle) Run(ctx context.Context, sink port.Sink) domain.CycleReport {
	p.cycles++
	report := domain.CycleReport{
		Cycle:   p.cycles,
		Started: p.now(),
	}

	for _, group := range p.groups {
		if ctx.Err() != nil {
			p.logger.Warn("poll cycle aborted", zap.Uint64("cycle", report.Cycle), zap.Error(ctx.Err()))
			report.Aborted = true
			break
		}
		p.runGroup(group, sink, &report)
	}

	report.Duration = p.now().Sub(report.Started)
	p.logger.Debug("poll cycle done",
		zap.Uint64("cycle", report.Cycle),
		zap.Int("emitted", report.Emitted),
		zap.Int("connection_failures", report.ConnectionFailures),
		zap.Int("read_failures", report.ReadFailures),
		zap.Duration("duration", report.Duration))
	return report
}

func (p *PollCycle) runGroup(group domain.UnitGroup, sink port.Sink, report *domain.CycleReport) {
	conn, err := p.connector.Connect(group.UnitId)
	if err != nil {
		p.logger.Error("cannot connect to unit",
			zap.String("group", group.Id),
			zap.Uint8("unit_id", group.UnitId),
			zap.Error(err))
		report.ConnectionFailures++
		report.FailedUnits = append(report.FailedUnits, group.UnitId)
		for _, m := range group.Metrics {
			p.emit(sink, report, sentinelValue(m, p.now()))
		}
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			p.logger.Warn("cannot close unit connection", zap.Uint8("unit_id", group.UnitId), zap.Error(err))
		}
	}()

	for _, m := range group.Metrics {
		raw, err := p.reader.Read(conn, m.Address)
		readFailed := err != nil
		if readFailed {
			p.logger.Error("register read failed, using 0",
				zap.String("metric", m.Id),
				zap.Uint8("unit_id", group.UnitId),
				zap.Uint16("address", m.Address),
				zap.Bool("decode", errors.Is(err, victron_modbus.ErrDecodeFailure)),
				zap.Error(err))
			report.ReadFailures++
			raw = 0
		}
		value := p.evaluate(m, raw)
		value.ReadFailed = readFailed
		p.logger.Debug("metric evaluated",
			zap.String("metric", m.Id),
			zap.Int16("raw", raw),
			zap.Stringer("value", value))
		p.emit(sink, report, value)
	}
}

func (p *PollCycle) evaluate(m domain.MetricSpec, raw int16) domain.EmittedValue {
	value := domain.EmittedValue{
		MetricId: m.Id,
		Kind:     m.Kind,
		At:       p.now(),
	}
	switch m.Kind {
	case domain.AGGREGATION_ROLLING_AVERAGE, domain.AGGREGATION_ROLLING_MAXIMUM:
		window := p.windows[m.Id]
		window.Update(victron_modbus.Scale(raw, m.Divisor))
		value.Samples = window.Len()
		if m.Kind == domain.AGGREGATION_ROLLING_MAXIMUM {
			value.Value = victron_modbus.Round3(window.Max())
		} else {
			value.Value = victron_modbus.Round3(window.Mean())
		}
	case domain.AGGREGATION_ENUMERATED_STATE:
		value.Code, value.Label = m.Table.Lookup(int(raw))
	case domain.AGGREGATION_RAW_PASS_THROUGH:
		value.Value = float64(int64(raw) * m.Factor)
	}
	return value
}

func sentinelValue(m domain.MetricSpec, at time.Time) domain.EmittedValue {
	value := domain.EmittedValue{
		MetricId: m.Id,
		Kind:     m.Kind,
		Sentinel: true,
		At:       at,
	}
	if m.Kind == domain.AGGREGATION_ENUMERATED_STATE {
		value.Label = domain.SENTINEL_LABEL
	}
	return value
}

func (p *PollCycle) emit(sink port.Sink, report *domain.CycleReport, value domain.EmittedValue) {
	sink.Emit(value)
	report.Emitted++
}

// Dispose drops all window state. The cycle must not be run afterwards.
func (p *PollCycle) Dispose() {
	for _, w := range p.windows {
		w.Clear()
	}
	p.windows = map[string]*SampleWindow{}
	p.groups = nil
}

// ensure interface compliance
var _ port.PollRunner = (*PollCycle)(nil)
