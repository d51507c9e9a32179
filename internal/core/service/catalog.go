package service

import (
	"fmt"
	"slices"

	"github.com/berfenger/victron2mqtt/internal/config"
	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/pkg/victron_modbus"
)

func UnitIdsFromConfig(cfg config.GatewayConfig) domain.UnitIds {
	return domain.UnitIds{
		Gateway:      uint8(cfg.GatewayUnitId),
		Inverter:     uint8(cfg.InverterUnitId),
		Battery:      uint8(cfg.BatteryUnitId),
		SolarCharger: uint8(cfg.SolarChargerUnitId),
	}
}

// BuildCatalog merges the built-in metrics with configured overrides and
// groups them by unit id. Groups whose unit id is 0 are left out.
func BuildCatalog(cfg config.Config) ([]domain.UnitGroup, error) {
	windowSize := cfg.MonitorConfig.WindowSize
	if windowSize == 0 {
		windowSize = domain.DEFAULT_WINDOW_CAPACITY
	}

	metrics := domain.DefaultMetrics()
	for i := range metrics {
		if metrics[i].Kind.Windowed() {
			metrics[i].WindowCapacity = windowSize
		}
	}

	for _, override := range cfg.Metrics {
		var err error
		metrics, err = applyOverride(metrics, override, windowSize)
		if err != nil {
			return nil, err
		}
	}

	return GroupMetrics(metrics, UnitIdsFromConfig(cfg.Gateway))
}

// GroupMetrics validates metrics and assigns them to unit groups in poll order.
func GroupMetrics(metrics []domain.MetricSpec, unitIds domain.UnitIds) ([]domain.UnitGroup, error) {
	seen := make(map[string]bool, len(metrics))
	byGroup := make(map[string][]domain.MetricSpec)
	for _, m := range metrics {
		if !slices.Contains(domain.GroupOrder, m.Group) {
			return nil, fmt.Errorf("metric %s: unknown group %q", m.Id, m.Group)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if seen[m.Id] {
			return nil, fmt.Errorf("duplicated metric id %s", m.Id)
		}
		seen[m.Id] = true
		byGroup[m.Group] = append(byGroup[m.Group], m)
	}

	var groups []domain.UnitGroup
	for _, groupId := range domain.GroupOrder {
		unitId := unitIds.ForGroup(groupId)
		if unitId == 0 || len(byGroup[groupId]) == 0 {
			continue
		}
		group := domain.UnitGroup{
			Id:     groupId,
			UnitId: unitId,
		}
		for _, m := range byGroup[groupId] {
			m.UnitId = unitId
			group.Metrics = append(group.Metrics, m)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func applyOverride(metrics []domain.MetricSpec, o config.MetricConfig, windowSize int) ([]domain.MetricSpec, error) {
	if o.Id == "" {
		return nil, fmt.Errorf("metric override without id")
	}

	idx := slices.IndexFunc(metrics, func(m domain.MetricSpec) bool { return m.Id == o.Id })
	if o.Disabled {
		if idx >= 0 {
			metrics = slices.Delete(metrics, idx, idx+1)
		}
		return metrics, nil
	}

	var m domain.MetricSpec
	if idx >= 0 {
		m = metrics[idx]
	} else {
		m = domain.MetricSpec{
			Id:             o.Id,
			Name:           o.Id,
			Divisor:        1,
			Factor:         1,
			WindowCapacity: windowSize,
			StateClass:     domain.STATE_CLASS_MEASUREMENT,
		}
		if o.Aggregation == "" {
			return nil, fmt.Errorf("metric %s: aggregation required", o.Id)
		}
		if o.Address == 0 {
			return nil, fmt.Errorf("metric %s: address required", o.Id)
		}
	}

	if o.Name != "" {
		m.Name = o.Name
	}
	if o.Group != "" {
		m.Group = o.Group
	}
	if o.Address != 0 {
		m.Address = o.Address
	}
	if o.Divisor != 0 {
		m.Divisor = o.Divisor
	}
	if o.Aggregation != "" {
		kind, err := domain.ParseAggregationKind(o.Aggregation)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", o.Id, err)
		}
		m.Kind = kind
		if kind == domain.AGGREGATION_ENUMERATED_STATE {
			m.StateClass = ""
			m.DeviceClass = domain.DEVICE_CLASS_ENUM
		}
	}
	if o.Table != "" {
		table, ok := victron_modbus.TableByName(o.Table)
		if !ok {
			return nil, fmt.Errorf("metric %s: unknown table %q", o.Id, o.Table)
		}
		m.Table = table
	}
	if o.Window != 0 {
		m.WindowCapacity = o.Window
	}
	// metrics switched to a windowed kind inherit the configured window size
	if m.Kind.Windowed() && m.WindowCapacity == 0 {
		m.WindowCapacity = windowSize
	}
	if o.Factor != 0 {
		m.Factor = o.Factor
	}
	if o.Unit != "" {
		m.UnitOfMeasurement = o.Unit
	}
	if o.DeviceClass != "" {
		m.DeviceClass = o.DeviceClass
	}
	if o.StateClass != "" {
		m.StateClass = o.StateClass
	}

	if idx >= 0 {
		metrics[idx] = m
	} else {
		metrics = append(metrics, m)
	}
	return metrics, nil
}
