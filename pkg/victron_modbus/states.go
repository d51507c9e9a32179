package victron_modbus

import (
	"sort"
)

// VE.Bus states (register 31)
const (
	VEBusStateOff          = 0
	VEBusStateLowPower     = 1
	VEBusStateFault        = 2
	VEBusStateBulk         = 3
	VEBusStateAbsorption   = 4
	VEBusStateFloat        = 5
	VEBusStateStorage      = 6
	VEBusStateEqualize     = 7
	VEBusStatePassthru     = 8
	VEBusStateInverting    = 9
	VEBusStatePowerAssist  = 10
	VEBusStatePowerSupply  = 11
	VEBusStateUnknownLabel = "Unknown?"
)

// grid loss alarm (register 64)
const (
	GridLossOk           = 0
	GridLossAlert        = 2
	GridLossUnknownCode  = 3
	GridLossUnknownLabel = "Unknown state ?"
)

// ESS battery life states (register 2900)
const (
	BatteryLifeUnused                = 0
	BatteryLifeRestarted             = 1
	BatteryLifeSelfConsumption       = 2
	BatteryLifeSelfConsumptionSoc85  = 3
	BatteryLifeSelfConsumptionSoc100 = 4
	BatteryLifeDischargeDisabled     = 5
	BatteryLifeForceCharge           = 6
	BatteryLifeSustain               = 7
	BatteryLifeKeepCharged           = 9
	BatteryLifeDisabled              = 10
	BatteryLifeDisabledLowSoc        = 11
	BatteryLifeUnknownLabel          = "Unknown?"
)

// EnumerationTable maps discrete register codes to labels.
type EnumerationTable struct {
	name         string
	labels       map[int]string
	unknownLabel string
	// when set, unknown codes are reported with this code instead of the raw one
	unknownCode *int
}

func NewEnumerationTable(name string, labels map[int]string, unknownLabel string) EnumerationTable {
	copied := make(map[int]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return EnumerationTable{
		name:         name,
		labels:       copied,
		unknownLabel: unknownLabel,
	}
}

func (t EnumerationTable) WithUnknownCode(code int) EnumerationTable {
	t.unknownCode = &code
	return t
}

func (t EnumerationTable) Name() string {
	return t.name
}

func (t EnumerationTable) UnknownLabel() string {
	return t.unknownLabel
}

// Lookup resolves code to (code, label). Absent codes resolve to the unknown label.
func (t EnumerationTable) Lookup(code int) (int, string) {
	if label, ok := t.labels[code]; ok {
		return code, label
	}
	if t.unknownCode != nil {
		return *t.unknownCode, t.unknownLabel
	}
	return code, t.unknownLabel
}

// Codes returns the known codes in ascending order.
func (t EnumerationTable) Codes() []int {
	codes := make([]int, 0, len(t.labels))
	for k := range t.labels {
		codes = append(codes, k)
	}
	sort.Ints(codes)
	return codes
}

func (t EnumerationTable) Labels() map[int]string {
	copied := make(map[int]string, len(t.labels))
	for k, v := range t.labels {
		copied[k] = v
	}
	return copied
}

var VEBusStateTable = NewEnumerationTable("vebus_state", map[int]string{
	VEBusStateOff:         "Off",
	VEBusStateLowPower:    "Low Power",
	VEBusStateFault:       "Fault",
	VEBusStateBulk:        "Bulk",
	VEBusStateAbsorption:  "Absorption",
	VEBusStateFloat:       "Float",
	VEBusStateStorage:     "Storage",
	VEBusStateEqualize:    "Equalize",
	VEBusStatePassthru:    "Passthru",
	VEBusStateInverting:   "Inverting",
	VEBusStatePowerAssist: "Power assist",
	VEBusStatePowerSupply: "Power supply",
}, VEBusStateUnknownLabel)

var GridLossAlarmTable = NewEnumerationTable("grid_lost_alarm", map[int]string{
	GridLossOk:    "Ok",
	GridLossAlert: "Alert - Grid Lost",
}, GridLossUnknownLabel).WithUnknownCode(GridLossUnknownCode)

var BatteryLifeStateTable = NewEnumerationTable("battery_life_state", map[int]string{
	BatteryLifeUnused:                "Unused, Battery Life Disabled",
	BatteryLifeRestarted:             "Restarted",
	BatteryLifeSelfConsumption:       "Self-consumption",
	BatteryLifeSelfConsumptionSoc85:  "Self-consumption, SoC exceeds 85%",
	BatteryLifeSelfConsumptionSoc100: "Self-consumption, SoC at 100%",
	BatteryLifeDischargeDisabled:     "Discharge disabled",
	BatteryLifeForceCharge:           "Force Charge",
	BatteryLifeSustain:               "Sustain",
	BatteryLifeKeepCharged:           "Keep batteries charged",
	BatteryLifeDisabled:              "Battery Life disabled",
	BatteryLifeDisabledLowSoc:        "Battery Life disabled (low SoC)",
}, BatteryLifeUnknownLabel)

// TableByName returns one of the built-in tables.
func TableByName(name string) (EnumerationTable, bool) {
	switch name {
	case VEBusStateTable.name:
		return VEBusStateTable, true
	case GridLossAlarmTable.name:
		return GridLossAlarmTable, true
	case BatteryLifeStateTable.name:
		return BatteryLifeStateTable, true
	default:
		return EnumerationTable{}, false
	}
}
