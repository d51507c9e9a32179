package victron_modbus

import (
	"errors"
	"fmt"
	"sync"
)

var errScriptedFailure = errors.New("scripted failure")

type registerKey struct {
	unitId  uint8
	address uint16
}

// TestConnector serves scripted register words without hardware.
// Registers that were never set read as zero.
type TestConnector struct {
	mu          sync.Mutex
	registers   map[registerKey]int16
	sequences   map[registerKey][]int16
	failReads   map[registerKey]int
	malformed   map[registerKey]int
	unreachable map[uint8]bool

	connections        int
	reads              int
	openConnections    int
	maxOpenConnections int
	openUnits          []uint8
}

func NewTestConnector() *TestConnector {
	return &TestConnector{
		registers:   make(map[registerKey]int16),
		sequences:   make(map[registerKey][]int16),
		failReads:   make(map[registerKey]int),
		malformed:   make(map[registerKey]int),
		unreachable: make(map[uint8]bool),
	}
}

func (c *TestConnector) SetRegister(unitId uint8, address uint16, value int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registers[registerKey{unitId, address}] = value
}

// SetSequence queues values returned by successive reads. Once drained, the
// last value sticks.
func (c *TestConnector) SetSequence(unitId uint8, address uint16, values ...int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := registerKey{unitId, address}
	c.sequences[key] = append([]int16{}, values...)
	if len(values) > 0 {
		c.registers[key] = values[len(values)-1]
	}
}

// FailReads makes the next n reads of the register fail at transport level.
func (c *TestConnector) FailReads(unitId uint8, address uint16, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failReads[registerKey{unitId, address}] = n
}

// MalformReads makes the next n reads of the register return a 1-byte payload.
func (c *TestConnector) MalformReads(unitId uint8, address uint16, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed[registerKey{unitId, address}] = n
}

func (c *TestConnector) SetUnreachable(unitId uint8, unreachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unreachable[unitId] = unreachable
}

func (c *TestConnector) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

func (c *TestConnector) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *TestConnector) OpenConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openConnections
}

func (c *TestConnector) MaxOpenConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxOpenConnections
}

// OpenedUnits returns unit ids in the order they were connected.
func (c *TestConnector) OpenedUnits() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint8{}, c.openUnits...)
}

func (c *TestConnector) Connect(unitId uint8) (UnitConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unreachable[unitId] {
		return nil, fmt.Errorf("%w: unit %d: %w", ErrConnectionFailure, unitId, errScriptedFailure)
	}
	c.connections++
	c.openConnections++
	if c.openConnections > c.maxOpenConnections {
		c.maxOpenConnections = c.openConnections
	}
	c.openUnits = append(c.openUnits, unitId)
	return &testUnitConnection{parent: c, unitId: unitId}, nil
}

func (c *TestConnector) read(unitId uint8, address uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	key := registerKey{unitId, address}
	if n := c.failReads[key]; n > 0 {
		c.failReads[key] = n - 1
		return nil, errScriptedFailure
	}
	if n := c.malformed[key]; n > 0 {
		c.malformed[key] = n - 1
		return []byte{0x01}, nil
	}
	if seq := c.sequences[key]; len(seq) > 0 {
		c.sequences[key] = seq[1:]
		return EncodeInt16(seq[0]), nil
	}
	return EncodeInt16(c.registers[key]), nil
}

type testUnitConnection struct {
	parent *TestConnector
	unitId uint8
	closed bool
}

func (conn *testUnitConnection) UnitId() uint8 {
	return conn.unitId
}

func (conn *testUnitConnection) ReadHoldingRegisterBytes(addr uint16) ([]byte, error) {
	if conn.closed {
		return nil, errors.New("connection closed")
	}
	return conn.parent.read(conn.unitId, addr)
}

func (conn *testUnitConnection) Close() error {
	if conn.closed {
		return nil
	}
	conn.closed = true
	conn.parent.mu.Lock()
	defer conn.parent.mu.Unlock()
	conn.parent.openConnections--
	return nil
}

// CreateSimulatedConnector returns a TestConnector preloaded with plausible
// readings of a small ESS installation.
func CreateSimulatedConnector(gatewayUnitId, inverterUnitId, batteryUnitId, solarChargerUnitId uint8) *TestConnector {
	c := NewTestConnector()

	// inverter
	c.SetRegister(inverterUnitId, 3, 2312)
	c.SetRegister(inverterUnitId, 6, 12)
	c.SetRegister(inverterUnitId, 9, 5001)
	c.SetRegister(inverterUnitId, 12, 28)
	c.SetRegister(inverterUnitId, 15, 2300)
	c.SetRegister(inverterUnitId, 18, 21)
	c.SetRegister(inverterUnitId, 21, 4999)
	c.SetRegister(inverterUnitId, 23, 41)
	c.SetRegister(inverterUnitId, 31, VEBusStateInverting)
	c.SetRegister(inverterUnitId, 64, GridLossOk)

	// battery
	c.SetRegister(batteryUnitId, 259, 5321)
	c.SetRegister(batteryUnitId, 261, -84)
	c.SetRegister(batteryUnitId, 262, 215)
	c.SetRegister(batteryUnitId, 266, 763)

	// gateway
	c.SetRegister(gatewayUnitId, 808, 640)
	c.SetRegister(gatewayUnitId, 817, 455)
	c.SetRegister(gatewayUnitId, 820, -180)
	c.SetRegister(gatewayUnitId, 842, -447)
	c.SetRegister(gatewayUnitId, 2900, BatteryLifeSelfConsumption)

	// solar charger
	if solarChargerUnitId != 0 {
		c.SetRegister(solarChargerUnitId, 776, 6412)
		c.SetRegister(solarChargerUnitId, 777, 95)
		c.SetRegister(solarChargerUnitId, 789, 6090)
		c.SetRegister(solarChargerUnitId, 790, 1234)
	}
	return c
}
