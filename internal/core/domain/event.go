package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

// StateSensorUpdateEvent carries an enumerated (code, label) pair.
// ReadFailed marks a code that was substituted for a failed register read.
type StateSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Code       int
	Label      string
	ReadFailed bool
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// PollCycleCompletedEvent is published once all values of a cycle were published.
type PollCycleCompletedEvent struct {
	Report CycleReport
}
