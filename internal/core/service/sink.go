package service

import (
	"sync"

	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/core/port"
)

// SinkFunc adapts a function to port.Sink.
type SinkFunc func(value domain.EmittedValue)

func (f SinkFunc) Emit(value domain.EmittedValue) {
	f(value)
}

// BufferSink collects emitted values in order.
type BufferSink struct {
	mu     sync.Mutex
	values []domain.EmittedValue
}

func (s *BufferSink) Emit(value domain.EmittedValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, value)
}

func (s *BufferSink) Values() []domain.EmittedValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EmittedValue{}, s.values...)
}

// ById returns the last value emitted for each metric.
func (s *BufferSink) ById() map[string]domain.EmittedValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]domain.EmittedValue, len(s.values))
	for _, v := range s.values {
		m[v.MetricId] = v
	}
	return m
}

func (s *BufferSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = nil
}

// ensure interface compliance
var (
	_ port.Sink = SinkFunc(nil)
	_ port.Sink = (*BufferSink)(nil)
)
