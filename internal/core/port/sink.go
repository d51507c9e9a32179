package port

import (
	"context"

	"github.com/berfenger/victron2mqtt/internal/core/domain"
)

// Sink receives one value per metric per cycle. Implementations must not block.
type Sink interface {
	Emit(value domain.EmittedValue)
}

// PollRunner runs poll cycles. It is owned by a single caller and never runs two cycles at once.
type PollRunner interface {
	Run(ctx context.Context, sink Sink) domain.CycleReport
	Groups() []domain.UnitGroup
	Dispose()
}
