package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const JOB_NAME = "poll-heartbeat"

var ErrInvalidInterval = errors.New("heartbeat: interval must be positive")

// Heartbeat fires a callback at a fixed rate. The callback must not block:
// it only signals that a cycle is due.
type Heartbeat struct {
	scheduler quartz.Scheduler
	fired     atomic.Uint64
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		scheduler: quartz.NewStdScheduler(),
		logger:    logger.With(zap.String("component", "heartbeat")),
	}
}

func (h *Heartbeat) Start(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	tick := job.NewFunctionJob(func(_ context.Context) (uint64, error) {
		n := h.fired.Add(1)
		h.logger.Debug("heartbeat tick", zap.Uint64("tick", n))
		fn()
		return n, nil
	})
	h.scheduler.Start(ctx)
	err := h.scheduler.ScheduleJob(quartz.NewJobDetail(tick, quartz.NewJobKey(JOB_NAME)), quartz.NewSimpleTrigger(interval))
	if err != nil {
		h.scheduler.Stop()
		return err
	}
	h.logger.Info("heartbeat started", zap.Duration("interval", interval))
	return nil
}

// Fired reports how many ticks were delivered.
func (h *Heartbeat) Fired() uint64 {
	return h.fired.Load()
}

func (h *Heartbeat) Stop() {
	if h.scheduler.IsStarted() {
		h.scheduler.Stop()
		h.logger.Info("heartbeat stopped", zap.Uint64("ticks", h.fired.Load()))
	}
}
