package actor

import (
	"context"
	"fmt"

	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/core/events"
	"github.com/berfenger/victron2mqtt/internal/core/port"
	"github.com/berfenger/victron2mqtt/internal/core/service"
	. "github.com/berfenger/victron2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const (
	POLLER_STATE_IDLE    = "idle"
	POLLER_STATE_POLLING = "polling"
)

// PollRunnerProvider builds the runner owned by one poller incarnation.
type PollRunnerProvider func() port.PollRunner

type PollerActor struct {
	ActorWithStates
	stash          *Stash
	runnerProvider PollRunnerProvider
	runner         port.PollRunner
	eventStream    *eventstream.EventStream

	pendingTick bool
	cancel      context.CancelFunc
	inFlight    chan struct{}
	latest      map[string]domain.EmittedValue
	lastReport  *domain.CycleReport
	cycles      uint64
	coalesced   uint64

	logger *zap.Logger
}

type cycleDone struct {
	Report domain.CycleReport
	Values []domain.EmittedValue
	Error  error
}

type pollerState struct {
	name    string
	receive actor.ReceiveFunc
}

func (s pollerState) Name() string {
	return s.name
}

func (s pollerState) Receive(ctx actor.Context) {
	s.receive(ctx)
}

func NewPollerActor(runnerProvider PollRunnerProvider, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		ActorWithStates: NewActorWithStates(),
		stash:           &Stash{},
		runnerProvider:  runnerProvider,
		eventStream:     eventStream,
		latest:          map[string]domain.EmittedValue{},
		logger:          ActorLogger(domain.ACTOR_ID_POLLER, logger),
	}
	act.Become(pollerState{POLLER_STATE_IDLE, act.IdleReceive})
	return act
}

func (state *PollerActor) IdleReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@idle started")
		state.runner = state.runnerProvider()
	case domain.PollTickRequest:
		state.startCycle(ctx)
	default:
		state.commonReceive(ctx, msg)
	}
}

func (state *PollerActor) PollingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PollTickRequest:
		// a cycle is in flight: remember one tick, drop the rest
		state.coalesced++
		state.pendingTick = true
		state.logger.Debug("poller@polling tick coalesced", zap.Uint64("coalesced", state.coalesced))
	case cycleDone:
		state.finishCycle(ctx, msg)
		state.UnbecomeStacked()
		if state.pendingTick {
			state.pendingTick = false
			state.startCycle(ctx)
		}
	default:
		state.commonReceive(ctx, msg)
	}
}

func (state *PollerActor) commonReceive(ctx actor.Context, message any) {
	switch msg := message.(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug(fmt.Sprintf("poller@%s ActorHealthRequest", state.StateName()))
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: state.runner != nil,
			State:   state.StateName(),
		})
	case domain.GetLatestValuesRequest:
		ForRequest(msg).Respond(ctx, state.latestValues())
	case domain.GetCatalogRequest:
		var groups []domain.UnitGroup
		if state.runner != nil {
			groups = state.runner.Groups()
		}
		ForRequest(msg).Respond(ctx, domain.GetCatalogResponse{Groups: groups})
	case *actor.Stopping:
		state.logger.Debug(fmt.Sprintf("poller@%s stopping", state.StateName()))
		if state.cancel != nil {
			state.cancel()
		}
	case *actor.Stopped, *actor.Restarting:
		state.dispose()
	case *actor.Started:
	default:
		state.logger.Debug(fmt.Sprintf("poller@%s unhandled", state.StateName()), zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) startCycle(ctx actor.Context) {
	if state.runner == nil {
		state.logger.Warn("poller@idle tick without runner")
		return
	}
	runner := state.runner
	cycleCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	state.cancel = cancel
	state.inFlight = done

	state.logger.Debug("poller@idle starting cycle", zap.Uint64("cycle", state.cycles+1))
	NewBackgroundTask(ctx, func() (*cycleDone, error) {
		defer close(done)
		sink := &service.BufferSink{}
		report := runner.Run(cycleCtx, sink)
		return &cycleDone{Report: report, Values: sink.Values()}, nil
	}).Recover(func(err error) cycleDone {
		return cycleDone{Error: err}
	}).PipeTo(ctx.Self())

	state.BecomeStacked(pollerState{POLLER_STATE_POLLING, state.PollingReceive})
}

func (state *PollerActor) finishCycle(ctx actor.Context, msg cycleDone) {
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	state.inFlight = nil
	if msg.Error != nil {
		state.logger.Error("poller@polling cycle failed", zap.Error(msg.Error))
		return
	}
	state.cycles++
	for _, v := range msg.Values {
		state.latest[v.MetricId] = v
	}
	report := msg.Report
	state.lastReport = &report
	if state.eventStream != nil {
		evs := events.EmittedValuesToUpdateEvents(msg.Values)
		for _, ev := range evs {
			state.eventStream.Publish(ev)
		}
		state.eventStream.Publish(domain.PollCycleCompletedEvent{Report: report})
	}
	if !report.Healthy() {
		state.logger.Warn("poller@polling cycle completed with failures",
			zap.Uint64("cycle", report.Cycle),
			zap.Int("connection_failures", report.ConnectionFailures),
			zap.Int("read_failures", report.ReadFailures),
			zap.Bool("aborted", report.Aborted))
	} else {
		state.logger.Debug("poller@polling cycle completed",
			zap.Uint64("cycle", report.Cycle),
			zap.Int("emitted", report.Emitted),
			zap.Duration("duration", report.Duration))
	}
}

// latestValues lists the last value of every metric in catalog order.
func (state *PollerActor) latestValues() domain.GetLatestValuesResponse {
	resp := domain.GetLatestValuesResponse{Cycles: state.cycles}
	if state.lastReport != nil {
		report := *state.lastReport
		resp.LastReport = &report
	}
	if state.runner == nil {
		return resp
	}
	for _, g := range state.runner.Groups() {
		for _, m := range g.Metrics {
			if v, ok := state.latest[m.Id]; ok {
				resp.Values = append(resp.Values, v)
			}
		}
	}
	return resp
}

func (state *PollerActor) dispose() {
	if state.runner == nil {
		return
	}
	runner := state.runner
	state.runner = nil
	state.latest = map[string]domain.EmittedValue{}
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	if state.inFlight != nil {
		// the cycle goroutine still owns the windows
		done := state.inFlight
		state.inFlight = nil
		go func() {
			<-done
			runner.Dispose()
		}()
		return
	}
	runner.Dispose()
	state.logger.Debug("poller disposed")
}
