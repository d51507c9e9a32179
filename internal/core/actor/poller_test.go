package actor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/core/port"
	"github.com/berfenger/victron2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatedRunner blocks every cycle until the test releases it.
type gatedRunner struct {
	gate     chan struct{}
	runs     atomic.Int32
	disposed atomic.Bool
}

func (r *gatedRunner) Run(ctx context.Context, sink port.Sink) domain.CycleReport {
	n := r.runs.Add(1)
	select {
	case <-r.gate:
	case <-ctx.Done():
		return domain.CycleReport{Cycle: uint64(n), Aborted: true}
	}
	sink.Emit(domain.EmittedValue{MetricId: "m", Kind: domain.AGGREGATION_ROLLING_AVERAGE, Value: float64(n)})
	return domain.CycleReport{Cycle: uint64(n), Emitted: 1}
}

func (r *gatedRunner) Groups() []domain.UnitGroup {
	return []domain.UnitGroup{{Id: domain.GROUP_ID_GATEWAY, UnitId: 100, Metrics: []domain.MetricSpec{{Id: "m"}}}}
}

func (r *gatedRunner) Dispose() {
	r.disposed.Store(true)
}

func latestOf(root *actor.RootContext, pid *actor.PID) domain.GetLatestValuesResponse {
	res, err := root.RequestFuture(pid, domain.GetLatestValuesRequest{}, time.Second).Result()
	if err != nil {
		return domain.GetLatestValuesResponse{}
	}
	return res.(domain.GetLatestValuesResponse)
}

func TestPollerCoalescesTicks(t *testing.T) {

	assert := assert.New(t)

	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	root := as.Root

	runner := &gatedRunner{gate: make(chan struct{})}
	es := &eventstream.EventStream{}
	var completed atomic.Int32
	var updates atomic.Int32
	es.Subscribe(func(evt any) {
		switch evt.(type) {
		case domain.PollCycleCompletedEvent:
			completed.Add(1)
		case domain.FloatSensorUpdateEvent:
			updates.Add(1)
		}
	})

	pid := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(func() port.PollRunner { return runner }, es, logger)
	}))

	root.Send(pid, domain.PollTickRequest{})
	assert.Eventually(func() bool { return runner.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// ticks during a cycle collapse into one follow-up cycle
	root.Send(pid, domain.PollTickRequest{})
	root.Send(pid, domain.PollTickRequest{})
	root.Send(pid, domain.PollTickRequest{})

	res, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	assert.NoError(err)
	assert.Equal(POLLER_STATE_POLLING, res.(domain.ActorHealthResponse).State)

	runner.gate <- struct{}{}
	assert.Eventually(func() bool { return runner.runs.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	runner.gate <- struct{}{}
	assert.Eventually(func() bool { return latestOf(root, pid).Cycles == 2 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(int32(2), runner.runs.Load())
	assert.Equal(int32(2), completed.Load())
	assert.Equal(int32(2), updates.Load())

	latest := latestOf(root, pid)
	require.Len(t, latest.Values, 1)
	require.NotNil(t, latest.LastReport)
	assert.Equal(2.0, latest.Values[0].Value)
	assert.Equal(uint64(2), latest.LastReport.Cycle)

	assert.NoError(root.StopFuture(pid).Wait())
	assert.Eventually(runner.disposed.Load, time.Second, 10*time.Millisecond)
}

func TestPollerStopCancelsCycle(t *testing.T) {

	assert := assert.New(t)

	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	runner := &gatedRunner{gate: make(chan struct{})}
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(func() port.PollRunner { return runner }, nil, logger)
	}))

	as.Root.Send(pid, domain.PollTickRequest{})
	assert.Eventually(func() bool { return runner.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// the cycle is never released: stopping must cancel it and dispose afterwards
	assert.NoError(as.Root.StopFuture(pid).Wait())
	assert.Eventually(runner.disposed.Load, 2*time.Second, 10*time.Millisecond)
}
