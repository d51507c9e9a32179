package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/victron2mqtt/internal/config"
	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	HADISCOVERY_MAX_ATTEMPTS   = 10
	HADISCOVERY_RETRY_INTERVAL = 2 * time.Second
)

type HADiscoveryActor struct {
	config             *config.Config
	behavior           actor.Behavior
	scheduler          *scheduler.TimerScheduler
	pollerActor        *actor.PID
	mqttActor          *actor.PID
	pollerActorHealthy bool
	mqttActorHealthy   bool
	healthyRecv        int
	attempts           int

	logger *zap.Logger
}

type discoveryRetry struct {
}

func NewHADiscoveryActor(config *config.Config, pollerActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		pollerActor: pollerActor,
		mqttActor:   mqttActor,
		behavior:    actor.NewBehavior(),
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.checkHealth(ctx)
	case discoveryRetry:
		state.checkHealth(ctx)
	}
}

// checkHealth asks the poller and the MQTT actor whether they are ready.
func (state *HADiscoveryActor) checkHealth(ctx actor.Context) {
	state.attempts++
	state.healthyRecv = 0
	state.pollerActorHealthy = false
	state.mqttActorHealthy = false
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.pollerActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: false,
		}
	})
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
	state.behavior.Become(state.WaitingHealthyReceive)
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_POLLER:
				state.pollerActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv < 2 {
			return
		}
		if state.pollerActorHealthy && state.mqttActorHealthy {
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.pollerActor, domain.GetCatalogRequest{}, 2*time.Second), func(err error) any {
				return domain.GetCatalogResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
			state.behavior.Become(state.WaitingCatalogReceive)
			return
		}
		if state.attempts >= HADISCOVERY_MAX_ATTEMPTS {
			panic(errors.New("MQTT actor or poller actor are not healthy"))
		}
		state.logger.Debug("hadiscovery@healthcheck not ready, retrying", zap.Int("attempt", state.attempts))
		state.behavior.Become(state.StartingReceive)
		state.scheduler.SendOnce(HADISCOVERY_RETRY_INTERVAL, ctx.Self(), discoveryRetry{})
	default:
		state.logger.Debug("hadiscovery@healthcheck: ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "done",
		})
	}
}

func (state *HADiscoveryActor) WaitingCatalogReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetCatalogResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		sensors := DiscoverySensors(state.config.MQTT.BaseTopic, msg.Groups)
		state.logger.Debug("hadiscovery@catalog: publishing discovery", zap.Int("sensors", len(sensors)))
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: sensors,
		})
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@catalog: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// DiscoverySensors lists the bridge sensors followed by one sensor per metric,
// with every unit group exposed as a device behind the bridge.
func DiscoverySensors(baseTopic string, groups []domain.UnitGroup) []domain.GenericSensor {
	bridgeDevice := domain.BridgeDevice(baseTopic)
	sensors := domain.BridgeSensors(bridgeDevice)
	for _, group := range groups {
		device := domain.GroupDevice(baseTopic, group)
		device.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.MetricSensors(device, group)...)
	}
	return sensors
}
