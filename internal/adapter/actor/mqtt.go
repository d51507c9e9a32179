package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/victron2mqtt/internal/config"
	"github.com/berfenger/victron2mqtt/internal/core/domain"
	"github.com/berfenger/victron2mqtt/internal/core/events"
	"github.com/berfenger/victron2mqtt/internal/mqtt"
	"github.com/berfenger/victron2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	MQTT_STATE_STARTING   = "starting"
	MQTT_STATE_IDLE       = "idle"
	MQTT_STATE_PUBLISHING = "publishing"
	MQTT_STATE_DUMMY      = "dummy"
)

type MQTTActor struct {
	actorutil.ActorWithStates
	config       *config.Config
	eventStream  *eventstream.EventStream
	subscription *eventstream.Subscription
	stash        *actorutil.Stash
	client       *mqtt.MQTTClient
	published    uint64
	dummy        *dummyRecorder
	logger       *zap.Logger
}

type MQTTConnected struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

type mqttState struct {
	name    string
	receive actor.ReceiveFunc
}

func (s mqttState) Name() string {
	return s.name
}

func (s mqttState) Receive(ctx actor.Context) {
	s.receive(ctx)
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		ActorWithStates: actorutil.NewActorWithStates(),
		config:          config,
		eventStream:     eventStream,
		stash:           &actorutil.Stash{},
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.Become(mqttState{MQTT_STATE_STARTING, act.StartingReceive})
	return act
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		self := ctx.Self()
		root := ctx.ActorSystem().Root
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			root.Send(self, MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.publishBridgeState(true)
		state.subscribe(ctx)

		// init completed, transition to default state
		state.Become(mqttState{MQTT_STATE_IDLE, state.DefaultReceive})
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
			State:   state.StateName(),
		})
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: state.client.IsConnected(),
			State:   state.StateName(),
		})
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishSensorUpdateRequest:
		// receive message from event bus and publish to MQTT
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		state.publishSensorValue(ctx, msg.Event, msg.Retain, msg.ReplyToRef)
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishDiscoveryRequest", zap.Int("sensors", len(msg.Sensors)))
		err := state.PublishHomeAssistantDiscovery(msg.Sensors)
		if err != nil {
			state.logger.Error("mqtt@default PublishDiscoveryRequest error", zap.Error(err))
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishDiscoveryResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) PublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		} else {
			state.published++
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
			})
		}
		state.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case MQTTConnectionLost:
		state.logger.Error("mqtt@publishing connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.stash.Stash(ctx, msg)
	}
}

// subscribe forwards sensor update events of the event stream to the actor mailbox.
func (state *MQTTActor) subscribe(ctx actor.Context) {
	if state.eventStream == nil {
		return
	}
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.subscription = state.eventStream.Subscribe(func(evt any) {
		if ev, ok := evt.(domain.SensorUpdateEvent); ok {
			root.Send(self, domain.PublishSensorUpdateRequest{Event: ev})
		}
	})
}

func (state *MQTTActor) unsubscribe() {
	if state.eventStream != nil && state.subscription != nil {
		state.eventStream.Unsubscribe(state.subscription)
		state.subscription = nil
	}
}

func (state *MQTTActor) event2MQTTMessage(event any) (*rawMessage, error) {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: mqtt.FormatFloat(msg.Value, msg.Decimals),
		}, nil
	case domain.StateSensorUpdateEvent:
		payload, err := mqtt.FormatState(mqtt.StatePayload{
			Code:       msg.Code,
			Label:      msg.Label,
			ReadFailed: msg.ReadFailed,
		})
		if err != nil {
			return nil, err
		}
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: payload,
		}, nil
	case domain.BridgeStateUpdateEvent:
		stringMessage := mqtt.MQTT_PAYLOAD_OFFLINE
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		}
		return &rawMessage{
			topic:   state.client.BridgeStateTopic(),
			message: stringMessage,
			retain:  true,
		}, nil
	default:
		return nil, nil
	}
}

func (state *MQTTActor) publishSensorValue(ctx actor.Context, event domain.SensorUpdateEvent, retain bool, replyTo *domain.ActorRef) {
	msg, err := state.event2MQTTMessage(event)
	if err != nil {
		state.logger.Error("mqtt@publish cannot encode sensor value", zap.String("sensor", event.SensorId()), zap.Error(err))
		return
	}
	if msg == nil {
		return
	}
	var replyPID *actor.PID
	if replyTo != nil {
		replyPID = replyTo.PID()
	}
	state.publishMessage(ctx, msg.topic, msg.message, msg.retain || retain, replyPID)
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish %s => %s", topic, payload)
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		root.Send(self, publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.BecomeStacked(mqttState{MQTT_STATE_PUBLISHING, state.PublishResultReceive})
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(sensors []domain.GenericSensor) error {
	for i := range sensors {
		msg := mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := state.client.HADiscoverySensorTopic(sensors[i])
		state.client.Publish(topic, payload, 0, true, func(err error) {
			if err != nil {
				state.logger.Warn("mqtt@discovery publish failed", zap.String("topic", topic), zap.Error(err))
			}
		}, 1*time.Second)
	}
	return nil
}

func (state *MQTTActor) publishBridgeState(online bool) {
	msg, _ := state.event2MQTTMessage(events.BridgeOnlineUpdateEvent(online))
	state.client.Publish(msg.topic, msg.message, 0, msg.retain, func(error) {}, 500*time.Millisecond)
}

func (state *MQTTActor) stop() {
	state.unsubscribe()
	if state.client == nil {
		return
	}
	state.logger.Debug("mqtt: disconnect", zap.Uint64("published", state.published))
	if state.client.IsConnected() {
		state.publishBridgeState(false)
	}
	state.client.Disconnect(500 * time.Millisecond)
}

// Dummy actor: records the MQTT messages it would publish instead of connecting.
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		ActorWithStates: actorutil.NewActorWithStates(),
		config:          config,
		eventStream:     eventStream,
		stash:           &actorutil.Stash{},
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.Become(mqttState{MQTT_STATE_DUMMY, act.DummyReceive})
	return act
}

// GetPublishedRequest asks the dummy actor for the messages it recorded.
type GetPublishedRequest struct {
}

type GetPublishedResponse struct {
	Messages map[string]string
	Count    int
}

type dummyRecorder struct {
	messages map[string]string
	count    int
}

func (r *dummyRecorder) record(topic, payload string) {
	if r.messages == nil {
		r.messages = map[string]string{}
	}
	r.messages[topic] = payload
	r.count++
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		state.subscribe(ctx)
	case *actor.Stopping:
		state.unsubscribe()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   state.StateName(),
		})
	case domain.PublishSensorUpdateRequest:
		m, err := state.event2MQTTMessage(msg.Event)
		if err == nil && m != nil {
			state.recorder().record(m.topic, m.message)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishSensorUpdateResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	case domain.PublishMessageRequest:
		state.recorder().record(msg.Topic, msg.Payload)
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{})
	case domain.PublishDiscoveryRequest:
		for i := range msg.Sensors {
			payload, err := json.Marshal(mqtt.GenericSensorToHADiscoveryMessage(state.client, msg.Sensors[i]))
			if err == nil {
				state.recorder().record(state.client.HADiscoverySensorTopic(msg.Sensors[i]), string(payload))
			}
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishDiscoveryResponse{})
	case GetPublishedRequest:
		messages := make(map[string]string, len(state.recorder().messages))
		for k, v := range state.recorder().messages {
			messages[k] = v
		}
		ctx.Respond(GetPublishedResponse{Messages: messages, Count: state.recorder().count})
	}
}

func (state *MQTTActor) recorder() *dummyRecorder {
	if state.dummy == nil {
		state.dummy = &dummyRecorder{}
	}
	return state.dummy
}
