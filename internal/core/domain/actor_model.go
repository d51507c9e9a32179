package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// PollTickRequest is fired by the heartbeat. It has no response.
type PollTickRequest struct {
	ActorRequestMixIn
}

type GetLatestValuesRequest struct {
	ActorRequestMixIn
}

type GetLatestValuesResponse struct {
	ActorResponseMixIn
	Values     []EmittedValue
	LastReport *CycleReport
	Cycles     uint64
}

type GetCatalogRequest struct {
	ActorRequestMixIn
}

type GetCatalogResponse struct {
	ActorResponseMixIn
	Groups []UnitGroup
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
