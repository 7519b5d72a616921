package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_ENTRY_PREFIX = "entry"
)

const (
	ENTRY_STATE_STARTING         = "starting"
	ENTRY_STATE_MIGRATING        = "migrating"
	ENTRY_STATE_LOADED           = "loaded"
	ENTRY_STATE_UPDATING         = "updating"
	ENTRY_STATE_MIGRATION_FAILED = "migration_failed"
	ENTRY_STATE_UNLOADING        = "unloading"
	ENTRY_STATE_UNLOAD_FAILED    = "unload_failed"
	ENTRY_STATE_UNLOADED         = "unloaded"
	ENTRY_STATE_UNAVAILABLE      = "unavailable"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
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

// DeviceStatusRequest asks the gateway for the current data points of a device.
type DeviceStatusRequest struct {
	ActorRequestMixIn
	DeviceId string
}

type DeviceStatusResponse struct {
	ActorResponseMixIn
	DeviceId string
	Dps      map[string]any
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

type EntryStatus struct {
	EntryId   string     `json:"entry_id"`
	Title     string     `json:"title"`
	DeviceId  string     `json:"device_id"`
	Type      string     `json:"type,omitempty"`
	Version   int        `json:"version"`
	State     string     `json:"state"`
	Platforms []Platform `json:"platforms"`
	LastError string     `json:"last_error,omitempty"`
}

type EntryStatusRequest struct {
	ActorRequestMixIn
}

type EntryStatusResponse struct {
	ActorResponseMixIn
	Entries []EntryStatus
}

type UpdateEntryOptionsRequest struct {
	ActorRequestMixIn
	EntryId string
	Options map[string]any
}

type UpdateEntryOptionsResponse struct {
	ActorResponseMixIn
	Status EntryStatus
}

// UnloadEntryRequest deregisters every platform of the entry and stops it.
type UnloadEntryRequest struct {
	ActorRequestMixIn
	EntryId string
}

type UnloadEntryResponse struct {
	ActorResponseMixIn
	Status EntryStatus
}
