package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

// Events published by the engine.
const (
	EventMutationQueued        EventType = "mutation.queued"
	EventSyncStarted           EventType = "sync.started"
	EventSyncCompleted         EventType = "sync.completed"
	EventSyncFailed            EventType = "sync.failed"
	EventNetworkStatusChanged  EventType = "network.status_changed"
	EventNodeStateChanged      EventType = "node.state_changed"
	EventNodeStateBatchChanged EventType = "node.state_batch_changed"
)

// Events supplied by the host and consumed by the engine.
const (
	EventConnectivityChanged EventType = "connectivity.changed"
	EventMutationIntent      EventType = "mutation.intent"
)

// Event is the envelope carried by the event bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, source string, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Source: source, Payload: payload}
}

// EventHandler receives published events.
type EventHandler func(ctx context.Context, evt Event)

// NodeStateChange is the payload of EventNodeStateChanged.
type NodeStateChange struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
	Key        string `json:"key"`
	Value      any    `json:"value"`
	Previous   any    `json:"previous"`
}

// NodeStateBatchChange is the payload of EventNodeStateBatchChanged.
type NodeStateBatchChange struct {
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType"`
	Changes    map[string]any `json:"changes"`
}

// NetworkStatus is the payload of EventNetworkStatusChanged and EventConnectivityChanged.
type NetworkStatus struct {
	Online bool `json:"online"`
}

// SyncReport is the payload of EventSyncStarted and EventSyncCompleted.
type SyncReport struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Retried int `json:"retried"`
	Pending int `json:"pending"`
}

// SyncFailure is the payload of EventSyncFailed.
type SyncFailure struct {
	MutationID string `json:"mutationId"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}
