package domain

import "time"

type EventKind string

const (
	EventEmotionDelta     EventKind = "emotion.delta"
	EventEmotionAggregate EventKind = "emotion.aggregate"
	EventPoolCreated      EventKind = "pool.created"
	EventPoolUpdated      EventKind = "pool.updated"
	EventPoolResolved     EventKind = "pool.resolved"
	EventPoolExpired      EventKind = "pool.expired"
	EventProposalCreated  EventKind = "proposal.created"
	EventProposalUpdated  EventKind = "proposal.updated"
	EventProposalResolved EventKind = "proposal.resolved"
	EventPresence         EventKind = "crowd.presence"
	// EventSessionIdle goes only to the idle connection itself.
	EventSessionIdle EventKind = "session.idle"
)

// Event is the outbound wire shape of every state change. Room is empty for
// crowd-wide events. Version increases monotonically per EntityID.
type Event struct {
	Kind       EventKind `json:"kind"`
	EntityID   string    `json:"entityId,omitempty"`
	Room       string    `json:"room,omitempty"`
	Version    uint64    `json:"version"`
	Payload    any       `json:"payload"`
	ServerTime time.Time `json:"serverTime"`
}

// EventPublisher receives every state change from the managers. Implementations
// must not block: they are called while the emitting entity is locked.
type EventPublisher interface {
	Publish(event Event)
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(Event)

func (f EventPublisherFunc) Publish(event Event) { f(event) }
