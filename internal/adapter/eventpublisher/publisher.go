package eventpublisher

import (
	"github.com/pscheid92/crowdpulse/internal/domain"
)

// EventPublisher implements domain.EventPublisher by composing the local
// broadcaster and the Redis relay. Local delivery always comes first.
type EventPublisher struct {
	local  domain.EventPublisher
	relays []domain.EventPublisher
}

// New returns a publisher delivering to local and then to every non-nil relay.
func New(local domain.EventPublisher, relays ...domain.EventPublisher) *EventPublisher {
	ep := &EventPublisher{local: local}
	for _, r := range relays {
		if r != nil {
			ep.relays = append(ep.relays, r)
		}
	}
	return ep
}

func (ep *EventPublisher) Publish(event domain.Event) {
	ep.local.Publish(event)
	for _, r := range ep.relays {
		r.Publish(event)
	}
}
