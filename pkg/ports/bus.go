package ports

import (
	"context"

	"github.com/aretw0/lattice/pkg/domain"
)

// UnsubscribeFunc removes a subscription. Calling it more than once is a no-op.
type UnsubscribeFunc func()

// Publisher is the publishing half of the event transport.
type Publisher interface {
	// Publish is fire-and-forget: handler failures are caught and logged by the bus
	// and never reach the publisher.
	Publish(ctx context.Context, evt domain.Event)
}

// EventBus is the publish/subscribe transport collaborator.
type EventBus interface {
	Publisher

	// Subscribe registers a handler for one event type.
	Subscribe(eventType domain.EventType, handler domain.EventHandler) UnsubscribeFunc
}
