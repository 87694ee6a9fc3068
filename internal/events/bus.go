// Package events persists domain events and fans them out to
// registered notifiers. Publication is an audit concern: callers treat
// failures as non-fatal and never roll business state back over them.
package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Topics emitted by the checkout pipeline.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicCheckoutFailed = "checkout.failed"
)

// Event is one domain fact about an aggregate.
type Event struct {
	Topic       string
	AggregateID uuid.UUID
	Payload     any
}

// Notifier receives published events, e.g. a webhook or mail sender.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Log is the persistence sink for events.
type Log interface {
	InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) error
}

// Bus writes events to the log and then to every notifier.
type Bus struct {
	Log       Log
	Notifiers []Notifier
}

// Publish persists the event and notifies all listeners. Notifier
// failures are joined so one bad listener does not hide another, and
// do not prevent the remaining listeners from running.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if b == nil {
		return nil
	}
	var errs []error
	if b.Log != nil {
		if err := b.Log.InsertDomainEvent(ctx, e.Topic, e.AggregateID, e.Payload); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range b.Notifiers {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
