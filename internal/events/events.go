// Package events publishes exchange lifecycle events for downstream
// collaborators (case management, notifications). Publishing is best-effort:
// a broker outage must never block or fail a finalization.
package events

import (
	"context"
	"time"

	id "handoff/pkg/domain"
)

// Event types emitted by the exchange engine.
const (
	TypeCheckedIn   = "exchange.checked_in"
	TypeFinalized   = "exchange.finalized"
	TypeDisputed    = "exchange.disputed"
	TypeQRConfirmed = "exchange.qr_confirmed"
)

// Event is one lifecycle event for an exchange instance.
type Event struct {
	Type       string            `json:"type"`
	InstanceID id.InstanceID     `json:"-"`
	Instance   string            `json:"instance_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New builds an event with the instance ID rendered for the wire.
func New(eventType string, instanceID id.InstanceID, occurredAt time.Time, attributes map[string]string) Event {
	return Event{
		Type:       eventType,
		InstanceID: instanceID,
		Instance:   instanceID.String(),
		OccurredAt: occurredAt.UTC(),
		Attributes: attributes,
	}
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher discards events; used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }
