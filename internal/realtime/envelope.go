// Package realtime fans JSON envelopes out to the subscribers of named channels,
// in process through a Broker or across the network over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventSubscribed is the acknowledgment a server sends once a websocket peer
// has joined its channel.
const EventSubscribed = "subscribed"

var (
	// ErrMalformedEnvelope indicates an envelope without an event name or with undecodable JSON.
	ErrMalformedEnvelope = errors.New("realtime: malformed envelope")
	// ErrSubscriptionClosed indicates a send on a subscription that has ended.
	ErrSubscriptionClosed = errors.New("realtime: subscription closed")
	// ErrSendBufferFull indicates that the outbound queue of a subscription is saturated.
	ErrSendBufferFull = errors.New("realtime: send buffer full")
	// ErrInvalidChannel indicates an empty channel name.
	ErrInvalidChannel = errors.New("realtime: invalid channel")
)

// Envelope is the wire frame: an event name and its JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes payload under event. A nil payload produces an envelope without one.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if strings.TrimSpace(event) == "" {
		return Envelope{}, fmt.Errorf("%w: empty event", ErrMalformedEnvelope)
	}
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// ParseEnvelope decodes a wire frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(envelope.Event) == "" {
		return Envelope{}, fmt.Errorf("%w: empty event", ErrMalformedEnvelope)
	}
	return envelope, nil
}

// Decode unmarshals the payload into target.
func (e Envelope) Decode(target any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedEnvelope, e.Event)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, e.Event, err)
	}
	return nil
}

// DeliverFunc receives inbound envelopes in arrival order.
type DeliverFunc func(Envelope)

// Subscription is a live membership of one channel.
type Subscription interface {
	// Send publishes to every other member of the channel without blocking.
	Send(ctx context.Context, envelope Envelope) error
	// Unsubscribe leaves the channel. Queued sends are flushed first where the
	// transport supports it. Calling it more than once is harmless.
	Unsubscribe() error
	// Done is closed when the subscription ends, locally or because the link dropped.
	Done() <-chan struct{}
}

// Transport opens channel subscriptions.
type Transport interface {
	Subscribe(ctx context.Context, channel string, deliver DeliverFunc) (Subscription, error)
}
