package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultBufferSize = 64

// BrokerConfig tunes a Broker.
type BrokerConfig struct {
	BufferSize int
	Logger     *zap.Logger
}

// Broker fans envelopes out to the subscribers of a channel. Publishing never
// blocks: a subscriber whose buffer is full misses the envelope.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*Subscriber
	nextID      int64
	bufferSize  int
	logger      *zap.Logger
}

// Subscriber is one member of a broker channel.
type Subscriber struct {
	id      int64
	channel string
	stream  chan Envelope
}

// ID identifies the subscriber within its broker; it is the sender id passed to Publish.
func (s *Subscriber) ID() int64 {
	return s.id
}

func (s *Subscriber) Channel() string {
	return s.channel
}

// Stream yields envelopes published by other members. It is never closed.
func (s *Subscriber) Stream() <-chan Envelope {
	return s.stream
}

func NewBroker(cfg BrokerConfig) *Broker {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subscribers: make(map[string]map[int64]*Subscriber),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe joins channel. The returned cleanup leaves it and also runs when ctx ends.
func (b *Broker) Subscribe(ctx context.Context, channel string) (*Subscriber, func(), error) {
	if channel == "" {
		return nil, nil, ErrInvalidChannel
	}
	subscriber := &Subscriber{
		id:      b.nextSequence(),
		channel: channel,
		stream:  make(chan Envelope, b.bufferSize),
	}
	b.registerSubscriber(subscriber)

	var once sync.Once
	left := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			close(left)
			b.unregisterSubscriber(channel, subscriber.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-left:
		}
	}()
	return subscriber, cleanup, nil
}

// Publish delivers envelope to every member of channel except senderID and
// returns the number of members that received it. Pass 0 to reach everyone.
func (b *Broker) Publish(channel string, envelope Envelope, senderID int64) int {
	if channel == "" || envelope.Event == "" {
		return 0
	}
	b.mu.RLock()
	subscribers := b.subscribers[channel]
	if len(subscribers) == 0 {
		b.mu.RUnlock()
		return 0
	}
	copies := make([]*Subscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		if subscriber.id == senderID {
			continue
		}
		copies = append(copies, subscriber)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- envelope:
			delivered++
		default:
			b.logger.Warn("realtime subscriber buffer full, dropping envelope",
				zap.String("channel", channel),
				zap.String("event", envelope.Event),
				zap.Int64("subscriber_id", subscriber.id))
		}
	}
	return delivered
}

// Subscribers reports the current member count of channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

func (b *Broker) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Broker) registerSubscriber(subscriber *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[subscriber.channel]; !ok {
		b.subscribers[subscriber.channel] = make(map[int64]*Subscriber)
	}
	b.subscribers[subscriber.channel][subscriber.id] = subscriber
}

func (b *Broker) unregisterSubscriber(channel string, subscriberID int64) {
	b.mu.Lock()
	subscribers := b.subscribers[channel]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(b.subscribers, channel)
		}
	}
	b.mu.Unlock()
}
