package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LocalTransport subscribes to an in-process Broker.
type LocalTransport struct {
	broker *Broker
	logger *zap.Logger
}

func NewLocalTransport(broker *Broker, logger *zap.Logger) *LocalTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalTransport{broker: broker, logger: logger}
}

func (t *LocalTransport) Subscribe(ctx context.Context, channel string, deliver DeliverFunc) (Subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	subscriber, cleanup, err := t.broker.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, err
	}
	subscription := &localSubscription{
		broker:     t.broker,
		subscriber: subscriber,
		cleanup:    cleanup,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go subscription.pump(deliver)
	t.logger.Debug("local subscription opened", zap.String("channel", channel), zap.Int64("subscriber_id", subscriber.ID()))
	return subscription, nil
}

type localSubscription struct {
	broker     *Broker
	subscriber *Subscriber
	cleanup    func()
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

func (s *localSubscription) pump(deliver DeliverFunc) {
	for {
		select {
		case <-s.done:
			return
		case envelope := <-s.subscriber.Stream():
			select {
			case <-s.done:
				return
			default:
			}
			if deliver != nil {
				deliver(envelope)
			}
		}
	}
}

func (s *localSubscription) Send(_ context.Context, envelope Envelope) error {
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}
	s.broker.Publish(s.subscriber.Channel(), envelope, s.subscriber.ID())
	return nil
}

func (s *localSubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.cleanup()
		s.cancel()
	})
	return nil
}

func (s *localSubscription) Done() <-chan struct{} {
	return s.done
}
