package realtime

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	envelope, err := NewEnvelope(event, payload)
	require.NoError(t, err)
	return envelope
}

func TestBrokerPublishesToOtherSubscribers(t *testing.T) {
	broker := NewBroker(BrokerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender, cleanupSender, err := broker.Subscribe(ctx, "room:r1")
	require.NoError(t, err)
	defer cleanupSender()
	receiver, cleanupReceiver, err := broker.Subscribe(ctx, "room:r1")
	require.NoError(t, err)
	defer cleanupReceiver()

	delivered := broker.Publish("room:r1", mustEnvelope(t, "code-change", map[string]string{"code": "x"}), sender.ID())
	assert.Equal(t, 1, delivered)

	select {
	case received := <-receiver.Stream():
		assert.Equal(t, "code-change", received.Event)
		assert.JSONEq(t, `{"code":"x"}`, string(received.Payload))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected envelope within deadline")
	}

	select {
	case <-sender.Stream():
		t.Fatal("sender must not receive its own envelope")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerIsolatesChannels(t *testing.T) {
	broker := NewBroker(BrokerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst, err := broker.Subscribe(ctx, "room:a")
	require.NoError(t, err)
	defer cleanupFirst()
	second, cleanupSecond, err := broker.Subscribe(ctx, "room:b")
	require.NoError(t, err)
	defer cleanupSecond()

	broker.Publish("room:b", mustEnvelope(t, "user-left", map[string]string{"userId": "u1"}), 0)

	select {
	case <-first.Stream():
		t.Fatal("did not expect envelope on unrelated channel")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case envelope := <-second.Stream():
		assert.Equal(t, "user-left", envelope.Event)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected envelope on subscribed channel")
	}
}

func TestBrokerDropsWhenBufferFull(t *testing.T) {
	broker := NewBroker(BrokerConfig{BufferSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup, err := broker.Subscribe(ctx, "room:r1")
	require.NoError(t, err)
	defer cleanup()

	envelope := mustEnvelope(t, "cursor-move", nil)
	assert.Equal(t, 1, broker.Publish("room:r1", envelope, 0))
	assert.Equal(t, 0, broker.Publish("room:r1", envelope, 0))
}

func TestBrokerCleanupOnContextEnd(t *testing.T) {
	broker := NewBroker(BrokerConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	_, _, err := broker.Subscribe(ctx, "room:r1")
	require.NoError(t, err)
	assert.Equal(t, 1, broker.Subscribers("room:r1"))

	cancel()
	assert.Eventually(t, func() bool { return broker.Subscribers("room:r1") == 0 }, time.Second, 10*time.Millisecond)

	_, _, err = broker.Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestLocalTransportRelaysBetweenSubscriptions(t *testing.T) {
	broker := NewBroker(BrokerConfig{})
	transport := NewLocalTransport(broker, nil)

	var mu sync.Mutex
	var received []Envelope
	listener, err := transport.Subscribe(context.Background(), "room:r1", func(envelope Envelope) {
		mu.Lock()
		received = append(received, envelope)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer listener.Unsubscribe()

	speaker, err := transport.Subscribe(context.Background(), "room:r1", func(Envelope) {
		t.Error("speaker must not hear itself")
	})
	require.NoError(t, err)

	require.NoError(t, speaker.Send(context.Background(), mustEnvelope(t, "user-joined", map[string]string{"userId": "u2"})))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0].Event == "user-joined"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, speaker.Unsubscribe())
	require.NoError(t, speaker.Unsubscribe())
	assert.ErrorIs(t, speaker.Send(context.Background(), mustEnvelope(t, "user-left", nil)), ErrSubscriptionClosed)
	select {
	case <-speaker.Done():
	default:
		t.Fatal("expected done to be closed after unsubscribe")
	}
	assert.Equal(t, 1, broker.Subscribers("room:r1"))
}

func TestEnvelopeParsing(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = ParseEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	envelope, err := ParseEnvelope([]byte(`{"event":"cursor-move","payload":{"userId":"u1"}}`))
	require.NoError(t, err)
	var payload struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, envelope.Decode(&payload))
	assert.Equal(t, "u1", payload.UserID)

	assert.ErrorIs(t, Envelope{Event: "user-left"}.Decode(&payload), ErrMalformedEnvelope)
}

func TestLocalTransportUnsubscribeReleasesGoroutines(t *testing.T) {
	broker := NewBroker(BrokerConfig{})
	transport := NewLocalTransport(broker, nil)
	baseline := runtime.NumGoroutine()

	for range 100 {
		subscription, err := transport.Subscribe(context.Background(), "room:r1", nil)
		require.NoError(t, err)
		require.NoError(t, subscription.Unsubscribe())
	}

	assert.Equal(t, 0, broker.Subscribers("room:r1"))
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline+5 }, time.Second, 10*time.Millisecond,
		"subscriptions must not leave goroutines behind after unsubscribe")
}

func TestBrokerCleanupStopsContextWatcher(t *testing.T) {
	broker := NewBroker(BrokerConfig{})
	baseline := runtime.NumGoroutine()

	for range 100 {
		_, cleanup, err := broker.Subscribe(context.Background(), "room:r1")
		require.NoError(t, err)
		cleanup()
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline+5 }, time.Second, 10*time.Millisecond)
}
