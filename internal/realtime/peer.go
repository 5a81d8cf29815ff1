package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PeerConfig configures the server side of a websocket subscription.
type PeerConfig struct {
	Broker  *Broker
	Channel string
	Logger  *zap.Logger
	// Identify inspects an inbound envelope and reports the participant it speaks
	// for and whether it announces that participant's departure.
	Identify func(Envelope) (userID string, leaving bool)
	// Farewell builds the departure notice published when the link drops while a
	// participant is still present.
	Farewell  func(userID string) (Envelope, bool)
	PongWait  time.Duration
	WriteWait time.Duration
}

// ServePeer joins conn to a broker channel, acknowledges the subscription and
// relays envelopes both ways until the connection or ctx ends.
func ServePeer(ctx context.Context, conn *websocket.Conn, cfg PeerConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	writeWait := cfg.WriteWait
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}

	peerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	subscriber, cleanup, err := cfg.Broker.Subscribe(peerCtx, cfg.Channel)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer cleanup()

	ack, _ := json.Marshal(Envelope{Event: EventSubscribed})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		_ = conn.Close()
		return err
	}

	logger.Info("realtime peer joined",
		zap.String("channel", cfg.Channel),
		zap.Int64("subscriber_id", subscriber.ID()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		peerWritePump(peerCtx, conn, subscriber, pongWait, writeWait, logger)
	}()

	present := peerReadPump(conn, cfg, subscriber, pongWait, logger)

	cancel()
	<-writerDone
	_ = conn.Close()

	if present != "" && cfg.Farewell != nil {
		if envelope, ok := cfg.Farewell(present); ok {
			cfg.Broker.Publish(cfg.Channel, envelope, subscriber.ID())
		}
	}
	logger.Info("realtime peer left",
		zap.String("channel", cfg.Channel),
		zap.Int64("subscriber_id", subscriber.ID()),
		zap.String("user_id", present))
	return nil
}

// peerReadPump publishes inbound envelopes and returns the participant still
// present when the link ended.
func peerReadPump(conn *websocket.Conn, cfg PeerConfig, subscriber *Subscriber, pongWait time.Duration, logger *zap.Logger) string {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	present := ""
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("realtime peer read failed", zap.String("channel", cfg.Channel), zap.Error(err))
			}
			return present
		}
		envelope, err := ParseEnvelope(data)
		if err != nil {
			logger.Warn("dropping malformed envelope", zap.String("channel", cfg.Channel), zap.Error(err))
			continue
		}
		if cfg.Identify != nil {
			userID, leaving := cfg.Identify(envelope)
			switch {
			case leaving && userID == present:
				present = ""
			case !leaving && userID != "":
				present = userID
			}
		}
		cfg.Broker.Publish(cfg.Channel, envelope, subscriber.ID())
	}
}

func peerWritePump(ctx context.Context, conn *websocket.Conn, subscriber *Subscriber, pongWait, writeWait time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod(pongWait))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			return
		case envelope := <-subscriber.Stream():
			data, err := json.Marshal(envelope)
			if err != nil {
				logger.Warn("dropping unencodable envelope", zap.String("event", envelope.Event), zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
