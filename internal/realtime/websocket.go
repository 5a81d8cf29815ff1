package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// ChannelQueryParameter names the query parameter carrying the channel on the websocket endpoint.
	ChannelQueryParameter = "channel"
	// WebSocketPath is the path of the websocket endpoint relative to the server base URL.
	WebSocketPath = "/realtime"

	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultAckTimeout = 10 * time.Second
	maxMessageSize    = 1 << 20
)

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	// BaseURL is the http(s) address of the server.
	BaseURL    string
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
	SendBuffer int
	AckTimeout time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

// WebSocketTransport subscribes to channels served by a remote Broker.
type WebSocketTransport struct {
	endpoint   *url.URL
	dialer     *websocket.Dialer
	logger     *zap.Logger
	sendBuffer int
	ackTimeout time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
}

func NewWebSocketTransport(cfg WebSocketConfig) (*WebSocketTransport, error) {
	endpoint, err := websocketEndpoint(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &WebSocketTransport{
		endpoint:   endpoint,
		dialer:     dialer,
		logger:     logger,
		sendBuffer: cfg.SendBuffer,
		ackTimeout: cfg.AckTimeout,
		pongWait:   cfg.PongWait,
		writeWait:  cfg.WriteWait,
	}
	if transport.sendBuffer <= 0 {
		transport.sendBuffer = defaultBufferSize
	}
	if transport.ackTimeout <= 0 {
		transport.ackTimeout = defaultAckTimeout
	}
	if transport.pongWait <= 0 {
		transport.pongWait = defaultPongWait
	}
	if transport.writeWait <= 0 {
		transport.writeWait = defaultWriteWait
	}
	return transport, nil
}

func websocketEndpoint(baseURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("realtime: parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return nil, fmt.Errorf("realtime: unsupported base url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("realtime: base url has no host")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + WebSocketPath
	parsed.RawQuery = ""
	return parsed, nil
}

// Subscribe dials the server, waits for the subscribe acknowledgment and starts
// delivering envelopes from other members of channel.
func (t *WebSocketTransport) Subscribe(ctx context.Context, channel string, deliver DeliverFunc) (Subscription, error) {
	if channel == "" {
		return nil, ErrInvalidChannel
	}
	endpoint := *t.endpoint
	query := url.Values{}
	query.Set(ChannelQueryParameter, channel)
	endpoint.RawQuery = query.Encode()

	conn, _, err := t.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", channel, err)
	}
	if err := awaitAck(conn, t.ackTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	subscription := &wsSubscription{
		conn:      conn,
		channel:   channel,
		send:      make(chan Envelope, t.sendBuffer),
		done:      make(chan struct{}),
		logger:    t.logger,
		pongWait:  t.pongWait,
		writeWait: t.writeWait,
	}
	go subscription.writePump()
	go subscription.readPump(deliver)
	t.logger.Debug("websocket subscription opened", zap.String("channel", channel))
	return subscription, nil
}

func awaitAck(conn *websocket.Conn, timeout time.Duration) error {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("realtime: await subscribe ack: %w", err)
	}
	envelope, err := ParseEnvelope(data)
	if err != nil {
		return err
	}
	if envelope.Event != EventSubscribed {
		return fmt.Errorf("realtime: expected %s ack, got %s", EventSubscribed, envelope.Event)
	}
	return conn.SetReadDeadline(time.Time{})
}

type wsSubscription struct {
	conn      *websocket.Conn
	channel   string
	send      chan Envelope
	done      chan struct{}
	logger    *zap.Logger
	pongWait  time.Duration
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *wsSubscription) Send(_ context.Context, envelope Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriptionClosed
	}
	select {
	case s.send <- envelope:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *wsSubscription) Unsubscribe() error {
	s.shutdown()
	return nil
}

func (s *wsSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *wsSubscription) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

func (s *wsSubscription) readPump(deliver DeliverFunc) {
	defer s.shutdown()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.shutdown() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket subscription dropped", zap.String("channel", s.channel), zap.Error(err))
			}
			return
		}
		envelope, err := ParseEnvelope(data)
		if err != nil {
			s.logger.Warn("dropping malformed envelope", zap.String("channel", s.channel), zap.Error(err))
			continue
		}
		if envelope.Event == EventSubscribed {
			continue
		}
		if deliver != nil {
			deliver(envelope)
		}
	}
}

func (s *wsSubscription) writePump() {
	ticker := time.NewTicker(pingPeriod(s.pongWait))
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case envelope := <-s.send:
			if err := s.write(envelope); err != nil {
				s.logger.Warn("websocket write failed", zap.String("channel", s.channel), zap.Error(err))
				s.shutdown()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown()
				return
			}
		case <-s.done:
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes envelopes queued before the subscription closed, such as a departure notice.
func (s *wsSubscription) flush() {
	for {
		select {
		case envelope := <-s.send:
			if err := s.write(envelope); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *wsSubscription) write(envelope Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}
