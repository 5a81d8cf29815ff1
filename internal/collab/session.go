// Package collab is the real-time synchronization engine: a Session binds one
// participant to a room channel, broadcasts local edits and cursor moves,
// applies remote ones, keeps remote cursors anchored and debounces persistence.
package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/realtime"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
	"go.uber.org/zap"
)

const (
	// DefaultAutosaveDelay is the quiet period after which a changed document is saved.
	DefaultAutosaveDelay = 2 * time.Second

	defaultSaveTimeout = 10 * time.Second
	eventQueueSize     = 256
)

var (
	errMissingTransport   = errors.New("collab: transport is required")
	errMissingStore       = errors.New("collab: document store is required")
	errMissingParticipant = errors.New("collab: participant id is required")
	errAlreadyRunning     = errors.New("collab: session already running")
)

// DocumentStore persists room documents and their snapshot history.
type DocumentStore interface {
	LoadRoom(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error)
	SaveRoom(ctx context.Context, roomID rooms.RoomID, code, language string) (rooms.Room, error)
	CreateSnapshot(ctx context.Context, draft rooms.SnapshotDraft) (rooms.Snapshot, error)
	ListSnapshots(ctx context.Context, roomID rooms.RoomID, limit int) ([]rooms.Snapshot, error)
}

// UpdateKind classifies a state change reported to the session listener.
type UpdateKind string

const (
	UpdateConnection UpdateKind = "connection"
	UpdateDocument   UpdateKind = "document"
	UpdatePresence   UpdateKind = "presence"
	UpdateLanguage   UpdateKind = "language"
)

// Update is delivered to the listener after the session state changed. From
// names the remote participant that caused it, or is empty for local changes.
type Update struct {
	Kind  UpdateKind
	From  string
	State State
}

// State is a copy of the session state.
type State struct {
	RoomID       rooms.RoomID
	RoomName     string
	Connected    bool
	Code         string
	Language     string
	Cursor       textbuf.Position
	Local        Participant
	Participants []Participant
	Decorations  []Decoration
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Transport     realtime.Transport
	Store         DocumentStore
	Participant   Participant
	Logger        *zap.Logger
	AutosaveDelay time.Duration
	SaveTimeout   time.Duration
	// Listener runs on the session loop and must not call back into the session.
	Listener func(Update)
}

// Session synchronizes one participant with one room at a time. All state is
// owned by the goroutine executing Run; public methods post work to it.
type Session struct {
	transport   realtime.Transport
	store       DocumentStore
	logger      *zap.Logger
	listener    func(Update)
	saveTimeout time.Duration

	events    chan func()
	stopped   chan struct{}
	running   atomic.Bool
	connected atomic.Bool

	local            Participant
	roomID           rooms.RoomID
	roomName         string
	language         string
	buffer           *textbuf.Buffer
	guard            EchoGuard
	presence         *PresenceRegistry
	overlay          *Overlay
	autosave         *Autosaver
	binding          *binding
	lastCursorOffset int
}

type binding struct {
	roomID       rooms.RoomID
	channel      string
	subscription realtime.Subscription
	done         chan struct{}
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if strings.TrimSpace(cfg.Participant.UserID) == "" {
		return nil, errMissingParticipant
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := cfg.AutosaveDelay
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	saveTimeout := cfg.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = defaultSaveTimeout
	}

	local := NewParticipant(cfg.Participant.UserID, cfg.Participant.UserName)
	s := &Session{
		transport:        cfg.Transport,
		store:            cfg.Store,
		logger:           logger.With(zap.String("user_id", local.UserID)),
		listener:         cfg.Listener,
		saveTimeout:      saveTimeout,
		events:           make(chan func(), eventQueueSize),
		stopped:          make(chan struct{}),
		local:            local,
		language:         rooms.DefaultLanguage,
		buffer:           textbuf.New(""),
		presence:         NewPresenceRegistry(),
		overlay:          NewOverlay(),
		lastCursorOffset: -1,
	}
	s.autosave = NewAutosaver(delay, s.post, s.autosaveNow)
	s.buffer.OnChange(s.onDocumentChange)
	return s, nil
}

// Run processes session events until ctx ends, then leaves the bound room.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(s.stopped)
	defer s.abandon()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-s.events:
			s.handle(event)
		}
	}
}

func (s *Session) handle(event func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("session event panicked", zap.Any("panic", recovered))
		}
	}()
	event()
}

// post schedules fn on the loop from an internal goroutine.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.stopped:
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	task := func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.Error("session call panicked", zap.Any("panic", recovered))
				result <- fmt.Errorf("collab: recovered panic: %v", recovered)
			}
		}()
		result <- fn()
	}
	select {
	case s.events <- task:
	case <-s.stopped:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-s.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether the session holds an acknowledged subscription.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Open binds the session to roomID. Opening the bound room again is a no-op;
// opening another room leaves the current one first. A room the store does not
// know starts from the default document.
func (s *Session) Open(ctx context.Context, roomID rooms.RoomID) error {
	if roomID == "" {
		return rooms.ErrInvalidRoomID
	}
	return s.call(ctx, func() error {
		return s.open(ctx, roomID)
	})
}

func (s *Session) open(ctx context.Context, roomID rooms.RoomID) error {
	if s.roomID == roomID {
		if s.binding != nil {
			return nil
		}
		return s.subscribe(ctx)
	}
	if s.roomID != "" {
		s.abandon()
	}

	room, err := s.store.LoadRoom(ctx, roomID)
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		s.logger.Warn("room not found, starting from the default document", zap.String("room_id", roomID.String()))
		room = rooms.Room{RoomID: roomID.String(), Name: rooms.DefaultRoomName, Code: rooms.DefaultCode, Language: rooms.DefaultLanguage}
	case err != nil:
		persistenceErr := &PersistenceError{Op: "load", RoomID: roomID, Err: err}
		s.logger.Error("room load failed", zap.String("room_id", roomID.String()), zap.Error(err))
		return persistenceErr
	}

	s.roomID = roomID
	s.roomName = room.Name
	s.language = rooms.NormalizeLanguageTag(room.Language)
	s.buffer.Reset(room.Code)
	s.lastCursorOffset = -1
	s.notify(UpdateDocument, "")

	return s.subscribe(ctx)
}

func (s *Session) subscribe(ctx context.Context) error {
	bound := &binding{
		roomID:  s.roomID,
		channel: ChannelName(s.roomID),
		done:    make(chan struct{}),
	}
	subscription, err := s.transport.Subscribe(ctx, bound.channel, func(envelope realtime.Envelope) {
		s.deliver(bound, envelope)
	})
	if err != nil {
		s.logger.Error("subscribe failed", zap.String("channel", bound.channel), zap.Error(err))
		return &TransportError{Op: "subscribe", Channel: bound.channel, Err: err}
	}
	bound.subscription = subscription
	s.binding = bound
	s.connected.Store(true)
	go s.watch(bound)

	s.logger.Info("joined room", zap.String("room_id", s.roomID.String()), zap.String("channel", bound.channel))
	s.send(EventUserJoined, UserJoinedPayload{UserID: s.local.UserID, UserName: s.local.UserName})
	s.notify(UpdateConnection, "")
	return nil
}

// deliver queues an inbound envelope behind earlier events. Envelopes of a
// binding that has since been released are dropped.
func (s *Session) deliver(bound *binding, envelope realtime.Envelope) {
	select {
	case s.events <- func() {
		if s.binding == bound {
			s.dispatch(envelope)
		}
	}:
	case <-bound.done:
	case <-s.stopped:
	}
}

func (s *Session) watch(bound *binding) {
	select {
	case <-bound.subscription.Done():
		s.post(func() { s.linkDown(bound) })
	case <-bound.done:
	}
}

func (s *Session) linkDown(bound *binding) {
	if s.binding != bound {
		return
	}
	close(bound.done)
	s.binding = nil
	s.connected.Store(false)
	// Departures are not observable without the channel; resubscribing re-seeds
	// presence from user-joined and cursor-move.
	s.presence.Clear()
	s.overlay.Clear()
	s.logger.Warn("room channel dropped", zap.String("channel", bound.channel))
	s.notify(UpdateConnection, "")
}

// Close leaves the bound room. It is safe to call when no room is open.
func (s *Session) Close(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.roomID == "" {
			return nil
		}
		s.abandon()
		s.notify(UpdateConnection, "")
		return nil
	})
}

// abandon announces departure, releases the subscription and drops the
// pending autosave and presence of the current room.
func (s *Session) abandon() {
	if bound := s.binding; bound != nil {
		s.send(EventUserLeft, UserLeftPayload{UserID: s.local.UserID})
		close(bound.done)
		if err := bound.subscription.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", zap.Error(&TransportError{Op: "unsubscribe", Channel: bound.channel, Err: err}))
		}
		s.binding = nil
		s.logger.Info("left room", zap.String("room_id", bound.roomID.String()))
	}
	s.connected.Store(false)
	s.autosave.Cancel()
	s.presence.Clear()
	s.overlay.Clear()
	s.roomID = ""
	s.roomName = ""
}

func (s *Session) send(event string, payload any) {
	if s.binding == nil {
		return
	}
	envelope, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		s.logger.Error("encode envelope failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := s.binding.subscription.Send(context.Background(), envelope); err != nil {
		s.logger.Warn("send failed",
			zap.String("event", event),
			zap.Error(&TransportError{Op: "send", Channel: s.binding.channel, Err: err}))
	}
}

func (s *Session) notify(kind UpdateKind, from string) {
	if s.listener == nil {
		return
	}
	s.listener(Update{Kind: kind, From: from, State: s.snapshotState()})
}

func (s *Session) snapshotState() State {
	return State{
		RoomID:       s.roomID,
		RoomName:     s.roomName,
		Connected:    s.binding != nil,
		Code:         s.buffer.String(),
		Language:     s.language,
		Cursor:       s.buffer.Index().Position(s.buffer.Cursor()),
		Local:        s.local,
		Participants: s.presence.List(),
		Decorations:  s.overlay.Decorations(),
	}
}

// onDocumentChange observes every buffer mutation, local or remote.
func (s *Session) onDocumentChange(change textbuf.Change) {
	s.overlay.Map(change)
	if s.roomID != "" {
		s.autosave.Touch()
	}
	if s.guard.Applying() {
		return
	}
	s.send(EventCodeChange, CodeChangePayload{
		Code:     s.buffer.String(),
		UserID:   s.local.UserID,
		UserName: s.local.UserName,
	})
}

// Edit applies a local change and broadcasts the resulting document.
func (s *Session) Edit(ctx context.Context, change textbuf.Change) error {
	return s.call(ctx, func() error {
		if err := s.buffer.Apply(change); err != nil {
			return err
		}
		s.reportCursor()
		s.notify(UpdateDocument, "")
		return nil
	})
}

// Replace swaps the local document for code.
func (s *Session) Replace(ctx context.Context, code string) error {
	return s.call(ctx, func() error {
		if _, changed := s.buffer.Replace(code); !changed {
			return nil
		}
		s.reportCursor()
		s.notify(UpdateDocument, "")
		return nil
	})
}

// Append inserts text at the end of the document.
func (s *Session) Append(ctx context.Context, text string) error {
	return s.call(ctx, func() error {
		if err := s.buffer.Apply(textbuf.Insertion(s.buffer.Len(), text)); err != nil {
			return err
		}
		s.reportCursor()
		s.notify(UpdateDocument, "")
		return nil
	})
}

// MoveCursor places the local caret at offset, clamped to the document.
func (s *Session) MoveCursor(ctx context.Context, offset int) error {
	return s.call(ctx, func() error {
		s.buffer.SetCursor(offset)
		s.reportCursor()
		return nil
	})
}

// MoveCursorTo places the local caret at a 1-based line and column.
func (s *Session) MoveCursorTo(ctx context.Context, position textbuf.Position) error {
	if !position.Valid() {
		return &MappingError{UserID: s.local.UserID, Position: position, Reason: "line and column must be at least 1"}
	}
	return s.call(ctx, func() error {
		s.buffer.SetCursor(s.buffer.Index().Offset(position))
		s.reportCursor()
		return nil
	})
}

// reportCursor broadcasts the caret when it moved since the last broadcast.
func (s *Session) reportCursor() {
	if s.binding == nil {
		return
	}
	offset := s.buffer.Cursor()
	if offset == s.lastCursorOffset {
		return
	}
	s.lastCursorOffset = offset
	s.send(EventCursorMove, CursorMovePayload{
		UserID:   s.local.UserID,
		UserName: s.local.UserName,
		Position: s.buffer.Index().Position(offset),
		Color:    s.local.Color,
	})
}

// SetLanguage changes the room language. The change is persisted by autosave
// and not broadcast.
func (s *Session) SetLanguage(ctx context.Context, language string) error {
	tag := rooms.NormalizeLanguageTag(language)
	return s.call(ctx, func() error {
		if tag == s.language {
			return nil
		}
		s.language = tag
		if s.roomID != "" {
			s.autosave.Touch()
		}
		s.notify(UpdateLanguage, "")
		return nil
	})
}

// SetUserName changes the local display name and re-announces it to the room.
func (s *Session) SetUserName(ctx context.Context, userName string) error {
	return s.call(ctx, func() error {
		renamed := NewParticipant(s.local.UserID, userName)
		if renamed.UserName == s.local.UserName {
			return nil
		}
		s.local.UserName = renamed.UserName
		s.send(EventUserJoined, UserJoinedPayload{UserID: s.local.UserID, UserName: s.local.UserName})
		s.notify(UpdatePresence, "")
		return nil
	})
}

// Snapshot records the current document in the room history. Failures are
// returned, never retried.
func (s *Session) Snapshot(ctx context.Context) (rooms.Snapshot, error) {
	var draft rooms.SnapshotDraft
	if err := s.call(ctx, func() error {
		if s.roomID == "" {
			return ErrNotBound
		}
		draft = rooms.SnapshotDraft{
			RoomID:     s.roomID,
			Code:       s.buffer.String(),
			AuthorID:   s.local.UserID,
			AuthorName: s.local.UserName,
		}
		return nil
	}); err != nil {
		return rooms.Snapshot{}, err
	}

	snapshot, err := s.store.CreateSnapshot(ctx, draft)
	if err != nil {
		return rooms.Snapshot{}, &PersistenceError{Op: "snapshot", RoomID: draft.RoomID, Err: err}
	}
	s.logger.Info("snapshot saved", zap.String("room_id", draft.RoomID.String()), zap.String("snapshot_id", snapshot.SnapshotID))
	return snapshot, nil
}

// Snapshots lists the most recent snapshots of the bound room, newest first.
func (s *Session) Snapshots(ctx context.Context, limit int) ([]rooms.Snapshot, error) {
	var roomID rooms.RoomID
	if err := s.call(ctx, func() error {
		if s.roomID == "" {
			return ErrNotBound
		}
		roomID = s.roomID
		return nil
	}); err != nil {
		return nil, err
	}

	snapshots, err := s.store.ListSnapshots(ctx, roomID, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list snapshots", RoomID: roomID, Err: err}
	}
	return snapshots, nil
}

// State returns a copy of the current session state.
func (s *Session) State(ctx context.Context) (State, error) {
	var state State
	err := s.call(ctx, func() error {
		state = s.snapshotState()
		return nil
	})
	return state, err
}

func (s *Session) autosaveNow() {
	if s.roomID == "" {
		return
	}
	roomID, code, language := s.roomID, s.buffer.String(), s.language
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		defer cancel()
		if _, err := s.store.SaveRoom(ctx, roomID, code, language); err != nil {
			s.logger.Warn("autosave failed", zap.Error(&PersistenceError{Op: "save", RoomID: roomID, Err: err}))
			return
		}
		s.logger.Debug("autosaved", zap.String("room_id", roomID.String()))
	}()
}

func (s *Session) dispatch(envelope realtime.Envelope) {
	switch envelope.Event {
	case EventCodeChange:
		var payload CodeChangePayload
		if !s.decode(envelope, &payload) {
			return
		}
		if payload.UserID == s.local.UserID {
			return
		}
		s.guard.Apply(func() {
			s.buffer.Replace(payload.Code)
		})
		s.observe(payload.UserID, payload.UserName)
		s.notify(UpdateDocument, payload.UserID)
	case EventCursorMove:
		var payload CursorMovePayload
		if !s.decode(envelope, &payload) {
			return
		}
		if payload.UserID == s.local.UserID {
			return
		}
		s.placeCursor(payload)
		s.notify(UpdatePresence, payload.UserID)
	case EventUserJoined:
		var payload UserJoinedPayload
		if !s.decode(envelope, &payload) {
			return
		}
		if payload.UserID == s.local.UserID {
			return
		}
		s.observe(payload.UserID, payload.UserName)
		s.notify(UpdatePresence, payload.UserID)
	case EventUserLeft:
		var payload UserLeftPayload
		if !s.decode(envelope, &payload) {
			return
		}
		removed := s.presence.Remove(payload.UserID)
		if s.overlay.Remove(payload.UserID) || removed {
			s.notify(UpdatePresence, payload.UserID)
		}
	case realtime.EventSubscribed:
	default:
		s.logger.Debug("dropping unknown event", zap.String("event", envelope.Event))
	}
}

// decode unmarshals an inbound payload and rejects payloads without a sender.
func (s *Session) decode(envelope realtime.Envelope, target any) bool {
	if err := envelope.Decode(target); err != nil {
		s.logger.Warn("dropping malformed payload", zap.String("event", envelope.Event), zap.Error(err))
		return false
	}
	if sender, _ := IdentifySender(envelope); sender == "" {
		s.logger.Warn("dropping payload without sender", zap.String("event", envelope.Event))
		return false
	}
	return true
}

// observe records a remote participant, keeping any known cursor.
func (s *Session) observe(userID, userName string) {
	participant := NewParticipant(userID, userName)
	if known, ok := s.presence.Get(userID); ok {
		participant.Cursor = known.Cursor
		if known.Color != "" {
			participant.Color = known.Color
		}
	}
	s.presence.Upsert(participant)
}

func (s *Session) placeCursor(payload CursorMovePayload) {
	participant := NewParticipant(payload.UserID, payload.UserName)
	if payload.Color != "" {
		participant.Color = payload.Color
	}
	if _, err := s.overlay.Place(participant.UserID, participant.UserName, participant.Color, payload.Position, s.buffer.Index()); err != nil {
		s.logger.Warn("remote cursor rejected", zap.Error(err))
		if known, ok := s.presence.Get(participant.UserID); ok {
			participant.Cursor = known.Cursor
		}
	} else {
		position := payload.Position
		participant.Cursor = &position
	}
	s.presence.Upsert(participant)
}
