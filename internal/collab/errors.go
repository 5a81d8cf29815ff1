package collab

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
)

var (
	// ErrNotBound indicates an operation that needs a room while none is open.
	ErrNotBound = errors.New("collab: session is not bound to a room")
	// ErrSessionClosed indicates a call on a session whose loop has stopped.
	ErrSessionClosed = errors.New("collab: session closed")
)

// TransportError reports a failed subscribe or send.
type TransportError struct {
	Op      string
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("collab: transport %s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed document store call.
type PersistenceError struct {
	Op     string
	RoomID rooms.RoomID
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("collab: %s room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// MappingError reports a remote cursor that cannot be placed.
type MappingError struct {
	UserID   string
	Position textbuf.Position
	Reason   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("collab: cursor of %q at %d:%d: %s", e.UserID, e.Position.Line, e.Position.Column, e.Reason)
}
