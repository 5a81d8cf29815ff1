package rooms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

const (
	// DefaultRoomName names rooms created without one.
	DefaultRoomName = "Untitled"
	// DefaultCode seeds the document of a new room.
	DefaultCode = "// Start coding...\n"
	// DefaultAuthorName labels snapshots from participants without a display name.
	DefaultAuthorName = "Anonymous"
)

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
	// ErrInvalidUserID indicates that a participant identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("rooms: invalid user id")
	// ErrInvalidSnapshot indicates that a snapshot request is missing required fields.
	ErrInvalidSnapshot = errors.New("rooms: invalid snapshot")
	// ErrRoomNotFound indicates that no room exists for the identifier.
	ErrRoomNotFound = errors.New("rooms: room not found")
	// ErrRoomExists indicates that a room with the identifier was already created.
	ErrRoomExists = errors.New("rooms: room already exists")
)

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// UserID represents a validated participant identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Room models the authoritative document of a collaboration room.
type Room struct {
	RoomID          string `gorm:"column:room_id;primaryKey;size:190;not null"`
	Name            string `gorm:"column:name;size:190;not null"`
	Code            string `gorm:"column:code;type:text;not null"`
	Language        string `gorm:"column:language;size:64;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// CreatedAt returns the creation time in UTC.
func (room Room) CreatedAt() time.Time {
	return time.UnixMilli(room.CreatedAtMillis).UTC()
}

// UpdatedAt returns the last save time in UTC.
func (room Room) UpdatedAt() time.Time {
	return time.UnixMilli(room.UpdatedAtMillis).UTC()
}

// Snapshot is an immutable point-in-time copy of a room document.
type Snapshot struct {
	SnapshotID      string `gorm:"column:snapshot_id;primaryKey;size:190;not null"`
	RoomID          string `gorm:"column:room_id;size:190;not null;index:idx_snapshots_room_time,priority:1"`
	Code            string `gorm:"column:code;type:text;not null"`
	AuthorID        string `gorm:"column:author_id;size:190;not null"`
	AuthorName      string `gorm:"column:author_name;size:190;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_snapshots_room_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "room_snapshots"
}

// Timestamp returns the snapshot creation time in UTC.
func (snapshot Snapshot) Timestamp() time.Time {
	return time.UnixMilli(snapshot.CreatedAtMillis).UTC()
}

// RoomDraft describes a room to create. Empty fields fall back to defaults and
// an empty RoomID is generated.
type RoomDraft struct {
	RoomID   string
	Name     string
	Code     string
	Language string
}

// SnapshotDraft describes a snapshot request.
type SnapshotDraft struct {
	RoomID     RoomID
	Code       string
	AuthorID   string
	AuthorName string
}
