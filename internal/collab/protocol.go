package collab

import (
	"strings"

	"github.com/MarcoPoloResearchLab/coderoom/internal/realtime"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
)

// Events exchanged on a room channel.
const (
	EventCodeChange = "code-change"
	EventCursorMove = "cursor-move"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"

	channelPrefix = "room:"
)

type CodeChangePayload struct {
	Code     string `json:"code"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type CursorMovePayload struct {
	UserID   string           `json:"userId"`
	UserName string           `json:"userName"`
	Position textbuf.Position `json:"position"`
	Color    string           `json:"color"`
}

type UserJoinedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// ChannelName returns the broadcast channel of a room.
func ChannelName(roomID rooms.RoomID) string {
	return channelPrefix + roomID.String()
}

// RoomFromChannel extracts the room id from a channel name.
func RoomFromChannel(channel string) (rooms.RoomID, error) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return "", rooms.ErrInvalidRoomID
	}
	return rooms.NewRoomID(strings.TrimPrefix(channel, channelPrefix))
}

// IdentifySender reports the participant an envelope speaks for and whether it
// announces that participant's departure.
func IdentifySender(envelope realtime.Envelope) (string, bool) {
	var sender struct {
		UserID string `json:"userId"`
	}
	if err := envelope.Decode(&sender); err != nil {
		return "", false
	}
	return sender.UserID, envelope.Event == EventUserLeft
}

// DepartureNotice builds the user-left envelope for userID.
func DepartureNotice(userID string) (realtime.Envelope, bool) {
	envelope, err := realtime.NewEnvelope(EventUserLeft, UserLeftPayload{UserID: userID})
	if err != nil {
		return realtime.Envelope{}, false
	}
	return envelope, true
}
