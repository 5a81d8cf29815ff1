package collab

import (
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
)

// Participant is a member of a room as seen by one session.
type Participant struct {
	UserID   string            `json:"userId"`
	UserName string            `json:"userName"`
	Color    string            `json:"color"`
	Cursor   *textbuf.Position `json:"cursor,omitempty"`
}

// NewParticipant builds a participant with its derived color. An empty name
// falls back to the anonymous label.
func NewParticipant(userID, userName string) Participant {
	name := strings.TrimSpace(userName)
	if name == "" {
		name = rooms.DefaultAuthorName
	}
	return Participant{UserID: userID, UserName: name, Color: ColorFor(userID)}
}

// PresenceRegistry maps user ids to the remote participants of one room.
// It is owned by a session loop and not safe for concurrent use.
type PresenceRegistry struct {
	participants map[string]Participant
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{participants: make(map[string]Participant)}
}

// Upsert records a participant; the last value wins.
func (r *PresenceRegistry) Upsert(participant Participant) {
	if participant.UserID == "" {
		return
	}
	r.participants[participant.UserID] = participant
}

func (r *PresenceRegistry) Remove(userID string) bool {
	if _, ok := r.participants[userID]; !ok {
		return false
	}
	delete(r.participants, userID)
	return true
}

func (r *PresenceRegistry) Get(userID string) (Participant, bool) {
	participant, ok := r.participants[userID]
	return participant, ok
}

// List returns the participants ordered by user id.
func (r *PresenceRegistry) List() []Participant {
	participants := make([]Participant, 0, len(r.participants))
	for _, participant := range r.participants {
		participants = append(participants, participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})
	return participants
}

func (r *PresenceRegistry) Len() int {
	return len(r.participants)
}

func (r *PresenceRegistry) Clear() {
	clear(r.participants)
}
