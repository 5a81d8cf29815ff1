package rooms

// RoomResponse is the wire shape of a room on the REST API.
type RoomResponse struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Code           string            `json:"code"`
	Language       string            `json:"language"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
	LatestSnapshot *SnapshotResponse `json:"latestSnapshot,omitempty"`
}

// SnapshotResponse is the wire shape of a snapshot on the REST API.
type SnapshotResponse struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

// NewRoomResponse converts a stored room. Timestamps are Unix milliseconds.
func NewRoomResponse(room Room, latest *Snapshot) RoomResponse {
	response := RoomResponse{
		ID:        room.RoomID,
		Name:      room.Name,
		Code:      room.Code,
		Language:  room.Language,
		CreatedAt: room.CreatedAtMillis,
		UpdatedAt: room.UpdatedAtMillis,
	}
	if latest != nil {
		snapshot := NewSnapshotResponse(*latest)
		response.LatestSnapshot = &snapshot
	}
	return response
}

func NewSnapshotResponse(snapshot Snapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:        snapshot.SnapshotID,
		RoomID:    snapshot.RoomID,
		Code:      snapshot.Code,
		UserID:    snapshot.AuthorID,
		UserName:  snapshot.AuthorName,
		Timestamp: snapshot.CreatedAtMillis,
	}
}

// Room converts the wire shape back into a model.
func (response RoomResponse) Room() Room {
	return Room{
		RoomID:          response.ID,
		Name:            response.Name,
		Code:            response.Code,
		Language:        response.Language,
		CreatedAtMillis: response.CreatedAt,
		UpdatedAtMillis: response.UpdatedAt,
	}
}

// Snapshot converts the wire shape back into a model.
func (response SnapshotResponse) Snapshot() Snapshot {
	return Snapshot{
		SnapshotID:      response.ID,
		RoomID:          response.RoomID,
		Code:            response.Code,
		AuthorID:        response.UserID,
		AuthorName:      response.UserName,
		CreatedAtMillis: response.Timestamp,
	}
}
