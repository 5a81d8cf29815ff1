package collab

import (
	"sort"

	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
)

// Decoration is a zero-width marker for a remote cursor.
type Decoration struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Color    string `json:"color"`
	Offset   int    `json:"offset"`
}

// Overlay keeps remote cursor decorations anchored to document offsets.
type Overlay struct {
	decorations map[string]Decoration
}

func NewOverlay() *Overlay {
	return &Overlay{decorations: make(map[string]Decoration)}
}

// Map re-anchors every decoration through change.
func (o *Overlay) Map(change textbuf.Change) {
	for userID, decoration := range o.decorations {
		decoration.Offset = change.MapPos(decoration.Offset)
		o.decorations[userID] = decoration
	}
}

// Place anchors the decoration of userID at position, replacing any previous one.
// Positions past the end of the document resolve to its end.
func (o *Overlay) Place(userID, userName, color string, position textbuf.Position, index textbuf.LineIndex) (Decoration, error) {
	if userID == "" {
		return Decoration{}, &MappingError{Position: position, Reason: "missing user id"}
	}
	if !position.Valid() {
		return Decoration{}, &MappingError{UserID: userID, Position: position, Reason: "line and column must be at least 1"}
	}
	decoration := Decoration{
		UserID:   userID,
		UserName: userName,
		Color:    color,
		Offset:   index.Clamp(index.Offset(position)),
	}
	o.decorations[userID] = decoration
	return decoration, nil
}

func (o *Overlay) Remove(userID string) bool {
	if _, ok := o.decorations[userID]; !ok {
		return false
	}
	delete(o.decorations, userID)
	return true
}

func (o *Overlay) Get(userID string) (Decoration, bool) {
	decoration, ok := o.decorations[userID]
	return decoration, ok
}

// Decorations returns the decorations ordered by offset, then user id.
func (o *Overlay) Decorations() []Decoration {
	decorations := make([]Decoration, 0, len(o.decorations))
	for _, decoration := range o.decorations {
		decorations = append(decorations, decoration)
	}
	sort.Slice(decorations, func(i, j int) bool {
		if decorations[i].Offset != decorations[j].Offset {
			return decorations[i].Offset < decorations[j].Offset
		}
		return decorations[i].UserID < decorations[j].UserID
	})
	return decorations
}

func (o *Overlay) Clear() {
	clear(o.decorations)
}
