package textbuf

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrChangeOutOfRange indicates that a change addresses runes outside the document.
var ErrChangeOutOfRange = errors.New("textbuf: change out of range")

// Change replaces the runes in [From, To) with Insert. Offsets count runes.
type Change struct {
	From   int
	To     int
	Insert string
}

// Insertion builds a change that inserts text at offset.
func Insertion(offset int, text string) Change {
	return Change{From: offset, To: offset, Insert: text}
}

// Deletion builds a change that removes the runes in [from, to).
func Deletion(from, to int) Change {
	return Change{From: from, To: to}
}

// Validate reports whether the change fits a document of the given rune length.
func (c Change) Validate(length int) error {
	if c.From < 0 || c.To < c.From || c.To > length {
		return fmt.Errorf("%w: [%d,%d) in document of length %d", ErrChangeOutOfRange, c.From, c.To, length)
	}
	return nil
}

// InsertedLen returns the rune length of the inserted text.
func (c Change) InsertedLen() int {
	return utf8.RuneCountInString(c.Insert)
}

// DeletedLen returns the number of runes removed.
func (c Change) DeletedLen() int {
	return c.To - c.From
}

// IsEmpty reports whether the change leaves the document untouched.
func (c Change) IsEmpty() bool {
	return c.From == c.To && c.Insert == ""
}

// MapPos translates an offset in the old document to the new one.
//
// Positions before the change never move. A pure insertion pushes positions at
// or after its offset forward. Positions at or after the end of a deleted range
// shift back by the deleted length plus the inserted length; positions strictly
// inside it land after the inserted text.
func (c Change) MapPos(pos int) int {
	inserted := c.InsertedLen()
	switch {
	case pos < c.From:
		return pos
	case c.From == c.To:
		return pos + inserted
	case pos == c.From:
		return pos
	case pos >= c.To:
		return pos + inserted - c.DeletedLen()
	default:
		return c.From + inserted
	}
}

// Diff returns the single change that turns previous into next by trimming
// their common prefix and suffix.
func Diff(previous, next string) Change {
	return diffRunes([]rune(previous), []rune(next))
}

func diffRunes(previous, next []rune) Change {
	prefix := 0
	for prefix < len(previous) && prefix < len(next) && previous[prefix] == next[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(previous)-prefix && suffix < len(next)-prefix &&
		previous[len(previous)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}
	return Change{
		From:   prefix,
		To:     len(previous) - suffix,
		Insert: string(next[prefix : len(next)-suffix]),
	}
}
