package textbuf

import "sort"

// Position is a 1-based line and column pair.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Valid reports whether both coordinates are at least 1.
func (p Position) Valid() bool {
	return p.Line >= 1 && p.Column >= 1
}

// LineIndex converts between rune offsets and positions for one document version.
type LineIndex struct {
	starts []int
	length int
}

// NewLineIndex indexes the line starts of content.
func NewLineIndex(content string) LineIndex {
	return indexRunes([]rune(content))
}

func indexRunes(content []rune) LineIndex {
	starts := []int{0}
	for offset, r := range content {
		if r == '\n' {
			starts = append(starts, offset+1)
		}
	}
	return LineIndex{starts: starts, length: len(content)}
}

// Lines returns the number of lines, which is always at least one.
func (index LineIndex) Lines() int {
	if len(index.starts) == 0 {
		return 1
	}
	return len(index.starts)
}

// Len returns the indexed document length in runes.
func (index LineIndex) Len() int {
	return index.length
}

// LineStart returns the offset of the first rune of a 1-based line, clamped to the document.
func (index LineIndex) LineStart(line int) int {
	if len(index.starts) == 0 || line < 1 {
		return 0
	}
	if line > len(index.starts) {
		return index.length
	}
	return index.starts[line-1]
}

// Position converts an offset, clamped to [0, Len], into a line and column.
func (index LineIndex) Position(offset int) Position {
	offset = index.Clamp(offset)
	if len(index.starts) == 0 {
		return Position{Line: 1, Column: offset + 1}
	}
	line := sort.Search(len(index.starts), func(i int) bool { return index.starts[i] > offset })
	return Position{Line: line, Column: offset - index.starts[line-1] + 1}
}

// Offset converts a position into an offset clamped to [0, Len]. Lines past
// the end of the document resolve to the document end.
func (index LineIndex) Offset(position Position) int {
	if position.Line > index.Lines() {
		return index.length
	}
	start := index.LineStart(position.Line)
	if position.Column < 1 {
		return index.Clamp(start)
	}
	if position.Column-1 > index.length-start {
		return index.length
	}
	return start + position.Column - 1
}

// Clamp bounds an offset to the document.
func (index LineIndex) Clamp(offset int) int {
	if offset < 0 {
		return 0
	}
	if offset > index.length {
		return index.length
	}
	return offset
}
