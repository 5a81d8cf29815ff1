// Package textbuf holds the editable document: rune-addressed content, a
// local caret, line indexing and change notifications.
//
// A Buffer is not safe for concurrent use. It is meant to be owned by a single
// goroutine, such as a collaboration session loop.
package textbuf

// Listener observes every change applied to a buffer, after it has been applied.
type Listener func(Change)

// Buffer is an editable text document with a caret.
type Buffer struct {
	content   []rune
	cursor    int
	index     *LineIndex
	listeners []Listener
}

// New returns a buffer holding content with the caret at the start.
func New(content string) *Buffer {
	return &Buffer{content: []rune(content)}
}

// String returns the document text.
func (b *Buffer) String() string {
	return string(b.content)
}

// Len returns the document length in runes.
func (b *Buffer) Len() int {
	return len(b.content)
}

// Cursor returns the caret offset.
func (b *Buffer) Cursor() int {
	return b.cursor
}

// SetCursor moves the caret, clamping to the document, and returns the applied offset.
func (b *Buffer) SetCursor(offset int) int {
	b.cursor = b.Index().Clamp(offset)
	return b.cursor
}

// Index returns the line index of the current document version.
func (b *Buffer) Index() LineIndex {
	if b.index == nil {
		index := indexRunes(b.content)
		b.index = &index
	}
	return *b.index
}

// OnChange registers a listener for applied changes.
func (b *Buffer) OnChange(listener Listener) {
	if listener != nil {
		b.listeners = append(b.listeners, listener)
	}
}

// Apply performs a change, maps the caret through it and notifies listeners.
// Empty changes are ignored.
func (b *Buffer) Apply(change Change) error {
	if err := change.Validate(len(b.content)); err != nil {
		return err
	}
	if change.IsEmpty() {
		return nil
	}
	inserted := []rune(change.Insert)
	next := make([]rune, 0, len(b.content)-change.DeletedLen()+len(inserted))
	next = append(next, b.content[:change.From]...)
	next = append(next, inserted...)
	next = append(next, b.content[change.To:]...)
	b.content = next
	b.index = nil
	b.cursor = change.MapPos(b.cursor)
	for _, listener := range b.listeners {
		listener(change)
	}
	return nil
}

// Replace swaps the whole document for text using the smallest single change.
// It reports whether anything changed.
func (b *Buffer) Replace(text string) (Change, bool) {
	change := diffRunes(b.content, []rune(text))
	if change.IsEmpty() {
		return change, false
	}
	// A diff of the current content is always in range.
	_ = b.Apply(change)
	return change, true
}

// Reset loads text without notifying listeners and moves the caret to the start.
func (b *Buffer) Reset(text string) {
	b.content = []rune(text)
	b.index = nil
	b.cursor = 0
}
