package textbuf

import (
	"math"
	"testing"
)

func TestChangeMapPosInsertion(t *testing.T) {
	change := Insertion(4, "abc")
	cases := []struct {
		name     string
		position int
		expected int
	}{
		{name: "before insertion", position: 3, expected: 3},
		{name: "at insertion", position: 4, expected: 7},
		{name: "after insertion", position: 9, expected: 12},
	}
	for _, testCase := range cases {
		if mapped := change.MapPos(testCase.position); mapped != testCase.expected {
			t.Fatalf("%s: expected %d, got %d", testCase.name, testCase.expected, mapped)
		}
	}
}

func TestChangeMapPosDeletionAndReplacement(t *testing.T) {
	deletion := Deletion(2, 6)
	cases := []struct {
		change   Change
		position int
		expected int
	}{
		{change: deletion, position: 1, expected: 1},
		{change: deletion, position: 2, expected: 2},
		{change: deletion, position: 4, expected: 2},
		{change: deletion, position: 6, expected: 2},
		{change: deletion, position: 10, expected: 6},
		{change: Change{From: 2, To: 6, Insert: "xy"}, position: 4, expected: 4},
		{change: Change{From: 2, To: 6, Insert: "xy"}, position: 8, expected: 6},
	}
	for index, testCase := range cases {
		if mapped := testCase.change.MapPos(testCase.position); mapped != testCase.expected {
			t.Fatalf("case %d: expected %d, got %d", index, testCase.expected, mapped)
		}
	}
}

func TestDiffTrimsCommonPrefixAndSuffix(t *testing.T) {
	change := Diff("let x=1;", "let xy=1;")
	if change.From != 5 || change.To != 5 || change.Insert != "y" {
		t.Fatalf("unexpected change %+v", change)
	}

	change = Diff("abcdef", "abef")
	if change.From != 2 || change.To != 4 || change.Insert != "" {
		t.Fatalf("unexpected deletion %+v", change)
	}

	if !Diff("same", "same").IsEmpty() {
		t.Fatalf("expected empty diff for identical text")
	}
}

func TestLineIndexRoundTrip(t *testing.T) {
	index := NewLineIndex("let x=1;\nfoo\n")
	if index.Lines() != 3 {
		t.Fatalf("expected 3 lines, got %d", index.Lines())
	}
	position := index.Position(4)
	if position != (Position{Line: 1, Column: 5}) {
		t.Fatalf("unexpected position %+v", position)
	}
	if offset := index.Offset(Position{Line: 2, Column: 2}); offset != 10 {
		t.Fatalf("expected offset 10, got %d", offset)
	}
	if position := index.Position(13); position != (Position{Line: 3, Column: 1}) {
		t.Fatalf("unexpected end position %+v", position)
	}
}

func TestLineIndexClampsStalePositions(t *testing.T) {
	index := NewLineIndex("ab\ncd")
	if offset := index.Offset(Position{Line: 9, Column: 1}); offset != 5 {
		t.Fatalf("expected end offset for missing line, got %d", offset)
	}
	if offset := index.Offset(Position{Line: 2, Column: 40}); offset != 5 {
		t.Fatalf("expected clamped column, got %d", offset)
	}
	if offset := index.Offset(Position{Line: 2, Column: math.MaxInt}); offset != 5 {
		t.Fatalf("expected document end for huge column, got %d", offset)
	}
	if offset := index.Offset(Position{Line: 2, Column: math.MinInt}); offset != 3 {
		t.Fatalf("expected line start for column below 1, got %d", offset)
	}
	if position := index.Position(-3); position != (Position{Line: 1, Column: 1}) {
		t.Fatalf("expected clamped start, got %+v", position)
	}
}

func TestBufferApplyNotifiesAndMapsCursor(t *testing.T) {
	buffer := New("héllo")
	buffer.SetCursor(5)

	var observed []Change
	buffer.OnChange(func(change Change) {
		observed = append(observed, change)
	})

	if err := buffer.Apply(Insertion(1, "ü")); err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}
	if buffer.String() != "hüéllo" {
		t.Fatalf("unexpected content %q", buffer.String())
	}
	if buffer.Cursor() != 6 {
		t.Fatalf("expected cursor to move to 6, got %d", buffer.Cursor())
	}
	if len(observed) != 1 {
		t.Fatalf("expected one notification, got %d", len(observed))
	}

	if err := buffer.Apply(Deletion(4, 40)); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestBufferReplaceAndReset(t *testing.T) {
	buffer := New("let x=1;")
	notifications := 0
	buffer.OnChange(func(Change) { notifications++ })

	if _, changed := buffer.Replace("let x=1;"); changed {
		t.Fatalf("expected identical replace to be a no-op")
	}
	change, changed := buffer.Replace("let x=42;")
	if !changed || change.From != 6 || change.To != 7 || change.Insert != "42" {
		t.Fatalf("unexpected replace change %+v", change)
	}

	buffer.SetCursor(3)
	buffer.Reset("fresh")
	if buffer.String() != "fresh" || buffer.Cursor() != 0 {
		t.Fatalf("unexpected reset state %q cursor %d", buffer.String(), buffer.Cursor())
	}
	if notifications != 1 {
		t.Fatalf("expected reset to skip listeners, got %d notifications", notifications)
	}
}
