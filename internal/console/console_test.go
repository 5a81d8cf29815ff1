package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/collab"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
)

type fakeEditor struct {
	appended  []string
	cursor    textbuf.Position
	language  string
	userName  string
	limit     int
	snapshots []rooms.Snapshot
	state     collab.State
	err       error
}

func (f *fakeEditor) Append(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, text)
	return nil
}

func (f *fakeEditor) MoveCursorTo(_ context.Context, position textbuf.Position) error {
	f.cursor = position
	return f.err
}

func (f *fakeEditor) SetLanguage(_ context.Context, language string) error {
	f.language = language
	return f.err
}

func (f *fakeEditor) SetUserName(_ context.Context, userName string) error {
	f.userName = userName
	return f.err
}

func (f *fakeEditor) Snapshot(context.Context) (rooms.Snapshot, error) {
	if f.err != nil {
		return rooms.Snapshot{}, f.err
	}
	return rooms.Snapshot{SnapshotID: "snap-9"}, nil
}

func (f *fakeEditor) Snapshots(_ context.Context, limit int) ([]rooms.Snapshot, error) {
	f.limit = limit
	return f.snapshots, f.err
}

func (f *fakeEditor) State(context.Context) (collab.State, error) {
	return f.state, f.err
}

func newTestConsole(t *testing.T, editor *fakeEditor) (*Console, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	console, err := New(Config{Editor: editor, Output: output})
	if err != nil {
		t.Fatalf("unexpected console error: %v", err)
	}
	return console, output
}

func TestRunDispatchesCommandsUntilQuit(t *testing.T) {
	editor := &fakeEditor{}
	console, output := newTestConsole(t, editor)

	input := strings.Join([]string{
		"let x = 1;",
		"/cursor 2 3",
		"/lang c",
		"/name Ada Lovelace",
		"/snapshot",
		"/quit",
		"never read",
	}, "\n")
	if err := console.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if len(editor.appended) != 1 || editor.appended[0] != "let x = 1;\n" {
		t.Fatalf("unexpected appended text %q", editor.appended)
	}
	if editor.cursor != (textbuf.Position{Line: 2, Column: 3}) {
		t.Fatalf("unexpected cursor %+v", editor.cursor)
	}
	if editor.language != "c" || editor.userName != "Ada Lovelace" {
		t.Fatalf("unexpected language %q or name %q", editor.language, editor.userName)
	}
	text := output.String()
	if !strings.Contains(text, "language set to C++") || !strings.Contains(text, "snapshot snap-9 saved") {
		t.Fatalf("unexpected output %q", text)
	}
}

func TestExecuteReportsUsageAndErrors(t *testing.T) {
	editor := &fakeEditor{}
	console, output := newTestConsole(t, editor)

	console.Execute(context.Background(), "/cursor one")
	console.Execute(context.Background(), "/lang cobol")
	console.Execute(context.Background(), "/bogus")
	text := output.String()
	for _, expected := range []string{"usage: /cursor", "not recognized, highlighting as JavaScript", "unknown command /bogus"} {
		if !strings.Contains(text, expected) {
			t.Fatalf("expected %q in output %q", expected, text)
		}
	}

	output.Reset()
	editor.err = collab.ErrNotBound
	console.Execute(context.Background(), "/snapshot")
	if !strings.Contains(output.String(), "not in a room") {
		t.Fatalf("unexpected error output %q", output.String())
	}

	output.Reset()
	editor.err = errors.New("boom")
	console.Execute(context.Background(), "text")
	if !strings.Contains(output.String(), "error: boom") {
		t.Fatalf("unexpected error output %q", output.String())
	}
}

func TestHistoryAndWho(t *testing.T) {
	cursor := textbuf.Position{Line: 1, Column: 4}
	editor := &fakeEditor{
		snapshots: []rooms.Snapshot{{SnapshotID: "snap-2", AuthorName: "Ada", Code: "a\nb", CreatedAtMillis: time.Now().UnixMilli()}},
		state: collab.State{
			RoomName: "Pairing",
			Code:     "let x;",
			Local:    collab.Participant{UserID: "u1", UserName: "Ada"},
			Cursor:   textbuf.Position{Line: 1, Column: 1},
			Participants: []collab.Participant{
				{UserID: "u2", UserName: "Grace", Color: collab.ColorFor("u2"), Cursor: &cursor},
			},
		},
	}
	console, output := newTestConsole(t, editor)

	console.Execute(context.Background(), "/history 3")
	if editor.limit != 3 || !strings.Contains(output.String(), "snap-2  Ada  2 lines") {
		t.Fatalf("unexpected history output %q (limit %d)", output.String(), editor.limit)
	}

	output.Reset()
	console.Execute(context.Background(), "/who")
	if !strings.Contains(output.String(), "Ada (you) at 1:1") || !strings.Contains(output.String(), "Grace") || !strings.Contains(output.String(), "at 1:4") {
		t.Fatalf("unexpected who output %q", output.String())
	}

	output.Reset()
	console.Execute(context.Background(), "/show")
	if !strings.Contains(output.String(), "-- Pairing [JavaScript] offline, 2 participants") || !strings.Contains(output.String(), "   1 | let x;") {
		t.Fatalf("unexpected show output %q", output.String())
	}
}

func TestRenderIgnoresLocalUpdates(t *testing.T) {
	console, output := newTestConsole(t, &fakeEditor{})

	state := collab.State{
		RoomID:       "r1",
		Code:         "a\nb\nc",
		Participants: []collab.Participant{{UserID: "u2", UserName: "Grace"}},
	}
	console.Render(collab.Update{Kind: collab.UpdateDocument, State: state})
	if output.Len() != 0 {
		t.Fatalf("expected local update to be silent, got %q", output.String())
	}

	console.Render(collab.Update{Kind: collab.UpdateDocument, From: "u2", State: state})
	console.Render(collab.Update{Kind: collab.UpdatePresence, From: "u3", State: state})
	state.Connected = true
	console.Render(collab.Update{Kind: collab.UpdateConnection, State: state})

	text := output.String()
	for _, expected := range []string{"Grace edited the document (3 lines)", "u3 left", "connected to r1"} {
		if !strings.Contains(text, expected) {
			t.Fatalf("expected %q in output %q", expected, text)
		}
	}
}

func TestNewRequiresEditor(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing editor error")
	}
}
