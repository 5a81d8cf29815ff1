// Package console drives a collaboration session from a line-oriented terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/collab"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 10

var errMissingEditor = errors.New("console: editor is required")

// Editor is the part of a session the console drives.
type Editor interface {
	Append(ctx context.Context, text string) error
	MoveCursorTo(ctx context.Context, position textbuf.Position) error
	SetLanguage(ctx context.Context, language string) error
	SetUserName(ctx context.Context, userName string) error
	Snapshot(ctx context.Context) (rooms.Snapshot, error)
	Snapshots(ctx context.Context, limit int) ([]rooms.Snapshot, error)
	State(ctx context.Context) (collab.State, error)
}

type Config struct {
	Editor Editor
	Output io.Writer
	Logger *zap.Logger
}

// Console executes commands typed by the local participant and prints what
// remote participants do.
type Console struct {
	editor Editor
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

func New(cfg Config) (*Console, error) {
	if cfg.Editor == nil {
		return nil, errMissingEditor
	}
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{editor: cfg.Editor, logger: logger, out: out}, nil
}

// Run reads commands until input ends, /quit is entered or ctx is cancelled.
func (c *Console) Run(ctx context.Context, input io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute runs one input line and reports whether the console should stop.
func (c *Console) Execute(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		c.report(c.editor.Append(ctx, line+"\n"))
		return false
	}

	fields := strings.Fields(line)
	command, args := fields[0], fields[1:]
	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printHelp()
	case "/cursor":
		c.moveCursor(ctx, args)
	case "/lang":
		c.setLanguage(ctx, args)
	case "/name":
		c.setName(ctx, strings.TrimSpace(strings.TrimPrefix(line, command)))
	case "/snapshot":
		snapshot, err := c.editor.Snapshot(ctx)
		if c.report(err) {
			c.printf("snapshot %s saved\n", snapshot.SnapshotID)
		}
	case "/history":
		c.history(ctx, args)
	case "/who":
		c.who(ctx)
	case "/show":
		c.show(ctx)
	default:
		c.printf("unknown command %s, try /help\n", command)
	}
	return false
}

// Render prints updates caused by remote participants and connection changes.
// It is safe to use as a session listener.
func (c *Console) Render(update collab.Update) {
	switch update.Kind {
	case collab.UpdateConnection:
		if update.State.Connected {
			c.printf("* connected to %s\n", update.State.RoomID)
		} else {
			c.printf("* disconnected from %s\n", update.State.RoomID)
		}
	case collab.UpdateDocument:
		if update.From == "" {
			return
		}
		c.printf("* %s edited the document (%d lines)\n", displayName(update.State, update.From), lineCount(update.State.Code))
	case collab.UpdatePresence:
		if update.From == "" {
			return
		}
		if participant, ok := findParticipant(update.State, update.From); ok {
			if participant.Cursor != nil {
				c.printf("* %s at %d:%d\n", participant.UserName, participant.Cursor.Line, participant.Cursor.Column)
			} else {
				c.printf("* %s is here\n", participant.UserName)
			}
			return
		}
		c.printf("* %s left\n", update.From)
	}
}

func (c *Console) moveCursor(ctx context.Context, args []string) {
	if len(args) != 2 {
		c.printf("usage: /cursor LINE COLUMN\n")
		return
	}
	line, lineErr := strconv.Atoi(args[0])
	column, columnErr := strconv.Atoi(args[1])
	if lineErr != nil || columnErr != nil {
		c.printf("usage: /cursor LINE COLUMN\n")
		return
	}
	c.report(c.editor.MoveCursorTo(ctx, textbuf.Position{Line: line, Column: column}))
}

func (c *Console) setLanguage(ctx context.Context, args []string) {
	if len(args) != 1 {
		c.printf("usage: /lang TAG\n")
		return
	}
	if !c.report(c.editor.SetLanguage(ctx, args[0])) {
		return
	}
	language, known := rooms.LookupLanguage(args[0])
	if !known {
		c.printf("language %s is not recognized, highlighting as %s\n", args[0], language.Label)
		return
	}
	c.printf("language set to %s\n", language.Label)
}

func (c *Console) setName(ctx context.Context, name string) {
	if name == "" {
		c.printf("usage: /name NAME\n")
		return
	}
	c.report(c.editor.SetUserName(ctx, name))
}

func (c *Console) history(ctx context.Context, args []string) {
	limit := defaultHistoryLimit
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			c.printf("usage: /history [COUNT]\n")
			return
		}
		limit = parsed
	}
	snapshots, err := c.editor.Snapshots(ctx, limit)
	if !c.report(err) {
		return
	}
	if len(snapshots) == 0 {
		c.printf("no snapshots yet\n")
		return
	}
	for _, snapshot := range snapshots {
		c.printf("%s  %s  %s  %d lines\n",
			snapshot.Timestamp().Local().Format(time.DateTime),
			snapshot.SnapshotID,
			snapshot.AuthorName,
			lineCount(snapshot.Code),
		)
	}
}

func (c *Console) who(ctx context.Context) {
	state, err := c.editor.State(ctx)
	if !c.report(err) {
		return
	}
	c.printf("%s (you) at %d:%d\n", state.Local.UserName, state.Cursor.Line, state.Cursor.Column)
	for _, participant := range state.Participants {
		if participant.Cursor == nil {
			c.printf("%s  %s\n", participant.UserName, participant.Color)
			continue
		}
		c.printf("%s  %s  at %d:%d\n", participant.UserName, participant.Color, participant.Cursor.Line, participant.Cursor.Column)
	}
}

func (c *Console) show(ctx context.Context) {
	state, err := c.editor.State(ctx)
	if !c.report(err) {
		return
	}
	status := "offline"
	if state.Connected {
		status = "live"
	}
	language, _ := rooms.LookupLanguage(state.Language)
	c.printf("-- %s [%s] %s, %d participants\n", state.RoomName, language.Label, status, len(state.Participants)+1)
	for index, text := range strings.Split(state.Code, "\n") {
		c.printf("%4d | %s\n", index+1, text)
	}
}

func (c *Console) printHelp() {
	c.printf(`commands:
  /cursor LINE COLUMN  move your cursor
  /lang TAG            change the room language
  /name NAME           change your display name
  /snapshot            save a snapshot of the document
  /history [COUNT]     list recent snapshots
  /who                 list participants
  /show                print the document
  /quit                leave the room
any other line is appended to the document
`)
}

// report prints err and reports whether the operation succeeded.
func (c *Console) report(err error) bool {
	if err == nil {
		return true
	}
	c.logger.Debug("console command failed", zap.Error(err))
	switch {
	case errors.Is(err, collab.ErrNotBound):
		c.printf("error: not in a room\n")
	case errors.Is(err, collab.ErrSessionClosed):
		c.printf("error: session closed\n")
	default:
		c.printf("error: %v\n", err)
	}
	return false
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func findParticipant(state collab.State, userID string) (collab.Participant, bool) {
	for _, participant := range state.Participants {
		if participant.UserID == userID {
			return participant, true
		}
	}
	return collab.Participant{}, false
}

func displayName(state collab.State, userID string) string {
	if participant, ok := findParticipant(state, userID); ok {
		return participant.UserName
	}
	return userID
}

func lineCount(code string) int {
	return strings.Count(code, "\n") + 1
}
