package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/apiclient"
	"github.com/MarcoPoloResearchLab/coderoom/internal/collab"
	"github.com/MarcoPoloResearchLab/coderoom/internal/realtime"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/textbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 20 * time.Millisecond
)

func startRemoteSession(t *testing.T, serverURL string, participant collab.Participant) *collab.Session {
	t.Helper()

	transport, err := realtime.NewWebSocketTransport(realtime.WebSocketConfig{BaseURL: serverURL})
	require.NoError(t, err)
	store, err := apiclient.NewClient(apiclient.Config{BaseURL: serverURL})
	require.NoError(t, err)

	session, err := collab.NewSession(collab.SessionConfig{
		Transport:     transport,
		Store:         store,
		Participant:   participant,
		AutosaveDelay: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = session.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return session
}

func sessionState(t *testing.T, session *collab.Session) collab.State {
	t.Helper()
	state, err := session.State(context.Background())
	require.NoError(t, err)
	return state
}

func TestSessionsCollaborateThroughServer(t *testing.T) {
	deps := newTestDependencies(t)
	handler, err := NewHTTPHandler(deps)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := apiclient.NewClient(apiclient.Config{BaseURL: server.URL})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = client.CreateRoom(ctx, rooms.RoomDraft{RoomID: "r1", Name: "Pairing", Code: "", Language: "go"})
	require.NoError(t, err)

	alice := startRemoteSession(t, server.URL, collab.NewParticipant("u1", "Alice"))
	bob := startRemoteSession(t, server.URL, collab.NewParticipant("u2", "Bob"))

	require.NoError(t, alice.Open(ctx, "r1"))
	require.NoError(t, bob.Open(ctx, "r1"))
	assert.Equal(t, "go", sessionState(t, bob).Language)
	require.Eventually(t, func() bool {
		return deps.Broker.Subscribers("room:r1") == 2
	}, waitFor, tick)

	require.NoError(t, alice.Replace(ctx, "package main"))
	require.Eventually(t, func() bool {
		return sessionState(t, bob).Code == "package main"
	}, waitFor, tick)

	require.NoError(t, alice.MoveCursorTo(ctx, textbuf.Position{Line: 1, Column: 9}))
	require.Eventually(t, func() bool {
		decorations := sessionState(t, bob).Decorations
		return len(decorations) == 1 && decorations[0].UserID == "u1" && decorations[0].Offset == 8
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		room, err := client.LoadRoom(ctx, "r1")
		return err == nil && room.Code == "package main"
	}, waitFor, tick)

	snapshot, err := bob.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u2", snapshot.AuthorID)
	history, err := alice.Snapshots(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, snapshot.SnapshotID, history[0].SnapshotID)

	require.NoError(t, alice.Close(ctx))
	require.Eventually(t, func() bool {
		state := sessionState(t, bob)
		return len(state.Participants) == 0 && len(state.Decorations) == 0
	}, waitFor, tick)
}
