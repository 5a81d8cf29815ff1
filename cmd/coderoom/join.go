package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/coderoom/internal/apiclient"
	"github.com/MarcoPoloResearchLab/coderoom/internal/collab"
	"github.com/MarcoPoloResearchLab/coderoom/internal/config"
	"github.com/MarcoPoloResearchLab/coderoom/internal/console"
	"github.com/MarcoPoloResearchLab/coderoom/internal/identity"
	"github.com/MarcoPoloResearchLab/coderoom/internal/logging"
	"github.com/MarcoPoloResearchLab/coderoom/internal/realtime"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newJoinCommand(defaults *viper.Viper) *cobra.Command {
	var roomFlag string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room as a terminal participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), roomFlag)
		},
	}

	cmd.Flags().StringVar(&roomFlag, "room", "", "Room id to join")
	cmd.Flags().String("name", "", "Display name shown to other participants")
	cmd.Flags().String("identity", defaults.GetString("client.identity_path"), "Participant identity file")
	cmd.Flags().Duration("autosave", defaults.GetDuration("autosave.quiet_period"), "Quiet period before the document is saved")
	_ = cmd.MarkFlagRequired("room")

	bindFlag(cmd.Flags(), "client.user_name", "name")
	bindFlag(cmd.Flags(), "client.identity_path", "identity")
	bindFlag(cmd.Flags(), "autosave.quiet_period", "autosave")
	return cmd
}

// participantEditor persists display name changes to the identity file.
type participantEditor struct {
	*collab.Session
	identities *identity.Store
	userID     string
	logger     *zap.Logger
}

func (e *participantEditor) SetUserName(ctx context.Context, userName string) error {
	if err := e.Session.SetUserName(ctx, userName); err != nil {
		return err
	}
	if err := e.identities.Save(identity.Identity{UserID: e.userID, UserName: userName}); err != nil {
		e.logger.Warn("failed to persist display name", zap.Error(err))
	}
	return nil
}

func runJoin(ctx context.Context, rawRoomID string) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}
	roomID, err := rooms.NewRoomID(rawRoomID)
	if err != nil {
		return err
	}

	logger, err := logging.NewCLILogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	identities, err := identity.NewStore(clientConfig.IdentityPath)
	if err != nil {
		return err
	}
	nameOverride := clientConfig.UserName
	if nameOverride == rooms.DefaultAuthorName {
		nameOverride = ""
	}
	participant, err := identities.LoadOrCreate(nameOverride)
	if err != nil {
		return err
	}

	transport, err := realtime.NewWebSocketTransport(realtime.WebSocketConfig{
		BaseURL: clientConfig.ServerURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	store, err := apiclient.NewClient(apiclient.Config{BaseURL: clientConfig.ServerURL, Logger: logger})
	if err != nil {
		return err
	}

	var terminal *console.Console
	session, err := collab.NewSession(collab.SessionConfig{
		Transport:     transport,
		Store:         store,
		Participant:   collab.NewParticipant(participant.UserID, participant.UserName),
		Logger:        logger,
		AutosaveDelay: clientConfig.AutosaveQuietPeriod,
		Listener: func(update collab.Update) {
			terminal.Render(update)
		},
	})
	if err != nil {
		return err
	}
	terminal, err = console.New(console.Config{
		Editor: &participantEditor{
			Session:    session,
			identities: identities,
			userID:     participant.UserID,
			logger:     logger,
		},
		Output: os.Stdout,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() {
		finished <- session.Run(runCtx)
	}()
	defer func() {
		cancelRun()
		<-finished
	}()

	if err := session.Open(signalCtx, roomID); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "joined %s as %s, type /help for commands\n", roomID, participant.UserName)

	runErr := terminal.Run(signalCtx, os.Stdin)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelClose()
	if err := session.Close(closeCtx); err != nil {
		logger.Warn("failed to leave room", zap.Error(err))
	}
	return runErr
}
