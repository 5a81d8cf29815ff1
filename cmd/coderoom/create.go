package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/coderoom/internal/apiclient"
	"github.com/MarcoPoloResearchLab/coderoom/internal/config"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type createOptions struct {
	roomID   string
	name     string
	language string
	codeFile string
}

func newCreateCommand() *cobra.Command {
	options := &createOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), *options)
		},
	}

	cmd.Flags().StringVar(&options.roomID, "id", "", "Room id (generated when empty)")
	cmd.Flags().StringVar(&options.name, "name", rooms.DefaultRoomName, "Room name")
	cmd.Flags().StringVar(&options.language, "language", rooms.DefaultLanguage, "Room language tag")
	cmd.Flags().StringVar(&options.codeFile, "code-file", "", "File holding the initial document")
	return cmd
}

func runCreate(ctx context.Context, options createOptions) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}
	client, err := apiclient.NewClient(apiclient.Config{BaseURL: clientConfig.ServerURL})
	if err != nil {
		return err
	}

	draft := rooms.RoomDraft{RoomID: options.roomID, Name: options.name, Language: options.language}
	if options.codeFile != "" {
		code, err := os.ReadFile(options.codeFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", options.codeFile, err)
		}
		draft.Code = string(code)
	}

	room, err := client.CreateRoom(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, room.RoomID)
	return nil
}
