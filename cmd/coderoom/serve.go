package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/config"
	"github.com/MarcoPoloResearchLab/coderoom/internal/database"
	"github.com/MarcoPoloResearchLab/coderoom/internal/logging"
	"github.com/MarcoPoloResearchLab/coderoom/internal/realtime"
	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"github.com/MarcoPoloResearchLab/coderoom/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(defaults *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room API and realtime relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.Flags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.Flags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.Flags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.Flags().Int("realtime-buffer-size", defaults.GetInt("realtime.buffer_size"), "Per-subscriber realtime buffer")

	bindFlag(cmd.Flags(), "http.address", "http-address")
	bindFlag(cmd.Flags(), "database.driver", "database-driver")
	bindFlag(cmd.Flags(), "database.path", "database-path")
	bindFlag(cmd.Flags(), "database.dsn", "database-dsn")
	bindFlag(cmd.Flags(), "realtime.buffer_size", "realtime-buffer-size")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	roomsService, err := rooms.NewService(rooms.ServiceConfig{
		Database:             db,
		Clock:                time.Now,
		IDProvider:           rooms.NewUUIDProvider(),
		Logger:               logger,
		DefaultSnapshotLimit: appConfig.DefaultSnapshotLimit,
		MaxSnapshotLimit:     appConfig.MaxSnapshotLimit,
	})
	if err != nil {
		return err
	}

	broker := realtime.NewBroker(realtime.BrokerConfig{
		BufferSize: appConfig.RealtimeBufferSize,
		Logger:     logger,
	})

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		RoomsService: roomsService,
		Broker:       broker,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}
	// Realtime peers are hijacked connections that Shutdown does not track;
	// deriving requests from the signal context closes them on exit.
	httpServer.BaseContext = func(net.Listener) context.Context { return signalCtx }

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
