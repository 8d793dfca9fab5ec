package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supportdesk/internal/auth"
	"supportdesk/internal/bus"
	"supportdesk/internal/config"
	"supportdesk/internal/desk"
	"supportdesk/internal/directory"
	"supportdesk/internal/metrics"
	"supportdesk/internal/web"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var reseed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API and websocket stream",
		Long:  "Opens the conversation directory, seeds it when empty, and serves the desk over HTTP. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(reseed)
		},
	}
	cmd.Flags().BoolVar(&reseed, "reseed", false, "replace the directory contents with the seed data")
	return cmd
}

func runServe(reseed bool) error {
	cfgPath := resolveConfigPath()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.General.LogLevel)
	if err != nil {
		return err
	}
	var closeLog func() error
	logger, closeLog = config.SetupLogger(cfg.General.LogFile, level)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := directory.NewSQLiteStore(config.ExpandPath(cfg.Directory.DBPath), logger.With("component", "directory"))
	if err != nil {
		return fmt.Errorf("directory store: %w", err)
	}
	defer store.Close()

	if err := seedDirectory(ctx, store, cfg.Directory.SeedFile, reseed); err != nil {
		return err
	}

	m := metrics.New()
	eventBus := bus.NewEventBus(logger.With("component", "bus"))

	d := desk.New(desk.Options{
		Store:         store,
		Bus:           eventBus,
		Logger:        logger.With("component", "desk"),
		Metrics:       m,
		StaffName:     cfg.General.AgentName,
		DeliverDelay:  ms(cfg.Timeline.DeliverDelayMs),
		TypingDelay:   ms(cfg.Timeline.TypingDelayMs),
		TakeOverDelay: explicit(ms(cfg.Timeline.TakeOverDelayMs)),
	})

	authn := auth.NewAuthenticator(auth.Options{
		Email:         cfg.Login.Email,
		Password:      cfg.Login.Password,
		Delay:         ms(cfg.Login.DelayMs),
		RatePerSecond: cfg.Login.RatePerSecond,
		Burst:         cfg.Login.Burst,
		Logger:        logger.With("component", "auth"),
		Metrics:       m,
		Bus:           eventBus,
	})
	defer authn.Close()

	srv := web.NewServer(web.ServerConfig{
		Host:          cfg.Web.Host,
		Port:          cfg.Web.Port,
		Version:       version,
		Desk:          d,
		Store:         store,
		Authenticator: authn,
		Metrics:       m,
		Logger:        logger.With("component", "web"),
		Config:        cfg,
		ConfigPath:    cfgPath,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	logger.Info("supportdesk started. Press Ctrl+C to stop.", "version", version)

	select {
	case err := <-errCh:
		d.CloseAll()
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.CloseAll()
		<-errCh
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// seedDirectory loads the seed fixture into store when it is empty or when
// reseed is set.
func seedDirectory(ctx context.Context, store *directory.SQLiteStore, seedFile string, reseed bool) error {
	if !reseed {
		existing, err := store.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(existing) > 0 {
			logger.Info("directory already populated", "conversations", len(existing))
			return nil
		}
	}

	var (
		data *directory.SeedData
		err  error
	)
	if seedFile != "" {
		data, err = directory.LoadSeedFile(config.ExpandPath(seedFile))
	} else {
		data, err = directory.DefaultSeed()
	}
	if err != nil {
		return fmt.Errorf("load seed: %w", err)
	}
	if err := store.Seed(ctx, data); err != nil {
		return fmt.Errorf("seed directory: %w", err)
	}
	logger.Info("directory seeded", "conversations", len(data.Conversations), "file", seedFile)
	return nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// explicit turns a configured zero into the negative value that desk and
// client options read as "none"; their own zero means "use the default".
func explicit[T ~int | ~int64](v T) T {
	if v == 0 {
		return -1
	}
	return v
}
