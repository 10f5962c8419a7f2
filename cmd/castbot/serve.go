package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"castbot/internal/app"
	"castbot/internal/config"
	"castbot/internal/surface/telegram"
)

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		stopTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as a Telegram operator bot",
		Long: "Starts the operator bot (control.bot_token) and waits for commands from\n" +
			"control.owner_user_ids: /cast [delay interval], /stop, /code, /status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, stopTimeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to config file (json or yaml)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 20*time.Second, "max wait for graceful shutdown")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, stopTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(configPath, app.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	cfg := a.Config()

	poll, err := config.Duration("control.poll_timeout", cfg.Control.PollTimeout, 10*time.Second)
	if err != nil {
		_ = a.Stop(ctx, app.StopFatalError)
		return err
	}
	var history telegram.History
	if st := a.History(); st != nil {
		history = st
	}
	surface, err := telegram.New(telegram.Config{
		Token:           cfg.Control.BotToken,
		PollTimeout:     poll,
		OwnerIDs:        cfg.Control.OwnerUserIDs,
		Credentials:     app.Credentials(cfg),
		DefaultDelay:    cfg.Broadcast.DelayBetweenMessages,
		DefaultInterval: cfg.Broadcast.IntervalBetweenBatches,
	}, history, a.Logger())
	if err != nil {
		_ = a.Stop(ctx, app.StopFatalError)
		return err
	}

	return a.Run(ctx, surface, stopTimeout)
}
