package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"castbot/internal/app"
	"castbot/internal/surface/console"
)

type runOpts struct {
	configPath  string
	delay       string
	interval    string
	askPassword bool
	stopTimeout time.Duration
}

func newRunCmd() *cobra.Command {
	var o runOpts

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start broadcasting from the terminal",
		Long: "Signs in and starts broadcasting immediately. Log lines are printed as they happen;\n" +
			"type \"stop\" to end the run, \"code <digits>\" to answer the sign-in challenge.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, o)
		},
	}

	cmd.Flags().StringVarP(&o.configPath, "config", "c", defaultConfig, "path to config file (json or yaml)")
	cmd.Flags().StringVar(&o.delay, "delay", "", "seconds between messages (overrides broadcast.delay_between_messages)")
	cmd.Flags().StringVar(&o.interval, "interval", "", "seconds between cycles (overrides broadcast.interval_between_batches)")
	cmd.Flags().BoolVar(&o.askPassword, "ask-password", false, "prompt for the two-step verification password")
	cmd.Flags().DurationVar(&o.stopTimeout, "stop-timeout", 20*time.Second, "max wait for graceful shutdown")
	return cmd
}

func runRun(cmd *cobra.Command, o runOpts) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(o.configPath, app.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	cfg := a.Config()

	creds := app.Credentials(cfg)
	fd := int(os.Stdin.Fd())
	if err := console.FillSecrets(&creds, fd, cmd.ErrOrStderr(), o.askPassword); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	delay, interval := cfg.Broadcast.DelayBetweenMessages, cfg.Broadcast.IntervalBetweenBatches
	if o.delay != "" {
		delay = o.delay
	}
	if o.interval != "" {
		interval = o.interval
	}

	surface := console.New(console.Config{
		Credentials: creds,
		Delay:       delay,
		Interval:    interval,
		AutoStart:   true,
		// Piped input cannot supply a code later, so leave when the run ends.
		ExitOnFinish: !term.IsTerminal(fd),
	}, cmd.InOrStdin(), cmd.OutOrStdout(), a.Logger())

	return a.Run(ctx, surface, o.stopTimeout)
}
