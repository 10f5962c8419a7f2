package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"castbot/internal/app"
	"castbot/internal/auth"
	"castbot/internal/config"
)

func newCheckConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to config file (json or yaml)")
	return cmd
}

func runCheckConfig(cmd *cobra.Command, configPath string) error {
	cfg, err := config.NewConfigManager(configPath).Load()
	if err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	if err := app.Validate(cfg); err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: %s\n", configPath)
	creds := app.Credentials(cfg)
	if err := creds.Validate(); err != nil {
		// Not fatal: secrets may be prompted for or supplied at /cast time.
		fmt.Fprintf(out, "  credentials: incomplete (%v)\n", err)
	} else {
		fmt.Fprintf(out, "  account: %s (api_id %d)\n", auth.MaskPhone(creds.Phone), creds.APIID)
	}
	driver := "disabled"
	if cfg.Storage != nil && cfg.Storage.Driver != "" {
		driver = cfg.Storage.Driver
	}
	fmt.Fprintf(out, "  storage: %s\n", driver)
	fmt.Fprintf(out, "  operator bot: %v\n", cfg.Control.BotToken != "")
	return nil
}
