package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stockroom/internal/database"
	"stockroom/internal/monitoring"
)

func newCheckConfigCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration ok")
			fmt.Fprintf(out, "  spreadsheet:      %s\n", cfg.Sheets.SpreadsheetID)
			fmt.Fprintf(out, "  item sheet:       %s\n", cfg.Sheets.ItemSheet)
			fmt.Fprintf(out, "  reference sheet:  %s\n", cfg.Sheets.ReferenceSheet)
			fmt.Fprintf(out, "  low stock level:  %d\n", cfg.Inventory.LowStockThreshold)
			fmt.Fprintf(out, "  session database: %s\n", cfg.Database.Driver)

			if verbose {
				data, err := yaml.Marshal(cfg.Redacted())
				if err != nil {
					return fmt.Errorf("failed to render config: %w", err)
				}
				fmt.Fprintf(out, "\n%s", data)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the effective configuration with secrets masked")
	return cmd
}

func newSignOutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Server.LogLevel)

			db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, err := newSessionManager(cfg, db, logger, monitoring.NewMetrics())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := mgr.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}
