package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mail-archiver-go/internal/app"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "mail-archiver",
		Short:         "Archive inbound email to long-term storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newSweepCmd(&configPath),
		newImportCmd(&configPath),
		newMigrateCmd(&configPath),
	)
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, queue consumer and recovery sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Serve(ctx)
		},
	}
}

func newSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-enqueue emails that are still pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			logrus.Infof("Re-enqueued %d pending emails", n)
			return nil
		},
	}
}

func newImportCmd(configPath *string) *cobra.Command {
	var mboxPath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Backfill the archive from an mbox file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Import(ctx, mboxPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d messages: %d stored, %d duplicates, %d failed\n",
				stats.Total, stats.Stored, stats.Duplicates, stats.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&mboxPath, "mbox", "", "path to the mbox file")
	_ = cmd.MarkFlagRequired("mbox")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(*configPath)
		},
	}
}
