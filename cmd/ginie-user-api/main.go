package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BlockXAI/Ginie-User-Management/internal/app"
	"github.com/BlockXAI/Ginie-User-Management/internal/config"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/tools/common"
	"github.com/BlockXAI/Ginie-User-Management/internal/tools/smokecheck"
)

func main() {
	root := &cobra.Command{
		Use:   "ginie-user-api",
		Short: "Session, entitlement and job gateway service",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(smokecheck.NewRootCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)
			a, err := app.Build(context.Background(), cfg, logger)
			if err != nil {
				return err
			}
			return a.Run(context.Background())
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before config")
	return cmd
}
