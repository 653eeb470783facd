package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/server"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "calendar-sync-api",
	Short: "Calendar sync and webhook reconciliation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, polling scheduler, cron jobs and bot worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run()
	},
}

var pollConnection string

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll for a connection and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(pollConnection)
		if err != nil {
			return fmt.Errorf("invalid --connection: %w", err)
		}
		return server.RunOnce(func(ctx context.Context, app *server.App) error {
			conn, err := app.Calendar.Repo.GetConnectionByID(ctx, id)
			if err != nil {
				return err
			}
			res, err := app.Poller.Poll(ctx, conn)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew-webhooks",
	Short: "Renew every webhook subscription inside the renewal window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.RunOnce(func(ctx context.Context, app *server.App) error {
			report, err := app.Manager.RenewExpiring(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	pollCmd.Flags().StringVar(&pollConnection, "connection", "", "connection id to poll")
	_ = pollCmd.MarkFlagRequired("connection")

	rootCmd.AddCommand(serveCmd, pollCmd, renewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Main:Execute", "error", err)
		os.Exit(1)
	}
}
