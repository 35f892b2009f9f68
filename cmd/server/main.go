package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"objectdetection/internal/app"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:          "objectdetection",
	Short:        "Multi-resolution object detection server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.NewApp(cmd.Context(), envFile)
		if err != nil {
			return err
		}
		return application.Run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional .env file loaded before reading the environment")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
