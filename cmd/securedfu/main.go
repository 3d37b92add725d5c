package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	cmd := &cobra.Command{
		Use:   "securedfu",
		Short: "Update nRF5 devices over Bluetooth LE with Nordic Secure DFU",
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol traffic")

	cmd.AddCommand(
		newUpdateCommand(),
		newInspectCommand(),
		newScanCommand(),
	)

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
