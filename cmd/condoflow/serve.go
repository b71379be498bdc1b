package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run resident, hosting plan-file watches and deferred cascades",
	Long: `Keeps the engine alive between runtime hooks.

One-shot commands drain their own deferred work before exiting, but
plan-file watches only live as long as the watching process. Serve
restores the watch for every in-progress task that declares a plan file
and stays up until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	n := a.engine.RestoreWatches()
	color.Green("Watching %d plan file(s); press Ctrl-C to stop", n)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	a.drain()
	return nil
}
