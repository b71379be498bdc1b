package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var hookFailure string

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Runtime lifecycle hooks",
	Long: `Entry points the agent runtime calls as sessions change state.

These drive the cascade: session-ended advances the task state machine
(completion, retry, merge handoff) and session-output feeds plan-log
extraction.`,
}

var hookSessionEndedCmd = &cobra.Command{
	Use:   "session-ended <session-key>",
	Short: "Process a session ending",
	Args:  cobra.ExactArgs(1),
	RunE:  runHookSessionEnded,
}

var hookSessionOutputCmd = &cobra.Command{
	Use:   "session-output <session-key>",
	Short: "Feed streamed session output from stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runHookSessionOutput,
}

func init() {
	hookSessionEndedCmd.Flags().StringVar(&hookFailure, "failure", "", "Failure message if the session ended unsuccessfully")

	hookCmd.AddCommand(hookSessionEndedCmd)
	hookCmd.AddCommand(hookSessionOutputCmd)
	rootCmd.AddCommand(hookCmd)
}

func runHookSessionEnded(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.engine.SessionEnded(context.Background(), args[0], hookFailure)
	a.drain()
	return nil
}

func runHookSessionOutput(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	a.engine.SessionStreamed(args[0], string(data))
	return nil
}
