package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/condoflow/condoflow/internal/bus"
)

var (
	eventsSince int64
	eventsLimit int
	eventsPurge time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the durable goal-event relay buffer",
	Long: `Reads goal-namespace events from the append-only relay buffer.

The buffer exists so a separate process can observe goal state even
when it wasn't subscribed when the events fired. Use --since with the
last seen sequence number to page through new entries.`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Int64Var(&eventsSince, "since", 0, "Only show entries after this sequence number")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum entries to show")
	eventsCmd.Flags().DurationVar(&eventsPurge, "purge-older-than", 0, "Delete entries older than this duration instead of reading")
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if eventsPurge > 0 {
		n, err := a.outbox.Purge(eventsPurge)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d entries older than %s\n", n, eventsPurge)
		return nil
	}

	entries, err := a.outbox.ReadSince(eventsSince, eventsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No new events.")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%6d  %s  %-18s goal=%s", e.Seq,
			e.Event.Timestamp.Format("15:04:05"), e.Event.Type, e.Event.GoalID)
		if e.Event.Error != "" {
			color.Red("%s  %s", line, e.Event.Error)
			continue
		}
		if e.Event.Type == bus.EventGoalCompleted || e.Event.Type == bus.EventGoalMerged {
			color.Green("%s", line)
			continue
		}
		fmt.Println(line)
	}
	fmt.Printf("\nNext cursor: --since %d\n", entries[len(entries)-1].Seq)
	return nil
}
