package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/condoflow/condoflow/pkg/models"
)

var statusCondoID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show goals and tasks across condos",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusCondoID, "condo", "", "Limit output to one condo")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	doc, err := a.store.Snapshot()
	if err != nil {
		return err
	}

	condos := doc.Condos
	if statusCondoID != "" {
		c := doc.Condo(statusCondoID)
		if c == nil {
			return fmt.Errorf("condo %s: not found", statusCondoID)
		}
		condos = []*models.Condo{c}
	}
	if len(condos) == 0 {
		fmt.Println("Nothing to show. Create a condo first.")
		return nil
	}

	for _, c := range condos {
		color.New(color.Bold).Printf("%s (%s)\n", c.Name, c.ID)
		goals := doc.GoalsForCondo(c.ID)
		if len(goals) == 0 {
			fmt.Println("  no goals")
			continue
		}
		for _, g := range goals {
			fmt.Printf("  %s %s [%s]", goalGlyph(g), g.Title, g.ID)
			if len(g.DependsOn) > 0 {
				fmt.Printf(" needs %v", g.DependsOn)
			}
			if g.CascadeState != models.CascadeStateNone {
				fmt.Printf(" cascade:%s", g.CascadeState)
			}
			if g.MergeStatus == models.MergeStatusConflict {
				color.Red(" MERGE CONFLICT")
			}
			fmt.Println()
			for _, t := range g.Tasks {
				fmt.Printf("      %s %s", taskGlyph(t), t.Text)
				if t.RetryCount > 0 {
					color.Yellow(" (retry %d)", t.RetryCount)
				}
				if t.Status == models.TaskStatusFailed {
					color.Red(" failed: %s", t.LastError)
				}
				fmt.Println()
			}
		}
	}
	return nil
}

func goalGlyph(g *models.Goal) string {
	switch g.Status {
	case models.GoalStatusDone:
		return color.GreenString("✓")
	case models.GoalStatusBlocked:
		return color.YellowString("⊘")
	case models.GoalStatusDropped:
		return color.RedString("✗")
	default:
		return "·"
	}
}

func taskGlyph(t *models.Task) string {
	switch t.Status {
	case models.TaskStatusDone:
		return color.GreenString("✓")
	case models.TaskStatusInProgress:
		return color.CyanString("▸")
	case models.TaskStatusFailed:
		return color.RedString("✗")
	case models.TaskStatusBlocked, models.TaskStatusWaiting:
		return color.YellowString("⊘")
	default:
		return "·"
	}
}
