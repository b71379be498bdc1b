package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/condoflow/condoflow/pkg/models"
)

var (
	condoWorkspace string
	condoRepoURL   string
)

var condoCmd = &cobra.Command{
	Use:   "condo",
	Short: "Manage condos (project scopes)",
}

var condoCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a condo",
	Args:  cobra.ExactArgs(1),
	RunE:  runCondoCreate,
}

var condoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List condos",
	RunE:  runCondoList,
}

func init() {
	condoCreateCmd.Flags().StringVar(&condoWorkspace, "workspace", "", "Path to the condo's shared repository checkout")
	condoCreateCmd.Flags().StringVar(&condoRepoURL, "repo-url", "", "Remote URL backing the workspace")

	condoCmd.AddCommand(condoCreateCmd)
	condoCmd.AddCommand(condoListCmd)
}

func runCondoCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	condo, err := a.engine.CreateCondo(args[0], condoWorkspace, condoRepoURL)
	if err != nil {
		return err
	}
	color.Green("Created condo %s (%s)", condo.Name, condo.ID)
	return nil
}

func runCondoList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	doc, err := a.store.Snapshot()
	if err != nil {
		return err
	}
	if len(doc.Condos) == 0 {
		fmt.Println("No condos yet. Create one with 'condoflow condo create <name>'.")
		return nil
	}

	for _, c := range doc.Condos {
		goals := doc.GoalsForCondo(c.ID)
		done := 0
		for _, g := range goals {
			if g.Status == models.GoalStatusDone {
				done++
			}
		}
		fmt.Printf("%s  %s  (%d/%d goals done)\n", c.ID, c.Name, done, len(goals))
		if c.Workspace != nil {
			fmt.Printf("    workspace: %s\n", c.Workspace.Path)
		}
		if len(c.CascadePendingGoals) > 0 {
			color.Yellow("    plan cascade pending: %v", c.CascadePendingGoals)
		}
	}
	return nil
}
