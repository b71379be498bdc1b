package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/condoflow/condoflow/internal/engine"
	"github.com/condoflow/condoflow/internal/ops"
	"github.com/condoflow/condoflow/pkg/models"
)

var (
	goalCondoID    string
	goalDependsOn  []string
	goalTasks      []string
	goalPhase      int
	goalAutonomy   string
	goalMaxRetries int

	taskAgent    string
	taskDeps     []string
	taskPlanFile string

	planFull bool
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage goals and drive the cascade",
}

var goalCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a goal with optional inline tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalCreate,
}

var goalAddTaskCmd = &cobra.Command{
	Use:   "add-task <goal-id> <text>",
	Short: "Append a task to a goal",
	Args:  cobra.ExactArgs(2),
	RunE:  runGoalAddTask,
}

var goalKickoffCmd = &cobra.Command{
	Use:   "kickoff <goal-id>",
	Short: "Spawn sessions for every unblocked task of a goal",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalKickoff,
}

var goalCloseCmd = &cobra.Command{
	Use:   "close <goal-id>",
	Short: "Tear down a goal's sessions and drop it",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalClose,
}

var goalPlanCmd = &cobra.Command{
	Use:   "plan <goal-id>",
	Short: "Start a manager plan cascade for a goal",
	Long: `Spawns a manager session that breaks the goal into tasks.

By default the cascade stops once the plan is turned into tasks, waiting
for 'goal approve'. With --full the tasks are kicked off automatically
as soon as the plan lands.`,
	Args: cobra.ExactArgs(1),
	RunE: runGoalPlan,
}

var goalApproveCmd = &cobra.Command{
	Use:   "approve <goal-id>",
	Short: "Approve a manager's plan and kick off its tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalApprove,
}

var goalRetryCmd = &cobra.Command{
	Use:   "retry <push|merge> <goal-id>",
	Short: "Re-run a failed push or merge",
	Args:  cobra.ExactArgs(2),
	RunE:  runGoalRetry,
}

var goalBranchCmd = &cobra.Command{
	Use:   "branch <goal-id>",
	Short: "Show the goal branch position relative to the main line",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalBranch,
}

var goalPRCmd = &cobra.Command{
	Use:   "pr <goal-id>",
	Short: "Push the goal branch and open a pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalPR,
}

var pushMainCmd = &cobra.Command{
	Use:   "push-main <condo-id>",
	Short: "Push the condo's main branch to its remote",
	Args:  cobra.ExactArgs(1),
	RunE:  runPushMain,
}

func init() {
	goalCreateCmd.Flags().StringVar(&goalCondoID, "condo", "", "Condo the goal belongs to (required)")
	goalCreateCmd.Flags().StringSliceVar(&goalDependsOn, "depends-on", nil, "Goal IDs that must finish first")
	goalCreateCmd.Flags().StringArrayVar(&goalTasks, "task", nil, "Inline task text (repeatable)")
	goalCreateCmd.Flags().IntVar(&goalPhase, "phase", 0, "Phase number within the condo")
	goalCreateCmd.Flags().StringVar(&goalAutonomy, "autonomy", "", "Autonomy mode (supervised|full)")
	goalCreateCmd.Flags().IntVar(&goalMaxRetries, "max-retries", 0, "Per-task retry budget")
	goalCreateCmd.MarkFlagRequired("condo")

	goalAddTaskCmd.Flags().StringVar(&taskAgent, "agent", "", "Worker role for the task")
	goalAddTaskCmd.Flags().StringSliceVar(&taskDeps, "depends-on", nil, "Task IDs that must finish first")
	goalAddTaskCmd.Flags().StringVar(&taskPlanFile, "plan-file", "", "Plan file path the worker maintains")

	goalPlanCmd.Flags().BoolVar(&planFull, "full", false, "Kick off tasks automatically once the plan lands")

	goalCmd.AddCommand(goalCreateCmd)
	goalCmd.AddCommand(goalAddTaskCmd)
	goalCmd.AddCommand(goalKickoffCmd)
	goalCmd.AddCommand(goalCloseCmd)
	goalCmd.AddCommand(goalPlanCmd)
	goalCmd.AddCommand(goalApproveCmd)
	goalCmd.AddCommand(goalRetryCmd)
	goalCmd.AddCommand(goalBranchCmd)
	goalCmd.AddCommand(goalPRCmd)
	goalCmd.AddCommand(pushMainCmd)
}

func runGoalCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	params := engine.GoalParams{
		CondoID:      goalCondoID,
		Title:        args[0],
		DependsOn:    goalDependsOn,
		Phase:        goalPhase,
		AutonomyMode: models.AutonomyMode(goalAutonomy),
		MaxRetries:   goalMaxRetries,
	}
	if goalMaxRetries == 0 {
		params.MaxRetries = a.cfg.Defaults.MaxRetries
	}
	if goalAutonomy == "" {
		params.AutonomyMode = models.AutonomyMode(a.cfg.Defaults.AutonomyMode)
	}
	for _, text := range goalTasks {
		params.Tasks = append(params.Tasks, engine.TaskParams{Text: text})
	}

	goal, err := a.engine.CreateGoal(params)
	if err != nil {
		return err
	}
	color.Green("Created goal %s: %s (%d tasks)", goal.ID, goal.Title, len(goal.Tasks))
	return nil
}

func runGoalAddTask(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	task, err := a.engine.AddTask(args[0], engine.TaskParams{
		Text:          args[1],
		AssignedAgent: taskAgent,
		DependsOn:     taskDeps,
		PlanFile:      taskPlanFile,
	})
	if err != nil {
		return err
	}
	color.Green("Added task %s to goal %s", task.ID, args[0])
	return nil
}

func runGoalKickoff(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	resp := a.registry.Handle(context.Background(), "kickoff", ops.Params{"goalId": args[0]})
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	result := resp.Data.(*engine.KickoffResult)

	if len(result.Spawned) == 0 {
		color.Yellow("%s", result.Message)
		return nil
	}
	color.Green("%s", result.Message)
	for _, s := range result.Spawned {
		mark := color.GreenString("started")
		if !s.HeadlessStarted {
			mark = color.RedString("send failed")
		}
		fmt.Printf("  task %s -> session %s [%s]\n", s.TaskID, s.SessionKey, mark)
	}
	for _, e := range result.Errors {
		color.Red("  %s", e)
	}
	a.drain()
	return nil
}

func runGoalClose(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return respond(a.registry.Handle(context.Background(), "close", ops.Params{"goalId": args[0]}))
}

func runGoalPlan(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	mode := models.CascadeModePlan
	if planFull {
		mode = models.CascadeModeFull
	}
	if err := a.engine.StartPlanCascade(context.Background(), args[0], mode); err != nil {
		return err
	}
	color.Green("Manager session spawned for goal %s (mode %s)", args[0], mode)
	return nil
}

func runGoalApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.ApprovePlan(context.Background(), args[0])
	if err != nil {
		return err
	}
	color.Green("%s", result.Message)
	a.drain()
	return nil
}

func runGoalRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	switch strings.ToLower(args[0]) {
	case "push":
		return respond(a.registry.Handle(context.Background(), "retryPush", ops.Params{"goalId": args[1]}))
	case "merge":
		defer a.drain()
		return respond(a.registry.Handle(context.Background(), "retryMerge", ops.Params{"goalId": args[1]}))
	default:
		return fmt.Errorf("unknown retry target %q (want push or merge)", args[0])
	}
}

func runGoalBranch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	info, err := a.engine.BranchStatus(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("branch %s: %d ahead, %d behind\n", info.Branch, info.Ahead, info.Behind)
	fmt.Printf("merge: %s  push: %s\n", orNone(string(info.MergeStatus)), orNone(string(info.PushStatus)))
	return nil
}

func runGoalPR(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	url, err := a.engine.CreatePR(context.Background(), args[0], nil)
	if err != nil {
		return err
	}
	color.Green("Opened %s", url)
	return nil
}

func runPushMain(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return respond(a.registry.Handle(context.Background(), "pushMain", ops.Params{"condoId": args[0]}))
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
