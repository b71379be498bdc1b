package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/condoflow/condoflow/internal/graph"
	"github.com/condoflow/condoflow/pkg/models"
)

// ParsedTask is one task extracted from a manager's plan response.
type ParsedTask struct {
	// Label is the manager's local identifier for the task, used only to
	// resolve DependsOn references within the same plan.
	Label string `yaml:"id" json:"id"`
	// Text is the work instruction.
	Text string `yaml:"text" json:"text"`
	// Title is accepted as an alias for Text.
	Title string `yaml:"title" json:"title"`
	// DependsOn lists labels of tasks in the same plan that must finish first.
	DependsOn []string `yaml:"depends_on" json:"depends_on"`
	// AssignedAgent is the worker role for the task.
	AssignedAgent string `yaml:"agent" json:"agent"`
	// Model is an optional model override.
	Model string `yaml:"model" json:"model"`
	// PlanFile is the path the worker should maintain its plan in.
	PlanFile string `yaml:"plan_file" json:"plan_file"`
}

// ParsePlanResponse extracts a task list from a manager's final message.
// The manager is instructed to emit its breakdown as a fenced json or
// yaml list; the first fenced block that parses into at least one task
// wins. A message with no parseable task list is still a plan a human
// can act on, so it maps to plan_ready rather than a failure.
func ParsePlanResponse(content string) ([]ParsedTask, models.CascadeState) {
	for _, block := range fencedBlocks(content) {
		tasks, err := parseTaskList(block)
		if err != nil || len(tasks) == 0 {
			continue
		}
		return tasks, models.CascadeStateTasksCreated
	}
	return nil, models.CascadeStatePlanReady
}

// fencedBlocks returns the bodies of ``` fenced code blocks in order.
// Language tags on the opening fence are ignored.
func fencedBlocks(content string) []string {
	var blocks []string
	lines := strings.Split(content, "\n")
	var body []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inBlock {
				blocks = append(blocks, strings.Join(body, "\n"))
				body = nil
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			body = append(body, line)
		}
	}
	return blocks
}

// parseTaskList parses a fenced block body as a yaml or json task list.
// yaml.Unmarshal handles both since json is a yaml subset.
func parseTaskList(body string) ([]ParsedTask, error) {
	var tasks []ParsedTask
	if err := yaml.Unmarshal([]byte(body), &tasks); err != nil {
		return nil, err
	}
	var out []ParsedTask
	for _, t := range tasks {
		if t.Text == "" {
			t.Text = t.Title
		}
		if t.Text == "" {
			return nil, fmt.Errorf("task list entry missing text")
		}
		out = append(out, t)
	}
	return out, nil
}

// appendParsedTasks appends plan tasks to the goal, assigning real task
// ids and remapping plan-local dependency labels. The combined task
// graph is validated before the goal is touched; a cycle or a reference
// to an unknown label rejects the whole plan.
func appendParsedTasks(g *models.Goal, parsed []ParsedTask) error {
	idByLabel := make(map[string]string)
	newTasks := make([]*models.Task, 0, len(parsed))
	for _, p := range parsed {
		id := uuid.New().String()[:8]
		if p.Label != "" {
			idByLabel[p.Label] = id
		}
		t := &models.Task{
			ID:            id,
			Text:          p.Text,
			Status:        models.TaskStatusPending,
			AssignedAgent: p.AssignedAgent,
			Model:         p.Model,
		}
		if p.PlanFile != "" {
			t.Plan = &models.TaskPlan{Status: models.PlanStatusPending, ExpectedFilePath: p.PlanFile}
		}
		newTasks = append(newTasks, t)
	}

	for i, p := range parsed {
		for _, label := range p.DependsOn {
			depID, ok := idByLabel[label]
			if !ok {
				// Allow referencing an existing task of the goal directly.
				if g.Task(label) != nil {
					depID = label
				} else {
					return fmt.Errorf("task %q depends on unknown label %q", p.Text, label)
				}
			}
			newTasks[i].DependsOn = append(newTasks[i].DependsOn, depID)
		}
	}

	deps := make(graph.Deps)
	for _, t := range g.Tasks {
		deps[t.ID] = t.DependsOn
	}
	for _, t := range newTasks {
		deps[t.ID] = t.DependsOn
	}
	if err := graph.Validate(deps); err != nil {
		return err
	}

	g.Tasks = append(g.Tasks, newTasks...)
	return nil
}
