package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/condoflow/condoflow/internal/engine"
	"github.com/condoflow/condoflow/pkg/models"
)

// HandleAgent dispatches an agent-facing capability invoked by a
// session. The session's role is classified per request from the
// current document, and the capability is authorized against that role
// before anything runs. Manager sessions are refused everything.
func (r *Registry) HandleAgent(ctx context.Context, sessionKey string, cap Capability, p Params) Response {
	doc, err := r.store.Snapshot()
	if err != nil {
		return fail(err)
	}
	role := ClassifySession(doc, sessionKey)
	if !Allowed(role, cap) {
		return failf("capability %s not available to %s session", cap, role)
	}

	switch cap {
	case CapUpdateStatus:
		return r.agentUpdateStatus(sessionKey, doc, p)
	case CapBindCondo:
		return r.agentBindCondo(sessionKey, p)
	case CapCreateGoal:
		return r.agentCreateGoal(sessionKey, doc, p)
	case CapAddTask:
		return r.agentAddTask(sessionKey, doc, role, p)
	case CapSpawnTaskSession:
		return r.spawnTaskSession(ctx, p)
	case CapListCondos:
		return r.listCondos()
	case CapCondoStatus:
		return r.agentCondoStatus(sessionKey, doc, role, p)
	case CapMessageManager:
		return r.agentMessageManager(ctx, sessionKey, doc, role, p)
	case CapApprovePlan:
		return r.agentApprovePlan(ctx, p)
	default:
		return failf("unknown capability %q", cap)
	}
}

// sessionCondo resolves the condo a session operates in, through its
// task binding for workers or its condo binding otherwise.
func sessionCondo(doc *models.Document, sessionKey string, role Role) string {
	switch role {
	case RoleWorker:
		if b, ok := doc.SessionIndex[sessionKey]; ok {
			if g := doc.Goal(b.GoalID); g != nil {
				return g.CondoID
			}
		}
	case RoleCondoBound, RoleManager:
		return doc.SessionCondoIndex[sessionKey]
	}
	return ""
}

// agentUpdateStatus lets a worker update its own task's status and
// summary. The task is located through the session binding, so a worker
// can never touch another session's task.
func (r *Registry) agentUpdateStatus(sessionKey string, doc *models.Document, p Params) Response {
	binding, bound := doc.SessionIndex[sessionKey]
	if !bound {
		return failf("session %s has no task binding", sessionKey)
	}

	status := models.TaskStatus(p.String("status"))
	if status != "" && !status.Valid() {
		return failf("invalid task status %q", status)
	}
	summary := p.String("summary")

	err := r.store.UpdateGoal(binding.GoalID, func(g *models.Goal) error {
		t := g.TaskBySession(sessionKey)
		if t == nil {
			return fmt.Errorf("session %s has no task in goal %s", sessionKey, g.ID)
		}
		if status != "" {
			t.Status = status
		}
		if summary != "" {
			t.Summary = summary
		}
		g.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (r *Registry) agentBindCondo(sessionKey string, p Params) Response {
	condoID := p.String("condoId")
	if condoID == "" {
		return failf("condoId is required")
	}
	err := r.store.Update(func(doc *models.Document) error {
		if doc.Condo(condoID) == nil {
			return fmt.Errorf("condo %s: not found", condoID)
		}
		doc.BindCondoSession(sessionKey, condoID)
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (r *Registry) agentCreateGoal(sessionKey string, doc *models.Document, p Params) Response {
	condoID := sessionCondo(doc, sessionKey, RoleCondoBound)
	if condoID == "" {
		return failf("session %s is not bound to a condo", sessionKey)
	}
	goal, err := r.engine.CreateGoal(engine.GoalParams{
		CondoID:   condoID,
		Title:     p.String("title"),
		DependsOn: p.Strings("dependsOn"),
	})
	if err != nil {
		return fail(err)
	}
	return ok(goal)
}

func (r *Registry) agentAddTask(sessionKey string, doc *models.Document, role Role, p Params) Response {
	goalID := p.String("goalId")
	if role == RoleWorker {
		// Workers may only extend their own goal.
		binding := doc.SessionIndex[sessionKey]
		goalID = binding.GoalID
	}
	if goalID == "" {
		return failf("goalId is required")
	}
	task, err := r.engine.AddTask(goalID, engine.TaskParams{
		Text:          p.String("text"),
		AssignedAgent: p.String("agent"),
		DependsOn:     p.Strings("dependsOn"),
		Model:         p.String("model"),
		PlanFile:      p.String("planFile"),
	})
	if err != nil {
		return fail(err)
	}
	return ok(task)
}

func (r *Registry) agentCondoStatus(sessionKey string, doc *models.Document, role Role, p Params) Response {
	condoID := p.String("condoId")
	if condoID == "" {
		condoID = sessionCondo(doc, sessionKey, role)
	}
	if condoID == "" {
		return failf("condoId is required")
	}
	return r.condoStatus(Params{"condoId": condoID})
}

// agentMessageManager relays a message to the manager session of a goal
// in the caller's condo.
func (r *Registry) agentMessageManager(ctx context.Context, sessionKey string, doc *models.Document, role Role, p Params) Response {
	message := p.String("message")
	if message == "" {
		return failf("message is required")
	}
	condoID := sessionCondo(doc, sessionKey, role)
	if condoID == "" {
		return failf("session %s is not bound to a condo", sessionKey)
	}

	goalID := p.String("goalId")
	var managerKey string
	for _, g := range doc.GoalsForCondo(condoID) {
		if g.ManagerSessionKey == "" {
			continue
		}
		if goalID != "" && g.ID != goalID {
			continue
		}
		managerKey = g.ManagerSessionKey
		break
	}
	if managerKey == "" {
		return failf("no manager session in condo %s", condoID)
	}

	if err := r.runtime.Send(ctx, managerKey, message); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (r *Registry) agentApprovePlan(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	if goalID == "" {
		return failf("goalId is required")
	}
	result, err := r.engine.ApprovePlan(ctx, goalID)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}
