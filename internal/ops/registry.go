package ops

import (
	"context"
	"fmt"

	"github.com/condoflow/condoflow/internal/engine"
	"github.com/condoflow/condoflow/internal/runtime"
	"github.com/condoflow/condoflow/internal/store"
)

// Params carries operation parameters.
type Params map[string]any

// String returns the string value for key, or "".
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns the string-list value for key.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Response is the uniform operation outcome.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Response {
	return Response{Success: true, Data: data}
}

func fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

func failf(format string, args ...interface{}) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Registry dispatches named operations to the engine.
type Registry struct {
	engine  *engine.Engine
	store   *store.Store
	runtime runtime.Client
}

// NewRegistry creates an operation registry.
func NewRegistry(e *engine.Engine, s *store.Store, rt runtime.Client) *Registry {
	return &Registry{engine: e, store: s, runtime: rt}
}

// Handle dispatches a request/response operation by name. Unknown
// operations and validation failures return a failed response, never an
// error, so callers have one contract to consume.
func (r *Registry) Handle(ctx context.Context, name string, p Params) Response {
	switch name {
	case "kickoff":
		return r.kickoff(ctx, p)
	case "close":
		return r.close(ctx, p)
	case "branchStatus":
		return r.branchStatus(ctx, p)
	case "createPR":
		return r.createPR(ctx, p)
	case "retryPush":
		return r.retryPush(ctx, p)
	case "retryMerge":
		return r.retryMerge(ctx, p)
	case "pushMain":
		return r.pushMain(ctx, p)
	case "spawnTaskSession":
		return r.spawnTaskSession(ctx, p)
	case "listCondos":
		return r.listCondos()
	case "condoStatus":
		return r.condoStatus(p)
	case "stats":
		return r.stats()
	case "classifySession":
		return r.classifySession(p)
	default:
		return failf("unknown operation %q", name)
	}
}

func (r *Registry) kickoff(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	if goalID == "" {
		return failf("goalId is required")
	}
	result, err := r.engine.KickoffAndStart(ctx, goalID)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}

func (r *Registry) close(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	if goalID == "" {
		return failf("goalId is required")
	}
	if err := r.engine.CloseGoal(ctx, goalID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (r *Registry) branchStatus(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	if goalID == "" {
		return failf("goalId is required")
	}
	info, err := r.engine.BranchStatus(ctx, goalID)
	if err != nil {
		return fail(err)
	}
	return ok(info)
}

func (r *Registry) createPR(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	if goalID == "" {
		return failf("goalId is required")
	}
	url, err := r.engine.CreatePR(ctx, goalID, nil)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]string{"url": url})
}

func (r *Registry) retryPush(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	if goalID == "" {
		return failf("goalId is required")
	}
	if err := r.engine.RetryPush(ctx, goalID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (r *Registry) retryMerge(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	if goalID == "" {
		return failf("goalId is required")
	}
	if err := r.engine.RetryMerge(ctx, goalID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (r *Registry) pushMain(ctx context.Context, p Params) Response {
	condoID := p.String("condoId")
	if condoID == "" {
		return failf("condoId is required")
	}
	if err := r.engine.PushMain(ctx, condoID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (r *Registry) spawnTaskSession(ctx context.Context, p Params) Response {
	goalID := p.String("goalId")
	taskID := p.String("taskId")
	if goalID == "" || taskID == "" {
		return failf("goalId and taskId are required")
	}
	spawned, err := r.engine.SpawnTaskSession(ctx, goalID, taskID)
	if err != nil {
		return fail(err)
	}
	return ok(spawned)
}

func (r *Registry) listCondos() Response {
	doc, err := r.store.Snapshot()
	if err != nil {
		return fail(err)
	}
	type condoEntry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	var out []condoEntry
	for _, c := range doc.Condos {
		out = append(out, condoEntry{ID: c.ID, Name: c.Name})
	}
	return ok(out)
}

// CondoStatus summarizes a condo's goals and tasks by state.
type CondoStatus struct {
	CondoID      string         `json:"condo_id"`
	Goals        map[string]int `json:"goals"`
	Tasks        map[string]int `json:"tasks"`
	PendingPlans []string       `json:"pending_plans,omitempty"`
}

func (r *Registry) condoStatus(p Params) Response {
	condoID := p.String("condoId")
	if condoID == "" {
		return failf("condoId is required")
	}
	doc, err := r.store.Snapshot()
	if err != nil {
		return fail(err)
	}
	condo := doc.Condo(condoID)
	if condo == nil {
		return failf("condo %s: not found", condoID)
	}

	status := &CondoStatus{
		CondoID:      condoID,
		Goals:        make(map[string]int),
		Tasks:        make(map[string]int),
		PendingPlans: condo.CascadePendingGoals,
	}
	for _, g := range doc.GoalsForCondo(condoID) {
		status.Goals[string(g.Status)]++
		for _, t := range g.Tasks {
			status.Tasks[string(t.Status)]++
		}
	}
	return ok(status)
}

func (r *Registry) classifySession(p Params) Response {
	sessionKey := p.String("sessionKey")
	if sessionKey == "" {
		return failf("sessionKey is required")
	}
	doc, err := r.store.Snapshot()
	if err != nil {
		return fail(err)
	}
	role := ClassifySession(doc, sessionKey)
	return ok(map[string]string{"role": string(role)})
}

func (r *Registry) stats() Response {
	doc, err := r.store.Snapshot()
	if err != nil {
		return fail(err)
	}
	stats := map[string]int{
		"condos":   len(doc.Condos),
		"goals":    len(doc.Goals),
		"sessions": len(doc.SessionIndex) + len(doc.SessionCondoIndex),
	}
	for _, g := range doc.Goals {
		stats["tasks"] += len(g.Tasks)
	}
	return ok(stats)
}
