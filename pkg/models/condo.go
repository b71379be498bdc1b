package models

import "time"

// Workspace points a condo at a shared repository checkout.
type Workspace struct {
	// Path is the main working directory for the condo.
	Path string `json:"path"`
	// RepoURL is the remote the condo pushes to, if any.
	RepoURL string `json:"repo_url,omitempty"`
	// MainBranch is the branch goal worktrees merge back into, captured
	// when the condo is created.
	MainBranch string `json:"main_branch,omitempty"`
}

// Condo represents a top-level project scope grouping goals.
type Condo struct {
	// ID is the unique identifier for this condo.
	ID string `json:"id"`
	// Name is the human-readable condo name.
	Name string `json:"name"`
	// Workspace is the shared repository backing this condo, if any.
	Workspace *Workspace `json:"workspace,omitempty"`
	// CascadePendingGoals holds goal IDs still working through a plan
	// cascade. Nil when no cascade is pending; entries are retired as each
	// goal's plan resolves and the field is cleared to nil when empty.
	CascadePendingGoals []string `json:"cascade_pending_goals,omitempty"`
	// UpdatedAt is when the condo was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}

// RetirePendingGoal removes a goal from the pending-cascade set.
// Returns true if the set transitioned to empty as a result.
func (c *Condo) RetirePendingGoal(goalID string) bool {
	if len(c.CascadePendingGoals) == 0 {
		return false
	}
	kept := c.CascadePendingGoals[:0]
	for _, id := range c.CascadePendingGoals {
		if id != goalID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(c.CascadePendingGoals) {
		return false
	}
	if len(kept) == 0 {
		c.CascadePendingGoals = nil
		return true
	}
	c.CascadePendingGoals = kept
	return false
}

// SessionBinding maps a session key to the goal it is working on.
type SessionBinding struct {
	// GoalID is the goal the session is bound to.
	GoalID string `json:"goal_id"`
}

// Document is the persisted single source of truth.
type Document struct {
	// Condos is the list of all condos.
	Condos []*Condo `json:"condos"`
	// Goals is the list of all goals across condos.
	Goals []*Goal `json:"goals"`
	// SessionIndex maps task session keys to their goal binding.
	SessionIndex map[string]SessionBinding `json:"session_index"`
	// SessionCondoIndex maps condo-bound session keys (such as a condo's
	// manager session) to their condo. A session key appears in at most
	// one of SessionIndex and SessionCondoIndex.
	SessionCondoIndex map[string]string `json:"session_condo_index"`
}

// NewDocument returns an empty document with initialized indexes.
func NewDocument() *Document {
	return &Document{
		SessionIndex:      make(map[string]SessionBinding),
		SessionCondoIndex: make(map[string]string),
	}
}

// Goal returns the goal with the given ID, or nil if not found.
func (d *Document) Goal(goalID string) *Goal {
	for _, g := range d.Goals {
		if g.ID == goalID {
			return g
		}
	}
	return nil
}

// Condo returns the condo with the given ID, or nil if not found.
func (d *Document) Condo(condoID string) *Condo {
	for _, c := range d.Condos {
		if c.ID == condoID {
			return c
		}
	}
	return nil
}

// GoalsForCondo returns all goals belonging to the given condo.
func (d *Document) GoalsForCondo(condoID string) []*Goal {
	var out []*Goal
	for _, g := range d.Goals {
		if g.CondoID == condoID {
			out = append(out, g)
		}
	}
	return out
}

// BindTaskSession records a task session binding, clearing any condo binding
// for the same key so a key never appears in both indexes.
func (d *Document) BindTaskSession(sessionKey, goalID string) {
	if d.SessionIndex == nil {
		d.SessionIndex = make(map[string]SessionBinding)
	}
	delete(d.SessionCondoIndex, sessionKey)
	d.SessionIndex[sessionKey] = SessionBinding{GoalID: goalID}
}

// BindCondoSession records a condo-bound session, clearing any task binding
// for the same key.
func (d *Document) BindCondoSession(sessionKey, condoID string) {
	if d.SessionCondoIndex == nil {
		d.SessionCondoIndex = make(map[string]string)
	}
	delete(d.SessionIndex, sessionKey)
	d.SessionCondoIndex[sessionKey] = condoID
}

// UnbindSession removes the session key from both indexes.
func (d *Document) UnbindSession(sessionKey string) {
	delete(d.SessionIndex, sessionKey)
	delete(d.SessionCondoIndex, sessionKey)
}
