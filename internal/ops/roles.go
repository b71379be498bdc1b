// Package ops exposes the engine as uniform request/response operations
// and gates agent-facing capabilities by typed session role.
package ops

import (
	"github.com/condoflow/condoflow/pkg/models"
)

// Role classifies what a session is, derived from the document's
// session indexes on every request rather than cached.
type Role string

const (
	// RoleWorker is a session bound to a task of a goal.
	RoleWorker Role = "worker"
	// RoleManager is a condo-bound session that is some goal's manager.
	// Managers plan; they are never offered mutating capabilities.
	RoleManager Role = "manager"
	// RoleCondoBound is a condo-bound session that is not a manager.
	RoleCondoBound Role = "condo-bound"
	// RoleUnbound is a session with no binding.
	RoleUnbound Role = "unbound"
)

// ClassifySession determines a session's role from the document.
func ClassifySession(doc *models.Document, sessionKey string) Role {
	if _, ok := doc.SessionIndex[sessionKey]; ok {
		return RoleWorker
	}
	if _, ok := doc.SessionCondoIndex[sessionKey]; ok {
		for _, g := range doc.Goals {
			if g.ManagerSessionKey == sessionKey {
				return RoleManager
			}
		}
		return RoleCondoBound
	}
	return RoleUnbound
}

// Capability names an agent-facing operation a session may invoke.
type Capability string

const (
	CapUpdateStatus     Capability = "updateStatus"
	CapBindCondo        Capability = "bindCondo"
	CapCreateGoal       Capability = "createGoal"
	CapAddTask          Capability = "addTask"
	CapSpawnTaskSession Capability = "spawnTaskSession"
	CapListCondos       Capability = "listCondos"
	CapCondoStatus      Capability = "condoStatus"
	CapMessageManager   Capability = "messageManager"
	CapApprovePlan      Capability = "approvePlan"
)

// CapabilitiesFor returns the capabilities offered to a session, by
// role. Managers get none: a planning session must not mutate the work
// it is planning. Unbound sessions may only bind and browse.
func CapabilitiesFor(role Role) []Capability {
	switch role {
	case RoleWorker:
		return []Capability{
			CapUpdateStatus,
			CapAddTask,
			CapListCondos,
			CapCondoStatus,
			CapMessageManager,
		}
	case RoleCondoBound:
		return []Capability{
			CapCreateGoal,
			CapAddTask,
			CapSpawnTaskSession,
			CapListCondos,
			CapCondoStatus,
			CapMessageManager,
			CapApprovePlan,
		}
	case RoleUnbound:
		return []Capability{
			CapBindCondo,
			CapListCondos,
		}
	default:
		return nil
	}
}

// Allowed reports whether the role may invoke the capability.
func Allowed(role Role, cap Capability) bool {
	for _, c := range CapabilitiesFor(role) {
		if c == cap {
			return true
		}
	}
	return false
}
