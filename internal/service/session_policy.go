package service

import (
	"github.com/ecollege/hse-api/internal/models"
)

// SessionAction enumerates the operations gated by the session policy.
type SessionAction string

const (
	ActionView     SessionAction = "view"
	ActionUpdate   SessionAction = "update"
	ActionValidate SessionAction = "validate"
	ActionDelete   SessionAction = "delete"
)

// Decision records whether an action is allowed and why it is denied.
type Decision struct {
	Allowed bool
	Reason  string
}

// Denial reasons surfaced to callers. Human-readable on purpose: every
// rejection explains itself.
const (
	reasonNotOwner        = "teachers may only access their own sessions"
	reasonTeacherLocked   = "session has been reviewed and is no longer editable by its teacher"
	reasonValidateRole    = "only the principal may validate sessions"
	reasonValidateState   = "session has already been validated, paid or rejected"
	reasonDeleteValidated = "validated sessions cannot be deleted"
	reasonUnknownRole     = "unknown role"
)

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

var teacherEditableStates = map[models.SessionStatus]bool{
	models.SessionStatusSubmitted:  true,
	models.SessionStatusIncomplete: true,
}

var validatableStates = map[models.SessionStatus]bool{
	models.SessionStatusSubmitted:  true,
	models.SessionStatusIncomplete: true,
	models.SessionStatusReviewed:   true,
}

// sessionPolicy is an explicit decision function per role and action over the
// session's status. The role set is flat: Admin is deliberately NOT a
// superset of Principal. It cannot validate, and its update/delete rights
// are narrower (field and window restrictions are enforced by the service on
// top of this table).
var sessionPolicy = map[models.UserRole]map[SessionAction]func(status models.SessionStatus, owner bool) Decision{
	models.RoleTeacher: {
		ActionView: func(_ models.SessionStatus, owner bool) Decision {
			if !owner {
				return forbid(reasonNotOwner)
			}
			return allowed()
		},
		ActionUpdate: func(status models.SessionStatus, owner bool) Decision {
			if !owner {
				return forbid(reasonNotOwner)
			}
			if !teacherEditableStates[status] {
				return forbid(reasonTeacherLocked)
			}
			return allowed()
		},
		ActionDelete: func(status models.SessionStatus, owner bool) Decision {
			if !owner {
				return forbid(reasonNotOwner)
			}
			if !teacherEditableStates[status] {
				return forbid(reasonTeacherLocked)
			}
			return allowed()
		},
		ActionValidate: func(models.SessionStatus, bool) Decision {
			return forbid(reasonValidateRole)
		},
	},
	models.RoleSecretary: {
		ActionView:   func(models.SessionStatus, bool) Decision { return allowed() },
		ActionUpdate: func(models.SessionStatus, bool) Decision { return allowed() },
		// Unrestricted delete mirrors the observed behaviour of the legacy
		// workflow; to be confirmed with the product owner.
		ActionDelete: func(models.SessionStatus, bool) Decision { return allowed() },
		ActionValidate: func(models.SessionStatus, bool) Decision {
			return forbid(reasonValidateRole)
		},
	},
	models.RolePrincipal: {
		ActionView:   func(models.SessionStatus, bool) Decision { return allowed() },
		ActionUpdate: func(models.SessionStatus, bool) Decision { return allowed() },
		ActionDelete: func(models.SessionStatus, bool) Decision { return allowed() },
		ActionValidate: func(status models.SessionStatus, _ bool) Decision {
			if !validatableStates[status] {
				return forbid(reasonValidateState)
			}
			return allowed()
		},
	},
	models.RoleAdmin: {
		ActionView:   func(models.SessionStatus, bool) Decision { return allowed() },
		ActionUpdate: func(models.SessionStatus, bool) Decision { return allowed() },
		ActionDelete: func(status models.SessionStatus, _ bool) Decision {
			if status == models.SessionStatusValidated {
				return forbid(reasonDeleteValidated)
			}
			return allowed()
		},
		ActionValidate: func(models.SessionStatus, bool) Decision {
			return forbid(reasonValidateRole)
		},
	},
}

// CanPerform consults the policy table for the actor, action and session.
func CanPerform(actor *models.JWTClaims, action SessionAction, session *models.Session) Decision {
	if actor == nil {
		return forbid(reasonUnknownRole)
	}
	actions, ok := sessionPolicy[actor.Role]
	if !ok {
		return forbid(reasonUnknownRole)
	}
	rule, ok := actions[action]
	if !ok {
		return forbid(reasonUnknownRole)
	}
	owner := session != nil && session.TeacherID == actor.UserID
	var status models.SessionStatus
	if session != nil {
		status = session.Status
	}
	return rule(status, owner)
}
