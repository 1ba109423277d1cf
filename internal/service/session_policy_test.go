package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecollege/hse-api/internal/models"
)

func policySession(teacherID string, status models.SessionStatus) *models.Session {
	return &models.Session{ID: "s-1", TeacherID: teacherID, Status: status}
}

func TestSessionPolicyTable(t *testing.T) {
	cases := []struct {
		name    string
		role    models.UserRole
		action  SessionAction
		status  models.SessionStatus
		owner   bool
		allowed bool
	}{
		{"teacher views own", models.RoleTeacher, ActionView, models.SessionStatusValidated, true, true},
		{"teacher cannot view others", models.RoleTeacher, ActionView, models.SessionStatusSubmitted, false, false},
		{"teacher updates own submitted", models.RoleTeacher, ActionUpdate, models.SessionStatusSubmitted, true, true},
		{"teacher updates own incomplete", models.RoleTeacher, ActionUpdate, models.SessionStatusIncomplete, true, true},
		{"teacher locked after review", models.RoleTeacher, ActionUpdate, models.SessionStatusReviewed, true, false},
		{"teacher never validates", models.RoleTeacher, ActionValidate, models.SessionStatusSubmitted, true, false},
		{"teacher deletes own submitted", models.RoleTeacher, ActionDelete, models.SessionStatusSubmitted, true, true},
		{"teacher cannot delete once validated", models.RoleTeacher, ActionDelete, models.SessionStatusValidated, true, false},

		{"secretary updates any state", models.RoleSecretary, ActionUpdate, models.SessionStatusPaid, false, true},
		{"secretary deletes validated", models.RoleSecretary, ActionDelete, models.SessionStatusValidated, false, true},
		{"secretary never validates", models.RoleSecretary, ActionValidate, models.SessionStatusReviewed, false, false},

		{"principal validates reviewed", models.RolePrincipal, ActionValidate, models.SessionStatusReviewed, false, true},
		{"principal validates submitted", models.RolePrincipal, ActionValidate, models.SessionStatusSubmitted, false, true},
		{"principal cannot validate paid", models.RolePrincipal, ActionValidate, models.SessionStatusPaid, false, false},
		{"principal deletes anything", models.RolePrincipal, ActionDelete, models.SessionStatusValidated, false, true},

		{"admin views everything", models.RoleAdmin, ActionView, models.SessionStatusPaid, false, true},
		{"admin updates", models.RoleAdmin, ActionUpdate, models.SessionStatusReviewed, false, true},
		{"admin cannot delete validated", models.RoleAdmin, ActionDelete, models.SessionStatusValidated, false, false},
		{"admin deletes submitted", models.RoleAdmin, ActionDelete, models.SessionStatusSubmitted, false, true},
		{"admin never validates", models.RoleAdmin, ActionValidate, models.SessionStatusReviewed, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			teacherID := "t-other"
			if tc.owner {
				teacherID = "actor-1"
			}
			actor := &models.JWTClaims{UserID: "actor-1", Role: tc.role}
			decision := CanPerform(actor, tc.action, policySession(teacherID, tc.status))
			assert.Equal(t, tc.allowed, decision.Allowed)
			if !tc.allowed {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestUnknownRoleIsDenied(t *testing.T) {
	actor := &models.JWTClaims{UserID: "x", Role: models.UserRole("INSPECTOR")}
	decision := CanPerform(actor, ActionView, policySession("x", models.SessionStatusSubmitted))
	assert.False(t, decision.Allowed)
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to models.SessionStatus }{
		{models.SessionStatusSubmitted, models.SessionStatusIncomplete},
		{models.SessionStatusSubmitted, models.SessionStatusReviewed},
		{models.SessionStatusSubmitted, models.SessionStatusValidated},
		{models.SessionStatusSubmitted, models.SessionStatusRejected},
		{models.SessionStatusIncomplete, models.SessionStatusSubmitted},
		{models.SessionStatusIncomplete, models.SessionStatusValidated},
		{models.SessionStatusReviewed, models.SessionStatusIncomplete},
		{models.SessionStatusReviewed, models.SessionStatusValidated},
		{models.SessionStatusValidated, models.SessionStatusReadyForPayment},
		{models.SessionStatusReadyForPayment, models.SessionStatusPaid},
	}
	for _, tr := range allowed {
		assert.True(t, transitionAllowed(tr.from, tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	forbidden := []struct{ from, to models.SessionStatus }{
		{models.SessionStatusValidated, models.SessionStatusSubmitted},
		{models.SessionStatusValidated, models.SessionStatusRejected},
		{models.SessionStatusPaid, models.SessionStatusSubmitted},
		{models.SessionStatusRejected, models.SessionStatusSubmitted},
		{models.SessionStatusReadyForPayment, models.SessionStatusValidated},
		{models.SessionStatusSubmitted, models.SessionStatusPaid},
	}
	for _, tr := range forbidden {
		assert.False(t, transitionAllowed(tr.from, tr.to), "%s -> %s should be illegal", tr.from, tr.to)
	}
}

func TestSameStatusIsAlwaysAllowed(t *testing.T) {
	for _, status := range []models.SessionStatus{
		models.SessionStatusSubmitted,
		models.SessionStatusPaid,
		models.SessionStatusRejected,
	} {
		assert.True(t, transitionAllowed(status, status))
	}
}
