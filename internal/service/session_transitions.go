package service

import "github.com/ecollege/hse-api/internal/models"

// legalTransitions lists every allowed edge of the session workflow. The
// normal progression is SUBMITTED → INCOMPLETE → REVIEWED → VALIDATED →
// READY_FOR_PAYMENT → PAID, with REJECTED as a terminal branch reachable
// until validation. PAID and REJECTED have no outgoing edges.
var legalTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionStatusSubmitted: {
		models.SessionStatusIncomplete,
		models.SessionStatusReviewed,
		models.SessionStatusValidated,
		models.SessionStatusRejected,
	},
	models.SessionStatusIncomplete: {
		models.SessionStatusSubmitted,
		models.SessionStatusReviewed,
		models.SessionStatusValidated,
		models.SessionStatusRejected,
	},
	models.SessionStatusReviewed: {
		models.SessionStatusIncomplete,
		models.SessionStatusValidated,
		models.SessionStatusRejected,
	},
	models.SessionStatusValidated: {
		models.SessionStatusReadyForPayment,
	},
	models.SessionStatusReadyForPayment: {
		models.SessionStatusPaid,
	},
	models.SessionStatusPaid:     {},
	models.SessionStatusRejected: {},
}

// transitionAllowed reports whether moving from one status to another is a
// legal edge. Staying in the same status is always allowed (re-entry on
// edits that do not advance the workflow).
func transitionAllowed(from, to models.SessionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
