package dto

import (
	"time"

	"github.com/ecollege/hse-api/internal/models"
)

// CreateSessionRequest payload for declaring a new overtime session.
type CreateSessionRequest struct {
	TeacherID string                `json:"teacher_id" validate:"required"`
	Date      time.Time             `json:"date" validate:"required"`
	TimeSlot  string                `json:"time_slot" validate:"required"`
	Type      models.SessionType    `json:"type" validate:"required"`
	Details   models.SessionDetails `json:"details"`
}

// UpdateSessionRequest carries a partial edit. Nil fields are left untouched.
// Type changes are deliberately absent: transforming a session type is only
// legal through the validate operation.
type UpdateSessionRequest struct {
	Date     *time.Time             `json:"date,omitempty"`
	TimeSlot *string                `json:"time_slot,omitempty"`
	Details  *models.SessionDetails `json:"details,omitempty"`
	Status   *models.SessionStatus  `json:"status,omitempty"`
	Comment  *string                `json:"comment,omitempty"`
	// Type is decoded so that a forbidden attempt can be rejected with an
	// explicit reason instead of being silently ignored.
	Type *models.SessionType `json:"type,omitempty"`
}

// ValidateSessionRequest captures the principal's validation decision,
// optionally transforming the session type.
type ValidateSessionRequest struct {
	Type    *models.SessionType   `json:"type,omitempty"`
	Status  *models.SessionStatus `json:"status,omitempty"`
	Comment string                `json:"comment,omitempty"`
}

// SessionQuery mirrors supported listing filters.
type SessionQuery struct {
	TeacherID string
	Status    []models.SessionStatus
	Type      models.SessionType
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// EditStatusResponse reports whether the actor may still edit a session and,
// when a window applies, the window arithmetic for client display.
type EditStatusResponse struct {
	IsEditable        bool `json:"is_editable"`
	EditWindowMinutes *int `json:"edit_window_minutes,omitempty"`
	ElapsedMinutes    *int `json:"elapsed_minutes,omitempty"`
	RemainingMinutes  *int `json:"remaining_minutes,omitempty"`
}
