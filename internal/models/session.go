package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SessionType enumerates the declarable overtime categories.
type SessionType string

const (
	SessionTypeRCD          SessionType = "RCD"
	SessionTypeDevoirsFaits SessionType = "DEVOIRS_FAITS"
	SessionTypeHSE          SessionType = "HSE"
	SessionTypeAutre        SessionType = "AUTRE"
)

// ValidSessionType reports whether the type belongs to the closed set.
func ValidSessionType(t SessionType) bool {
	switch t {
	case SessionTypeRCD, SessionTypeDevoirsFaits, SessionTypeHSE, SessionTypeAutre:
		return true
	}
	return false
}

// SessionStatus captures workflow states for overtime declarations.
type SessionStatus string

const (
	SessionStatusSubmitted       SessionStatus = "SUBMITTED"
	SessionStatusIncomplete      SessionStatus = "INCOMPLETE"
	SessionStatusReviewed        SessionStatus = "REVIEWED"
	SessionStatusValidated       SessionStatus = "VALIDATED"
	SessionStatusReadyForPayment SessionStatus = "READY_FOR_PAYMENT"
	SessionStatusPaid            SessionStatus = "PAID"
	SessionStatusRejected        SessionStatus = "REJECTED"
)

// ValidSessionStatus reports whether the status belongs to the closed set.
func ValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusSubmitted, SessionStatusIncomplete, SessionStatusReviewed,
		SessionStatusValidated, SessionStatusReadyForPayment, SessionStatusPaid,
		SessionStatusRejected:
		return true
	}
	return false
}

// TerminalStatus reports whether no further transition can leave the status.
func TerminalStatus(s SessionStatus) bool {
	return s == SessionStatusPaid || s == SessionStatusRejected
}

// TimeSlots lists the eight fixed period codes of the school day.
var TimeSlots = []string{"M1", "M2", "M3", "M4", "S1", "S2", "S3", "S4"}

// ValidTimeSlot reports whether slot is one of the fixed period codes.
func ValidTimeSlot(slot string) bool {
	for _, s := range TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// SessionDetails carries the type-specific payload; exactly one field group
// is populated depending on the session type.
type SessionDetails struct {
	// RCD
	ReplacedTeacher string `json:"replaced_teacher,omitempty"`
	ClassName       string `json:"class_name,omitempty"`
	Subject         string `json:"subject,omitempty"`
	// Devoirs Faits
	StudentCount int    `json:"student_count,omitempty"`
	GradeLevel   string `json:"grade_level,omitempty"`
	// HSE / Autre
	Description string `json:"description,omitempty"`
}

// Value implements driver.Valuer, storing details as JSONB.
func (d SessionDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *SessionDetails) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = SessionDetails{}
		return nil
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("unsupported session details type %T", src)
	}
}

// Session is one declared unit of overtime work by a teacher, pending
// review, validation and payment. OriginalType is fixed at creation and is
// never reassigned; it anchors what the teacher originally declared
// regardless of later transformations by the principal.
type Session struct {
	ID           string         `db:"id" json:"id"`
	TeacherID    string         `db:"teacher_id" json:"teacher_id"`
	TeacherName  string         `db:"teacher_name" json:"teacher_name"`
	Date         time.Time      `db:"date" json:"date"`
	TimeSlot     string         `db:"time_slot" json:"time_slot"`
	Type         SessionType    `db:"type" json:"type"`
	OriginalType SessionType    `db:"original_type" json:"original_type"`
	InPacte      bool           `db:"in_pacte" json:"in_pacte"`
	Details      SessionDetails `db:"details" json:"details"`
	Status       SessionStatus  `db:"status" json:"status"`
	Comment      string         `db:"comment" json:"comment"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
	UpdatedBy    string         `db:"updated_by" json:"updated_by"`
	Version      int            `db:"version" json:"-"`
}

// SessionFilter constrains listing queries.
type SessionFilter struct {
	TeacherID string
	Status    []SessionStatus
	Type      SessionType
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
	Offset    int
}
