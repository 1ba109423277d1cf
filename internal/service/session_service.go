package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ecollege/hse-api/internal/dto"
	"github.com/ecollege/hse-api/internal/models"
	appErrors "github.com/ecollege/hse-api/pkg/errors"
	"github.com/ecollege/hse-api/pkg/export"
)

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
	Count(ctx context.Context, filter models.SessionFilter) (int, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string, expectedVersion int) error
}

type sessionAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type editWindowProvider interface {
	SessionEditWindowMinutes(ctx context.Context) (int, error)
}

type transitionRecorder interface {
	RecordSessionTransition(from, to models.SessionStatus)
}

// SessionService is the lifecycle engine for overtime declarations: it
// validates transitions, enforces role permissions, computes edit-window
// expiry and stamps audit fields.
type SessionService struct {
	repo      sessionStore
	settings  editWindowProvider
	audit     sessionAuditLogger
	metrics   transitionRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// SessionServiceOption configures the service.
type SessionServiceOption func(*SessionService)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) SessionServiceOption {
	return func(s *SessionService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTransitionRecorder attaches a metrics sink for workflow transitions.
func WithTransitionRecorder(recorder transitionRecorder) SessionServiceOption {
	return func(s *SessionService) {
		s.metrics = recorder
	}
}

// NewSessionService constructs the service with defaults.
func NewSessionService(repo sessionStore, settings editWindowProvider, audit sessionAuditLogger, validate *validator.Validate, logger *zap.Logger, opts ...SessionServiceOption) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SessionService{
		repo:      repo,
		settings:  settings,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create declares a new session on behalf of the acting teacher. Only
// teachers may declare, and only for themselves. The session starts in
// SUBMITTED with original_type anchored to the declared type.
func (s *SessionService) Create(ctx context.Context, req dto.CreateSessionRequest, actor *models.JWTClaims) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers may declare overtime sessions")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if req.TeacherID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers may only declare sessions for themselves")
	}
	if !models.ValidSessionType(req.Type) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported session type: %s", req.Type))
	}
	if !models.ValidTimeSlot(req.TimeSlot) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time_slot must be one of %s", strings.Join(models.TimeSlots, ", ")))
	}
	if err := validateDetails(req.Type, req.Details); err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.Session{
		TeacherID:    actor.UserID,
		TeacherName:  actor.FullName,
		Date:         req.Date,
		TimeSlot:     req.TimeSlot,
		Type:         req.Type,
		OriginalType: req.Type,
		InPacte:      actor.InPacte,
		Details:      req.Details,
		Status:       models.SessionStatusSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
		UpdatedBy:    actor.FullName,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.emitAudit(ctx, actor, models.AuditActionSessionCreate, session.ID, nil, session)
	return session, nil
}

// List returns sessions respecting actor scope: teachers only ever see their
// own declarations.
func (s *SessionService) List(ctx context.Context, query dto.SessionQuery, actor *models.JWTClaims) ([]models.Session, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	} else if pageSize > 200 {
		pageSize = 200
	}
	filter := models.SessionFilter{
		TeacherID: query.TeacherID,
		Status:    query.Status,
		Type:      query.Type,
		DateFrom:  query.DateFrom,
		DateTo:    query.DateTo,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}
	if actor.Role == models.RoleTeacher {
		filter.TeacherID = actor.UserID
	}
	sessions, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count sessions")
	}
	pagination := &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
	return sessions, pagination, nil
}

// exportBatchSize is the page size used when draining the repository for a
// CSV export.
const exportBatchSize = 200

// ExportCSV renders the filtered sessions as CSV for payroll handoff. The
// listing scope rules apply unchanged. The export pages through the
// repository until exhausted so the file always covers every matching
// session, regardless of the list endpoint's page cap.
func (s *SessionService) ExportCSV(ctx context.Context, query dto.SessionQuery, actor *models.JWTClaims) ([]byte, error) {
	query.Page = 1
	query.PageSize = exportBatchSize

	var sessions []models.Session
	for {
		batch, _, err := s.List(ctx, query, actor)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, batch...)
		if len(batch) < exportBatchSize {
			break
		}
		query.Page++
	}
	data, err := export.SessionsCSV(sessions)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return data, nil
}

// Get returns a session enforcing view scope.
func (s *SessionService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Session, error) {
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if decision := CanPerform(actor, ActionView, session); !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}
	return session, nil
}

// Update applies a partial edit under the role, state and window rules.
// Type changes are rejected outright: transforming a session's type is only
// legal through Validate.
func (s *SessionService) Update(ctx context.Context, id string, req dto.UpdateSessionRequest, actor *models.JWTClaims) (*models.Session, error) {
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if decision := CanPerform(actor, ActionUpdate, session); !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}
	if req.Type != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "type changes are reserved to the principal validation step")
	}

	switch actor.Role {
	case models.RoleTeacher:
		if req.Status != nil {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "status changes are reserved to the secretary and principal")
		}
	case models.RoleAdmin:
		if req.Status != nil {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "status changes are reserved to the secretary and principal")
		}
		if err := s.checkEditWindow(ctx, session); err != nil {
			return nil, err
		}
	case models.RoleSecretary, models.RolePrincipal:
		if req.Status != nil {
			if !models.ValidSessionStatus(*req.Status) {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status: %s", *req.Status))
			}
			if !transitionAllowed(session.Status, *req.Status) {
				return nil, appErrors.Clone(appErrors.ErrInvalidState,
					fmt.Sprintf("cannot move session from %s to %s", session.Status, *req.Status))
			}
		}
	}

	oldStatus := session.Status
	if req.Date != nil {
		session.Date = *req.Date
	}
	if req.TimeSlot != nil {
		if !models.ValidTimeSlot(*req.TimeSlot) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time_slot must be one of %s", strings.Join(models.TimeSlots, ", ")))
		}
		session.TimeSlot = *req.TimeSlot
	}
	if req.Details != nil {
		if err := validateDetails(session.Type, *req.Details); err != nil {
			return nil, err
		}
		session.Details = *req.Details
	}
	if req.Status != nil {
		session.Status = *req.Status
	}
	if req.Comment != nil && strings.TrimSpace(*req.Comment) != "" {
		session.Comment = appendComment(session.Comment, strings.TrimSpace(*req.Comment))
	}

	if err := s.persist(ctx, session, actor); err != nil {
		return nil, err
	}
	s.recordTransition(oldStatus, session.Status)
	s.emitAudit(ctx, actor, models.AuditActionSessionUpdate, session.ID, map[string]interface{}{"status": oldStatus}, session)
	return session, nil
}

// Validate is the principal-only validate-and-transform operation: it may
// change the session type (recording a transformation note in the comment
// trail) and moves the session to VALIDATED unless another status is
// requested. original_type is never touched.
func (s *SessionService) Validate(ctx context.Context, id string, req dto.ValidateSessionRequest, actor *models.JWTClaims) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RolePrincipal {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the principal may validate sessions")
	}
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if decision := CanPerform(actor, ActionValidate, session); !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, decision.Reason)
	}

	targetStatus := models.SessionStatusValidated
	if req.Status != nil {
		if !models.ValidSessionStatus(*req.Status) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status: %s", *req.Status))
		}
		targetStatus = *req.Status
	}
	if !transitionAllowed(session.Status, targetStatus) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot move session from %s to %s", session.Status, targetStatus))
	}

	oldStatus := session.Status
	comment := strings.TrimSpace(req.Comment)
	if req.Type != nil && *req.Type != session.Type {
		if !models.ValidSessionType(*req.Type) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported session type: %s", *req.Type))
		}
		note := fmt.Sprintf("type changed from %s to %s by %s", session.Type, *req.Type, actor.FullName)
		if comment != "" {
			note += ": " + comment
		}
		session.Comment = appendComment(session.Comment, note)
		session.Type = *req.Type
	} else if comment != "" {
		session.Comment = appendComment(session.Comment, comment)
	}
	session.Status = targetStatus

	if err := s.persist(ctx, session, actor); err != nil {
		return nil, err
	}
	s.recordTransition(oldStatus, session.Status)
	s.emitAudit(ctx, actor, models.AuditActionSessionValidate, session.ID, map[string]interface{}{"status": oldStatus}, session)
	return session, nil
}

// Delete hard-deletes a session under the role and state rules; there is no
// tombstone.
func (s *SessionService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return err
	}
	if decision := CanPerform(actor, ActionDelete, session); !decision.Allowed {
		return appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}
	if actor.Role == models.RoleAdmin {
		if err := s.checkEditWindow(ctx, session); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(ctx, session.ID, session.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "session was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	s.emitAudit(ctx, actor, models.AuditActionSessionDelete, session.ID, map[string]interface{}{"status": session.Status}, nil)
	return nil
}

// EditStatus reports whether the actor may still edit the session, with the
// window arithmetic when a teacher-owned editable session is concerned. Pure
// read: nothing is mutated.
func (s *SessionService) EditStatus(ctx context.Context, id string, actor *models.JWTClaims) (*dto.EditStatusResponse, error) {
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if view := CanPerform(actor, ActionView, session); !view.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, view.Reason)
	}
	decision := CanPerform(actor, ActionUpdate, session)
	resp := &dto.EditStatusResponse{IsEditable: decision.Allowed}

	if actor.Role == models.RoleTeacher && decision.Allowed {
		window, elapsed, err := s.windowElapsed(ctx, session)
		if err != nil {
			return nil, err
		}
		remaining := window - elapsed
		if remaining < 0 {
			remaining = 0
		}
		resp.IsEditable = elapsed <= window
		resp.EditWindowMinutes = &window
		resp.ElapsedMinutes = &elapsed
		resp.RemainingMinutes = &remaining
	}
	return resp, nil
}

func (s *SessionService) load(ctx context.Context, id string, actor *models.JWTClaims) (*models.Session, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

func (s *SessionService) persist(ctx context.Context, session *models.Session, actor *models.JWTClaims) error {
	session.UpdatedAt = s.now()
	session.UpdatedBy = actor.FullName
	if err := s.repo.Update(ctx, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "session was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	return nil
}

// checkEditWindow enforces the time-based lapse on Admin mutations. Teacher
// edits are intentionally not window-gated; only their edit-status report
// exposes the countdown.
func (s *SessionService) checkEditWindow(ctx context.Context, session *models.Session) error {
	window, elapsed, err := s.windowElapsed(ctx, session)
	if err != nil {
		return err
	}
	if elapsed > window {
		return appErrors.EditWindowExpired(window, elapsed)
	}
	return nil
}

func (s *SessionService) windowElapsed(ctx context.Context, session *models.Session) (window, elapsed int, err error) {
	window, err = s.settings.SessionEditWindowMinutes(ctx)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read edit window setting")
	}
	elapsed = int(s.now().Sub(session.CreatedAt).Minutes())
	return window, elapsed, nil
}

func (s *SessionService) recordTransition(from, to models.SessionStatus) {
	if s.metrics == nil || from == to {
		return
	}
	s.metrics.RecordSessionTransition(from, to)
}

func (s *SessionService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, sessionID string, oldValues map[string]interface{}, session *models.Session) {
	if s.audit == nil {
		return
	}
	var oldBytes, newBytes []byte
	if oldValues != nil {
		oldBytes, _ = json.Marshal(oldValues)
	}
	if session != nil {
		newBytes, _ = json.Marshal(map[string]interface{}{
			"status": session.Status,
			"type":   session.Type,
		})
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "session",
		ResourceID: &sessionID,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "session-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

// appendComment adds a note to the comment trail. Existing content is always
// preserved; notes accumulate one per line across review steps.
func appendComment(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

// validateDetails enforces the discriminated union: each type requires its
// own field group and rejects fields belonging to another group.
func validateDetails(t models.SessionType, d models.SessionDetails) error {
	switch t {
	case models.SessionTypeRCD:
		if strings.TrimSpace(d.ReplacedTeacher) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "details.replaced_teacher is required for RCD sessions")
		}
		if strings.TrimSpace(d.ClassName) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "details.class_name is required for RCD sessions")
		}
		if d.StudentCount != 0 || d.GradeLevel != "" {
			return appErrors.Clone(appErrors.ErrValidation, "homework-help fields are not allowed on RCD sessions")
		}
	case models.SessionTypeDevoirsFaits:
		if d.StudentCount < 1 {
			return appErrors.Clone(appErrors.ErrValidation, "details.student_count must be at least 1 for Devoirs Faits sessions")
		}
		if strings.TrimSpace(d.GradeLevel) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "details.grade_level is required for Devoirs Faits sessions")
		}
		if d.ReplacedTeacher != "" || d.ClassName != "" || d.Subject != "" {
			return appErrors.Clone(appErrors.ErrValidation, "replacement fields are not allowed on Devoirs Faits sessions")
		}
	case models.SessionTypeAutre:
		if strings.TrimSpace(d.Description) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "details.description is required for AUTRE sessions")
		}
		fallthrough
	case models.SessionTypeHSE:
		if d.ReplacedTeacher != "" || d.ClassName != "" || d.Subject != "" || d.StudentCount != 0 || d.GradeLevel != "" {
			return appErrors.Clone(appErrors.ErrValidation, "only details.description is allowed on this session type")
		}
	}
	return nil
}
