package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecollege/hse-api/internal/dto"
	"github.com/ecollege/hse-api/internal/models"
	appErrors "github.com/ecollege/hse-api/pkg/errors"
)

type stubSessionStore struct {
	sessions  map[string]*models.Session
	updateErr error
	deleteErr error
	updated   *models.Session
	deleted   string
}

func newStubSessionStore(sessions ...*models.Session) *stubSessionStore {
	store := &stubSessionStore{sessions: make(map[string]*models.Session)}
	for _, s := range sessions {
		store.sessions[s.ID] = s
	}
	return store
}

func (s *stubSessionStore) Create(_ context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = "generated-id"
	}
	session.Version = 1
	s.sessions[session.ID] = session
	return nil
}

func (s *stubSessionStore) GetByID(_ context.Context, id string) (*models.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *session
	return &copied, nil
}

func (s *stubSessionStore) List(_ context.Context, filter models.SessionFilter) ([]models.Session, error) {
	matched := s.matching(filter)
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *stubSessionStore) Count(_ context.Context, filter models.SessionFilter) (int, error) {
	return len(s.matching(filter)), nil
}

func (s *stubSessionStore) matching(filter models.SessionFilter) []models.Session {
	var out []models.Session
	for _, session := range s.sessions {
		if filter.TeacherID != "" && session.TeacherID != filter.TeacherID {
			continue
		}
		out = append(out, *session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *stubSessionStore) Update(_ context.Context, session *models.Session) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	copied := *session
	s.updated = &copied
	s.sessions[session.ID] = &copied
	return nil
}

func (s *stubSessionStore) Delete(_ context.Context, id string, _ int) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = id
	delete(s.sessions, id)
	return nil
}

type stubSettings struct {
	window int
	err    error
}

func (s *stubSettings) SessionEditWindowMinutes(context.Context) (int, error) {
	return s.window, s.err
}

type stubAudit struct {
	logs []*models.AuditLog
}

func (s *stubAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

var frozenNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestSessionService(store *stubSessionStore, settings *stubSettings, audit *stubAudit) *SessionService {
	if settings == nil {
		settings = &stubSettings{window: 60}
	}
	var auditLogger sessionAuditLogger
	if audit != nil {
		auditLogger = audit
	}
	return NewSessionService(store, settings, auditLogger, nil, zap.NewNop(),
		WithClock(func() time.Time { return frozenNow }))
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher, FullName: "Marie Dupont", InPacte: true}
}

func claimsWithRole(role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: "actor-1", Role: role, FullName: "Jean Martin"}
}

func rcdSession(id, teacherID string, status models.SessionStatus) *models.Session {
	return &models.Session{
		ID:           id,
		TeacherID:    teacherID,
		TeacherName:  "Marie Dupont",
		Date:         frozenNow.AddDate(0, 0, -1),
		TimeSlot:     "M1",
		Type:         models.SessionTypeRCD,
		OriginalType: models.SessionTypeRCD,
		Details: models.SessionDetails{
			ReplacedTeacher: "Paul Durand",
			ClassName:       "5B",
			Subject:         "Mathématiques",
		},
		Status:    status,
		CreatedAt: frozenNow.Add(-30 * time.Minute),
		UpdatedAt: frozenNow.Add(-30 * time.Minute),
		Version:   3,
	}
}

func requireAppError(t *testing.T, err error, code string) *appErrors.Error {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
	return appErr
}

func TestSessionCreate(t *testing.T) {
	t.Run("teacher declares for self", func(t *testing.T) {
		store := newStubSessionStore()
		audit := &stubAudit{}
		svc := newTestSessionService(store, nil, audit)

		session, err := svc.Create(context.Background(), dto.CreateSessionRequest{
			TeacherID: "t-1",
			Date:      frozenNow,
			TimeSlot:  "S2",
			Type:      models.SessionTypeDevoirsFaits,
			Details:   models.SessionDetails{StudentCount: 12, GradeLevel: "6e"},
		}, teacherClaims("t-1"))

		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusSubmitted, session.Status)
		assert.Equal(t, models.SessionTypeDevoirsFaits, session.OriginalType)
		assert.True(t, session.InPacte)
		assert.Equal(t, frozenNow, session.CreatedAt)
		assert.Len(t, audit.logs, 1)
	})

	t.Run("teacher cannot declare for someone else", func(t *testing.T) {
		svc := newTestSessionService(newStubSessionStore(), nil, nil)
		_, err := svc.Create(context.Background(), dto.CreateSessionRequest{
			TeacherID: "t-2",
			Date:      frozenNow,
			TimeSlot:  "M1",
			Type:      models.SessionTypeHSE,
		}, teacherClaims("t-1"))
		requireAppError(t, err, "FORBIDDEN")
	})

	t.Run("non-teacher cannot declare", func(t *testing.T) {
		svc := newTestSessionService(newStubSessionStore(), nil, nil)
		_, err := svc.Create(context.Background(), dto.CreateSessionRequest{
			TeacherID: "actor-1",
			Date:      frozenNow,
			TimeSlot:  "M1",
			Type:      models.SessionTypeHSE,
		}, claimsWithRole(models.RoleSecretary))
		requireAppError(t, err, "FORBIDDEN")
	})

	t.Run("RCD without replaced teacher is rejected", func(t *testing.T) {
		svc := newTestSessionService(newStubSessionStore(), nil, nil)
		_, err := svc.Create(context.Background(), dto.CreateSessionRequest{
			TeacherID: "t-1",
			Date:      frozenNow,
			TimeSlot:  "M1",
			Type:      models.SessionTypeRCD,
			Details:   models.SessionDetails{ClassName: "5B"},
		}, teacherClaims("t-1"))
		requireAppError(t, err, "VALIDATION_ERROR")
	})

	t.Run("cross-group details are rejected", func(t *testing.T) {
		svc := newTestSessionService(newStubSessionStore(), nil, nil)
		_, err := svc.Create(context.Background(), dto.CreateSessionRequest{
			TeacherID: "t-1",
			Date:      frozenNow,
			TimeSlot:  "M1",
			Type:      models.SessionTypeDevoirsFaits,
			Details:   models.SessionDetails{StudentCount: 8, GradeLevel: "4e", ClassName: "5B"},
		}, teacherClaims("t-1"))
		requireAppError(t, err, "VALIDATION_ERROR")
	})
}

func TestSessionUpdate(t *testing.T) {
	t.Run("teacher edits own submitted session", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, nil, &stubAudit{})

		slot := "S3"
		updated, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{TimeSlot: &slot}, teacherClaims("t-1"))

		require.NoError(t, err)
		assert.Equal(t, "S3", updated.TimeSlot)
		assert.Equal(t, "Marie Dupont", updated.UpdatedBy)
		assert.Equal(t, frozenNow, updated.UpdatedAt)
	})

	t.Run("teacher cannot edit another teacher's session", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-2", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, nil, nil)
		slot := "S3"
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{TimeSlot: &slot}, teacherClaims("t-1"))
		requireAppError(t, err, "FORBIDDEN")
	})

	t.Run("teacher locked out once reviewed", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusReviewed))
		svc := newTestSessionService(store, nil, nil)
		slot := "S3"
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{TimeSlot: &slot}, teacherClaims("t-1"))
		requireAppError(t, err, "FORBIDDEN")
	})

	t.Run("type patch is rejected for everyone", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, nil, nil)
		newType := models.SessionTypeHSE
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{Type: &newType}, claimsWithRole(models.RolePrincipal))
		requireAppError(t, err, "FORBIDDEN")
	})

	t.Run("teacher cannot patch status", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, nil, nil)
		status := models.SessionStatusValidated
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{Status: &status}, teacherClaims("t-1"))
		requireAppError(t, err, "FORBIDDEN")
	})

	t.Run("secretary moves submitted to reviewed", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, nil, &stubAudit{})
		status := models.SessionStatusReviewed
		comment := "vérifié avec l'emploi du temps"
		updated, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{Status: &status, Comment: &comment}, claimsWithRole(models.RoleSecretary))
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusReviewed, updated.Status)
		assert.Equal(t, "vérifié avec l'emploi du temps", updated.Comment)
	})

	t.Run("illegal transition is rejected", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusPaid))
		svc := newTestSessionService(store, nil, nil)
		status := models.SessionStatusSubmitted
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{Status: &status}, claimsWithRole(models.RolePrincipal))
		requireAppError(t, err, "INVALID_STATE")
	})

	t.Run("admin blocked after the edit window", func(t *testing.T) {
		session := rcdSession("s-1", "t-1", models.SessionStatusSubmitted)
		session.CreatedAt = frozenNow.Add(-90 * time.Minute)
		store := newStubSessionStore(session)
		svc := newTestSessionService(store, &stubSettings{window: 60}, nil)

		slot := "S3"
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{TimeSlot: &slot}, claimsWithRole(models.RoleAdmin))

		appErr := requireAppError(t, err, "EDIT_WINDOW_EXPIRED")
		assert.Equal(t, 403, appErr.Status)
		assert.Equal(t, 60, appErr.Details["edit_window_minutes"])
		assert.Equal(t, 90, appErr.Details["elapsed_minutes"])
		assert.Equal(t, 0, appErr.Details["remaining_minutes"])
	})

	t.Run("admin edits within the window", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, &stubSettings{window: 60}, &stubAudit{})
		slot := "S3"
		updated, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{TimeSlot: &slot}, claimsWithRole(models.RoleAdmin))
		require.NoError(t, err)
		assert.Equal(t, "S3", updated.TimeSlot)
	})

	t.Run("teacher is not window-gated", func(t *testing.T) {
		session := rcdSession("s-1", "t-1", models.SessionStatusSubmitted)
		session.CreatedAt = frozenNow.Add(-6 * time.Hour)
		store := newStubSessionStore(session)
		svc := newTestSessionService(store, &stubSettings{window: 60}, &stubAudit{})
		slot := "S3"
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{TimeSlot: &slot}, teacherClaims("t-1"))
		require.NoError(t, err)
	})

	t.Run("concurrent modification surfaces as conflict", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		store.updateErr = sql.ErrNoRows
		svc := newTestSessionService(store, nil, nil)
		slot := "S3"
		_, err := svc.Update(context.Background(), "s-1", dto.UpdateSessionRequest{TimeSlot: &slot}, teacherClaims("t-1"))
		requireAppError(t, err, "CONFLICT")
	})

	t.Run("unknown session maps to not found", func(t *testing.T) {
		svc := newTestSessionService(newStubSessionStore(), nil, nil)
		slot := "S3"
		_, err := svc.Update(context.Background(), "missing", dto.UpdateSessionRequest{TimeSlot: &slot}, teacherClaims("t-1"))
		requireAppError(t, err, "NOT_FOUND")
	})
}

func TestSessionValidate(t *testing.T) {
	t.Run("principal transforms the type with a trail note", func(t *testing.T) {
		session := rcdSession("s-1", "t-1", models.SessionStatusReviewed)
		store := newStubSessionStore(session)
		svc := newTestSessionService(store, nil, &stubAudit{})

		newType := models.SessionTypeDevoirsFaits
		updated, err := svc.Validate(context.Background(), "s-1", dto.ValidateSessionRequest{Type: &newType}, claimsWithRole(models.RolePrincipal))

		require.NoError(t, err)
		assert.Equal(t, models.SessionTypeDevoirsFaits, updated.Type)
		assert.Equal(t, models.SessionTypeRCD, updated.OriginalType)
		assert.Equal(t, models.SessionStatusValidated, updated.Status)
		assert.Contains(t, updated.Comment, "type changed from RCD to DEVOIRS_FAITS by Jean Martin")
	})

	t.Run("existing comment trail is preserved", func(t *testing.T) {
		session := rcdSession("s-1", "t-1", models.SessionStatusReviewed)
		session.Comment = "vérifié par le secrétariat"
		store := newStubSessionStore(session)
		svc := newTestSessionService(store, nil, nil)

		updated, err := svc.Validate(context.Background(), "s-1", dto.ValidateSessionRequest{Comment: "validé"}, claimsWithRole(models.RolePrincipal))

		require.NoError(t, err)
		assert.Equal(t, "vérifié par le secrétariat\nvalidé", updated.Comment)
	})

	t.Run("only the principal may validate", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusReviewed))
		svc := newTestSessionService(store, nil, nil)
		for _, role := range []models.UserRole{models.RoleTeacher, models.RoleSecretary, models.RoleAdmin} {
			_, err := svc.Validate(context.Background(), "s-1", dto.ValidateSessionRequest{}, claimsWithRole(role))
			requireAppError(t, err, "FORBIDDEN")
		}
	})

	t.Run("validated session cannot be validated again", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusValidated))
		svc := newTestSessionService(store, nil, nil)
		_, err := svc.Validate(context.Background(), "s-1", dto.ValidateSessionRequest{}, claimsWithRole(models.RolePrincipal))
		requireAppError(t, err, "INVALID_STATE")
	})

	t.Run("principal may reject instead of validate", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, nil, &stubAudit{})
		status := models.SessionStatusRejected
		updated, err := svc.Validate(context.Background(), "s-1", dto.ValidateSessionRequest{Status: &status, Comment: "hors cadre"}, claimsWithRole(models.RolePrincipal))
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusRejected, updated.Status)
		assert.Equal(t, "hors cadre", updated.Comment)
	})
}

func TestSessionDelete(t *testing.T) {
	t.Run("teacher deletes own submitted session", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, nil, &stubAudit{})
		require.NoError(t, svc.Delete(context.Background(), "s-1", teacherClaims("t-1")))
		assert.Equal(t, "s-1", store.deleted)
	})

	t.Run("admin cannot delete a validated session", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusValidated))
		svc := newTestSessionService(store, nil, nil)
		err := svc.Delete(context.Background(), "s-1", claimsWithRole(models.RoleAdmin))
		requireAppError(t, err, "FORBIDDEN")
	})

	t.Run("admin delete is window-gated", func(t *testing.T) {
		session := rcdSession("s-1", "t-1", models.SessionStatusSubmitted)
		session.CreatedAt = frozenNow.Add(-2 * time.Hour)
		store := newStubSessionStore(session)
		svc := newTestSessionService(store, &stubSettings{window: 60}, nil)
		err := svc.Delete(context.Background(), "s-1", claimsWithRole(models.RoleAdmin))
		requireAppError(t, err, "EDIT_WINDOW_EXPIRED")
	})

	t.Run("principal deletes a validated session", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusValidated))
		svc := newTestSessionService(store, nil, &stubAudit{})
		require.NoError(t, svc.Delete(context.Background(), "s-1", claimsWithRole(models.RolePrincipal)))
	})

	t.Run("deleting a vanished session is a conflict", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		store.deleteErr = sql.ErrNoRows
		svc := newTestSessionService(store, nil, nil)
		err := svc.Delete(context.Background(), "s-1", teacherClaims("t-1"))
		requireAppError(t, err, "CONFLICT")
	})
}

func TestSessionEditStatus(t *testing.T) {
	t.Run("teacher within window", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
		svc := newTestSessionService(store, &stubSettings{window: 60}, nil)

		resp, err := svc.EditStatus(context.Background(), "s-1", teacherClaims("t-1"))

		require.NoError(t, err)
		assert.True(t, resp.IsEditable)
		require.NotNil(t, resp.EditWindowMinutes)
		assert.Equal(t, 60, *resp.EditWindowMinutes)
		assert.Equal(t, 30, *resp.ElapsedMinutes)
		assert.Equal(t, 30, *resp.RemainingMinutes)
	})

	t.Run("teacher past the window", func(t *testing.T) {
		session := rcdSession("s-1", "t-1", models.SessionStatusSubmitted)
		session.CreatedAt = frozenNow.Add(-75 * time.Minute)
		store := newStubSessionStore(session)
		svc := newTestSessionService(store, &stubSettings{window: 60}, nil)

		resp, err := svc.EditStatus(context.Background(), "s-1", teacherClaims("t-1"))

		require.NoError(t, err)
		assert.False(t, resp.IsEditable)
		assert.Equal(t, 75, *resp.ElapsedMinutes)
		assert.Equal(t, 0, *resp.RemainingMinutes)
	})

	t.Run("secretary gets a plain decision", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusValidated))
		svc := newTestSessionService(store, nil, nil)

		resp, err := svc.EditStatus(context.Background(), "s-1", claimsWithRole(models.RoleSecretary))

		require.NoError(t, err)
		assert.True(t, resp.IsEditable)
		assert.Nil(t, resp.EditWindowMinutes)
	})

	t.Run("locked state wins over the clock", func(t *testing.T) {
		store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusValidated))
		svc := newTestSessionService(store, &stubSettings{window: 60}, nil)

		resp, err := svc.EditStatus(context.Background(), "s-1", teacherClaims("t-1"))

		require.NoError(t, err)
		assert.False(t, resp.IsEditable)
		assert.Nil(t, resp.EditWindowMinutes)
	})
}

func TestSessionExportCSV(t *testing.T) {
	store := newStubSessionStore(
		rcdSession("s-1", "t-1", models.SessionStatusValidated),
		rcdSession("s-2", "t-2", models.SessionStatusValidated),
	)
	svc := newTestSessionService(store, nil, nil)

	data, err := svc.ExportCSV(context.Background(), dto.SessionQuery{}, claimsWithRole(models.RoleSecretary))

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "original_type")
}

func TestSessionExportCSVCoversAllPages(t *testing.T) {
	store := newStubSessionStore()
	for i := 0; i < 250; i++ {
		store.sessions[fmt.Sprintf("s-%03d", i)] = rcdSession(fmt.Sprintf("s-%03d", i), "t-1", models.SessionStatusValidated)
	}
	svc := newTestSessionService(store, nil, nil)

	data, err := svc.ExportCSV(context.Background(), dto.SessionQuery{}, claimsWithRole(models.RoleSecretary))

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 251)
}

func TestSessionListScoping(t *testing.T) {
	store := newStubSessionStore(
		rcdSession("s-1", "t-1", models.SessionStatusSubmitted),
		rcdSession("s-2", "t-2", models.SessionStatusSubmitted),
	)
	svc := newTestSessionService(store, nil, nil)

	sessions, pagination, err := svc.List(context.Background(), dto.SessionQuery{}, teacherClaims("t-1"))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "t-1", sessions[0].TeacherID)
	assert.Equal(t, 1, pagination.TotalCount)

	sessions, _, err = svc.List(context.Background(), dto.SessionQuery{}, claimsWithRole(models.RolePrincipal))
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSessionListClampsPageSize(t *testing.T) {
	store := newStubSessionStore(rcdSession("s-1", "t-1", models.SessionStatusSubmitted))
	svc := newTestSessionService(store, nil, nil)

	_, pagination, err := svc.List(context.Background(), dto.SessionQuery{PageSize: 500}, claimsWithRole(models.RolePrincipal))
	require.NoError(t, err)
	assert.Equal(t, 200, pagination.PageSize)

	_, pagination, err = svc.List(context.Background(), dto.SessionQuery{}, claimsWithRole(models.RolePrincipal))
	require.NoError(t, err)
	assert.Equal(t, 50, pagination.PageSize)
}
