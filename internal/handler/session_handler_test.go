package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecollege/hse-api/internal/dto"
	"github.com/ecollege/hse-api/internal/middleware"
	"github.com/ecollege/hse-api/internal/models"
	appErrors "github.com/ecollege/hse-api/pkg/errors"
)

type sessionServiceMock struct {
	createResp *models.Session
	createErr  error
	listResp   []models.Session
	updateErr  error
	editResp   *dto.EditStatusResponse
	lastQuery  dto.SessionQuery
}

func (m *sessionServiceMock) Create(_ context.Context, _ dto.CreateSessionRequest, _ *models.JWTClaims) (*models.Session, error) {
	return m.createResp, m.createErr
}

func (m *sessionServiceMock) List(_ context.Context, query dto.SessionQuery, _ *models.JWTClaims) ([]models.Session, *models.Pagination, error) {
	m.lastQuery = query
	return m.listResp, &models.Pagination{Page: 1, PageSize: 50, TotalCount: len(m.listResp)}, nil
}

func (m *sessionServiceMock) Get(_ context.Context, id string, _ *models.JWTClaims) (*models.Session, error) {
	return &models.Session{ID: id}, nil
}

func (m *sessionServiceMock) Update(_ context.Context, id string, _ dto.UpdateSessionRequest, _ *models.JWTClaims) (*models.Session, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &models.Session{ID: id}, nil
}

func (m *sessionServiceMock) Validate(_ context.Context, id string, _ dto.ValidateSessionRequest, _ *models.JWTClaims) (*models.Session, error) {
	return &models.Session{ID: id, Status: models.SessionStatusValidated}, nil
}

func (m *sessionServiceMock) Delete(context.Context, string, *models.JWTClaims) error {
	return nil
}

func (m *sessionServiceMock) ExportCSV(_ context.Context, query dto.SessionQuery, _ *models.JWTClaims) ([]byte, error) {
	m.lastQuery = query
	return []byte("id,teacher_id\n"), nil
}

func (m *sessionServiceMock) EditStatus(_ context.Context, _ string, _ *models.JWTClaims) (*dto.EditStatusResponse, error) {
	return m.editResp, nil
}

func newSessionTestContext(t *testing.T, method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t-1", Role: models.RoleTeacher, FullName: "Marie Dupont"})
	return c, w
}

func TestSessionHandlerCreate(t *testing.T) {
	mock := &sessionServiceMock{createResp: &models.Session{ID: "s-1", Status: models.SessionStatusSubmitted}}
	handler := NewSessionHandler(mock)

	c, w := newSessionTestContext(t, http.MethodPost, "/sessions", dto.CreateSessionRequest{
		TeacherID: "t-1",
		TimeSlot:  "M1",
		Type:      models.SessionTypeHSE,
	})
	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
}

func TestSessionHandlerCreateInvalidBody(t *testing.T) {
	handler := NewSessionHandler(&sessionServiceMock{})
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerListFilters(t *testing.T) {
	mock := &sessionServiceMock{}
	handler := NewSessionHandler(mock)

	c, w := newSessionTestContext(t, http.MethodGet,
		"/sessions?status=SUBMITTED,REVIEWED&type=RCD&page=2&page_size=10", nil)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.SessionStatus{models.SessionStatusSubmitted, models.SessionStatusReviewed}, mock.lastQuery.Status)
	assert.Equal(t, models.SessionTypeRCD, mock.lastQuery.Type)
	assert.Equal(t, 2, mock.lastQuery.Page)
	assert.Equal(t, 10, mock.lastQuery.PageSize)
}

func TestSessionHandlerListRejectsUnknownStatus(t *testing.T) {
	handler := NewSessionHandler(&sessionServiceMock{})
	c, w := newSessionTestContext(t, http.MethodGet, "/sessions?status=ARCHIVED", nil)
	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerUpdatePropagatesServiceError(t *testing.T) {
	mock := &sessionServiceMock{updateErr: appErrors.EditWindowExpired(60, 90)}
	handler := NewSessionHandler(mock)

	c, w := newSessionTestContext(t, http.MethodPatch, "/sessions/s-1", dto.UpdateSessionRequest{})
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	handler.Update(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	var envelope struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "EDIT_WINDOW_EXPIRED", envelope.Error.Code)
	assert.EqualValues(t, 60, envelope.Error.Details["edit_window_minutes"])
	assert.EqualValues(t, 90, envelope.Error.Details["elapsed_minutes"])
}

func TestSessionHandlerEditStatus(t *testing.T) {
	window, elapsed, remaining := 60, 20, 40
	mock := &sessionServiceMock{editResp: &dto.EditStatusResponse{
		IsEditable:        true,
		EditWindowMinutes: &window,
		ElapsedMinutes:    &elapsed,
		RemainingMinutes:  &remaining,
	}}
	handler := NewSessionHandler(mock)

	c, w := newSessionTestContext(t, http.MethodGet, "/sessions/s-1/edit-status", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	handler.EditStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data dto.EditStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Data.IsEditable)
	assert.Equal(t, 40, *envelope.Data.RemainingMinutes)
}

func TestSessionHandlerDelete(t *testing.T) {
	handler := NewSessionHandler(&sessionServiceMock{})
	c, w := newSessionTestContext(t, http.MethodDelete, "/sessions/s-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
}
