package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecollege/hse-api/internal/dto"
	"github.com/ecollege/hse-api/internal/models"
	appErrors "github.com/ecollege/hse-api/pkg/errors"
	"github.com/ecollege/hse-api/pkg/response"
)

type sessionService interface {
	Create(ctx context.Context, req dto.CreateSessionRequest, actor *models.JWTClaims) (*models.Session, error)
	List(ctx context.Context, query dto.SessionQuery, actor *models.JWTClaims) ([]models.Session, *models.Pagination, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Session, error)
	Update(ctx context.Context, id string, req dto.UpdateSessionRequest, actor *models.JWTClaims) (*models.Session, error)
	Validate(ctx context.Context, id string, req dto.ValidateSessionRequest, actor *models.JWTClaims) (*models.Session, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
	EditStatus(ctx context.Context, id string, actor *models.JWTClaims) (*dto.EditStatusResponse, error)
	ExportCSV(ctx context.Context, query dto.SessionQuery, actor *models.JWTClaims) ([]byte, error)
}

// SessionHandler exposes the overtime session endpoints.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Create godoc
// @Summary Declare an overtime session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}
	session, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// List godoc
// @Summary List overtime sessions
// @Tags Sessions
// @Produce json
// @Param status query string false "Comma separated status filter"
// @Param type query string false "Session type filter"
// @Param teacher_id query string false "Teacher filter (ignored for teachers)"
// @Param date_from query string false "RFC3339 lower bound"
// @Param date_to query string false "RFC3339 upper bound"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	query, err := parseSessionQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	sessions, pagination, err := h.service.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// Get godoc
// @Summary Get a session by ID
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Update godoc
// @Summary Update a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateSessionRequest true "Partial update"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id} [patch]
func (h *SessionHandler) Update(c *gin.Context) {
	var req dto.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}
	session, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Validate godoc
// @Summary Validate a session, optionally transforming its type
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.ValidateSessionRequest true "Validation decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/validate [post]
func (h *SessionHandler) Validate(c *gin.Context) {
	var req dto.ValidateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validation payload"))
		return
	}
	session, err := h.service.Validate(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Delete godoc
// @Summary Delete a session
// @Tags Sessions
// @Param id path string true "Session ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// EditStatus godoc
// @Summary Report whether the caller may still edit the session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/edit-status [get]
func (h *SessionHandler) EditStatus(c *gin.Context) {
	status, err := h.service.EditStatus(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Export godoc
// @Summary Export filtered sessions as CSV
// @Tags Sessions
// @Produce text/csv
// @Param status query string false "Comma separated status filter"
// @Param date_from query string false "RFC3339 lower bound"
// @Param date_to query string false "RFC3339 upper bound"
// @Success 200 {string} string "CSV content"
// @Router /sessions/export [get]
func (h *SessionHandler) Export(c *gin.Context) {
	query, err := parseSessionQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	data, err := h.service.ExportCSV(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="sessions.csv"`)
	c.Data(http.StatusOK, "text/csv", data)
}

func parseSessionQuery(c *gin.Context) (dto.SessionQuery, error) {
	query := dto.SessionQuery{
		TeacherID: c.Query("teacher_id"),
		Type:      models.SessionType(c.Query("type")),
	}

	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.SessionStatus(strings.TrimSpace(part))
			if !models.ValidSessionStatus(status) {
				return query, appErrors.Clone(appErrors.ErrValidation, "unknown status filter: "+string(status))
			}
			query.Status = append(query.Status, status)
		}
	}
	if query.Type != "" && !models.ValidSessionType(query.Type) {
		return query, appErrors.Clone(appErrors.ErrValidation, "unknown type filter: "+string(query.Type))
	}

	if raw := c.Query("date_from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "date_from must be RFC3339")
		}
		query.DateFrom = &ts
	}
	if raw := c.Query("date_to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "date_to must be RFC3339")
		}
		query.DateTo = &ts
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return query, appErrors.Clone(appErrors.ErrValidation, "page must be a positive integer")
		}
		query.Page = page
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return query, appErrors.Clone(appErrors.ErrValidation, "page_size must be a positive integer")
		}
		query.PageSize = size
	}

	return query, nil
}
