package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ecollege/hse-api/internal/models"
)

const sessionColumns = `id, teacher_id, teacher_name, date, time_slot, type, original_type,
       in_pacte, details, status, comment, created_at, updated_at, updated_by, version`

// SessionRepository persists overtime session declarations.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	session.Version = 1
	const query = `INSERT INTO sessions
	(id, teacher_id, teacher_name, date, time_slot, type, original_type, in_pacte, details, status, comment, created_at, updated_at, updated_by, version)
	VALUES (:id, :teacher_id, :teacher_name, :date, :time_slot, :type, :original_type, :in_pacte, :details, :status, :comment, :created_at, :updated_at, :updated_by, :version)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID fetches a session by identifier.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions matching the filter, most recent first.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM sessions`, sessionColumns))

	conditions := make([]string, 0, 4)
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY date DESC, created_at DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	} else if limit > 200 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Count returns the number of sessions matching the filter.
func (r *SessionRepository) Count(ctx context.Context, filter models.SessionFilter) (int, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT COUNT(*) FROM sessions`)

	conditions := make([]string, 0, 4)
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, builder.String(), args...); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return total, nil
}

// Update persists a mutated session guarded by its version. The version
// check serialises concurrent read-modify-write cycles on the same row:
// when another writer got there first, zero rows match and sql.ErrNoRows
// is returned so the caller can surface a conflict.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	expected := session.Version
	session.Version = expected + 1
	const query = `UPDATE sessions SET
	date = :date, time_slot = :time_slot, type = :type, in_pacte = :in_pacte,
	details = :details, status = :status, comment = :comment,
	updated_at = :updated_at, updated_by = :updated_by, version = :version
	WHERE id = :id AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               session.ID,
		"date":             session.Date,
		"time_slot":        session.TimeSlot,
		"type":             session.Type,
		"in_pacte":         session.InPacte,
		"details":          session.Details,
		"status":           session.Status,
		"comment":          session.Comment,
		"updated_at":       session.UpdatedAt,
		"updated_by":       session.UpdatedBy,
		"version":          session.Version,
		"expected_version": expected,
	})
	if err != nil {
		session.Version = expected
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		session.Version = expected
		return fmt.Errorf("check session update rows: %w", err)
	}
	if rows == 0 {
		session.Version = expected
		return sql.ErrNoRows
	}
	return nil
}

// Delete hard-deletes a session guarded by its version.
func (r *SessionRepository) Delete(ctx context.Context, id string, expectedVersion int) error {
	const query = `DELETE FROM sessions WHERE id = $1 AND version = $2`
	result, err := r.db.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check session delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
