package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/ecollege/hse-api/internal/models"
)

var sessionHeaders = []string{
	"id", "teacher_id", "teacher_name", "date", "time_slot",
	"type", "original_type", "in_pacte", "status", "comment", "created_at",
}

// SessionsCSV renders sessions as CSV bytes, one row per declaration. The
// column set is stable so payroll imports can rely on it.
func SessionsCSV(sessions []models.Session) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(sessionHeaders); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, s := range sessions {
		record := []string{
			s.ID,
			s.TeacherID,
			s.TeacherName,
			s.Date.Format("2006-01-02"),
			s.TimeSlot,
			string(s.Type),
			string(s.OriginalType),
			strconv.FormatBool(s.InPacte),
			string(s.Status),
			s.Comment,
			s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
