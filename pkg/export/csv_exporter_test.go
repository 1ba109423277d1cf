package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecollege/hse-api/internal/models"
)

func TestSessionsCSV(t *testing.T) {
	created := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	data, err := SessionsCSV([]models.Session{
		{
			ID:           "s-1",
			TeacherID:    "t-1",
			TeacherName:  "Marie Dupont",
			Date:         created,
			TimeSlot:     "M1",
			Type:         models.SessionTypeRCD,
			OriginalType: models.SessionTypeRCD,
			InPacte:      true,
			Status:       models.SessionStatusValidated,
			Comment:      "validé",
			CreatedAt:    created,
		},
	})

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,teacher_id,teacher_name,date,time_slot,type,original_type,in_pacte,status,comment,created_at", lines[0])
	assert.Contains(t, lines[1], "s-1,t-1,Marie Dupont,2025-03-10,M1,RCD,RCD,true,VALIDATED")
}

func TestSessionsCSVEmpty(t *testing.T) {
	data, err := SessionsCSV(nil)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1)
}
