package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Elizabethomito/racereg/backend/internal/models"
)

func TestWriteWorkbook(t *testing.T) {
	event := models.Event{Slug: "city-10k", Name: "City 10K"}
	records := []models.RegistrationRecord{
		{
			ID: "reg-1", OrderID: "ord_1", Mode: "GROUP", Total: 1620, PayableAmount: 1715,
			Status: models.RegistrationPaid, CreatedAt: time.Date(2029, 1, 1, 12, 0, 0, 0, time.UTC),
			Participants: []models.ParticipantPayload{
				{Participant: models.Participant{FirstName: "Asha", LastName: "R", Email: "asha@example.com", CategoryName: "10K"}, Age: 40, AgeBracketName: "Veterans"},
				{Participant: models.Participant{FirstName: "Ravi", LastName: "K", Email: "ravi@example.com", CategoryName: "5K"}, Age: 31},
			},
		},
		{ID: "reg-2", OrderID: "ord_2", Mode: "RELAY", TeamName: "Tide Turners", Status: models.RegistrationPending},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, event, records))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{RegistrationsSheet, ParticipantsSheet}, f.GetSheetList())

	regs, err := f.GetRows(RegistrationsSheet)
	require.NoError(t, err)
	require.Len(t, regs, 3)
	assert.Equal(t, "Order ID", regs[0][0])
	assert.Equal(t, "ord_1", regs[1][0])
	assert.Equal(t, "1715", regs[1][7])
	assert.Equal(t, "Tide Turners", regs[2][3])

	parts, err := f.GetRows(ParticipantsSheet)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "Veterans", parts[1][8])
	assert.Equal(t, "ravi@example.com", parts[2][3])
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "city-10k-registrations.xlsx", Filename(models.Event{Slug: "city-10k"}))
}
