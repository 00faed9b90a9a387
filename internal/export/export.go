// Package export writes an event's registrations as an xlsx workbook for
// organisers.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// Sheet names.
const (
	RegistrationsSheet = "Registrations"
	ParticipantsSheet  = "Participants"
)

var (
	registrationHeader = []any{
		"Order ID", "Registration ID", "Mode", "Team", "Team contact", "Coupon",
		"Total", "Payable", "Status", "Participants", "Created at",
	}
	participantHeader = []any{
		"Order ID", "First name", "Last name", "Email", "Mobile", "Gender", "Date of birth",
		"Age", "Age group", "Category", "T-shirt", "Club", "City", "Emergency contact", "Emergency number",
	}
)

// Workbook builds the workbook. The caller closes the returned file.
func Workbook(event models.Event, records []models.RegistrationRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", RegistrationsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ParticipantsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("add sheet: %w", err)
	}

	if err := writeRow(f, RegistrationsSheet, 1, registrationHeader); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRow(f, ParticipantsSheet, 1, participantHeader); err != nil {
		f.Close()
		return nil, err
	}

	prow := 2
	for i, r := range records {
		row := []any{
			r.OrderID, r.ID, r.Mode, r.TeamName, r.TeamContact, r.CouponCode,
			r.Total, r.PayableAmount, r.Status, len(r.Participants),
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		if err := writeRow(f, RegistrationsSheet, i+2, row); err != nil {
			f.Close()
			return nil, err
		}

		for _, p := range r.Participants {
			row := []any{
				r.OrderID, p.FirstName, p.LastName, p.Email, p.Mobile, string(p.Gender),
				p.DateOfBirth.Format("2006-01-02"), p.Age, p.AgeBracketName, p.CategoryName,
				p.TShirtSize, p.Club, p.City, p.EmergencyContactName, p.EmergencyContactNumber,
			}
			if err := writeRow(f, ParticipantsSheet, prow, row); err != nil {
				f.Close()
				return nil, err
			}
			prow++
		}
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   event.Name + " registrations",
		Creator: "racereg",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("set doc props: %w", err)
	}
	return f, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, event models.Event, records []models.RegistrationRecord) error {
	f, err := Workbook(event, records)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Filename is the download name for an event's export.
func Filename(event models.Event) string {
	return event.Slug + "-registrations.xlsx"
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	axis, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, axis, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
