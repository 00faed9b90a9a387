// Package roster collects the participants of a registration and validates
// each record before it is accepted.
package roster

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

var (
	phonePattern   = regexp.MustCompile(`^[0-9]{10}$`)
	pincodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// Normalize trims text fields, upper-cases gender and copies the mobile
// number into WhatsApp when the "same number" toggle is set.
func Normalize(p models.Participant) models.Participant {
	trim := strings.TrimSpace
	p.FirstName = trim(p.FirstName)
	p.LastName = trim(p.LastName)
	p.Email = strings.ToLower(trim(p.Email))
	p.Mobile = trim(p.Mobile)
	p.WhatsApp = trim(p.WhatsApp)
	p.Gender = models.NormalizeGender(p.Gender)
	p.CategoryName = trim(p.CategoryName)
	p.TShirtSize = strings.ToUpper(trim(p.TShirtSize))
	p.BloodGroup = strings.ToUpper(trim(p.BloodGroup))
	p.City = trim(p.City)
	p.State = trim(p.State)
	p.Pincode = trim(p.Pincode)
	p.EmergencyContactName = trim(p.EmergencyContactName)
	p.EmergencyContactNumber = trim(p.EmergencyContactNumber)
	if p.SameWhatsApp {
		p.WhatsApp = p.Mobile
	}
	return p
}

// Validate returns every field problem with p. The returned list is empty
// when p may be added to a roster.
func Validate(p models.Participant, now time.Time) apperr.List {
	var errs apperr.List
	add := func(field, msg string) { errs.Add(apperr.CodeValidation, field, msg) }

	if p.FirstName == "" {
		add("first_name", "First name is required.")
	}
	if p.LastName == "" {
		add("last_name", "Last name is required.")
	}
	if p.Email == "" {
		add("email", "Email is required.")
	} else if addr, err := mail.ParseAddress(p.Email); err != nil || addr.Address != p.Email || !strings.Contains(p.Email[strings.LastIndex(p.Email, "@")+1:], ".") {
		add("email", "Enter a valid email address.")
	}
	if !phonePattern.MatchString(p.Mobile) {
		add("mobile", "Mobile number must be 10 digits.")
	}
	if !p.SameWhatsApp && p.WhatsApp != "" && !phonePattern.MatchString(p.WhatsApp) {
		add("whatsapp", "WhatsApp number must be 10 digits.")
	}
	if p.Gender != models.GenderMale && p.Gender != models.GenderFemale {
		add("gender", "Select a gender.")
	}
	switch {
	case p.DateOfBirth.IsZero():
		add("date_of_birth", "Date of birth is required.")
	case !p.DateOfBirth.Before(now):
		add("date_of_birth", "Date of birth must be in the past.")
	}
	if p.CategoryName == "" {
		add("category_name", "Select a category.")
	}
	if p.TShirtSize == "" {
		add("tshirt_size", "Select a t-shirt size.")
	}
	if p.Pincode != "" && !pincodePattern.MatchString(p.Pincode) {
		add("pincode", "Pincode must be 6 digits.")
	}
	if p.EmergencyContactName == "" {
		add("emergency_contact_name", "Emergency contact name is required.")
	}
	switch {
	case !phonePattern.MatchString(p.EmergencyContactNumber):
		add("emergency_contact_number", "Emergency contact number must be 10 digits.")
	case p.EmergencyContactNumber == p.Mobile:
		add("emergency_contact_number", "Emergency contact number must differ from your mobile number.")
	}
	if !p.AcceptedTerms {
		add("accepted_terms", "You must accept the terms and conditions.")
	}
	return errs
}

// ValidateTeam checks the relay team fields.
func ValidateTeam(t models.Team) apperr.List {
	var errs apperr.List
	if strings.TrimSpace(t.Name) == "" {
		errs.Add(apperr.CodeValidation, "team_name", "Team name is required.")
	}
	contact := strings.TrimSpace(t.Contact)
	switch {
	case contact == "":
		errs.Add(apperr.CodeValidation, "team_contact", "Team contact number is required.")
	case !phonePattern.MatchString(contact):
		errs.Add(apperr.CodeValidation, "team_contact", "Team contact number must be 10 digits.")
	}
	return errs
}

// Roster is the ordered list of participants gathered before payment.
type Roster struct {
	entries []models.Participant
	editing int
}

// New returns an empty roster.
func New() *Roster {
	return &Roster{editing: -1}
}

// Len is the number of accepted participants.
func (r *Roster) Len() int { return len(r.entries) }

// Entries returns a copy of the participants.
func (r *Roster) Entries() []models.Participant {
	out := make([]models.Participant, len(r.entries))
	copy(out, r.entries)
	return out
}

// Editing returns the index being edited, or false.
func (r *Roster) Editing() (int, bool) {
	return r.editing, r.editing >= 0
}

// Add validates p and appends it. capacity is the number of participants the
// ledger currently requires. more reports whether further participants are
// still needed after this one.
func (r *Roster) Add(p models.Participant, capacity int, now time.Time) (more bool, err error) {
	if len(r.entries) >= capacity {
		return false, apperr.Field(apperr.CodeValidation, "participants",
			fmt.Sprintf("All %d participants have already been added.", capacity))
	}
	p = Normalize(p)
	if errs := Validate(p, now); len(errs) > 0 {
		return false, errs
	}
	r.entries = append(r.entries, p)
	return len(r.entries) < capacity, nil
}

// Replace swaps the whole roster for entries without validation. Single
// registration uses it to mirror the one form into the roster.
func (r *Roster) Replace(entries []models.Participant) {
	r.entries = append(r.entries[:0:0], entries...)
	r.editing = -1
}

// Edit marks entry i as being edited and returns it for the entry form.
func (r *Roster) Edit(i int) (models.Participant, error) {
	if i < 0 || i >= len(r.entries) {
		return models.Participant{}, apperr.Field(apperr.CodeNotFound, "participants", fmt.Sprintf("no participant at position %d", i+1))
	}
	r.editing = i
	return r.entries[i], nil
}

// Save validates p and replaces the entry being edited.
func (r *Roster) Save(p models.Participant, now time.Time) error {
	if r.editing < 0 || r.editing >= len(r.entries) {
		return apperr.Field(apperr.CodeStep, "participants", "no participant is being edited")
	}
	p = Normalize(p)
	if errs := Validate(p, now); len(errs) > 0 {
		return errs
	}
	r.entries[r.editing] = p
	r.editing = -1
	return nil
}

// CancelEdit leaves edit mode without changes.
func (r *Roster) CancelEdit() { r.editing = -1 }

// Remove deletes entry i and cancels any pending edit.
func (r *Roster) Remove(i int) error {
	if i < 0 || i >= len(r.entries) {
		return apperr.Field(apperr.CodeNotFound, "participants", fmt.Sprintf("no participant at position %d", i+1))
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	r.editing = -1
	return nil
}

// Reset empties the roster.
func (r *Roster) Reset() {
	r.entries = nil
	r.editing = -1
}
