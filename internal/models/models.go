package models

import (
	"strings"
	"time"
)

// EventStatus represents the lifecycle state of a race event.
type EventStatus string

const (
	EventStatusUpcoming           EventStatus = "UPCOMING"
	EventStatusOpen               EventStatus = "OPENFORREGISTRATION"
	EventStatusRegistrationClosed EventStatus = "REGISTRATIONCLOSED"
	EventStatusClosed             EventStatus = "CLOSED"
)

// Gender is used both for participants and for category/bracket restrictions.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderBoth   Gender = "BOTH"
)

// NormalizeGender upper-cases and trims g. An empty value stays empty.
func NormalizeGender(g Gender) Gender {
	return Gender(strings.ToUpper(strings.TrimSpace(string(g))))
}

// Allows reports whether a restriction of g admits a participant of gender p.
// An empty restriction is treated like BOTH.
func (g Gender) Allows(p Gender) bool {
	r := NormalizeGender(g)
	if r == "" || r == GenderBoth {
		return true
	}
	return r == NormalizeGender(p)
}

// AgeBracket is a named age/gender sub-range inside a category. Brackets are
// used for recognition, not pricing, and may overlap.
type AgeBracket struct {
	Name   string `json:"name" yaml:"name"`
	MinAge int    `json:"minimum_age" yaml:"minimum_age"`
	MaxAge int    `json:"maximum_age" yaml:"maximum_age"`
	Gender Gender `json:"gender" yaml:"gender"`
}

// Category is a priced ticket tier of an event ("10K", "Relay Team of 4").
type Category struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Distance string `json:"distance" yaml:"distance"`
	// Price is in minor currency units.
	Price int64 `json:"price" yaml:"price"`
	// DisplayPrice overrides what the storefront shows; never used for totals.
	DisplayPrice *int64       `json:"display_price,omitempty" yaml:"display_price,omitempty"`
	MinAge       int          `json:"minimum_age" yaml:"minimum_age"`
	MaxAge       int          `json:"maximum_age" yaml:"maximum_age"`
	Gender       Gender       `json:"gender" yaml:"gender"`
	AgeBrackets  []AgeBracket `json:"age_brackets,omitempty" yaml:"age_brackets,omitempty"`
	IsRelay      bool         `json:"is_relay" yaml:"is_relay"`
	TeamLimit    int          `json:"team_limit,omitempty" yaml:"team_limit,omitempty"`
}

// TeamSize is the number of tickets one selection of the category reserves:
// the fixed team size for relay categories, otherwise one.
func (c Category) TeamSize() int {
	if c.IsRelay && c.TeamLimit > 0 {
		return c.TeamLimit
	}
	return 1
}

// ShownPrice returns the display override when set, else the real price.
func (c Category) ShownPrice() int64 {
	if c.DisplayPrice != nil {
		return *c.DisplayPrice
	}
	return c.Price
}

// Event is an immutable snapshot of a race fetched once per session.
type Event struct {
	ID                   string      `json:"id" yaml:"id"`
	Slug                 string      `json:"slug" yaml:"slug"`
	Name                 string      `json:"name" yaml:"name"`
	Date                 time.Time   `json:"date" yaml:"date"`
	Location             string      `json:"location" yaml:"location"`
	RegistrationOpensAt  time.Time   `json:"registration_opens_at" yaml:"registration_opens_at"`
	RegistrationClosesAt time.Time   `json:"registration_closes_at" yaml:"registration_closes_at"`
	Status               EventStatus `json:"status" yaml:"status"`
	Categories           []Category  `json:"categories" yaml:"categories"`
	IsGroupRegistration  bool        `json:"is_group_registration" yaml:"is_group_registration"`
}

// IsRelay is true when any category of the event is a relay category.
func (e Event) IsRelay() bool {
	for _, c := range e.Categories {
		if c.IsRelay {
			return true
		}
	}
	return false
}

// AcceptingRegistrations reports whether the event is open and now falls
// inside the registration window. Zero bounds are open-ended.
func (e Event) AcceptingRegistrations(now time.Time) bool {
	if e.Status != EventStatusOpen {
		return false
	}
	if !e.RegistrationOpensAt.IsZero() && now.Before(e.RegistrationOpensAt) {
		return false
	}
	if !e.RegistrationClosesAt.IsZero() && now.After(e.RegistrationClosesAt) {
		return false
	}
	return true
}

// Coupon is a discount rule. Percentage wins over FixedAmount when both are set.
type Coupon struct {
	Code       string `json:"code" yaml:"code"`
	Percentage int    `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	// FixedAmount is in minor currency units.
	FixedAmount int64     `json:"fixed_amount,omitempty" yaml:"fixed_amount,omitempty"`
	EarlyBird   bool      `json:"early_bird" yaml:"early_bird"`
	ExpiresAt   time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Active      bool      `json:"active" yaml:"active"`
}

// Participant is one runner's registration record.
type Participant struct {
	FirstName              string    `json:"first_name"`
	LastName               string    `json:"last_name"`
	Email                  string    `json:"email"`
	Mobile                 string    `json:"mobile"`
	WhatsApp               string    `json:"whatsapp,omitempty"`
	SameWhatsApp           bool      `json:"same_whatsapp"`
	Gender                 Gender    `json:"gender"`
	DateOfBirth            time.Time `json:"date_of_birth"`
	CategoryName           string    `json:"category_name"`
	CategoryDistance       string    `json:"category_distance,omitempty"`
	TShirtSize             string    `json:"tshirt_size"`
	BloodGroup             string    `json:"blood_group,omitempty"`
	AddressLine            string    `json:"address_line,omitempty"`
	City                   string    `json:"city,omitempty"`
	State                  string    `json:"state,omitempty"`
	Pincode                string    `json:"pincode,omitempty"`
	Club                   string    `json:"club,omitempty"`
	EmergencyContactName   string    `json:"emergency_contact_name"`
	EmergencyContactNumber string    `json:"emergency_contact_number"`
	MedicalNotes           string    `json:"medical_notes,omitempty"`
	AcceptedTerms          bool      `json:"accepted_terms"`
}

// FullName joins first and last name.
func (p Participant) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Team carries relay-only fields shared by the whole roster.
type Team struct {
	Name    string `json:"team_name"`
	Contact string `json:"team_contact"`
}

// ---- Submission contract ----

// Selection is one category line of a registration payload.
type Selection struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Count      int    `json:"count"`
}

// ParticipantPayload flattens a participant with the values computed for it.
type ParticipantPayload struct {
	Participant
	Age            int    `json:"age"`
	AgeBracketName string `json:"age_bracket_name,omitempty"`
}

// RegistrationRequest is what the session hands to the registrar.
type RegistrationRequest struct {
	EventID      string               `json:"event_id"`
	Mode         string               `json:"mode"`
	CouponCode   string               `json:"coupon_code,omitempty"`
	Team         *Team                `json:"team,omitempty"`
	Selections   []Selection          `json:"selections"`
	Participants []ParticipantPayload `json:"participants"`
	// DisplayedTotal is the advisory client-side total; the registrar recomputes.
	DisplayedTotal int64 `json:"displayed_total"`
	// ReplacesOrderID names an unpaid order from the same session that this
	// submission supersedes.
	ReplacesOrderID string `json:"replaces_order_id,omitempty"`
}

// ParticipantEcho is the registrar's per-participant acknowledgement.
type ParticipantEcho struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	CategoryName string `json:"category_name"`
}

// SubmissionResult carries the authoritative amounts for an accepted registration.
type SubmissionResult struct {
	OrderID        string            `json:"order_id"`
	RegistrationID string            `json:"registration_id"`
	Subtotal       int64             `json:"subtotal"`
	Discount       int64             `json:"discount"`
	Total          int64             `json:"total"`
	PlatformFee    int64             `json:"platform_fee"`
	GST            int64             `json:"gst"`
	PayableAmount  int64             `json:"payable_amount"`
	Participants   []ParticipantEcho `json:"participants"`
}

// Confirmation is the terminal snapshot shown on the thank-you view.
type Confirmation struct {
	OrderID          string    `json:"order_id"`
	RegistrationID   string    `json:"registration_id"`
	EventID          string    `json:"event_id"`
	EventName        string    `json:"event_name"`
	PaymentRef       string    `json:"payment_ref"`
	PayableAmount    int64     `json:"payable_amount"`
	ParticipantCount int       `json:"participant_count"`
	TeamName         string    `json:"team_name,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// RegistrationRecord is a persisted registration row joined with its participants.
type RegistrationRecord struct {
	ID            string               `json:"id"`
	OrderID       string               `json:"order_id"`
	EventID       string               `json:"event_id"`
	Mode          string               `json:"mode"`
	CouponCode    string               `json:"coupon_code,omitempty"`
	TeamName      string               `json:"team_name,omitempty"`
	TeamContact   string               `json:"team_contact,omitempty"`
	Total         int64                `json:"total"`
	PayableAmount int64                `json:"payable_amount"`
	Status        string               `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	Participants  []ParticipantPayload `json:"participants"`
}

// Registration statuses.
const (
	RegistrationPending   = "pending"
	RegistrationPaid      = "paid"
	RegistrationAbandoned = "abandoned"
)
