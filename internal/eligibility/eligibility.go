// Package eligibility resolves a participant's age and age bracket for a
// race category.
package eligibility

import (
	"fmt"
	"time"

	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// Verdict is the outcome of resolving one participant against one category.
type Verdict struct {
	Age            int    `json:"age"`
	Eligible       bool   `json:"eligible"`
	MatchedBracket string `json:"matched_bracket,omitempty"`
	Message        string `json:"message,omitempty"`
}

// AgeOn returns dob's age in whole years on the given date. One year is
// subtracted when on's month/day falls before dob's month/day. A zero dob or
// a dob after on yields 0.
func AgeOn(dob, on time.Time) int {
	if dob.IsZero() || on.IsZero() {
		return 0
	}
	// Compare calendar dates only; time zones must not shift the birthday.
	dy, dm, dd := dob.Date()
	oy, om, od := on.Date()

	age := oy - dy
	if om < dm || (om == dm && od < dd) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Resolve checks a participant against the category's age brackets.
//
// Brackets are scanned in order and the first one whose inclusive age range
// and gender restriction both hold wins. A category without brackets is
// always eligible and produces no message: its own min/max age and gender
// are display fields only. Resolve never fails; a missing birth date is age
// 0 and, when brackets exist, ineligible.
func Resolve(c models.Category, dob time.Time, gender models.Gender, eventDate time.Time) Verdict {
	v := Verdict{Age: AgeOn(dob, eventDate)}

	if len(c.AgeBrackets) == 0 {
		v.Eligible = true
		return v
	}
	if dob.IsZero() {
		v.Message = fmt.Sprintf("Enter a date of birth to check eligibility for %s.", c.Name)
		return v
	}

	for _, b := range c.AgeBrackets {
		if v.Age < b.MinAge || v.Age > b.MaxAge {
			continue
		}
		if !b.Gender.Allows(gender) {
			continue
		}
		v.Eligible = true
		v.MatchedBracket = b.Name
		v.Message = fmt.Sprintf("You are eligible for the %s age group in %s.", b.Name, c.Name)
		return v
	}

	v.Message = fmt.Sprintf("No age group in %s matches age %d. Please choose a different category.", c.Name, v.Age)
	return v
}
