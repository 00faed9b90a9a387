// Package ledger keeps per-category ticket counts for a registration
// session and enforces the quantity caps.
//
// Two policies exist. Group lets several categories carry independent
// counts at once, bounded by PerCategoryMax and GlobalMax. Exclusive allows
// one category at a time whose count is pinned to the category's team size
// (the relay team limit, or one ticket for single registration).
package ledger

import (
	"fmt"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

const (
	// PerCategoryMax caps a single category in group mode.
	PerCategoryMax = 4
	// GlobalMax caps the sum across categories in group mode.
	GlobalMax = 10
)

// Policy selects how categories interact.
type Policy int

const (
	Group Policy = iota
	Exclusive
)

func (p Policy) String() string {
	if p == Exclusive {
		return "exclusive"
	}
	return "group"
}

// Change reports what a mutation did to the active category, so the caller
// can keep its form's category fields in step.
type Change struct {
	// Activated is set when a category became active.
	Activated bool
	// Cleared is set when no category is active any more.
	Cleared  bool
	Index    int
	Category models.Category
}

// Line is one category with its reserved count.
type Line struct {
	Index    int
	Category models.Category
	Count    int
}

// Ledger is not safe for concurrent use; the owning session serializes access.
type Ledger struct {
	categories []models.Category
	policy     Policy
	counts     []int
	active     int
}

// New returns an empty ledger over categories.
func New(categories []models.Category, policy Policy) *Ledger {
	return &Ledger{
		categories: categories,
		policy:     policy,
		counts:     make([]int, len(categories)),
		active:     -1,
	}
}

// Policy returns the ledger's policy.
func (l *Ledger) Policy() Policy { return l.policy }

// Categories returns the category table the ledger counts against.
func (l *Ledger) Categories() []models.Category { return l.categories }

func (l *Ledger) check(i int) error {
	if i < 0 || i >= len(l.categories) {
		return apperr.Field(apperr.CodeValidation, "category", fmt.Sprintf("unknown category index %d", i))
	}
	return nil
}

// Increment reserves one more ticket in category i. When no category with
// tickets is active yet, i becomes the active one.
//
// Exclusive ledgers treat it as Activate. Group ledgers reject the change,
// leaving every count untouched, when the category would pass PerCategoryMax
// or the total would pass GlobalMax.
func (l *Ledger) Increment(i int) (Change, error) {
	if err := l.check(i); err != nil {
		return Change{}, err
	}
	if l.policy == Exclusive {
		return l.Activate(i)
	}

	if l.counts[i]+1 > PerCategoryMax {
		return Change{}, apperr.Field(apperr.CodeLimit, "count",
			fmt.Sprintf("You can add at most %d tickets for %s.", PerCategoryMax, l.categories[i].Name))
	}
	if l.Total()+1 > GlobalMax {
		return Change{}, apperr.Field(apperr.CodeLimit, "count",
			fmt.Sprintf("You can add at most %d tickets per registration.", GlobalMax))
	}

	l.counts[i]++
	if l.active < 0 || l.counts[l.active] == 0 {
		l.active = i
		return Change{Activated: true, Index: i, Category: l.categories[i]}, nil
	}
	return Change{Index: l.active, Category: l.categories[l.active]}, nil
}

// Decrement releases one ticket in category i, flooring at zero. Exclusive
// categories drop straight to zero since a partial team is never valid.
func (l *Ledger) Decrement(i int) (Change, error) {
	if err := l.check(i); err != nil {
		return Change{}, err
	}
	if l.counts[i] == 0 {
		return l.current(), nil
	}

	if l.policy == Exclusive {
		l.counts[i] = 0
	} else {
		l.counts[i]--
	}

	if l.Total() == 0 {
		l.active = -1
		return Change{Cleared: true, Index: -1}, nil
	}
	if i == l.active && l.counts[i] == 0 {
		for j, n := range l.counts {
			if n > 0 {
				l.active = j
				return Change{Activated: true, Index: j, Category: l.categories[j]}, nil
			}
		}
	}
	return l.current(), nil
}

// Activate makes category i the active one. Exclusive ledgers zero every
// other category and pin i to its team size; group ledgers only move the
// active marker.
func (l *Ledger) Activate(i int) (Change, error) {
	if err := l.check(i); err != nil {
		return Change{}, err
	}
	if l.policy == Exclusive {
		for j := range l.counts {
			l.counts[j] = 0
		}
		l.counts[i] = l.categories[i].TeamSize()
	}
	l.active = i
	return Change{Activated: true, Index: i, Category: l.categories[i]}, nil
}

// Clear drops every reservation.
func (l *Ledger) Clear() Change {
	for j := range l.counts {
		l.counts[j] = 0
	}
	l.active = -1
	return Change{Cleared: true, Index: -1}
}

func (l *Ledger) current() Change {
	if l.active < 0 {
		return Change{Index: -1}
	}
	return Change{Index: l.active, Category: l.categories[l.active]}
}

// Count returns the reserved count of category i (0 when out of range).
func (l *Ledger) Count(i int) int {
	if i < 0 || i >= len(l.counts) {
		return 0
	}
	return l.counts[i]
}

// Counts returns a copy of all counts in category order.
func (l *Ledger) Counts() []int {
	out := make([]int, len(l.counts))
	copy(out, l.counts)
	return out
}

// Total is the aggregate count across categories.
func (l *Ledger) Total() int {
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}

// Active returns the active category index, or false when none is active.
func (l *Ledger) Active() (int, bool) {
	return l.active, l.active >= 0
}

// ActiveCategory returns the active category, if any.
func (l *Ledger) ActiveCategory() (models.Category, bool) {
	if l.active < 0 {
		return models.Category{}, false
	}
	return l.categories[l.active], true
}

// Lines lists the categories with a non-zero count, in category order.
func (l *Ledger) Lines() []Line {
	var lines []Line
	for i, n := range l.counts {
		if n > 0 {
			lines = append(lines, Line{Index: i, Category: l.categories[i], Count: n})
		}
	}
	return lines
}
