package ledger

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

func groupCategories() []models.Category {
	return []models.Category{
		{ID: "c-5k", Name: "5K", Distance: "5 km", Price: 300},
		{ID: "c-10k", Name: "10K", Distance: "10 km", Price: 500},
		{ID: "c-21k", Name: "Half Marathon", Distance: "21.1 km", Price: 900},
	}
}

func relayCategories() []models.Category {
	return []models.Category{
		{ID: "r-4", Name: "Relay Team of 4", Price: 2000, IsRelay: true, TeamLimit: 4},
		{ID: "r-2", Name: "Relay Pair", Price: 1200, IsRelay: true, TeamLimit: 2},
	}
}

func mustIncrement(t *testing.T, l *Ledger, i, times int) {
	t.Helper()
	for n := 0; n < times; n++ {
		if _, err := l.Increment(i); err != nil {
			t.Fatalf("Increment(%d) #%d: %v", i, n+1, err)
		}
	}
}

func TestIncrementActivatesFirstCategory(t *testing.T) {
	l := New(groupCategories(), Group)

	ch, err := l.Increment(1)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if !ch.Activated || ch.Category.Name != "10K" || ch.Category.Distance != "10 km" {
		t.Fatalf("expected 10K activation, got %+v", ch)
	}

	ch, err = l.Increment(0)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if ch.Activated {
		t.Error("second category must not steal the active marker")
	}
	if idx, ok := l.Active(); !ok || idx != 1 {
		t.Errorf("active: got %d,%v want 1,true", idx, ok)
	}
	if diff := cmp.Diff([]int{1, 1, 0}, l.Counts()); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
}

func TestIncrementPerCategoryCap(t *testing.T) {
	l := New(groupCategories(), Group)
	mustIncrement(t, l, 0, PerCategoryMax)

	before := l.Counts()
	_, err := l.Increment(0)
	if !errors.Is(err, apperr.ErrLimit) {
		t.Fatalf("expected limit error, got %v", err)
	}
	if diff := cmp.Diff(before, l.Counts()); diff != "" {
		t.Errorf("ledger changed on rejected increment (-want +got):\n%s", diff)
	}
}

func TestIncrementGlobalCap(t *testing.T) {
	cats := append(groupCategories(), models.Category{ID: "c-42k", Name: "Marathon", Price: 1500})
	l := New(cats, Group)
	mustIncrement(t, l, 0, 4)
	mustIncrement(t, l, 1, 4)
	mustIncrement(t, l, 2, 2)

	if _, err := l.Increment(3); apperr.CodeOf(err) != apperr.CodeLimit {
		t.Fatalf("expected limit error at aggregate %d, got %v", l.Total(), err)
	}
	if l.Total() != GlobalMax {
		t.Errorf("total: got %d, want %d", l.Total(), GlobalMax)
	}
}

func TestIncrementNeverExceedsCaps(t *testing.T) {
	cats := append(groupCategories(), models.Category{ID: "c-42k", Name: "Marathon"})
	l := New(cats, Group)
	for step := 0; step < 200; step++ {
		i := (step * 7) % len(cats)
		if step%5 == 0 {
			_, _ = l.Decrement(i)
		} else {
			_, _ = l.Increment(i)
		}
		for j, n := range l.Counts() {
			if n < 0 || n > PerCategoryMax {
				t.Fatalf("step %d: category %d count %d", step, j, n)
			}
		}
		if l.Total() > GlobalMax {
			t.Fatalf("step %d: aggregate %d", step, l.Total())
		}
	}
}

func TestDecrementFloorsAndClears(t *testing.T) {
	l := New(groupCategories(), Group)
	mustIncrement(t, l, 2, 1)

	ch, err := l.Decrement(2)
	if err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if !ch.Cleared {
		t.Fatalf("expected cleared change, got %+v", ch)
	}
	if _, ok := l.Active(); ok {
		t.Error("active category should be cleared")
	}

	if _, err := l.Decrement(2); err != nil {
		t.Fatalf("Decrement at zero: %v", err)
	}
	if l.Count(2) != 0 {
		t.Errorf("count went below zero: %d", l.Count(2))
	}
}

func TestDecrementMovesActiveToRemainingCategory(t *testing.T) {
	l := New(groupCategories(), Group)
	mustIncrement(t, l, 0, 1)
	mustIncrement(t, l, 2, 2)

	ch, err := l.Decrement(0)
	if err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if !ch.Activated || ch.Index != 2 {
		t.Fatalf("expected active to move to 2, got %+v", ch)
	}
}

func TestRelayActivationSnapsToTeamLimit(t *testing.T) {
	l := New(relayCategories(), Exclusive)

	ch, err := l.Increment(1)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if !ch.Activated {
		t.Fatal("expected activation")
	}
	if diff := cmp.Diff([]int{0, 2}, l.Counts()); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}

	if _, err := l.Activate(0); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if diff := cmp.Diff([]int{4, 0}, l.Counts()); diff != "" {
		t.Errorf("counts after switch (-want +got):\n%s", diff)
	}
	if l.Total() != 4 {
		t.Errorf("total: got %d, want 4", l.Total())
	}
}

func TestRelayDecrementDropsWholeTeam(t *testing.T) {
	l := New(relayCategories(), Exclusive)
	if _, err := l.Activate(0); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	ch, err := l.Decrement(0)
	if err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if !ch.Cleared || l.Total() != 0 {
		t.Fatalf("expected cleared ledger, got %+v total %d", ch, l.Total())
	}
}

func TestExclusiveSingleTicket(t *testing.T) {
	l := New(groupCategories(), Exclusive)
	mustIncrement(t, l, 0, 3)
	if _, err := l.Activate(2); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if diff := cmp.Diff([]int{0, 0, 1}, l.Counts()); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
}

func TestGroupActivateKeepsCounts(t *testing.T) {
	l := New(groupCategories(), Group)
	mustIncrement(t, l, 0, 2)
	if _, err := l.Activate(1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if diff := cmp.Diff([]int{2, 0, 0}, l.Counts()); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	if idx, _ := l.Active(); idx != 1 {
		t.Errorf("active: got %d, want 1", idx)
	}
}

func TestIncrementMovesActiveOffEmptyCategory(t *testing.T) {
	l := New(groupCategories(), Group)
	if _, err := l.Activate(0); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	ch, err := l.Increment(1)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if !ch.Activated || ch.Index != 1 || ch.Category.Name != "10K" {
		t.Fatalf("expected active to move to 1, got %+v", ch)
	}
	if idx, ok := l.Active(); !ok || idx != 1 {
		t.Errorf("active: got %d,%v want 1,true", idx, ok)
	}
	if diff := cmp.Diff([]int{0, 1, 0}, l.Counts()); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	l := New(groupCategories(), Group)
	mustIncrement(t, l, 0, 2)
	mustIncrement(t, l, 1, 1)
	if ch := l.Clear(); !ch.Cleared {
		t.Fatalf("expected cleared change")
	}
	if l.Total() != 0 || len(l.Lines()) != 0 {
		t.Fatalf("ledger not empty: %v", l.Counts())
	}
}

func TestLines(t *testing.T) {
	l := New(groupCategories(), Group)
	mustIncrement(t, l, 0, 2)
	mustIncrement(t, l, 2, 1)

	got := l.Lines()
	want := []Line{
		{Index: 0, Category: groupCategories()[0], Count: 2},
		{Index: 2, Category: groupCategories()[2], Count: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines (-want +got):\n%s", diff)
	}
}

func TestOutOfRangeIndex(t *testing.T) {
	l := New(groupCategories(), Group)
	if _, err := l.Increment(7); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := l.Decrement(-1); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
