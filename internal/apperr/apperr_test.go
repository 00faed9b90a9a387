package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(CodeCoupon, "coupon expired"))
	if got := CodeOf(err); got != CodeCoupon {
		t.Fatalf("CodeOf: got %q, want %q", got, CodeCoupon)
	}
	if !errors.Is(err, ErrCoupon) {
		t.Fatal("expected errors.Is to match ErrCoupon")
	}
	if errors.Is(err, ErrLimit) {
		t.Fatal("did not expect a limit match")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Fatalf("got %q, want internal", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("got %q for nil", got)
	}
}

func TestListErr(t *testing.T) {
	var l List
	if l.Err() != nil {
		t.Fatal("empty list should be a nil error")
	}
	l.Add(CodeValidation, "email", "email is invalid")
	l.Add(CodeValidation, "mobile", "mobile must be 10 digits")

	err := l.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "email is invalid; mobile must be 10 digits" {
		t.Errorf("message: got %q", err.Error())
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("list should match ErrValidation")
	}
	if CodeOf(err) != CodeValidation {
		t.Errorf("CodeOf: got %q", CodeOf(err))
	}
}

func TestFlatten(t *testing.T) {
	if got := Flatten(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	one := Flatten(New(CodeLimit, "limit"))
	if len(one) != 1 || one[0].Code != CodeLimit {
		t.Fatalf("unexpected flatten: %v", one)
	}
	other := Flatten(errors.New("disk full"))
	if len(other) != 1 || other[0].Code != CodeInternal {
		t.Fatalf("unexpected flatten: %v", other)
	}
}
