package session

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// EventSource loads the event snapshot for a slug. A missing event must be
// reported with an apperr not_found error.
type EventSource interface {
	FetchEvent(ctx context.Context, slug string) (models.Event, error)
}

// CouponSource looks up a coupon. An empty code asks for the event's active
// early-bird rule; (nil, nil) means there is none.
type CouponSource interface {
	FetchCoupon(ctx context.Context, eventID, code string) (*models.Coupon, error)
}

// Registrar accepts a registration and returns the authoritative amounts.
// Coupon problems must carry apperr.CodeCoupon.
type Registrar interface {
	SubmitRegistration(ctx context.Context, req models.RegistrationRequest) (models.SubmissionResult, error)
}

// ClubSource lists the running clubs participants may pick from.
type ClubSource interface {
	ListClubs(ctx context.Context, eventID string) ([]string, error)
}

// Deps are the collaborators a session talks to. Coupons and Clubs are
// optional.
type Deps struct {
	Events    EventSource
	Coupons   CouponSource
	Registrar Registrar
	Clubs     ClubSource
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}
