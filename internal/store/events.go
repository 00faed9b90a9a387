package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// FetchEvent loads the event snapshot for slug with its categories and age
// brackets in organiser order.
func (s *Store) FetchEvent(ctx context.Context, slug string) (models.Event, error) {
	return s.loadEvent(ctx, "slug", slug)
}

// EventByID is FetchEvent keyed by event ID.
func (s *Store) EventByID(ctx context.Context, id string) (models.Event, error) {
	return s.loadEvent(ctx, "id", id)
}

// loadEvent reads one event by a unique column (slug or id).
func (s *Store) loadEvent(ctx context.Context, column, value string) (models.Event, error) {
	var (
		e             models.Event
		opens, closes sql.NullTime
		isGroup       int
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, slug, name, date, location, registration_opens_at, registration_closes_at, status, is_group_registration
		 FROM events WHERE `+column+` = ?`, value,
	).Scan(&e.ID, &e.Slug, &e.Name, &e.Date, &e.Location, &opens, &closes, &e.Status, &isGroup)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Event{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("event %q not found", value))
		}
		return models.Event{}, fmt.Errorf("query event: %w", err)
	}
	e.RegistrationOpensAt = opens.Time
	e.RegistrationClosesAt = closes.Time
	e.IsGroupRegistration = isGroup != 0

	cats, err := s.fetchCategories(ctx, e.ID)
	if err != nil {
		return models.Event{}, err
	}
	e.Categories = cats
	return e, nil
}

func (s *Store) fetchCategories(ctx context.Context, eventID string) ([]models.Category, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, name, distance, price, display_price, minimum_age, maximum_age, gender, is_relay, team_limit
		 FROM categories WHERE event_id = ? ORDER BY position ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	// Initialise to an empty slice, not nil, so JSON encodes as [] not null.
	cats := []models.Category{}
	for rows.Next() {
		var (
			c       models.Category
			display sql.NullInt64
			relay   int
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Distance, &c.Price, &display,
			&c.MinAge, &c.MaxAge, &c.Gender, &relay, &c.TeamLimit); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		if display.Valid {
			v := display.Int64
			c.DisplayPrice = &v
		}
		c.IsRelay = relay != 0
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("categories rows: %w", err)
	}

	for i := range cats {
		brackets, err := s.fetchBrackets(ctx, cats[i].ID)
		if err != nil {
			return nil, err
		}
		cats[i].AgeBrackets = brackets
	}
	return cats, nil
}

func (s *Store) fetchBrackets(ctx context.Context, categoryID string) ([]models.AgeBracket, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT name, minimum_age, maximum_age, gender FROM age_brackets
		 WHERE category_id = ? ORDER BY position ASC`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("query age brackets: %w", err)
	}
	defer rows.Close()

	var brackets []models.AgeBracket
	for rows.Next() {
		var b models.AgeBracket
		if err := rows.Scan(&b.Name, &b.MinAge, &b.MaxAge, &b.Gender); err != nil {
			return nil, fmt.Errorf("scan age bracket: %w", err)
		}
		brackets = append(brackets, b)
	}
	return brackets, rows.Err()
}

// FetchCoupon looks up code for eventID. An empty code returns the event's
// newest active early-bird rule that has not expired, or (nil, nil) when
// there is none. An unknown code is a not_found error; expiry of a typed
// code is left to the caller.
func (s *Store) FetchCoupon(ctx context.Context, eventID, code string) (*models.Coupon, error) {
	if code == "" {
		return s.earlyBird(ctx, eventID)
	}

	c, err := scanCoupon(s.DB.QueryRowContext(ctx,
		`SELECT code, percentage, fixed_amount, early_bird, expires_at, active
		 FROM coupons WHERE event_id = ? AND code = ?`, eventID, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Field(apperr.CodeNotFound, "coupon_code", fmt.Sprintf("coupon %q not found", code))
		}
		return nil, fmt.Errorf("query coupon: %w", err)
	}
	return c, nil
}

// earlyBird walks the active early-bird rules newest first and returns the
// first one still valid at s.Now().
func (s *Store) earlyBird(ctx context.Context, eventID string) (*models.Coupon, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT code, percentage, fixed_amount, early_bird, expires_at, active
		 FROM coupons WHERE event_id = ? AND early_bird = 1 AND active = 1
		 ORDER BY created_at DESC, rowid DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query early bird: %w", err)
	}
	defer rows.Close()

	now := s.Now()
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan early bird: %w", err)
		}
		if c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt) {
			return c, nil
		}
	}
	return nil, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	var (
		c                 models.Coupon
		earlyBird, active int
		expires           sql.NullTime
	)
	if err := row.Scan(&c.Code, &c.Percentage, &c.FixedAmount, &earlyBird, &expires, &active); err != nil {
		return nil, err
	}
	c.EarlyBird = earlyBird != 0
	c.Active = active != 0
	c.ExpiresAt = expires.Time
	return &c, nil
}

// ListClubs returns the clubs for eventID plus the shared ones, sorted by name.
func (s *Store) ListClubs(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT name FROM clubs WHERE event_id IN ('', ?) ORDER BY name ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query clubs: %w", err)
	}
	defer rows.Close()

	clubs := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan club: %w", err)
		}
		clubs = append(clubs, name)
	}
	return clubs, rows.Err()
}

// AddClubs inserts club names for eventID ('' for every event). Existing
// names are skipped.
func (s *Store) AddClubs(ctx context.Context, eventID string, names []string) (int, error) {
	added := 0
	for _, n := range names {
		res, err := s.DB.ExecContext(ctx,
			`INSERT OR IGNORE INTO clubs (event_id, name) VALUES (?, ?)`, eventID, n)
		if err != nil {
			return added, fmt.Errorf("insert club %q: %w", n, err)
		}
		if k, _ := res.RowsAffected(); k > 0 {
			added++
		}
	}
	return added, nil
}
