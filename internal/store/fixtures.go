package store

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// demoFixtures is the event set POST /api/admin/seed loads.
//
//go:embed fixtures/demo.yaml
var demoFixtures []byte

// Fixtures is the YAML document organisers use to describe events.
//
//	clubs: [Pune Runners, ...]        # shared by every event
//	events:
//	  - id: evt-city-10k
//	    slug: city-10k
//	    categories: [...]
//	    coupons: [...]
//	    clubs: [...]                  # this event only
type Fixtures struct {
	Clubs  []string       `yaml:"clubs"`
	Events []EventFixture `yaml:"events"`
}

// EventFixture is an event plus the rows that hang off it.
type EventFixture struct {
	models.Event `yaml:",inline"`
	Coupons      []models.Coupon `yaml:"coupons"`
	Clubs        []string        `yaml:"clubs"`
}

// LoadSummary counts what Apply wrote.
type LoadSummary struct {
	Events     int `json:"events"`
	Categories int `json:"categories"`
	Coupons    int `json:"coupons"`
	Clubs      int `json:"clubs"`
}

// DecodeFixtures parses a fixtures document and fills in derived IDs.
func DecodeFixtures(r io.Reader) (Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}
	for i := range f.Events {
		e := &f.Events[i]
		if e.Slug == "" {
			return Fixtures{}, fmt.Errorf("event %d: slug is required", i)
		}
		if e.ID == "" {
			e.ID = "evt-" + e.Slug
		}
		if e.Status == "" {
			e.Status = models.EventStatusUpcoming
		}
		for j := range e.Categories {
			c := &e.Categories[j]
			if c.ID == "" {
				c.ID = fmt.Sprintf("%s-cat-%d", e.ID, j+1)
			}
			if c.Gender == "" {
				c.Gender = models.GenderBoth
			}
		}
		for j := range e.Coupons {
			e.Coupons[j].Code = strings.ToUpper(strings.TrimSpace(e.Coupons[j].Code))
		}
	}
	return f, nil
}

// DemoFixtures returns the embedded demo event set.
func DemoFixtures() (Fixtures, error) {
	return DecodeFixtures(strings.NewReader(string(demoFixtures)))
}

// Apply upserts every event in f. Loading the same document twice leaves
// the database unchanged, so it is safe to run on every deploy.
//
// LEARNING NOTE — why upsert instead of delete-and-reinsert?
// Submitted registrations reference categories by ID. Deleting a category
// that already has participants would violate the foreign key, so
// categories are updated in place and only age brackets (which nothing
// references) are replaced wholesale.
func (s *Store) Apply(ctx context.Context, f Fixtures) (LoadSummary, error) {
	var sum LoadSummary

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return sum, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is a no-op after Commit succeeds

	for _, e := range f.Events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, slug, name, date, location, registration_opens_at, registration_closes_at, status, is_group_registration)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			     slug = excluded.slug, name = excluded.name, date = excluded.date, location = excluded.location,
			     registration_opens_at = excluded.registration_opens_at,
			     registration_closes_at = excluded.registration_closes_at,
			     status = excluded.status, is_group_registration = excluded.is_group_registration`,
			e.ID, e.Slug, e.Name, e.Date.UTC(), e.Location,
			nullTime(e.RegistrationOpensAt), nullTime(e.RegistrationClosesAt),
			e.Status, boolInt(e.IsGroupRegistration),
		)
		if err != nil {
			return sum, fmt.Errorf("upsert event %s: %w", e.Slug, err)
		}
		sum.Events++

		for pos, c := range e.Categories {
			var display any
			if c.DisplayPrice != nil {
				display = *c.DisplayPrice
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO categories (id, event_id, position, name, distance, price, display_price,
				                         minimum_age, maximum_age, gender, is_relay, team_limit)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET
				     position = excluded.position, name = excluded.name, distance = excluded.distance,
				     price = excluded.price, display_price = excluded.display_price,
				     minimum_age = excluded.minimum_age, maximum_age = excluded.maximum_age,
				     gender = excluded.gender, is_relay = excluded.is_relay, team_limit = excluded.team_limit`,
				c.ID, e.ID, pos, c.Name, c.Distance, c.Price, display,
				c.MinAge, c.MaxAge, models.NormalizeGender(c.Gender), boolInt(c.IsRelay), c.TeamLimit,
			)
			if err != nil {
				return sum, fmt.Errorf("upsert category %s/%s: %w", e.Slug, c.Name, err)
			}
			sum.Categories++

			if _, err := tx.ExecContext(ctx, `DELETE FROM age_brackets WHERE category_id = ?`, c.ID); err != nil {
				return sum, fmt.Errorf("reset age brackets: %w", err)
			}
			for bpos, b := range c.AgeBrackets {
				gender := models.NormalizeGender(b.Gender)
				if gender == "" {
					gender = models.GenderBoth
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO age_brackets (category_id, position, name, minimum_age, maximum_age, gender)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					c.ID, bpos, b.Name, b.MinAge, b.MaxAge, gender)
				if err != nil {
					return sum, fmt.Errorf("insert age bracket %s: %w", b.Name, err)
				}
			}
		}

		for _, cp := range e.Coupons {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO coupons (event_id, code, percentage, fixed_amount, early_bird, expires_at, active)
				 VALUES (?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(event_id, code) DO UPDATE SET
				     percentage = excluded.percentage, fixed_amount = excluded.fixed_amount,
				     early_bird = excluded.early_bird, expires_at = excluded.expires_at, active = excluded.active`,
				e.ID, cp.Code, cp.Percentage, cp.FixedAmount, boolInt(cp.EarlyBird), nullTime(cp.ExpiresAt), boolInt(cp.Active),
			)
			if err != nil {
				return sum, fmt.Errorf("upsert coupon %s: %w", cp.Code, err)
			}
			sum.Coupons++
		}

		for _, name := range e.Clubs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO clubs (event_id, name) VALUES (?, ?)`, e.ID, name); err != nil {
				return sum, fmt.Errorf("insert club %q: %w", name, err)
			}
			sum.Clubs++
		}
	}

	for _, name := range f.Clubs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO clubs (event_id, name) VALUES ('', ?)`, name); err != nil {
			return sum, fmt.Errorf("insert club %q: %w", name, err)
		}
		sum.Clubs++
	}

	if err := tx.Commit(); err != nil {
		return sum, fmt.Errorf("commit fixtures: %w", err)
	}
	s.Logger.Info("fixtures applied",
		"events", sum.Events, "categories", sum.Categories, "coupons", sum.Coupons, "clubs", sum.Clubs)
	return sum, nil
}
