// Package store is the sqlite-backed home of events, coupons, clubs and
// submitted registrations. It implements the collaborators a registration
// session talks to (session.EventSource, CouponSource, Registrar,
// ClubSource).
//
// ────────────────────────────────────────────────────────────────────
// LEARNING NOTE — why modernc.org/sqlite instead of go-sqlite3?
// ────────────────────────────────────────────────────────────────────
// go-sqlite3 is a CGo binding and needs a C compiler on the build
// machine. modernc.org/sqlite is a pure-Go port: no CGo, cross-compiles
// cleanly, runs in scratch images. The only visible difference is the
// driver name, "sqlite" instead of "sqlite3".
package store

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	// Blank import: the modernc driver registers itself with
	// database/sql under the name "sqlite" when this package loads.
	_ "modernc.org/sqlite"

	"github.com/Elizabethomito/racereg/backend/internal/pricing"
)

// Open opens (or creates) the SQLite database at dsn and runs all migrations.
//
// Recommended DSN formats for modernc.org/sqlite:
//   - Production file: "racereg.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
//   - Tests:           "file:testXYZ?mode=memory&cache=shared&_foreign_keys=on"
func Open(dsn string) (*sql.DB, error) {
	// sql.Open does NOT open a real connection yet; the first query does.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// migrate runs each DDL statement in the schema individually.
//
// LEARNING NOTE — why not one big Exec(schema)?
// The sqlite drivers execute only the FIRST statement of a
// multi-statement string, so we split on ";" and loop.
func migrate(db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// Store wraps the database handle with the settings submissions need.
type Store struct {
	DB     *sql.DB
	Fees   pricing.FeeSchedule
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// New returns a Store over db. A nil logger discards output.
func New(db *sql.DB, fees pricing.FeeSchedule, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		DB:     db,
		Fees:   fees,
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// nullTime stores a zero time as NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// schema contains every CREATE TABLE statement for the application.
//
// LEARNING NOTE — schema design choices
//
//	events / categories / age_brackets — the immutable event snapshot a
//	                 session loads. position columns keep the order the
//	                 organiser defined; brackets resolve first-match.
//
//	coupons        — per-event discount rules. At most one early-bird
//	                 rule is expected per event; the newest active wins.
//
//	clubs          — the runner-club reference list. event_id '' rows
//	                 are shared by every event.
//
//	registrations  — one row per accepted submission, holding the
//	                 server-computed amounts. order_id is what the
//	                 payment provider echoes back in its webhook.
//
//	registration_participants — the flattened participant payloads.
//	                 payload keeps the full JSON record for export.
//
//	confirmations  — the terminal snapshot written once payment lands.
//	                 order_id as the key makes repeated webhooks safe.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id                     TEXT PRIMARY KEY,
    slug                   TEXT NOT NULL UNIQUE,
    name                   TEXT NOT NULL,
    date                   DATETIME NOT NULL,
    location               TEXT NOT NULL DEFAULT '',
    registration_opens_at  DATETIME,
    registration_closes_at DATETIME,
    status                 TEXT NOT NULL DEFAULT 'UPCOMING'
                               CHECK(status IN ('UPCOMING','OPENFORREGISTRATION','REGISTRATIONCLOSED','CLOSED')),
    is_group_registration  INTEGER NOT NULL DEFAULT 0,
    created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS categories (
    id            TEXT PRIMARY KEY,
    event_id      TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    position      INTEGER NOT NULL,
    name          TEXT NOT NULL,
    distance      TEXT NOT NULL DEFAULT '',
    price         INTEGER NOT NULL CHECK(price >= 0),
    display_price INTEGER,
    minimum_age   INTEGER NOT NULL DEFAULT 0,
    maximum_age   INTEGER NOT NULL DEFAULT 0,
    gender        TEXT NOT NULL DEFAULT 'BOTH',
    is_relay      INTEGER NOT NULL DEFAULT 0,
    team_limit    INTEGER NOT NULL DEFAULT 0,
    UNIQUE (event_id, name)
);

CREATE TABLE IF NOT EXISTS age_brackets (
    category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    name        TEXT NOT NULL,
    minimum_age INTEGER NOT NULL,
    maximum_age INTEGER NOT NULL,
    gender      TEXT NOT NULL DEFAULT 'BOTH',
    PRIMARY KEY (category_id, position)
);

CREATE TABLE IF NOT EXISTS coupons (
    event_id     TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    code         TEXT NOT NULL,
    percentage   INTEGER NOT NULL DEFAULT 0,
    fixed_amount INTEGER NOT NULL DEFAULT 0,
    early_bird   INTEGER NOT NULL DEFAULT 0,
    expires_at   DATETIME,
    active       INTEGER NOT NULL DEFAULT 1,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (event_id, code)
);

CREATE TABLE IF NOT EXISTS clubs (
    event_id TEXT NOT NULL DEFAULT '',
    name     TEXT NOT NULL,
    PRIMARY KEY (event_id, name)
);

CREATE TABLE IF NOT EXISTS registrations (
    id             TEXT PRIMARY KEY,
    order_id       TEXT NOT NULL UNIQUE,
    event_id       TEXT NOT NULL REFERENCES events(id),
    mode           TEXT NOT NULL,
    coupon_code    TEXT NOT NULL DEFAULT '',
    team_name      TEXT NOT NULL DEFAULT '',
    team_contact   TEXT NOT NULL DEFAULT '',
    subtotal       INTEGER NOT NULL,
    discount       INTEGER NOT NULL,
    total          INTEGER NOT NULL,
    platform_fee   INTEGER NOT NULL,
    gst            INTEGER NOT NULL,
    payable_amount INTEGER NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending'
                       CHECK(status IN ('pending','paid','abandoned')),
    payment_ref    TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS registration_participants (
    id               TEXT PRIMARY KEY,
    registration_id  TEXT NOT NULL REFERENCES registrations(id) ON DELETE CASCADE,
    position         INTEGER NOT NULL,
    category_id      TEXT NOT NULL REFERENCES categories(id),
    name             TEXT NOT NULL,
    email            TEXT NOT NULL,
    age              INTEGER NOT NULL,
    age_bracket_name TEXT NOT NULL DEFAULT '',
    payload          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS confirmations (
    order_id          TEXT PRIMARY KEY REFERENCES registrations(order_id),
    registration_id   TEXT NOT NULL,
    event_id          TEXT NOT NULL,
    event_name        TEXT NOT NULL,
    payment_ref       TEXT NOT NULL,
    payable_amount    INTEGER NOT NULL,
    participant_count INTEGER NOT NULL,
    team_name         TEXT NOT NULL DEFAULT '',
    completed_at      DATETIME NOT NULL
);
`
