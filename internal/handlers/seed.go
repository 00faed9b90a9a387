package handlers

// SeedDemo handles POST /api/admin/seed
//
// This endpoint is ONLY for demos and is registered only when ENABLE_SEED
// is set. It loads the fixtures bundled with the store package so a demo
// can start from a known catalogue without running the seed CLI.
//
// The endpoint is idempotent: events, categories and coupons are upserted
// on their natural keys and clubs use INSERT OR IGNORE, so calling it twice
// produces the same rows.
//
// DEMO SCENARIO
// ─────────────────────────────────────────────────────────────────────────
// city-10k   "City 10K & Half"  group registration
//              → 5K Fun Run, 10K (shown at a display price), Half Marathon
//              → up to 4 tickets per category, 10 in total
//              → EARLYBIRD applies itself; CLUB10 is a typed 10% coupon
// relay-day  "Relay Day"        relay registration
//              → teams of 2 or 4, one fixed team fee
//              → TEAMUP takes a fixed amount off
// solo-half  "Solo Half"        single registration
//              → one runner, no ticket picker, bracket by age and gender

import (
	"net/http"

	"github.com/Elizabethomito/racereg/backend/internal/store"
)

func (s *Server) SeedDemo(w http.ResponseWriter, r *http.Request) {
	f, err := store.DemoFixtures()
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	summary, err := s.Store.Apply(r.Context(), f)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	slugs := make([]string, 0, len(f.Events))
	for _, e := range f.Events {
		slugs = append(slugs, e.Slug)
	}
	s.logger().InfoContext(r.Context(), "demo fixtures loaded",
		"events", summary.Events, "categories", summary.Categories)
	respond(w, http.StatusOK, map[string]any{
		"seeded":  true,
		"summary": summary,
		"events":  slugs,
	})
}
