package handlers

import (
	"fmt"
	"net/http"

	"github.com/Elizabethomito/racereg/backend/internal/export"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// GetEvent handles GET /api/events/{slug}
// Public endpoint: returns the event snapshot a storefront renders its
// category picker from.
func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.Store.FetchEvent(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, event)
}

// ListEventRegistrations handles GET /api/events/{slug}/registrations
// Organiser view of every submitted registration, paid or pending.
func (s *Server) ListEventRegistrations(w http.ResponseWriter, r *http.Request) {
	event, records, ok := s.loadRegistrations(w, r)
	if !ok {
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"event":         event,
		"registrations": records,
	})
}

// ExportRegistrations handles GET /api/events/{slug}/registrations.xlsx
//
// LEARNING NOTE — streaming a generated file
// Content-Disposition: attachment tells the browser to download the body
// instead of rendering it. The workbook is written straight into the
// response, so once the first byte is out we can no longer switch to a
// JSON error; anything that can fail (the database query) happens first.
func (s *Server) ExportRegistrations(w http.ResponseWriter, r *http.Request) {
	event, records, ok := s.loadRegistrations(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(event)))
	if err := export.Write(w, event, records); err != nil {
		s.logger().ErrorContext(r.Context(), "export registrations", "event_id", event.ID, "error", err)
	}
}

func (s *Server) loadRegistrations(w http.ResponseWriter, r *http.Request) (models.Event, []models.RegistrationRecord, bool) {
	event, err := s.Store.FetchEvent(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.respondErr(w, r, err)
		return models.Event{}, nil, false
	}
	records, err := s.Store.ListRegistrations(r.Context(), event.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return models.Event{}, nil, false
	}
	if records == nil {
		// Encode as [] rather than null.
		records = []models.RegistrationRecord{}
	}
	return event, records, true
}
