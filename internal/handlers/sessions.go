package handlers

// ────────────────────────────────────────────────────────────────────
// LEARNING NOTE — one thin handler per session operation
// ────────────────────────────────────────────────────────────────────
// A registration session lives in memory on the server (see
// internal/session). Each endpoint below looks the session up, calls
// exactly one method on it and answers with the session's fresh View.
// All the rules (ticket caps, step guards, the busy flag) live on the
// session itself, so these handlers only translate HTTP to method calls.
//
// Errors also carry the View: a rejected "next" still shows the shopper
// the field messages and banner the session recorded.

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/models"
	"github.com/Elizabethomito/racereg/backend/internal/session"
)

// StartSession handles POST /api/events/{slug}/sessions
// Opens a new registration session on the event and returns its view.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := session.Start(r.Context(), s.sessionDeps(), r.PathValue("slug"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.Sessions.Add(sess)
	s.Metrics.sessionStarted(sess.Mode())
	respond(w, http.StatusCreated, sess.View())
}

// GetSession handles GET /api/sessions/{id}
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respond(w, http.StatusOK, sess.View())
}

// DiscardSession handles DELETE /api/sessions/{id}
// Called when the shopper leaves the storefront. Discarding an unknown
// session is not an error.
func (s *Server) DiscardSession(w http.ResponseWriter, r *http.Request) {
	s.Sessions.Discard(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// Increment handles POST /api/sessions/{id}/categories/{index}/increment
func (s *Server) Increment(w http.ResponseWriter, r *http.Request) {
	s.withIndex(w, r, func(sess *session.Session, i int) error {
		err := sess.Increment(i)
		if errors.Is(err, apperr.ErrLimit) {
			s.Metrics.limitNotice()
		}
		return err
	})
}

// Decrement handles POST /api/sessions/{id}/categories/{index}/decrement
func (s *Server) Decrement(w http.ResponseWriter, r *http.Request) {
	s.withIndex(w, r, (*session.Session).Decrement)
}

// SelectCategory handles POST /api/sessions/{id}/categories/{index}/select
func (s *Server) SelectCategory(w http.ResponseWriter, r *http.Request) {
	s.withIndex(w, r, (*session.Session).SelectCategory)
}

// ClearSelection handles DELETE /api/sessions/{id}/selection
func (s *Server) ClearSelection(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, (*session.Session).ClearSelection)
}

// SetTeam handles PUT /api/sessions/{id}/team
func (s *Server) SetTeam(w http.ResponseWriter, r *http.Request) {
	var team models.Team
	if err := decode(r, &team); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.withSession(w, r, func(sess *session.Session) error {
		return sess.SetTeam(team)
	})
}

// UpdateForm handles PUT /api/sessions/{id}/form
// The body replaces the whole entry form.
func (s *Server) UpdateForm(w http.ResponseWriter, r *http.Request) {
	var p models.Participant
	if err := decode(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.withSession(w, r, func(sess *session.Session) error {
		return sess.UpdateForm(p)
	})
}

// AddParticipant handles POST /api/sessions/{id}/participants
// Adds the current form to the roster.
func (s *Server) AddParticipant(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, (*session.Session).AddParticipant)
}

// EditParticipant handles POST /api/sessions/{id}/participants/{index}/edit
func (s *Server) EditParticipant(w http.ResponseWriter, r *http.Request) {
	s.withIndex(w, r, (*session.Session).EditParticipant)
}

// SaveParticipant handles PUT /api/sessions/{id}/participants/editing
// Writes the form back over the participant being edited.
func (s *Server) SaveParticipant(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, (*session.Session).SaveParticipant)
}

// RemoveParticipant handles DELETE /api/sessions/{id}/participants/{index}
func (s *Server) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	s.withIndex(w, r, (*session.Session).RemoveParticipant)
}

type couponRequest struct {
	Code string `json:"code"`
}

// SetCouponCode handles PUT /api/sessions/{id}/coupon
func (s *Server) SetCouponCode(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.withSession(w, r, func(sess *session.Session) error {
		return sess.SetCouponCode(req.Code)
	})
}

// ApplyCoupon handles POST /api/sessions/{id}/coupon/apply
func (s *Server) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session.Session) error {
		return sess.ApplyCoupon(r.Context())
	})
}

// Next handles POST /api/sessions/{id}/next
// Leaving the details step submits the registration, so this is the only
// endpoint that writes to the database.
func (s *Server) Next(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session.Session) error {
		from := sess.Step()
		err := sess.Next(r.Context())
		if from == session.StepDetails {
			s.Metrics.submission(err)
		}
		return err
	})
}

// Back handles POST /api/sessions/{id}/back
func (s *Server) Back(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, (*session.Session).Back)
}

// Clubs handles GET /api/sessions/{id}/clubs
// The running-club list for the club picker, cached per session.
func (s *Server) Clubs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	clubs, err := sess.Clubs(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if clubs == nil {
		clubs = []string{}
	}
	respond(w, http.StatusOK, map[string][]string{"clubs": clubs})
}

// session resolves the {id} path value, answering 404 when it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.Sessions.Get(r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return nil, false
	}
	return sess, true
}

// withSession runs op on the session and answers with its view, on
// success and on failure alike.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, op func(*session.Session) error) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := op(sess); err != nil {
		view := sess.View()
		s.respondErrView(w, r, err, &view)
		return
	}
	respond(w, http.StatusOK, sess.View())
}

// withIndex is withSession for operations addressed by a {index} path value.
func (s *Server) withIndex(w http.ResponseWriter, r *http.Request, op func(*session.Session, int) error) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || i < 0 {
		respondError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}
	s.withSession(w, r, func(sess *session.Session) error {
		return op(sess, i)
	})
}
