// Package handlers contains the HTTP handler logic for the registration API.
//
// ────────────────────────────────────────────────────────────────────
// LEARNING NOTE — package structure
// ────────────────────────────────────────────────────────────────────
// All handler files share the same "handlers" package so they can call
// each other's helpers freely without exporting them. The files are
// split by concern (events, sessions, payments, admin) purely for
// readability.
//
// The central type is Server. It holds what every handler needs: the
// store, the live session registry, the payment provider and the secret
// confirmation tokens are signed with. Putting shared dependencies on a
// struct (instead of global variables) makes the code easier to test:
// each test creates its own Server with its own in-memory database and
// no test pollutes another.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/payments"
	"github.com/Elizabethomito/racereg/backend/internal/session"
	"github.com/Elizabethomito/racereg/backend/internal/store"
)

// respond writes v as JSON with the given HTTP status code.
// Setting Content-Type before WriteHeader is important: once
// WriteHeader is called the headers are flushed and cannot be changed.
func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignoring the encode error: if the client disconnected mid-write
	// there is nothing useful we can do.
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string        `json:"error"`
	Code   apperr.Code   `json:"code,omitempty"`
	Fields apperr.List   `json:"fields,omitempty"`
	View   *session.View `json:"session,omitempty"`
}

// respondError sends a JSON object with an "error" key, e.g.
// {"error": "invalid JSON"}.
func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, errorBody{Error: msg})
}

// statusFor maps an error code to the HTTP status the API reports it with.
//
// LEARNING NOTE — one table instead of scattered status codes
// Every layer below the handlers returns apperr codes, never HTTP
// statuses. Translating in a single place keeps the store and the
// session machine free of net/http and makes the mapping easy to audit.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation, apperr.CodeStep, apperr.CodeCoupon, apperr.CodeEligibility:
		return http.StatusUnprocessableEntity
	case apperr.CodeLimit, apperr.CodeBusy:
		return http.StatusConflict
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeSubmission:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err with the status its code maps to. Internal errors
// are logged and reported without their details.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrView(w, r, err, nil)
}

// respondErrView is respondErr that also carries the session's current
// view, so the client can render field errors and notices in one round trip.
func (s *Server) respondErrView(w http.ResponseWriter, r *http.Request, err error, view *session.View) {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		s.logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respond(w, status, errorBody{Error: "internal error", Code: apperr.CodeInternal, View: view})
		return
	}

	body := errorBody{Error: err.Error(), Code: code, View: view}
	var list apperr.List
	var coded *apperr.Error
	switch {
	case errors.As(err, &list):
		body.Fields = list
	case errors.As(err, &coded) && coded.Field != "":
		body.Fields = apperr.List{coded}
	}
	respond(w, status, body)
}

// decode reads and parses a JSON request body into v.
// It uses a streaming decoder (json.NewDecoder) which is more memory-
// efficient than reading the whole body first.
func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Server holds shared dependencies for all handlers.
// Using a struct instead of package-level globals means tests can spin
// up many independent Server instances without state leaking between them.
type Server struct {
	// Store is the SQLite-backed catalogue and registration store. It is
	// also every session's event, coupon, club and registrar collaborator.
	Store *store.Store
	// Sessions holds the live registration sessions by ID.
	Sessions *session.Registry
	// Payments creates checkouts and verifies provider webhooks.
	Payments payments.Provider
	// Secret is the HMAC key confirmation tokens are signed with.
	Secret string
	// PublicBaseURL is where the storefront is served; checkout return
	// links point back to it.
	PublicBaseURL string
	// Metrics may be nil, in which case nothing is counted.
	Metrics *Metrics
	// EnableSeed exposes the demo seed endpoint.
	EnableSeed bool
	Logger     *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// sessionDeps wires the store in as every collaborator a session needs.
func (s *Server) sessionDeps() session.Deps {
	return session.Deps{
		Events:    s.Store,
		Coupons:   s.Store,
		Registrar: s.Store,
		Clubs:     s.Store,
		Logger:    s.logger(),
	}
}

// Routes registers every endpoint on a new ServeMux.
//
// Go 1.22+ ServeMux supports method prefixes ("GET /path") and path
// wildcards ("{id}") natively, so no third-party router is needed.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.Health)

	// Catalogue.
	mux.HandleFunc("GET /api/events/{slug}", s.GetEvent)
	mux.HandleFunc("GET /api/events/{slug}/registrations", s.ListEventRegistrations)
	mux.HandleFunc("GET /api/events/{slug}/registrations.xlsx", s.ExportRegistrations)

	// Registration sessions. See sessions.go.
	mux.HandleFunc("POST /api/events/{slug}/sessions", s.StartSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.DiscardSession)
	mux.HandleFunc("POST /api/sessions/{id}/categories/{index}/increment", s.Increment)
	mux.HandleFunc("POST /api/sessions/{id}/categories/{index}/decrement", s.Decrement)
	mux.HandleFunc("POST /api/sessions/{id}/categories/{index}/select", s.SelectCategory)
	mux.HandleFunc("DELETE /api/sessions/{id}/selection", s.ClearSelection)
	mux.HandleFunc("PUT /api/sessions/{id}/team", s.SetTeam)
	mux.HandleFunc("PUT /api/sessions/{id}/form", s.UpdateForm)
	mux.HandleFunc("POST /api/sessions/{id}/participants", s.AddParticipant)
	mux.HandleFunc("POST /api/sessions/{id}/participants/{index}/edit", s.EditParticipant)
	mux.HandleFunc("PUT /api/sessions/{id}/participants/editing", s.SaveParticipant)
	mux.HandleFunc("DELETE /api/sessions/{id}/participants/{index}", s.RemoveParticipant)
	mux.HandleFunc("PUT /api/sessions/{id}/coupon", s.SetCouponCode)
	mux.HandleFunc("POST /api/sessions/{id}/coupon/apply", s.ApplyCoupon)
	mux.HandleFunc("POST /api/sessions/{id}/next", s.Next)
	mux.HandleFunc("POST /api/sessions/{id}/back", s.Back)
	mux.HandleFunc("GET /api/sessions/{id}/clubs", s.Clubs)

	// Payment and confirmation. See payments.go.
	mux.HandleFunc("POST /api/sessions/{id}/checkout", s.Checkout)
	mux.HandleFunc("POST /api/payments/webhook", s.PaymentWebhook)
	mux.HandleFunc("GET /api/confirmations/{token}", s.GetConfirmation)
	mux.HandleFunc("GET /pay/stub", s.StubPaymentPage)
	mux.HandleFunc("POST /pay/stub", s.StubPaymentPage)

	if s.EnableSeed {
		// Demo seed: loads the bundled fixtures; safe to call repeatedly.
		mux.HandleFunc("POST /api/admin/seed", s.SeedDemo)
	}
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	return mux
}

// Health handles GET /api/health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DB.PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respond(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.Sessions.Len()})
}
