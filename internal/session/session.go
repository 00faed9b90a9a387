// Package session implements the registration session state machine.
//
// A Session owns one shopper's registration for one event: the ticket
// ledger, the participant roster, the entry form, the coupon, and the
// server's order once submitted. Single, group and relay registration all
// run through the same machine; Mode only changes the first step, the
// ledger policy, and the team requirement.
//
// Every mutation takes the session lock for its whole duration, so
// mutations never interleave. Collaborator calls (coupon lookup,
// submission) run with the lock released and the busy flag set; while busy,
// every other mutation fails with apperr.CodeBusy. That is what stops a
// second click from submitting twice.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/eligibility"
	"github.com/Elizabethomito/racereg/backend/internal/ledger"
	"github.com/Elizabethomito/racereg/backend/internal/models"
	"github.com/Elizabethomito/racereg/backend/internal/pricing"
	"github.com/Elizabethomito/racereg/backend/internal/roster"
)

// NoticeTTL is how long a limit notice stays visible.
const NoticeTTL = 3 * time.Second

// Mode selects the registration flow.
type Mode string

const (
	ModeSingle Mode = "SINGLE"
	ModeGroup  Mode = "GROUP"
	ModeRelay  Mode = "RELAY"
)

// ModeFor derives the flow from the event: any relay category makes it a
// relay event, otherwise the group flag decides.
func ModeFor(e models.Event) Mode {
	switch {
	case e.IsRelay():
		return ModeRelay
	case e.IsGroupRegistration:
		return ModeGroup
	default:
		return ModeSingle
	}
}

// Step is the position in the flow.
type Step int

const (
	StepSelecting Step = iota
	StepDetails
	StepPayment
)

func (s Step) String() string {
	switch s {
	case StepSelecting:
		return "SELECTING"
	case StepDetails:
		return "DETAILS"
	case StepPayment:
		return "PAYMENT"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// MarshalText renders the step name in JSON.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is one shopper's registration in progress.
type Session struct {
	mu   sync.Mutex
	deps Deps
	log  *slog.Logger

	id    string
	event models.Event
	mode  Mode
	step  Step

	ledger *ledger.Ledger
	roster *roster.Roster
	form   models.Participant
	team   models.Team

	couponCode string
	coupon     *models.Coupon
	earlyBird  *models.Coupon
	couponErr  string

	notice      string
	noticeUntil time.Time
	errs        apperr.List
	banner      string

	order        *models.SubmissionResult
	replaces     string
	confirmation *models.Confirmation
	busy         bool

	clubs     *clubCache
	touchedAt time.Time
}

// Start loads the event for slug and opens a session on it. A failed event
// fetch is fatal to the session. The early-bird coupon is looked up and
// applied automatically when active and unexpired; a failed lookup is only
// logged.
func Start(ctx context.Context, deps Deps, slug string) (*Session, error) {
	deps = deps.withDefaults()
	if deps.Events == nil {
		return nil, fmt.Errorf("start session: no event source")
	}
	if deps.Registrar == nil {
		return nil, fmt.Errorf("start session: no registrar")
	}

	event, err := deps.Events.FetchEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("fetch event %q: %w", slug, err)
	}

	mode := ModeFor(event)
	policy := ledger.Exclusive
	if mode == ModeGroup {
		policy = ledger.Group
	}

	s := &Session{
		deps:      deps,
		id:        deps.NewID(),
		event:     event,
		mode:      mode,
		step:      StepSelecting,
		ledger:    ledger.New(event.Categories, policy),
		roster:    roster.New(),
		clubs:     newClubCache(deps.Clubs, event.ID),
		touchedAt: deps.Now(),
	}
	if mode == ModeSingle {
		s.step = StepDetails
	}
	s.log = deps.Logger.With("session_id", s.id, "event_id", event.ID)

	if deps.Coupons != nil {
		c, err := deps.Coupons.FetchCoupon(ctx, event.ID, "")
		switch {
		case err != nil:
			s.log.Warn("early-bird lookup failed", "error", err)
		case c != nil && c.EarlyBird && pricing.Usable(c, deps.Now()):
			s.earlyBird = c
			s.log.Info("early-bird coupon applied", "code", c.Code)
		}
	}

	s.log.Info("session started", "mode", mode, "categories", len(event.Categories))
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Event returns the event snapshot.
func (s *Session) Event() models.Event { return s.event }

// Mode returns the registration flow.
func (s *Session) Mode() Mode { return s.mode }

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// OrderID returns the server order ID once submitted.
func (s *Session) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return ""
	}
	return s.order.OrderID
}

// LastTouched is when the session was last mutated.
func (s *Session) LastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchedAt
}

// Quote prices the current selection. It is recomputed from the ledger on
// every call.
func (s *Session) Quote() pricing.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quote()
}

func (s *Session) quote() pricing.Quote {
	return pricing.Calculate(s.ledger.Lines(), s.effectiveCoupon())
}

func (s *Session) effectiveCoupon() *models.Coupon {
	if s.coupon != nil {
		return s.coupon
	}
	if s.earlyBird != nil && pricing.Usable(s.earlyBird, s.deps.Now()) {
		return s.earlyBird
	}
	return nil
}

// mutate runs fn under the session lock unless the session is busy or
// already complete.
func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return apperr.ErrBusy
	}
	if s.confirmation != nil {
		return apperr.New(apperr.CodeStep, "registration is already complete")
	}
	s.touchedAt = s.deps.Now()
	return fn()
}

func (s *Session) setNotice(msg string) {
	s.notice = msg
	s.noticeUntil = s.deps.Now().Add(NoticeTTL)
}

// applyChange keeps the form's category fields in step with the ledger.
func (s *Session) applyChange(ch ledger.Change) {
	switch {
	case ch.Cleared:
		s.form.CategoryName = ""
		s.form.CategoryDistance = ""
	case ch.Activated:
		s.form.CategoryName = ch.Category.Name
		s.form.CategoryDistance = ch.Category.Distance
	}
}

func (s *Session) ledgerMutable() error {
	if s.step == StepPayment {
		return apperr.New(apperr.CodeStep, "go back to change your tickets")
	}
	return nil
}

// Increment adds a ticket in category i. Limit violations leave the ledger
// untouched and raise a transient notice.
func (s *Session) Increment(i int) error {
	return s.mutate(func() error {
		if err := s.ledgerMutable(); err != nil {
			return err
		}
		ch, err := s.ledger.Increment(i)
		if err != nil {
			if apperr.CodeOf(err) == apperr.CodeLimit {
				s.setNotice(err.Error())
			}
			return err
		}
		s.applyChange(ch)
		return nil
	})
}

// Decrement removes a ticket from category i.
func (s *Session) Decrement(i int) error {
	return s.mutate(func() error {
		if err := s.ledgerMutable(); err != nil {
			return err
		}
		ch, err := s.ledger.Decrement(i)
		if err != nil {
			return err
		}
		s.applyChange(ch)
		return nil
	})
}

// SelectCategory makes category i the active one. In relay and single
// flows this replaces any previous selection.
func (s *Session) SelectCategory(i int) error {
	return s.mutate(func() error {
		if err := s.ledgerMutable(); err != nil {
			return err
		}
		ch, err := s.ledger.Activate(i)
		if err != nil {
			return err
		}
		s.applyChange(ch)
		return nil
	})
}

// ClearSelection drops every ticket.
func (s *Session) ClearSelection() error {
	return s.mutate(func() error {
		if err := s.ledgerMutable(); err != nil {
			return err
		}
		s.applyChange(s.ledger.Clear())
		return nil
	})
}

// SetTeam stores the relay team name and contact.
func (s *Session) SetTeam(t models.Team) error {
	return s.mutate(func() error {
		if s.mode != ModeRelay {
			return apperr.Field(apperr.CodeValidation, "team_name", "team details only apply to relay registration")
		}
		s.team = models.Team{Name: strings.TrimSpace(t.Name), Contact: strings.TrimSpace(t.Contact)}
		return nil
	})
}

// UpdateForm replaces the entry form. In single registration, naming a
// category on the form selects it.
func (s *Session) UpdateForm(p models.Participant) error {
	return s.mutate(func() error {
		if p.SameWhatsApp {
			p.WhatsApp = p.Mobile
		}
		if s.mode == ModeSingle && p.CategoryName != "" {
			if i := s.categoryIndex(p.CategoryName); i >= 0 {
				if active, ok := s.ledger.Active(); !ok || active != i {
					if _, err := s.ledger.Activate(i); err != nil {
						return err
					}
				}
				p.CategoryDistance = s.event.Categories[i].Distance
			}
		}
		s.form = p
		return nil
	})
}

func (s *Session) categoryIndex(name string) int {
	for i, c := range s.event.Categories {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// resetForm blanks the entry form, keeping the active category as default.
// Coupon and team live on the session and are untouched.
func (s *Session) resetForm() {
	s.form = models.Participant{}
	if c, ok := s.ledger.ActiveCategory(); ok {
		s.form.CategoryName = c.Name
		s.form.CategoryDistance = c.Distance
	}
}

// AddParticipant validates the form and appends it to the roster. When more
// participants are still needed the form is reset for the next one.
func (s *Session) AddParticipant() error {
	return s.mutate(func() error {
		if s.step != StepDetails {
			return apperr.New(apperr.CodeStep, "participants are added in the details step")
		}
		capacity := s.ledger.Total()
		if capacity == 0 {
			return apperr.Field(apperr.CodeValidation, "participants", "Select tickets before adding participants.")
		}
		more, err := s.roster.Add(s.form, capacity, s.deps.Now())
		if err != nil {
			s.errs = apperr.Flatten(err)
			return err
		}
		s.errs = nil
		if more {
			s.resetForm()
		}
		return nil
	})
}

// EditParticipant loads roster entry i into the form.
func (s *Session) EditParticipant(i int) error {
	return s.mutate(func() error {
		p, err := s.roster.Edit(i)
		if err != nil {
			return err
		}
		s.form = p
		return nil
	})
}

// SaveParticipant writes the form back over the entry being edited.
func (s *Session) SaveParticipant() error {
	return s.mutate(func() error {
		if err := s.roster.Save(s.form, s.deps.Now()); err != nil {
			s.errs = apperr.Flatten(err)
			return err
		}
		s.errs = nil
		s.resetForm()
		return nil
	})
}

// RemoveParticipant deletes roster entry i and resets the form.
func (s *Session) RemoveParticipant(i int) error {
	return s.mutate(func() error {
		if err := s.roster.Remove(i); err != nil {
			return err
		}
		s.resetForm()
		return nil
	})
}

// SetCouponCode records what the shopper typed. Changing the code clears
// the coupon error and drops a previously applied coupon with another code.
func (s *Session) SetCouponCode(code string) error {
	return s.mutate(func() error {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == s.couponCode {
			return nil
		}
		s.couponCode = code
		s.couponErr = ""
		if s.coupon != nil && s.coupon.Code != code {
			s.coupon = nil
		}
		return nil
	})
}

// ApplyCoupon looks up the typed code and applies it when usable. Problems
// are reported on the coupon field, never as a banner.
func (s *Session) ApplyCoupon(ctx context.Context) error {
	var code, eventID string
	err := s.mutate(func() error {
		if s.deps.Coupons == nil {
			return apperr.Field(apperr.CodeCoupon, "coupon_code", "Coupons are not available for this event.")
		}
		if s.couponCode == "" {
			s.couponErr = "Enter a coupon code."
			return apperr.Field(apperr.CodeCoupon, "coupon_code", s.couponErr)
		}
		code, eventID = s.couponCode, s.event.ID
		s.busy = true
		return nil
	})
	if err != nil {
		return err
	}

	c, fetchErr := s.deps.Coupons.FetchCoupon(ctx, eventID, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	switch {
	case fetchErr != nil && apperr.CodeOf(fetchErr) != apperr.CodeNotFound && apperr.CodeOf(fetchErr) != apperr.CodeCoupon:
		s.log.Error("coupon lookup failed", "code", code, "error", fetchErr)
		s.banner = "We could not check your coupon. Please try again."
		return apperr.Wrap(apperr.CodeSubmission, s.banner, fetchErr)
	case fetchErr != nil || c == nil:
		s.couponErr = "Invalid coupon code."
		return apperr.Field(apperr.CodeCoupon, "coupon_code", s.couponErr)
	case !pricing.Usable(c, s.deps.Now()):
		s.couponErr = "This coupon has expired."
		return apperr.Field(apperr.CodeCoupon, "coupon_code", s.couponErr)
	}
	s.coupon = c
	s.couponErr = ""
	s.log.Info("coupon applied", "code", c.Code)
	return nil
}

// Next moves forward one step if the guard for the current step holds.
// Leaving DETAILS submits the registration.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return apperr.ErrBusy
	}
	if s.confirmation != nil {
		s.mu.Unlock()
		return apperr.New(apperr.CodeStep, "registration is already complete")
	}
	s.touchedAt = s.deps.Now()

	switch s.step {
	case StepSelecting:
		defer s.mu.Unlock()
		if errs := s.selectionErrors(); len(errs) > 0 {
			s.errs = errs
			return errs
		}
		s.errs = nil
		s.step = StepDetails
		return nil

	case StepDetails:
		if s.mode == ModeSingle {
			s.roster.Replace([]models.Participant{roster.Normalize(s.form)})
		}
		if errs := s.detailsErrors(); len(errs) > 0 {
			s.errs = errs
			s.mu.Unlock()
			return errs
		}
		req := s.buildRequest()
		s.errs = nil
		s.banner = ""
		s.couponErr = ""
		s.busy = true
		s.mu.Unlock()

		res, err := s.deps.Registrar.SubmitRegistration(ctx, req)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.busy = false
		return s.mergeSubmission(res, err)

	default:
		s.mu.Unlock()
		return apperr.New(apperr.CodeStep, "registration already submitted")
	}
}

// mergeSubmission folds the registrar's answer into the session. Must hold mu.
func (s *Session) mergeSubmission(res models.SubmissionResult, err error) error {
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeCoupon:
			s.couponErr = err.Error()
			return err
		case apperr.CodeValidation:
			s.errs = apperr.Flatten(err)
			return err
		}
		s.log.Error("registration submission failed", "error", err)
		s.banner = "We could not submit your registration. Please try again."
		return apperr.Wrap(apperr.CodeSubmission, s.banner, err)
	}

	s.order = &res
	s.replaces = ""
	s.step = StepPayment
	s.log.Info("registration submitted",
		"order_id", res.OrderID,
		"payable_amount", res.PayableAmount,
		"participants", len(res.Participants))
	return nil
}

func (s *Session) selectionErrors() apperr.List {
	var errs apperr.List
	if _, ok := s.ledger.Active(); !ok {
		errs.Add(apperr.CodeValidation, "category", "Select a category.")
	}
	if s.ledger.Total() == 0 {
		errs.Add(apperr.CodeValidation, "count", "Add at least one ticket.")
	}
	if s.mode == ModeRelay {
		errs = append(errs, roster.ValidateTeam(s.team)...)
	}
	return errs
}

func (s *Session) detailsErrors() apperr.List {
	var errs apperr.List
	required := s.ledger.Total()
	if required == 0 {
		errs.Add(apperr.CodeValidation, "category", "Select a category.")
	}

	entries := s.roster.Entries()
	switch n := len(entries); {
	case n < required:
		errs.Add(apperr.CodeValidation, "participants", fmt.Sprintf("Add %d more participant(s).", required-n))
	case n > required:
		errs.Add(apperr.CodeValidation, "participants", fmt.Sprintf("Remove %d participant(s) or add more tickets.", n-required))
	}

	now := s.deps.Now()
	perCategory := make(map[string]int)
	for i, p := range entries {
		for _, e := range roster.Validate(p, now) {
			errs.Add(e.Code, fmt.Sprintf("participants[%d].%s", i, e.Field), e.Message)
		}
		perCategory[strings.ToLower(p.CategoryName)]++
	}

	if len(entries) == required {
		for _, ln := range s.ledger.Lines() {
			if got := perCategory[strings.ToLower(ln.Category.Name)]; got != ln.Count {
				errs.Add(apperr.CodeValidation, "participants",
					fmt.Sprintf("%s needs %d participant(s), found %d.", ln.Category.Name, ln.Count, got))
			}
		}
	}

	if s.mode == ModeRelay {
		errs = append(errs, roster.ValidateTeam(s.team)...)
	}
	return errs
}

func (s *Session) buildRequest() models.RegistrationRequest {
	req := models.RegistrationRequest{
		EventID:         s.event.ID,
		Mode:            string(s.mode),
		DisplayedTotal:  s.quote().Total,
		ReplacesOrderID: s.replaces,
	}
	switch c := s.effectiveCoupon(); {
	case s.couponCode != "":
		req.CouponCode = s.couponCode
	case c != nil:
		req.CouponCode = c.Code
	}
	if s.mode == ModeRelay {
		team := s.team
		req.Team = &team
	}
	for _, ln := range s.ledger.Lines() {
		req.Selections = append(req.Selections, models.Selection{
			CategoryID: ln.Category.ID,
			Name:       ln.Category.Name,
			Count:      ln.Count,
		})
	}
	for _, p := range s.roster.Entries() {
		pp := models.ParticipantPayload{Participant: p}
		if i := s.categoryIndex(p.CategoryName); i >= 0 {
			v := eligibility.Resolve(s.event.Categories[i], p.DateOfBirth, p.Gender, s.event.Date)
			pp.Age = v.Age
			pp.AgeBracketName = v.MatchedBracket
		} else {
			pp.Age = eligibility.AgeOn(p.DateOfBirth, s.event.Date)
		}
		req.Participants = append(req.Participants, pp)
	}
	return req
}

// Back moves one step backwards. It never validates.
func (s *Session) Back() error {
	return s.mutate(func() error {
		first := StepSelecting
		if s.mode == ModeSingle {
			first = StepDetails
		}
		if s.step > first {
			if s.step == StepPayment {
				s.replaces = s.order.OrderID
				s.order = nil
			}
			s.step--
		}
		s.errs = nil
		s.banner = ""
		return nil
	})
}

// Complete marks the session paid once the payment collaborator reports
// success and returns the confirmation snapshot. Repeated calls return the
// same snapshot.
func (s *Session) Complete(paymentRef string) (models.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.confirmation != nil {
		return *s.confirmation, nil
	}
	if s.step != StepPayment || s.order == nil {
		return models.Confirmation{}, apperr.New(apperr.CodeStep, "registration has not been submitted")
	}

	c := models.Confirmation{
		OrderID:          s.order.OrderID,
		RegistrationID:   s.order.RegistrationID,
		EventID:          s.event.ID,
		EventName:        s.event.Name,
		PaymentRef:       paymentRef,
		PayableAmount:    s.order.PayableAmount,
		ParticipantCount: s.roster.Len(),
		CompletedAt:      s.deps.Now().UTC(),
	}
	if s.mode == ModeRelay {
		c.TeamName = s.team.Name
	}
	s.confirmation = &c
	s.touchedAt = s.deps.Now()
	s.log.Info("registration paid", "order_id", c.OrderID, "payment_ref", paymentRef)
	return c, nil
}

// Clubs returns the club reference list, loading it on first use.
func (s *Session) Clubs(ctx context.Context) ([]string, error) {
	return s.clubs.get(ctx)
}
