package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

var (
	testNow   = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	eventDate = time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeEvents map[string]models.Event

func (f fakeEvents) FetchEvent(_ context.Context, slug string) (models.Event, error) {
	e, ok := f[slug]
	if !ok {
		return models.Event{}, apperr.New(apperr.CodeNotFound, "event not found")
	}
	return e, nil
}

type fakeCoupons struct {
	earlyBird *models.Coupon
	codes     map[string]*models.Coupon
	err       error
}

func (f *fakeCoupons) FetchCoupon(_ context.Context, _ string, code string) (*models.Coupon, error) {
	if f.err != nil {
		return nil, f.err
	}
	if code == "" {
		return f.earlyBird, nil
	}
	c, ok := f.codes[code]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "coupon not found")
	}
	return c, nil
}

type fakeRegistrar struct {
	mu       sync.Mutex
	requests []models.RegistrationRequest
	err      error
	// entered and release, when set, hold the call open.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRegistrar) SubmitRegistration(_ context.Context, req models.RegistrationRequest) (models.SubmissionResult, error) {
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return models.SubmissionResult{}, f.err
	}
	return models.SubmissionResult{
		OrderID:        fmt.Sprintf("order-%d", len(f.requests)),
		RegistrationID: "reg-1",
		Total:          req.DisplayedTotal,
		PayableAmount:  req.DisplayedTotal + 100,
	}, nil
}

func (f *fakeRegistrar) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeClubs struct{ calls int }

func (f *fakeClubs) ListClubs(context.Context, string) ([]string, error) {
	f.calls++
	return []string{"Pune Runners", "Hill Striders"}, nil
}

// ── fixtures ─────────────────────────────────────────────────────────────────

func groupEvent() models.Event {
	return models.Event{
		ID: "ev-group", Slug: "city-run", Name: "City Run", Date: eventDate,
		Status:              models.EventStatusOpen,
		IsGroupRegistration: true,
		Categories: []models.Category{
			{ID: "c-5k", Name: "5K", Distance: "5 km", Price: 500},
			{ID: "c-10k", Name: "10K", Distance: "10 km", Price: 300, AgeBrackets: []models.AgeBracket{
				{Name: "Open", MinAge: 18, MaxAge: 39},
				{Name: "Veterans", MinAge: 40, MaxAge: 99},
			}},
		},
	}
}

func relayEvent() models.Event {
	return models.Event{
		ID: "ev-relay", Slug: "relay", Name: "Relay Day", Date: eventDate,
		Status: models.EventStatusOpen,
		Categories: []models.Category{
			{ID: "c-r2", Name: "Relay Team of 2", Price: 1500, IsRelay: true, TeamLimit: 2},
			{ID: "c-r4", Name: "Relay Team of 4", Price: 2000, IsRelay: true, TeamLimit: 4},
		},
	}
}

func singleEvent() models.Event {
	return models.Event{
		ID: "ev-single", Slug: "solo", Name: "Solo Half", Date: eventDate,
		Status: models.EventStatusOpen,
		Categories: []models.Category{
			{ID: "c-hm", Name: "Half Marathon", Distance: "21.1 km", Price: 1200},
		},
	}
}

func runner(n int, category string) models.Participant {
	return models.Participant{
		FirstName:              "Runner",
		LastName:               fmt.Sprintf("No%d", n),
		Email:                  fmt.Sprintf("runner%d@example.com", n),
		Mobile:                 fmt.Sprintf("98765432%02d", n),
		SameWhatsApp:           true,
		Gender:                 models.GenderFemale,
		DateOfBirth:            time.Date(1990, 3, 4, 0, 0, 0, 0, time.UTC),
		CategoryName:           category,
		TShirtSize:             "M",
		EmergencyContactName:   "Contact",
		EmergencyContactNumber: fmt.Sprintf("88888888%02d", n),
		AcceptedTerms:          true,
	}
}

type harness struct {
	coupons   *fakeCoupons
	registrar *fakeRegistrar
	clubs     *fakeClubs
	now       time.Time
}

func newHarness() *harness {
	return &harness{
		coupons:   &fakeCoupons{codes: map[string]*models.Coupon{}},
		registrar: &fakeRegistrar{},
		clubs:     &fakeClubs{},
		now:       testNow,
	}
}

func (h *harness) start(t *testing.T, slug string) *Session {
	t.Helper()
	s, err := Start(context.Background(), Deps{
		Events:    fakeEvents{"city-run": groupEvent(), "relay": relayEvent(), "solo": singleEvent()},
		Coupons:   h.coupons,
		Registrar: h.registrar,
		Clubs:     h.clubs,
		Now:       func() time.Time { return h.now },
		NewID:     func() string { return "sess-" + slug },
	}, slug)
	require.NoError(t, err)
	return s
}

func addRoster(t *testing.T, s *Session, participants ...models.Participant) {
	t.Helper()
	for _, p := range participants {
		require.NoError(t, s.UpdateForm(p))
		require.NoError(t, s.AddParticipant())
	}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestStartModes(t *testing.T) {
	h := newHarness()

	g := h.start(t, "city-run")
	assert.Equal(t, ModeGroup, g.Mode())
	assert.Equal(t, StepSelecting, g.Step())

	r := h.start(t, "relay")
	assert.Equal(t, ModeRelay, r.Mode())
	assert.Equal(t, StepSelecting, r.Step())

	s := h.start(t, "solo")
	assert.Equal(t, ModeSingle, s.Mode())
	assert.Equal(t, StepDetails, s.Step())
}

func TestStartUnknownEventIsFatal(t *testing.T) {
	_, err := Start(context.Background(), Deps{Events: fakeEvents{}, Registrar: &fakeRegistrar{}}, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStartRequiresRegistrar(t *testing.T) {
	_, err := Start(context.Background(), Deps{Events: fakeEvents{"city-run": groupEvent()}}, "city-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registrar")
}

func TestGroupFlowEndToEnd(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")

	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Increment(1))
	assert.Equal(t, int64(1300), s.Quote().Subtotal)
	assert.Equal(t, "5K", s.View().Form.CategoryName, "first increment activates its category")

	require.NoError(t, s.Next(context.Background()))
	require.Equal(t, StepDetails, s.Step())

	addRoster(t, s, runner(1, "5K"), runner(2, "5K"), runner(3, "10K"))
	require.NoError(t, s.Next(context.Background()))

	assert.Equal(t, StepPayment, s.Step())
	assert.Equal(t, "order-1", s.OrderID())

	req := h.registrar.requests[0]
	assert.Equal(t, "GROUP", req.Mode)
	assert.Equal(t, int64(1300), req.DisplayedTotal)
	require.Len(t, req.Selections, 2)
	assert.Equal(t, 2, req.Selections[0].Count)
	require.Len(t, req.Participants, 3)
	assert.Equal(t, 35, req.Participants[0].Age)
	assert.Equal(t, "Open", req.Participants[2].AgeBracketName)
	assert.Nil(t, req.Team)

	v := s.View()
	require.NotNil(t, v.Order)
	assert.Equal(t, int64(1400), v.Order.PayableAmount, "server amounts are merged into the session")
}

func TestFifthIncrementRaisesLimitNotice(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Increment(1))
	}

	err := s.Increment(1)
	require.ErrorIs(t, err, apperr.ErrLimit)

	v := s.View()
	assert.Equal(t, 4, v.Categories[1].Count)
	assert.Equal(t, 4, v.Total)
	assert.NotEmpty(t, v.Notice)

	h.now = h.now.Add(NoticeTTL + time.Second)
	assert.Empty(t, s.View().Notice, "notice dismisses itself")

	require.NoError(t, s.Increment(0), "a limit notice never blocks other work")
}

func TestRelayActivationFillsTeam(t *testing.T) {
	h := newHarness()
	s := h.start(t, "relay")

	require.NoError(t, s.SelectCategory(0))
	require.NoError(t, s.SelectCategory(1))
	v := s.View()
	assert.Equal(t, 0, v.Categories[0].Count)
	assert.Equal(t, 4, v.Categories[1].Count)
	assert.Equal(t, int64(2000), v.Quote.Subtotal, "relay is one team fee")

	err := s.Next(context.Background())
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, StepSelecting, s.Step())

	require.NoError(t, s.SetTeam(models.Team{Name: "Fast Four", Contact: "9000000000"}))
	require.NoError(t, s.Next(context.Background()))

	addRoster(t, s, runner(1, "Relay Team of 4"), runner(2, "Relay Team of 4"), runner(3, "Relay Team of 4"))
	err = s.Next(context.Background())
	require.ErrorIs(t, err, apperr.ErrValidation, "roster must reach team size")
	assert.Equal(t, 0, h.registrar.calls())

	addRoster(t, s, runner(4, "Relay Team of 4"))
	require.NoError(t, s.Next(context.Background()))

	req := h.registrar.requests[0]
	require.NotNil(t, req.Team)
	assert.Equal(t, "Fast Four", req.Team.Name)
	assert.Equal(t, "RELAY", req.Mode)
}

func TestSelectingGuardAggregatesErrors(t *testing.T) {
	h := newHarness()
	s := h.start(t, "relay")

	err := s.Next(context.Background())
	var errs apperr.List
	require.True(t, errors.As(err, &errs))

	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"category", "count", "team_name", "team_contact"} {
		assert.True(t, fields[f], "missing %s", f)
	}
	assert.Len(t, s.View().Errors, len(errs))
}

func TestDetailsGuardChecksCategoryCounts(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Increment(1))
	require.NoError(t, s.Next(context.Background()))

	addRoster(t, s, runner(1, "5K"), runner(2, "5K"))
	err := s.Next(context.Background())
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, StepDetails, s.Step())
	assert.Zero(t, h.registrar.calls())
}

func TestAddParticipantKeepsFormWhenRosterFull(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	require.NoError(t, s.SetCouponCode("save10"))

	addRoster(t, s, runner(1, "5K"))
	v := s.View()
	assert.Empty(t, v.Form.FirstName, "form resets while more participants are needed")
	assert.Equal(t, "5K", v.Form.CategoryName)
	assert.Equal(t, "SAVE10", v.CouponCode, "session fields survive the reset")

	addRoster(t, s, runner(2, "5K"))
	assert.Equal(t, "Runner", s.View().Form.FirstName)

	require.Error(t, s.AddParticipant())
	assert.Len(t, s.View().Roster, 2)
}

func TestInvalidParticipantErrorsAreStored(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))

	p := runner(1, "5K")
	p.EmergencyContactNumber = p.Mobile
	require.NoError(t, s.UpdateForm(p))
	require.ErrorIs(t, s.AddParticipant(), apperr.ErrValidation)

	v := s.View()
	require.Len(t, v.Errors, 1)
	assert.Equal(t, "emergency_contact_number", v.Errors[0].Field)
	assert.Empty(t, v.Roster)
}

func TestEditSaveRemoveParticipants(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"), runner(2, "5K"))

	require.NoError(t, s.EditParticipant(0))
	p := s.View().Form
	p.FirstName = "Edited"
	require.NoError(t, s.UpdateForm(p))
	require.NoError(t, s.SaveParticipant())
	assert.Equal(t, "Edited", s.View().Roster[0].FirstName)

	require.NoError(t, s.RemoveParticipant(1))
	v := s.View()
	assert.Len(t, v.Roster, 1)
	assert.Empty(t, v.Form.FirstName)
}

func TestCouponAppliesAndClearsOnCodeChange(t *testing.T) {
	h := newHarness()
	h.coupons.codes["SAVE10"] = &models.Coupon{Code: "SAVE10", Percentage: 10, Active: true}
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Increment(1))

	require.NoError(t, s.SetCouponCode(" save10 "))
	require.NoError(t, s.ApplyCoupon(context.Background()))
	q := s.Quote()
	assert.Equal(t, int64(130), q.Discount)
	assert.Equal(t, int64(1170), q.Total)

	require.NoError(t, s.SetCouponCode("BOGUS"))
	assert.Equal(t, int64(0), s.Quote().Discount, "changing the code drops the applied coupon")

	err := s.ApplyCoupon(context.Background())
	require.ErrorIs(t, err, apperr.ErrCoupon)
	assert.Equal(t, "Invalid coupon code.", s.View().CouponError)

	require.NoError(t, s.SetCouponCode("OTHER"))
	assert.Empty(t, s.View().CouponError)
}

func TestExpiredCouponRejected(t *testing.T) {
	h := newHarness()
	h.coupons.codes["OLD"] = &models.Coupon{Code: "OLD", FixedAmount: 100, Active: true, ExpiresAt: testNow.Add(-time.Hour)}
	s := h.start(t, "city-run")
	require.NoError(t, s.SetCouponCode("old"))
	require.ErrorIs(t, s.ApplyCoupon(context.Background()), apperr.ErrCoupon)
	assert.Equal(t, "This coupon has expired.", s.View().CouponError)
}

func TestEarlyBirdAutoAppliesUntilExpiry(t *testing.T) {
	h := newHarness()
	h.coupons.earlyBird = &models.Coupon{Code: "EARLY", FixedAmount: 200, EarlyBird: true, Active: true, ExpiresAt: testNow.Add(time.Hour)}
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))

	q := s.Quote()
	assert.Equal(t, int64(200), q.Discount)
	assert.Equal(t, int64(300), q.Total)

	h.now = testNow.Add(2 * time.Hour)
	assert.Zero(t, s.Quote().Discount)
}

func TestEarlyBirdLookupFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.coupons.err = errors.New("coupon service down")
	s := h.start(t, "city-run")
	assert.Nil(t, s.View().Coupon)
}

func TestSubmissionCouponErrorRoutedToCouponField(t *testing.T) {
	h := newHarness()
	h.registrar.err = apperr.Field(apperr.CodeCoupon, "coupon_code", "Coupon usage limit reached.")
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))

	err := s.Next(context.Background())
	require.ErrorIs(t, err, apperr.ErrCoupon)

	v := s.View()
	assert.Equal(t, StepDetails, v.Step)
	assert.Equal(t, "Coupon usage limit reached.", v.CouponError)
	assert.Empty(t, v.Banner)
	assert.Len(t, v.Roster, 1, "entered data is retained")
}

func TestSubmissionFailureShowsBannerAndRetries(t *testing.T) {
	h := newHarness()
	h.registrar.err = errors.New("connection reset")
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))

	err := s.Next(context.Background())
	require.ErrorIs(t, err, apperr.ErrSubmission)
	assert.Equal(t, StepDetails, s.Step())
	assert.NotEmpty(t, s.View().Banner)

	h.registrar.mu.Lock()
	h.registrar.err = nil
	h.registrar.mu.Unlock()
	require.NoError(t, s.Next(context.Background()))
	assert.Equal(t, StepPayment, s.Step())
	assert.Empty(t, s.View().Banner)
}

func TestSecondSubmitSuppressedWhileBusy(t *testing.T) {
	h := newHarness()
	h.registrar.entered = make(chan struct{})
	h.registrar.release = make(chan struct{})
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))

	done := make(chan error, 1)
	go func() { done <- s.Next(context.Background()) }()
	<-h.registrar.entered

	assert.ErrorIs(t, s.Next(context.Background()), apperr.ErrBusy)
	assert.ErrorIs(t, s.Increment(0), apperr.ErrBusy)
	assert.True(t, s.View().Busy)

	close(h.registrar.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.registrar.calls())
	assert.False(t, s.View().Busy)
}

func TestBackNeverValidatesAndDropsOrder(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))
	require.NoError(t, s.Next(context.Background()))

	require.NoError(t, s.Back())
	assert.Equal(t, StepDetails, s.Step())
	assert.Empty(t, s.OrderID())

	require.NoError(t, s.Back())
	assert.Equal(t, StepSelecting, s.Step())
	require.NoError(t, s.Back(), "back at the first step is a no-op")
	assert.Equal(t, StepSelecting, s.Step())
}

func TestResubmitAfterBackReplacesOrder(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))
	require.NoError(t, s.Next(context.Background()))
	first := s.OrderID()
	require.Equal(t, "order-1", first)

	require.NoError(t, s.Back())
	require.NoError(t, s.Next(context.Background()))
	assert.Equal(t, "order-2", s.OrderID())

	require.Equal(t, 2, h.registrar.calls())
	assert.Empty(t, h.registrar.requests[0].ReplacesOrderID)
	assert.Equal(t, first, h.registrar.requests[1].ReplacesOrderID)

	// The replacement is remembered only until the next accepted submission.
	require.NoError(t, s.Back())
	require.NoError(t, s.Next(context.Background()))
	assert.Equal(t, "order-2", h.registrar.requests[2].ReplacesOrderID)
}

func TestLedgerLockedDuringPayment(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))
	require.NoError(t, s.Next(context.Background()))

	assert.ErrorIs(t, s.Increment(0), apperr.ErrStep)
	assert.ErrorIs(t, s.Next(context.Background()), apperr.ErrStep)
}

func TestSingleFlowMirrorsForm(t *testing.T) {
	h := newHarness()
	s := h.start(t, "solo")

	require.NoError(t, s.UpdateForm(runner(7, "half marathon")))
	v := s.View()
	assert.Equal(t, 1, v.Total)
	assert.Equal(t, "21.1 km", v.Form.CategoryDistance)
	require.NotNil(t, v.Eligibility)
	assert.True(t, v.Eligibility.Eligible)

	require.NoError(t, s.Next(context.Background()))
	assert.Equal(t, StepPayment, s.Step())
	req := h.registrar.requests[0]
	require.Len(t, req.Participants, 1)
	assert.Equal(t, "runner7@example.com", req.Participants[0].Email)
	assert.Equal(t, int64(1200), req.DisplayedTotal)

	require.NoError(t, s.Back())
	assert.Equal(t, StepDetails, s.Step(), "single flow never reaches selection")
}

func TestCompleteIsIdempotentAndFreezesSession(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")

	_, err := s.Complete("pay-1")
	require.ErrorIs(t, err, apperr.ErrStep)

	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))
	require.NoError(t, s.Next(context.Background()))

	c1, err := s.Complete("pay-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", c1.OrderID)
	assert.Equal(t, 1, c1.ParticipantCount)

	c2, err := s.Complete("pay-2")
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	assert.ErrorIs(t, s.Back(), apperr.ErrStep)
}

func TestClubsLoadedOnce(t *testing.T) {
	h := newHarness()
	s := h.start(t, "city-run")
	for i := 0; i < 3; i++ {
		clubs, err := s.Clubs(context.Background())
		require.NoError(t, err)
		assert.Len(t, clubs, 2)
	}
	assert.Equal(t, 1, h.clubs.calls)
}

func TestRegistry(t *testing.T) {
	h := newHarness()
	reg := NewRegistry(time.Minute)
	reg.now = func() time.Time { return h.now }

	s := h.start(t, "city-run")
	reg.Add(s)

	got, err := reg.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.Increment(0))
	require.NoError(t, s.Next(context.Background()))
	addRoster(t, s, runner(1, "5K"))
	require.NoError(t, s.Next(context.Background()))

	found, err := reg.FindByOrder("order-1")
	require.NoError(t, err)
	assert.Same(t, s, found)

	assert.Zero(t, reg.Sweep())
	h.now = h.now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
	assert.Zero(t, reg.Len())
}
