package session

import (
	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/eligibility"
	"github.com/Elizabethomito/racereg/backend/internal/models"
	"github.com/Elizabethomito/racereg/backend/internal/pricing"
)

// CategoryView is one category as shown on the selection step.
type CategoryView struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Distance string `json:"distance"`
	Price    int64  `json:"price"`
	IsRelay  bool   `json:"is_relay"`
	Count    int    `json:"count"`
	Active   bool   `json:"active"`
}

// View is a read-only snapshot of a session, suitable for JSON.
type View struct {
	ID          string                   `json:"id"`
	EventID     string                   `json:"event_id"`
	EventName   string                   `json:"event_name"`
	Mode        Mode                     `json:"mode"`
	Step        Step                     `json:"step"`
	Categories  []CategoryView           `json:"categories"`
	Total       int                      `json:"ticket_total"`
	Team        *models.Team             `json:"team,omitempty"`
	Form        models.Participant       `json:"form"`
	Eligibility *eligibility.Verdict     `json:"eligibility,omitempty"`
	Roster      []models.Participant     `json:"participants"`
	Editing     *int                     `json:"editing,omitempty"`
	CouponCode  string                   `json:"coupon_code,omitempty"`
	Coupon      *models.Coupon           `json:"coupon,omitempty"`
	CouponError string                   `json:"coupon_error,omitempty"`
	Quote       pricing.Quote            `json:"quote"`
	Notice      string                   `json:"notice,omitempty"`
	Errors      apperr.List              `json:"errors,omitempty"`
	Banner      string                   `json:"banner,omitempty"`
	Busy        bool                     `json:"busy"`
	Order       *models.SubmissionResult `json:"order,omitempty"`
	Confirmed   *models.Confirmation     `json:"confirmation,omitempty"`
}

// View snapshots the session. Expired notices are dropped here.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:          s.id,
		EventID:     s.event.ID,
		EventName:   s.event.Name,
		Mode:        s.mode,
		Step:        s.step,
		Total:       s.ledger.Total(),
		Form:        s.form,
		Roster:      s.roster.Entries(),
		CouponCode:  s.couponCode,
		Coupon:      s.effectiveCoupon(),
		CouponError: s.couponErr,
		Quote:       s.quote(),
		Errors:      s.errs,
		Banner:      s.banner,
		Busy:        s.busy,
		Order:       s.order,
		Confirmed:   s.confirmation,
	}

	active, hasActive := s.ledger.Active()
	for i, c := range s.event.Categories {
		v.Categories = append(v.Categories, CategoryView{
			Index:    i,
			ID:       c.ID,
			Name:     c.Name,
			Distance: c.Distance,
			Price:    c.ShownPrice(),
			IsRelay:  c.IsRelay,
			Count:    s.ledger.Count(i),
			Active:   hasActive && active == i,
		})
	}

	if s.mode == ModeRelay {
		team := s.team
		v.Team = &team
	}
	if i, ok := s.roster.Editing(); ok {
		v.Editing = &i
	}
	if s.notice != "" && s.deps.Now().Before(s.noticeUntil) {
		v.Notice = s.notice
	}
	if i := s.categoryIndex(s.form.CategoryName); i >= 0 && !s.form.DateOfBirth.IsZero() {
		verdict := eligibility.Resolve(s.event.Categories[i], s.form.DateOfBirth, s.form.Gender, s.event.Date)
		v.Eligibility = &verdict
	}
	return v
}
