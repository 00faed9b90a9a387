package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/eligibility"
	"github.com/Elizabethomito/racereg/backend/internal/ledger"
	"github.com/Elizabethomito/racereg/backend/internal/models"
	"github.com/Elizabethomito/racereg/backend/internal/pricing"
	"github.com/Elizabethomito/racereg/backend/internal/roster"
)

// SubmitRegistration accepts a registration and returns the authoritative
// amounts.
//
// Nothing the client computed is trusted: the selections are replayed into
// a fresh ledger (so the caps apply again), every participant is
// re-validated, the coupon is looked up again, and the quote is recomputed
// and settled with the platform fee and GST. Coupon problems come back with
// apperr.CodeCoupon so the session can show them on the coupon field.
func (s *Store) SubmitRegistration(ctx context.Context, req models.RegistrationRequest) (models.SubmissionResult, error) {
	event, err := s.EventByID(ctx, req.EventID)
	if err != nil {
		return models.SubmissionResult{}, err
	}
	now := s.Now()
	if !event.AcceptingRegistrations(now) {
		return models.SubmissionResult{}, apperr.New(apperr.CodeValidation,
			fmt.Sprintf("Registration for %s is not open.", event.Name))
	}

	l, err := replaySelections(event, req.Selections)
	if err != nil {
		return models.SubmissionResult{}, err
	}
	if errs := checkParticipants(event, l, req, now); len(errs) > 0 {
		return models.SubmissionResult{}, errs
	}

	var coupon *models.Coupon
	if code := strings.ToUpper(strings.TrimSpace(req.CouponCode)); code != "" {
		c, err := s.FetchCoupon(ctx, event.ID, code)
		switch {
		case apperr.CodeOf(err) == apperr.CodeNotFound:
			return models.SubmissionResult{}, apperr.Field(apperr.CodeCoupon, "coupon_code", "Invalid coupon code.")
		case err != nil:
			return models.SubmissionResult{}, err
		case !pricing.Usable(c, now):
			return models.SubmissionResult{}, apperr.Field(apperr.CodeCoupon, "coupon_code", "This coupon has expired.")
		}
		coupon = c
	}

	quote := pricing.Calculate(l.Lines(), coupon)
	settled := pricing.Settle(quote, s.Fees)
	if req.DisplayedTotal != quote.Total {
		s.Logger.Warn("displayed total differs from server quote",
			"event_id", event.ID, "displayed", req.DisplayedTotal, "server", quote.Total)
	}

	res := models.SubmissionResult{
		OrderID:        "ord_" + s.NewID(),
		RegistrationID: s.NewID(),
		Subtotal:       settled.Subtotal,
		Discount:       settled.Discount,
		Total:          settled.Total,
		PlatformFee:    settled.PlatformFee,
		GST:            settled.GST,
		PayableAmount:  settled.Payable,
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is a no-op after Commit succeeds

	if req.ReplacesOrderID != "" {
		if err := abandonOrder(ctx, tx, event.ID, req.ReplacesOrderID); err != nil {
			return models.SubmissionResult{}, err
		}
	}

	var team models.Team
	if req.Team != nil {
		team = *req.Team
	}
	couponCode := ""
	if coupon != nil {
		couponCode = coupon.Code
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO registrations (id, order_id, event_id, mode, coupon_code, team_name, team_contact,
		                            subtotal, discount, total, platform_fee, gst, payable_amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RegistrationID, res.OrderID, event.ID, req.Mode, couponCode, team.Name, team.Contact,
		res.Subtotal, res.Discount, res.Total, res.PlatformFee, res.GST, res.PayableAmount,
		models.RegistrationPending, now.UTC(),
	)
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("insert registration: %w", err)
	}

	for i, pp := range req.Participants {
		p := roster.Normalize(pp.Participant)
		cat, _ := categoryByName(event, p.CategoryName)
		v := eligibility.Resolve(cat, p.DateOfBirth, p.Gender, event.Date)
		payload, err := json.Marshal(models.ParticipantPayload{
			Participant:    p,
			Age:            v.Age,
			AgeBracketName: v.MatchedBracket,
		})
		if err != nil {
			return models.SubmissionResult{}, fmt.Errorf("encode participant: %w", err)
		}

		echo := models.ParticipantEcho{
			ID:           s.NewID(),
			Name:         p.FullName(),
			Email:        p.Email,
			CategoryName: cat.Name,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO registration_participants (id, registration_id, position, category_id, name, email, age, age_bracket_name, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			echo.ID, res.RegistrationID, i, cat.ID, echo.Name, echo.Email, v.Age, v.MatchedBracket, string(payload),
		)
		if err != nil {
			return models.SubmissionResult{}, fmt.Errorf("insert participant: %w", err)
		}
		res.Participants = append(res.Participants, echo)
	}

	if err := tx.Commit(); err != nil {
		return models.SubmissionResult{}, fmt.Errorf("commit registration: %w", err)
	}

	s.Logger.Info("registration stored",
		"event_id", event.ID,
		"order_id", res.OrderID,
		"participants", len(res.Participants),
		"payable_amount", res.PayableAmount)
	return res, nil
}

// abandonOrder retires the pending order a resubmission replaces, so it can
// no longer be paid and drops out of listings. An order that was paid in the
// meantime cannot be replaced.
func abandonOrder(ctx context.Context, tx *sql.Tx, eventID, orderID string) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM registrations WHERE order_id = ? AND event_id = ?`, orderID, eventID,
	).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("query replaced order: %w", err)
	case status == models.RegistrationPaid:
		return apperr.New(apperr.CodeStep, fmt.Sprintf("order %s has already been paid", orderID))
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE registrations SET status = ? WHERE order_id = ? AND status = ?`,
		models.RegistrationAbandoned, orderID, models.RegistrationPending); err != nil {
		return fmt.Errorf("abandon order: %w", err)
	}
	return nil
}

// replaySelections rebuilds the ledger from the submitted selections so the
// caps and the team-size rule apply server-side as well.
func replaySelections(event models.Event, selections []models.Selection) (*ledger.Ledger, error) {
	policy := ledger.Exclusive
	if event.IsGroupRegistration && !event.IsRelay() {
		policy = ledger.Group
	}
	l := ledger.New(event.Categories, policy)

	index := make(map[string]int, len(event.Categories))
	for i, c := range event.Categories {
		index[c.ID] = i
	}
	for _, sel := range selections {
		i, ok := index[sel.CategoryID]
		if !ok {
			return nil, apperr.Field(apperr.CodeValidation, "selections",
				fmt.Sprintf("Unknown category %q.", sel.Name))
		}
		if sel.Count <= 0 {
			continue
		}
		if policy == ledger.Exclusive {
			if l.Total() > 0 {
				return nil, apperr.Field(apperr.CodeValidation, "selections", "Only one category may be selected.")
			}
			if _, err := l.Activate(i); err != nil {
				return nil, err
			}
			if sel.Count != l.Count(i) {
				return nil, apperr.Field(apperr.CodeValidation, "selections",
					fmt.Sprintf("%s requires exactly %d participant(s).", event.Categories[i].Name, l.Count(i)))
			}
			continue
		}
		for n := 0; n < sel.Count; n++ {
			if _, err := l.Increment(i); err != nil {
				return nil, err
			}
		}
	}
	if l.Total() == 0 {
		return nil, apperr.Field(apperr.CodeValidation, "selections", "Select at least one ticket.")
	}
	return l, nil
}

// checkParticipants repeats the roster checks a session runs before leaving
// the details step.
func checkParticipants(event models.Event, l *ledger.Ledger, req models.RegistrationRequest, now time.Time) apperr.List {
	var errs apperr.List
	if n, want := len(req.Participants), l.Total(); n != want {
		errs.Add(apperr.CodeValidation, "participants",
			fmt.Sprintf("Expected %d participant(s), got %d.", want, n))
	}

	perCategory := make(map[string]int)
	for i, pp := range req.Participants {
		p := roster.Normalize(pp.Participant)
		for _, e := range roster.Validate(p, now) {
			errs.Add(e.Code, fmt.Sprintf("participants[%d].%s", i, e.Field), e.Message)
		}
		cat, ok := categoryByName(event, p.CategoryName)
		if !ok && p.CategoryName != "" {
			errs.Add(apperr.CodeValidation, fmt.Sprintf("participants[%d].category_name", i),
				fmt.Sprintf("Unknown category %q.", p.CategoryName))
			continue
		}
		perCategory[cat.ID]++
	}
	if len(errs) == 0 {
		for _, ln := range l.Lines() {
			if got := perCategory[ln.Category.ID]; got != ln.Count {
				errs.Add(apperr.CodeValidation, "participants",
					fmt.Sprintf("%s needs %d participant(s), found %d.", ln.Category.Name, ln.Count, got))
			}
		}
	}

	if event.IsRelay() {
		var team models.Team
		if req.Team != nil {
			team = *req.Team
		}
		errs = append(errs, roster.ValidateTeam(team)...)
	}
	return errs
}

func categoryByName(event models.Event, name string) (models.Category, bool) {
	for _, c := range event.Categories {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return models.Category{}, false
}

// PaymentDue reports what orderID must be paid and its current status.
func (s *Store) PaymentDue(ctx context.Context, orderID string) (amount int64, status string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT payable_amount, status FROM registrations WHERE order_id = ?`, orderID,
	).Scan(&amount, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", apperr.New(apperr.CodeNotFound, fmt.Sprintf("order %s not found", orderID))
		}
		return 0, "", fmt.Errorf("query order: %w", err)
	}
	return amount, status, nil
}

// MarkPaid flags the registration for orderID as paid. Abandoned orders
// are never marked.
func (s *Store) MarkPaid(ctx context.Context, orderID, paymentRef string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE registrations SET status = ?, payment_ref = ? WHERE order_id = ? AND status <> ?`,
		models.RegistrationPaid, paymentRef, orderID, models.RegistrationAbandoned)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("order %s not found", orderID))
	}
	return nil
}

// SaveConfirmation persists the terminal snapshot. Saving the same order
// twice keeps the first snapshot.
func (s *Store) SaveConfirmation(ctx context.Context, c models.Confirmation) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO confirmations (order_id, registration_id, event_id, event_name, payment_ref,
		                                      payable_amount, participant_count, team_name, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OrderID, c.RegistrationID, c.EventID, c.EventName, c.PaymentRef,
		c.PayableAmount, c.ParticipantCount, c.TeamName, c.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("save confirmation: %w", err)
	}
	return nil
}

// Confirmation loads the stored snapshot for orderID.
func (s *Store) Confirmation(ctx context.Context, orderID string) (models.Confirmation, error) {
	var c models.Confirmation
	err := s.DB.QueryRowContext(ctx,
		`SELECT order_id, registration_id, event_id, event_name, payment_ref, payable_amount,
		        participant_count, team_name, completed_at
		 FROM confirmations WHERE order_id = ?`, orderID,
	).Scan(&c.OrderID, &c.RegistrationID, &c.EventID, &c.EventName, &c.PaymentRef, &c.PayableAmount,
		&c.ParticipantCount, &c.TeamName, &c.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Confirmation{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("no confirmation for order %s", orderID))
		}
		return models.Confirmation{}, fmt.Errorf("query confirmation: %w", err)
	}
	return c, nil
}

// ConfirmOrder builds the confirmation for an order from what is stored.
// It serves webhooks that arrive after the shopper's session is gone.
func (s *Store) ConfirmOrder(ctx context.Context, orderID, paymentRef string) (models.Confirmation, error) {
	var c models.Confirmation
	err := s.DB.QueryRowContext(ctx,
		`SELECT r.order_id, r.id, r.event_id, e.name, r.payable_amount, r.team_name,
		        (SELECT COUNT(*) FROM registration_participants p WHERE p.registration_id = r.id)
		 FROM registrations r JOIN events e ON e.id = r.event_id
		 WHERE r.order_id = ?`, orderID,
	).Scan(&c.OrderID, &c.RegistrationID, &c.EventID, &c.EventName, &c.PayableAmount, &c.TeamName, &c.ParticipantCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Confirmation{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("order %s not found", orderID))
		}
		return models.Confirmation{}, fmt.Errorf("query order: %w", err)
	}
	c.PaymentRef = paymentRef
	c.CompletedAt = s.Now().UTC()
	return c, nil
}

// ListRegistrations returns every live registration of eventID with its
// participants, oldest first. Abandoned orders are left out.
func (s *Store) ListRegistrations(ctx context.Context, eventID string) ([]models.RegistrationRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, order_id, event_id, mode, coupon_code, team_name, team_contact, total, payable_amount, status, created_at
		 FROM registrations WHERE event_id = ? AND status <> ? ORDER BY created_at ASC, id ASC`,
		eventID, models.RegistrationAbandoned)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	records := []models.RegistrationRecord{}
	for rows.Next() {
		var r models.RegistrationRecord
		if err := rows.Scan(&r.ID, &r.OrderID, &r.EventID, &r.Mode, &r.CouponCode, &r.TeamName, &r.TeamContact,
			&r.Total, &r.PayableAmount, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registrations rows: %w", err)
	}

	for i := range records {
		ps, err := s.registrationParticipants(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Participants = ps
	}
	return records, nil
}

func (s *Store) registrationParticipants(ctx context.Context, registrationID string) ([]models.ParticipantPayload, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT payload FROM registration_participants WHERE registration_id = ? ORDER BY position ASC`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []models.ParticipantPayload
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		var p models.ParticipantPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
