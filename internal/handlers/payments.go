package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
	"github.com/Elizabethomito/racereg/backend/internal/auth"
	"github.com/Elizabethomito/racereg/backend/internal/models"
	"github.com/Elizabethomito/racereg/backend/internal/payments"
	"github.com/Elizabethomito/racereg/backend/internal/session"
)

// maxWebhookBody caps what we read from a payment provider.
const maxWebhookBody = 1 << 20

// confirmationResponse is what a successful payment returns: the snapshot
// plus a signed token the thank-you page can be reloaded from.
type confirmationResponse struct {
	Confirmation models.Confirmation `json:"confirmation"`
	Token        string              `json:"token"`
}

// Checkout handles POST /api/sessions/{id}/checkout
// Only valid in the payment step: asks the provider for a pay link for
// the server-computed payable amount.
func (s *Server) Checkout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view := sess.View()
	if view.Step != session.StepPayment || view.Order == nil {
		s.respondErrView(w, r, apperr.New(apperr.CodeStep, "submit your registration before paying"), &view)
		return
	}

	returnURL := strings.TrimRight(s.PublicBaseURL, "/") + "/confirmation"
	co, err := s.Payments.CreatePayment(r.Context(), view.Order.OrderID, view.Order.PayableAmount, returnURL)
	if err != nil {
		s.respondErr(w, r, apperr.Wrap(apperr.CodeSubmission, "Could not start the payment. Please try again.", err))
		return
	}
	s.logger().InfoContext(r.Context(), "checkout created",
		"session_id", sess.ID(), "order_id", view.Order.OrderID, "provider", co.Provider)
	respond(w, http.StatusOK, co)
}

// PaymentWebhook handles POST /api/payments/webhook
//
// ────────────────────────────────────────────────────────────────────
// LEARNING NOTE — webhooks must be idempotent
// ────────────────────────────────────────────────────────────────────
// Payment providers retry a webhook until they see a 2xx, so the same
// "paid" notification can arrive several times. Every step below is
// safe to repeat:
//
//  1. The provider verifies the signature and tells us the order.
//  2. If the shopper's session is still in memory it is completed; a
//     completed session returns the same snapshot every time. If the
//     session is gone (swept, or the server restarted) the snapshot is
//     rebuilt from the stored registration instead.
//  3. MarkPaid is an UPDATE, and SaveConfirmation is INSERT OR IGNORE,
//     so the first snapshot stored wins and retries read it back.
func (s *Server) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read body")
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[strings.ToLower(k)] = r.Header.Get(k)
	}

	out, err := s.Payments.HandleWebhook(r.Context(), body, headers)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.settle(r.Context(), out)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if res == nil {
		respond(w, http.StatusOK, map[string]string{"status": out.Status, "order_id": out.OrderID})
		return
	}
	respond(w, http.StatusOK, res)
}

// settle applies a verified provider outcome. Cancelled payments leave the
// registration pending and return a nil response.
func (s *Server) settle(ctx context.Context, out payments.Outcome) (*confirmationResponse, error) {
	log := s.logger().With("order_id", out.OrderID, "payment_ref", out.PaymentRef)
	s.Metrics.payment(out.Status)
	if out.Status != payments.StatusPaid {
		log.InfoContext(ctx, "payment not completed", "status", out.Status)
		return nil, nil
	}
	if err := s.checkPayable(ctx, out); err != nil {
		log.WarnContext(ctx, "payment rejected", "amount", out.Amount, "error", err)
		return nil, err
	}

	var conf models.Confirmation
	var err error
	if sess, findErr := s.Sessions.FindByOrder(out.OrderID); findErr == nil {
		conf, err = sess.Complete(out.PaymentRef)
	} else {
		err = findErr
	}
	if err != nil {
		log.InfoContext(ctx, "confirming from stored registration", "reason", err)
		conf, err = s.Store.ConfirmOrder(ctx, out.OrderID, out.PaymentRef)
		if err != nil {
			return nil, err
		}
	}

	if err := s.Store.MarkPaid(ctx, out.OrderID, out.PaymentRef); err != nil {
		return nil, err
	}
	if err := s.Store.SaveConfirmation(ctx, conf); err != nil {
		return nil, err
	}
	stored, err := s.Store.Confirmation(ctx, out.OrderID)
	if err != nil {
		return nil, err
	}
	token, err := auth.GenerateConfirmationToken(stored, s.Secret)
	if err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "payment confirmed", "payable_amount", stored.PayableAmount)
	return &confirmationResponse{Confirmation: stored, Token: token}, nil
}

// checkPayable refuses outcomes for orders that were replaced, and outcomes
// that collected something other than the stored payable amount.
func (s *Server) checkPayable(ctx context.Context, out payments.Outcome) error {
	due, status, err := s.Store.PaymentDue(ctx, out.OrderID)
	if err != nil {
		return err
	}
	if status == models.RegistrationAbandoned {
		return apperr.New(apperr.CodeStep, fmt.Sprintf("order %s was replaced by a newer submission", out.OrderID))
	}
	if out.Amount != due {
		return apperr.New(apperr.CodeValidation,
			fmt.Sprintf("payment of %d does not match the %d due for order %s", out.Amount, due, out.OrderID))
	}
	return nil
}

// GetConfirmation handles GET /api/confirmations/{token}
// Verifies the signed snapshot; no database lookup is needed.
func (s *Server) GetConfirmation(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.ParseConfirmationToken(r.PathValue("token"), s.Secret)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired confirmation")
		return
	}
	respond(w, http.StatusOK, claims.Confirmation())
}

var stubPage = template.Must(template.New("stub").Parse(`<!doctype html>
<html><head><title>Test payment</title></head>
<body>
<h1>Test payment</h1>
<p>Invoice <code>{{.Invoice}}</code></p>
<form method="post" action="/pay/stub">
<input type="hidden" name="invoice" value="{{.Invoice}}">
<input type="hidden" name="return" value="{{.Return}}">
<button name="status" value="paid">Pay</button>
<button name="status" value="cancelled">Cancel</button>
</form>
</body></html>`))

// StubPaymentPage handles GET and POST /pay/stub
// The stub provider's hosted "gateway": GET shows pay and cancel buttons,
// POST signs the matching webhook, settles it and redirects back to the
// storefront with the confirmation token.
func (s *Server) StubPaymentPage(w http.ResponseWriter, r *http.Request) {
	stub, ok := s.Payments.(*payments.Stub)
	if !ok {
		respondError(w, http.StatusNotFound, "test payments are disabled")
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	invoice, ret := r.Form.Get("invoice"), r.Form.Get("return")
	if invoice == "" {
		respondError(w, http.StatusBadRequest, "invoice is required")
		return
	}
	// Only redirect back to our own storefront.
	if ret != "" && !strings.HasPrefix(ret, strings.TrimRight(s.PublicBaseURL, "/")+"/") {
		respondError(w, http.StatusBadRequest, "invalid return URL")
		return
	}

	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := stubPage.Execute(w, map[string]string{"Invoice": invoice, "Return": ret}); err != nil {
			s.logger().ErrorContext(r.Context(), "render stub page", "error", err)
		}
		return
	}

	body, headers, err := stub.Simulate(invoice, r.Form.Get("status"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	out, err := stub.HandleWebhook(r.Context(), body, headers)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.settle(r.Context(), out)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	if ret == "" {
		if res == nil {
			respond(w, http.StatusOK, map[string]string{"status": out.Status, "order_id": out.OrderID})
			return
		}
		respond(w, http.StatusOK, res)
		return
	}
	q := url.Values{"order_id": {out.OrderID}, "status": {out.Status}}
	if res != nil {
		q.Set("token", res.Token)
	}
	http.Redirect(w, r, fmt.Sprintf("%s?%s", ret, q.Encode()), http.StatusSeeOther)
}
