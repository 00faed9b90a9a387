package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SignatureHeader carries the stub webhook's hex HMAC-SHA256 of the body.
const SignatureHeader = "X-Signature"

// Stub is a provider with no real gateway behind it:
//   - CreatePayment returns a link to /pay/stub?invoice=...
//   - the webhook is a JSON body signed with the shared secret in X-Signature
type Stub struct {
	secret  string
	baseURL string
}

// NewStub returns a stub provider. baseURL prefixes the pay link when set.
func NewStub(secret, baseURL string) *Stub {
	return &Stub{secret: secret, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *Stub) Name() string { return "stub" }

// CreatePayment issues an invoice of the form "<orderID>:<amount>:<nonce>".
func (p *Stub) CreatePayment(_ context.Context, orderID string, amount int64, returnURL string) (Checkout, error) {
	if orderID == "" {
		return Checkout{}, fmt.Errorf("create payment: empty order id")
	}
	if amount < 0 {
		return Checkout{}, fmt.Errorf("create payment: negative amount %d", amount)
	}
	invoice := fmt.Sprintf("%s:%d:%s", orderID, amount, uuid.NewString())

	q := url.Values{"invoice": {invoice}}
	if returnURL != "" {
		q.Set("return", returnURL)
	}
	return Checkout{
		Provider: p.Name(),
		PayURL:   p.baseURL + "/pay/stub?" + q.Encode(),
		Invoice:  invoice,
	}, nil
}

// WebhookPayload is the body the stub gateway posts.
type WebhookPayload struct {
	Invoice string `json:"invoice"`
	Status  string `json:"status"`
}

func (p *Stub) HandleWebhook(_ context.Context, body []byte, headers map[string]string) (Outcome, error) {
	sig := headers[strings.ToLower(SignatureHeader)]
	if sig == "" || !hmac.Equal([]byte(sig), []byte(Sign(p.secret, body))) {
		return Outcome{}, ErrInvalidSignature
	}

	var pl WebhookPayload
	if err := json.Unmarshal(body, &pl); err != nil {
		return Outcome{}, fmt.Errorf("decode webhook: %w", err)
	}
	orderID, rest, ok := strings.Cut(pl.Invoice, ":")
	if !ok || orderID == "" {
		return Outcome{}, fmt.Errorf("bad invoice %q", pl.Invoice)
	}
	amountText, _, _ := strings.Cut(rest, ":")
	amount, err := strconv.ParseInt(amountText, 10, 64)
	if err != nil || amount < 0 {
		return Outcome{}, fmt.Errorf("bad invoice amount %q", pl.Invoice)
	}

	status := strings.ToLower(strings.TrimSpace(pl.Status))
	switch status {
	case "":
		status = StatusPaid
	case StatusPaid, StatusCancelled:
	default:
		return Outcome{}, fmt.Errorf("unknown payment status %q", pl.Status)
	}

	return Outcome{
		OrderID:    orderID,
		Invoice:    pl.Invoice,
		Amount:     amount,
		PaymentRef: "stub_" + shortHash(pl.Invoice),
		Status:     status,
	}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// Simulate builds the signed webhook the stub gateway would post for
// invoice. The /pay/stub page feeds it straight back into HandleWebhook.
func (p *Stub) Simulate(invoice, status string) (body []byte, headers map[string]string, err error) {
	body, err = json.Marshal(WebhookPayload{Invoice: invoice, Status: status})
	if err != nil {
		return nil, nil, fmt.Errorf("encode webhook: %w", err)
	}
	return body, map[string]string{strings.ToLower(SignatureHeader): Sign(p.secret, body)}, nil
}
