// Package auth signs and verifies confirmation tokens.
//
// ────────────────────────────────────────────────────────────────────
// LEARNING NOTE — why a signed token for the thank-you page?
// ────────────────────────────────────────────────────────────────────
// Once payment lands, the shopper's session is finished and may be swept
// from memory at any moment. The confirmation view still has to show the
// order ID, event, amount paid and team size. Instead of keeping the
// session alive, the server signs those facts into a JWT:
//
//	HEADER.PAYLOAD.SIGNATURE
//
// The PAYLOAD carries our confirmation claims; the SIGNATURE is an
// HMAC-SHA256 over HEADER+PAYLOAD with a secret only the server knows.
// Anyone can read the claims, but nobody can forge or alter them, so the
// link can be emailed or bookmarked and verified later without a
// database lookup.
//
// Useful resource: https://jwt.io/introduction
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// ConfirmationTokenDuration is how long a confirmation link stays valid.
// Long enough to cover the run-up to race day.
const ConfirmationTokenDuration = 180 * 24 * time.Hour

const issuer = "racereg"

// ConfirmationClaims are the JWT claims of a confirmation token. The
// order ID doubles as the JWT subject.
type ConfirmationClaims struct {
	RegistrationID   string `json:"registration_id"`
	EventID          string `json:"event_id"`
	EventName        string `json:"event_name"`
	PaymentRef       string `json:"payment_ref"`
	PayableAmount    int64  `json:"payable_amount"`
	ParticipantCount int    `json:"participant_count"`
	TeamName         string `json:"team_name,omitempty"`
	jwt.RegisteredClaims
}

// Confirmation converts the claims back into the snapshot they were made from.
func (c *ConfirmationClaims) Confirmation() models.Confirmation {
	out := models.Confirmation{
		OrderID:          c.Subject,
		RegistrationID:   c.RegistrationID,
		EventID:          c.EventID,
		EventName:        c.EventName,
		PaymentRef:       c.PaymentRef,
		PayableAmount:    c.PayableAmount,
		ParticipantCount: c.ParticipantCount,
		TeamName:         c.TeamName,
	}
	if c.IssuedAt != nil {
		out.CompletedAt = c.IssuedAt.Time.UTC()
	}
	return out
}

// GenerateConfirmationToken signs c with HS256. The token is issued at
// c.CompletedAt (or now when unset) and expires ConfirmationTokenDuration
// later.
func GenerateConfirmationToken(c models.Confirmation, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("sign confirmation token: empty secret")
	}
	iat := c.CompletedAt
	if iat.IsZero() {
		iat = time.Now()
	}
	return GenerateConfirmationTokenWithExpiry(c, secret, iat, iat.Add(ConfirmationTokenDuration))
}

// GenerateConfirmationTokenWithExpiry creates a token with explicit iat/exp
// values. Tests use it to build already-expired tokens.
func GenerateConfirmationTokenWithExpiry(c models.Confirmation, secret string, iat, exp time.Time) (string, error) {
	claims := ConfirmationClaims{
		RegistrationID:   c.RegistrationID,
		EventID:          c.EventID,
		EventName:        c.EventName,
		PaymentRef:       c.PaymentRef,
		PayableAmount:    c.PayableAmount,
		ParticipantCount: c.ParticipantCount,
		TeamName:         c.TeamName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   c.OrderID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(iat),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign confirmation token: %w", err)
	}
	return signed, nil
}

// ParseConfirmationToken validates a token string and returns its claims.
// It rejects tokens with:
//   - wrong or missing signature
//   - expired tokens (ExpiresAt in the past)
//   - a foreign issuer
//   - unexpected signing algorithm (algorithm confusion attack prevention)
func ParseConfirmationToken(tokenStr, secret string) (*ConfirmationClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ConfirmationClaims{},
		func(t *jwt.Token) (any, error) {
			// Guard against "alg:none" or RS256 tokens being passed to an HS256 server.
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse confirmation token: %w", err)
	}
	claims, ok := token.Claims.(*ConfirmationClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid confirmation token")
	}
	return claims, nil
}
