// Package pricing turns ledger lines and an optional coupon into a quote.
//
// All amounts are int64 minor currency units. The client-side quote is
// advisory; Settle produces the authoritative amounts the registrar charges.
package pricing

import (
	"time"

	"github.com/Elizabethomito/racereg/backend/internal/ledger"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

// Quote is the displayed price breakdown.
type Quote struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// Subtotal sums the lines. A relay line is one fixed team fee regardless of
// its count; every other line is count × price.
func Subtotal(lines []ledger.Line) int64 {
	var subtotal int64
	for _, ln := range lines {
		if ln.Count <= 0 {
			continue
		}
		if ln.Category.IsRelay {
			subtotal += ln.Category.Price
			continue
		}
		subtotal += int64(ln.Count) * ln.Category.Price
	}
	return subtotal
}

// Discount computes what coupon takes off subtotal. A percentage coupon
// floors subtotal × pct / 100; a fixed coupon is capped at subtotal.
func Discount(subtotal int64, coupon *models.Coupon) int64 {
	if coupon == nil || subtotal <= 0 {
		return 0
	}
	if coupon.Percentage > 0 {
		pct := int64(coupon.Percentage)
		if pct > 100 {
			pct = 100
		}
		return subtotal * pct / 100
	}
	if coupon.FixedAmount > 0 {
		return min(coupon.FixedAmount, subtotal)
	}
	return 0
}

// Calculate prices lines with an optional coupon.
func Calculate(lines []ledger.Line, coupon *models.Coupon) Quote {
	subtotal := Subtotal(lines)
	discount := Discount(subtotal, coupon)
	return Quote{
		Subtotal: subtotal,
		Discount: discount,
		Total:    subtotal - discount,
	}
}

// Usable reports whether coupon may be applied at now: it must be active and
// not past its expiry.
func Usable(coupon *models.Coupon, now time.Time) bool {
	if coupon == nil || !coupon.Active {
		return false
	}
	if !coupon.ExpiresAt.IsZero() && !now.Before(coupon.ExpiresAt) {
		return false
	}
	return true
}

// FeeSchedule holds the server-side surcharges in basis points.
type FeeSchedule struct {
	// PlatformFeeBP is charged on the discounted total.
	PlatformFeeBP int64
	// GSTBP is tax charged on the platform fee.
	GSTBP int64
}

// Settlement is the authoritative breakdown returned to the client.
type Settlement struct {
	Quote
	PlatformFee int64 `json:"platform_fee"`
	GST         int64 `json:"gst"`
	Payable     int64 `json:"payable_amount"`
}

// Settle adds the platform fee and tax to q.
func Settle(q Quote, fees FeeSchedule) Settlement {
	fee := q.Total * fees.PlatformFeeBP / 10000
	gst := fee * fees.GSTBP / 10000
	return Settlement{
		Quote:       q,
		PlatformFee: fee,
		GST:         gst,
		Payable:     q.Total + fee + gst,
	}
}
