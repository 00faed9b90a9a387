package pricing

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Elizabethomito/racereg/backend/internal/ledger"
	"github.com/Elizabethomito/racereg/backend/internal/models"
)

func line(price int64, count int, relay bool) ledger.Line {
	return ledger.Line{Category: models.Category{Price: price, IsRelay: relay, TeamLimit: 4}, Count: count}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name   string
		lines  []ledger.Line
		coupon *models.Coupon
		want   Quote
	}{
		{
			name:  "group subtotal",
			lines: []ledger.Line{line(500, 2, false), line(300, 1, false)},
			want:  Quote{Subtotal: 1300, Discount: 0, Total: 1300},
		},
		{
			name:   "percentage coupon",
			lines:  []ledger.Line{line(500, 2, false), line(300, 1, false)},
			coupon: &models.Coupon{Code: "TEN", Percentage: 10, Active: true},
			want:   Quote{Subtotal: 1300, Discount: 130, Total: 1170},
		},
		{
			name:   "fixed coupon capped at subtotal",
			lines:  []ledger.Line{line(150, 1, false)},
			coupon: &models.Coupon{Code: "FLAT200", FixedAmount: 200, Active: true},
			want:   Quote{Subtotal: 150, Discount: 150, Total: 0},
		},
		{
			name:   "percentage wins over fixed",
			lines:  []ledger.Line{line(1000, 1, false)},
			coupon: &models.Coupon{Percentage: 25, FixedAmount: 900, Active: true},
			want:   Quote{Subtotal: 1000, Discount: 250, Total: 750},
		},
		{
			name:   "percentage floors",
			lines:  []ledger.Line{line(333, 1, false)},
			coupon: &models.Coupon{Percentage: 15, Active: true},
			want:   Quote{Subtotal: 333, Discount: 49, Total: 284},
		},
		{
			name:   "percentage above 100 clamps",
			lines:  []ledger.Line{line(400, 1, false)},
			coupon: &models.Coupon{Percentage: 150, Active: true},
			want:   Quote{Subtotal: 400, Discount: 400, Total: 0},
		},
		{
			name:  "relay is one team fee",
			lines: []ledger.Line{line(2000, 4, true)},
			want:  Quote{Subtotal: 2000, Discount: 0, Total: 2000},
		},
		{
			name: "empty",
			want: Quote{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.lines, tt.coupon)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("quote (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiscountNeverExceedsSubtotal(t *testing.T) {
	coupons := []*models.Coupon{
		nil,
		{Percentage: 1},
		{Percentage: 99},
		{Percentage: 100},
		{FixedAmount: 1},
		{FixedAmount: 5000},
	}
	for subtotal := int64(0); subtotal <= 3000; subtotal += 37 {
		for _, c := range coupons {
			q := Calculate([]ledger.Line{line(subtotal, 1, false)}, c)
			if q.Discount > q.Subtotal || q.Total < 0 || q.Total != q.Subtotal-q.Discount {
				t.Fatalf("subtotal %d coupon %+v: %+v", subtotal, c, q)
			}
		}
	}
}

func TestCalculateFromLedger(t *testing.T) {
	cats := []models.Category{
		{Name: "A", Price: 500},
		{Name: "B", Price: 300},
	}
	l := ledger.New(cats, ledger.Group)
	for _, i := range []int{0, 0, 1} {
		if _, err := l.Increment(i); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	if got := Calculate(l.Lines(), nil).Subtotal; got != 1300 {
		t.Fatalf("subtotal: got %d, want 1300", got)
	}
}

func TestUsable(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		coupon *models.Coupon
		want   bool
	}{
		{"nil", nil, false},
		{"inactive", &models.Coupon{Active: false}, false},
		{"no expiry", &models.Coupon{Active: true}, true},
		{"future expiry", &models.Coupon{Active: true, EarlyBird: true, ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", &models.Coupon{Active: true, EarlyBird: true, ExpiresAt: now.Add(-time.Second)}, false},
		{"expires now", &models.Coupon{Active: true, ExpiresAt: now}, false},
	}
	for _, tt := range tests {
		if got := Usable(tt.coupon, now); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSettle(t *testing.T) {
	got := Settle(Quote{Subtotal: 1300, Discount: 130, Total: 1170}, FeeSchedule{PlatformFeeBP: 500, GSTBP: 1800})
	want := Settlement{
		Quote:       Quote{Subtotal: 1300, Discount: 130, Total: 1170},
		PlatformFee: 58,
		GST:         10,
		Payable:     1238,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settlement (-want +got):\n%s", diff)
	}
}
