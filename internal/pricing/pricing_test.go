package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailcraft/backend/internal/domain"
)

func TestResolveDiscountHonoursWindowAndActiveFlag(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	cases := []struct {
		name   string
		rule   *domain.Discount
		usable bool
	}{
		{"nil", nil, false},
		{"inactive", &domain.Discount{Type: domain.DiscountTypeFixed, AmountCents: 100}, false},
		{"open window", &domain.Discount{Type: domain.DiscountTypeFixed, AmountCents: 100, Active: true}, true},
		{"inside window", &domain.Discount{Type: domain.DiscountTypeFixed, Active: true, StartsAt: &yesterday, EndsAt: &tomorrow}, true},
		{"not started", &domain.Discount{Type: domain.DiscountTypeFixed, Active: true, StartsAt: &tomorrow}, false},
		{"expired", &domain.Discount{Type: domain.DiscountTypeFixed, Active: true, EndsAt: &yesterday}, false},
		{"ends exactly now", &domain.Discount{Type: domain.DiscountTypeFixed, Active: true, EndsAt: &now}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := ResolveDiscount(tc.rule, now)
			assert.Equal(t, tc.usable, ok)
		})
	}
}

func TestResolveDiscountIsStableWithinWindow(t *testing.T) {
	now := time.Now().UTC()
	rule := &domain.Discount{
		ID:           "disc-1",
		Type:         "percentage",
		Percent:      15,
		TargetType:   "category",
		TargetValues: []string{"Dairy"},
		Active:       true,
	}

	first, ok := ResolveDiscount(rule, now)
	require.True(t, ok)
	second, ok := ResolveDiscount(rule, now.Add(time.Minute))
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.DiscountTypePercentage, first.Type)
	assert.Equal(t, domain.DiscountTargetCategory, first.TargetType)
}

func TestEligibility(t *testing.T) {
	milk := domain.Product{ID: "p-milk", Category: "Dairy"}
	bread := domain.Product{ID: "p-bread", Category: "Bakery"}

	all := ManualDescriptor(domain.ManualDiscount{Type: domain.DiscountTypeFixed, AmountCents: 100})
	assert.True(t, Eligible(&all, milk))
	assert.True(t, Eligible(&all, bread))

	byProduct := domain.DiscountDescriptor{TargetType: domain.DiscountTargetProduct, TargetValues: []string{"p-bread"}}
	assert.False(t, Eligible(&byProduct, milk))
	assert.True(t, Eligible(&byProduct, bread))

	byCategory := domain.DiscountDescriptor{TargetType: domain.DiscountTargetCategory, TargetValues: []string{"dairy"}}
	assert.True(t, Eligible(&byCategory, milk))
	assert.False(t, Eligible(&byCategory, bread))

	assert.False(t, Eligible(nil, milk))
}

func TestDiscountAmount(t *testing.T) {
	percent := domain.DiscountDescriptor{Type: domain.DiscountTypePercentage, Percent: 10}
	assert.Equal(t, int64(1000), DiscountAmount(&percent, 10000))

	fixed := domain.DiscountDescriptor{Type: domain.DiscountTypeFixed, AmountCents: 5000}
	assert.Equal(t, int64(5000), DiscountAmount(&fixed, 10000))
	assert.Equal(t, int64(3000), DiscountAmount(&fixed, 3000), "fixed discount is capped by the eligible subtotal")

	assert.Equal(t, int64(0), DiscountAmount(nil, 10000))
	assert.Equal(t, int64(0), DiscountAmount(&percent, 0))
}

func TestClampDiscount(t *testing.T) {
	assert.Equal(t, int64(2000), ClampDiscount(2500, 2000))
	assert.Equal(t, int64(500), ClampDiscount(500, 2000))
	assert.Equal(t, int64(0), ClampDiscount(-10, 2000))
}

func TestLinesAccumulateEligibleSubtotal(t *testing.T) {
	desc := domain.DiscountDescriptor{Type: domain.DiscountTypePercentage, Percent: 50, TargetType: domain.DiscountTargetProduct, TargetValues: []string{"p1"}}

	var lines Lines
	lines.AddLine(domain.Product{ID: "p1", PriceCents: 1000}, 2, &desc)
	lines.AddLine(domain.Product{ID: "p2", PriceCents: 250}, 4, &desc)

	assert.Equal(t, int64(3000), lines.SubtotalCents)
	assert.Equal(t, int64(2000), lines.EligibleSubtotalCents)
	assert.Equal(t, int64(1000), DiscountAmount(&desc, lines.EligibleSubtotalCents))
	require.Len(t, lines.Items, 2)
	assert.False(t, lines.Items[1].Eligible)
}

func TestTaxOnDiscountedSubtotal(t *testing.T) {
	subtotal := int64(10000)
	discount := DiscountAmount(&domain.DiscountDescriptor{Type: domain.DiscountTypePercentage, Percent: 10}, subtotal)
	taxable := subtotal - discount
	tax := Tax(taxable, TotalTaxRate([]domain.Tax{{Rate: 0.075, Active: true}}))

	assert.Equal(t, int64(1000), discount)
	assert.Equal(t, int64(675), tax)
	assert.Equal(t, int64(9675), taxable+tax)
}

func TestTotalTaxRateSumsActiveRatesOnly(t *testing.T) {
	rate := TotalTaxRate([]domain.Tax{
		{Rate: 0.05, Active: true},
		{Rate: 0.025, Active: true},
		{Rate: 0.2, Active: false},
	})
	assert.InDelta(t, 0.075, rate, 1e-9)
	assert.Equal(t, int64(75), Tax(1000, rate))
}

func TestLoyaltyConversions(t *testing.T) {
	assert.Equal(t, int64(2000), RedeemValueCents(200, 0.10))
	assert.Equal(t, int64(0), RedeemValueCents(0, 0.10))

	assert.Equal(t, int64(90), AccruePoints(9000, 1))
	assert.Equal(t, int64(4), AccruePoints(999, 0.5), "accrual floors partial points")
	assert.Equal(t, int64(0), AccruePoints(9000, 0))
}
