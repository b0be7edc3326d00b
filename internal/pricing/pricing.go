// Package pricing holds the arithmetic of a sale: discount resolution and
// eligibility, line totals, loyalty conversion and tax. Amounts are integer
// cents; rate multiplication goes through decimal and rounds half away from zero.
package pricing

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailcraft/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ResolveDiscount turns a stored rule into a descriptor. The second result is
// false when the rule is missing, inactive or outside its validity window; the
// sale then proceeds without a discount.
func ResolveDiscount(d *domain.Discount, now time.Time) (domain.DiscountDescriptor, bool) {
	if d == nil || !d.Active {
		return domain.DiscountDescriptor{}, false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return domain.DiscountDescriptor{}, false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return domain.DiscountDescriptor{}, false
	}

	target := strings.ToUpper(strings.TrimSpace(d.TargetType))
	if target == "" {
		target = domain.DiscountTargetAll
	}
	return domain.DiscountDescriptor{
		Type:         strings.ToUpper(d.Type),
		Percent:      d.Percent,
		AmountCents:  d.AmountCents,
		TargetType:   target,
		TargetValues: slices.Clone(d.TargetValues),
	}, true
}

// ManualDescriptor builds the descriptor of an ad-hoc discount, which always targets every line.
func ManualDescriptor(m domain.ManualDiscount) domain.DiscountDescriptor {
	return domain.DiscountDescriptor{
		Type:        strings.ToUpper(strings.TrimSpace(m.Type)),
		Percent:     m.Percent,
		AmountCents: m.AmountCents,
		TargetType:  domain.DiscountTargetAll,
	}
}

// Eligible reports whether a product's line counts toward the discounted subtotal.
func Eligible(desc *domain.DiscountDescriptor, product domain.Product) bool {
	if desc == nil {
		return false
	}
	switch desc.TargetType {
	case domain.DiscountTargetAll, "":
		return true
	case domain.DiscountTargetProduct:
		return slices.Contains(desc.TargetValues, product.ID)
	case domain.DiscountTargetCategory:
		for _, category := range desc.TargetValues {
			if strings.EqualFold(strings.TrimSpace(category), strings.TrimSpace(product.Category)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Line is one priced cart line with its price and cost snapshot.
type Line struct {
	Product    domain.Product
	Qty        int
	TotalCents int64
	Eligible   bool
}

type Lines struct {
	Items                 []Line
	SubtotalCents         int64
	EligibleSubtotalCents int64
}

// AddLine prices qty units of product and accumulates the subtotals.
func (l *Lines) AddLine(product domain.Product, qty int, desc *domain.DiscountDescriptor) Line {
	line := Line{
		Product:    product,
		Qty:        qty,
		TotalCents: product.PriceCents * int64(qty),
		Eligible:   Eligible(desc, product),
	}
	l.Items = append(l.Items, line)
	l.SubtotalCents += line.TotalCents
	if line.Eligible {
		l.EligibleSubtotalCents += line.TotalCents
	}
	return line
}

// DiscountAmount is the rule's value against the eligible subtotal, before loyalty and clamping.
func DiscountAmount(desc *domain.DiscountDescriptor, eligibleSubtotalCents int64) int64 {
	if desc == nil || eligibleSubtotalCents <= 0 {
		return 0
	}
	switch desc.Type {
	case domain.DiscountTypePercentage:
		return ApplyPercent(eligibleSubtotalCents, desc.Percent)
	case domain.DiscountTypeFixed:
		return min(max(desc.AmountCents, 0), eligibleSubtotalCents)
	default:
		return 0
	}
}

// ClampDiscount keeps the discount between zero and the subtotal.
func ClampDiscount(discountCents int64, subtotalCents int64) int64 {
	return max(0, min(discountCents, subtotalCents))
}

func ApplyPercent(cents int64, percent float64) int64 {
	return decimal.NewFromInt(cents).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred).
		Round(0).
		IntPart()
}

// ApplyRate multiplies cents by a fractional rate such as 0.075.
func ApplyRate(cents int64, rate float64) int64 {
	return decimal.NewFromInt(cents).
		Mul(decimal.NewFromFloat(rate)).
		Round(0).
		IntPart()
}

// RedeemValueCents converts points to money, where redeemRate is currency units per point.
func RedeemValueCents(points int64, redeemRate float64) int64 {
	if points <= 0 || redeemRate <= 0 {
		return 0
	}
	return decimal.NewFromInt(points).
		Mul(decimal.NewFromFloat(redeemRate)).
		Mul(hundred).
		Round(0).
		IntPart()
}

// AccruePoints is floor(taxable × earnRate), where earnRate is points per currency unit.
func AccruePoints(taxableCents int64, earnRate float64) int64 {
	if taxableCents <= 0 || earnRate <= 0 {
		return 0
	}
	return decimal.NewFromInt(taxableCents).
		Div(hundred).
		Mul(decimal.NewFromFloat(earnRate)).
		Floor().
		IntPart()
}

// TotalTaxRate sums the active rates. Rates are not compounded.
func TotalTaxRate(taxes []domain.Tax) float64 {
	total := decimal.Zero
	for _, tax := range taxes {
		if !tax.Active {
			continue
		}
		total = total.Add(decimal.NewFromFloat(tax.Rate))
	}
	rate, _ := total.Float64()
	return rate
}

func Tax(taxableCents int64, totalTaxRate float64) int64 {
	if taxableCents <= 0 || totalTaxRate <= 0 {
		return 0
	}
	return ApplyRate(taxableCents, totalTaxRate)
}
