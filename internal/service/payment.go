package service

import (
	"fmt"
	"strings"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/xid"
)

// paymentToleranceCents is how far the tendered total may fall short of the sale total.
const paymentToleranceCents = 1

type tender struct {
	Payments    []domain.Payment
	Method      string
	PaidCents   int64
	ChangeCents int64
}

// normalizePayments upper-cases methods and checks amounts. Without an explicit
// payment list the legacy single method is kept, defaulting to CASH.
func normalizePayments(reqs []domain.PaymentRequest, legacyMethod string) ([]domain.PaymentRequest, string, error) {
	if len(reqs) == 0 {
		method := strings.ToUpper(strings.TrimSpace(legacyMethod))
		if method == "" {
			method = domain.PaymentMethodCash
		}
		if !isTenderMethod(method) {
			return nil, "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, legacyMethod)
		}
		return nil, method, nil
	}

	normalized := make([]domain.PaymentRequest, 0, len(reqs))
	for _, p := range reqs {
		method := strings.ToUpper(strings.TrimSpace(p.Method))
		if !isTenderMethod(method) {
			return nil, "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, p.Method)
		}
		if p.AmountCents < 1 {
			return nil, "", fmt.Errorf("%w: payment amounts must be positive", store.ErrInvalidTransaction)
		}
		normalized = append(normalized, domain.PaymentRequest{
			Method:      method,
			AmountCents: p.AmountCents,
			Reference:   strings.TrimSpace(p.Reference),
		})
	}
	return normalized, "", nil
}

// reconcilePayments turns the tendered payments into payment rows for saleID.
// A legacy request is settled as one payment of exactly the total.
func reconcilePayments(saleID string, reqs []domain.PaymentRequest, legacyMethod string, totalCents int64) (tender, error) {
	if len(reqs) == 0 {
		method := legacyMethod
		if method == "" {
			method = domain.PaymentMethodCash
		}
		reqs = []domain.PaymentRequest{{Method: method, AmountCents: totalCents}}
	}

	var paid int64
	payments := make([]domain.Payment, 0, len(reqs))
	for _, p := range reqs {
		paid += p.AmountCents
		payments = append(payments, domain.Payment{
			ID:          xid.New("pay"),
			SaleID:      saleID,
			Method:      p.Method,
			AmountCents: p.AmountCents,
			Reference:   p.Reference,
		})
	}

	if paid < totalCents-paymentToleranceCents {
		return tender{}, fmt.Errorf("%w: paid %d, total %d", store.ErrInsufficientPayment, paid, totalCents)
	}

	method := payments[0].Method
	if len(payments) > 1 {
		method = domain.PaymentMethodSplit
	}
	return tender{
		Payments:    payments,
		Method:      method,
		PaidCents:   paid,
		ChangeCents: max(0, paid-totalCents),
	}, nil
}

func isTenderMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodBankTransfer:
		return true
	default:
		return false
	}
}
