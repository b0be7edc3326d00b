package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/telemetry"
	"retailcraft/backend/internal/xid"
)

func (s *Service) CreateTill(ctx context.Context, req domain.CreateTillRequest) (domain.Till, error) {
	req.StoreID = strings.TrimSpace(req.StoreID)
	req.Name = strings.TrimSpace(req.Name)
	if req.TenantID == "" || req.StoreID == "" || req.Name == "" {
		return domain.Till{}, fmt.Errorf("%w: tenant, store_id and name are required", store.ErrInvalidTransaction)
	}

	till := domain.Till{
		ID:       xid.New("till"),
		TenantID: req.TenantID,
		StoreID:  req.StoreID,
		Name:     req.Name,
		Status:   domain.TillStatusClosed,
	}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateTill(ctx, till)
	})
	if err != nil {
		return domain.Till{}, err
	}

	s.logAudit(ctx, till.TenantID, till.StoreID, "till_created", "till", till.ID, till.Name)
	return till, nil
}

// OpenTillSession starts a cash-drawer session. A till holds at most one open
// session, and a user at most one per store; the store enforces both as well.
func (s *Service) OpenTillSession(ctx context.Context, req domain.OpenTillSessionRequest) (domain.TillSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.OpenTillSession")
	defer span.End()

	req.TillID = strings.TrimSpace(req.TillID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.TillID == "" || req.UserID == "" {
		return domain.TillSession{}, fmt.Errorf("%w: till_id and user are required", store.ErrInvalidTransaction)
	}
	if req.OpeningFloatCents < 0 {
		return domain.TillSession{}, fmt.Errorf("%w: opening float must not be negative", store.ErrInvalidTransaction)
	}

	var (
		session domain.TillSession
		till    *domain.Till
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		till, err = loadTill(ctx, tx, req.TenantID, req.TillID)
		if err != nil {
			return err
		}

		if _, err := tx.FindOpenSessionByTill(ctx, till.ID); err == nil {
			return fmt.Errorf("%w: %s", store.ErrTillAlreadyOpen, till.Name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := tx.FindOpenSessionByUser(ctx, req.UserID, till.StoreID); err == nil {
			return store.ErrUserAlreadySessionOpen
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		session = domain.TillSession{
			ID:                xid.New("sess"),
			TillID:            till.ID,
			StoreID:           till.StoreID,
			UserID:            req.UserID,
			OpeningFloatCents: req.OpeningFloatCents,
			Status:            domain.SessionStatusOpen,
			OpenedAt:          s.now().UTC(),
		}
		if err := tx.CreateTillSession(ctx, session); err != nil {
			return err
		}
		return tx.SetTillStatus(ctx, till.ID, domain.TillStatusOpen)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.TillSession{}, err
	}
	span.SetAttributes(attribute.String("till_session.id", session.ID))

	s.metrics.SessionOpened()
	s.logger.Info("till session opened",
		zap.String("session_id", session.ID),
		zap.String("till_id", session.TillID),
		zap.String("store_id", session.StoreID),
		zap.String("user_id", session.UserID),
	)
	s.logAudit(ctx, till.TenantID, session.StoreID, "till_session_open", "till_session", session.ID,
		fmt.Sprintf("till=%s,opening_float=%d", session.TillID, session.OpeningFloatCents))
	s.publish(ctx, session.TillID, domain.TillSessionOpenedEvent{
		BaseEvent:         s.baseEvent(domain.EventTypeTillSessionOpened),
		SessionID:         session.ID,
		TillID:            session.TillID,
		StoreID:           session.StoreID,
		UserID:            session.UserID,
		OpeningFloatCents: session.OpeningFloatCents,
	})
	return session, nil
}

// CloseTillSession freezes the expected cash and variance of an open session and
// releases its till.
func (s *Service) CloseTillSession(ctx context.Context, req domain.CloseTillSessionRequest) (domain.TillSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.CloseTillSession")
	defer span.End()

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return domain.TillSession{}, fmt.Errorf("%w: session id is required", store.ErrInvalidTransaction)
	}
	if req.ClosingCashCents < 0 {
		return domain.TillSession{}, fmt.Errorf("%w: closing cash must not be negative", store.ErrInvalidTransaction)
	}

	var (
		session  *domain.TillSession
		tenantID string
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		session, err = tx.GetTillSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		till, err := loadTill(ctx, tx, req.TenantID, session.TillID)
		if err != nil {
			return err
		}
		tenantID = till.TenantID
		if session.Status != domain.SessionStatusOpen {
			return fmt.Errorf("%w: session %s is %s", store.ErrInvalidTillSession, session.ID, session.Status)
		}

		figures, err := cashFigures(ctx, tx, *session)
		if err != nil {
			return err
		}

		closedAt := s.now().UTC()
		session.Status = domain.SessionStatusClosed
		session.ClosedAt = &closedAt
		session.ClosingCashCents = req.ClosingCashCents
		session.ExpectedCashCents = figures.ExpectedCashCents
		session.VarianceCents = req.ClosingCashCents - figures.ExpectedCashCents
		if err := tx.CloseTillSession(ctx, *session); err != nil {
			return err
		}
		return tx.SetTillStatus(ctx, session.TillID, domain.TillStatusClosed)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.TillSession{}, err
	}
	span.SetAttributes(attribute.Int64("till_session.variance_cents", session.VarianceCents))

	s.metrics.SessionClosed(session.VarianceCents)
	s.logger.Info("till session closed",
		zap.String("session_id", session.ID),
		zap.Int64("expected_cash_cents", session.ExpectedCashCents),
		zap.Int64("closing_cash_cents", session.ClosingCashCents),
		zap.Int64("variance_cents", session.VarianceCents),
	)
	s.logAudit(ctx, tenantID, session.StoreID, "till_session_close", "till_session", session.ID,
		fmt.Sprintf("expected=%d,closing=%d,variance=%d", session.ExpectedCashCents, session.ClosingCashCents, session.VarianceCents))
	s.publish(ctx, session.TillID, domain.TillSessionClosedEvent{
		BaseEvent:         s.baseEvent(domain.EventTypeTillSessionClosed),
		SessionID:         session.ID,
		TillID:            session.TillID,
		StoreID:           session.StoreID,
		ExpectedCashCents: session.ExpectedCashCents,
		ClosingCashCents:  session.ClosingCashCents,
		VarianceCents:     session.VarianceCents,
	})
	return *session, nil
}

// RecordCashTransaction logs cash put into or taken out of the drawer outside a sale.
func (s *Service) RecordCashTransaction(ctx context.Context, req domain.CashTransactionRequest) (domain.CashTransaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.RecordCashTransaction")
	defer span.End()

	req.TillSessionID = strings.TrimSpace(req.TillSessionID)
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.TillSessionID == "" || req.Reason == "" {
		return domain.CashTransaction{}, fmt.Errorf("%w: session and reason are required", store.ErrInvalidTransaction)
	}
	if req.Type != domain.CashIn && req.Type != domain.CashOut {
		return domain.CashTransaction{}, fmt.Errorf("%w: type must be CASH_IN or CASH_OUT", store.ErrInvalidTransaction)
	}
	if req.AmountCents <= 0 {
		return domain.CashTransaction{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}

	var (
		txn      domain.CashTransaction
		session  *domain.TillSession
		tenantID string
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		session, err = tx.GetTillSession(ctx, req.TillSessionID)
		if err != nil {
			return err
		}
		till, err := loadTill(ctx, tx, req.TenantID, session.TillID)
		if err != nil {
			return err
		}
		tenantID = till.TenantID
		if session.Status != domain.SessionStatusOpen {
			return fmt.Errorf("%w: session %s is %s", store.ErrInvalidTillSession, session.ID, session.Status)
		}

		txn = domain.CashTransaction{
			ID:            xid.New("cash"),
			TillSessionID: session.ID,
			UserID:        req.UserID,
			Type:          req.Type,
			AmountCents:   req.AmountCents,
			Reason:        req.Reason,
			CreatedAt:     s.now().UTC(),
		}
		return tx.CreateCashTransaction(ctx, txn)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.CashTransaction{}, err
	}

	s.logAudit(ctx, tenantID, session.StoreID, "cash_transaction", "till_session", session.ID,
		fmt.Sprintf("type=%s,amount=%d,reason=%s", txn.Type, txn.AmountCents, txn.Reason))
	s.publish(ctx, session.TillID, domain.CashTransactionRecordedEvent{
		BaseEvent:     s.baseEvent(domain.EventTypeCashTransactionRecorded),
		TransactionID: txn.ID,
		SessionID:     session.ID,
		Type:          txn.Type,
		AmountCents:   txn.AmountCents,
	})
	return txn, nil
}

// GetActiveSession returns the user's open session, or nil when there is none.
// Without a store id the most recently opened session in any store is returned.
func (s *Service) GetActiveSession(ctx context.Context, userID string, storeID string) (*domain.TillSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, store.ErrInvalidTransaction
	}

	var session *domain.TillSession
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		session, err = tx.FindOpenSessionByUser(ctx, userID, strings.TrimSpace(storeID))
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// TillSessionReport summarizes the cash position of a session. For an open session
// the expected cash is computed live; a closed session reports its frozen figures.
func (s *Service) TillSessionReport(ctx context.Context, tenantID string, sessionID string) (domain.TillSessionReport, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.TillSessionReport{}, store.ErrInvalidTransaction
	}

	var report domain.TillSessionReport
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		session, err := tx.GetTillSession(ctx, sessionID)
		if err != nil {
			return err
		}
		till, err := loadTill(ctx, tx, tenantID, session.TillID)
		if err != nil {
			return err
		}
		report, err = cashFigures(ctx, tx, *session)
		if err != nil {
			return err
		}
		report.TillName = till.Name
		return nil
	})
	if err != nil {
		return domain.TillSessionReport{}, err
	}

	if report.Session.Status == domain.SessionStatusClosed {
		report.ExpectedCashCents = report.Session.ExpectedCashCents
		counted := report.Session.ClosingCashCents
		variance := report.Session.VarianceCents
		report.CountedCashCents = &counted
		report.VarianceCents = &variance
	}
	return report, nil
}

// cashFigures computes expected cash as opening float + cash sales + cash in - cash out.
func cashFigures(ctx context.Context, tx store.Tx, session domain.TillSession) (domain.TillSessionReport, error) {
	summary, err := tx.SessionSalesSummary(ctx, session.ID)
	if err != nil {
		return domain.TillSessionReport{}, err
	}
	txns, err := tx.ListCashTransactions(ctx, session.ID)
	if err != nil {
		return domain.TillSessionReport{}, err
	}

	report := domain.TillSessionReport{
		Session:          session,
		SaleCount:        summary.SaleCount,
		SalesTotalCents:  summary.SalesTotalCents,
		PaymentsByMethod: summary.PaymentsByMethod,
		CashSalesCents:   summary.CashSalesCents(),
		CashTransactions: txns,
	}
	if report.PaymentsByMethod == nil {
		report.PaymentsByMethod = map[string]int64{}
	}
	for _, txn := range txns {
		switch txn.Type {
		case domain.CashIn:
			report.CashInCents += txn.AmountCents
		case domain.CashOut:
			report.CashOutCents += txn.AmountCents
		}
	}
	report.ExpectedCashCents = session.OpeningFloatCents + report.CashSalesCents + report.CashInCents - report.CashOutCents
	return report, nil
}

// validateSessionForSale runs inside the sale's unit of work, so a session closed
// concurrently is seen either fully open or fully closed.
func validateSessionForSale(ctx context.Context, tx store.Tills, sessionID string, storeID string) (*domain.TillSession, error) {
	session, err := tx.GetTillSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s not found", store.ErrInvalidTillSession, sessionID)
		}
		return nil, err
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, fmt.Errorf("%w: session %s is %s", store.ErrInvalidTillSession, sessionID, session.Status)
	}
	if session.StoreID != storeID {
		return nil, fmt.Errorf("%w: session store %s, sale store %s", store.ErrStoreMismatch, session.StoreID, storeID)
	}
	return session, nil
}

// loadTill hides tills of other tenants behind ErrNotFound. An empty tenantID skips the check.
func loadTill(ctx context.Context, tx store.Tills, tenantID string, tillID string) (*domain.Till, error) {
	till, err := tx.GetTill(ctx, tillID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: till %s", store.ErrNotFound, tillID)
		}
		return nil, err
	}
	if tenantID != "" && till.TenantID != tenantID {
		return nil, fmt.Errorf("%w: till %s", store.ErrNotFound, tillID)
	}
	return till, nil
}
