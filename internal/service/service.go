package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"retailcraft/backend/internal/cache"
	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/events"
	"retailcraft/backend/internal/metrics"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	rates     *RateResolver
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	rateCache cache.RateCache
	rateTTL   time.Duration
}

type Option func(*Service)

func WithRateCache(c cache.RateCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.rateCache = c
		s.rateTTL = ttl
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now, mostly for discount window tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		publisher: events.NoopPublisher{},
		logger:    zap.NewNop(),
		now:       time.Now,
		rateCache: cache.NoopRateCache{},
		rateTTL:   time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rates = NewRateResolver(s.rateCache, s.rateTTL, s.logger)
	return s
}

func (s *Service) logAudit(ctx context.Context, tenantID string, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}

	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		TenantID:   tenantID,
		StoreID:    storeID,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateAuditLog(ctx, entry)
	})
	if err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// publishTimeout bounds how long a committed request waits on the broker.
const publishTimeout = 2 * time.Second

// publish sends an event for state that is already committed, so failures are only logged.
// The request's cancellation does not apply; the write gets its own short deadline.
func (s *Service) publish(ctx context.Context, key string, event any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) baseEvent(eventType string) domain.BaseEvent {
	return domain.BaseEvent{
		EventID:   xid.New("evt"),
		EventType: eventType,
		Timestamp: s.now().UTC(),
	}
}

// failureReason maps an error to a low-cardinality metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidTransaction):
		return "invalid_request"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrInvalidTillSession):
		return "invalid_till_session"
	case errors.Is(err, store.ErrStoreMismatch):
		return "store_mismatch"
	case errors.Is(err, store.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, store.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
