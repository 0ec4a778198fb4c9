package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/events"
	"tillbook/backend/internal/ledger"
	"tillbook/backend/internal/money"
	"tillbook/backend/internal/purchasing"
	"tillbook/backend/internal/session"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/validation"
	"tillbook/backend/internal/xid"
)

var (
	ErrForbidden        = errors.New("admin role required")
	ErrNoOpenShift      = errors.New("no open shift")
	ErrShiftAlreadyOpen = errors.New("a shift is already open on this terminal")
	ErrShiftClosed      = store.ErrShiftClosed
	ErrNotesRequired    = ledger.ErrNotesRequired
	// ErrInsufficientPayment means the tenders do not cover the total.
	ErrInsufficientPayment = money.ErrInsufficientPayment
	ErrInvalidPayment      = errors.New("invalid payment")
	ErrPurchaseLocked      = purchasing.ErrLocked
	// ErrReconciliationNeeded marks a write that succeeded while its paired
	// write failed. The returned data is still valid.
	ErrReconciliationNeeded = errors.New("reconciliation needed")
)

// ReconciliationError carries the event published for a half-applied write.
type ReconciliationError struct {
	Event domain.ReconciliationEvent
	Err   error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%s: %s %s/%s: %v", ErrReconciliationNeeded, e.Event.Kind, e.Event.EntityType, e.Event.EntityID, e.Err)
}

func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliationNeeded
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	events         events.Publisher
	defaultStoreID string
	now            func() time.Time
}

func New(repo store.Repository, publisher events.Publisher, defaultStoreID string) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if publisher == nil {
		publisher = events.NewLogPublisher()
	}

	return &Service{
		repo:           repo,
		events:         publisher,
		defaultStoreID: defaultStoreID,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// PendingReconciliations lists events still waiting for an operator, when
// the configured publisher keeps them.
func (s *Service) PendingReconciliations(ctx context.Context, limit int64) ([]domain.ReconciliationEvent, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	reader, ok := s.events.(events.Reader)
	if !ok {
		return []domain.ReconciliationEvent{}, nil
	}
	if limit < 1 {
		limit = 100
	}
	pending, err := reader.Pending(ctx, limit)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []domain.ReconciliationEvent{}
	}
	return pending, nil
}

func scope(sess *session.Session) (string, error) {
	if sess == nil || !sess.Active() {
		return "", session.ErrClosed
	}
	return sess.StoreID(), nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

func validate(req any) error {
	if err := validation.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
	}
	return nil
}

// reconcile publishes a reconciliation event and returns the error the
// caller hands back next to its result.
func (s *Service) reconcile(ctx context.Context, kind string, storeID string, entityType string, entityID string, detail string, cause error) error {
	event := domain.ReconciliationEvent{
		ID:         xid.New("recon"),
		Kind:       kind,
		StoreID:    storeID,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		Cause:      cause.Error(),
		CreatedAt:  s.now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.Error().Str("component", "service").Err(err).Str("kind", kind).Str("entity_id", entityID).Msg("failed to publish reconciliation event")
	}
	return &ReconciliationError{Event: event, Err: cause}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Warn().Str("component", "audit").Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write audit log")
	}
}

func parseDay(date string, now time.Time) (time.Time, error) {
	if date == "" {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	return parsed.UTC(), nil
}
