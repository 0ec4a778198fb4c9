// Package events delivers reconciliation-needed notices: a write that
// succeeded while its paired write failed, leaving money and stock or cash
// records out of step until someone repairs them.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tillbook/backend/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.ReconciliationEvent) error
}

// Reader lists events that still wait for an operator.
type Reader interface {
	Pending(ctx context.Context, limit int64) ([]domain.ReconciliationEvent, error)
}

type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher() LogPublisher {
	return LogPublisher{logger: log.With().Str("component", "reconciliation").Logger()}
}

func (p LogPublisher) Publish(_ context.Context, event domain.ReconciliationEvent) error {
	p.logger.Error().
		Str("event_id", event.ID).
		Str("kind", event.Kind).
		Str("store_id", event.StoreID).
		Str("entity_type", event.EntityType).
		Str("entity_id", event.EntityID).
		Str("cause", event.Cause).
		Msg(event.Detail)
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event domain.ReconciliationEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending reads from the first member that keeps events.
func (f Fanout) Pending(ctx context.Context, limit int64) ([]domain.ReconciliationEvent, error) {
	for _, p := range f {
		if r, ok := p.(Reader); ok {
			return r.Pending(ctx, limit)
		}
	}
	return nil, nil
}

// MemoryPublisher keeps events in process; used in development and tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.ReconciliationEvent
}

func (p *MemoryPublisher) Publish(_ context.Context, event domain.ReconciliationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Events() []domain.ReconciliationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ReconciliationEvent(nil), p.events...)
}

func (p *MemoryPublisher) Pending(_ context.Context, limit int64) ([]domain.ReconciliationEvent, error) {
	events := p.Events()
	if limit > 0 && int64(len(events)) > limit {
		events = events[:limit]
	}
	return events, nil
}
