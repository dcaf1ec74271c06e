package services

import (
	"context"
	"errors"

	domain "github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/repositories"
)

// orderPlacer writes a checkout's orders as one unit.
type orderPlacer struct {
	orders repositories.OrderRepository
	uow    repositories.UnitOfWork
}

// place inserts every order in one transaction. When some ids already exist (an earlier
// attempt or a concurrent confirmation got there first) the remaining orders are
// inserted one by one and the existing ones count as placed.
func (p orderPlacer) place(ctx context.Context, orders []domain.Order) error {
	err := p.runInTx(ctx, func(ctx context.Context) error {
		for _, order := range orders {
			if err := p.orders.Insert(ctx, order); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil || !isRepoConflict(err) {
		return err
	}
	for _, order := range orders {
		if err := p.orders.Insert(ctx, order); err != nil && !isRepoConflict(err) {
			return err
		}
	}
	return nil
}

func (p orderPlacer) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.uow == nil {
		return fn(ctx)
	}
	return p.uow.RunInTx(ctx, fn)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

func orderIDs(orders []domain.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	return ids
}

// publishOrderEvents emits one event per order; failures are logged and never surfaced.
func publishOrderEvents(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), events []OrderEvent) {
	if publisher == nil {
		return
	}
	for _, event := range events {
		if err := publisher.PublishOrderEvent(ctx, event); err != nil {
			logger(ctx, "order.event.publish.failed", map[string]any{
				"type":   event.Type,
				"order":  event.OrderID,
				"status": string(event.CurrentStatus),
				"error":  err.Error(),
			})
		}
	}
}

func createdEvents(orders []domain.Order, actor string) []OrderEvent {
	events := make([]OrderEvent, 0, len(orders))
	for _, order := range orders {
		events = append(events, OrderEvent{
			Type:          OrderEventCreated,
			OrderID:       order.ID,
			CheckoutRef:   order.CheckoutRef,
			CurrentStatus: order.Status,
			ActorID:       actor,
			OccurredAt:    order.CreatedAt,
		})
	}
	return events
}
