package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/repositories"
)

var (
	// ErrOrderForbidden indicates the operator lacks the admin role.
	ErrOrderForbidden = errors.New("order: operator is not permitted")
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderInvalidStatus indicates the requested status is not recognised.
	ErrOrderInvalidStatus = errors.New("order: invalid status")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates the order store cannot be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
	// ErrOrderExportFormat indicates an unsupported export encoding.
	ErrOrderExportFormat = errors.New("order: unsupported export format")
)

const statusFilterAll = "all"

// OrderAdminServiceDeps bundles collaborators required to construct the admin service.
type OrderAdminServiceDeps struct {
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderAdminService struct {
	orders repositories.OrderRepository
	events OrderEventPublisher
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderAdminService = (*orderAdminService)(nil)

// NewOrderAdminService constructs the operator-facing order service.
func NewOrderAdminService(deps OrderAdminServiceDeps) (OrderAdminService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order admin service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderAdminService{
		orders: deps.Orders,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderAdminService) List(ctx context.Context, op Operator, filter OrderFilter) ([]Order, error) {
	if err := requireAdmin(op); err != nil {
		return nil, err
	}
	status, err := parseStatusFilter(filter.Status)
	if err != nil {
		return nil, err
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{Status: status})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// Get resolves a full order id first and falls back to the case-insensitive short suffix.
// When several orders share a suffix the newest one is returned.
func (s *orderAdminService) Get(ctx context.Context, op Operator, identifier string) (Order, error) {
	if err := requireAdmin(op); err != nil {
		return Order{}, err
	}
	identifier = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(identifier), "#"))
	if identifier == "" {
		return Order{}, fmt.Errorf("%w: identifier is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, identifier)
	if err == nil {
		return order, nil
	}
	if !isRepoNotFound(err) {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(identifier) > domain.IDSuffixLength {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, identifier)
	}

	order, err = s.orders.FindBySuffix(ctx, identifier)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// UpdateStatus applies any recognised status regardless of the current one. TrackingID is
// written only when supplied, so status corrections keep an existing tracking number.
func (s *orderAdminService) UpdateStatus(ctx context.Context, op Operator, cmd UpdateOrderStatusCommand) (Order, error) {
	if err := requireAdmin(op); err != nil {
		return Order{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	patch := repositories.OrderPatch{UpdatedAt: s.now()}
	if raw := strings.TrimSpace(cmd.Status); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return Order{}, fmt.Errorf("%w: %q", ErrOrderInvalidStatus, cmd.Status)
		}
		patch.Status = &status
	}
	if cmd.TrackingID != nil {
		tracking := sanitizeCustomerText(*cmd.TrackingID)
		patch.TrackingID = &tracking
	}
	if patch.Status == nil && patch.TrackingID == nil {
		return Order{}, fmt.Errorf("%w: status or tracking id is required", ErrOrderInvalidInput)
	}

	before, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	updated, err := s.orders.Update(ctx, orderID, patch)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "orders.status.updated", map[string]any{
		"orderId":    orderID,
		"actor":      op.UID,
		"from":       string(before.Status),
		"to":         string(updated.Status),
		"trackingId": updated.TrackingID,
	})
	publishOrderEvents(ctx, s.events, s.logger, []OrderEvent{{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		CheckoutRef:    updated.CheckoutRef,
		PreviousStatus: before.Status,
		CurrentStatus:  updated.Status,
		ActorID:        op.UID,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       trackingMetadata(updated.TrackingID),
	}})
	return updated, nil
}

func (s *orderAdminService) Delete(ctx context.Context, op Operator, orderID string) error {
	if err := requireAdmin(op); err != nil {
		return err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "orders.deleted", map[string]any{
		"orderId": orderID,
		"actor":   op.UID,
	})
	publishOrderEvents(ctx, s.events, s.logger, []OrderEvent{{
		Type:       OrderEventDeleted,
		OrderID:    orderID,
		ActorID:    op.UID,
		OccurredAt: s.now(),
	}})
	return nil
}

func (s *orderAdminService) Export(ctx context.Context, op Operator, cmd ExportOrdersCommand) (OrderExport, error) {
	format, ok := ParseExportFormat(string(cmd.Format))
	if !ok {
		return OrderExport{}, fmt.Errorf("%w: %q", ErrOrderExportFormat, cmd.Format)
	}
	orders, err := s.List(ctx, op, cmd.Filter)
	if err != nil {
		return OrderExport{}, err
	}
	export, err := encodeExport(format, orders, s.now())
	if err != nil {
		return OrderExport{}, err
	}
	s.logger(ctx, "orders.exported", map[string]any{
		"actor":  op.UID,
		"format": string(format),
		"count":  export.Count,
	})
	return export, nil
}

func (s *orderAdminService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func requireAdmin(op Operator) error {
	if !op.IsAdmin() {
		return ErrOrderForbidden
	}
	return nil
}

func parseStatusFilter(raw string) (domain.OrderStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, statusFilterAll) {
		return "", nil
	}
	status, ok := domain.ParseOrderStatus(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrOrderInvalidStatus, raw)
	}
	return status, nil
}

func trackingMetadata(trackingID string) map[string]any {
	if trackingID == "" {
		return nil
	}
	return map[string]any{"trackingId": trackingID}
}
