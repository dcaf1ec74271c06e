package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printhaus/api/internal/platform/auth"
	"github.com/printhaus/api/internal/platform/httpx"
	"github.com/printhaus/api/internal/services"
)

const maxAdminOrderBody = 4 * 1024

// AdminOrderHandlers exposes operator order management. The admin group is expected to be
// guarded by Firebase authentication; the service enforces the admin role again.
type AdminOrderHandlers struct {
	orders services.OrderAdminService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(orders services.OrderAdminService) *AdminOrderHandlers {
	return &AdminOrderHandlers{orders: orders}
}

// Routes registers admin order endpoints under the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders:export", h.exportOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Patch("/orders/{orderID}", h.updateOrder)
	r.Delete("/orders/{orderID}", h.deleteOrder)
}

type adminOrderCustomerPayload struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
	PaymentMethod string `json:"paymentMethod"`
}

type adminOrderPrintPayload struct {
	Type       string `json:"type"`
	Size       string `json:"size"`
	FrameColor string `json:"frameColor,omitempty"`
	Quantity   int    `json:"quantity"`
	Price      string `json:"price"`
	ImageURL   string `json:"imageUrl"`
}

type adminOrderPayload struct {
	ID               string                    `json:"id"`
	ShortID          string                    `json:"shortId"`
	CheckoutRef      string                    `json:"checkoutRef,omitempty"`
	Status           string                    `json:"status"`
	TrackingID       string                    `json:"trackingId,omitempty"`
	PaymentSessionID string                    `json:"paymentSessionId,omitempty"`
	Currency         string                    `json:"currency"`
	Customer         adminOrderCustomerPayload `json:"customer"`
	Print            adminOrderPrintPayload    `json:"print"`
	CreatedAt        string                    `json:"createdAt"`
	UpdatedAt        string                    `json:"updatedAt,omitempty"`
}

type adminOrderListResponse struct {
	Orders []adminOrderPayload `json:"orders"`
	Count  int                 `json:"count"`
}

// updateOrderRequest leaves trackingId untouched when the field is absent or null.
type updateOrderRequest struct {
	Status     string  `json:"status"`
	TrackingID *string `json:"trackingId"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := h.operator(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.List(ctx, op, services.OrderFilter{Status: r.URL.Query().Get("status")})
	if err != nil {
		writeAdminOrderError(ctx, w, err)
		return
	}
	resp := adminOrderListResponse{Orders: make([]adminOrderPayload, 0, len(orders)), Count: len(orders)}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, newAdminOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := h.operator(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Get(ctx, op, chi.URLParam(r, "orderID"))
	if err != nil {
		writeAdminOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAdminOrderPayload(order))
}

func (h *AdminOrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := h.operator(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminOrderBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	var req updateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Status) == "" && req.TrackingID == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status or trackingId is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, op, services.UpdateOrderStatusCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		Status:     req.Status,
		TrackingID: req.TrackingID,
	})
	if err != nil {
		writeAdminOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAdminOrderPayload(order))
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := h.operator(w, r)
	if !ok {
		return
	}
	if err := h.orders.Delete(ctx, op, chi.URLParam(r, "orderID")); err != nil {
		writeAdminOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminOrderHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, ok := h.operator(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	rawFormat := query.Get("format")
	if strings.TrimSpace(rawFormat) == "" {
		rawFormat = string(services.ExportFormatCSV)
	}
	format, ok := services.ParseExportFormat(rawFormat)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_export_format", "format must be csv, json or xlsx", http.StatusBadRequest))
		return
	}

	export, err := h.orders.Export(ctx, op, services.ExportOrdersCommand{
		Format: format,
		Filter: services.OrderFilter{Status: query.Get("status")},
	})
	if err != nil {
		writeAdminOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.Header().Set("X-Order-Count", strconv.Itoa(export.Count))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

func (h *AdminOrderHandlers) operator(w http.ResponseWriter, r *http.Request) (services.Operator, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.Operator{}, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Operator{}, false
	}
	return services.Operator{
		UID:   identity.UID,
		Email: identity.Email,
		Roles: append([]string(nil), identity.Roles...),
	}, true
}

func newAdminOrderPayload(order services.Order) adminOrderPayload {
	return adminOrderPayload{
		ID:               order.ID,
		ShortID:          order.ShortID(),
		CheckoutRef:      order.CheckoutRef,
		Status:           string(order.Status),
		TrackingID:       order.TrackingID,
		PaymentSessionID: order.PaymentSessionID,
		Currency:         order.Currency,
		Customer: adminOrderCustomerPayload{
			Name:          order.Customer.Name,
			Email:         order.Customer.Email,
			Phone:         order.Customer.Phone,
			Address:       order.Customer.Address,
			City:          order.Customer.City,
			PostalCode:    order.Customer.PostalCode,
			PaymentMethod: string(order.Customer.PaymentMethod),
		},
		Print: adminOrderPrintPayload{
			Type:       string(order.Print.Type),
			Size:       order.Print.Size,
			FrameColor: string(order.Print.FrameColor),
			Quantity:   order.Print.Quantity,
			Price:      formatAmount(order.Print.Price),
			ImageURL:   order.Print.ImageURL,
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
}

func writeAdminOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operator is not permitted to manage orders", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderExportFormat):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_export_format", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
