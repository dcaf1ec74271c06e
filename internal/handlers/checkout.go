package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/printhaus/api/internal/cart"
	domain "github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/platform/httpx"
	"github.com/printhaus/api/internal/platform/observability"
	"github.com/printhaus/api/internal/platform/storage"
	"github.com/printhaus/api/internal/pricing"
	"github.com/printhaus/api/internal/services"
)

const (
	checkoutPartName        = "checkout"
	maxCheckoutJSONSize     = 64 * 1024
	maxRetryRequestBody     = 8 * 1024
	defaultMultipartMemory  = 8 << 20
	checkoutOutcomeOK       = "ok"
	confirmationStatusNoop  = "noop"
	confirmationStatusPaid  = "confirmed"
	confirmationStatusAbort = "cancelled"
)

// ImageOwner reports whether a previously returned image URL belongs to the image store.
type ImageOwner interface {
	Owns(url string) bool
}

// CheckoutHandlers exposes cart submission, hold retries and the payment return leg.
type CheckoutHandlers struct {
	checkout      services.CheckoutService
	confirmations services.PaymentConfirmationService
	prices        cart.PriceLookup
	images        ImageOwner
	metrics       *observability.CheckoutMetrics
	memory        int64
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutImageOwner accepts imageUrl references owned by the store on resubmission.
func WithCheckoutImageOwner(owner ImageOwner) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.images = owner
	}
}

// WithCheckoutMetrics records submissions and confirmations.
func WithCheckoutMetrics(metrics *observability.CheckoutMetrics) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.metrics = metrics
	}
}

// WithMultipartMemory caps the bytes of a multipart form kept in memory; larger parts
// spill to temporary files.
func WithMultipartMemory(bytes int64) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if bytes > 0 {
			h.memory = bytes
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers. prices prices the submitted lines.
func NewCheckoutHandlers(checkout services.CheckoutService, confirmations services.PaymentConfirmationService, prices cart.PriceLookup, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkout:      checkout,
		confirmations: confirmations,
		prices:        prices,
		memory:        defaultMultipartMemory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.submit)
	r.Post("/holds/{ref}:retry-session", h.retrySession)
	r.Post("/holds/{ref}:retry-placement", h.retryPlacement)
	r.Get("/confirm", h.confirm)
}

type checkoutRequest struct {
	Customer      checkoutCustomerPayload `json:"customer"`
	PaymentMethod string                  `json:"paymentMethod"`
	SuccessURL    string                  `json:"successUrl"`
	CancelURL     string                  `json:"cancelUrl"`
	Locale        string                  `json:"locale"`
	Items         []checkoutItemPayload   `json:"items"`
}

type checkoutCustomerPayload struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// checkoutItemPayload references its image either by multipart field name (image) or by
// the durable URL returned from an earlier failed attempt (imageUrl).
type checkoutItemPayload struct {
	Image      string `json:"image"`
	ImageURL   string `json:"imageUrl"`
	Type       string `json:"type"`
	Size       string `json:"size"`
	FrameColor string `json:"frameColor"`
	Quantity   int    `json:"quantity"`
}

type retryRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	Locale     string `json:"locale"`
}

type orderSummaryPayload struct {
	ID         string `json:"id"`
	ShortID    string `json:"shortId"`
	Type       string `json:"type"`
	Size       string `json:"size"`
	FrameColor string `json:"frameColor,omitempty"`
	Quantity   int    `json:"quantity"`
	Price      string `json:"price"`
	ImageURL   string `json:"imageUrl"`
	Status     string `json:"status"`
}

type checkoutResponse struct {
	CheckoutRef   string                `json:"checkoutRef"`
	PaymentMethod string                `json:"paymentMethod"`
	RedirectURL   string                `json:"redirectUrl,omitempty"`
	SessionID     string                `json:"sessionId,omitempty"`
	ExpiresAt     string                `json:"expiresAt,omitempty"`
	OrderIDs      []string              `json:"orderIds,omitempty"`
	Orders        []orderSummaryPayload `json:"orders,omitempty"`
	Total         string                `json:"total"`
	Currency      string                `json:"currency"`
}

type confirmationResponse struct {
	Status      string   `json:"status"`
	CheckoutRef string   `json:"checkoutRef,omitempty"`
	OrderIDs    []string `json:"orderIds,omitempty"`
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil || h.prices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := r.ParseMultipartForm(h.memory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "checkout request exceeds the size limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request must be multipart/form-data", http.StatusBadRequest))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req, err := decodeCheckoutPart(r.MultipartForm)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	c, err := h.assembleCart(r.MultipartForm, req.Items)
	if err != nil {
		h.metrics.RecordCheckout(ctx, paymentMethodLabel(req.PaymentMethod), "invalid_item")
		writeCartError(w, r, err)
		return
	}
	// The cart lives for this request only; release the part previews however Submit ends.
	defer func() {
		_ = c.Clear()
	}()

	result, err := h.checkout.Submit(ctx, services.CheckoutCommand{
		Cart: c,
		Customer: domain.CustomerData{
			Name:       req.Customer.Name,
			Email:      req.Customer.Email,
			Phone:      req.Customer.Phone,
			Address:    req.Customer.Address,
			City:       req.Customer.City,
			PostalCode: req.Customer.PostalCode,
		},
		PaymentMethod:  req.PaymentMethod,
		SuccessURL:     strings.TrimSpace(req.SuccessURL),
		CancelURL:      strings.TrimSpace(req.CancelURL),
		Locale:         requestLocale(req.Locale, r),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.metrics.RecordCheckout(ctx, paymentMethodLabel(req.PaymentMethod), checkoutErrorCode(err))
		writeCheckoutError(ctx, w, err)
		return
	}

	h.metrics.RecordCheckout(ctx, string(result.PaymentMethod), checkoutOutcomeOK)
	writeCheckoutResult(w, result)
}

func (h *CheckoutHandlers) retrySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout reference is required", http.StatusBadRequest))
		return
	}

	var req retryRequest
	body, err := readLimitedBody(r, maxRetryRequestBody)
	switch {
	case errors.Is(err, errEmptyBody):
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	result, err := h.checkout.RetryPaymentSession(ctx, services.RetryCheckoutCommand{
		CheckoutRef: ref,
		SuccessURL:  strings.TrimSpace(req.SuccessURL),
		CancelURL:   strings.TrimSpace(req.CancelURL),
		Locale:      requestLocale(req.Locale, r),
	})
	if err != nil {
		h.metrics.RecordCheckout(ctx, string(domain.PaymentMethodCard), checkoutErrorCode(err))
		writeCheckoutError(ctx, w, err)
		return
	}
	h.metrics.RecordCheckout(ctx, string(result.PaymentMethod), checkoutOutcomeOK)
	writeCheckoutResult(w, result)
}

func (h *CheckoutHandlers) retryPlacement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout reference is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.RetryPlacement(ctx, services.RetryCheckoutCommand{CheckoutRef: ref})
	if err != nil {
		h.metrics.RecordCheckout(ctx, "offline", checkoutErrorCode(err))
		writeCheckoutError(ctx, w, err)
		return
	}
	h.metrics.RecordCheckout(ctx, string(result.PaymentMethod), checkoutOutcomeOK)
	writeCheckoutResult(w, result)
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.confirmations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_unavailable", "payment confirmation unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	sessionID := strings.TrimSpace(query.Get("session_id"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		return
	}
	outcome, ok := services.ParsePaymentOutcome(query.Get("outcome"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "outcome must be success or cancel", http.StatusBadRequest))
		return
	}

	result, err := h.confirmations.Confirm(ctx, services.ConfirmPaymentCommand{
		SessionID: sessionID,
		Outcome:   outcome,
		Source:    services.ConfirmationSourceRedirect,
	})
	if err != nil {
		h.metrics.RecordConfirmation(ctx, services.ConfirmationSourceRedirect, confirmationErrorCode(err))
		writeConfirmationError(ctx, w, err)
		return
	}

	resp := confirmationFromResult(outcome, result)
	h.metrics.RecordConfirmation(ctx, services.ConfirmationSourceRedirect, resp.Status)
	writeJSONResponse(w, http.StatusOK, resp)
}

func confirmationFromResult(outcome services.PaymentOutcome, result services.ConfirmationResult) confirmationResponse {
	resp := confirmationResponse{CheckoutRef: result.CheckoutRef, OrderIDs: result.OrderIDs}
	switch {
	case result.NoOp:
		resp.Status = confirmationStatusNoop
	case outcome == services.PaymentOutcomeCancel:
		resp.Status = confirmationStatusAbort
	default:
		resp.Status = confirmationStatusPaid
	}
	return resp
}

func decodeCheckoutPart(form *multipart.Form) (checkoutRequest, error) {
	var req checkoutRequest
	var raw []byte
	if values := form.Value[checkoutPartName]; len(values) > 0 {
		raw = []byte(values[0])
	} else if files := form.File[checkoutPartName]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return req, fmt.Errorf("checkout part unreadable: %w", err)
		}
		defer f.Close()
		raw, err = io.ReadAll(io.LimitReader(f, maxCheckoutJSONSize+1))
		if err != nil {
			return req, fmt.Errorf("checkout part unreadable: %w", err)
		}
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return req, errors.New("checkout part is required")
	}
	if len(raw) > maxCheckoutJSONSize {
		return req, errors.New("checkout part too large")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, errors.New("checkout part must be valid JSON")
	}
	return req, nil
}

// assembleCart prices every submitted line into a fresh cart. Lines naming the same
// multipart field or URL share one image handle so the image is uploaded once.
func (h *CheckoutHandlers) assembleCart(form *multipart.Form, items []checkoutItemPayload) (*cart.Cart, error) {
	c, err := cart.New(h.prices)
	if err != nil {
		return nil, err
	}
	files := make(map[string]cart.Image)
	for i, item := range items {
		img, err := h.resolveItemImage(form, files, item)
		if err == nil {
			_, err = c.Add(cart.ItemSpec{
				Image:      img,
				Type:       domain.PrintType(item.Type),
				Size:       item.Size,
				FrameColor: domain.FrameColor(item.FrameColor),
				Quantity:   item.Quantity,
			})
		}
		if err != nil {
			_ = c.Clear()
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	return c, nil
}

func (h *CheckoutHandlers) resolveItemImage(form *multipart.Form, files map[string]cart.Image, item checkoutItemPayload) (cart.Image, error) {
	if url := strings.TrimSpace(item.ImageURL); url != "" {
		if h.images == nil || !h.images.Owns(url) {
			return nil, fmt.Errorf("%w: imageUrl is not a stored image", cart.ErrInvalidItem)
		}
		return cart.NewUploadedImage(url), nil
	}
	field := strings.TrimSpace(item.Image)
	if field == "" {
		return nil, fmt.Errorf("%w: image is required", cart.ErrInvalidItem)
	}
	if img, ok := files[field]; ok {
		return img, nil
	}
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no image part named %q", cart.ErrInvalidItem, field)
	}
	img := cart.NewFileImage(headers[0])
	files[field] = img
	return img, nil
}

// paymentMethodLabel bounds metric cardinality to the known methods.
func paymentMethodLabel(raw string) string {
	if method, ok := domain.ParsePaymentMethod(raw); ok {
		return string(method)
	}
	return "unknown"
}

// requestLocale prefers the explicit locale, then the best Accept-Language tag.
func requestLocale(explicit string, r *http.Request) string {
	if tag, err := language.Parse(strings.TrimSpace(explicit)); err == nil && explicit != "" {
		return tag.String()
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

func writeCheckoutResult(w http.ResponseWriter, result services.CheckoutResult) {
	resp := checkoutResponse{
		CheckoutRef:   result.CheckoutRef,
		PaymentMethod: string(result.PaymentMethod),
		RedirectURL:   result.RedirectURL,
		SessionID:     result.SessionID,
		ExpiresAt:     formatTime(result.ExpiresAt),
		OrderIDs:      result.OrderIDs,
		Total:         formatAmount(result.Total),
		Currency:      result.Currency,
	}
	for _, order := range result.Orders {
		resp.Orders = append(resp.Orders, orderSummaryPayload{
			ID:         order.ID,
			ShortID:    order.ShortID(),
			Type:       string(order.Print.Type),
			Size:       order.Print.Size,
			FrameColor: string(order.Print.FrameColor),
			Quantity:   order.Print.Quantity,
			Price:      formatAmount(order.Print.Price),
			ImageURL:   order.Print.ImageURL,
			Status:     string(order.Status),
		})
	}

	status := http.StatusOK
	if result.RedirectURL == "" && len(result.OrderIDs) > 0 {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, resp)
}

func writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var configErr *pricing.ConfigError
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", err.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"retry_safe": false}))
	case errors.As(err, &configErr):
		writePricingError(w, r, err)
	case errors.Is(err, cart.ErrInvalidItem):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_item", err.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"retry_safe": false}))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to assemble cart", http.StatusInternalServerError))
	}
}

func checkoutErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrCheckoutValidation):
		return "checkout_validation"
	case errors.Is(err, storage.ErrImageTooLarge):
		return "image_too_large"
	case errors.Is(err, storage.ErrImageContentType), errors.Is(err, storage.ErrImageEmpty):
		return "image_rejected"
	case errors.Is(err, services.ErrCheckoutUpload):
		return "image_upload_failed"
	case errors.Is(err, services.ErrCheckoutSessionOpen):
		return "payment_session_open"
	case errors.Is(err, services.ErrCheckoutPaymentSession):
		return "payment_session_failed"
	case errors.Is(err, services.ErrCheckoutPersist):
		return "order_persist_failed"
	case errors.Is(err, services.ErrCheckoutHoldNotFound):
		return "checkout_hold_not_found"
	case errors.Is(err, services.ErrCheckoutUnavailable):
		return "checkout_unavailable"
	default:
		return "checkout_error"
	}
}

// writeCheckoutError maps checkout failures onto the error envelope. Every response says
// whether resubmitting is safe and names the surviving hold.
func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	code := checkoutErrorCode(err)
	details := map[string]any{"retry_safe": services.RetrySafe(err)}
	if ref := services.CheckoutRefOf(err); ref != "" {
		details["checkout_ref"] = ref
	}

	var (
		status  int
		message string
	)
	switch code {
	case "checkout_validation":
		status, message = http.StatusBadRequest, "checkout details are incomplete"
		var verr *services.CheckoutValidationError
		if errors.As(err, &verr) {
			if len(verr.Fields) > 0 {
				details["fields"] = verr.Fields
			}
			if verr.Reason != "" {
				message = verr.Reason
			}
		}
	case "image_too_large":
		status, message = http.StatusRequestEntityTooLarge, "an image exceeds the upload limit"
	case "image_rejected":
		status, message = http.StatusUnprocessableEntity, "an image has an unsupported format"
	case "image_upload_failed":
		status, message = http.StatusBadGateway, "an image could not be uploaded"
	case "payment_session_failed":
		status, message = http.StatusBadGateway, "payment session could not be created"
	case "payment_session_open":
		status, message = http.StatusConflict, "checkout already has an open or paid payment session"
	case "order_persist_failed":
		status, message = http.StatusServiceUnavailable, "orders could not be saved"
	case "checkout_hold_not_found":
		status, message = http.StatusNotFound, "checkout is unknown or has expired"
	case "checkout_unavailable":
		status, message = http.StatusServiceUnavailable, "checkout service unavailable"
	default:
		status, message = http.StatusInternalServerError, "failed to process checkout"
	}

	var failure *services.UploadFailure
	if errors.As(err, &failure) {
		details["item_id"] = failure.ItemID
		details["filename"] = failure.Filename
		if len(failure.Uploaded) > 0 {
			details["uploaded"] = failure.Uploaded
		}
	}

	httpx.WriteError(ctx, w, httpx.NewError(code, message, status).WithDetails(details))
}

func confirmationErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrPaymentNotCompleted):
		return "payment_not_completed"
	case errors.Is(err, services.ErrConfirmationPersist):
		return "confirmation_persist_failed"
	case errors.Is(err, services.ErrPaymentVerification):
		return "payment_verification_failed"
	case errors.Is(err, services.ErrConfirmationInvalid):
		return "invalid_confirmation"
	default:
		return "confirmation_error"
	}
}

func writeConfirmationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch confirmationErrorCode(err) {
	case "payment_not_completed":
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_completed", "payment has not been completed", http.StatusConflict))
	case "confirmation_persist_failed":
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_persist_failed", "orders could not be saved; retry shortly", http.StatusServiceUnavailable).
			WithDetails(map[string]any{"retry_safe": true}))
	case "payment_verification_failed":
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment status could not be verified", http.StatusBadGateway).
			WithDetails(map[string]any{"retry_safe": true}))
	case "invalid_confirmation":
		httpx.WriteError(ctx, w, httpx.NewError("invalid_confirmation", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_error", "failed to confirm payment", http.StatusInternalServerError))
	}
}
