package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/cart"
	domain "github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/payments"
	"github.com/printhaus/api/internal/platform/storage"
	"github.com/printhaus/api/internal/services"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

type stubCheckoutService struct {
	submitFunc         func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
	retrySessionFunc   func(ctx context.Context, cmd services.RetryCheckoutCommand) (services.CheckoutResult, error)
	retryPlacementFunc func(ctx context.Context, cmd services.RetryCheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Submit(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.submitFunc != nil {
		return s.submitFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) RetryPaymentSession(ctx context.Context, cmd services.RetryCheckoutCommand) (services.CheckoutResult, error) {
	if s.retrySessionFunc != nil {
		return s.retrySessionFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) RetryPlacement(ctx context.Context, cmd services.RetryCheckoutCommand) (services.CheckoutResult, error) {
	if s.retryPlacementFunc != nil {
		return s.retryPlacementFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

type stubConfirmationService struct {
	confirmFunc func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.ConfirmationResult, error)
}

func (s *stubConfirmationService) Confirm(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.ConfirmationResult, error) {
	if s.confirmFunc != nil {
		return s.confirmFunc(ctx, cmd)
	}
	return services.ConfirmationResult{}, nil
}

type stubImageOwner struct {
	prefix string
}

func (s stubImageOwner) Owns(url string) bool {
	return strings.HasPrefix(url, s.prefix)
}

func newCheckoutRouter(t *testing.T, checkout services.CheckoutService, confirmations services.PaymentConfirmationService) chi.Router {
	t.Helper()
	router := chi.NewRouter()
	handlers := NewCheckoutHandlers(checkout, confirmations, newTestCatalog(t),
		WithCheckoutImageOwner(stubImageOwner{prefix: "https://storage.googleapis.com/ph-images/"}),
	)
	router.Route("/checkout", handlers.Routes)
	return router
}

func newCheckoutRequest(t *testing.T, checkoutJSON string, files map[string][]byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if checkoutJSON != "" {
		if err := writer.WriteField("checkout", checkoutJSON); err != nil {
			t.Fatalf("write checkout field: %v", err)
		}
	}
	for field, data := range files {
		part, err := writer.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/checkout", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

const offlineCheckoutJSON = `{
	"customer": {"name": "Ada", "email": "ada@example.com", "address": "Main 1", "city": "Berlin", "postalCode": "10115"},
	"paymentMethod": "cash",
	"items": [
		{"image": "photo1", "type": "canvas", "size": "20x20", "quantity": 2},
		{"image": "photo1", "type": "framed", "size": "20x20", "frameColor": "silver", "quantity": 1},
		{"image": "photo2", "type": "sticker", "size": "30x20", "quantity": 1}
	]
}`

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

func TestCheckoutHandlersSubmitOffline(t *testing.T) {
	var lines []cart.Item
	var captured services.CheckoutCommand
	service := &stubCheckoutService{
		submitFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			lines = cmd.Cart.Items()
			return services.CheckoutResult{
				CheckoutRef:   "chk_1",
				PaymentMethod: domain.PaymentMethodCash,
				OrderIDs:      []string{"ord_a", "ord_b", "ord_c"},
				Orders: []services.Order{{
					ID:     "ord_01HZXAMPLEAAAAAA",
					Status: domain.OrderStatusPending,
					Print:  domain.PrintData{Type: domain.PrintTypeCanvas, Size: "20x20", Quantity: 2, Price: decimal.RequireFromString("58")},
				}},
				Total:    cmd.Cart.Total(),
				Currency: "EUR",
			}, nil
		},
	}
	router := newCheckoutRouter(t, service, nil)

	req := newCheckoutRequest(t, offlineCheckoutJSON, map[string][]byte{"photo1": pngHeader, "photo2": pngHeader})
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(lines) != 3 {
		t.Fatalf("expected three separate lines, got %d", len(lines))
	}
	if lines[0].Image != lines[1].Image {
		t.Fatal("expected lines naming the same part to share one image handle")
	}
	if lines[0].Image == lines[2].Image {
		t.Fatal("expected distinct parts to produce distinct handles")
	}
	if !lines[0].Price.Equal(decimal.RequireFromString("58")) || !lines[1].Price.Equal(decimal.RequireFromString("44")) {
		t.Fatalf("unexpected line prices %s %s", lines[0].Price, lines[1].Price)
	}
	if captured.Customer.Name != "Ada" || captured.PaymentMethod != "cash" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Locale != "de-DE" || captured.IdempotencyKey != "key-1" {
		t.Fatalf("expected locale and idempotency key, got %q %q", captured.Locale, captured.IdempotencyKey)
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CheckoutRef != "chk_1" || len(resp.OrderIDs) != 3 || resp.Total != "121.00" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].ShortID != domain.IDSuffix("ord_01HZXAMPLEAAAAAA") {
		t.Fatalf("unexpected order summary %+v", resp.Orders)
	}
}

func TestCheckoutHandlersSubmitCardRedirect(t *testing.T) {
	expires := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	service := &stubCheckoutService{
		submitFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			if cmd.SuccessURL != "https://shop.example/ok" {
				t.Fatalf("unexpected success url %q", cmd.SuccessURL)
			}
			return services.CheckoutResult{
				CheckoutRef:   "chk_2",
				PaymentMethod: domain.PaymentMethodCard,
				RedirectURL:   "https://checkout.stripe.com/c/cs_123",
				SessionID:     "cs_123",
				Total:         decimal.RequireFromString("29"),
				Currency:      "EUR",
				ExpiresAt:     expires,
			}, nil
		},
	}
	router := newCheckoutRouter(t, service, nil)

	payload := `{"customer":{"name":"Ada","email":"ada@example.com","address":"Main 1","city":"Berlin","postalCode":"10115"},
		"paymentMethod":"card","successUrl":"https://shop.example/ok","cancelUrl":"https://shop.example/cancel",
		"items":[{"image":"photo1","type":"canvas","size":"20x20","quantity":1}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCheckoutRequest(t, payload, map[string][]byte{"photo1": pngHeader}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RedirectURL == "" || resp.SessionID != "cs_123" || resp.ExpiresAt != "2025-03-03T12:00:00Z" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCheckoutHandlersSubmitAcceptsOwnedImageURL(t *testing.T) {
	const stored = "https://storage.googleapis.com/ph-images/uploads/01HZ-photo.png"
	service := &stubCheckoutService{
		submitFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			items := cmd.Cart.Items()
			url, ok := cmd.Cart.ResolvedURL(items[0].Image)
			if !ok || url != stored {
				t.Fatalf("expected resolved stored url, got %q %v", url, ok)
			}
			return services.CheckoutResult{CheckoutRef: "chk_3", PaymentMethod: domain.PaymentMethodBank, OrderIDs: []string{"ord_1"}}, nil
		},
	}
	router := newCheckoutRouter(t, service, nil)

	payload := fmt.Sprintf(`{"customer":{"name":"Ada","email":"ada@example.com","address":"Main 1","city":"Berlin","postalCode":"10115"},
		"paymentMethod":"bank","items":[{"imageUrl":%q,"type":"canvas","size":"20x20","quantity":1}]}`, stored)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCheckoutRequest(t, payload, nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersSubmitRejectsInvalidItems(t *testing.T) {
	called := false
	service := &stubCheckoutService{
		submitFunc: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			called = true
			return services.CheckoutResult{}, nil
		},
	}
	router := newCheckoutRouter(t, service, nil)

	customer := `"customer":{"name":"Ada","email":"ada@example.com","address":"Main 1","city":"Berlin","postalCode":"10115"},"paymentMethod":"cash"`
	cases := []struct {
		name   string
		items  string
		status int
		code   string
	}{
		{"missing part", `[{"image":"nope","type":"canvas","size":"20x20","quantity":1}]`, http.StatusBadRequest, "invalid_item"},
		{"foreign url", `[{"imageUrl":"https://evil.example/x.png","type":"canvas","size":"20x20","quantity":1}]`, http.StatusBadRequest, "invalid_item"},
		{"quantity", `[{"image":"photo1","type":"canvas","size":"20x20","quantity":11}]`, http.StatusBadRequest, "invalid_quantity"},
		{"size", `[{"image":"photo1","type":"canvas","size":"1x1","quantity":1}]`, http.StatusUnprocessableEntity, "unknown_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := fmt.Sprintf(`{%s,"items":%s}`, customer, tc.items)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, newCheckoutRequest(t, payload, map[string][]byte{"photo1": pngHeader}))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if body := decodeErrorBody(t, rr); body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
	if called {
		t.Fatal("expected submit not to be called for invalid items")
	}
}

func TestCheckoutHandlersSubmitRequiresCheckoutPart(t *testing.T) {
	router := newCheckoutRouter(t, &stubCheckoutService{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCheckoutRequest(t, "", map[string][]byte{"photo1": pngHeader}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"items":[]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for non-multipart body, got %d", rr.Code)
	}
}

func TestCheckoutHandlersSubmitMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retrySafe bool
		ref       string
	}{
		{
			name:   "validation",
			err:    &services.CheckoutValidationError{Fields: []string{"email", "city"}},
			status: http.StatusBadRequest,
			code:   "checkout_validation",
		},
		{
			name: "upload transport",
			err: &services.UploadFailure{
				ItemID:   "item-2",
				Filename: "photo2.png",
				Uploaded: map[string]string{"item-1": "https://storage.googleapis.com/ph-images/uploads/a.png"},
				Err:      &storage.UploadError{Filename: "photo2.png", Err: storage.ErrImageTransport},
			},
			status:    http.StatusBadGateway,
			code:      "image_upload_failed",
			retrySafe: true,
		},
		{
			name:   "upload too large",
			err:    &services.UploadFailure{ItemID: "item-1", Filename: "huge.png", Err: &storage.UploadError{Err: storage.ErrImageTooLarge}},
			status: http.StatusRequestEntityTooLarge,
			code:   "image_too_large",
		},
		{
			name:      "payment session",
			err:       &services.PaymentSessionError{CheckoutRef: "chk_9", Err: fmt.Errorf("stripe down")},
			status:    http.StatusBadGateway,
			code:      "payment_session_failed",
			retrySafe: true,
			ref:       "chk_9",
		},
		{
			name:      "persist",
			err:       &services.OrderPersistError{CheckoutRef: "chk_8", Err: fmt.Errorf("firestore down")},
			status:    http.StatusServiceUnavailable,
			code:      "order_persist_failed",
			retrySafe: true,
			ref:       "chk_8",
		},
		{
			name:   "session still open",
			err:    &services.SessionOpenError{CheckoutRef: "chk_7", SessionID: "cs_7", Status: payments.StatusPending},
			status: http.StatusConflict,
			code:   "payment_session_open",
			ref:    "chk_7",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCheckoutService{
				submitFunc: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			router := newCheckoutRouter(t, service, nil)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, newCheckoutRequest(t, offlineCheckoutJSON, map[string][]byte{"photo1": pngHeader, "photo2": pngHeader}))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			body := decodeErrorBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
			if body["retry_safe"] != tc.retrySafe {
				t.Fatalf("expected retry_safe=%v, got %v", tc.retrySafe, body["retry_safe"])
			}
			if tc.ref != "" && body["checkout_ref"] != tc.ref {
				t.Fatalf("expected checkout_ref %s, got %v", tc.ref, body["checkout_ref"])
			}
			if tc.ref == "" && body["checkout_ref"] != nil {
				t.Fatalf("expected no checkout_ref, got %v", body["checkout_ref"])
			}
		})
	}
}

func TestCheckoutHandlersUploadFailureReportsUploadedImages(t *testing.T) {
	service := &stubCheckoutService{
		submitFunc: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, &services.UploadFailure{
				ItemID:   "item-2",
				Filename: "photo2.png",
				Uploaded: map[string]string{"item-1": "https://storage.googleapis.com/ph-images/uploads/a.png"},
				Err:      &storage.UploadError{Err: storage.ErrImageTransport},
			}
		},
	}
	router := newCheckoutRouter(t, service, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCheckoutRequest(t, offlineCheckoutJSON, map[string][]byte{"photo1": pngHeader, "photo2": pngHeader}))

	body := decodeErrorBody(t, rr)
	uploaded, ok := body["uploaded"].(map[string]any)
	if !ok || uploaded["item-1"] != "https://storage.googleapis.com/ph-images/uploads/a.png" {
		t.Fatalf("expected uploaded urls in error, got %v", body["uploaded"])
	}
	if body["item_id"] != "item-2" || body["filename"] != "photo2.png" {
		t.Fatalf("expected failing item reported, got %v", body)
	}
	if fields, ok := body["fields"]; ok {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestCheckoutHandlersValidationListsFields(t *testing.T) {
	service := &stubCheckoutService{
		submitFunc: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, &services.CheckoutValidationError{Fields: []string{"email"}}
		},
	}
	router := newCheckoutRouter(t, service, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCheckoutRequest(t, offlineCheckoutJSON, map[string][]byte{"photo1": pngHeader, "photo2": pngHeader}))

	body := decodeErrorBody(t, rr)
	fields, ok := body["fields"].([]any)
	if !ok || len(fields) != 1 || fields[0] != "email" {
		t.Fatalf("expected fields [email], got %v", body["fields"])
	}
}

func TestCheckoutHandlersRetrySession(t *testing.T) {
	var captured services.RetryCheckoutCommand
	service := &stubCheckoutService{
		retrySessionFunc: func(ctx context.Context, cmd services.RetryCheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{
				CheckoutRef:   cmd.CheckoutRef,
				PaymentMethod: domain.PaymentMethodCard,
				RedirectURL:   "https://checkout.stripe.com/c/cs_456",
				SessionID:     "cs_456",
			}, nil
		},
	}
	router := newCheckoutRouter(t, service, nil)

	req := httptest.NewRequest(http.MethodPost, "/checkout/holds/chk_7:retry-session", strings.NewReader(`{"successUrl":"https://shop.example/ok","locale":"fr"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CheckoutRef != "chk_7" || captured.SuccessURL != "https://shop.example/ok" || captured.Locale != "fr" {
		t.Fatalf("unexpected retry command %+v", captured)
	}
}

func TestCheckoutHandlersRetryWithoutBody(t *testing.T) {
	service := &stubCheckoutService{
		retrySessionFunc: func(ctx context.Context, cmd services.RetryCheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{CheckoutRef: cmd.CheckoutRef, RedirectURL: "https://checkout.stripe.com/c/x"}, nil
		},
	}
	router := newCheckoutRouter(t, service, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/holds/chk_7:retry-session", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersRetryPlacement(t *testing.T) {
	service := &stubCheckoutService{
		retryPlacementFunc: func(ctx context.Context, cmd services.RetryCheckoutCommand) (services.CheckoutResult, error) {
			if cmd.CheckoutRef == "gone" {
				return services.CheckoutResult{}, fmt.Errorf("%w: gone", services.ErrCheckoutHoldNotFound)
			}
			return services.CheckoutResult{CheckoutRef: cmd.CheckoutRef, PaymentMethod: domain.PaymentMethodCash, OrderIDs: []string{"ord_1"}}, nil
		},
	}
	router := newCheckoutRouter(t, service, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/holds/chk_5:retry-placement", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/holds/gone:retry-placement", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if body := decodeErrorBody(t, rr); body["error"] != "checkout_hold_not_found" || body["retry_safe"] != false {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestCheckoutHandlersConfirm(t *testing.T) {
	var captured services.ConfirmPaymentCommand
	confirmations := &stubConfirmationService{
		confirmFunc: func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.ConfirmationResult, error) {
			captured = cmd
			switch cmd.SessionID {
			case "cs_paid":
				return services.ConfirmationResult{CheckoutRef: "chk_1", OrderIDs: []string{"ord_1", "ord_2"}}, nil
			case "cs_unpaid":
				return services.ConfirmationResult{}, services.ErrPaymentNotCompleted
			case "cs_busy":
				return services.ConfirmationResult{}, fmt.Errorf("%w: firestore", services.ErrConfirmationPersist)
			}
			return services.ConfirmationResult{NoOp: true}, nil
		},
	}
	router := newCheckoutRouter(t, &stubCheckoutService{}, confirmations)

	cases := []struct {
		name   string
		query  string
		status int
		want   string
	}{
		{"paid", "session_id=cs_paid&outcome=success", http.StatusOK, "confirmed"},
		{"cancelled", "session_id=cs_other&outcome=cancelled", http.StatusOK, "noop"},
		{"replayed", "session_id=cs_used&outcome=success", http.StatusOK, "noop"},
		{"unpaid", "session_id=cs_unpaid&outcome=success", http.StatusConflict, "payment_not_completed"},
		{"persist", "session_id=cs_busy&outcome=success", http.StatusServiceUnavailable, "confirmation_persist_failed"},
		{"missing session", "outcome=success", http.StatusBadRequest, "invalid_request"},
		{"bad outcome", "session_id=cs_paid&outcome=maybe", http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/confirm?"+tc.query, nil))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			body := decodeErrorBody(t, rr)
			key := "status"
			if tc.status != http.StatusOK {
				key = "error"
			}
			if body[key] != tc.want {
				t.Fatalf("expected %s=%s, got %v", key, tc.want, body)
			}
		})
	}
	if captured.Source != services.ConfirmationSourceRedirect {
		t.Fatalf("expected redirect source, got %q", captured.Source)
	}
}

func TestRequestLocale(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ja-JP;q=0.8, en-US")
	if got := requestLocale("", req); got != "en-US" {
		t.Fatalf("expected highest weighted tag en-US, got %q", got)
	}
	if got := requestLocale("pt-BR", req); got != "pt-BR" {
		t.Fatalf("expected explicit locale, got %q", got)
	}
	if got := requestLocale("", httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Fatalf("expected empty locale, got %q", got)
	}
}
