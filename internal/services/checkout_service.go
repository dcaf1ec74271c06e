package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/printhaus/api/internal/cart"
	domain "github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/payments"
	"github.com/printhaus/api/internal/platform/storage"
	"github.com/printhaus/api/internal/repositories"
)

const (
	defaultCheckoutHoldTTL    = 48 * time.Hour
	defaultUploadConcurrency  = 4
	defaultUploadFolder       = "uploads"
	defaultCheckoutCurrency   = "EUR"
	checkoutRefPrefix         = "chk_"
	orderIDPrefix             = "ord_"
	checkoutEventActor        = "checkout"
	checkoutMetadataCount     = "order_count"
	checkoutMetadataMethod    = "payment_method"
	checkoutIdempotencyPrefix = "checkout:"
)

var customerTextPolicy = bluemonday.StrictPolicy()

// imageUploader is satisfied by storage.ImageStore.
type imageUploader interface {
	Upload(ctx context.Context, in storage.UploadInput) (storage.UploadResult, error)
}

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	LookupSession(ctx context.Context, paymentCtx payments.PaymentContext, sessionID string) (payments.SessionDetails, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Images            imageUploader
	Payments          checkoutSessionManager
	Orders            repositories.OrderRepository
	Holds             repositories.PendingCheckoutRepository
	UnitOfWork        repositories.UnitOfWork
	Events            OrderEventPublisher
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
	IDGenerator       func() string
	HoldTTL           time.Duration
	UploadConcurrency int
	UploadFolder      string
	Currency          string
	PaymentProvider   string
	SuccessURL        string
	CancelURL         string
}

type checkoutService struct {
	images      imageUploader
	payments    checkoutSessionManager
	holds       repositories.PendingCheckoutRepository
	placer      orderPlacer
	events      OrderEventPublisher
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string
	holdTTL     time.Duration
	concurrency int
	folder      string
	currency    string
	provider    string
	successURL  string
	cancelURL   string
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Images == nil {
		return nil, errors.New("checkout service: image uploader is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Holds == nil {
		return nil, errors.New("checkout service: pending checkout repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	ttl := deps.HoldTTL
	if ttl <= 0 {
		ttl = defaultCheckoutHoldTTL
	}
	concurrency := deps.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	folder := strings.Trim(strings.TrimSpace(deps.UploadFolder), "/")
	if folder == "" {
		folder = defaultUploadFolder
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		images:   deps.Images,
		payments: deps.Payments,
		holds:    deps.Holds,
		placer:   orderPlacer{orders: deps.Orders, uow: deps.UnitOfWork},
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		newID:       newID,
		holdTTL:     ttl,
		concurrency: concurrency,
		folder:      folder,
		currency:    currency,
		provider:    strings.TrimSpace(deps.PaymentProvider),
		successURL:  strings.TrimSpace(deps.SuccessURL),
		cancelURL:   strings.TrimSpace(deps.CancelURL),
	}, nil
}

// Submit validates the submission, uploads each distinct image once, then either holds the
// orders behind a payment session (card) or places them immediately (cash, bank).
func (s *checkoutService) Submit(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if s == nil || s.images == nil || s.holds == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	customer, err := s.validate(&cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	items := cmd.Cart.Items()
	urls, err := s.resolveImages(ctx, cmd.Cart, items)
	if err != nil {
		return CheckoutResult{}, err
	}

	ref := checkoutRefPrefix + s.newID()
	now := s.now()
	orders := make([]domain.Order, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		orders = append(orders, domain.Order{
			ID:          orderIDPrefix + s.newID(),
			CheckoutRef: ref,
			Customer:    customer,
			Print: domain.PrintData{
				Type:       item.Type,
				Size:       item.Size,
				FrameColor: item.FrameColor,
				Quantity:   item.Quantity,
				Price:      item.Price,
				ImageURL:   urls[item.ID],
			},
			Currency:  s.cartCurrency(cmd.Cart),
			Status:    domain.OrderStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		total = total.Add(item.Price)
	}

	hold := domain.PendingCheckout{
		Ref:           ref,
		PaymentMethod: customer.PaymentMethod,
		Orders:        orders,
		Total:         total,
		Currency:      s.cartCurrency(cmd.Cart),
		CustomerEmail: customer.Email,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.holdTTL),
	}

	var result CheckoutResult
	if customer.PaymentMethod.IsOnline() {
		result, err = s.startPayment(ctx, hold, cmd)
	} else {
		result, err = s.placeOffline(ctx, hold)
	}
	if err != nil {
		return CheckoutResult{}, err
	}

	if err := cmd.Cart.Clear(); err != nil {
		s.logger(ctx, "checkout.cart.clear_failed", map[string]any{
			"checkoutRef": ref,
			"error":       err.Error(),
		})
	}
	s.logger(ctx, "checkout.submitted", map[string]any{
		"checkoutRef":   ref,
		"paymentMethod": string(customer.PaymentMethod),
		"items":         len(orders),
		"total":         total.StringFixed(2),
	})
	return result, nil
}

// RetryPaymentSession requests a new payment session for a held card checkout. A hold
// whose current session is still open or already paid keeps that session.
func (s *checkoutService) RetryPaymentSession(ctx context.Context, cmd RetryCheckoutCommand) (CheckoutResult, error) {
	hold, err := s.loadHold(ctx, cmd.CheckoutRef)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !hold.PaymentMethod.IsOnline() {
		return CheckoutResult{}, &CheckoutValidationError{Reason: "checkout is not an online payment"}
	}
	if err := s.ensureSessionClosed(ctx, hold); err != nil {
		return CheckoutResult{}, err
	}
	return s.requestSession(ctx, hold, CheckoutCommand{
		SuccessURL: cmd.SuccessURL,
		CancelURL:  cmd.CancelURL,
		Locale:     cmd.Locale,
	}, "")
}

// ensureSessionClosed allows a new session only when the hold has none or the processor
// reports the previous one as failed or expired.
func (s *checkoutService) ensureSessionClosed(ctx context.Context, hold domain.PendingCheckout) error {
	if hold.SessionID == "" {
		return nil
	}
	details, err := s.payments.LookupSession(ctx, payments.PaymentContext{
		PreferredProvider: s.provider,
		Currency:          hold.Currency,
	}, hold.SessionID)
	if err != nil {
		s.logger(ctx, "checkout.payment_session_lookup_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"sessionId":   hold.SessionID,
			"error":       err.Error(),
		})
		return &PaymentSessionError{CheckoutRef: hold.Ref, Err: err}
	}
	if details.Status == payments.StatusFailed {
		return nil
	}
	return &SessionOpenError{CheckoutRef: hold.Ref, SessionID: hold.SessionID, Status: details.Status}
}

// RetryPlacement persists a held offline checkout with the URLs resolved on the first attempt.
func (s *checkoutService) RetryPlacement(ctx context.Context, cmd RetryCheckoutCommand) (CheckoutResult, error) {
	hold, err := s.loadHold(ctx, cmd.CheckoutRef)
	if err != nil {
		return CheckoutResult{}, err
	}
	if hold.PaymentMethod.IsOnline() {
		return CheckoutResult{}, &CheckoutValidationError{Reason: "checkout awaits online payment"}
	}
	if err := s.placer.place(ctx, hold.Orders); err != nil {
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"retry":       true,
			"error":       err.Error(),
		})
		return CheckoutResult{}, &OrderPersistError{CheckoutRef: hold.Ref, Err: err}
	}
	if err := s.holds.Delete(ctx, hold.Ref); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "checkout.hold.delete_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"error":       err.Error(),
		})
	}
	publishOrderEvents(ctx, s.events, s.logger, createdEvents(hold.Orders, checkoutEventActor))
	return placedResult(hold), nil
}

func (s *checkoutService) validate(cmd *CheckoutCommand) (domain.CustomerData, error) {
	customer := domain.CustomerData{
		Name:       sanitizeCustomerText(cmd.Customer.Name),
		Email:      strings.ToLower(sanitizeCustomerText(cmd.Customer.Email)),
		Phone:      sanitizeCustomerText(cmd.Customer.Phone),
		Address:    sanitizeCustomerText(cmd.Customer.Address),
		City:       sanitizeCustomerText(cmd.Customer.City),
		PostalCode: strings.ToUpper(sanitizeCustomerText(cmd.Customer.PostalCode)),
	}

	verr := &CheckoutValidationError{}
	required := []struct {
		field string
		value string
	}{
		{"name", customer.Name},
		{"email", customer.Email},
		{"address", customer.Address},
		{"city", customer.City},
		{"postalCode", customer.PostalCode},
	}
	for _, req := range required {
		if req.value == "" {
			verr.Fields = append(verr.Fields, req.field)
		}
	}

	rawMethod := strings.TrimSpace(cmd.PaymentMethod)
	if rawMethod == "" {
		rawMethod = string(cmd.Customer.PaymentMethod)
	}
	var reasons []string
	if strings.TrimSpace(rawMethod) == "" {
		verr.Fields = append(verr.Fields, "paymentMethod")
	} else if method, ok := domain.ParsePaymentMethod(rawMethod); ok {
		customer.PaymentMethod = method
	} else {
		reasons = append(reasons, fmt.Sprintf("unsupported payment method %q", rawMethod))
	}

	if customer.Email != "" {
		if _, err := mail.ParseAddress(customer.Email); err != nil {
			reasons = append(reasons, "invalid email")
		}
	}
	if cmd.Cart == nil || cmd.Cart.Len() == 0 {
		reasons = append(reasons, "empty cart")
	}
	if customer.PaymentMethod.IsOnline() {
		if firstNonEmpty(cmd.SuccessURL, s.successURL) == "" || firstNonEmpty(cmd.CancelURL, s.cancelURL) == "" {
			reasons = append(reasons, "return urls are required for card payments")
		}
	}

	verr.Reason = strings.Join(reasons, "; ")
	if len(verr.Fields) > 0 || verr.Reason != "" {
		return domain.CustomerData{}, verr
	}
	return customer, nil
}

type pendingUpload struct {
	itemID string
	image  cart.Image
}

// resolveImages returns the durable URL of every item keyed by item id. Each distinct image
// handle is uploaded at most once; handles resolved by an earlier attempt are reused.
func (s *checkoutService) resolveImages(ctx context.Context, c *cart.Cart, items []cart.Item) (map[string]string, error) {
	seen := make(map[cart.Image]struct{}, len(items))
	var pending []pendingUpload
	for _, item := range items {
		if _, ok := c.ResolvedURL(item.Image); ok {
			continue
		}
		if _, ok := seen[item.Image]; ok {
			continue
		}
		seen[item.Image] = struct{}{}
		pending = append(pending, pendingUpload{itemID: item.ID, image: item.Image})
	}

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for _, p := range pending {
		p := p
		group.Go(func() error {
			url, err := s.upload(ctx, p.image)
			if err != nil {
				return &UploadFailure{ItemID: p.itemID, Filename: p.image.Name(), Err: err}
			}
			c.RecordUpload(p.image, url)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		var failure *UploadFailure
		if errors.As(err, &failure) {
			failure.Uploaded = c.Uploads()
			s.logger(ctx, "checkout.upload_failed", map[string]any{
				"itemId":   failure.ItemID,
				"filename": failure.Filename,
				"uploaded": len(failure.Uploaded),
				"error":    failure.Err.Error(),
			})
		}
		return nil, err
	}

	urls := make(map[string]string, len(items))
	for _, item := range items {
		url, ok := c.ResolvedURL(item.Image)
		if !ok {
			return nil, &UploadFailure{ItemID: item.ID, Filename: item.Image.Name(), Err: errors.New("image url not resolved")}
		}
		urls[item.ID] = url
	}
	return urls, nil
}

func (s *checkoutService) upload(ctx context.Context, img cart.Image) (string, error) {
	body, err := img.Open()
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer body.Close()

	result, err := s.images.Upload(ctx, storage.UploadInput{
		Body:        body,
		Filename:    img.Name(),
		ContentType: img.ContentType(),
		Folder:      s.folder,
	})
	if err != nil {
		return "", err
	}
	return result.URL, nil
}

func (s *checkoutService) startPayment(ctx context.Context, hold domain.PendingCheckout, cmd CheckoutCommand) (CheckoutResult, error) {
	if err := s.holds.Save(ctx, hold); err != nil {
		s.logger(ctx, "checkout.hold.save_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"error":       err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: hold checkout: %w", ErrCheckoutPersist, err)
	}
	s.logger(ctx, "checkout.hold.saved", map[string]any{
		"checkoutRef": hold.Ref,
		"expiresAt":   hold.ExpiresAt,
	})

	key := hold.Ref
	if k := strings.TrimSpace(cmd.IdempotencyKey); k != "" {
		key = checkoutIdempotencyPrefix + k
	}
	return s.requestSession(ctx, hold, cmd, key)
}

func (s *checkoutService) requestSession(ctx context.Context, hold domain.PendingCheckout, cmd CheckoutCommand, idempotencyKey string) (CheckoutResult, error) {
	amount, err := payments.MinorUnits(hold.Total, hold.Currency)
	if err != nil {
		return CheckoutResult{}, &PaymentSessionError{CheckoutRef: hold.Ref, Err: err}
	}

	req := payments.CheckoutSessionRequest{
		Amount:         amount,
		Currency:       hold.Currency,
		CustomerEmail:  hold.CustomerEmail,
		SuccessURL:     firstNonEmpty(cmd.SuccessURL, s.successURL),
		CancelURL:      firstNonEmpty(cmd.CancelURL, s.cancelURL),
		Locale:         strings.TrimSpace(cmd.Locale),
		IdempotencyKey: idempotencyKey,
		ExpiresAt:      hold.ExpiresAt,
		Metadata: map[string]string{
			payments.MetadataCheckoutRef: hold.Ref,
			checkoutMetadataCount:        strconv.Itoa(len(hold.Orders)),
			checkoutMetadataMethod:       string(hold.PaymentMethod),
		},
		Items: checkoutLineItems(hold),
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: s.provider,
		Currency:          hold.Currency,
	}, req)
	if err != nil {
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"error":       err.Error(),
		})
		return CheckoutResult{}, &PaymentSessionError{CheckoutRef: hold.Ref, Err: err}
	}

	hold.SessionID = session.ID
	if err := s.holds.Save(ctx, hold); err != nil {
		// Session metadata still carries the ref for the webhook.
		s.logger(ctx, "checkout.hold.session_link_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"sessionId":   session.ID,
			"error":       err.Error(),
		})
	}

	return CheckoutResult{
		CheckoutRef:   hold.Ref,
		PaymentMethod: hold.PaymentMethod,
		RedirectURL:   session.RedirectURL,
		SessionID:     session.ID,
		Total:         hold.Total,
		Currency:      hold.Currency,
		ExpiresAt:     hold.ExpiresAt,
	}, nil
}

func (s *checkoutService) placeOffline(ctx context.Context, hold domain.PendingCheckout) (CheckoutResult, error) {
	if err := s.placer.place(ctx, hold.Orders); err != nil {
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"error":       err.Error(),
		})
		ref := hold.Ref
		if saveErr := s.holds.Save(ctx, hold); saveErr != nil {
			s.logger(ctx, "checkout.hold.save_failed", map[string]any{
				"checkoutRef": hold.Ref,
				"error":       saveErr.Error(),
			})
			ref = ""
		}
		return CheckoutResult{}, &OrderPersistError{CheckoutRef: ref, Err: err}
	}
	publishOrderEvents(ctx, s.events, s.logger, createdEvents(hold.Orders, checkoutEventActor))
	return placedResult(hold), nil
}

func (s *checkoutService) loadHold(ctx context.Context, ref string) (domain.PendingCheckout, error) {
	if s == nil || s.holds == nil {
		return domain.PendingCheckout{}, ErrCheckoutUnavailable
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.PendingCheckout{}, &CheckoutValidationError{Fields: []string{"checkoutRef"}}
	}
	hold, err := s.holds.FindByRef(ctx, ref)
	if err != nil {
		switch {
		case isRepoNotFound(err):
			return domain.PendingCheckout{}, ErrCheckoutHoldNotFound
		case isRepoUnavailable(err):
			return domain.PendingCheckout{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		return domain.PendingCheckout{}, err
	}
	if hold.Expired(s.now()) {
		return domain.PendingCheckout{}, ErrCheckoutHoldNotFound
	}
	return hold, nil
}

func (s *checkoutService) cartCurrency(c *cart.Cart) string {
	if c != nil {
		if code := strings.ToUpper(strings.TrimSpace(c.Currency())); code != "" {
			return code
		}
	}
	return s.currency
}

func placedResult(hold domain.PendingCheckout) CheckoutResult {
	return CheckoutResult{
		CheckoutRef:   hold.Ref,
		PaymentMethod: hold.PaymentMethod,
		OrderIDs:      orderIDs(hold.Orders),
		Orders:        hold.Orders,
		Total:         hold.Total,
		Currency:      hold.Currency,
	}
}

func checkoutLineItems(hold domain.PendingCheckout) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(hold.Orders))
	for _, order := range hold.Orders {
		line := payments.CheckoutLineItem{
			Name:     printLabel(order.Print),
			SKU:      printSKU(order.Print),
			ImageURL: order.Print.ImageURL,
			Currency: order.Currency,
			Quantity: int64(order.Print.Quantity),
		}
		if order.Print.FrameColor != "" {
			line.Description = string(order.Print.FrameColor) + " frame"
		}
		quantity := order.Print.Quantity
		if quantity < 1 {
			quantity = 1
		}
		unit, err := payments.MinorUnits(order.Print.Price.Div(decimal.NewFromInt(int64(quantity))), order.Currency)
		if err != nil {
			// Unit price does not divide evenly; charge the line as a whole.
			total, totalErr := payments.MinorUnits(order.Print.Price, order.Currency)
			if totalErr != nil {
				return nil
			}
			line.Quantity = 1
			unit = total
		}
		line.Amount = unit
		items = append(items, line)
	}
	return items
}

func printLabel(p domain.PrintData) string {
	kind := string(p.Type)
	if kind != "" {
		kind = strings.ToUpper(kind[:1]) + kind[1:]
	}
	return strings.TrimSpace(fmt.Sprintf("%s print %s", kind, p.Size))
}

func printSKU(p domain.PrintData) string {
	parts := []string{string(p.Type), p.Size}
	if p.FrameColor != "" {
		parts = append(parts, string(p.FrameColor))
	}
	return strings.Join(parts, ":")
}

func sanitizeCustomerText(value string) string {
	value = norm.NFC.String(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(customerTextPolicy.Sanitize(value)))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
