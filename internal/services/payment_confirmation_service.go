package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/payments"
	"github.com/printhaus/api/internal/repositories"
)

// Confirmation sources.
const (
	ConfirmationSourceRedirect = "redirect"
	ConfirmationSourceWebhook  = "webhook"
)

const confirmationEventActor = "payments"

var (
	// ErrConfirmationInvalid indicates the signal carried no usable session or outcome.
	ErrConfirmationInvalid = errors.New("payments: invalid confirmation")
	// ErrPaymentNotCompleted indicates the processor does not report the session as paid.
	ErrPaymentNotCompleted = errors.New("payments: payment not completed")
	// ErrPaymentVerification indicates the processor could not be asked about the session.
	ErrPaymentVerification = errors.New("payments: session verification failed")
	// ErrConfirmationPersist indicates held orders could not be written; the hold is kept for retry.
	ErrConfirmationPersist = errors.New("payments: confirmation persistence failed")
)

// paymentSessionVerifier abstracts payments.Manager session lookups.
type paymentSessionVerifier interface {
	LookupSession(ctx context.Context, paymentCtx payments.PaymentContext, sessionID string) (payments.SessionDetails, error)
}

// PaymentConfirmationServiceDeps wires the confirmation handler.
type PaymentConfirmationServiceDeps struct {
	Holds           repositories.PendingCheckoutRepository
	Orders          repositories.OrderRepository
	UnitOfWork      repositories.UnitOfWork
	Verifier        paymentSessionVerifier
	Events          OrderEventPublisher
	PaymentProvider string
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type paymentConfirmationService struct {
	holds    repositories.PendingCheckoutRepository
	placer   orderPlacer
	verifier paymentSessionVerifier
	events   OrderEventPublisher
	provider string
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ PaymentConfirmationService = (*paymentConfirmationService)(nil)

// NewPaymentConfirmationService constructs the confirmation handler. Verifier is optional;
// without it redirect signals are trusted as reported.
func NewPaymentConfirmationService(deps PaymentConfirmationServiceDeps) (PaymentConfirmationService, error) {
	if deps.Holds == nil {
		return nil, errors.New("payment confirmation service: pending checkout repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment confirmation service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentConfirmationService{
		holds:    deps.Holds,
		placer:   orderPlacer{orders: deps.Orders, uow: deps.UnitOfWork},
		verifier: deps.Verifier,
		events:   deps.Events,
		provider: strings.TrimSpace(deps.PaymentProvider),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Confirm applies a success or cancel signal. A success for a hold that is missing,
// expired or already consumed is a no-op so repeated signals never duplicate orders.
func (s *paymentConfirmationService) Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmationResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	ref := strings.TrimSpace(cmd.CheckoutRef)
	if sessionID == "" && ref == "" {
		return ConfirmationResult{}, fmt.Errorf("%w: session id is required", ErrConfirmationInvalid)
	}
	outcome, ok := ParsePaymentOutcome(string(cmd.Outcome))
	if !ok {
		return ConfirmationResult{}, fmt.Errorf("%w: unknown outcome %q", ErrConfirmationInvalid, cmd.Outcome)
	}

	trustRef := cmd.Source == ConfirmationSourceWebhook && outcome == PaymentOutcomeSuccess
	hold, found, err := s.findHold(ctx, sessionID, ref, trustRef)
	if err != nil {
		return ConfirmationResult{}, err
	}
	if !found {
		s.logger(ctx, "payments.confirmation.noop", map[string]any{
			"sessionId":   sessionID,
			"checkoutRef": ref,
			"outcome":     string(outcome),
			"source":      cmd.Source,
		})
		return ConfirmationResult{CheckoutRef: ref, NoOp: true}, nil
	}

	if outcome == PaymentOutcomeCancel {
		return s.cancel(ctx, hold, cmd.Source)
	}
	return s.complete(ctx, hold, sessionID, cmd.Source)
}

func (s *paymentConfirmationService) cancel(ctx context.Context, hold domain.PendingCheckout, source string) (ConfirmationResult, error) {
	if err := s.holds.Delete(ctx, hold.Ref); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "payments.confirmation.discard_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"error":       err.Error(),
		})
	}
	s.logger(ctx, "payments.confirmation.cancelled", map[string]any{
		"checkoutRef": hold.Ref,
		"sessionId":   hold.SessionID,
		"source":      source,
	})
	return ConfirmationResult{CheckoutRef: hold.Ref}, nil
}

func (s *paymentConfirmationService) complete(ctx context.Context, hold domain.PendingCheckout, sessionID, source string) (ConfirmationResult, error) {
	if sessionID == "" {
		sessionID = hold.SessionID
	}
	if source != ConfirmationSourceWebhook {
		if err := s.verify(ctx, hold, sessionID); err != nil {
			return ConfirmationResult{}, err
		}
	}

	now := s.now()
	orders := make([]domain.Order, 0, len(hold.Orders))
	for _, order := range hold.Orders {
		order.Status = domain.OrderStatusPaid
		order.PaymentSessionID = sessionID
		order.CreatedAt = now
		order.UpdatedAt = now
		orders = append(orders, order)
	}

	if err := s.placer.place(ctx, orders); err != nil {
		s.logger(ctx, "payments.confirmation.persist_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"sessionId":   sessionID,
			"error":       err.Error(),
		})
		return ConfirmationResult{}, fmt.Errorf("%w: checkout %s: %w", ErrConfirmationPersist, hold.Ref, err)
	}

	if err := s.holds.Delete(ctx, hold.Ref); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "checkout.hold.delete_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"error":       err.Error(),
		})
	}

	s.logger(ctx, "payments.confirmation.completed", map[string]any{
		"checkoutRef": hold.Ref,
		"sessionId":   sessionID,
		"orders":      len(orders),
		"source":      source,
	})
	publishOrderEvents(ctx, s.events, s.logger, createdEvents(orders, confirmationEventActor))
	return ConfirmationResult{CheckoutRef: hold.Ref, OrderIDs: orderIDs(orders)}, nil
}

func (s *paymentConfirmationService) verify(ctx context.Context, hold domain.PendingCheckout, sessionID string) error {
	if s.verifier == nil {
		return nil
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrConfirmationInvalid)
	}
	details, err := s.verifier.LookupSession(ctx, payments.PaymentContext{
		PreferredProvider: s.provider,
		Currency:          hold.Currency,
	}, sessionID)
	if err != nil {
		s.logger(ctx, "payments.confirmation.verify_failed", map[string]any{
			"checkoutRef": hold.Ref,
			"sessionId":   sessionID,
			"error":       err.Error(),
		})
		return fmt.Errorf("%w: %w", ErrPaymentVerification, err)
	}
	if ref := details.Metadata[payments.MetadataCheckoutRef]; ref != "" && ref != hold.Ref {
		return fmt.Errorf("%w: session %s belongs to checkout %s", ErrConfirmationInvalid, sessionID, ref)
	}
	if !details.Paid() {
		return fmt.Errorf("%w: session %s is %s", ErrPaymentNotCompleted, sessionID, details.Status)
	}
	return nil
}

// findHold resolves the hold by session id, falling back to the checkout ref carried in
// processor metadata. A ref match on a hold bound to another session is accepted only when
// trustRef is set: a signed completion names the checkout its session was created for.
func (s *paymentConfirmationService) findHold(ctx context.Context, sessionID, ref string, trustRef bool) (domain.PendingCheckout, bool, error) {
	if sessionID != "" {
		hold, err := s.holds.FindBySessionID(ctx, sessionID)
		switch {
		case err == nil:
			return hold, !hold.Expired(s.now()), nil
		case !isRepoNotFound(err):
			return domain.PendingCheckout{}, false, fmt.Errorf("%w: load hold: %w", ErrConfirmationPersist, err)
		}
	}
	if ref == "" {
		return domain.PendingCheckout{}, false, nil
	}
	hold, err := s.holds.FindByRef(ctx, ref)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.PendingCheckout{}, false, nil
		}
		return domain.PendingCheckout{}, false, fmt.Errorf("%w: load hold: %w", ErrConfirmationPersist, err)
	}
	if !trustRef && sessionID != "" && hold.SessionID != "" && hold.SessionID != sessionID {
		return domain.PendingCheckout{}, false, nil
	}
	if !hold.PaymentMethod.IsOnline() {
		return domain.PendingCheckout{}, false, nil
	}
	return hold, !hold.Expired(s.now()), nil
}
