package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/printhaus/api/internal/payments"
	"github.com/printhaus/api/internal/platform/storage"
)

var (
	// ErrCheckoutValidation indicates the submission is incomplete; nothing was uploaded or stored.
	ErrCheckoutValidation = errors.New("checkout: validation failed")
	// ErrCheckoutUpload indicates an image could not be stored; no order was created.
	ErrCheckoutUpload = errors.New("checkout: image upload failed")
	// ErrCheckoutPaymentSession indicates the payment processor refused or could not be reached.
	ErrCheckoutPaymentSession = errors.New("checkout: payment session failed")
	// ErrCheckoutPersist indicates orders could not be written to the order store.
	ErrCheckoutPersist = errors.New("checkout: order persistence failed")
	// ErrCheckoutHoldNotFound indicates the referenced hold is unknown, expired or already consumed.
	ErrCheckoutHoldNotFound = errors.New("checkout: hold not found")
	// ErrCheckoutSessionOpen indicates the hold is already bound to a session that is open or paid.
	ErrCheckoutSessionOpen = errors.New("checkout: payment session already open")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// CheckoutValidationError lists the reasons a submission was rejected.
type CheckoutValidationError struct {
	Fields []string
	Reason string
}

func (e *CheckoutValidationError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.Fields) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Fields, ", "))
	}
	if len(parts) == 0 {
		return ErrCheckoutValidation.Error()
	}
	return ErrCheckoutValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *CheckoutValidationError) Unwrap() error { return ErrCheckoutValidation }

// UploadFailure identifies the cart item whose image could not be stored. Uploaded maps
// the ids of lines whose images did succeed to their durable URLs; they are reused on resubmission.
type UploadFailure struct {
	ItemID   string
	Filename string
	Uploaded map[string]string
	Err      error
}

func (e *UploadFailure) Error() string {
	return fmt.Sprintf("%s: item %s (%s): %v", ErrCheckoutUpload, e.ItemID, e.Filename, e.Err)
}

func (e *UploadFailure) Unwrap() []error { return []error{ErrCheckoutUpload, e.Err} }

// PaymentSessionError carries the hold that survives a failed session request.
type PaymentSessionError struct {
	CheckoutRef string
	Err         error
}

func (e *PaymentSessionError) Error() string {
	return fmt.Sprintf("%s: checkout %s: %v", ErrCheckoutPaymentSession, e.CheckoutRef, e.Err)
}

func (e *PaymentSessionError) Unwrap() []error { return []error{ErrCheckoutPaymentSession, e.Err} }

// OrderPersistError carries the hold that keeps the resolved orders for RetryPlacement.
type OrderPersistError struct {
	CheckoutRef string
	Err         error
}

func (e *OrderPersistError) Error() string {
	return fmt.Sprintf("%s: checkout %s: %v", ErrCheckoutPersist, e.CheckoutRef, e.Err)
}

func (e *OrderPersistError) Unwrap() []error { return []error{ErrCheckoutPersist, e.Err} }

// SessionOpenError names the session that blocks a new payment attempt for the hold.
type SessionOpenError struct {
	CheckoutRef string
	SessionID   string
	Status      payments.Status
}

func (e *SessionOpenError) Error() string {
	return fmt.Sprintf("%s: checkout %s: session %s is %s", ErrCheckoutSessionOpen, e.CheckoutRef, e.SessionID, e.Status)
}

func (e *SessionOpenError) Unwrap() error { return ErrCheckoutSessionOpen }

// RetrySafe reports whether the customer can resubmit without re-selecting images.
// Rejected images (too large, wrong type) must be replaced, so those are not retry-safe.
func RetrySafe(err error) bool {
	switch {
	case err == nil, errors.Is(err, ErrCheckoutValidation):
		return false
	case errors.Is(err, ErrCheckoutUpload):
		var uploadErr *storage.UploadError
		if errors.As(err, &uploadErr) {
			return uploadErr.Retryable()
		}
		return true
	case errors.Is(err, ErrCheckoutPaymentSession), errors.Is(err, ErrCheckoutPersist):
		return true
	}
	return false
}

// CheckoutRefOf returns the hold reference carried by a checkout error, if any.
func CheckoutRefOf(err error) string {
	var sessionErr *PaymentSessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.CheckoutRef
	}
	var persistErr *OrderPersistError
	if errors.As(err, &persistErr) {
		return persistErr.CheckoutRef
	}
	var openErr *SessionOpenError
	if errors.As(err, &openErr) {
		return openErr.CheckoutRef
	}
	return ""
}
