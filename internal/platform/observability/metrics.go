package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/printhaus/api/internal/platform/observability"

// CheckoutMetrics counts checkout submissions and payment confirmations.
type CheckoutMetrics struct {
	checkouts     metric.Int64Counter
	confirmations metric.Int64Counter
	sweptHolds    metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout counters on meter, or on the global meter
// provider when meter is nil. Registration failures leave the affected counter disabled.
func NewCheckoutMetrics(meter metric.Meter, logger *zap.Logger) *CheckoutMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &CheckoutMetrics{}
	var err error
	if m.checkouts, err = meter.Int64Counter("checkout.submissions",
		metric.WithDescription("Checkout submissions by payment method and outcome")); err != nil {
		logger.Warn("metrics: checkout counter unavailable", zap.Error(err))
	}
	if m.confirmations, err = meter.Int64Counter("checkout.confirmations",
		metric.WithDescription("Payment confirmation signals by source and outcome")); err != nil {
		logger.Warn("metrics: confirmation counter unavailable", zap.Error(err))
	}
	if m.sweptHolds, err = meter.Int64Counter("checkout.holds.swept",
		metric.WithDescription("Expired checkout holds removed by the sweeper")); err != nil {
		logger.Warn("metrics: sweep counter unavailable", zap.Error(err))
	}
	return m
}

// RecordCheckout counts one submission. outcome is "ok" or an error code.
func (m *CheckoutMetrics) RecordCheckout(ctx context.Context, paymentMethod, outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", paymentMethod),
		attribute.String("outcome", outcome),
	))
}

// RecordConfirmation counts one confirmation signal.
func (m *CheckoutMetrics) RecordConfirmation(ctx context.Context, source, outcome string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordSweep adds removed holds to the sweep counter.
func (m *CheckoutMetrics) RecordSweep(ctx context.Context, removed int) {
	if m == nil || m.sweptHolds == nil || removed <= 0 {
		return
	}
	m.sweptHolds.Add(ctx, int64(removed))
}
