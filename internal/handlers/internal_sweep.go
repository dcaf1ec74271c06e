package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/printhaus/api/internal/platform/httpx"
	"github.com/printhaus/api/internal/platform/observability"
	"github.com/printhaus/api/internal/platform/requestctx"
	"github.com/printhaus/api/internal/services"
)

// InternalHoldHandlers lets Cloud Scheduler trigger the hold sweep. The group is expected
// to be guarded by OIDC verification.
type InternalHoldHandlers struct {
	sweeper services.HoldSweeper
	metrics *observability.CheckoutMetrics
}

// NewInternalHoldHandlers constructs the sweep trigger.
func NewInternalHoldHandlers(sweeper services.HoldSweeper, metrics *observability.CheckoutMetrics) *InternalHoldHandlers {
	return &InternalHoldHandlers{sweeper: sweeper, metrics: metrics}
}

// Routes registers internal hold endpoints under the provided router.
func (h *InternalHoldHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout/holds:sweep", h.sweep)
}

type sweepResponse struct {
	Removed int `json:"removed"`
	Batches int `json:"batches"`
}

func (h *InternalHoldHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "hold sweeper unavailable", http.StatusServiceUnavailable))
		return
	}
	result, err := h.sweeper.Sweep(ctx)
	h.metrics.RecordSweep(ctx, result.Removed)
	if err != nil {
		requestctx.Logger(ctx).Error("hold sweep failed", zap.Error(err), zap.Int("removed", result.Removed))
		httpx.WriteError(ctx, w, httpx.NewError("sweep_failed", "hold sweep failed", http.StatusServiceUnavailable).
			WithDetails(map[string]any{"removed": result.Removed}))
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepResponse{Removed: result.Removed, Batches: result.Batches})
}
