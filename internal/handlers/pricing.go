package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/cart"
	domain "github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/platform/httpx"
	"github.com/printhaus/api/internal/pricing"
)

const pricingCacheControl = "public, max-age=300"

// TableSource returns the active price table.
type TableSource interface {
	Table() *pricing.Table
}

// PricingHandlers exposes the public price table and single-line quotes.
type PricingHandlers struct {
	tables TableSource
}

// NewPricingHandlers constructs pricing handlers backed by the table source.
func NewPricingHandlers(tables TableSource) *PricingHandlers {
	return &PricingHandlers{tables: tables}
}

// Routes registers pricing endpoints under the provided router.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getTable)
	r.Get("/quote", h.getQuote)
}

type pricingSizePayload struct {
	Key      string            `json:"key"`
	WidthCM  int               `json:"widthCm"`
	HeightCM int               `json:"heightCm"`
	Prices   map[string]string `json:"prices"`
}

type pricingTableResponse struct {
	Currency        string               `json:"currency"`
	Sizes           []pricingSizePayload `json:"sizes"`
	FrameSurcharges map[string]string    `json:"frameSurcharges"`
	MinQuantity     int                  `json:"minQuantity"`
	MaxQuantity     int                  `json:"maxQuantity"`
}

type quoteResponse struct {
	Type       string `json:"type"`
	Size       string `json:"size"`
	FrameColor string `json:"frameColor,omitempty"`
	Quantity   int    `json:"quantity"`
	WidthCM    int    `json:"widthCm"`
	HeightCM   int    `json:"heightCm"`
	UnitPrice  string `json:"unitPrice"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

func (h *PricingHandlers) getTable(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}

	resp := pricingTableResponse{
		Currency:        table.Currency(),
		FrameSurcharges: make(map[string]string),
		MinQuantity:     cart.MinQuantity,
		MaxQuantity:     cart.MaxQuantity,
	}
	for _, size := range table.Sizes() {
		prices := make(map[string]string, len(size.Prices))
		for printType, amount := range size.Prices {
			prices[string(printType)] = formatAmount(amount)
		}
		resp.Sizes = append(resp.Sizes, pricingSizePayload{
			Key:      size.Key,
			WidthCM:  size.Dimensions.WidthCM,
			HeightCM: size.Dimensions.HeightCM,
			Prices:   prices,
		})
	}
	for color, amount := range table.FrameSurcharges() {
		resp.FrameSurcharges[string(color)] = formatAmount(amount)
	}

	w.Header().Set("Cache-Control", pricingCacheControl)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *PricingHandlers) getQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table, ok := h.table(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	printType, ok := domain.ParsePrintType(query.Get("type"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "type must be canvas, framed or sticker", http.StatusBadRequest))
		return
	}
	size := strings.TrimSpace(query.Get("size"))
	if size == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "size is required", http.StatusBadRequest))
		return
	}
	var frame domain.FrameColor
	if raw := strings.TrimSpace(query.Get("frameColor")); raw != "" {
		if frame, ok = domain.ParseFrameColor(raw); !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "frameColor is not recognised", http.StatusBadRequest))
			return
		}
	}
	quantity := cart.MinQuantity
	if raw := strings.TrimSpace(query.Get("quantity")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < cart.MinQuantity || parsed > cart.MaxQuantity {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity",
				"quantity must be between "+strconv.Itoa(cart.MinQuantity)+" and "+strconv.Itoa(cart.MaxQuantity), http.StatusBadRequest))
			return
		}
		quantity = parsed
	}

	unit, err := table.PriceOf(printType, size, frame)
	if err != nil {
		writePricingError(w, r, err)
		return
	}
	dims, err := table.DimensionsOf(size)
	if err != nil {
		writePricingError(w, r, err)
		return
	}
	if printType != domain.PrintTypeFramed {
		frame = ""
	}

	writeJSONResponse(w, http.StatusOK, quoteResponse{
		Type:       string(printType),
		Size:       size,
		FrameColor: string(frame),
		Quantity:   quantity,
		WidthCM:    dims.WidthCM,
		HeightCM:   dims.HeightCM,
		UnitPrice:  formatAmount(unit),
		Price:      formatAmount(unit.Mul(decimal.NewFromInt(int64(quantity)))),
		Currency:   table.Currency(),
	})
}

func (h *PricingHandlers) table(w http.ResponseWriter, r *http.Request) (*pricing.Table, bool) {
	var table *pricing.Table
	if h.tables != nil {
		table = h.tables.Table()
	}
	if table == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("pricing_unavailable", "pricing table unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return table, true
}

func writePricingError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, pricing.ErrUnknownSize):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_size", "size is not offered", http.StatusUnprocessableEntity))
	case errors.Is(err, pricing.ErrUnknownPrintType):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_print_type", "print type is not offered in this size", http.StatusUnprocessableEntity))
	case errors.Is(err, pricing.ErrFrameColorRequired):
		httpx.WriteError(ctx, w, httpx.NewError("frame_color_required", "framed prints require a frame colour", http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("pricing_error", "failed to price item", http.StatusInternalServerError))
	}
}
