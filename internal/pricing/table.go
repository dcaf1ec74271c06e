package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/printhaus/api/internal/domain"
)

//go:embed default_table.yaml
var defaultTableYAML []byte

var (
	// ErrUnknownSize is returned when a size key is not part of the table.
	ErrUnknownSize = errors.New("pricing: unknown size")
	// ErrUnknownPrintType is returned when no price exists for the print type.
	ErrUnknownPrintType = errors.New("pricing: unknown print type")
	// ErrFrameColorRequired is returned when a framed print lacks a valid frame colour.
	ErrFrameColorRequired = errors.New("pricing: frame colour required")
	// ErrInvalidTable is returned when a table document cannot be used.
	ErrInvalidTable = errors.New("pricing: invalid table")
)

// ConfigError reports a lookup that the static configuration cannot answer.
type ConfigError struct {
	Type       domain.PrintType
	Size       string
	FrameColor domain.FrameColor
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v (type=%q size=%q frame=%q)", e.Err, e.Type, e.Size, e.FrameColor)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Dimensions reports the physical size of a print.
type Dimensions struct {
	WidthCM  int
	HeightCM int
}

// Size is one row of the table.
type Size struct {
	Key        string
	Dimensions Dimensions
	Prices     map[domain.PrintType]decimal.Decimal
}

// Lookup is the read contract used by the cart and handlers.
type Lookup interface {
	PriceOf(printType domain.PrintType, size string, frame domain.FrameColor) (decimal.Decimal, error)
	DimensionsOf(size string) (Dimensions, error)
	Currency() string
}

// Table is an immutable price table keyed by print type, size and frame colour.
type Table struct {
	currency   string
	sizes      map[string]Size
	order      []string
	surcharges map[domain.FrameColor]decimal.Decimal
}

type tableDocument struct {
	Currency        string            `yaml:"currency"`
	Sizes           []sizeDocument    `yaml:"sizes"`
	FrameSurcharges map[string]string `yaml:"frame_surcharges"`
}

type sizeDocument struct {
	Key      string            `yaml:"key"`
	WidthCM  int               `yaml:"width_cm"`
	HeightCM int               `yaml:"height_cm"`
	Prices   map[string]string `yaml:"prices"`
}

// Default returns the table compiled into the binary.
func Default() (*Table, error) {
	return Parse(defaultTableYAML)
}

// LoadFile reads a YAML table from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML table document.
func Parse(data []byte) (*Table, error) {
	var doc tableDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	code := strings.ToUpper(strings.TrimSpace(doc.Currency))
	if code == "" {
		code = "EUR"
	}
	if _, err := currency.ParseISO(code); err != nil {
		return nil, fmt.Errorf("%w: currency %q: %v", ErrInvalidTable, doc.Currency, err)
	}

	table := &Table{
		currency:   code,
		sizes:      make(map[string]Size, len(doc.Sizes)),
		surcharges: make(map[domain.FrameColor]decimal.Decimal, len(doc.FrameSurcharges)),
	}

	for _, row := range doc.Sizes {
		key := normalizeSize(row.Key)
		if key == "" {
			return nil, fmt.Errorf("%w: size key is required", ErrInvalidTable)
		}
		if _, dup := table.sizes[key]; dup {
			return nil, fmt.Errorf("%w: duplicate size %q", ErrInvalidTable, key)
		}
		size := Size{
			Key:        key,
			Dimensions: Dimensions{WidthCM: row.WidthCM, HeightCM: row.HeightCM},
			Prices:     make(map[domain.PrintType]decimal.Decimal, len(row.Prices)),
		}
		for rawType, rawPrice := range row.Prices {
			printType, ok := domain.ParsePrintType(rawType)
			if !ok {
				return nil, fmt.Errorf("%w: size %q has unknown print type %q", ErrInvalidTable, key, rawType)
			}
			price, err := parseAmount(rawPrice)
			if err != nil {
				return nil, fmt.Errorf("%w: size %q type %q: %v", ErrInvalidTable, key, rawType, err)
			}
			size.Prices[printType] = price
		}
		table.sizes[key] = size
		table.order = append(table.order, key)
	}

	for rawColor, rawPrice := range doc.FrameSurcharges {
		color, ok := domain.ParseFrameColor(rawColor)
		if !ok {
			return nil, fmt.Errorf("%w: unknown frame colour %q", ErrInvalidTable, rawColor)
		}
		price, err := parseAmount(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: frame colour %q: %v", ErrInvalidTable, rawColor, err)
		}
		table.surcharges[color] = price
	}

	if len(table.sizes) == 0 {
		return nil, fmt.Errorf("%w: no sizes configured", ErrInvalidTable)
	}
	return table, nil
}

// PriceOf returns the unit price for the configuration.
func (t *Table) PriceOf(printType domain.PrintType, size string, frame domain.FrameColor) (decimal.Decimal, error) {
	key := normalizeSize(size)
	row, ok := t.sizes[key]
	if !ok {
		return decimal.Zero, &ConfigError{Type: printType, Size: size, FrameColor: frame, Err: ErrUnknownSize}
	}
	base, ok := row.Prices[printType]
	if !ok {
		return decimal.Zero, &ConfigError{Type: printType, Size: key, FrameColor: frame, Err: ErrUnknownPrintType}
	}
	if printType != domain.PrintTypeFramed {
		return base, nil
	}
	surcharge, ok := t.surcharges[frame]
	if !ok {
		return decimal.Zero, &ConfigError{Type: printType, Size: key, FrameColor: frame, Err: ErrFrameColorRequired}
	}
	return base.Add(surcharge), nil
}

// DimensionsOf returns the physical dimensions of a size key.
func (t *Table) DimensionsOf(size string) (Dimensions, error) {
	row, ok := t.sizes[normalizeSize(size)]
	if !ok {
		return Dimensions{}, &ConfigError{Size: size, Err: ErrUnknownSize}
	}
	return row.Dimensions, nil
}

// Currency returns the ISO 4217 code prices are expressed in.
func (t *Table) Currency() string {
	return t.currency
}

// Sizes returns the table rows in document order.
func (t *Table) Sizes() []Size {
	out := make([]Size, 0, len(t.order))
	for _, key := range t.order {
		row := t.sizes[key]
		prices := make(map[domain.PrintType]decimal.Decimal, len(row.Prices))
		for k, v := range row.Prices {
			prices[k] = v
		}
		row.Prices = prices
		out = append(out, row)
	}
	return out
}

// FrameSurcharges returns the per-colour surcharge for framed prints.
func (t *Table) FrameSurcharges() map[domain.FrameColor]decimal.Decimal {
	out := make(map[domain.FrameColor]decimal.Decimal, len(t.surcharges))
	for k, v := range t.surcharges {
		out[k] = v
	}
	return out
}

// FrameColors returns the configured colours in lexical order.
func (t *Table) FrameColors() []domain.FrameColor {
	out := make([]domain.FrameColor, 0, len(t.surcharges))
	for color := range t.surcharges {
		out = append(out, color)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Catalog holds the active table and allows it to be swapped at runtime.
// Lookups always observe a complete table.
type Catalog struct {
	current atomic.Pointer[Table]
}

// NewCatalog wraps the initial table.
func NewCatalog(initial *Table) (*Catalog, error) {
	if initial == nil {
		return nil, errors.New("pricing: initial table is required")
	}
	c := &Catalog{}
	c.current.Store(initial)
	return c, nil
}

// Replace swaps in a new table for subsequent lookups.
func (c *Catalog) Replace(table *Table) {
	if table == nil {
		return
	}
	c.current.Store(table)
}

// Table returns the active table.
func (c *Catalog) Table() *Table {
	return c.current.Load()
}

func (c *Catalog) PriceOf(printType domain.PrintType, size string, frame domain.FrameColor) (decimal.Decimal, error) {
	return c.Table().PriceOf(printType, size, frame)
}

func (c *Catalog) DimensionsOf(size string) (Dimensions, error) {
	return c.Table().DimensionsOf(size)
}

func (c *Catalog) Currency() string {
	return c.Table().Currency()
}

func normalizeSize(size string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(size), " ", ""))
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", raw)
	}
	return amount, nil
}
