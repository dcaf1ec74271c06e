package cart

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/printhaus/api/internal/domain"
)

const (
	// MinQuantity is the smallest quantity accepted for a line.
	MinQuantity = 1
	// MaxQuantity is the policy cap for a single line.
	MaxQuantity = 10
)

var (
	// ErrInvalidItem is returned when an item specification is incomplete.
	ErrInvalidItem = errors.New("cart: invalid item")
	// ErrInvalidQuantity is returned when quantity is outside MinQuantity..MaxQuantity.
	ErrInvalidQuantity = errors.New("cart: invalid quantity")
	// ErrItemNotFound is returned when no line matches the id.
	ErrItemNotFound = errors.New("cart: item not found")
)

// PriceLookup resolves unit prices.
type PriceLookup interface {
	PriceOf(printType domain.PrintType, size string, frame domain.FrameColor) (decimal.Decimal, error)
	Currency() string
}

// ItemSpec is the configuration of a line as chosen by the customer.
type ItemSpec struct {
	Image      Image
	Type       domain.PrintType
	Size       string
	FrameColor domain.FrameColor
	Quantity   int
}

// Item is a priced cart line. Price is frozen when the line is added or reconfigured.
type Item struct {
	ID         string
	Image      Image
	Preview    Preview
	Type       domain.PrintType
	Size       string
	FrameColor domain.FrameColor
	Quantity   int
	UnitPrice  decimal.Decimal
	Price      decimal.Decimal
}

// Option customises a Cart.
type Option func(*Cart)

// WithIDGenerator overrides line id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Cart) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Cart is a transient collection of lines for one configuration session.
// It is safe for concurrent use; checkout itself assumes one caller per cart.
type Cart struct {
	mu       sync.Mutex
	prices   PriceLookup
	newID    func() string
	items    []*Item
	uploads  map[Image]string
	currency string
}

// New constructs an empty cart priced by the lookup.
func New(prices PriceLookup, opts ...Option) (*Cart, error) {
	if prices == nil {
		return nil, errors.New("cart: price lookup is required")
	}
	c := &Cart{
		prices:   prices,
		newID:    uuid.NewString,
		uploads:  make(map[Image]string),
		currency: prices.Currency(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Add appends a new line. Identical configurations are never merged.
func (c *Cart) Add(spec ItemSpec) (Item, error) {
	if spec.Image == nil {
		return Item{}, fmt.Errorf("%w: image is required", ErrInvalidItem)
	}
	item := &Item{ID: c.newID(), Image: spec.Image}
	if err := c.configure(item, spec); err != nil {
		return Item{}, err
	}
	if previewer, ok := spec.Image.(Previewer); ok {
		preview, err := previewer.Preview()
		if err != nil {
			return Item{}, fmt.Errorf("cart: open preview: %w", err)
		}
		item.Preview = preview
	}

	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
	return *item, nil
}

// Update reconfigures an existing line and recomputes its price. The image is kept.
func (c *Cart) Update(id string, spec ItemSpec) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.items {
		if item.ID != id {
			continue
		}
		next := *item
		if err := c.configure(&next, spec); err != nil {
			return Item{}, err
		}
		*item = next
		return next, nil
	}
	return Item{}, ErrItemNotFound
}

// Remove deletes a line and releases its preview.
func (c *Cart) Remove(id string) error {
	c.mu.Lock()
	var removed *Item
	for i, item := range c.items {
		if item.ID == id {
			removed = item
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if removed == nil {
		return ErrItemNotFound
	}
	return releasePreview(removed)
}

// Clear removes every line and releases all previews.
func (c *Cart) Clear() error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.uploads = make(map[Image]string)
	c.mu.Unlock()

	var errs []error
	for _, item := range items {
		if err := releasePreview(item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Items returns a snapshot of the lines in insertion order.
func (c *Cart) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, *item)
	}
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Total sums the line prices.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, item := range c.items {
		total = total.Add(item.Price)
	}
	return total
}

// Currency returns the currency the lines were priced in.
func (c *Cart) Currency() string {
	return c.currency
}

// ResolvedURL returns the durable URL previously recorded for the image handle.
func (c *Cart) ResolvedURL(img Image) (string, bool) {
	if img == nil {
		return "", false
	}
	if resolved, ok := img.(Resolved); ok && resolved.URL() != "" {
		return resolved.URL(), true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.uploads[img]
	return url, ok
}

// RecordUpload remembers the durable URL for an image handle so later attempts reuse it.
func (c *Cart) RecordUpload(img Image, url string) {
	if img == nil || strings.TrimSpace(url) == "" {
		return
	}
	c.mu.Lock()
	c.uploads[img] = url
	c.mu.Unlock()
}

// Uploads returns the recorded image URLs keyed by line id. Lines sharing a handle report
// the same URL.
func (c *Cart) Uploads() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.items))
	for _, item := range c.items {
		if url, ok := c.uploads[item.Image]; ok {
			out[item.ID] = url
		}
	}
	return out
}

func (c *Cart) configure(item *Item, spec ItemSpec) error {
	printType, ok := domain.ParsePrintType(string(spec.Type))
	if !ok {
		return fmt.Errorf("%w: unknown print type %q", ErrInvalidItem, spec.Type)
	}
	size := strings.TrimSpace(spec.Size)
	if size == "" {
		return fmt.Errorf("%w: size is required", ErrInvalidItem)
	}
	if spec.Quantity < MinQuantity || spec.Quantity > MaxQuantity {
		return fmt.Errorf("%w: %d not in %d..%d", ErrInvalidQuantity, spec.Quantity, MinQuantity, MaxQuantity)
	}

	var frame domain.FrameColor
	if printType == domain.PrintTypeFramed {
		parsed, ok := domain.ParseFrameColor(string(spec.FrameColor))
		if !ok {
			return fmt.Errorf("%w: frame colour is required for framed prints", ErrInvalidItem)
		}
		frame = parsed
	}

	unit, err := c.prices.PriceOf(printType, size, frame)
	if err != nil {
		return err
	}

	item.Type = printType
	item.Size = size
	item.FrameColor = frame
	item.Quantity = spec.Quantity
	item.UnitPrice = unit
	item.Price = unit.Mul(decimal.NewFromInt(int64(spec.Quantity)))
	return nil
}

func releasePreview(item *Item) error {
	if item == nil || item.Preview == nil {
		return nil
	}
	err := item.Preview.Close()
	item.Preview = nil
	return err
}
