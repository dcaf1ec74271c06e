package cart

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/pricing"
)

type trackedImage struct {
	name     string
	previews int
	closed   int
}

func (t *trackedImage) Name() string        { return t.name }
func (t *trackedImage) ContentType() string { return "image/png" }
func (t *trackedImage) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("png")), nil
}

func (t *trackedImage) Preview() (Preview, error) {
	t.previews++
	return closerFunc(func() error {
		t.closed++
		return nil
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newTestCart(t *testing.T) (*Cart, *pricing.Catalog) {
	t.Helper()
	table, err := pricing.Default()
	require.NoError(t, err)
	catalog, err := pricing.NewCatalog(table)
	require.NoError(t, err)

	seq := 0
	c, err := New(catalog, WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("item-%d", seq)
	}))
	require.NoError(t, err)
	return c, catalog
}

func TestCartAddKeepsSeparateLines(t *testing.T) {
	c, _ := newTestCart(t)
	img := &trackedImage{name: "a.png"}

	first, err := c.Add(ItemSpec{Image: img, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 1})
	require.NoError(t, err)
	second, err := c.Add(ItemSpec{Image: img, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 2})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "45", first.Price.String())
	assert.Equal(t, "90", second.Price.String())
	assert.Equal(t, "135", c.Total().String())
	assert.Equal(t, 2, img.previews)
}

func TestCartRejectsInvalidSpecs(t *testing.T) {
	c, _ := newTestCart(t)
	img := &trackedImage{name: "a.png"}

	_, err := c.Add(ItemSpec{Image: img, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = c.Add(ItemSpec{Image: img, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 11})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = c.Add(ItemSpec{Image: img, Type: domain.PrintTypeFramed, Size: "30x20", Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidItem)
	_, err = c.Add(ItemSpec{Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidItem)
	_, err = c.Add(ItemSpec{Image: img, Type: domain.PrintTypeCanvas, Size: "7x7", Quantity: 1})
	assert.ErrorIs(t, err, pricing.ErrUnknownSize)

	assert.Zero(t, c.Len())
	assert.Zero(t, img.previews)
}

func TestCartPriceIsFrozenAtAddTime(t *testing.T) {
	c, catalog := newTestCart(t)
	item, err := c.Add(ItemSpec{Image: &trackedImage{name: "a.png"}, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 1})
	require.NoError(t, err)

	raised, err := pricing.Parse([]byte("currency: EUR\nsizes:\n  - key: 30x20\n    prices: {canvas: '99.00'}\n"))
	require.NoError(t, err)
	catalog.Replace(raised)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
	assert.True(t, items[0].Price.Equal(decimal.NewFromInt(45)))
	assert.True(t, c.Total().Equal(decimal.NewFromInt(45)))
}

func TestCartUpdateRecomputesPrice(t *testing.T) {
	c, _ := newTestCart(t)
	item, err := c.Add(ItemSpec{Image: &trackedImage{name: "a.png"}, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 1})
	require.NoError(t, err)

	updated, err := c.Update(item.ID, ItemSpec{Type: domain.PrintTypeFramed, Size: "30x20", FrameColor: domain.FrameColorSilver, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "60", updated.UnitPrice.String())
	assert.Equal(t, "180", updated.Price.String())
	assert.Equal(t, "180", c.Total().String())

	_, err = c.Update("missing", ItemSpec{Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 1})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestCartRemoveAndClearReleasePreviews(t *testing.T) {
	c, _ := newTestCart(t)
	first := &trackedImage{name: "a.png"}
	second := &trackedImage{name: "b.png"}

	a, err := c.Add(ItemSpec{Image: first, Type: domain.PrintTypeSticker, Size: "20x20", Quantity: 1})
	require.NoError(t, err)
	_, err = c.Add(ItemSpec{Image: second, Type: domain.PrintTypeSticker, Size: "20x20", Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, c.Remove(a.ID))
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, "15", c.Total().String())
	assert.ErrorIs(t, c.Remove(a.ID), ErrItemNotFound)

	require.NoError(t, c.Clear())
	assert.Equal(t, 1, second.closed)
	assert.Zero(t, c.Len())
	assert.True(t, c.Total().IsZero())
}

func TestCartRecordsUploadsByHandle(t *testing.T) {
	c, _ := newTestCart(t)
	shared := NewBytesImage("same.png", "image/png", []byte("x"))
	lookalike := NewBytesImage("same.png", "image/png", []byte("x"))

	c.RecordUpload(shared, "https://cdn.example/one.png")

	url, ok := c.ResolvedURL(shared)
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example/one.png", url)

	_, ok = c.ResolvedURL(lookalike)
	assert.False(t, ok)

	url, ok = c.ResolvedURL(NewUploadedImage("https://cdn.example/two.png"))
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example/two.png", url)
}

func TestCartUploadsAreKeyedByLine(t *testing.T) {
	c, _ := newTestCart(t)
	left := NewBytesImage("photo.jpg", "image/jpeg", []byte("left"))
	right := NewBytesImage("photo.jpg", "image/jpeg", []byte("right"))
	first, err := c.Add(ItemSpec{Image: left, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 1})
	require.NoError(t, err)
	second, err := c.Add(ItemSpec{Image: right, Type: domain.PrintTypeCanvas, Size: "30x20", Quantity: 1})
	require.NoError(t, err)
	again, err := c.Add(ItemSpec{Image: left, Type: domain.PrintTypeSticker, Size: "20x20", Quantity: 2})
	require.NoError(t, err)

	c.RecordUpload(left, "https://cdn.example/left.jpg")
	c.RecordUpload(right, "https://cdn.example/right.jpg")

	assert.Equal(t, map[string]string{
		first.ID:  "https://cdn.example/left.jpg",
		second.ID: "https://cdn.example/right.jpg",
		again.ID:  "https://cdn.example/left.jpg",
	}, c.Uploads())
}
