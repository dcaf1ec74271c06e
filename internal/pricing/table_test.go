package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printhaus/api/internal/domain"
)

func TestDefaultTablePrices(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "EUR", table.Currency())

	tests := []struct {
		name  string
		typ   domain.PrintType
		size  string
		frame domain.FrameColor
		want  string
	}{
		{name: "canvas", typ: domain.PrintTypeCanvas, size: "30x20", want: "45"},
		{name: "canvas ignores frame colour", typ: domain.PrintTypeCanvas, size: "30x20", frame: domain.FrameColorSilver, want: "45"},
		{name: "framed black", typ: domain.PrintTypeFramed, size: "30x20", frame: domain.FrameColorBlack, want: "55"},
		{name: "framed silver surcharge", typ: domain.PrintTypeFramed, size: "30x20", frame: domain.FrameColorSilver, want: "60"},
		{name: "sticker tolerant size key", typ: domain.PrintTypeSticker, size: " 40X30 ", want: "25"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := table.PriceOf(tc.typ, tc.size, tc.frame)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestPriceOfErrors(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	_, err = table.PriceOf(domain.PrintTypeCanvas, "1x1", "")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrUnknownSize)
	assert.Equal(t, "1x1", cfgErr.Size)

	_, err = table.PriceOf(domain.PrintTypeFramed, "30x20", "")
	assert.ErrorIs(t, err, ErrFrameColorRequired)

	_, err = table.PriceOf(domain.PrintType("poster"), "30x20", "")
	assert.ErrorIs(t, err, ErrUnknownPrintType)
}

func TestDimensionsOf(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	dims, err := table.DimensionsOf("60x40")
	require.NoError(t, err)
	assert.Equal(t, Dimensions{WidthCM: 60, HeightCM: 40}, dims)

	_, err = table.DimensionsOf("nope")
	assert.ErrorIs(t, err, ErrUnknownSize)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"no sizes":        "currency: EUR\nsizes: []\n",
		"bad currency":    "currency: XYZW\nsizes:\n  - key: a\n    prices: {canvas: '1'}\n",
		"unknown type":    "sizes:\n  - key: a\n    prices: {poster: '1'}\n",
		"negative amount": "sizes:\n  - key: a\n    prices: {canvas: '-1'}\n",
		"duplicate size":  "sizes:\n  - key: a\n    prices: {canvas: '1'}\n  - key: A\n    prices: {canvas: '2'}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTable))
		})
	}
}

func TestCatalogReplace(t *testing.T) {
	initial, err := Default()
	require.NoError(t, err)
	catalog, err := NewCatalog(initial)
	require.NoError(t, err)

	updated, err := Parse([]byte("currency: EUR\nsizes:\n  - key: 30x20\n    prices: {canvas: '50.00'}\n"))
	require.NoError(t, err)
	catalog.Replace(updated)

	price, err := catalog.PriceOf(domain.PrintTypeCanvas, "30x20", "")
	require.NoError(t, err)
	assert.Equal(t, "50", price.String())
}
