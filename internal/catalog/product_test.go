package catalog

import (
	"encoding/json"
	"testing"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	s, err := ParseSize(" xl ")
	require.NoError(t, err)
	assert.Equal(t, SizeXL, s)

	_, err = ParseSize("XS")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSizeOrdering(t *testing.T) {
	ss := []SizeStock{{SizeXXL, 1}, {SizeS, 2}, {SizeL, 3}, {SizeM, 4}, {SizeXL, 5}}
	SortSizes(ss)

	got := make([]Size, len(ss))
	for i, s := range ss {
		got[i] = s.Size
	}
	assert.Equal(t, Sizes, got)
}

func TestProductValidate(t *testing.T) {
	p := Product{
		Name:  "  Tee ",
		Price: decimal.RequireFromString("19.99"),
		Sizes: []SizeStock{{SizeL, 1}, {SizeS, 0}},
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, "Tee", p.Name)
	assert.Equal(t, SizeS, p.Sizes[0].Size)

	tests := []struct {
		name  string
		p     Product
		field string
	}{
		{"missing name", Product{Price: decimal.NewFromInt(1)}, "name"},
		{"negative price", Product{Name: "x", Price: decimal.NewFromInt(-1)}, "price"},
		{"sub-cent price", Product{Name: "x", Price: decimal.RequireFromString("1.005")}, "price"},
		{"unknown size", Product{Name: "x", Sizes: []SizeStock{{"XS", 1}}}, "sizes"},
		{"duplicate size", Product{Name: "x", Sizes: []SizeStock{{SizeM, 1}, {SizeM, 2}}}, "sizes"},
		{"negative stock", Product{Name: "x", Sizes: []SizeStock{{SizeM, -1}}}, "sizes"},
		{"too many images", Product{Name: "x", Images: []string{"1", "2", "3", "4", "5"}}, "images"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Contains(t, e.Details["fields"], tt.field)
		})
	}
}

func TestStockFor(t *testing.T) {
	p := Product{Sizes: []SizeStock{{SizeM, 3}, {SizeL, 0}}}

	n, ok := p.StockFor(SizeM)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = p.StockFor(SizeL)
	assert.True(t, ok)
	assert.Zero(t, n)

	_, ok = p.StockFor(SizeXL)
	assert.False(t, ok)
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(1999), Cents(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), Cents(decimal.NewFromInt(10)))
	assert.True(t, FromCents(1999).Equal(decimal.RequireFromString("19.99")))
}

func TestSortKeys(t *testing.T) {
	keys := []StockKey{{"b", SizeS}, {"a", SizeXL}, {"a", SizeL}, {"a", SizeS}, {"a-1", SizeM}}
	SortKeys(keys)
	// labels compare as bytes, not by garment size: L < S < XL
	assert.Equal(t, []StockKey{{"a", SizeL}, {"a", SizeS}, {"a", SizeXL}, {"a-1", SizeM}, {"b", SizeS}}, keys)
}

func TestSnapshot(t *testing.T) {
	sizes := []SizeStock{{SizeM, 2}}
	snap := NewSnapshot([]Product{
		{ID: "p2", Name: "B", Sizes: sizes},
		{ID: "p1", Name: "A"},
	})
	sizes[0].Stock = 99

	n, ok := snap.Stock("p2", SizeM)
	require.True(t, ok)
	assert.Equal(t, 2, n, "snapshot must not alias caller slices")

	_, ok = snap.Stock("p1", SizeM)
	assert.False(t, ok)
	_, ok = snap.Stock("nope", SizeM)
	assert.False(t, ok)

	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, "p2", snap.Products()[0].ID)
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := NewSnapshot([]Product{{ID: "p1", Name: "A", Price: decimal.RequireFromString("5.50"), Sizes: []SizeStock{{SizeS, 1}}}})

	b, err := json.Marshal(snap)
	require.NoError(t, err)

	var back Snapshot
	require.NoError(t, json.Unmarshal(b, &back))
	p, ok := back.Product("p1")
	require.True(t, ok)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("5.5")))
	assert.Equal(t, []SizeStock{{SizeS, 1}}, p.Sizes)
}
