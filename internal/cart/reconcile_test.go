package cart

import (
	"testing"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func snapshot(stock map[catalog.StockKey]int) catalog.Snapshot {
	byID := map[string]*catalog.Product{}
	var order []string
	for k, n := range stock {
		p, ok := byID[k.ProductID]
		if !ok {
			p = &catalog.Product{ID: k.ProductID, Price: decimal.NewFromInt(10)}
			byID[k.ProductID] = p
			order = append(order, k.ProductID)
		}
		p.Sizes = append(p.Sizes, catalog.SizeStock{Size: k.Size, Stock: n})
	}
	ps := make([]catalog.Product, 0, len(order))
	for _, id := range order {
		ps = append(ps, *byID[id])
	}
	return catalog.NewSnapshot(ps)
}

func TestReconcile(t *testing.T) {
	snap := snapshot(map[catalog.StockKey]int{
		{ProductID: "p1", Size: catalog.SizeM}: 3,
		{ProductID: "p1", Size: catalog.SizeL}: 0,
		{ProductID: "p2", Size: catalog.SizeS}: 10,
	})

	tests := []struct {
		name string
		in   Line
		want Line
	}{
		{
			name: "clamps to stock",
			in:   Line{ProductID: "p1", Size: catalog.SizeM, Quantity: 5},
			want: Line{ProductID: "p1", Size: catalog.SizeM, Quantity: 3, Valid: true},
		},
		{
			name: "zero stock is out of stock, quantity kept",
			in:   Line{ProductID: "p1", Size: catalog.SizeL, Quantity: 2},
			want: Line{ProductID: "p1", Size: catalog.SizeL, Quantity: 2, Reason: ReasonOutOfStock},
		},
		{
			name: "missing size is out of stock",
			in:   Line{ProductID: "p1", Size: catalog.SizeXXL, Quantity: 1},
			want: Line{ProductID: "p1", Size: catalog.SizeXXL, Quantity: 1, Reason: ReasonOutOfStock},
		},
		{
			name: "missing product is out of stock",
			in:   Line{ProductID: "gone", Size: catalog.SizeM, Quantity: 4},
			want: Line{ProductID: "gone", Size: catalog.SizeM, Quantity: 4, Reason: ReasonOutOfStock},
		},
		{
			name: "enough stock unchanged",
			in:   Line{ProductID: "p2", Size: catalog.SizeS, Quantity: 10},
			want: Line{ProductID: "p2", Size: catalog.SizeS, Quantity: 10, Valid: true},
		},
		{
			name: "stale invalid flag is recomputed",
			in:   Line{ProductID: "p2", Size: catalog.SizeS, Quantity: 1, Reason: ReasonOutOfStock},
			want: Line{ProductID: "p2", Size: catalog.SizeS, Quantity: 1, Valid: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile([]Line{tt.in}, snap)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestReconcileDropsEmptyLinesAndKeepsOrder(t *testing.T) {
	snap := snapshot(map[catalog.StockKey]int{
		{ProductID: "a", Size: catalog.SizeS}: 1,
		{ProductID: "b", Size: catalog.SizeS}: 1,
	})
	in := []Line{
		{ProductID: "b", Size: catalog.SizeS, Quantity: 1},
		{ProductID: "a", Size: catalog.SizeS, Quantity: 0},
		{ProductID: "a", Size: catalog.SizeS, Quantity: 1},
	}

	got := Reconcile(in, snap)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ProductID)
	assert.Equal(t, "a", got[1].ProductID)
	assert.Equal(t, 1, in[0].Quantity, "input must not be modified")
	assert.False(t, in[0].Valid)
}

func TestSummarize(t *testing.T) {
	snap := snapshot(map[catalog.StockKey]int{
		{ProductID: "p1", Size: catalog.SizeM}: 3,
		{ProductID: "p1", Size: catalog.SizeL}: 0,
	})
	s := Summarize([]Line{
		{ProductID: "p1", Size: catalog.SizeM, Quantity: 5},
		{ProductID: "p1", Size: catalog.SizeL, Quantity: 1},
	}, snap)

	assert.True(t, s.Changed)
	assert.Equal(t, 3, s.Items)
	assert.True(t, s.Subtotal.Equal(decimal.NewFromInt(30)))
	assert.Len(t, Purchasable(s.Lines), 1)
}

var genSize = rapid.SampledFrom(catalog.Sizes)

func genSnapshot(t *rapid.T) catalog.Snapshot {
	stock := map[catalog.StockKey]int{}
	for _, id := range []string{"p1", "p2", "p3"} {
		for _, sz := range catalog.Sizes {
			if rapid.Bool().Draw(t, "has-"+id+string(sz)) {
				stock[catalog.StockKey{ProductID: id, Size: sz}] = rapid.IntRange(0, 6).Draw(t, "stock")
			}
		}
	}
	return snapshot(stock)
}

func genLines(t *rapid.T) []Line {
	seen := map[Key]bool{}
	var lines []Line
	n := rapid.IntRange(0, 8).Draw(t, "lines")
	for i := 0; i < n; i++ {
		l := Line{
			ProductID: rapid.SampledFrom([]string{"p1", "p2", "p3", "p4"}).Draw(t, "product"),
			Size:      genSize.Draw(t, "size"),
			Quantity:  rapid.IntRange(1, 9).Draw(t, "qty"),
		}
		if seen[l.Key()] {
			continue
		}
		seen[l.Key()] = true
		lines = append(lines, l)
	}
	return lines
}

func TestReconcileIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		snap := genSnapshot(t)
		once := Reconcile(genLines(t), snap)
		twice := Reconcile(once, snap)
		if !assert.ObjectsAreEqual(once, twice) {
			t.Fatalf("reconcile not idempotent:\nonce  %+v\ntwice %+v", once, twice)
		}
	})
}

func TestReconcileNeverExceedsStock(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		snap := genSnapshot(t)
		in := genLines(t)
		out := Reconcile(in, snap)
		if len(out) != len(in) {
			t.Fatalf("positive lines must survive: %d in, %d out", len(in), len(out))
		}
		for i, l := range out {
			stock, ok := snap.Stock(l.ProductID, l.Size)
			switch {
			case !ok || stock == 0:
				if l.Valid || l.Reason != ReasonOutOfStock || l.Quantity != in[i].Quantity {
					t.Fatalf("expected out of stock with kept quantity: %+v", l)
				}
			default:
				if !l.Valid || l.Quantity > stock || l.Quantity != min(in[i].Quantity, stock) {
					t.Fatalf("expected clamp to %d: in %+v out %+v", stock, in[i], l)
				}
			}
		}
	})
}
