package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/shopspring/decimal"
)

type Size string

const (
	SizeS   Size = "S"
	SizeM   Size = "M"
	SizeL   Size = "L"
	SizeXL  Size = "XL"
	SizeXXL Size = "XXL"
)

// Sizes in display order.
var Sizes = []Size{SizeS, SizeM, SizeL, SizeXL, SizeXXL}

var sizeRank = map[Size]int{SizeS: 0, SizeM: 1, SizeL: 2, SizeXL: 3, SizeXXL: 4}

func ParseSize(s string) (Size, error) {
	sz := Size(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := sizeRank[sz]; !ok {
		return "", apperr.Validation(fmt.Sprintf("unknown size %q", s))
	}
	return sz, nil
}

func (s Size) Valid() bool {
	_, ok := sizeRank[s]
	return ok
}

// Less orders sizes S < M < L < XL < XXL.
func (s Size) Less(o Size) bool { return sizeRank[s] < sizeRank[o] }

type SizeStock struct {
	Size  Size `json:"size"`
	Stock int  `json:"stock"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	SubCategory string          `json:"subCategory"`
	Images      []string        `json:"images"`
	BestSeller  bool            `json:"bestSeller"`
	Sizes       []SizeStock     `json:"sizes"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// StockFor returns the counter for size and whether the product carries it.
func (p Product) StockFor(size Size) (int, bool) {
	for _, s := range p.Sizes {
		if s.Size == size {
			return s.Stock, true
		}
	}
	return 0, false
}

// Image is the first image, used as the thumbnail copied into orders.
func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

const maxImages = 4

// Validate checks an operator-supplied product and sorts its sizes.
func (p *Product) Validate() error {
	fields := map[string]string{}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		fields["name"] = "required"
	}
	if p.Price.IsNegative() {
		fields["price"] = "must not be negative"
	} else if !p.Price.Equal(p.Price.Round(2)) {
		fields["price"] = "at most two decimal places"
	}
	if len(p.Images) > maxImages {
		fields["images"] = fmt.Sprintf("at most %d images", maxImages)
	}
	seen := map[Size]bool{}
	for _, s := range p.Sizes {
		switch {
		case !s.Size.Valid():
			fields["sizes"] = fmt.Sprintf("unknown size %q", s.Size)
		case seen[s.Size]:
			fields["sizes"] = fmt.Sprintf("duplicate size %s", s.Size)
		case s.Stock < 0:
			fields["sizes"] = fmt.Sprintf("negative stock for size %s", s.Size)
		}
		seen[s.Size] = true
	}
	if len(fields) > 0 {
		return apperr.Invalid("invalid product", fields)
	}
	SortSizes(p.Sizes)
	return nil
}

func SortSizes(ss []SizeStock) {
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].Size.Less(ss[j].Size) })
}

// StockKey identifies one stock counter.
type StockKey struct {
	ProductID string
	Size      Size
}

func (k StockKey) String() string { return k.ProductID + "/" + string(k.Size) }

// SortKeys puts keys in lock order: byte order of product id, then of size
// label. LockStock orders rows the same way with COLLATE "C".
func SortKeys(keys []StockKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return keys[i].Size < keys[j].Size
	})
}

// Prices are stored as integer cents.

func FromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }

func Cents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }
