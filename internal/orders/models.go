package orders

import (
	"net/mail"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/shopspring/decimal"
)

const PaymentCOD = "COD"

// Address is copied into the order at placement.
type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

// Validate trims every field and requires all of them; email must parse
// as a bare address.
func (a *Address) Validate() error {
	fields := map[string]string{}
	for _, f := range []struct {
		name string
		v    *string
	}{
		{"firstName", &a.FirstName},
		{"lastName", &a.LastName},
		{"email", &a.Email},
		{"street", &a.Street},
		{"city", &a.City},
		{"state", &a.State},
		{"zip", &a.Zip},
		{"country", &a.Country},
		{"phone", &a.Phone},
	} {
		*f.v = strings.TrimSpace(*f.v)
		if *f.v == "" {
			fields[f.name] = "required"
		}
	}
	if a.Email != "" {
		if parsed, err := mail.ParseAddress(a.Email); err != nil || parsed.Address != a.Email {
			fields["email"] = "invalid email"
		}
	}
	if len(fields) > 0 {
		return apperr.Invalid("invalid address", fields)
	}
	return nil
}

// Item is a snapshot of the product at placement time. Later catalog edits
// never reach it.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Size      catalog.Size    `json:"size"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

func (it Item) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Address        Address         `json:"address"`
	PaymentMethod  string          `json:"paymentMethod"`
	Payment        bool            `json:"payment"`
	Items          []Item          `json:"items"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	Amount         decimal.Decimal `json:"amount"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Total is Σ price×quantity + delivery fee.
func Total(items []Item, deliveryFee decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum.Add(deliveryFee)
}

// StatusView is what the status endpoint returns and caches.
type StatusView struct {
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Payment   bool      `json:"payment"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (o Order) StatusView() StatusView {
	return StatusView{OrderID: o.ID, UserID: o.UserID, Status: o.Status, Payment: o.Payment, UpdatedAt: o.UpdatedAt}
}
