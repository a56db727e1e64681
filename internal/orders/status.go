package orders

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront/internal/apperr"
)

type Status string

const (
	StatusPlaced         Status = "Order Placed"
	StatusPacking        Status = "Packing"
	StatusShipped        Status = "Shipped"
	StatusOutForDelivery Status = "Out for Delivery"
	StatusDelivered      Status = "Delivered"
)

// Statuses in fulfilment order.
var Statuses = []Status{StatusPlaced, StatusPacking, StatusShipped, StatusOutForDelivery, StatusDelivered}

var statusRank = map[Status]int{
	StatusPlaced:         0,
	StatusPacking:        1,
	StatusShipped:        2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if _, ok := statusRank[st]; !ok {
		return "", apperr.Validation(fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Policy decides which status changes are allowed.
type Policy string

const (
	// PolicyUnordered allows any label to follow any other.
	PolicyUnordered Policy = "unordered"
	// PolicyMonotonic only allows staying put or moving forward.
	PolicyMonotonic Policy = "monotonic"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyUnordered, PolicyMonotonic:
		return p, nil
	case "":
		return PolicyUnordered, nil
	default:
		return "", fmt.Errorf("unknown status policy %q", s)
	}
}

func (p Policy) CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if p == PolicyMonotonic {
		return statusRank[to] >= statusRank[from]
	}
	return true
}

// Check returns a validation error when from -> to is not allowed.
func (p Policy) Check(from, to Status) error {
	if !to.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown status %q", to))
	}
	if !p.CanTransition(from, to) {
		return apperr.Invalid("status transition not allowed", map[string]string{
			"status": fmt.Sprintf("cannot move from %q to %q", from, to),
		})
	}
	return nil
}
