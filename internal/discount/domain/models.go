// Package domain defines the discount catalog shared by every pricing session.
package domain

import "errors"

type Category string

const (
	CustomerType Category = "customer_type"
	Loyalty      Category = "loyalty"
	Bundle       Category = "bundle"
)

// AutoBundleID is the reserved system-generated bundle entry written by the
// bundle detector.
const AutoBundleID = "auto-bundle"

// DiscountType is one togglable catalog discount inside a pricing session.
// Amount is always zero while IsEnabled is false.
type DiscountType struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Category             Category `json:"category"`
	DefaultAmount        float64  `json:"defaultAmount"`
	IsEnabled            bool     `json:"isEnabled"`
	Amount               float64  `json:"amount"`
	PercentageOfSubtotal float64  `json:"percentageOfSubtotal"`
	Priority             int      `json:"priority"`
	IsSystemGenerated    bool     `json:"isSystemGenerated"`
}

// Enable turns the discount on at the given amount.
func (d *DiscountType) Enable(amount float64) {
	d.IsEnabled = true
	d.Amount = amount
}

// Disable turns the discount off and zeroes it.
func (d *DiscountType) Disable() {
	d.IsEnabled = false
	d.Amount = 0
}

// PreApproved reports whether changes to this discount bypass the approval
// gate. Customer type, loyalty and system-generated entries always do.
func (d DiscountType) PreApproved() bool {
	if d.IsSystemGenerated {
		return true
	}
	switch d.Category {
	case CustomerType, Loyalty:
		return true
	default:
		return false
	}
}

// Exclusive reports whether at most one entry of this discount's category may
// be enabled at a time.
func (d DiscountType) Exclusive() bool {
	switch d.Category {
	case CustomerType:
		return true
	case Bundle:
		return !d.IsSystemGenerated
	default:
		return false
	}
}

var (
	ErrUnknownDiscount    = errors.New("unknown_discount")
	ErrSystemDiscountEdit = errors.New("system_discount_not_editable")
)
