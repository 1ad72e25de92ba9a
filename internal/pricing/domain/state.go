// Package domain holds the pricing session aggregate and the collaborator
// contracts the engine consumes.
package domain

import (
	"time"

	"github.com/smallbiznis/proposalpricing/internal/discount/bundle"
	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	"github.com/smallbiznis/proposalpricing/internal/financing/calculator"
	financingdomain "github.com/smallbiznis/proposalpricing/internal/financing/domain"
	"github.com/smallbiznis/proposalpricing/internal/money"
	permissiondomain "github.com/smallbiznis/proposalpricing/internal/permission/domain"
)

type Status string

const (
	StatusIdle             Status = "idle"
	StatusRecomputing      Status = "recomputing"
	StatusAwaitingApproval Status = "awaiting_approval"
)

type ComponentLine struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// ServiceLine is one selected service priced from its components.
type ServiceLine struct {
	ServiceID  string          `json:"serviceId"`
	Name       string          `json:"name"`
	Components []ComponentLine `json:"components"`
}

func (s ServiceLine) Subtotal() float64 {
	parts := make([]float64, 0, len(s.Components))
	for _, c := range s.Components {
		parts = append(parts, money.Mul(money.Sanitize(c.Quantity, false), money.NonNegative(c.UnitPrice)))
	}
	return money.Sum(parts...)
}

type CustomAdder struct {
	ID          string  `json:"id"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Cost        float64 `json:"cost"`
}

// DiscountLogEntry is append-only.
type DiscountLogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"userId"`
	DiscountType  string    `json:"discountType"`
	PreviousValue float64   `json:"previousValue"`
	NewValue      float64   `json:"newValue"`
}

// Reserved discount log types for changes outside the catalog.
const (
	LogTypeManualOverride = "manual-override"
	LogTypeTotalOverride  = "total-override"
)

type ManualOverride struct {
	Active bool    `json:"active"`
	Amount float64 `json:"amount"`
}

type Permissions struct {
	UserID              string                `json:"userId,omitempty"`
	Role                permissiondomain.Role `json:"role,omitempty"`
	MaxDiscountPercent  float64               `json:"maxDiscountPercent"`
	CanApproveDiscounts bool                  `json:"canApproveDiscounts"`
	Degraded            bool                  `json:"degraded"`
}

type GatePhase string

const (
	GateIdle    GatePhase = "idle"
	GatePending GatePhase = "pending"
)

type GateOutcome string

const (
	GateApproved  GateOutcome = "approved"
	GateRejected  GateOutcome = "rejected"
	GateCancelled GateOutcome = "cancelled"
)

type ChangeKind string

const (
	ChangeEditDiscount   ChangeKind = "edit_discount"
	ChangeManualDiscount ChangeKind = "manual_discount"
	ChangeTotalOverride  ChangeKind = "total_override"
)

// PendingChange is a gated change held until a manager resolves it.
type PendingChange struct {
	Kind            ChangeKind `json:"kind"`
	DiscountID      string     `json:"discountId,omitempty"`
	Amount          float64    `json:"amount"`
	OriginalValue   float64    `json:"originalValue"`
	RequestedValue  float64    `json:"requestedValue"`
	DiscountPercent float64    `json:"discountPercent"`
	RequestedBy     string     `json:"requestedBy,omitempty"`
	RequestedAt     time.Time  `json:"requestedAt"`
}

type ApprovalState struct {
	Phase        GatePhase      `json:"phase"`
	Pending      *PendingChange `json:"pending,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
	Submitted    bool           `json:"submitted"`
	LastOutcome  GateOutcome    `json:"lastOutcome,omitempty"`
	ApproverName string         `json:"approverName,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}

// State is the aggregate root of one editing session. Discount is always
// derived from DiscountTypes and ManualOverride.
type State struct {
	SessionID    string `json:"sessionId"`
	ProposalID   string `json:"proposalId,omitempty"`
	CustomerName string `json:"customerName,omitempty"`

	Subtotal          float64         `json:"subtotal"`
	Discount          float64         `json:"discount"`
	Total             float64         `json:"total"`
	MonthlyPayment    float64         `json:"monthlyPayment"`
	PaymentMode       calculator.Mode `json:"paymentMode"`
	MerchantFeeAmount float64         `json:"merchantFeeAmount"`
	NetSettlement     float64         `json:"netSettlement"`

	FinancingPlanID *string                         `json:"financingPlanId,omitempty"`
	FinancingTerms  calculator.Terms                `json:"financingTerms"`
	FinancingPlans  []financingdomain.FinancingPlan `json:"financingPlans"`

	Services      []ServiceLine                 `json:"services"`
	CustomAdders  []CustomAdder                 `json:"customAdders"`
	DiscountTypes []discountdomain.DiscountType `json:"discountTypes"`
	BundleRules   []bundle.Applied              `json:"bundleRules"`
	DiscountLog   []DiscountLogEntry            `json:"discountLog"`

	PricingOverrideEnabled bool           `json:"pricingOverrideEnabled"`
	ManualOverride         ManualOverride `json:"manualOverride"`
	AutoBundleSuppressed   bool           `json:"autoBundleSuppressed"`

	Approval    ApprovalState `json:"approval"`
	Permissions Permissions   `json:"permissions"`

	Status    Status    `json:"status"`
	Finalized bool      `json:"finalized"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the engine.
func (s State) Clone() State {
	out := s
	if s.FinancingPlanID != nil {
		id := *s.FinancingPlanID
		out.FinancingPlanID = &id
	}
	out.FinancingPlans = append([]financingdomain.FinancingPlan(nil), s.FinancingPlans...)
	out.Services = make([]ServiceLine, len(s.Services))
	for i, line := range s.Services {
		line.Components = append([]ComponentLine(nil), line.Components...)
		out.Services[i] = line
	}
	out.CustomAdders = append([]CustomAdder(nil), s.CustomAdders...)
	out.DiscountTypes = discountdomain.Clone(s.DiscountTypes)
	out.BundleRules = append([]bundle.Applied(nil), s.BundleRules...)
	out.DiscountLog = append([]DiscountLogEntry(nil), s.DiscountLog...)
	if s.Approval.Pending != nil {
		pending := *s.Approval.Pending
		out.Approval.Pending = &pending
	}
	return out
}

// EnabledDiscountSum adds the amounts of every enabled discount type.
func (s State) EnabledDiscountSum() float64 {
	parts := make([]float64, 0, len(s.DiscountTypes))
	for _, t := range s.DiscountTypes {
		if t.IsEnabled {
			parts = append(parts, t.Amount)
		}
	}
	return money.Sum(parts...)
}
