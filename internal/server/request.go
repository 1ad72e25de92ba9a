package server

import (
	"encoding/json"

	"github.com/smallbiznis/proposalpricing/internal/money"
)

// amount accepts a JSON number or a numeric string such as "$1,250.00".
// Anything else decodes to zero.
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		*a = 0
		return nil
	}
	*a = amount(money.Coerce(raw))
	return nil
}

func (a amount) Float64() float64 {
	return float64(a)
}

// Int truncates to whole units, for counts such as term months.
func (a amount) Int() int {
	return int(a)
}

type toggleDiscountRequest struct {
	Enabled bool `json:"enabled"`
}

type amountRequest struct {
	Amount amount `json:"amount"`
}

type componentLineRequest struct {
	Name      string `json:"name"`
	Quantity  amount `json:"quantity"`
	UnitPrice amount `json:"unitPrice"`
}

type serviceLineRequest struct {
	ServiceID  string                 `json:"serviceId"`
	Name       string                 `json:"name"`
	Components []componentLineRequest `json:"components"`
}

type setServicesRequest struct {
	Services []serviceLineRequest `json:"services"`
}

type addCustomAdderRequest struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Cost        amount `json:"cost"`
}

type selectFinancingPlanRequest struct {
	PlanID string `json:"planId"`
}

type financingTermsRequest struct {
	TermMonths   amount `json:"termMonths"`
	InterestRate amount `json:"interestRate"`
}

type totalOverrideRequest struct {
	Total amount `json:"total"`
}

type submitApprovalRequest struct {
	Notes string `json:"notes"`
}
