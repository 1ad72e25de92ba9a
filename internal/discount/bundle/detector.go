// Package bundle computes the automatic bundle discount from the combination
// of selected services.
package bundle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/smallbiznis/proposalpricing/internal/config"
	"github.com/smallbiznis/proposalpricing/internal/money"
)

var (
	ErrInvalidRule  = errors.New("invalid_bundle_rule")
	ErrRuleEvaluate = errors.New("bundle_rule_evaluation_failed")
)

// PricedService is a selected service with its priced subtotal.
type PricedService struct {
	ID       string
	Subtotal float64
}

// Applied records one rule that contributed to the bundle amount.
type Applied struct {
	RuleID  string  `json:"ruleId"`
	Basis   float64 `json:"basis"`
	Percent float64 `json:"percent"`
	Amount  float64 `json:"amount"`
}

type Result struct {
	Amount  float64   `json:"amount"`
	Applied []Applied `json:"applied"`
}

type rule struct {
	id      string
	percent float64
	basis   map[string]struct{}
	program cel.Program
}

// Detector evaluates a fixed table of bundle rules.
type Detector struct {
	rules []rule
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("services", cel.ListType(cel.StringType)),
		cel.Variable("service_count", cel.IntType),
	)
}

// NewDetector compiles the configured rules. Every condition must evaluate to
// a boolean.
func NewDetector(cfgs []config.BundleRuleConfig) (*Detector, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	rules := make([]rule, 0, len(cfgs))
	for _, c := range cfgs {
		id := strings.TrimSpace(c.ID)
		ast, iss := env.Compile(c.Condition)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, id, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("%w: %s: condition must be boolean", ErrInvalidRule, id)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, id, err)
		}

		basis := make(map[string]struct{}, len(c.Basis))
		for _, b := range c.Basis {
			basis[strings.TrimSpace(b)] = struct{}{}
		}
		rules = append(rules, rule{
			id:      id,
			percent: c.Percent,
			basis:   basis,
			program: prg,
		})
	}

	return &Detector{rules: rules}, nil
}

// Detect sums every applicable rule. Rules failing to evaluate are skipped and
// reported in the returned error; the amount still reflects the other rules.
func (d *Detector) Detect(services []PricedService) (Result, error) {
	if d == nil || len(services) == 0 {
		return Result{}, nil
	}

	subtotals := make(map[string]float64, len(services))
	ids := make([]string, 0, len(services))
	for _, s := range services {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		if _, seen := subtotals[id]; !seen {
			ids = append(ids, id)
		}
		subtotals[id] = money.Sum(subtotals[id], money.NonNegative(s.Subtotal))
	}

	vars := map[string]any{
		"services":      ids,
		"service_count": int64(len(ids)),
	}

	var (
		result Result
		errs   []error
		parts  []float64
	)
	for _, r := range d.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrRuleEvaluate, r.id, err))
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}

		basis := 0.0
		for id := range r.basis {
			basis = money.Sum(basis, subtotals[id])
		}
		amount := money.PercentOf(basis, r.percent)
		if amount <= 0 {
			continue
		}
		parts = append(parts, amount)
		result.Applied = append(result.Applied, Applied{
			RuleID:  r.id,
			Basis:   basis,
			Percent: r.percent,
			Amount:  amount,
		})
	}
	result.Amount = money.Sum(parts...)

	return result, errors.Join(errs...)
}
