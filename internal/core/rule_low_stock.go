package core

import (
	"context"
	"fmt"

	"rabtrack/internal/ledger"
	"rabtrack/pkg/domain"
)

// NewLowStockRule notes materials at or below their minimum after a stock change.
func NewLowStockRule() domain.Rule {
	return lowStockRule{}
}

type lowStockRule struct{}

func (lowStockRule) Name() string { return "low_stock" }

func (r lowStockRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, c := range changes {
		if c.After == nil || !touched(c, "materials") {
			continue
		}
		for _, m := range ledger.LowStock(*c.After) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityLog,
				Message:  fmt.Sprintf("%s low: %v %s left, minimum %v", m.Name, m.Stock, m.Unit, m.MinStock),
				Entity:   domain.EntityMaterial,
				EntityID: fmt.Sprintf("%s/%d", c.After.ID, m.ID),
			})
		}
	}
	return res, nil
}
