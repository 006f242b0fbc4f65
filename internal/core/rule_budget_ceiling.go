package core

import (
	"context"
	"fmt"

	"rabtrack/internal/ledger"
	"rabtrack/pkg/domain"
)

// NewBudgetCeilingRule warns when the RAB total exceeds a set budget.
func NewBudgetCeilingRule() domain.Rule {
	return budgetCeilingRule{}
}

type budgetCeilingRule struct{}

func (budgetCeilingRule) Name() string { return "budget_ceiling" }

func (r budgetCeilingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, p := range changedProjects(changes) {
		if p.Budget <= 0 {
			continue
		}
		if total := ledger.TotalRAB(p.RABItems); total > p.Budget {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("RAB total %.0f exceeds budget %.0f", total, p.Budget),
				Entity:   domain.EntityProject,
				EntityID: p.ID,
			})
		}
	}
	return res, nil
}
