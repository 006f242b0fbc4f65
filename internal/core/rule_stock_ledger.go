package core

import (
	"context"
	"fmt"

	"rabtrack/internal/ledger"
	"rabtrack/pkg/domain"
)

// NewStockLedgerRule blocks writes that leave a material's cached stock out
// of line with its movement log, or negative.
func NewStockLedgerRule() domain.Rule {
	return stockLedgerRule{}
}

type stockLedgerRule struct{}

func (stockLedgerRule) Name() string { return "stock_ledger" }

func (r stockLedgerRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, c := range changes {
		if c.After == nil || !touched(c, "materials", "materialLogs") {
			continue
		}
		p := c.After
		for _, m := range ledger.VerifyStock(*p) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("material %s stock %v disagrees with ledger %v", m.Name, m.Cached, m.Ledger),
				Entity:   domain.EntityMaterial,
				EntityID: fmt.Sprintf("%s/%d", p.ID, m.MaterialID),
			})
		}
		for _, m := range p.Materials {
			if m.Stock < 0 {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("material %s has negative stock %v", m.Name, m.Stock),
					Entity:   domain.EntityMaterial,
					EntityID: fmt.Sprintf("%s/%d", p.ID, m.ID),
				})
			}
		}
	}
	return res, nil
}
