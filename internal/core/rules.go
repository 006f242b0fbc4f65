package core

import "rabtrack/pkg/domain"

// NewDefaultRulesEngine builds an engine with the built-in project rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewProgressBoundsRule())
	engine.Register(NewStockLedgerRule())
	engine.Register(NewBudgetCeilingRule())
	engine.Register(NewLowStockRule())
	return engine
}

// changedProjects returns the post-change state of every created or updated project.
func changedProjects(changes []domain.Change) []domain.Project {
	var out []domain.Project
	for _, c := range changes {
		if c.Entity != domain.EntityProject || c.After == nil {
			continue
		}
		out = append(out, *c.After)
	}
	return out
}

func touched(c domain.Change, fields ...string) bool {
	if c.Action == domain.ActionCreate {
		return true
	}
	for _, f := range c.Fields {
		for _, want := range fields {
			if f == want {
				return true
			}
		}
	}
	return false
}
