package core

import (
	"context"
	"fmt"

	"rabtrack/pkg/domain"
)

// NewProgressBoundsRule blocks RAB items whose progress leaves 0..100.
func NewProgressBoundsRule() domain.Rule {
	return progressBoundsRule{}
}

type progressBoundsRule struct{}

func (progressBoundsRule) Name() string { return "progress_bounds" }

func (r progressBoundsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, c := range changes {
		if c.After == nil || !touched(c, "rabItems") {
			continue
		}
		for _, it := range c.After.RABItems {
			if it.Progress < 0 || it.Progress > 100 {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("item %d (%s) progress %d outside 0..100", it.ID, it.Name, it.Progress),
					Entity:   domain.EntityRABItem,
					EntityID: fmt.Sprintf("%s/%d", c.After.ID, it.ID),
				})
			}
		}
	}
	return res, nil
}
