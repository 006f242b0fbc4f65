package access

import "rabtrack/pkg/domain"

// Redact returns the copy of p the identity is allowed to see. Money fields
// are zeroed without CanSeeMoney and workers are dropped without
// CanAccessWorkers. A supervisor keeps the workforce list but never the rates,
// so the spread between paid and billed wages stays hidden.
func Redact(p domain.Project, id Identity) domain.Project {
	caps := id.Capabilities()
	out := domain.CloneProject(p)

	if !caps.CanSeeMoney {
		out.Budget = 0
		for i := range out.RABItems {
			out.RABItems[i].UnitPrice = 0
		}
		out.Transactions = []domain.Transaction{}
	}

	if !caps.CanAccessWorkers {
		out.Workers = []domain.Worker{}
		return out
	}
	if !caps.CanSeeMoney {
		for i := range out.Workers {
			out.Workers[i].RealRate = 0
			out.Workers[i].MandorRate = 0
		}
	}
	return out
}
