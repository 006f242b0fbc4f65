// Package ledger derives read-side views from project documents: cost and
// progress roll-ups, cash totals, stock checks, the Kurva S curve and
// payroll. Every function is pure and recomputed on each read.
package ledger

import (
	"math"

	"rabtrack/pkg/domain"
)

// LineCost returns volume × unit price of one RAB item.
func LineCost(item domain.RABItem) float64 {
	return item.Cost()
}

// TotalRAB sums the line cost of every item, addenda included.
func TotalRAB(items []domain.RABItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Cost()
	}
	return total
}

func clampProgress(p int) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return float64(p)
}

// weights returns each item's share of the total RAB cost. When the total is
// zero every item weighs the same.
func weights(items []domain.RABItem) []float64 {
	out := make([]float64, len(items))
	if len(items) == 0 {
		return out
	}
	total := TotalRAB(items)
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		for i := range out {
			out[i] = 1 / float64(len(items))
		}
		return out
	}
	for i, it := range items {
		out[i] = it.Cost() / total
	}
	return out
}

// ProjectProgress is the cost-weighted mean of item progress, in [0, 100].
func ProjectProgress(p domain.Project) float64 {
	if len(p.RABItems) == 0 {
		return 0
	}
	w := weights(p.RABItems)
	var sum float64
	for i, it := range p.RABItems {
		sum += w[i] * clampProgress(it.Progress)
	}
	return math.Max(0, math.Min(100, sum))
}

// Financials is the cash position of one project.
type Financials struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Balance float64 `json:"balance"`
}

// ProjectFinancials sums income and expense transactions.
func ProjectFinancials(p domain.Project) Financials {
	var f Financials
	for _, t := range p.Transactions {
		switch t.Type {
		case domain.TransactionIncome:
			f.Income += t.Amount
		case domain.TransactionExpense:
			f.Expense += t.Amount
		}
	}
	f.Balance = f.Income - f.Expense
	return f
}

// LowStock returns materials whose stock is at or below their minimum.
func LowStock(p domain.Project) []domain.Material {
	var out []domain.Material
	for _, m := range p.Materials {
		if m.Stock <= m.MinStock {
			out = append(out, m)
		}
	}
	return out
}

// LowStockEntry ties a low material to its project.
type LowStockEntry struct {
	ProjectID   string          `json:"projectId"`
	ProjectName string          `json:"projectName"`
	Material    domain.Material `json:"material"`
}

// Dashboard aggregates active projects.
type Dashboard struct {
	TotalProjects int             `json:"totalProjects"`
	Ongoing       int             `json:"ongoing"`
	Completed     int             `json:"completed"`
	TotalBudget   float64         `json:"totalBudget"`
	TotalIncome   float64         `json:"totalIncome"`
	TotalExpense  float64         `json:"totalExpense"`
	AvgProgress   float64         `json:"avgProgress"`
	LowStock      []LowStockEntry `json:"lowStock"`
}

// WithoutMoney zeroes the monetary totals. Progress stays cost-weighted.
func (d Dashboard) WithoutMoney() Dashboard {
	d.TotalBudget = 0
	d.TotalIncome = 0
	d.TotalExpense = 0
	return d
}

// DashboardAggregate rolls up every project that is not soft-deleted.
// AvgProgress is the plain mean of per-project progress.
func DashboardAggregate(projects []domain.Project) Dashboard {
	d := Dashboard{LowStock: []LowStockEntry{}}
	var progress float64
	for _, p := range projects {
		if p.IsDeleted {
			continue
		}
		d.TotalProjects++
		switch p.Status {
		case domain.StatusOngoing:
			d.Ongoing++
		case domain.StatusCompleted:
			d.Completed++
		}
		d.TotalBudget += p.Budget
		f := ProjectFinancials(p)
		d.TotalIncome += f.Income
		d.TotalExpense += f.Expense
		progress += ProjectProgress(p)
		for _, m := range LowStock(p) {
			d.LowStock = append(d.LowStock, LowStockEntry{ProjectID: p.ID, ProjectName: p.Name, Material: m})
		}
	}
	if d.TotalProjects > 0 {
		d.AvgProgress = progress / float64(d.TotalProjects)
	}
	return d
}
