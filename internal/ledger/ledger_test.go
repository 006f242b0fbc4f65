package ledger

import (
	"errors"
	"math"
	"testing"

	"rabtrack/pkg/domain"
)

func TestProjectProgressCostWeighted(t *testing.T) {
	p := domain.Project{RABItems: []domain.RABItem{
		{Volume: 10, UnitPrice: 100, Progress: 50},
		{Volume: 10, UnitPrice: 300, Progress: 0},
	}}
	if got := ProjectProgress(p); got != 12.5 {
		t.Fatalf("expected 12.5, got %v", got)
	}
}

func TestProjectProgressEdgeCases(t *testing.T) {
	cases := []struct {
		name  string
		items []domain.RABItem
		want  float64
	}{
		{"no items", nil, 0},
		{"zero cost falls back to plain mean", []domain.RABItem{{Progress: 20}, {Progress: 60}}, 40},
		{"addendum weighs like any item", []domain.RABItem{
			{Volume: 1, UnitPrice: 100, Progress: 100},
			{Volume: 1, UnitPrice: 100, Progress: 0, IsAddendum: true},
		}, 50},
		{"out of range progress is clamped", []domain.RABItem{
			{Volume: 1, UnitPrice: 10, Progress: 150},
			{Volume: 1, UnitPrice: 10, Progress: -20},
		}, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ProjectProgress(domain.Project{RABItems: tc.items})
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			if got < 0 || got > 100 {
				t.Fatalf("progress out of bounds: %v", got)
			}
		})
	}
}

func TestLineCostAndTotal(t *testing.T) {
	items := []domain.RABItem{{Volume: 2.5, UnitPrice: 40}, {Volume: 3, UnitPrice: 10, IsAddendum: true}}
	if LineCost(items[0]) != 100 {
		t.Fatalf("unexpected line cost %v", LineCost(items[0]))
	}
	if TotalRAB(items) != 130 {
		t.Fatalf("unexpected total %v", TotalRAB(items))
	}
}

func TestProjectFinancialsBalance(t *testing.T) {
	p := domain.Project{Transactions: []domain.Transaction{
		{Amount: 500, Type: domain.TransactionIncome},
		{Amount: 200, Type: domain.TransactionExpense},
	}}
	f := ProjectFinancials(p)
	if f.Income != 500 || f.Expense != 200 || f.Balance != 300 {
		t.Fatalf("unexpected financials %+v", f)
	}
}

func TestLowStockIncludesEqualToMinimum(t *testing.T) {
	p := domain.Project{Materials: []domain.Material{
		{ID: 1, Name: "Semen", Stock: 5, MinStock: 5},
		{ID: 2, Name: "Pasir", Stock: 6, MinStock: 5},
		{ID: 3, Name: "Bata", Stock: 0, MinStock: 100},
	}}
	low := LowStock(p)
	if len(low) != 2 || low[0].ID != 1 || low[1].ID != 3 {
		t.Fatalf("unexpected low stock %+v", low)
	}
}

func TestDashboardExcludesDeletedProjects(t *testing.T) {
	projects := []domain.Project{
		{ID: "a", Name: "A", Budget: 100, Status: domain.StatusOngoing,
			RABItems:     []domain.RABItem{{Volume: 1, UnitPrice: 1, Progress: 40}},
			Transactions: []domain.Transaction{{Amount: 50, Type: domain.TransactionIncome}},
			Materials:    []domain.Material{{ID: 1, Name: "Semen", Stock: 1, MinStock: 2}}},
		{ID: "b", Name: "B", Budget: 900, IsDeleted: true, Status: domain.StatusOngoing,
			RABItems:     []domain.RABItem{{Volume: 1, UnitPrice: 1, Progress: 100}},
			Transactions: []domain.Transaction{{Amount: 70, Type: domain.TransactionExpense}},
			Materials:    []domain.Material{{ID: 1, Name: "Besi", Stock: 0, MinStock: 2}}},
		{ID: "c", Name: "C", Budget: 0, Status: domain.StatusCompleted,
			RABItems: []domain.RABItem{{Volume: 1, UnitPrice: 1, Progress: 100}}},
	}
	d := DashboardAggregate(projects)
	if d.TotalBudget != 100 {
		t.Fatalf("expected totalBudget 100, got %v", d.TotalBudget)
	}
	if d.TotalProjects != 2 || d.Ongoing != 1 || d.Completed != 1 {
		t.Fatalf("unexpected counts %+v", d)
	}
	if d.TotalIncome != 50 || d.TotalExpense != 0 {
		t.Fatalf("unexpected cash totals %+v", d)
	}
	if d.AvgProgress != 70 {
		t.Fatalf("expected avg 70, got %v", d.AvgProgress)
	}
	if len(d.LowStock) != 1 || d.LowStock[0].ProjectID != "a" {
		t.Fatalf("unexpected low stock %+v", d.LowStock)
	}
}

func TestDashboardWithoutMoneyKeepsWeightedProgress(t *testing.T) {
	d := DashboardAggregate([]domain.Project{{
		ID: "a", Budget: 400, Status: domain.StatusOngoing,
		RABItems: []domain.RABItem{
			{Volume: 1, UnitPrice: 100, Progress: 100},
			{Volume: 1, UnitPrice: 300},
		},
		Transactions: []domain.Transaction{{Amount: 80, Type: domain.TransactionExpense}},
	}}).WithoutMoney()
	if d.TotalBudget != 0 || d.TotalIncome != 0 || d.TotalExpense != 0 {
		t.Fatalf("money left in %+v", d)
	}
	if d.AvgProgress != 25 || d.TotalProjects != 1 {
		t.Fatalf("unexpected dashboard %+v", d)
	}
}

func TestDashboardEmpty(t *testing.T) {
	d := DashboardAggregate(nil)
	if d.TotalProjects != 0 || d.AvgProgress != 0 || d.LowStock == nil {
		t.Fatalf("unexpected empty dashboard %+v", d)
	}
}

func TestApplyMovementKeepsLedgerInvariant(t *testing.T) {
	materials := []domain.Material{{ID: 1, Name: "Semen"}, {ID: 2, Name: "Pasir"}}
	var logs []domain.MaterialLog
	moves := []domain.MaterialLog{
		{ID: "1", MaterialID: 1, Type: domain.MovementIn, Quantity: 50},
		{ID: "2", MaterialID: 2, Type: domain.MovementIn, Quantity: 3},
		{ID: "3", MaterialID: 1, Type: domain.MovementOut, Quantity: 20},
		{ID: "4", MaterialID: 2, Type: domain.MovementOut, Quantity: 1.5},
		{ID: "5", MaterialID: 1, Type: domain.MovementIn, Quantity: 5},
	}
	for _, mv := range moves {
		var err error
		materials, logs, err = ApplyMovement(materials, logs, mv)
		if err != nil {
			t.Fatalf("apply %s: %v", mv.ID, err)
		}
		p := domain.Project{Materials: materials, MaterialLogs: logs}
		if mismatch := VerifyStock(p); len(mismatch) != 0 {
			t.Fatalf("ledger drift after %s: %+v", mv.ID, mismatch)
		}
	}
	if materials[0].Stock != 35 || materials[1].Stock != 1.5 {
		t.Fatalf("unexpected stock %+v", materials)
	}
}

func TestApplyMovementRejects(t *testing.T) {
	materials := []domain.Material{{ID: 1, Name: "Semen", Stock: 2}}
	logs := []domain.MaterialLog{{MaterialID: 1, Type: domain.MovementIn, Quantity: 2}}
	cases := []struct {
		name  string
		entry domain.MaterialLog
		want  error
	}{
		{"overdraw", domain.MaterialLog{MaterialID: 1, Type: domain.MovementOut, Quantity: 3}, ErrInsufficientStock},
		{"zero quantity", domain.MaterialLog{MaterialID: 1, Type: domain.MovementIn}, domain.ErrValidation},
		{"nan quantity", domain.MaterialLog{MaterialID: 1, Type: domain.MovementIn, Quantity: math.NaN()}, domain.ErrValidation},
		{"bad type", domain.MaterialLog{MaterialID: 1, Type: "sideways", Quantity: 1}, domain.ErrValidation},
		{"unknown material", domain.MaterialLog{MaterialID: 9, Type: domain.MovementIn, Quantity: 1}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ApplyMovement(materials, logs, tc.entry)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if materials[0].Stock != 2 || len(logs) != 1 {
		t.Fatalf("rejected movement mutated input")
	}
}

func TestAddMaterialRecordsOpeningStock(t *testing.T) {
	materials := []domain.Material{{ID: 4, Name: "Semen"}}
	ms, logs, err := AddMaterial(materials, nil, domain.Material{Name: "Pasir", Stock: 12, MinStock: 2}, domain.MaterialLog{ID: "open", Date: "2024-01-01"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(ms) != 2 || ms[1].ID != 5 || ms[1].Stock != 12 {
		t.Fatalf("unexpected materials %+v", ms)
	}
	if len(logs) != 1 || logs[0].MaterialID != 5 || logs[0].Type != domain.MovementIn || logs[0].Quantity != 12 {
		t.Fatalf("unexpected opening log %+v", logs)
	}

	ms, logs, err = AddMaterial(ms, logs, domain.Material{Name: "Bata"}, domain.MaterialLog{ID: "unused"})
	if err != nil {
		t.Fatalf("add empty: %v", err)
	}
	if len(ms) != 3 || len(logs) != 1 {
		t.Fatalf("zero opening stock must not log: %d logs", len(logs))
	}
}

func TestVerifyStockReportsDrift(t *testing.T) {
	p := domain.Project{
		Materials:    []domain.Material{{ID: 1, Name: "Semen", Stock: 10}},
		MaterialLogs: []domain.MaterialLog{{MaterialID: 1, Type: domain.MovementIn, Quantity: 8}},
	}
	got := VerifyStock(p)
	if len(got) != 1 || got[0].Ledger != 8 || got[0].Cached != 10 {
		t.Fatalf("unexpected mismatch %+v", got)
	}
}

func TestSCurvePlannedAndActual(t *testing.T) {
	p := domain.Project{
		StartDate: "2024-01-01",
		EndDate:   "2024-01-10",
		RABItems: []domain.RABItem{
			{ID: 1, Volume: 1, UnitPrice: 100, Progress: 100, StartDate: "2024-01-01", EndDate: "2024-01-05"},
			{ID: 2, Volume: 1, UnitPrice: 100, Progress: 40, StartDate: "2024-01-06", EndDate: "2024-01-10"},
		},
		TaskLogs: []domain.TaskLog{
			{RABItemID: 1, Date: "2024-01-03", NewProgress: 50},
			{RABItemID: 1, Date: "2024-01-05", NewProgress: 100},
			{RABItemID: 2, Date: "2024-01-08", NewProgress: 40},
		},
	}
	pts, err := SCurve(p, 2)
	if err != nil {
		t.Fatalf("scurve: %v", err)
	}
	wantDates := []domain.Date{"2024-01-01", "2024-01-03", "2024-01-05", "2024-01-07", "2024-01-09", "2024-01-10"}
	if len(pts) != len(wantDates) {
		t.Fatalf("expected %d points, got %d", len(wantDates), len(pts))
	}
	for i, pt := range pts {
		if pt.Date != wantDates[i] {
			t.Fatalf("point %d date %s, want %s", i, pt.Date, wantDates[i])
		}
		if i > 0 && pt.Planned < pts[i-1].Planned {
			t.Fatalf("planned curve decreased at %s", pt.Date)
		}
	}
	last := pts[len(pts)-1]
	if last.Planned != 100 {
		t.Fatalf("planned must reach 100, got %v", last.Planned)
	}
	if last.Actual != 70 {
		t.Fatalf("expected final actual 70, got %v", last.Actual)
	}
	if pts[0].Actual != 0 || pts[1].Actual != 25 {
		t.Fatalf("unexpected early actuals %v %v", pts[0].Actual, pts[1].Actual)
	}
}

func TestSCurveRequiresDates(t *testing.T) {
	if _, err := SCurve(domain.Project{StartDate: "2024-01-01"}, 7); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := SCurve(domain.Project{StartDate: "2024-02-01", EndDate: "2024-01-01"}, 7); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPayroll(t *testing.T) {
	p := domain.Project{
		Workers: []domain.Worker{
			{ID: 1, Name: "Budi", RealRate: 100, MandorRate: 150},
			{ID: 2, Name: "Joko", RealRate: 80, MandorRate: 100},
		},
		AttendanceLogs: []domain.AttendanceLog{
			{WorkerID: 1, Date: "2024-01-01", Status: domain.AttendancePresent},
			{WorkerID: 1, Date: "2024-01-02", Status: domain.AttendanceOvertime},
			{WorkerID: 1, Date: "2024-01-03", Status: domain.AttendanceSick},
			{WorkerID: 2, Date: "2024-01-02", Status: domain.AttendancePresent},
			{WorkerID: 2, Date: "2024-02-01", Status: domain.AttendancePresent},
			{WorkerID: 9, Date: "2024-01-02", Status: domain.AttendancePresent},
		},
	}
	sum := Payroll(p, "2024-01-01", "2024-01-31")
	if len(sum.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(sum.Lines))
	}
	if sum.Lines[0].Days != 2.5 || sum.Lines[0].RealPay != 250 || sum.Lines[0].Billed != 375 {
		t.Fatalf("unexpected line %+v", sum.Lines[0])
	}
	if sum.Lines[1].Days != 1 {
		t.Fatalf("out-of-range log counted: %+v", sum.Lines[1])
	}
	if sum.Real != 330 || sum.Billed != 475 || sum.Margin != 145 {
		t.Fatalf("unexpected totals %+v", sum)
	}

	open := Payroll(p, "", "")
	if open.Lines[1].Days != 2 {
		t.Fatalf("open range should count every log, got %+v", open.Lines[1])
	}
}
