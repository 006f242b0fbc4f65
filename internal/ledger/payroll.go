package ledger

import (
	"time"

	"rabtrack/pkg/domain"
)

// Day weights of attendance statuses. Statuses not listed are unpaid.
var payableDays = map[domain.AttendanceStatus]float64{
	domain.AttendancePresent:  1,
	domain.AttendanceOvertime: 1.5,
}

// PayrollLine is one worker's pay over a period.
type PayrollLine struct {
	WorkerID   int     `json:"workerId"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	Days       float64 `json:"days"`
	RealRate   float64 `json:"realRate"`
	MandorRate float64 `json:"mandorRate"`
	RealPay    float64 `json:"realPay"`
	Billed     float64 `json:"billed"`
}

// PayrollSummary totals a period. Margin is what is billed minus what is paid.
type PayrollSummary struct {
	From   domain.Date   `json:"from"`
	To     domain.Date   `json:"to"`
	Lines  []PayrollLine `json:"lines"`
	Real   float64       `json:"real"`
	Billed float64       `json:"billed"`
	Margin float64       `json:"margin"`
}

// Payroll multiplies attendance in [from, to] by each worker's rates. An
// empty bound leaves that side open. Logs for unknown workers are ignored.
func Payroll(p domain.Project, from, to domain.Date) PayrollSummary {
	lo, hasLo := from.Time()
	hi, hasHi := to.Time()
	days := make(map[int]float64, len(p.Workers))
	for _, l := range p.AttendanceLogs {
		d, ok := l.Date.Time()
		if !ok || !within(d, lo, hasLo, hi, hasHi) {
			continue
		}
		days[l.WorkerID] += payableDays[l.Status]
	}

	sum := PayrollSummary{From: from, To: to, Lines: make([]PayrollLine, 0, len(p.Workers))}
	for _, w := range p.Workers {
		line := PayrollLine{
			WorkerID:   w.ID,
			Name:       w.Name,
			Role:       w.Role,
			Days:       days[w.ID],
			RealRate:   w.RealRate,
			MandorRate: w.MandorRate,
		}
		line.RealPay = line.Days * w.RealRate
		line.Billed = line.Days * w.MandorRate
		sum.Real += line.RealPay
		sum.Billed += line.Billed
		sum.Lines = append(sum.Lines, line)
	}
	sum.Margin = sum.Billed - sum.Real
	return sum
}

func within(d, lo time.Time, hasLo bool, hi time.Time, hasHi bool) bool {
	if hasLo && d.Before(lo) {
		return false
	}
	if hasHi && d.After(hi) {
		return false
	}
	return true
}
