package ledger

import (
	"sort"
	"time"

	"rabtrack/pkg/domain"
)

const day = 24 * time.Hour

// CurvePoint is one sample of the Kurva S.
type CurvePoint struct {
	Date    domain.Date `json:"date"`
	Planned float64     `json:"planned"`
	Actual  float64     `json:"actual"`
}

// SCurve samples planned and actual cumulative weighted progress every step
// days from the project's start to its end date; the end date is always
// the last sample. Planned progress spreads each item linearly over its own
// schedule, falling back to the project's. Actual progress replays task
// logs; an item without logs contributes its stored progress throughout.
func SCurve(p domain.Project, step int) ([]CurvePoint, error) {
	start, ok := p.StartDate.Time()
	if !ok {
		return nil, domain.ValidationError{Fields: []string{"startDate"}, Reason: "project has no start date"}
	}
	end, ok := p.EndDate.Time()
	if !ok {
		return nil, domain.ValidationError{Fields: []string{"endDate"}, Reason: "project has no end date"}
	}
	if end.Before(start) {
		return nil, domain.ValidationError{Fields: []string{"endDate"}, Reason: "ends before it starts"}
	}
	if step <= 0 {
		step = 7
	}

	w := weights(p.RABItems)
	spans := make([][2]time.Time, len(p.RABItems))
	for i, it := range p.RABItems {
		s, ok := it.StartDate.Time()
		if !ok {
			s = start
		}
		e, ok := it.EndDate.Time()
		if !ok || e.Before(s) {
			e = end
		}
		spans[i] = [2]time.Time{s, e}
	}
	history := taskHistory(p)

	var out []CurvePoint
	for d := start; ; d = d.Add(time.Duration(step) * day) {
		if d.After(end) {
			d = end
		}
		pt := CurvePoint{Date: domain.DateOf(d)}
		for i, it := range p.RABItems {
			pt.Planned += w[i] * 100 * plannedFraction(spans[i][0], spans[i][1], d)
			pt.Actual += w[i] * actualAt(history[it.ID], it.Progress, d)
		}
		out = append(out, pt)
		if !d.Before(end) {
			break
		}
	}
	return out, nil
}

func plannedFraction(start, end, at time.Time) float64 {
	if at.Before(start) {
		return 0
	}
	if !at.Before(end) {
		return 1
	}
	total := end.Sub(start).Hours()/24 + 1
	elapsed := at.Sub(start).Hours()/24 + 1
	return elapsed / total
}

type progressMark struct {
	at       time.Time
	progress int
}

func taskHistory(p domain.Project) map[int][]progressMark {
	out := make(map[int][]progressMark)
	for _, l := range p.TaskLogs {
		t, ok := l.Date.Time()
		if !ok {
			continue
		}
		out[l.RABItemID] = append(out[l.RABItemID], progressMark{at: t, progress: l.NewProgress})
	}
	for id := range out {
		marks := out[id]
		sort.SliceStable(marks, func(i, j int) bool { return marks[i].at.Before(marks[j].at) })
	}
	return out
}

func actualAt(marks []progressMark, stored int, at time.Time) float64 {
	if len(marks) == 0 {
		return clampProgress(stored)
	}
	value := 0
	for _, m := range marks {
		if m.at.After(at) {
			break
		}
		value = m.progress
	}
	return clampProgress(value)
}
