// Package seed generates deterministic demo data and loads it through the
// project store.
package seed

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"rabtrack/internal/access"
	"rabtrack/internal/core"
	"rabtrack/internal/ledger"
	"rabtrack/internal/pricing"
	"rabtrack/internal/templates"
	"rabtrack/pkg/domain"
)

// Options controls generation. The same options always yield the same data.
type Options struct {
	Projects int
	Seed     uint64
	Now      time.Time
}

// DefaultProjects is used when Options.Projects is zero.
const DefaultProjects = 4

var (
	projectNames = []string{
		"Rumah Tinggal Pak Hendra",
		"Ruko 2 Lantai Jl. Merdeka",
		"Renovasi Kantor Desa Sukamaju",
		"Gudang Logistik Cikarang",
		"Musholla Al-Ikhlas",
		"Pagar dan Carport Bu Ratna",
	}
	clients   = []string{"Hendra Wijaya", "CV Maju Jaya", "Pemdes Sukamaju", "PT Sinar Logistik", "Yayasan Al-Ikhlas", "Ratna Sari"}
	locations = []string{"Bekasi", "Bogor", "Depok", "Cikarang", "Tangerang", "Karawang"}
	workers   = []struct {
		name, role string
		rate       float64
	}{
		{"Slamet", "Mandor", 175_000},
		{"Joko", "Tukang Batu", 140_000},
		{"Udin", "Tukang Kayu", 140_000},
		{"Asep", "Kenek", 110_000},
		{"Dedi", "Kenek", 110_000},
		{"Wawan", "Tukang Besi", 145_000},
	}
	materials = []struct {
		name, unit string
		min, open  float64
	}{
		{"Semen Portland 50kg", "zak", 20, 150},
		{"Pasir Pasang", "m3", 3, 20},
		{"Besi Beton 10mm", "batang", 30, 200},
		{"Bata Merah", "bh", 1000, 8000},
	}
	attendance = []domain.AttendanceStatus{
		domain.AttendancePresent, domain.AttendancePresent, domain.AttendancePresent,
		domain.AttendanceOvertime, domain.AttendanceLeave, domain.AttendanceSick, domain.AttendanceAbsent,
	}
)

// Users returns one demo account per role.
func Users() []domain.AppUser {
	return []domain.AppUser{
		{Email: "admin@rabtrack.local", Name: "Admin", Role: access.RoleSuperAdmin.String()},
		{Email: "kontraktor@rabtrack.local", Name: "Budi Kontraktor", Role: access.RoleKontraktor.String()},
		{Email: "pengawas@rabtrack.local", Name: "Sari Pengawas", Role: access.RolePengawas.String()},
		{Email: "keuangan@rabtrack.local", Name: "Rina Keuangan", Role: access.RoleKeuangan.String()},
	}
}

// Projects builds demo projects priced from catalog. IDs are left empty;
// the store assigns them on create.
func Projects(catalog *pricing.Library, opts Options) []domain.Project {
	n := opts.Projects
	if n <= 0 {
		n = DefaultProjects
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	}
	now = now.UTC()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed))
	ahs := catalog.AHSItems()

	out := make([]domain.Project, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, project(rng, catalog, ahs, i, now))
	}
	return out
}

func project(rng *rand.Rand, catalog *pricing.Library, ahs []domain.AHSItem, i int, now time.Time) domain.Project {
	day := 24 * time.Hour
	start := now.Add(-time.Duration(30+rng.IntN(90)) * day)
	end := start.Add(time.Duration(90+rng.IntN(90)) * day)
	elapsed := math.Min(1, float64(now.Sub(start))/float64(end.Sub(start)))

	p := domain.Project{
		Name:      projectNames[i%len(projectNames)],
		Client:    clients[i%len(clients)],
		Location:  locations[i%len(locations)],
		Status:    domain.StatusOngoing,
		StartDate: domain.DateOf(start),
		EndDate:   domain.DateOf(end),
		CreatedAt: start.Add(time.Duration(i) * time.Minute),
		CreatedBy: "kontraktor@rabtrack.local",
	}
	if i%len(projectNames) != i {
		p.Name = fmt.Sprintf("%s (%d)", p.Name, i/len(projectNames)+1)
	}
	if i%3 == 2 {
		p.ClientShowMoney = true
	}

	for j, a := range ahs {
		price, err := catalog.ComputeUnitPrice(a.ID)
		if err != nil {
			continue
		}
		id := a.ID
		target := elapsed*100 - float64(j*8) + float64(rng.IntN(15))
		progress := int(math.Max(0, math.Min(100, math.Round(target))))
		item := domain.RABItem{
			ID:        j + 1,
			Category:  a.Category,
			Name:      a.Name,
			Unit:      a.Unit,
			Volume:    float64(5 + rng.IntN(120)),
			UnitPrice: price,
			AHSID:     &id,
			Progress:  progress,
		}
		p.RABItems = append(p.RABItems, item)
		if progress > 0 {
			mid := progress / 2
			logDay := start.Add(time.Duration(float64(now.Sub(start)) / 2))
			p.TaskLogs = append(p.TaskLogs,
				domain.TaskLog{ID: fmt.Sprintf("t%d-%d-a", i, j), RABItemID: item.ID, Date: domain.DateOf(logDay), PreviousProgress: 0, NewProgress: mid, Actor: "pengawas@rabtrack.local"},
				domain.TaskLog{ID: fmt.Sprintf("t%d-%d-b", i, j), RABItemID: item.ID, Date: domain.DateOf(now.Add(-day)), PreviousProgress: mid, NewProgress: progress, Actor: "pengawas@rabtrack.local"},
			)
		}
	}
	p.RABItems = append(p.RABItems, domain.RABItem{
		ID: len(p.RABItems) + 1, Category: "Persiapan", Name: "Mobilisasi dan pembersihan lahan", Unit: "ls",
		Volume: 1, UnitPrice: 2_500_000, Progress: 100,
	})
	total := ledger.TotalRAB(p.RABItems)
	p.Budget = math.Ceil(total*1.1/1_000_000) * 1_000_000

	crew := 3 + rng.IntN(3)
	for j := 0; j < crew; j++ {
		w := workers[j%len(workers)]
		p.Workers = append(p.Workers, domain.Worker{
			ID: j + 1, Name: w.name, Role: w.role, WageUnit: "Harian",
			RealRate: w.rate, MandorRate: w.rate + 25_000,
		})
	}
	for d := 6; d >= 0; d-- {
		date := domain.DateOf(now.Add(-time.Duration(d) * day))
		for _, w := range p.Workers {
			p.AttendanceLogs = append(p.AttendanceLogs, domain.AttendanceLog{
				ID: fmt.Sprintf("a%d-%d-%d", i, w.ID, d), WorkerID: w.ID, Date: date,
				Status: attendance[rng.IntN(len(attendance))],
			})
		}
	}

	for j, m := range materials {
		opening := domain.MaterialLog{
			ID: fmt.Sprintf("m%d-%d-open", i, j), Date: domain.DateOf(start), Notes: "Stok awal", Actor: "kontraktor@rabtrack.local",
		}
		mats, logs, err := ledger.AddMaterial(p.Materials, p.MaterialLogs, domain.Material{Name: m.name, Unit: m.unit, Stock: m.open, MinStock: m.min}, opening)
		if err != nil {
			continue
		}
		p.Materials, p.MaterialLogs = mats, logs
		used := math.Floor(m.open * (0.4 + 0.6*rng.Float64()))
		if used <= 0 {
			continue
		}
		out := domain.MaterialLog{
			ID: fmt.Sprintf("m%d-%d-out", i, j), MaterialID: p.Materials[len(p.Materials)-1].ID,
			Date: domain.DateOf(now.Add(-2 * day)), Type: domain.MovementOut, Quantity: used,
			Notes: "Pemakaian lapangan", Actor: "pengawas@rabtrack.local",
		}
		if mats, logs, err := ledger.ApplyMovement(p.Materials, p.MaterialLogs, out); err == nil {
			p.Materials, p.MaterialLogs = mats, logs
		}
	}

	p.Transactions = []domain.Transaction{
		{ID: fmt.Sprintf("x%d-1", i), Date: domain.DateOf(start), Description: "Termin 1 (DP 30%)", Amount: math.Round(p.Budget * 0.3), Type: domain.TransactionIncome, Category: "Termin"},
		{ID: fmt.Sprintf("x%d-2", i), Date: domain.DateOf(start.Add(3 * day)), Description: "Belanja material awal", Amount: math.Round(total * 0.2), Type: domain.TransactionExpense, Category: "Material"},
		{ID: fmt.Sprintf("x%d-3", i), Date: domain.DateOf(now.Add(-day)), Description: "Upah mingguan", Amount: float64(len(p.Workers)) * 6 * 140_000, Type: domain.TransactionExpense, Category: "Upah"},
	}
	if elapsed > 0.5 {
		p.Transactions = append(p.Transactions, domain.Transaction{
			ID: fmt.Sprintf("x%d-4", i), Date: domain.DateOf(now.Add(-10 * day)), Description: "Termin 2", Amount: math.Round(p.Budget * 0.3),
			Type: domain.TransactionIncome, Category: "Termin",
		})
	}
	return p
}

// Summary reports what Load wrote.
type Summary struct {
	Users      int
	ProjectIDs []string
	TemplateID string
}

// Load writes demo users (when dir is non-nil), demo projects, and a template
// snapshot of the first project (when tmpl is non-nil).
func Load(ctx context.Context, store *core.Store, dir *core.Directory, tmpl *templates.Service, opts Options) (Summary, error) {
	var sum Summary
	if dir != nil {
		for _, u := range Users() {
			if _, err := dir.Save(ctx, u); err != nil {
				return sum, fmt.Errorf("seed user %s: %w", u.Email, err)
			}
			sum.Users++
		}
	}
	projects := Projects(store.Session().Catalog(), opts)
	for _, p := range projects {
		id, err := store.Create(ctx, p)
		if err != nil {
			return sum, fmt.Errorf("seed project %q: %w", p.Name, err)
		}
		sum.ProjectIDs = append(sum.ProjectIDs, id)
	}
	if tmpl != nil && len(projects) > 0 {
		t, err := tmpl.SaveFromProject(ctx, projects[0], "Template "+projects[0].Name, "Struktur RAB demo")
		if err != nil {
			return sum, fmt.Errorf("seed template: %w", err)
		}
		sum.TemplateID = t.ID
	}
	return sum, nil
}
