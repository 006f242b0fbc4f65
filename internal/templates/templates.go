// Package templates snapshots the structure of a project into a reusable
// template and materializes templates back into fresh entities.
package templates

import (
	"time"

	"rabtrack/pkg/domain"
)

// Snapshot copies the structural entities of p. Identity, progress, stock
// and schedule are dropped; price locks are kept.
func Snapshot(p domain.Project, name, description, creator string, now time.Time) domain.ProjectTemplate {
	t := domain.ProjectTemplate{
		Name:        name,
		Description: description,
		CreatedBy:   creator,
		CreatedAt:   now.UTC(),
		RABItems:    make([]domain.TemplateRABItem, 0, len(p.RABItems)),
		Workers:     make([]domain.TemplateWorker, 0, len(p.Workers)),
		Materials:   make([]domain.TemplateMaterial, 0, len(p.Materials)),
	}
	for _, it := range p.RABItems {
		rec := domain.TemplateRABItem{
			Category:   it.Category,
			Name:       it.Name,
			Unit:       it.Unit,
			Volume:     it.Volume,
			UnitPrice:  it.UnitPrice,
			IsAddendum: it.IsAddendum,
		}
		if it.AHSID != nil {
			id := *it.AHSID
			rec.AHSID = &id
		}
		if it.PriceLockedAt != nil {
			at := *it.PriceLockedAt
			rec.PriceLockedAt = &at
		}
		t.RABItems = append(t.RABItems, rec)
	}
	for _, w := range p.Workers {
		t.Workers = append(t.Workers, domain.TemplateWorker{
			Name:       w.Name,
			Role:       w.Role,
			WageUnit:   w.WageUnit,
			RealRate:   w.RealRate,
			MandorRate: w.MandorRate,
		})
	}
	for _, m := range p.Materials {
		t.Materials = append(t.Materials, domain.TemplateMaterial{Name: m.Name, Unit: m.Unit, MinStock: m.MinStock})
	}
	return t
}

// Materialized holds the entities produced from one template.
type Materialized struct {
	RABItems  []domain.RABItem
	Workers   []domain.Worker
	Materials []domain.Material
}

// allocator hands out sequential ids within one materialization.
type allocator struct{ next int }

func (a *allocator) id() int {
	a.next++
	return a.next
}

// Materialize builds fresh entities from t. Each collection is numbered from
// 1 independently; progress and stock start at zero, dates are cleared and
// price locks carry over.
func Materialize(t domain.ProjectTemplate) Materialized {
	var rabIDs, workerIDs, materialIDs allocator
	out := Materialized{
		RABItems:  make([]domain.RABItem, 0, len(t.RABItems)),
		Workers:   make([]domain.Worker, 0, len(t.Workers)),
		Materials: make([]domain.Material, 0, len(t.Materials)),
	}
	for _, rec := range t.RABItems {
		item := domain.RABItem{
			ID:         rabIDs.id(),
			Category:   rec.Category,
			Name:       rec.Name,
			Unit:       rec.Unit,
			Volume:     rec.Volume,
			UnitPrice:  rec.UnitPrice,
			IsAddendum: rec.IsAddendum,
		}
		if rec.AHSID != nil {
			id := *rec.AHSID
			item.AHSID = &id
		}
		if rec.PriceLockedAt != nil {
			at := *rec.PriceLockedAt
			item.PriceLockedAt = &at
		}
		out.RABItems = append(out.RABItems, item)
	}
	for _, rec := range t.Workers {
		out.Workers = append(out.Workers, domain.Worker{
			ID:         workerIDs.id(),
			Name:       rec.Name,
			Role:       rec.Role,
			WageUnit:   rec.WageUnit,
			RealRate:   rec.RealRate,
			MandorRate: rec.MandorRate,
		})
	}
	for _, rec := range t.Materials {
		out.Materials = append(out.Materials, domain.Material{
			ID:       materialIDs.id(),
			Name:     rec.Name,
			Unit:     rec.Unit,
			MinStock: rec.MinStock,
		})
	}
	return out
}

// NewProject returns a project seeded with the entities of t. Identity and
// creation metadata are left to the caller.
func NewProject(t domain.ProjectTemplate, base domain.Project) domain.Project {
	m := Materialize(t)
	base.RABItems = m.RABItems
	base.Workers = m.Workers
	base.Materials = m.Materials
	base.MaterialLogs = []domain.MaterialLog{}
	base.Transactions = []domain.Transaction{}
	base.TaskLogs = []domain.TaskLog{}
	base.AttendanceLogs = []domain.AttendanceLog{}
	base.AttendanceEvidences = []domain.AttendanceEvidence{}
	base.Gallery = []domain.GalleryItem{}
	if base.Budget == 0 {
		for _, it := range m.RABItems {
			base.Budget += it.Cost()
		}
	}
	return base
}
