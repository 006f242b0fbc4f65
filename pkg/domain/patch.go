package domain

import (
	"fmt"
	"math"
	"time"
)

// Opt is a patch slot. The zero value is absent and is left out of the
// encoded patch; a set slot is always encoded, after normalization.
type Opt[T any] struct {
	v  T
	ok bool
}

// Set returns a present slot holding v.
func Set[T any](v T) Opt[T] { return Opt[T]{v: v, ok: true} }

// Get returns the value and whether the slot is present.
func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }

// IsSet reports whether the slot is present.
func (o Opt[T]) IsSet() bool { return o.ok }

// ProjectPatch is a partial update of a project's top-level fields. Identity
// fields (id, createdAt, createdBy) are immutable and have no slot.
type ProjectPatch struct {
	Name                Opt[string]
	Client              Opt[string]
	Location            Opt[string]
	OwnerPhone          Opt[string]
	Status              Opt[ProjectStatus]
	Budget              Opt[float64]
	StartDate           Opt[Date]
	EndDate             Opt[Date]
	IsDeleted           Opt[bool]
	DeletedAt           Opt[*time.Time]
	ClientShowMoney     Opt[bool]
	RABItems            Opt[[]RABItem]
	Workers             Opt[[]Worker]
	Materials           Opt[[]Material]
	MaterialLogs        Opt[[]MaterialLog]
	Transactions        Opt[[]Transaction]
	TaskLogs            Opt[[]TaskLog]
	AttendanceLogs      Opt[[]AttendanceLog]
	AttendanceEvidences Opt[[]AttendanceEvidence]
	Gallery             Opt[[]GalleryItem]
}

// IsEmpty reports whether no slot is present.
func (p ProjectPatch) IsEmpty() bool {
	for _, set := range []bool{
		p.Name.IsSet(), p.Client.IsSet(), p.Location.IsSet(), p.OwnerPhone.IsSet(),
		p.Status.IsSet(), p.Budget.IsSet(), p.StartDate.IsSet(), p.EndDate.IsSet(),
		p.IsDeleted.IsSet(), p.DeletedAt.IsSet(), p.ClientShowMoney.IsSet(),
		p.RABItems.IsSet(), p.Workers.IsSet(), p.Materials.IsSet(), p.MaterialLogs.IsSet(),
		p.Transactions.IsSet(), p.TaskLogs.IsSet(), p.AttendanceLogs.IsSet(),
		p.AttendanceEvidences.IsSet(), p.Gallery.IsSet(),
	} {
		if set {
			return false
		}
	}
	return true
}

// Fields normalizes every present slot into a committable value and encodes
// the patch. Nil collections become empty ones and non-finite numbers become
// zero, since the remote store rejects both.
func (p ProjectPatch) Fields() (Fields, error) {
	out := Fields{}
	steps := []func() error{
		func() error { return put(out, "name", p.Name, identity[string]) },
		func() error { return put(out, "client", p.Client, identity[string]) },
		func() error { return put(out, "location", p.Location, identity[string]) },
		func() error { return put(out, "ownerPhone", p.OwnerPhone, identity[string]) },
		func() error { return put(out, "status", p.Status, identity[ProjectStatus]) },
		func() error { return put(out, "budget", p.Budget, finite) },
		func() error { return put(out, "startDate", p.StartDate, identity[Date]) },
		func() error { return put(out, "endDate", p.EndDate, identity[Date]) },
		func() error { return put(out, "isDeleted", p.IsDeleted, identity[bool]) },
		func() error { return put(out, "deletedAt", p.DeletedAt, identity[*time.Time]) },
		func() error { return put(out, "clientShowMoney", p.ClientShowMoney, identity[bool]) },
		func() error { return put(out, "rabItems", p.RABItems, normalizeRABItems) },
		func() error { return put(out, "workers", p.Workers, normalizeWorkers) },
		func() error { return put(out, "materials", p.Materials, normalizeMaterials) },
		func() error { return put(out, "materialLogs", p.MaterialLogs, normalizeMaterialLogs) },
		func() error { return put(out, "transactions", p.Transactions, normalizeTransactions) },
		func() error { return put(out, "taskLogs", p.TaskLogs, emptyIfNil[TaskLog]) },
		func() error { return put(out, "attendanceLogs", p.AttendanceLogs, emptyIfNil[AttendanceLog]) },
		func() error {
			return put(out, "attendanceEvidences", p.AttendanceEvidences, normalizeEvidences)
		},
		func() error { return put(out, "gallery", p.Gallery, emptyIfNil[GalleryItem]) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, ValidationError{Reason: "empty patch"}
	}
	return out, nil
}

func put[T any](out Fields, name string, slot Opt[T], normalize func(T) T) error {
	v, ok := slot.Get()
	if !ok {
		return nil
	}
	encoded, err := FieldsOf(map[string]T{name: normalize(v)})
	if err != nil {
		return ValidationError{Fields: []string{name}, Reason: err.Error()}
	}
	out[name] = encoded[name]
	return nil
}

func identity[T any](v T) T { return v }

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func emptyIfNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func normalizeRABItems(items []RABItem) []RABItem {
	out := make([]RABItem, len(items))
	for i, it := range items {
		it.Volume = finite(it.Volume)
		it.UnitPrice = finite(it.UnitPrice)
		out[i] = it
	}
	return out
}

func normalizeWorkers(items []Worker) []Worker {
	out := make([]Worker, len(items))
	for i, w := range items {
		w.RealRate = finite(w.RealRate)
		w.MandorRate = finite(w.MandorRate)
		out[i] = w
	}
	return out
}

func normalizeMaterials(items []Material) []Material {
	out := make([]Material, len(items))
	for i, m := range items {
		m.Stock = finite(m.Stock)
		m.MinStock = finite(m.MinStock)
		out[i] = m
	}
	return out
}

func normalizeMaterialLogs(items []MaterialLog) []MaterialLog {
	out := make([]MaterialLog, len(items))
	for i, l := range items {
		l.Quantity = finite(l.Quantity)
		out[i] = l
	}
	return out
}

func normalizeTransactions(items []Transaction) []Transaction {
	out := make([]Transaction, len(items))
	for i, t := range items {
		t.Amount = finite(t.Amount)
		out[i] = t
	}
	return out
}

func normalizeEvidences(items []AttendanceEvidence) []AttendanceEvidence {
	out := make([]AttendanceEvidence, len(items))
	for i, e := range items {
		e.Latitude = finite(e.Latitude)
		e.Longitude = finite(e.Longitude)
		out[i] = e
	}
	return out
}

// EncodeProject encodes a project as document fields. The id lives in the
// document key and is not part of the payload.
func EncodeProject(p Project) (Fields, error) {
	p = withEmptyCollections(p)
	f, err := FieldsOf(p)
	if err != nil {
		return nil, err
	}
	delete(f, "id")
	return f, nil
}

// DecodeProject decodes a stored project document.
func DecodeProject(doc Document) (Project, error) {
	var p Project
	if err := DecodeFields(doc.Data, &p); err != nil {
		return Project{}, fmt.Errorf("decode project %s: %w", doc.ID, err)
	}
	p.ID = doc.ID
	return withEmptyCollections(p), nil
}

// ApplyFields overlays encoded patch fields onto a project.
func ApplyFields(p Project, patch Fields) (Project, error) {
	base, err := EncodeProject(p)
	if err != nil {
		return Project{}, err
	}
	var out Project
	if err := DecodeFields(base.Merge(patch), &out); err != nil {
		return Project{}, fmt.Errorf("apply patch: %w", err)
	}
	out.ID = p.ID
	return withEmptyCollections(out), nil
}

// InverseFields returns the patch that restores the fields touched by patch
// to their values in before.
func InverseFields(before Project, patch Fields) (Fields, error) {
	base, err := EncodeProject(before)
	if err != nil {
		return nil, err
	}
	inv := make(Fields, len(patch))
	for k := range patch {
		if v, ok := base[k]; ok {
			inv[k] = cloneRaw(v)
		}
	}
	return inv, nil
}

func withEmptyCollections(p Project) Project {
	p.RABItems = emptyIfNil(p.RABItems)
	p.Workers = emptyIfNil(p.Workers)
	p.Materials = emptyIfNil(p.Materials)
	p.MaterialLogs = emptyIfNil(p.MaterialLogs)
	p.Transactions = emptyIfNil(p.Transactions)
	p.TaskLogs = emptyIfNil(p.TaskLogs)
	p.AttendanceLogs = emptyIfNil(p.AttendanceLogs)
	p.AttendanceEvidences = emptyIfNil(p.AttendanceEvidences)
	p.Gallery = emptyIfNil(p.Gallery)
	return p
}

// CloneProject deep-copies every collection of a project.
func CloneProject(p Project) Project {
	cp := p
	cp.RABItems = cloneRABItems(p.RABItems)
	cp.Workers = append([]Worker(nil), p.Workers...)
	cp.Materials = append([]Material(nil), p.Materials...)
	cp.MaterialLogs = append([]MaterialLog(nil), p.MaterialLogs...)
	cp.Transactions = append([]Transaction(nil), p.Transactions...)
	cp.TaskLogs = append([]TaskLog(nil), p.TaskLogs...)
	cp.AttendanceLogs = append([]AttendanceLog(nil), p.AttendanceLogs...)
	cp.AttendanceEvidences = append([]AttendanceEvidence(nil), p.AttendanceEvidences...)
	cp.Gallery = append([]GalleryItem(nil), p.Gallery...)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		cp.DeletedAt = &t
	}
	return withEmptyCollections(cp)
}

func cloneRABItems(items []RABItem) []RABItem {
	out := make([]RABItem, len(items))
	for i, it := range items {
		if it.AHSID != nil {
			id := *it.AHSID
			it.AHSID = &id
		}
		if it.PriceLockedAt != nil {
			t := *it.PriceLockedAt
			it.PriceLockedAt = &t
		}
		out[i] = it
	}
	return out
}
