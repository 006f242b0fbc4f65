package core

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"rabtrack/internal/access"
	"rabtrack/internal/blob"
	"rabtrack/internal/ledger"
	"rabtrack/internal/platform/validate"
	"rabtrack/pkg/domain"
)

// ErrNoBlobStore is returned by uploads when the store has no blob storage.
var ErrNoBlobStore = errors.New("blob storage not configured")

func (s *Store) require(op string, allowed func(access.Capabilities) bool) error {
	ident := s.sess.Identity()
	if !ident.Authenticated() {
		return domain.ErrAuthRequired
	}
	if allowed != nil && !allowed(ident.Capabilities()) {
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	}
	return nil
}

func canEdit(c access.Capabilities) bool       { return c.CanEditProject }
func canFinance(c access.Capabilities) bool    { return c.CanAccessFinance }
func canAddWorkers(c access.Capabilities) bool { return c.CanAddWorkers }
func canWorkers(c access.Capabilities) bool    { return c.CanAccessWorkers }

func notFound(kind string, id any) error {
	return domain.NotFoundError{Collection: kind, ID: fmt.Sprint(id)}
}

// UpdateRABProgress sets the progress of one RAB item and appends a TaskLog
// with the previous and new values.
func (s *Store) UpdateRABProgress(ctx context.Context, projectID string, itemID, progress int, note string) error {
	if err := s.require("update progress", nil); err != nil {
		return err
	}
	if progress < 0 || progress > 100 {
		return domain.ValidationError{Fields: []string{"progress"}, Reason: "must be between 0 and 100"}
	}
	actor := s.sess.Identity().Email
	return s.mutate(ctx, "update_rab_progress", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		idx := -1
		for i, it := range p.RABItems {
			if it.ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return domain.ProjectPatch{}, notFound("rabItems", itemID)
		}
		prev := p.RABItems[idx].Progress
		p.RABItems[idx].Progress = progress
		logs := append(p.TaskLogs, domain.TaskLog{
			ID:               uuid.NewString(),
			RABItemID:        itemID,
			Date:             domain.DateOf(s.now()),
			PreviousProgress: prev,
			NewProgress:      progress,
			Note:             note,
			Actor:            actor,
		})
		return domain.ProjectPatch{RABItems: domain.Set(p.RABItems), TaskLogs: domain.Set(logs)}, nil
	})
}

func nextRABID(items []domain.RABItem) int {
	next := 1
	for _, it := range items {
		if it.ID >= next {
			next = it.ID + 1
		}
	}
	return next
}

func nextWorkerID(workers []domain.Worker) int {
	next := 1
	for _, w := range workers {
		if w.ID >= next {
			next = w.ID + 1
		}
	}
	return next
}

// AddRABItem appends a budget line and returns its id. An AHS-linked item
// without a unit price is priced from the session catalog.
func (s *Store) AddRABItem(ctx context.Context, projectID string, item domain.RABItem) (int, error) {
	if err := s.require("add rab item", canEdit); err != nil {
		return 0, err
	}
	if err := validate.Struct(item); err != nil {
		return 0, err
	}
	if item.AHSID != nil && item.UnitPrice == 0 {
		price, err := s.sess.Catalog().ComputeUnitPrice(*item.AHSID)
		if err != nil {
			return 0, err
		}
		item.UnitPrice = price
	}
	var id int
	err := s.mutate(ctx, "add_rab_item", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		item.ID = nextRABID(p.RABItems)
		id = item.ID
		return domain.ProjectPatch{RABItems: domain.Set(append(p.RABItems, item))}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddTransaction records a cash movement. A non-nil proof is uploaded first
// and removed again if the project write fails.
func (s *Store) AddTransaction(ctx context.Context, projectID string, tx domain.Transaction, proof *blob.Upload) (domain.Transaction, error) {
	if err := s.require("add transaction", canFinance); err != nil {
		return domain.Transaction{}, err
	}
	if err := validate.Struct(tx); err != nil {
		return domain.Transaction{}, err
	}
	target, err := s.resolveTarget(projectID)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.ID = uuid.NewString()
	if tx.Date.IsZero() {
		tx.Date = domain.DateOf(s.now())
	}
	var uploaded string
	if proof != nil {
		info, err := s.upload(ctx, target, blob.MediaProofs, *proof)
		if err != nil {
			return domain.Transaction{}, err
		}
		tx.ProofKey = info.Key
		uploaded = info.Key
	}
	err = s.mutate(ctx, "add_transaction", target, func(p domain.Project) (domain.ProjectPatch, error) {
		return domain.ProjectPatch{Transactions: domain.Set(append(p.Transactions, tx))}, nil
	})
	if err != nil {
		s.discardUpload(ctx, uploaded)
		return domain.Transaction{}, err
	}
	return tx, nil
}

// AddWorker appends a worker and returns its id.
func (s *Store) AddWorker(ctx context.Context, projectID string, w domain.Worker) (int, error) {
	if err := s.require("add worker", canAddWorkers); err != nil {
		return 0, err
	}
	if err := validate.Struct(w); err != nil {
		return 0, err
	}
	var id int
	err := s.mutate(ctx, "add_worker", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		w.ID = nextWorkerID(p.Workers)
		id = w.ID
		return domain.ProjectPatch{Workers: domain.Set(append(p.Workers, w))}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func validAttendance(st domain.AttendanceStatus) bool {
	switch st {
	case domain.AttendancePresent, domain.AttendanceLeave, domain.AttendanceSick,
		domain.AttendanceOvertime, domain.AttendanceAbsent:
		return true
	}
	return false
}

// RecordAttendance sets a worker's status for one day, replacing an earlier
// entry for the same day.
func (s *Store) RecordAttendance(ctx context.Context, projectID string, workerID int, date domain.Date, status domain.AttendanceStatus) error {
	if err := s.require("record attendance", canWorkers); err != nil {
		return err
	}
	if !validAttendance(status) {
		return domain.ValidationError{Fields: []string{"status"}, Reason: fmt.Sprintf("unknown attendance status %q", status)}
	}
	if date.IsZero() {
		date = domain.DateOf(s.now())
	} else if _, ok := date.Time(); !ok {
		return domain.ValidationError{Fields: []string{"date"}, Reason: "expected YYYY-MM-DD"}
	}
	return s.mutate(ctx, "record_attendance", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		known := false
		for _, w := range p.Workers {
			if w.ID == workerID {
				known = true
				break
			}
		}
		if !known {
			return domain.ProjectPatch{}, notFound("workers", workerID)
		}
		logs := p.AttendanceLogs
		replaced := false
		for i := range logs {
			if logs[i].WorkerID == workerID && logs[i].Date == date {
				logs[i].Status = status
				replaced = true
			}
		}
		if !replaced {
			logs = append(logs, domain.AttendanceLog{ID: uuid.NewString(), WorkerID: workerID, Date: date, Status: status})
		}
		return domain.ProjectPatch{AttendanceLogs: domain.Set(logs)}, nil
	})
}

// RecordMaterialMovement appends a stock movement and updates the cached
// stock in the same patch.
func (s *Store) RecordMaterialMovement(ctx context.Context, projectID string, entry domain.MaterialLog) (domain.MaterialLog, error) {
	if err := s.require("record material movement", nil); err != nil {
		return domain.MaterialLog{}, err
	}
	entry.ID = uuid.NewString()
	entry.Actor = s.sess.Identity().Email
	if entry.Date.IsZero() {
		entry.Date = domain.DateOf(s.now())
	}
	err := s.mutate(ctx, "record_material_movement", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		materials, logs, err := ledger.ApplyMovement(p.Materials, p.MaterialLogs, entry)
		if err != nil {
			return domain.ProjectPatch{}, err
		}
		return domain.ProjectPatch{Materials: domain.Set(materials), MaterialLogs: domain.Set(logs)}, nil
	})
	if err != nil {
		return domain.MaterialLog{}, err
	}
	return entry, nil
}

// AddMaterial appends a material. Its Stock is taken as the opening stock
// and booked as an incoming movement.
func (s *Store) AddMaterial(ctx context.Context, projectID string, m domain.Material) (int, error) {
	if err := s.require("add material", canEdit); err != nil {
		return 0, err
	}
	if err := validate.Struct(m); err != nil {
		return 0, err
	}
	opening := domain.MaterialLog{
		ID:    uuid.NewString(),
		Date:  domain.DateOf(s.now()),
		Notes: "Stok awal",
		Actor: s.sess.Identity().Email,
	}
	var id int
	err := s.mutate(ctx, "add_material", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		materials, logs, err := ledger.AddMaterial(p.Materials, p.MaterialLogs, m, opening)
		if err != nil {
			return domain.ProjectPatch{}, err
		}
		id = materials[len(materials)-1].ID
		return domain.ProjectPatch{Materials: domain.Set(materials), MaterialLogs: domain.Set(logs)}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AttachEvidence uploads a check-in photo and records it with its location.
func (s *Store) AttachEvidence(ctx context.Context, projectID string, photo blob.Upload, latitude, longitude float64) (domain.AttendanceEvidence, error) {
	if err := s.require("attach evidence", nil); err != nil {
		return domain.AttendanceEvidence{}, err
	}
	if math.Abs(latitude) > 90 || math.Abs(longitude) > 180 {
		return domain.AttendanceEvidence{}, domain.ValidationError{Fields: []string{"latitude", "longitude"}, Reason: "coordinates out of range"}
	}
	target, err := s.resolveTarget(projectID)
	if err != nil {
		return domain.AttendanceEvidence{}, err
	}
	info, err := s.upload(ctx, target, blob.MediaEvidence, photo)
	if err != nil {
		return domain.AttendanceEvidence{}, err
	}
	now := s.now()
	ev := domain.AttendanceEvidence{
		ID:        uuid.NewString(),
		Date:      domain.DateOf(now),
		PhotoKey:  info.Key,
		Latitude:  latitude,
		Longitude: longitude,
		Uploader:  s.sess.Identity().Email,
		Timestamp: now,
	}
	err = s.mutate(ctx, "attach_evidence", target, func(p domain.Project) (domain.ProjectPatch, error) {
		return domain.ProjectPatch{AttendanceEvidences: domain.Set(append(p.AttendanceEvidences, ev))}, nil
	})
	if err != nil {
		s.discardUpload(ctx, info.Key)
		return domain.AttendanceEvidence{}, err
	}
	return ev, nil
}

// AddGalleryItem uploads a progress photo to the project gallery.
func (s *Store) AddGalleryItem(ctx context.Context, projectID, caption string, photo blob.Upload) (domain.GalleryItem, error) {
	if err := s.require("add gallery item", nil); err != nil {
		return domain.GalleryItem{}, err
	}
	target, err := s.resolveTarget(projectID)
	if err != nil {
		return domain.GalleryItem{}, err
	}
	info, err := s.upload(ctx, target, blob.MediaGallery, photo)
	if err != nil {
		return domain.GalleryItem{}, err
	}
	item := domain.GalleryItem{
		ID:       uuid.NewString(),
		Date:     domain.DateOf(s.now()),
		Caption:  caption,
		PhotoKey: info.Key,
		Uploader: s.sess.Identity().Email,
	}
	err = s.mutate(ctx, "add_gallery_item", target, func(p domain.Project) (domain.ProjectPatch, error) {
		return domain.ProjectPatch{Gallery: domain.Set(append(p.Gallery, item))}, nil
	})
	if err != nil {
		s.discardUpload(ctx, info.Key)
		return domain.GalleryItem{}, err
	}
	return item, nil
}

// LockRABPrices freezes the unit price of the given items, or of every item
// when ids is empty, and returns how many were newly locked.
func (s *Store) LockRABPrices(ctx context.Context, projectID string, ids ...int) (int, error) {
	if err := s.require("lock rab prices", canEdit); err != nil {
		return 0, err
	}
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	catalog := s.sess.Catalog()
	var locked int
	err := s.mutate(ctx, "lock_rab_prices", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		locked = 0
		now := s.now()
		for i, it := range p.RABItems {
			if (len(want) > 0 && !want[it.ID]) || it.Locked() {
				continue
			}
			next, err := catalog.LockPrice(it, now)
			if err != nil {
				return domain.ProjectPatch{}, fmt.Errorf("lock item %d: %w", it.ID, err)
			}
			p.RABItems[i] = next
			locked++
		}
		if locked == 0 {
			return domain.ProjectPatch{}, nil
		}
		return domain.ProjectPatch{RABItems: domain.Set(p.RABItems)}, nil
	})
	if err != nil {
		return 0, err
	}
	return locked, nil
}

// RepriceRAB recomputes unlocked AHS-linked items from the current catalog
// and returns how many prices changed.
func (s *Store) RepriceRAB(ctx context.Context, projectID string) (int, error) {
	if err := s.require("reprice rab", canEdit); err != nil {
		return 0, err
	}
	catalog := s.sess.Catalog()
	var changed int
	err := s.mutate(ctx, "reprice_rab", projectID, func(p domain.Project) (domain.ProjectPatch, error) {
		var items []domain.RABItem
		items, changed = catalog.Reprice(p.RABItems)
		if changed == 0 {
			return domain.ProjectPatch{}, nil
		}
		return domain.ProjectPatch{RABItems: domain.Set(items)}, nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *Store) upload(ctx context.Context, projectID string, kind blob.MediaKind, u blob.Upload) (blob.Info, error) {
	if s.opts.blobs == nil {
		return blob.Info{}, ErrNoBlobStore
	}
	if len(u.Data) == 0 {
		return blob.Info{}, domain.ValidationError{Fields: []string{"data"}, Reason: "empty upload"}
	}
	md := map[string]string{"uploader": s.sess.Identity().Email}
	for k, v := range u.Metadata {
		md[k] = v
	}
	u.Metadata = md
	info, err := blob.PutMedia(ctx, s.opts.blobs, projectID, kind, u)
	if err != nil {
		return blob.Info{}, &domain.SyncError{Op: "upload " + string(kind), Err: err}
	}
	return info, nil
}

func (s *Store) discardUpload(ctx context.Context, key string) {
	if key == "" || s.opts.blobs == nil {
		return
	}
	if _, err := s.opts.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.opts.logger.Warn("removing orphaned upload", "key", key, "error", err)
	}
}
