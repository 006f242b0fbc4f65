package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rabtrack/internal/blob"
	"rabtrack/internal/ledger"
	"rabtrack/pkg/domain"
)

func strPtr(v string) *string { return &v }

func opsFixture(t *testing.T, role string, opts ...Option) (*Store, *hookedRemote) {
	t.Helper()
	remote := newHookedRemote()
	seedProject(t, remote, domain.Project{
		ID:     "p1",
		Name:   "Ruko Dua Lantai",
		Budget: 500_000_000,
		RABItems: []domain.RABItem{
			{ID: 1, Category: "Persiapan", Name: "Pembersihan lahan", Unit: "ls", Volume: 1, UnitPrice: 2_000_000},
		},
		Workers: []domain.Worker{{ID: 1, Name: "Slamet", Role: "Tukang", WageUnit: "Harian", RealRate: 150_000, MandorRate: 175_000}},
	})
	return syncedStore(t, newSession(t, role), remote, opts...), remote
}

func TestUpdateRABProgressAppendsTaskLog(t *testing.T) {
	s, _ := opsFixture(t, "pengawas")
	ctx := context.Background()
	if err := s.UpdateRABProgress(ctx, "p1", 1, 40, "pondasi selesai"); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	p := mustProject(t, s, "p1")
	if p.RABItems[0].Progress != 40 {
		t.Fatalf("progress = %d", p.RABItems[0].Progress)
	}
	if len(p.TaskLogs) != 1 {
		t.Fatalf("expected one task log, got %d", len(p.TaskLogs))
	}
	log := p.TaskLogs[0]
	if log.PreviousProgress != 0 || log.NewProgress != 40 || log.Actor != "pengawas@example.com" || log.Date != "2024-03-01" {
		t.Fatalf("unexpected task log %+v", log)
	}

	cases := []struct {
		name     string
		item     int
		progress int
		want     error
	}{
		{"above range", 1, 101, domain.ErrValidation},
		{"below range", 1, -1, domain.ErrValidation},
		{"unknown item", 9, 10, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.UpdateRABProgress(ctx, "p1", tc.item, tc.progress, ""); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAddRABItemPricesFromCatalog(t *testing.T) {
	s, _ := opsFixture(t, "kontraktor")
	id, err := s.AddRABItem(context.Background(), "p1", domain.RABItem{
		Category: "Pekerjaan Tanah", Name: "Galian", Unit: "m3", Volume: 10, AHSID: strPtr("A.2.2.1.1"),
	})
	if err != nil {
		t.Fatalf("add rab item: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2, got %d", id)
	}
	items := mustProject(t, s, "p1").RABItems
	if got := items[1].UnitPrice; got != 86875 {
		t.Fatalf("expected catalog price 86875, got %v", got)
	}
}

func TestOperationPermissions(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		role string
		call func(s *Store) error
	}{
		{"supervisor adds rab item", "pengawas", func(s *Store) error {
			_, err := s.AddRABItem(ctx, "p1", domain.RABItem{Name: "X"})
			return err
		}},
		{"supervisor adds transaction", "pengawas", func(s *Store) error {
			_, err := s.AddTransaction(ctx, "p1", domain.Transaction{Amount: 1, Type: domain.TransactionIncome}, nil)
			return err
		}},
		{"finance adds worker", "keuangan", func(s *Store) error {
			_, err := s.AddWorker(ctx, "p1", domain.Worker{Name: "Udin"})
			return err
		}},
		{"finance records attendance", "keuangan", func(s *Store) error {
			return s.RecordAttendance(ctx, "p1", 1, "", domain.AttendancePresent)
		}},
		{"supervisor locks prices", "pengawas", func(s *Store) error {
			_, err := s.LockRABPrices(ctx, "p1")
			return err
		}},
		{"finance soft deletes", "keuangan", func(s *Store) error {
			return s.SoftDelete(ctx, "p1")
		}},
		{"contractor purges", "kontraktor", func(s *Store) error {
			return s.PermanentlyDelete(ctx, "p1")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := opsFixture(t, tc.role)
			if err := tc.call(s); !errors.Is(err, domain.ErrPermissionDenied) {
				t.Fatalf("expected permission denied, got %v", err)
			}
		})
	}
}

func TestAddTransactionWithProof(t *testing.T) {
	blobs := blob.NewMemory()
	s, remote := opsFixture(t, "keuangan", WithBlobStore(blobs))
	ctx := context.Background()

	tx, err := s.AddTransaction(ctx, "p1", domain.Transaction{
		Description: "Termin 1", Amount: 100_000_000, Type: domain.TransactionIncome, Category: "Termin",
	}, &blob.Upload{Data: []byte("%PDF-1.4"), Ext: ".PDF", ContentType: "application/pdf"})
	if err != nil {
		t.Fatalf("add transaction: %v", err)
	}
	if !strings.HasPrefix(tx.ProofKey, "projects/p1/proofs/") || !strings.HasSuffix(tx.ProofKey, ".pdf") {
		t.Fatalf("unexpected proof key %q", tx.ProofKey)
	}
	info, err := blobs.Head(ctx, tx.ProofKey)
	if err != nil {
		t.Fatalf("head proof: %v", err)
	}
	if info.Metadata["uploader"] != "keuangan@example.com" || info.Metadata["project"] != "p1" {
		t.Fatalf("unexpected metadata %v", info.Metadata)
	}
	if tx.Date != "2024-03-01" {
		t.Fatalf("expected default date, got %q", tx.Date)
	}
	if got := mustProject(t, s, "p1").Transactions; len(got) != 1 || got[0].ID != tx.ID {
		t.Fatalf("transaction not cached: %+v", got)
	}

	remote.onPatch = func(string, domain.Fields) error { return errors.New("offline") }
	_, err = s.AddTransaction(ctx, "p1", domain.Transaction{Amount: 5, Type: domain.TransactionExpense},
		&blob.Upload{Data: []byte("x"), Ext: ".jpg"})
	if !errors.Is(err, domain.ErrSyncFailure) {
		t.Fatalf("expected sync failure, got %v", err)
	}
	infos, err := blobs.List(ctx, blob.ProjectPrefix("p1"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("orphaned proof kept: %+v", infos)
	}
}

func TestUploadsNeedBlobStore(t *testing.T) {
	s, _ := opsFixture(t, "super_admin")
	ctx := context.Background()
	if _, err := s.AddGalleryItem(ctx, "p1", "atap", blob.Upload{Data: []byte("img")}); !errors.Is(err, ErrNoBlobStore) {
		t.Fatalf("expected ErrNoBlobStore, got %v", err)
	}
	if _, err := s.AttachEvidence(ctx, "p1", blob.Upload{Data: []byte("img")}, -6.2, 106.8); !errors.Is(err, ErrNoBlobStore) {
		t.Fatalf("expected ErrNoBlobStore, got %v", err)
	}
	if _, err := s.AddTransaction(ctx, "p1", domain.Transaction{Amount: 1, Type: domain.TransactionIncome}, nil); err != nil {
		t.Fatalf("transaction without proof: %v", err)
	}
}

func TestEvidenceAndGallery(t *testing.T) {
	blobs := blob.NewMemory()
	s, _ := opsFixture(t, "pengawas", WithBlobStore(blobs))
	ctx := context.Background()

	if _, err := s.AttachEvidence(ctx, "p1", blob.Upload{Data: []byte("img")}, 91, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.AttachEvidence(ctx, "p1", blob.Upload{}, 0, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected empty upload rejection, got %v", err)
	}
	ev, err := s.AttachEvidence(ctx, "p1", blob.Upload{Data: []byte("img"), Ext: ".jpg"}, -6.2, 106.8)
	if err != nil {
		t.Fatalf("attach evidence: %v", err)
	}
	if !strings.HasPrefix(ev.PhotoKey, "projects/p1/evidence/") || !ev.Timestamp.Equal(testNow) {
		t.Fatalf("unexpected evidence %+v", ev)
	}
	item, err := s.AddGalleryItem(ctx, "p1", "Pengecoran lantai 2", blob.Upload{Data: []byte("img"), Ext: ".png"})
	if err != nil {
		t.Fatalf("add gallery item: %v", err)
	}
	p := mustProject(t, s, "p1")
	if len(p.AttendanceEvidences) != 1 || len(p.Gallery) != 1 || p.Gallery[0].PhotoKey != item.PhotoKey {
		t.Fatalf("uploads not recorded: %+v %+v", p.AttendanceEvidences, p.Gallery)
	}
	infos, _ := blobs.List(ctx, blob.ProjectPrefix("p1"))
	if len(infos) != 2 {
		t.Fatalf("expected 2 stored objects, got %d", len(infos))
	}
}

func TestWorkersAndAttendance(t *testing.T) {
	s, _ := opsFixture(t, "kontraktor")
	ctx := context.Background()
	id, err := s.AddWorker(ctx, "p1", domain.Worker{Name: "Joko", Role: "Kenek", WageUnit: "Harian", RealRate: 100_000})
	if err != nil {
		t.Fatalf("add worker: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2, got %d", id)
	}
	if err := s.RecordAttendance(ctx, "p1", id, "2024-02-28", domain.AttendancePresent); err != nil {
		t.Fatalf("attendance: %v", err)
	}
	if err := s.RecordAttendance(ctx, "p1", id, "2024-02-28", domain.AttendanceOvertime); err != nil {
		t.Fatalf("attendance overwrite: %v", err)
	}
	if err := s.RecordAttendance(ctx, "p1", 1, "", domain.AttendanceSick); err != nil {
		t.Fatalf("attendance today: %v", err)
	}
	logs := mustProject(t, s, "p1").AttendanceLogs
	if len(logs) != 2 {
		t.Fatalf("expected 2 attendance logs, got %+v", logs)
	}
	if logs[0].Status != domain.AttendanceOvertime || logs[1].Date != "2024-03-01" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	cases := []struct {
		name   string
		worker int
		date   domain.Date
		status domain.AttendanceStatus
		want   error
	}{
		{"unknown worker", 42, "", domain.AttendancePresent, domain.ErrNotFound},
		{"bad status", 1, "", "Libur", domain.ErrValidation},
		{"bad date", 1, "28/02/2024", domain.AttendancePresent, domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.RecordAttendance(ctx, "p1", tc.worker, tc.date, tc.status); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMaterialLedger(t *testing.T) {
	s, _ := opsFixture(t, "kontraktor")
	ctx := context.Background()
	id, err := s.AddMaterial(ctx, "p1", domain.Material{Name: "Semen", Unit: "zak", Stock: 50, MinStock: 10})
	if err != nil {
		t.Fatalf("add material: %v", err)
	}
	p := mustProject(t, s, "p1")
	if len(p.MaterialLogs) != 1 || p.MaterialLogs[0].Notes != "Stok awal" || p.Materials[0].Stock != 50 {
		t.Fatalf("opening stock not booked: %+v %+v", p.Materials, p.MaterialLogs)
	}

	entry, err := s.RecordMaterialMovement(ctx, "p1", domain.MaterialLog{MaterialID: id, Type: domain.MovementOut, Quantity: 20, Notes: "kolom"})
	if err != nil {
		t.Fatalf("movement: %v", err)
	}
	if entry.Actor != "kontraktor@example.com" || entry.ID == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if got := mustProject(t, s, "p1").Materials[0].Stock; got != 30 {
		t.Fatalf("expected stock 30, got %v", got)
	}
	if _, err := s.RecordMaterialMovement(ctx, "p1", domain.MaterialLog{MaterialID: id, Type: domain.MovementOut, Quantity: 31}); !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := s.RecordMaterialMovement(ctx, "p1", domain.MaterialLog{MaterialID: 99, Type: domain.MovementIn, Quantity: 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown material, got %v", err)
	}
	if mismatches := ledger.VerifyStock(mustProject(t, s, "p1")); len(mismatches) != 0 {
		t.Fatalf("ledger drift: %+v", mismatches)
	}
}

func TestLockAndRepriceRAB(t *testing.T) {
	remote := newHookedRemote()
	seedProject(t, remote, domain.Project{
		ID:   "p1",
		Name: "Pagar",
		RABItems: []domain.RABItem{
			{ID: 1, Name: "Galian", Volume: 5, UnitPrice: 1, AHSID: strPtr("A.2.2.1.1")},
			{ID: 2, Name: "Galian B", Volume: 5, UnitPrice: 1, AHSID: strPtr("A.2.2.1.1")},
			{ID: 3, Name: "Lain-lain", Volume: 1, UnitPrice: 750_000},
		},
	})
	s := syncedStore(t, newSession(t, "kontraktor"), remote)
	ctx := context.Background()

	n, err := s.LockRABPrices(ctx, "p1", 1)
	if err != nil || n != 1 {
		t.Fatalf("lock = %d, %v", n, err)
	}
	items := mustProject(t, s, "p1").RABItems
	if !items[0].Locked() || items[0].UnitPrice != 86875 || items[1].Locked() {
		t.Fatalf("unexpected items after lock %+v", items)
	}
	if n, err := s.LockRABPrices(ctx, "p1", 1); err != nil || n != 0 {
		t.Fatalf("relock = %d, %v", n, err)
	}

	changed, err := s.RepriceRAB(ctx, "p1")
	if err != nil || changed != 1 {
		t.Fatalf("reprice = %d, %v", changed, err)
	}
	items = mustProject(t, s, "p1").RABItems
	if items[1].UnitPrice != 86875 || items[2].UnitPrice != 750_000 {
		t.Fatalf("unexpected items after reprice %+v", items)
	}
	if changed, err := s.RepriceRAB(ctx, "p1"); err != nil || changed != 0 {
		t.Fatalf("second reprice = %d, %v", changed, err)
	}
}

func TestFailedTransactionNotCarriedByLaterOne(t *testing.T) {
	s, remote := opsFixture(t, "keuangan")
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	entered := make(chan struct{})
	release := make(chan struct{})
	remote.onPatch = func(string, domain.Fields) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
			return errors.New("offline")
		}
		return nil
	}
	patchCalls := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}

	first := make(chan error, 1)
	go func() {
		_, err := s.AddTransaction(ctx, "p1", domain.Transaction{Description: "A", Amount: 500, Type: domain.TransactionIncome}, nil)
		first <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		_, err := s.AddTransaction(ctx, "p1", domain.Transaction{Description: "B", Amount: 200, Type: domain.TransactionIncome}, nil)
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if n := patchCalls(); n != 1 {
		t.Fatalf("second transaction sent while the first was in flight (%d patches)", n)
	}

	close(release)
	if err := <-first; !errors.Is(err, domain.ErrSyncFailure) {
		t.Fatalf("expected sync failure, got %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second transaction: %v", err)
	}

	doc, err := remote.Store.Get(ctx, domain.CollectionProjects, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stored, err := domain.DecodeProject(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for name, txs := range map[string][]domain.Transaction{
		"remote": stored.Transactions,
		"cached": mustProject(t, s, "p1").Transactions,
	} {
		if len(txs) != 1 || txs[0].Description != "B" {
			t.Fatalf("%s transactions = %+v, want only B", name, txs)
		}
	}
}

func TestNoOpPatchesSkipRemote(t *testing.T) {
	s, remote := opsFixture(t, "kontraktor")
	remote.onPatch = func(string, domain.Fields) error {
		t.Errorf("unexpected remote patch")
		return nil
	}
	if n, err := s.RepriceRAB(context.Background(), "p1"); err != nil || n != 0 {
		t.Fatalf("reprice = %d, %v", n, err)
	}
	err := s.Update(context.Background(), "p1", domain.ProjectPatch{})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Reason != "empty patch" {
		t.Fatalf("expected empty patch rejection, got %v", err)
	}
	if strings.Count(err.Error(), "validation failed") != 1 {
		t.Fatalf("validation error wrapped twice: %v", err)
	}
}
