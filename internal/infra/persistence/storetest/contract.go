// Package storetest holds the behavioural checks every document store
// backend must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"rabtrack/pkg/domain"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) domain.DocumentStore

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, newStore(t)) })
	t.Run("AssignsID", func(t *testing.T) { testAssignsID(t, newStore(t)) })
	t.Run("RejectsUndefinedField", func(t *testing.T) { testUndefined(t, newStore(t)) })
	t.Run("VersionsGrow", func(t *testing.T) { testVersions(t, newStore(t)) })
	t.Run("SubscribeCollection", func(t *testing.T) { testSubscribeCollection(t, newStore(t)) })
	t.Run("SubscribeDocument", func(t *testing.T) { testSubscribeDocument(t, newStore(t)) })
	t.Run("SubscriptionClosesWithContext", func(t *testing.T) { testSubscriptionCloses(t, newStore(t)) })
}

func raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func testCRUD(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	created, err := s.Create(ctx, domain.CollectionProjects, "p1", domain.Fields{"name": raw("Gudang"), "budget": raw(100)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "p1" || created.Version <= 0 {
		t.Fatalf("unexpected created doc %+v", created)
	}
	if _, err := s.Create(ctx, domain.CollectionProjects, "p1", domain.Fields{"name": raw("dup")}); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
	patched, err := s.Patch(ctx, domain.CollectionProjects, "p1", domain.Fields{"budget": raw(250)})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	var name string
	var budget float64
	if err := json.Unmarshal(patched.Data["name"], &name); err != nil || name != "Gudang" {
		t.Fatalf("patch dropped untouched field: %q %v", name, err)
	}
	if err := json.Unmarshal(patched.Data["budget"], &budget); err != nil || budget != 250 {
		t.Fatalf("patch not applied: %v %v", budget, err)
	}
	got, err := s.Get(ctx, domain.CollectionProjects, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != patched.Version {
		t.Fatalf("get version %d, patch returned %d", got.Version, patched.Version)
	}
	if _, err := s.Patch(ctx, domain.CollectionProjects, "missing", domain.Fields{"name": raw("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on patch, got %v", err)
	}
	if err := s.Delete(ctx, domain.CollectionProjects, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, domain.CollectionProjects, "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.Delete(ctx, domain.CollectionProjects, "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func testAssignsID(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	a, err := s.Create(ctx, domain.CollectionTemplates, "", domain.Fields{"name": raw("a")})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := s.Create(ctx, domain.CollectionTemplates, "", domain.Fields{"name": raw("b")})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct assigned ids, got %q %q", a.ID, b.ID)
	}
}

func testUndefined(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	if _, err := s.Create(ctx, domain.CollectionProjects, "p1", domain.Fields{"name": nil}); !errors.Is(err, domain.ErrUncommittable) {
		t.Fatalf("expected uncommittable create, got %v", err)
	}
	if _, err := s.Create(ctx, domain.CollectionProjects, "p1", domain.Fields{"name": raw("ok")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Patch(ctx, domain.CollectionProjects, "p1", domain.Fields{"budget": json.RawMessage{}}); !errors.Is(err, domain.ErrUncommittable) {
		t.Fatalf("expected uncommittable patch, got %v", err)
	}
	got, err := s.Get(ctx, domain.CollectionProjects, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got.Data["budget"]; ok {
		t.Fatalf("rejected patch leaked into the document")
	}
}

func testVersions(t *testing.T, s domain.DocumentStore) {
	ctx := context.Background()
	doc, err := s.Create(ctx, domain.CollectionProjects, "p1", domain.Fields{"progress": raw(0)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	last := doc.Version
	for i := 1; i <= 5; i++ {
		doc, err = s.Patch(ctx, domain.CollectionProjects, "p1", domain.Fields{"progress": raw(i)})
		if err != nil {
			t.Fatalf("patch %d: %v", i, err)
		}
		if doc.Version <= last {
			t.Fatalf("version did not grow: %d after %d", doc.Version, last)
		}
		last = doc.Version
	}
}

// next waits for a snapshot satisfying ok.
func next(t *testing.T, ch <-chan domain.DocumentSet, ok func(domain.DocumentSet) bool) domain.DocumentSet {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case set, open := <-ch:
			if !open {
				t.Fatalf("subscription closed early")
			}
			if ok(set) {
				return set
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}

func testSubscribeCollection(t *testing.T, s domain.DocumentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := s.Create(ctx, domain.CollectionProjects, "a", domain.Fields{"name": raw("A")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	ch, err := s.Subscribe(ctx, domain.Query{Collection: domain.CollectionProjects})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	next(t, ch, func(set domain.DocumentSet) bool { return len(set.Documents) == 1 })

	if _, err := s.Create(ctx, domain.CollectionProjects, "b", domain.Fields{"name": raw("B")}); err != nil {
		t.Fatalf("create b: %v", err)
	}
	next(t, ch, func(set domain.DocumentSet) bool { return len(set.Documents) == 2 })

	// writes to other collections are not observed
	if _, err := s.Create(ctx, domain.CollectionTemplates, "t", domain.Fields{"name": raw("T")}); err != nil {
		t.Fatalf("create template: %v", err)
	}
	if err := s.Delete(ctx, domain.CollectionProjects, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	set := next(t, ch, func(set domain.DocumentSet) bool { return len(set.Documents) == 1 })
	if set.Documents[0].ID != "b" {
		t.Fatalf("unexpected survivor %q", set.Documents[0].ID)
	}
}

func testSubscribeDocument(t *testing.T, s domain.DocumentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Subscribe(ctx, domain.Query{Collection: domain.CollectionProjects, ID: "only"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	next(t, ch, func(set domain.DocumentSet) bool { return len(set.Documents) == 0 })
	if _, err := s.Create(ctx, domain.CollectionProjects, "other", domain.Fields{"name": raw("x")}); err != nil {
		t.Fatalf("create other: %v", err)
	}
	if _, err := s.Create(ctx, domain.CollectionProjects, "only", domain.Fields{"name": raw("y")}); err != nil {
		t.Fatalf("create only: %v", err)
	}
	set := next(t, ch, func(set domain.DocumentSet) bool { return len(set.Documents) == 1 })
	if set.Documents[0].ID != "only" {
		t.Fatalf("document subscription saw %q", set.Documents[0].ID)
	}
}

func testSubscriptionCloses(t *testing.T, s domain.DocumentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Subscribe(ctx, domain.Query{Collection: domain.CollectionProjects})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("subscription not closed after cancel")
		}
	}
}
