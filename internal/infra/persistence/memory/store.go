// Package memory provides an in-memory document store used for tests,
// demos and single-process deployments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"rabtrack/internal/infra/persistence/feed"
	"rabtrack/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.DocumentStore = (*Store)(nil)

type entry struct {
	data      domain.Fields
	version   int64
	updatedAt time.Time
}

type memoryState map[string]map[string]entry

// Snapshot captures a point-in-time copy of every collection, keyed by
// collection then document id.
type Snapshot map[string]map[string]domain.Fields

// Store keeps documents in process memory.
type Store struct {
	mu      sync.RWMutex
	state   memoryState
	version int64
	nowFn   func() time.Time
	hub     *feed.Hub
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state: make(memoryState),
		nowFn: func() time.Time { return time.Now().UTC() },
		hub:   feed.NewHub(),
	}
}

// WithClock overrides the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
	return s
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current documents.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.state))
	for coll, docs := range s.state {
		inner := make(map[string]domain.Fields, len(docs))
		for id, e := range docs {
			inner[id] = e.data.Clone()
		}
		out[coll] = inner
	}
	return out
}

// ImportState replaces every document and notifies subscribers.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	state := make(memoryState, len(snapshot))
	for coll, docs := range snapshot {
		inner := make(map[string]entry, len(docs))
		for id, data := range docs {
			s.version++
			inner[id] = entry{data: data.Clone(), version: s.version, updatedAt: now}
		}
		state[coll] = inner
	}
	s.state = state
	for _, q := range s.hub.AllQueries() {
		s.hub.Publish(s.queryLocked(q))
	}
}

// Get implements domain.DocumentStore.
func (s *Store) Get(_ context.Context, collection, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state[collection][id]
	if !ok {
		return domain.Document{}, domain.NotFoundError{Collection: collection, ID: id}
	}
	return toDocument(collection, id, e), nil
}

// Create implements domain.DocumentStore.
func (s *Store) Create(_ context.Context, collection, id string, data domain.Fields) (domain.Document, error) {
	if err := data.Committable(); err != nil {
		return domain.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.newID()
	}
	docs := s.state[collection]
	if docs == nil {
		docs = make(map[string]entry)
		s.state[collection] = docs
	}
	if _, exists := docs[id]; exists {
		return domain.Document{}, fmt.Errorf("%s/%s already exists", collection, id)
	}
	s.version++
	e := entry{data: data.Clone(), version: s.version, updatedAt: s.nowFn()}
	docs[id] = e
	s.notifyLocked(collection, id)
	return toDocument(collection, id, e), nil
}

// Patch implements domain.DocumentStore.
func (s *Store) Patch(_ context.Context, collection, id string, fields domain.Fields) (domain.Document, error) {
	if err := fields.Committable(); err != nil {
		return domain.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state[collection][id]
	if !ok {
		return domain.Document{}, domain.NotFoundError{Collection: collection, ID: id}
	}
	s.version++
	e = entry{data: e.data.Merge(fields), version: s.version, updatedAt: s.nowFn()}
	s.state[collection][id] = e
	s.notifyLocked(collection, id)
	return toDocument(collection, id, e), nil
}

// Delete implements domain.DocumentStore.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state[collection][id]; !ok {
		return domain.NotFoundError{Collection: collection, ID: id}
	}
	delete(s.state[collection], id)
	s.version++
	s.notifyLocked(collection, id)
	return nil
}

// Subscribe implements domain.DocumentStore.
func (s *Store) Subscribe(ctx context.Context, q domain.Query) (<-chan domain.DocumentSet, error) {
	if q.Collection == "" {
		return nil, domain.ValidationError{Fields: []string{"collection"}, Reason: "required"}
	}
	s.mu.RLock()
	initial := s.queryLocked(q)
	ch := s.hub.Subscribe(ctx, q, initial)
	s.mu.RUnlock()
	return ch, nil
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int { return s.hub.Len() }

// notifyLocked publishes while the write lock is held so that snapshots
// reach subscribers in commit order.
func (s *Store) notifyLocked(collection, id string) {
	for _, q := range s.hub.Queries(collection, id) {
		s.hub.Publish(s.queryLocked(q))
	}
}

func (s *Store) queryLocked(q domain.Query) domain.DocumentSet {
	set := domain.DocumentSet{Query: q}
	docs := s.state[q.Collection]
	if q.ID != "" {
		if e, ok := docs[q.ID]; ok {
			set.Documents = append(set.Documents, toDocument(q.Collection, q.ID, e))
		}
		return set
	}
	for id, e := range docs {
		set.Documents = append(set.Documents, toDocument(q.Collection, id, e))
	}
	sort.Slice(set.Documents, func(i, j int) bool { return set.Documents[i].ID < set.Documents[j].ID })
	return set
}

func toDocument(collection, id string, e entry) domain.Document {
	return domain.Document{
		Collection: collection,
		ID:         id,
		Data:       e.data.Clone(),
		Version:    e.version,
		UpdatedAt:  e.updatedAt,
	}
}
