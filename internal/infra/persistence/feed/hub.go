// Package feed fans document snapshots out to subscribers. Delivery is
// latest-wins: a slow subscriber only ever sees the newest pending snapshot,
// and a publisher never blocks.
package feed

import (
	"context"
	"sync"

	"rabtrack/pkg/domain"
)

type subscriber struct {
	q      domain.Query
	mu     sync.Mutex
	ch     chan domain.DocumentSet
	closed bool
}

func (s *subscriber) deliver(set domain.DocumentSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- set
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub tracks live subscriptions.
type Hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscriber
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers q, delivers initial, and unregisters when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, q domain.Query, initial domain.DocumentSet) <-chan domain.DocumentSet {
	sub := &subscriber{q: q, ch: make(chan domain.DocumentSet, 1)}
	sub.deliver(initial)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.close()
	}()
	return sub.ch
}

// Queries returns the distinct queries with at least one subscriber that
// cover collection/id.
func (h *Hub) Queries(collection, id string) []domain.Query {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[domain.Query]struct{})
	var out []domain.Query
	for _, s := range h.subs {
		if !s.q.Matches(collection, id) {
			continue
		}
		if _, ok := seen[s.q]; ok {
			continue
		}
		seen[s.q] = struct{}{}
		out = append(out, s.q)
	}
	return out
}

// AllQueries returns every distinct subscribed query.
func (h *Hub) AllQueries() []domain.Query {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[domain.Query]struct{})
	var out []domain.Query
	for _, s := range h.subs {
		if _, ok := seen[s.q]; ok {
			continue
		}
		seen[s.q] = struct{}{}
		out = append(out, s.q)
	}
	return out
}

// Publish delivers set to every subscriber of set.Query.
func (h *Hub) Publish(set domain.DocumentSet) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if s.q == set.Query {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.deliver(set)
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
