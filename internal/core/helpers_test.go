package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"rabtrack/internal/access"
	"rabtrack/internal/infra/persistence/memory"
	"rabtrack/internal/session"
	"rabtrack/pkg/domain"
)

var testNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func stubClock() Clock { return ClockFunc(func() time.Time { return testNow }) }

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	mu    sync.Mutex
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.ended {
		if r.op == op && (r.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// hookedRemote is a memory store whose writes can be intercepted.
type hookedRemote struct {
	*memory.Store
	onPatch  func(id string, fields domain.Fields) error
	onCreate func(id string) error
	onDelete func(id string) error
}

func newHookedRemote() *hookedRemote {
	return &hookedRemote{Store: memory.NewStore()}
}

func (r *hookedRemote) Patch(ctx context.Context, collection, id string, fields domain.Fields) (domain.Document, error) {
	if r.onPatch != nil {
		if err := r.onPatch(id, fields); err != nil {
			return domain.Document{}, err
		}
	}
	return r.Store.Patch(ctx, collection, id, fields)
}

func (r *hookedRemote) Create(ctx context.Context, collection, id string, data domain.Fields) (domain.Document, error) {
	if r.onCreate != nil {
		if err := r.onCreate(id); err != nil {
			return domain.Document{}, err
		}
	}
	return r.Store.Create(ctx, collection, id, data)
}

func (r *hookedRemote) Delete(ctx context.Context, collection, id string) error {
	if r.onDelete != nil {
		if err := r.onDelete(id); err != nil {
			return err
		}
	}
	return r.Store.Delete(ctx, collection, id)
}

func newSession(t *testing.T, role string) *session.Context {
	t.Helper()
	sess := session.New(access.ForUser(domain.AppUser{Email: role + "@example.com", Role: role}), nil)
	t.Cleanup(sess.Close)
	return sess
}

// seedProject writes p straight to the remote, bypassing the cache.
func seedProject(t *testing.T, remote domain.DocumentStore, p domain.Project) {
	t.Helper()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = testNow
	}
	if p.Status == "" {
		p.Status = domain.StatusOngoing
	}
	fields, err := domain.EncodeProject(p)
	if err != nil {
		t.Fatalf("encode project: %v", err)
	}
	if _, err := remote.Create(context.Background(), domain.CollectionProjects, p.ID, fields); err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

// syncedStore builds a store over remote and waits for the first snapshot.
func syncedStore(t *testing.T, sess *session.Context, remote domain.DocumentStore, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(stubClock())}, opts...)
	s := NewStore(sess, remote, opts...)
	if _, err := s.Subscribe(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitSynced(ctx); err != nil {
		t.Fatalf("wait synced: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustProject(t *testing.T, s *Store, id string) domain.Project {
	t.Helper()
	p, ok := s.Project(id)
	if !ok {
		t.Fatalf("project %s not cached", id)
	}
	return p
}
