package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rabtrack/internal/access"
	"rabtrack/internal/platform/validate"
	"rabtrack/internal/session"
	"rabtrack/pkg/domain"
)

// pendingOp is a patch sent to the remote and not yet acknowledged. inverse
// restores the touched fields to their confirmed values.
// done closes once the remote call returns.
type pendingOp struct {
	seq     uint64
	fields  domain.Fields
	inverse domain.Fields
	done    chan struct{}
}

// docState tracks one project: the last state the remote confirmed, the
// patches still in flight, and the view readers see (confirmed + pending).
type docState struct {
	confirmed domain.Project
	version   int64
	pending   []pendingOp
	view      domain.Project
	creating  bool
}

// Store is the observable project cache of one session and the only path
// through which projects are mutated.
type Store struct {
	sess   *session.Context
	remote domain.DocumentStore
	opts   storeOptions

	mu       sync.Mutex
	docs     map[string]*docState
	removed  map[string]struct{}
	deleting map[string]struct{}
	seq      uint64
	watchers map[*watcher]struct{}
	feeding  bool
	cancel   context.CancelFunc
	synced   chan struct{}
	isSynced bool
}

// NewStore builds a store for sess backed by remote.
func NewStore(sess *session.Context, remote domain.DocumentStore, opts ...Option) *Store {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		sess:     sess,
		remote:   remote,
		opts:     o,
		docs:     make(map[string]*docState),
		removed:  make(map[string]struct{}),
		deleting: make(map[string]struct{}),
		watchers: make(map[*watcher]struct{}),
		synced:   make(chan struct{}),
	}
	sess.OnClose(s.Close)
	return s
}

// Session returns the session the store acts for.
func (s *Store) Session() *session.Context { return s.sess }

// RulesEngine returns the engine evaluated before every mutation.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.opts.engine }

func (s *Store) now() time.Time { return s.opts.clock.Now() }

// subscriptionQuery scopes the remote subscription to what the identity may see.
func subscriptionQuery(id access.Identity) (domain.Query, error) {
	switch {
	case id.IsClient():
		return domain.Query{Collection: domain.CollectionProjects, ID: id.ClientProjectID}, nil
	case id.Authenticated():
		return domain.Query{Collection: domain.CollectionProjects}, nil
	default:
		return domain.Query{}, domain.ErrAuthRequired
	}
}

// Subscribe starts the remote feed on first use and returns a channel that
// receives the full cached project list after every change. Delivery is
// latest-wins. The channel closes when ctx is done or the session closes.
func (s *Store) Subscribe(ctx context.Context) (<-chan []domain.Project, error) {
	q, err := subscriptionQuery(s.sess.Identity())
	if err != nil {
		return nil, err
	}
	if err := s.startFeed(q); err != nil {
		return nil, err
	}
	w := newWatcher()
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	w.deliver(s.listLocked())
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.sess.Done():
		case <-w.stop:
		}
		s.mu.Lock()
		if _, ok := s.watchers[w]; ok {
			delete(s.watchers, w)
			w.close()
		}
		s.mu.Unlock()
	}()
	return w.ch, nil
}

func (s *Store) startFeed(q domain.Query) error {
	s.mu.Lock()
	if s.feeding {
		s.mu.Unlock()
		return nil
	}
	s.feeding = true
	feedCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	ch, err := s.remote.Subscribe(feedCtx, q)
	if err != nil {
		cancel()
		s.mu.Lock()
		s.feeding = false
		s.cancel = nil
		s.mu.Unlock()
		return &domain.SyncError{Op: "subscribe", Err: err}
	}
	s.opts.logger.Debug("project feed started", "collection", q.Collection, "id", q.ID)
	go func() {
		for set := range ch {
			s.applySnapshot(set)
		}
		s.opts.logger.Debug("project feed stopped")
	}()
	return nil
}

// WaitSynced blocks until the first remote snapshot has been applied.
func (s *Store) WaitSynced(ctx context.Context) error {
	select {
	case <-s.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the remote feed and closes every watcher channel.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for w := range s.watchers {
		delete(s.watchers, w)
		w.close()
	}
}

// Projects returns the cached projects that are not in the trash.
func (s *Store) Projects() []domain.Project {
	return s.filter(func(p domain.Project) bool { return !p.IsDeleted })
}

// Trash returns the soft-deleted projects.
func (s *Store) Trash() []domain.Project {
	return s.filter(func(p domain.Project) bool { return p.IsDeleted })
}

// All returns every cached project, trash included.
func (s *Store) All() []domain.Project {
	return s.filter(func(domain.Project) bool { return true })
}

func (s *Store) filter(keep func(domain.Project) bool) []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.listLocked()
	out := all[:0]
	for _, p := range all {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// Project returns a cached project, including soft-deleted ones.
func (s *Store) Project(id string) (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.docs[id]
	if !ok {
		return domain.Project{}, false
	}
	return domain.CloneProject(ds.view), true
}

// Selected returns the project chosen in the session.
func (s *Store) Selected() (domain.Project, error) {
	id := s.sess.Selected()
	if id == "" {
		return domain.Project{}, domain.ErrNoActiveSelection
	}
	p, ok := s.Project(id)
	if !ok {
		return domain.Project{}, domain.NotFoundError{Collection: domain.CollectionProjects, ID: id}
	}
	return p, nil
}

func (s *Store) listLocked() []domain.Project {
	out := make([]domain.Project, 0, len(s.docs))
	for _, ds := range s.docs {
		out = append(out, domain.CloneProject(ds.view))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) publishLocked() {
	if len(s.watchers) == 0 {
		return
	}
	for w := range s.watchers {
		w.deliver(s.listLocked())
	}
}

// applySnapshot reconciles a remote snapshot with the cache. Stale document
// versions are ignored; otherwise the document becomes the confirmed base and
// pending patches are replayed on top.
func (s *Store) applySnapshot(set domain.DocumentSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(set.Documents))
	for _, doc := range set.Documents {
		seen[doc.ID] = struct{}{}
		if _, gone := s.removed[doc.ID]; gone {
			continue
		}
		if _, busy := s.deleting[doc.ID]; busy {
			continue
		}
		p, err := domain.DecodeProject(doc)
		if err != nil {
			s.opts.logger.Warn("skipping undecodable project", "id", doc.ID, "error", err)
			continue
		}
		ds, ok := s.docs[doc.ID]
		if !ok {
			ds = &docState{}
			s.docs[doc.ID] = ds
		} else if !ds.creating && doc.Version < ds.version {
			s.opts.logger.Debug("ignoring stale snapshot", "id", doc.ID, "version", doc.Version, "confirmed", ds.version)
			continue
		}
		s.confirmLocked(ds, p, doc.Version)
	}
	for id, ds := range s.docs {
		if _, ok := seen[id]; ok || ds.creating {
			continue
		}
		if set.Query.ID == "" || set.Query.ID == id {
			delete(s.docs, id)
		}
	}
	if !s.isSynced {
		s.isSynced = true
		close(s.synced)
	}
	s.publishLocked()
}

// confirmLocked installs p as the confirmed base, recomputes the inverse of
// every pending op against it and rebuilds the view.
func (s *Store) confirmLocked(ds *docState, p domain.Project, version int64) {
	ds.confirmed = p
	ds.version = version
	ds.creating = false
	for i := range ds.pending {
		if inv, err := domain.InverseFields(p, ds.pending[i].fields); err == nil {
			ds.pending[i].inverse = inv
		}
	}
	s.rebuildLocked(ds)
}

func (s *Store) rebuildLocked(ds *docState) {
	view := domain.CloneProject(ds.confirmed)
	for _, op := range ds.pending {
		next, err := domain.ApplyFields(view, op.fields)
		if err != nil {
			s.opts.logger.Error("replaying pending patch", "id", view.ID, "seq", op.seq, "error", err)
			continue
		}
		view = next
	}
	ds.view = view
}

// rollbackLocked drops the failed op: its inverse restores the confirmed
// values and the remaining pending ops are replayed on top.
func (s *Store) rollbackLocked(ds *docState, seq uint64) {
	idx := -1
	for i, op := range ds.pending {
		if op.seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	failed := ds.pending[idx]
	ds.pending = append(ds.pending[:idx:idx], ds.pending[idx+1:]...)
	view, err := domain.ApplyFields(ds.view, failed.inverse)
	if err != nil {
		s.rebuildLocked(ds)
		return
	}
	for _, op := range ds.pending {
		if next, err := domain.ApplyFields(view, op.fields); err == nil {
			view = next
		}
	}
	ds.view = view
}

func (s *Store) ackLocked(ds *docState, seq uint64, doc domain.Document) {
	for i, op := range ds.pending {
		if op.seq == seq {
			ds.pending = append(ds.pending[:i:i], ds.pending[i+1:]...)
			break
		}
	}
	if doc.Version < ds.version {
		s.rebuildLocked(ds)
		return
	}
	p, err := domain.DecodeProject(doc)
	if err != nil {
		s.opts.logger.Warn("undecodable patch result", "id", doc.ID, "error", err)
		s.rebuildLocked(ds)
		return
	}
	s.confirmLocked(ds, p, doc.Version)
}

// ruleView exposes the cache with one project replaced by its patched state.
type ruleView struct {
	projects []domain.Project
}

func (v ruleView) ListProjects() []domain.Project {
	return append([]domain.Project(nil), v.projects...)
}

func (v ruleView) FindProject(id string) (domain.Project, bool) {
	for _, p := range v.projects {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Project{}, false
}

func (s *Store) viewWithLocked(p domain.Project) ruleView {
	list := s.listLocked()
	found := false
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = p
			found = true
		}
	}
	if !found {
		list = append(list, p)
	}
	return ruleView{projects: list}
}

// checkRulesLocked evaluates the engine; blocking violations become a
// RuleViolationError, the rest are logged.
func (s *Store) checkRulesLocked(ctx context.Context, change domain.Change) error {
	if s.opts.engine == nil || change.After == nil {
		return nil
	}
	res, err := s.opts.engine.Evaluate(ctx, s.viewWithLocked(*change.After), []domain.Change{change})
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	for _, v := range res.Violations {
		switch v.Severity {
		case domain.SeverityWarn:
			s.opts.logger.Warn("rule warning", "rule", v.Rule, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
		case domain.SeverityLog:
			s.opts.logger.Info("rule notice", "rule", v.Rule, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
		}
	}
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	return nil
}

// observe wraps an operation with tracing, metrics, audit and logging.
func (s *Store) observe(ctx context.Context, op string, action domain.Action, fn func(context.Context) (string, error)) error {
	start := time.Now()
	ctx, span := s.opts.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	dur := time.Since(start)
	span.End(err)
	s.opts.metrics.Observe(ctx, op, err == nil, dur)
	entry := AuditEntry{
		Operation: op,
		Entity:    domain.EntityProject,
		Action:    action,
		EntityID:  entityID,
		Actor:     s.sess.Identity().Email,
		Status:    AuditStatusSuccess,
		Duration:  dur,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		if errors.Is(err, domain.ErrSyncFailure) {
			s.opts.logger.Error("remote write failed", "operation", op, "id", entityID, "error", err)
		} else {
			s.opts.logger.Debug("operation rejected", "operation", op, "id", entityID, "error", err)
		}
	}
	s.opts.audit.Record(ctx, entry)
	return err
}

// patchBuilder derives a patch from the current state of the target project.
type patchBuilder func(current domain.Project) (domain.ProjectPatch, error)

func (s *Store) resolveTarget(projectID string) (string, error) {
	if !s.sess.Identity().Authenticated() {
		return "", domain.ErrAuthRequired
	}
	if projectID != "" {
		return projectID, nil
	}
	if sel := s.sess.Selected(); sel != "" {
		return sel, nil
	}
	return "", domain.ErrNoActiveSelection
}

// Update applies patch to a project. An empty projectID targets the selected
// project. The patched state is visible before the remote call and is rolled
// back if the remote rejects it.
func (s *Store) Update(ctx context.Context, projectID string, patch domain.ProjectPatch) error {
	return s.mutate(ctx, "update_project", projectID, func(domain.Project) (domain.ProjectPatch, error) {
		if patch.IsEmpty() {
			return patch, domain.ValidationError{Reason: "empty patch"}
		}
		return patch, nil
	})
}

func (s *Store) mutate(ctx context.Context, op, projectID string, build patchBuilder) error {
	return s.observe(ctx, op, domain.ActionUpdate, func(ctx context.Context) (string, error) {
		target, err := s.resolveTarget(projectID)
		if err != nil {
			return projectID, err
		}
		return target, s.apply(ctx, op, target, build)
	})
}

// apply builds the patch from the current view, shows it optimistically and
// sends it. A patch sharing a field with an in-flight patch waits for that
// patch to settle and is rebuilt from the settled view.
func (s *Store) apply(ctx context.Context, op, target string, build patchBuilder) error {
	for {
		s.mu.Lock()
		ds, ok := s.docs[target]
		if !ok {
			s.mu.Unlock()
			return domain.NotFoundError{Collection: domain.CollectionProjects, ID: target}
		}
		before := domain.CloneProject(ds.view)
		patch, err := build(domain.CloneProject(before))
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if patch.IsEmpty() {
			s.mu.Unlock()
			return nil
		}
		fields, err := patch.Fields()
		if err != nil {
			s.mu.Unlock()
			var verr domain.ValidationError
			if errors.As(err, &verr) {
				return err
			}
			return domain.ValidationError{Reason: err.Error()}
		}
		if wait := overlapping(ds.pending, fields); wait != nil {
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return s.sendLocked(ctx, op, ds, target, before, fields)
	}
}

// overlapping returns the done channel of the first pending op that shares a
// field with fields.
func overlapping(pending []pendingOp, fields domain.Fields) <-chan struct{} {
	for _, p := range pending {
		for k := range fields {
			if _, ok := p.fields[k]; ok {
				return p.done
			}
		}
	}
	return nil
}

// sendLocked is entered with s.mu held and returns with it released.
func (s *Store) sendLocked(ctx context.Context, op string, ds *docState, target string, before domain.Project, fields domain.Fields) error {
	after, err := domain.ApplyFields(ds.view, fields)
	if err != nil {
		s.mu.Unlock()
		return domain.ValidationError{Fields: fields.Keys(), Reason: err.Error()}
	}
	change := domain.Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Fields: sortedKeys(fields), Before: &before, After: &after}
	if err := s.checkRulesLocked(ctx, change); err != nil {
		s.mu.Unlock()
		return err
	}
	inverse, err := domain.InverseFields(ds.confirmed, fields)
	if err != nil {
		s.mu.Unlock()
		return domain.ValidationError{Reason: err.Error()}
	}
	s.seq++
	seq := s.seq
	done := make(chan struct{})
	ds.pending = append(ds.pending, pendingOp{seq: seq, fields: fields, inverse: inverse, done: done})
	ds.view = after
	s.publishLocked()
	s.mu.Unlock()

	doc, err := s.remote.Patch(ctx, domain.CollectionProjects, target, fields)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)
	ds, ok := s.docs[target]
	if err != nil {
		if ok {
			s.rollbackLocked(ds, seq)
			s.publishLocked()
		}
		return &domain.SyncError{Op: op, Err: err}
	}
	if ok {
		s.ackLocked(ds, seq, doc)
		s.publishLocked()
	}
	return nil
}

func sortedKeys(f domain.Fields) []string {
	keys := f.Keys()
	sort.Strings(keys)
	return keys
}

// Create validates p, assigns an id and inserts it optimistically. The
// project disappears again if the remote create fails.
func (s *Store) Create(ctx context.Context, p domain.Project) (string, error) {
	var id string
	err := s.observe(ctx, "create_project", domain.ActionCreate, func(ctx context.Context) (string, error) {
		var err error
		id, err = s.create(ctx, p)
		return id, err
	})
	return id, err
}

func (s *Store) create(ctx context.Context, p domain.Project) (string, error) {
	ident := s.sess.Identity()
	if !ident.Authenticated() {
		return "", domain.ErrAuthRequired
	}
	if !ident.Capabilities().CanEditProject {
		return "", fmt.Errorf("create project: %w", domain.ErrPermissionDenied)
	}
	if err := validate.Struct(p); err != nil {
		return "", err
	}
	p = domain.CloneProject(p)
	p.ID = uuid.NewString()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.CreatedBy == "" {
		p.CreatedBy = ident.Email
	}
	if p.Status == "" {
		p.Status = domain.StatusOngoing
	}
	p.IsDeleted = false
	p.DeletedAt = nil
	fields, err := domain.EncodeProject(p)
	if err != nil {
		return "", domain.ValidationError{Reason: err.Error()}
	}
	// cache exactly what the remote will store
	p, err = domain.ApplyFields(domain.Project{ID: p.ID}, fields)
	if err != nil {
		return "", domain.ValidationError{Reason: err.Error()}
	}

	s.mu.Lock()
	change := domain.Change{Entity: domain.EntityProject, Action: domain.ActionCreate, Fields: sortedKeys(fields), After: &p}
	if err := s.checkRulesLocked(ctx, change); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.docs[p.ID] = &docState{confirmed: p, view: domain.CloneProject(p), creating: true}
	s.publishLocked()
	s.mu.Unlock()

	doc, err := s.remote.Create(ctx, domain.CollectionProjects, p.ID, fields)

	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.docs[p.ID]
	if err != nil {
		if ok {
			delete(s.docs, p.ID)
			s.publishLocked()
		}
		return "", &domain.SyncError{Op: "create_project", Err: err}
	}
	if ok {
		if created, derr := domain.DecodeProject(doc); derr == nil {
			s.confirmLocked(ds, created, doc.Version)
		} else {
			ds.creating = false
			ds.version = doc.Version
		}
		s.publishLocked()
	}
	return p.ID, nil
}

// watcher is one Subscribe channel. The buffer of one plus drain-then-send
// keeps only the newest list.
type watcher struct {
	ch     chan []domain.Project
	stop   chan struct{}
	closed bool
}

func newWatcher() *watcher {
	return &watcher{ch: make(chan []domain.Project, 1), stop: make(chan struct{})}
}

func (w *watcher) deliver(list []domain.Project) {
	if w.closed {
		return
	}
	select {
	case <-w.ch:
	default:
	}
	w.ch <- list
}

func (w *watcher) close() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.stop)
	close(w.ch)
}
