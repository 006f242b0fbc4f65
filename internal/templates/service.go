package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"rabtrack/internal/platform/validate"
	"rabtrack/internal/session"
	"rabtrack/pkg/domain"
)

// Service persists templates in the project_templates collection.
type Service struct {
	sess  *session.Context
	store domain.DocumentStore
	now   func() time.Time
}

// NewService binds a template service to a session and remote store.
func NewService(sess *session.Context, store domain.DocumentStore) *Service {
	return &Service{sess: sess, store: store, now: time.Now}
}

// WithClock overrides the time source used for CreatedAt.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) authorize(op string) error {
	id := s.sess.Identity()
	if !id.Authenticated() {
		return fmt.Errorf("%s: %w", op, domain.ErrAuthRequired)
	}
	if !id.Capabilities().CanEditProject {
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	}
	return nil
}

// SaveFromProject snapshots p and stores the template.
func (s *Service) SaveFromProject(ctx context.Context, p domain.Project, name, description string) (domain.ProjectTemplate, error) {
	t := Snapshot(p, name, description, s.sess.Identity().Email, s.now())
	return s.Save(ctx, t)
}

// Save stores t, assigning an id when it has none.
func (s *Service) Save(ctx context.Context, t domain.ProjectTemplate) (domain.ProjectTemplate, error) {
	if err := s.authorize("save template"); err != nil {
		return domain.ProjectTemplate{}, err
	}
	if err := validate.Struct(t); err != nil {
		return domain.ProjectTemplate{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	if t.CreatedBy == "" {
		t.CreatedBy = s.sess.Identity().Email
	}
	if t.RABItems == nil {
		t.RABItems = []domain.TemplateRABItem{}
	}
	if t.Workers == nil {
		t.Workers = []domain.TemplateWorker{}
	}
	if t.Materials == nil {
		t.Materials = []domain.TemplateMaterial{}
	}
	fields, err := domain.FieldsOf(t)
	if err != nil {
		return domain.ProjectTemplate{}, domain.ValidationError{Reason: err.Error()}
	}
	delete(fields, "id")
	_, err = s.store.Patch(ctx, domain.CollectionTemplates, t.ID, fields)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = s.store.Create(ctx, domain.CollectionTemplates, t.ID, fields)
	}
	if err != nil {
		return domain.ProjectTemplate{}, &domain.SyncError{Op: "save template", Err: err}
	}
	return t, nil
}

// Get loads one template.
func (s *Service) Get(ctx context.Context, id string) (domain.ProjectTemplate, error) {
	if err := s.authorize("get template"); err != nil {
		return domain.ProjectTemplate{}, err
	}
	doc, err := s.store.Get(ctx, domain.CollectionTemplates, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ProjectTemplate{}, err
	}
	if err != nil {
		return domain.ProjectTemplate{}, &domain.SyncError{Op: "get template", Err: err}
	}
	return decode(doc)
}

// List returns every template, newest first.
func (s *Service) List(ctx context.Context) ([]domain.ProjectTemplate, error) {
	if err := s.authorize("list templates"); err != nil {
		return nil, err
	}
	// a subscription yields the current snapshot first; the store has no list call
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := s.store.Subscribe(subCtx, domain.Query{Collection: domain.CollectionTemplates})
	if err != nil {
		return nil, &domain.SyncError{Op: "list templates", Err: err}
	}
	var set domain.DocumentSet
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case got, ok := <-ch:
		if !ok {
			return nil, &domain.SyncError{Op: "list templates", Err: errors.New("subscription closed")}
		}
		set = got
	}
	out := make([]domain.ProjectTemplate, 0, len(set.Documents))
	for _, doc := range set.Documents {
		t, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes a template.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.authorize("delete template"); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, domain.CollectionTemplates, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return &domain.SyncError{Op: "delete template", Err: err}
	}
	return nil
}

// NewProjectFromTemplate loads a template and seeds base with its entities.
func (s *Service) NewProjectFromTemplate(ctx context.Context, templateID string, base domain.Project) (domain.Project, error) {
	t, err := s.Get(ctx, templateID)
	if err != nil {
		return domain.Project{}, err
	}
	return NewProject(t, base), nil
}

func decode(doc domain.Document) (domain.ProjectTemplate, error) {
	var t domain.ProjectTemplate
	if err := domain.DecodeFields(doc.Data, &t); err != nil {
		return domain.ProjectTemplate{}, fmt.Errorf("decode template %s: %w", doc.ID, err)
	}
	t.ID = doc.ID
	return t, nil
}
