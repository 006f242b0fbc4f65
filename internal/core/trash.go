package core

import (
	"context"
	"fmt"
	"time"

	"rabtrack/internal/blob"
	"rabtrack/pkg/domain"
)

// TrashState is the lifecycle position of a project.
type TrashState string

const (
	StateActive             TrashState = "active"
	StateSoftDeleted        TrashState = "soft_deleted"
	StatePermanentlyRemoved TrashState = "permanently_removed"
)

// State reports where a project sits in the trash lifecycle. Unknown ids
// that were never deleted through this store match ErrNotFound.
func (s *Store) State(id string) (TrashState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.removed[id]; gone {
		return StatePermanentlyRemoved, nil
	}
	ds, ok := s.docs[id]
	if !ok {
		return "", domain.NotFoundError{Collection: domain.CollectionProjects, ID: id}
	}
	if ds.view.IsDeleted {
		return StateSoftDeleted, nil
	}
	return StateActive, nil
}

func (s *Store) transition(op string, id string, want TrashState) error {
	state, err := s.State(id)
	if err != nil {
		return err
	}
	if state != want {
		return fmt.Errorf("%s %s from %s: %w", op, id, state, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *Store) requireEdit(op string) error {
	ident := s.sess.Identity()
	if !ident.Authenticated() {
		return domain.ErrAuthRequired
	}
	if !ident.Capabilities().CanEditProject {
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	}
	return nil
}

// SoftDelete moves an active project to the trash. An empty id targets the
// selected project.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	if err := s.requireEdit("soft delete"); err != nil {
		return err
	}
	id, err := s.resolveTarget(id)
	if err != nil {
		return err
	}
	if err := s.transition("soft delete", id, StateActive); err != nil {
		return err
	}
	return s.mutate(ctx, "soft_delete_project", id, func(p domain.Project) (domain.ProjectPatch, error) {
		if p.IsDeleted {
			return domain.ProjectPatch{}, fmt.Errorf("soft delete %s: %w", id, domain.ErrInvalidTransition)
		}
		now := s.now()
		return domain.ProjectPatch{IsDeleted: domain.Set(true), DeletedAt: domain.Set(&now)}, nil
	})
}

// Restore brings a soft-deleted project back.
func (s *Store) Restore(ctx context.Context, id string) error {
	if err := s.requireEdit("restore"); err != nil {
		return err
	}
	if err := s.transition("restore", id, StateSoftDeleted); err != nil {
		return err
	}
	return s.mutate(ctx, "restore_project", id, func(p domain.Project) (domain.ProjectPatch, error) {
		if !p.IsDeleted {
			return domain.ProjectPatch{}, fmt.Errorf("restore %s: %w", id, domain.ErrInvalidTransition)
		}
		return domain.ProjectPatch{IsDeleted: domain.Set(false), DeletedAt: domain.Set[*time.Time](nil)}, nil
	})
}

// PermanentlyDelete removes a soft-deleted project from the remote. It is
// evicted locally first and restored if the remote delete fails. Uploaded
// media of the project is purged when blob storage is configured.
func (s *Store) PermanentlyDelete(ctx context.Context, id string) error {
	return s.observe(ctx, "permanently_delete_project", domain.ActionDelete, func(ctx context.Context) (string, error) {
		return id, s.permanentlyDelete(ctx, id)
	})
}

func (s *Store) permanentlyDelete(ctx context.Context, id string) error {
	ident := s.sess.Identity()
	if !ident.Authenticated() {
		return domain.ErrAuthRequired
	}
	if !ident.Capabilities().CanAccessManagement {
		return fmt.Errorf("permanently delete: %w", domain.ErrPermissionDenied)
	}

	s.mu.Lock()
	if _, gone := s.removed[id]; gone {
		s.mu.Unlock()
		return fmt.Errorf("permanently delete %s: %w", id, domain.ErrInvalidTransition)
	}
	ds, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return domain.NotFoundError{Collection: domain.CollectionProjects, ID: id}
	}
	if !ds.view.IsDeleted {
		s.mu.Unlock()
		return fmt.Errorf("permanently delete %s from %s: %w", id, StateActive, domain.ErrInvalidTransition)
	}
	before := domain.CloneProject(ds.view)
	change := domain.Change{Entity: domain.EntityProject, Action: domain.ActionDelete, Before: &before}
	if s.opts.engine != nil {
		if res, err := s.opts.engine.Evaluate(ctx, ruleView{projects: s.listLocked()}, []domain.Change{change}); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("evaluate rules: %w", err)
		} else if res.HasBlocking() {
			s.mu.Unlock()
			return domain.RuleViolationError{Result: res}
		}
	}
	delete(s.docs, id)
	s.deleting[id] = struct{}{}
	s.publishLocked()
	s.mu.Unlock()

	err := s.remote.Delete(ctx, domain.CollectionProjects, id)

	s.mu.Lock()
	delete(s.deleting, id)
	if err != nil {
		s.docs[id] = ds
		s.publishLocked()
		s.mu.Unlock()
		return &domain.SyncError{Op: "permanently_delete_project", Err: err}
	}
	s.removed[id] = struct{}{}
	s.mu.Unlock()

	if s.opts.blobs != nil {
		if n, err := blob.PurgeProject(ctx, s.opts.blobs, id); err != nil {
			s.opts.logger.Warn("purging project media", "id", id, "removed", n, "error", err)
		} else if n > 0 {
			s.opts.logger.Info("purged project media", "id", id, "removed", n)
		}
	}
	return nil
}
