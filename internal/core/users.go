package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"rabtrack/internal/access"
	"rabtrack/internal/platform/validate"
	"rabtrack/internal/session"
	"rabtrack/pkg/domain"
)

// Directory manages registered accounts in app_users/{email}.
type Directory struct {
	sess   *session.Context
	remote domain.DocumentStore
	clock  Clock
}

// NewDirectory binds the directory to the acting session. Lookup and
// IdentityFor work without one; management calls need CanAccessManagement.
func NewDirectory(sess *session.Context, remote domain.DocumentStore) *Directory {
	return &Directory{sess: sess, remote: remote, clock: ClockFunc(nil)}
}

// WithClock overrides the time source used for CreatedAt.
func (d *Directory) WithClock(c Clock) *Directory {
	if c != nil {
		d.clock = c
	}
	return d
}

func (d *Directory) authorize(op string) error {
	if d.sess == nil {
		return domain.ErrAuthRequired
	}
	ident := d.sess.Identity()
	if !ident.Authenticated() {
		return domain.ErrAuthRequired
	}
	if !ident.Capabilities().CanAccessManagement {
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	}
	return nil
}

// Lookup fetches an account by email.
func (d *Directory) Lookup(ctx context.Context, email string) (domain.AppUser, error) {
	key := domain.NormalizeEmail(email)
	if key == "" {
		return domain.AppUser{}, domain.ValidationError{Fields: []string{"email"}, Reason: "required"}
	}
	doc, err := d.remote.Get(ctx, domain.CollectionUsers, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AppUser{}, domain.NotFoundError{Collection: domain.CollectionUsers, ID: key}
		}
		return domain.AppUser{}, &domain.SyncError{Op: "lookup_user", Err: err}
	}
	return decodeUser(doc)
}

// IdentityFor resolves the identity of a registered account. An account
// whose stored role is not recognised yields an identity without any
// capability.
func (d *Directory) IdentityFor(ctx context.Context, email string) (access.Identity, error) {
	u, err := d.Lookup(ctx, email)
	if err != nil {
		return access.Identity{}, err
	}
	return access.ForUser(u), nil
}

// List returns every account ordered by email.
func (d *Directory) List(ctx context.Context) ([]domain.AppUser, error) {
	if err := d.authorize("list users"); err != nil {
		return nil, err
	}
	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := d.remote.Subscribe(sub, domain.Query{Collection: domain.CollectionUsers})
	if err != nil {
		return nil, &domain.SyncError{Op: "list_users", Err: err}
	}
	var set domain.DocumentSet
	select {
	case s, ok := <-ch:
		if !ok {
			return nil, &domain.SyncError{Op: "list_users", Err: errors.New("subscription closed")}
		}
		set = s
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([]domain.AppUser, 0, len(set.Documents))
	for _, doc := range set.Documents {
		u, err := decodeUser(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Save creates or replaces an account.
func (d *Directory) Save(ctx context.Context, u domain.AppUser) (domain.AppUser, error) {
	if err := d.authorize("save user"); err != nil {
		return domain.AppUser{}, err
	}
	u.Email = domain.NormalizeEmail(u.Email)
	if err := validate.Struct(u); err != nil {
		return domain.AppUser{}, err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = d.clock.Now()
	}
	fields, err := domain.FieldsOf(u)
	if err != nil {
		return domain.AppUser{}, domain.ValidationError{Reason: err.Error()}
	}
	_, err = d.remote.Patch(ctx, domain.CollectionUsers, u.Email, fields)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = d.remote.Create(ctx, domain.CollectionUsers, u.Email, fields)
	}
	if err != nil {
		return domain.AppUser{}, &domain.SyncError{Op: "save_user", Err: err}
	}
	return u, nil
}

// Remove deletes an account. An administrator cannot remove their own.
func (d *Directory) Remove(ctx context.Context, email string) error {
	if err := d.authorize("remove user"); err != nil {
		return err
	}
	key := domain.NormalizeEmail(email)
	if key == d.sess.Identity().Email {
		return domain.ValidationError{Fields: []string{"email"}, Reason: "cannot remove the signed-in account"}
	}
	if err := d.remote.Delete(ctx, domain.CollectionUsers, key); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFoundError{Collection: domain.CollectionUsers, ID: key}
		}
		return &domain.SyncError{Op: "remove_user", Err: err}
	}
	return nil
}

func decodeUser(doc domain.Document) (domain.AppUser, error) {
	var u domain.AppUser
	if err := domain.DecodeFields(doc.Data, &u); err != nil {
		return domain.AppUser{}, fmt.Errorf("decode user %s: %w", doc.ID, err)
	}
	if u.Email == "" {
		u.Email = doc.ID
	}
	return u, nil
}
