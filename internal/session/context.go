// Package session holds the per-session application context: who is signed
// in, which project is selected, and the pricing catalog in use. Components
// receive it at construction instead of reading globals.
package session

import (
	"fmt"
	"sync"

	"rabtrack/internal/access"
	"rabtrack/internal/pricing"
	"rabtrack/pkg/domain"
)

// Context is created on sign-in and closed on sign-out.
type Context struct {
	mu       sync.RWMutex
	identity access.Identity
	selected string
	catalog  *pricing.Library
	closers  []func()
	closed   bool
	done     chan struct{}
}

// New starts a session for identity. A nil catalog gets the default one.
func New(identity access.Identity, catalog *pricing.Library) *Context {
	if catalog == nil {
		catalog = pricing.NewDefaultLibrary()
	}
	c := &Context{identity: identity, catalog: catalog, done: make(chan struct{})}
	if identity.IsClient() {
		c.selected = identity.ClientProjectID
	}
	return c
}

// Identity returns the current identity.
func (c *Context) Identity() access.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Capabilities resolves the current identity.
func (c *Context) Capabilities() access.Capabilities {
	return c.Identity().Capabilities()
}

// Impersonate switches the effective role. Only a real super_admin may do it;
// RoleUnknown clears the impersonation.
func (c *Context) Impersonate(role access.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity.Role != access.RoleSuperAdmin {
		return fmt.Errorf("impersonate %s: %w", role, domain.ErrPermissionDenied)
	}
	c.identity.Impersonating = role
	return nil
}

// Select chooses the project mutations apply to. A client session stays
// pinned to its project.
func (c *Context) Select(projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity.IsClient() && projectID != c.identity.ClientProjectID {
		return fmt.Errorf("select %s: %w", projectID, domain.ErrPermissionDenied)
	}
	c.selected = projectID
	return nil
}

// Selected returns the selected project id, or "".
func (c *Context) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// Catalog returns the pricing library of this session.
func (c *Context) Catalog() *pricing.Library {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// OnClose registers fn to run at teardown. If the session is already closed
// fn runs immediately.
func (c *Context) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// Done is closed when the session ends.
func (c *Context) Done() <-chan struct{} { return c.done }

// Close tears the session down: registered closers run in reverse order and
// the identity and selection are cleared.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.identity = access.Anonymous()
	c.selected = ""
	close(c.done)
	c.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
