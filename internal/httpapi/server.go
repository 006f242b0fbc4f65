// Package httpapi serves the client share link, the dashboard and the Kurva S
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rabtrack/internal/access"
	"rabtrack/internal/core"
	"rabtrack/internal/ledger"
	"rabtrack/internal/pricing"
	"rabtrack/internal/session"
	"rabtrack/pkg/domain"
)

// UserHeader carries the signed-in account's email.
const UserHeader = "X-User-Email"

// DefaultSyncTimeout bounds how long a request waits for the first snapshot.
const DefaultSyncTimeout = 5 * time.Second

// Deps are the collaborators a Server reads through.
type Deps struct {
	Remote      domain.DocumentStore
	Catalog     *pricing.Library
	Gatherer    prometheus.Gatherer
	Logger      core.Logger
	StoreOpts   []core.Option
	SyncTimeout time.Duration
}

// Server wraps the fiber app.
type Server struct {
	app   *fiber.App
	deps  Deps
	users *core.Directory
	log   core.Logger
}

// New builds the routes. A nil Gatherer falls back to the default registry.
func New(deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.SyncTimeout <= 0 {
		deps.SyncTimeout = DefaultSyncTimeout
	}
	s := &Server{deps: deps, users: core.NewDirectory(nil, deps.Remote), log: deps.Logger}
	if s.log == nil {
		s.log = discard{}
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	s.app.Use(s.requestLog)

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	s.app.Get("/view", s.clientView)

	api := s.app.Group("/api")
	api.Get("/dashboard", s.dashboard)
	api.Get("/projects/:id/kurva-s", s.kurvaS)
	return s
}

// App exposes the fiber app for tests and custom listeners.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.app.ShutdownWithContext(ctx) }

func (s *Server) requestLog(c *fiber.Ctx) error {
	start := time.Now()
	rid := c.Get(fiber.HeaderXRequestID)
	if rid == "" {
		rid = uuid.NewString()
	}
	c.Set(fiber.HeaderXRequestID, rid)
	err := c.Next()
	if err != nil {
		if herr := s.handleError(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}
	s.log.Info("http request",
		"request_id", rid,
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// statusFor maps the domain error taxonomy to an HTTP status.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrAuthRequired):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidTransition):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSyncFailure), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
		msg = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// openStore subscribes a per-request store for identity and waits for the
// first snapshot. The returned close func tears the session down.
func (s *Server) openStore(ctx context.Context, identity access.Identity) (*core.Store, func(), error) {
	sess := session.New(identity, s.deps.Catalog)
	store := core.NewStore(sess, s.deps.Remote, s.deps.StoreOpts...)
	if _, err := store.Subscribe(ctx); err != nil {
		sess.Close()
		return nil, nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, s.deps.SyncTimeout)
	defer cancel()
	if err := store.WaitSynced(wctx); err != nil {
		sess.Close()
		return nil, nil, &domain.SyncError{Op: "subscribe_projects", Err: err}
	}
	return store, sess.Close, nil
}

// identity resolves the caller from the user header.
func (s *Server) identity(c *fiber.Ctx) (access.Identity, error) {
	email := strings.TrimSpace(c.Get(UserHeader))
	if email == "" {
		return access.Identity{}, domain.ErrAuthRequired
	}
	id, err := s.users.IdentityFor(c.UserContext(), email)
	if errors.Is(err, domain.ErrNotFound) {
		return access.Identity{}, domain.ErrAuthRequired
	}
	if err != nil {
		return access.Identity{}, err
	}
	if !id.Authenticated() {
		return access.Identity{}, domain.ErrAuthRequired
	}
	return id, nil
}

// ClientView is the body of the share link page.
type ClientView struct {
	Project    domain.Project     `json:"project"`
	Progress   float64            `json:"progress"`
	Financials *ledger.Financials `json:"financials,omitempty"`
}

func (s *Server) clientView(c *fiber.Ctx) error {
	q, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed query")
	}
	projectID, ok := access.ParseClientLink(q)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "projectId and mode=client are required")
	}

	store, done, err := s.openStore(c.UserContext(), access.ForClientLink(projectID, false))
	if err != nil {
		return err
	}
	defer done()
	p, ok := store.Project(projectID)
	if !ok || p.IsDeleted {
		return domain.NotFoundError{Collection: domain.CollectionProjects, ID: projectID}
	}

	viewer := access.ForClientLink(projectID, p.ClientShowMoney)
	out := ClientView{
		Project:  access.Redact(p, viewer),
		Progress: ledger.ProjectProgress(p),
	}
	if viewer.Capabilities().CanSeeMoney {
		f := ledger.ProjectFinancials(p)
		out.Financials = &f
	}
	return c.JSON(out)
}

func (s *Server) dashboard(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	store, done, err := s.openStore(c.UserContext(), id)
	if err != nil {
		return err
	}
	defer done()

	d := ledger.DashboardAggregate(store.Projects())
	if !id.Capabilities().CanSeeMoney {
		d = d.WithoutMoney()
	}
	return c.JSON(d)
}

func (s *Server) kurvaS(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	if !id.Capabilities().CanViewKurvaS {
		return fmt.Errorf("view kurva s: %w", domain.ErrPermissionDenied)
	}
	step := 7
	if raw := c.Query("step"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return domain.ValidationError{Fields: []string{"step"}, Reason: "must be a positive number of days"}
		}
		step = n
	}

	store, done, err := s.openStore(c.UserContext(), id)
	if err != nil {
		return err
	}
	defer done()
	projectID := c.Params("id")
	p, ok := store.Project(projectID)
	if !ok || p.IsDeleted {
		return domain.NotFoundError{Collection: domain.CollectionProjects, ID: projectID}
	}
	curve, err := ledger.SCurve(p, step)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"projectId": p.ID, "step": step, "points": curve})
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
