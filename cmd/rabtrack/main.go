// Command rabtrack runs the RAB tracking service and its maintenance tasks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"rabtrack/internal/access"
	"rabtrack/internal/blob"
	"rabtrack/internal/core"
	"rabtrack/internal/httpapi"
	"rabtrack/internal/ledger"
	"rabtrack/internal/platform/config"
	"rabtrack/internal/pricing"
	"rabtrack/internal/seed"
	"rabtrack/internal/session"
	"rabtrack/internal/templates"
	"rabtrack/pkg/domain"
)

var exitFunc = os.Exit

const usage = `usage: rabtrack <command> [flags]

commands:
  serve       run the HTTP server
  seed        load demo users, projects and a template
  dashboard   print the dashboard aggregate for a user
  catalog     show | reset the shared pricing catalog
  users       list | add accounts
  share-link  print the client share link of a project
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	lvl, _ := cfg.SlogLevel()
	a := &app{
		cfg:    cfg,
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl})),
		stdout: stdout,
		stderr: stderr,
	}

	cmds := map[string]func(context.Context, []string) error{
		"serve":      a.serve,
		"seed":       a.seed,
		"dashboard":  a.dashboard,
		"catalog":    a.catalog,
		"users":      a.users,
		"share-link": a.shareLink,
	}
	run, ok := cmds[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err := run(ctx, args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

type app struct {
	cfg    config.Config
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func (a *app) flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("rabtrack "+name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) openRemote(ctx context.Context) (core.RemoteStore, error) {
	return core.OpenDocumentStore(ctx, core.StorageConfig{
		Driver:       core.StorageDriver(a.cfg.StoreDriver),
		SQLitePath:   a.cfg.SQLitePath,
		PostgresDSN:  a.cfg.PostgresDSN,
		PollInterval: a.cfg.PollInterval,
	})
}

func (a *app) openBlob(ctx context.Context) (blob.Store, error) {
	return blob.Open(ctx, blob.Config{
		Driver:    blob.Driver(a.cfg.BlobDriver),
		FSRoot:    a.cfg.BlobFSRoot,
		FSBaseURL: a.cfg.BlobFSBaseURL,
		S3: blob.S3Config{
			Region:          a.cfg.S3.Region,
			Bucket:          a.cfg.S3.Bucket,
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			PathStyle:       a.cfg.S3.PathStyle,
		},
	})
}

// loadCatalog reads the shared pricing catalog, falling back to the
// embedded default when none has been saved.
func (a *app) loadCatalog(ctx context.Context, remote domain.DocumentStore) (*pricing.Library, error) {
	lib := pricing.NewDefaultLibrary()
	loaded, err := lib.Load(ctx, remote)
	if err != nil {
		return nil, err
	}
	if !loaded {
		a.log.Debug("no saved catalog, using default")
	}
	return lib, nil
}

func (a *app) storeOptions(extra ...core.Option) []core.Option {
	opts := []core.Option{
		core.WithLogger(a.log),
		core.WithAuditRecorder(core.LogAuditRecorder{Logger: a.log}),
	}
	return append(opts, extra...)
}

// identity resolves an account email through the user directory.
func (a *app) identity(ctx context.Context, remote domain.DocumentStore, email string) (access.Identity, error) {
	if strings.TrimSpace(email) == "" {
		return access.Identity{}, fmt.Errorf("--as is required: %w", domain.ErrAuthRequired)
	}
	id, err := core.NewDirectory(nil, remote).IdentityFor(ctx, email)
	if err != nil {
		return access.Identity{}, err
	}
	if !id.Authenticated() {
		return access.Identity{}, fmt.Errorf("%s: %w", email, domain.ErrAuthRequired)
	}
	return id, nil
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := a.flags("serve")
	addr := fs.String("addr", a.cfg.HTTPAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	remote, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	defer remote.Close()
	lib, err := a.loadCatalog(ctx, remote)
	if err != nil {
		return err
	}
	media, err := a.openBlob(ctx)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}

	srv := httpapi.New(httpapi.Deps{
		Remote:    remote,
		Catalog:   lib,
		Gatherer:  reg,
		Logger:    a.log,
		StoreOpts: a.storeOptions(core.WithMetricsRecorder(metrics), core.WithBlobStore(media)),
	})
	errc := make(chan error, 1)
	go func() { errc <- srv.Listen(*addr) }()
	a.log.Info("listening", "addr", *addr, "store", a.cfg.StoreDriver, "blob", a.cfg.BlobDriver)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (a *app) seed(ctx context.Context, args []string) error {
	fs := a.flags("seed")
	projects := fs.Int("projects", seed.DefaultProjects, "number of demo projects")
	rngSeed := fs.Uint64("seed", 1, "random seed")
	as := fs.String("as", "admin@rabtrack.local", "super admin account the data is written as")
	if err := fs.Parse(args); err != nil {
		return err
	}

	remote, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	defer remote.Close()
	lib, err := a.loadCatalog(ctx, remote)
	if err != nil {
		return err
	}
	media, err := a.openBlob(ctx)
	if err != nil {
		return err
	}

	// The directory may be empty on a fresh database, so the seeding
	// session is granted the super admin role directly.
	sess := session.New(access.ForUser(domain.AppUser{Email: *as, Name: "Seeder", Role: access.RoleSuperAdmin.String()}), lib)
	defer sess.Close()
	store := core.NewStore(sess, remote, a.storeOptions(core.WithBlobStore(media))...)
	sum, err := seed.Load(ctx, store, core.NewDirectory(sess, remote), templates.NewService(sess, remote), seed.Options{
		Projects: *projects,
		Seed:     *rngSeed,
		Now:      time.Now(),
	})
	if err != nil {
		return err
	}
	if err := lib.Save(ctx, remote); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "seeded %d users, %d projects, template %s\n", sum.Users, len(sum.ProjectIDs), sum.TemplateID)
	for _, id := range sum.ProjectIDs {
		fmt.Fprintln(a.stdout, access.ClientLink(strings.TrimSuffix(a.cfg.PublicURL, "/")+"/view", id))
	}
	return nil
}

func (a *app) dashboard(ctx context.Context, args []string) error {
	fs := a.flags("dashboard")
	as := fs.String("as", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	remote, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	defer remote.Close()
	id, err := a.identity(ctx, remote, *as)
	if err != nil {
		return err
	}

	sess := session.New(id, nil)
	defer sess.Close()
	store := core.NewStore(sess, remote, a.storeOptions()...)
	if _, err := store.Subscribe(ctx); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.WaitSynced(wctx); err != nil {
		return err
	}
	d := ledger.DashboardAggregate(store.Projects())
	if !id.Capabilities().CanSeeMoney {
		d = d.WithoutMoney()
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func (a *app) catalog(ctx context.Context, args []string) error {
	fs := a.flags("catalog")
	yes := fs.Bool("yes", false, "confirm a reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected show or reset")
	}
	remote, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	defer remote.Close()
	lib, err := a.loadCatalog(ctx, remote)
	if err != nil {
		return err
	}

	switch fs.Arg(0) {
	case "show":
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(lib.Snapshot()); err != nil {
			return err
		}
		return enc.Close()
	case "reset":
		if !*yes {
			return fmt.Errorf("reset discards every catalog edit; rerun with --yes")
		}
		c := lib.ResetToDefault()
		if err := lib.Save(ctx, remote); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "catalog reset: %d resources, %d AHS items\n", len(c.Resources), len(c.AHS))
		return nil
	default:
		return fmt.Errorf("unknown catalog action %q", fs.Arg(0))
	}
}

func (a *app) users(ctx context.Context, args []string) error {
	fs := a.flags("users")
	as := fs.String("as", "", "super admin account email")
	email := fs.String("email", "", "account to add")
	name := fs.String("name", "", "display name")
	role := fs.String("role", "", "role: "+roleNames())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected list or add")
	}
	remote, err := a.openRemote(ctx)
	if err != nil {
		return err
	}
	defer remote.Close()
	id, err := a.identity(ctx, remote, *as)
	if err != nil {
		return err
	}
	sess := session.New(id, nil)
	defer sess.Close()
	dir := core.NewDirectory(sess, remote)

	switch fs.Arg(0) {
	case "list":
		users, err := dir.List(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", u.Email, u.Role, u.Name)
		}
		return nil
	case "add":
		u, err := dir.Save(ctx, domain.AppUser{Email: *email, Name: *name, Role: *role})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "saved %s as %s\n", u.Email, u.Role)
		return nil
	default:
		return fmt.Errorf("unknown users action %q", fs.Arg(0))
	}
}

func (a *app) shareLink(_ context.Context, args []string) error {
	fs := a.flags("share-link")
	base := fs.String("base", a.cfg.PublicURL, "public base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected a project id")
	}
	fmt.Fprintln(a.stdout, access.ClientLink(strings.TrimSuffix(*base, "/")+"/view", fs.Arg(0)))
	return nil
}

func roleNames() string {
	var names []string
	for _, r := range access.Roles {
		if r.Assignable() {
			names = append(names, r.String())
		}
	}
	return strings.Join(names, "|")
}
