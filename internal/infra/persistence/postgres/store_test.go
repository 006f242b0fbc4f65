package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"rabtrack/internal/infra/persistence/sqlstore"
	"rabtrack/internal/infra/persistence/storetest"
	"rabtrack/pkg/domain"
)

func TestNewStorePropagatesOpenError(t *testing.T) {
	boom := errors.New("no driver")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, boom })
	defer restore()
	if _, err := NewStore(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStoreUsesDefaultDSNAndCreatesTable(t *testing.T) {
	var gotDriver, gotDSN string
	path := filepath.Join(t.TempDir(), "pg-standin.db")
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driver, dsn
		// sqlite accepts the postgres DDL, which is all NewStore runs
		return sql.Open("sqlite", path)
	})
	defer restore()

	s, err := NewStore(context.Background(), "", sqlstore.WithPollInterval(0))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = s.Close() }()
	if gotDriver != "pgx" || gotDSN != DefaultDSN {
		t.Fatalf("unexpected open(%q, %q)", gotDriver, gotDSN)
	}
	var name string
	if err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='documents'`).Scan(&name); err != nil {
		t.Fatalf("documents table missing: %v", err)
	}
}

func TestStoreContractAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("RABTRACK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RABTRACK_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) domain.DocumentStore {
		s, err := NewStore(context.Background(), dsn, sqlstore.WithPollInterval(0))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		if _, err := s.DB().Exec(`DELETE FROM documents`); err != nil {
			t.Fatalf("reset: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
