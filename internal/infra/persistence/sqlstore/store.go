// Package sqlstore implements the document store contract on a single
// database/sql table. The sqlite and postgres packages open the database and
// supply their dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rabtrack/internal/infra/persistence/feed"
	"rabtrack/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.DocumentStore = (*Store)(nil)

// Dialect captures the SQL differences between engines.
type Dialect struct {
	Name string
	// PayloadType is the column type holding the JSON document.
	PayloadType string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
}

// SQLite is the modernc.org/sqlite dialect.
var SQLite = Dialect{Name: "sqlite", PayloadType: "TEXT"}

// Postgres is the pgx dialect.
var Postgres = Dialect{Name: "postgres", PayloadType: "JSONB", Numbered: true}

func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DefaultPollInterval is how often subscriptions look for writes made by
// other processes.
const DefaultPollInterval = 2 * time.Second

const maxPatchAttempts = 8

// Store is a document store over one SQL table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	hub     *feed.Hub
	nowFn   func() time.Time
	poll    time.Duration

	// pubMu orders query-then-publish so the last snapshot delivered is
	// never older than one delivered before it.
	pubMu sync.Mutex
	// seen holds the fingerprint last published per query.
	seenMu sync.Mutex
	seen   map[domain.Query]string

	loopOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets the change polling period; zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.poll = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// New ensures the documents table exists and returns a store over db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: dialect,
		hub:     feed.NewHub(),
		nowFn:   func() time.Time { return time.Now().UTC() },
		poll:    DefaultPollInterval,
		seen:    make(map[domain.Query]string),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		version BIGINT NOT NULL,
		payload %s NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (collection, id)
	)`, s.dialect.PayloadType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure documents table: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close stops polling and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.db.Close()
}

// Get implements domain.DocumentStore.
func (s *Store) Get(ctx context.Context, collection, id string) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT version, payload, updated_at FROM documents WHERE collection = ? AND id = ?`), collection, id)
	doc, err := scanDocument(row, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, domain.NotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Create implements domain.DocumentStore.
func (s *Store) Create(ctx context.Context, collection, id string, data domain.Fields) (domain.Document, error) {
	if err := data.Committable(); err != nil {
		return domain.Document{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if data == nil {
		data = domain.Fields{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return domain.Document{}, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	now := s.nowFn()
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO documents (collection, id, version, payload, updated_at) VALUES (?, ?, 1, ?, ?) ON CONFLICT (collection, id) DO NOTHING`),
		collection, id, payload, now.UnixNano())
	if err != nil {
		return domain.Document{}, fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Document{}, fmt.Errorf("%s/%s already exists", collection, id)
	}
	s.notify(ctx, collection, id)
	return domain.Document{Collection: collection, ID: id, Data: data.Clone(), Version: 1, UpdatedAt: now}, nil
}

// Patch implements domain.DocumentStore. The write is a compare-and-swap on
// the document version, retried when another writer got in first.
func (s *Store) Patch(ctx context.Context, collection, id string, fields domain.Fields) (domain.Document, error) {
	if err := fields.Committable(); err != nil {
		return domain.Document{}, err
	}
	for attempt := 0; attempt < maxPatchAttempts; attempt++ {
		current, err := s.Get(ctx, collection, id)
		if err != nil {
			return domain.Document{}, err
		}
		merged := current.Data.Merge(fields)
		payload, err := json.Marshal(merged)
		if err != nil {
			return domain.Document{}, fmt.Errorf("encode %s/%s: %w", collection, id, err)
		}
		now := s.nowFn()
		res, err := s.db.ExecContext(ctx, s.dialect.rebind(
			`UPDATE documents SET payload = ?, version = version + 1, updated_at = ? WHERE collection = ? AND id = ? AND version = ?`),
			payload, now.UnixNano(), collection, id, current.Version)
		if err != nil {
			return domain.Document{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.Document{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		if n == 1 {
			s.notify(ctx, collection, id)
			return domain.Document{Collection: collection, ID: id, Data: merged, Version: current.Version + 1, UpdatedAt: now}, nil
		}
	}
	return domain.Document{}, fmt.Errorf("update %s/%s: version conflict after %d attempts", collection, id, maxPatchAttempts)
}

// Delete implements domain.DocumentStore.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFoundError{Collection: collection, ID: id}
	}
	s.notify(ctx, collection, id)
	return nil
}

// Subscribe implements domain.DocumentStore.
func (s *Store) Subscribe(ctx context.Context, q domain.Query) (<-chan domain.DocumentSet, error) {
	if q.Collection == "" {
		return nil, domain.ValidationError{Fields: []string{"collection"}, Reason: "required"}
	}
	s.pubMu.Lock()
	set, err := s.query(ctx, q)
	if err != nil {
		s.pubMu.Unlock()
		return nil, err
	}
	s.remember(set)
	ch := s.hub.Subscribe(ctx, q, set)
	s.pubMu.Unlock()
	if s.poll > 0 {
		s.loopOnce.Do(func() {
			s.wg.Add(1)
			go s.pollLoop()
		})
	}
	return ch, nil
}

func (s *Store) query(ctx context.Context, q domain.Query) (domain.DocumentSet, error) {
	stmt := `SELECT id, version, payload, updated_at FROM documents WHERE collection = ?`
	args := []any{q.Collection}
	if q.ID != "" {
		stmt += ` AND id = ?`
		args = append(args, q.ID)
	}
	stmt += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(stmt), args...)
	if err != nil {
		return domain.DocumentSet{}, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer func() { _ = rows.Close() }()
	set := domain.DocumentSet{Query: q}
	for rows.Next() {
		var (
			id      string
			version int64
			payload []byte
			updated int64
		)
		if err := rows.Scan(&id, &version, &payload, &updated); err != nil {
			return domain.DocumentSet{}, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		doc, err := decodeDocument(q.Collection, id, version, payload, updated)
		if err != nil {
			return domain.DocumentSet{}, err
		}
		set.Documents = append(set.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return domain.DocumentSet{}, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}
	return set, nil
}

// notify republishes every subscribed query touched by a local write.
func (s *Store) notify(ctx context.Context, collection, id string) {
	for _, q := range s.hub.Queries(collection, id) {
		s.refresh(ctx, q, true)
	}
}

func (s *Store) refresh(ctx context.Context, q domain.Query, force bool) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	set, err := s.query(ctx, q)
	if err != nil {
		return
	}
	if !s.remember(set) && !force {
		return
	}
	s.hub.Publish(set)
}

// remember stores the fingerprint of set and reports whether it changed.
func (s *Store) remember(set domain.DocumentSet) bool {
	var b strings.Builder
	for _, d := range set.Documents {
		b.WriteString(d.ID)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(d.Version, 10))
		b.WriteByte(';')
	}
	fp := b.String()
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	prev, ok := s.seen[set.Query]
	s.seen[set.Query] = fp
	return !ok || prev != fp
}

func (s *Store) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			for _, q := range s.hub.AllQueries() {
				s.refresh(ctx, q, false)
			}
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, collection, id string) (domain.Document, error) {
	var (
		version int64
		payload []byte
		updated int64
	)
	if err := row.Scan(&version, &payload, &updated); err != nil {
		return domain.Document{}, err
	}
	return decodeDocument(collection, id, version, payload, updated)
}

func decodeDocument(collection, id string, version int64, payload []byte, updated int64) (domain.Document, error) {
	var data domain.Fields
	if err := json.Unmarshal(payload, &data); err != nil {
		return domain.Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return domain.Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		Version:    version,
		UpdatedAt:  time.Unix(0, updated).UTC(),
	}, nil
}
