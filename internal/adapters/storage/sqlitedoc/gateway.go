// Package sqlitedoc implements the storage gateway over a single sqlite
// database. Documents are stored as JSON bodies keyed by (collection, id);
// equality scans go through json_extract, and transactions take the sqlite
// write lock up front (BEGIN IMMEDIATE) so racing writers fail fast and are
// retried with backoff.
package sqlitedoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/traq/internal/storage"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Default transaction retry budget and backoff base.
const (
	defaultMaxRetries   = 5
	defaultRetryBackoff = 25 * time.Millisecond
)

// Options tunes the transactional retry behaviour.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Gateway is the sqlite-backed storage gateway.
type Gateway struct {
	db           *sql.DB
	maxRetries   int
	retryBackoff time.Duration
}

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*Gateway, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newGateway(db, opts)
}

// OpenInMemory opens a shared in-memory database, used by tests and dev mode.
func OpenInMemory(opts Options) (*Gateway, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newGateway(db, opts)
}

// newGateway applies defaults and runs migration.
func newGateway(db *sql.DB, opts Options) (*Gateway, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	g := &Gateway{db: db, maxRetries: opts.MaxRetries, retryBackoff: opts.RetryBackoff}
	if err := g.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

// Close closes the underlying database.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// migrate handles migrate.
func (g *Gateway) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 250;`,
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Conn.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns one document by ref.
func (g *Gateway) Get(ctx context.Context, ref storage.Ref) (storage.Document, error) {
	return getDocument(ctx, g.db, ref)
}

// Put writes one document body by ref, replacing any existing body.
func (g *Gateway) Put(ctx context.Context, ref storage.Ref, data map[string]any) error {
	return putDocument(ctx, g.db, ref, data)
}

// Delete removes one document by ref. Deleting an absent document is a no-op.
func (g *Gateway) Delete(ctx context.Context, ref storage.Ref) error {
	return deleteDocument(ctx, g.db, ref)
}

// Scan returns every document in the collection whose field equals value.
// The predicate addresses top-level JSON fields only; scanning for JSON null
// is not supported (absent and null are indistinguishable at this layer).
func (g *Gateway) Scan(ctx context.Context, collection, field string, value any) ([]storage.Document, error) {
	if err := validateFieldName(field); err != nil {
		return nil, err
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, body FROM documents
		WHERE collection = ? AND json_extract(body, ?) = ?
	`, collection, "$."+field, scanValue(value))
	if err != nil {
		return nil, fmt.Errorf("scan %s.%s: %w", collection, field, err)
	}
	defer rows.Close()

	out := []storage.Document{}
	for rows.Next() {
		var (
			id   string
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		doc, err := decodeBody(storage.Ref{Collection: collection, ID: id}, body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// RunTransaction runs fn inside one write transaction, retrying the whole
// callback on lock conflict up to the configured budget. Exhausting the
// budget surfaces storage.ErrContention.
func (g *Gateway) RunTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.retryBackoff * time.Duration(attempt)):
			}
		}
		err := g.attemptTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", storage.ErrContention, lastErr)
}

// attemptTransaction runs fn once on a dedicated connection.
func (g *Gateway) attemptTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	handle := &txHandle{conn: conn}
	if err := fn(handle); err != nil {
		_, _ = conn.ExecContext(ctx, `ROLLBACK`)
		return err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		_, _ = conn.ExecContext(ctx, `ROLLBACK`)
		return err
	}
	return nil
}

// txHandle adapts one open connection to the storage.Tx interface.
type txHandle struct {
	conn *sql.Conn
}

func (t *txHandle) Get(ctx context.Context, ref storage.Ref) (storage.Document, error) {
	return getDocument(ctx, t.conn, ref)
}

func (t *txHandle) Put(ctx context.Context, ref storage.Ref, data map[string]any) error {
	return putDocument(ctx, t.conn, ref, data)
}

func (t *txHandle) Delete(ctx context.Context, ref storage.Ref) error {
	return deleteDocument(ctx, t.conn, ref)
}

// getDocument handles get document.
func getDocument(ctx context.Context, q queryer, ref storage.Ref) (storage.Document, error) {
	var body string
	err := q.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND id = ?
	`, ref.Collection, ref.ID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return decodeBody(ref, body)
}

// putDocument handles put document.
func putDocument(ctx context.Context, q queryer, ref storage.Ref, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ref, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body
	`, ref.Collection, ref.ID, string(body))
	if err != nil {
		return fmt.Errorf("put %s: %w", ref, err)
	}
	return nil
}

// deleteDocument handles delete document.
func deleteDocument(ctx context.Context, q queryer, ref storage.Ref) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?
	`, ref.Collection, ref.ID); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

// decodeBody handles decode body.
func decodeBody(ref storage.Ref, body string) (storage.Document, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return storage.Document{}, fmt.Errorf("decode %s: %w", ref, err)
	}
	return storage.Document{Ref: ref, Data: data}, nil
}

// validateFieldName restricts scan fields to plain identifiers so the JSON
// path never needs escaping.
func validateFieldName(field string) error {
	if field == "" {
		return errors.New("scan field is required")
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return fmt.Errorf("invalid scan field %q", field)
		}
	}
	return nil
}

// scanValue converts Go values to the representation json_extract compares
// against. JSON booleans extract as sqlite integers.
func scanValue(value any) any {
	if b, ok := value.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return value
}

// isBusy reports whether err is a sqlite lock conflict worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}
