package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
)

// Dialect selects placeholder style and row locking for SQLStore
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore keeps documents as JSON text in the documents table
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{DB: db, Dialect: dialect}
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Rebind rewrites ? placeholders to $n for postgres
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) rebind(query string) string {
	return Rebind(s.Dialect, query)
}

func (s *SQLStore) getRaw(ctx context.Context, q queryer, collection, id string, forUpdate bool) ([]byte, bool, error) {
	query := `SELECT body FROM documents WHERE collection = ? AND id = ?`
	if forUpdate && s.Dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var body string
	err := q.QueryRowContext(ctx, s.rebind(query), collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(body), true, nil
}

func (s *SQLStore) upsert(ctx context.Context, q queryer, collection, id string, body []byte) error {
	_, err := q.ExecContext(ctx, s.rebind(`
        INSERT INTO documents (collection, id, body, updated_at_ms)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at_ms = excluded.updated_at_ms
    `), collection, id, string(body), time.Now().UnixMilli())
	return err
}

// insertNew fails with ErrConflict when another writer created the row first
func (s *SQLStore) insertNew(ctx context.Context, q queryer, collection, id string, body []byte) error {
	res, err := q.ExecContext(ctx, s.rebind(`
        INSERT INTO documents (collection, id, body, updated_at_ms)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (collection, id) DO NOTHING
    `), collection, id, string(body), time.Now().UnixMilli())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, appErrors.ErrConflict)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string, dst any) error {
	body, found, err := s.getRaw(ctx, s.DB, collection, id, false)
	if err != nil {
		return err
	}
	if !found {
		return notFound(collection, id)
	}
	return decodeDoc(body, dst)
}

func (s *SQLStore) Set(ctx context.Context, collection, id string, doc any, opts ...SetOption) error {
	o := collectOptions(opts)
	if o.merge {
		return s.RunTransaction(ctx, func(tx Tx) error {
			return tx.Set(ctx, collection, id, doc, opts...)
		})
	}
	body, err := encodeDoc(nil, false, doc, o)
	if err != nil {
		return err
	}
	return s.upsert(ctx, s.DB, collection, id, body)
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
	return err
}

func (s *SQLStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stx := &sqlTx{store: s, tx: tx, absent: make(map[string]bool)}
	if err := fn(stx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.DB.Close()
}

// sqlTx remembers which documents it saw as absent so a later write to them
// is an insert that cannot silently overwrite a concurrent creator.
type sqlTx struct {
	store  *SQLStore
	tx     *sql.Tx
	absent map[string]bool
}

func (t *sqlTx) Get(ctx context.Context, collection, id string, dst any) error {
	body, found, err := t.store.getRaw(ctx, t.tx, collection, id, true)
	if err != nil {
		return err
	}
	if !found {
		t.absent[docKey(collection, id)] = true
		return notFound(collection, id)
	}
	return decodeDoc(body, dst)
}

func (t *sqlTx) Set(ctx context.Context, collection, id string, doc any, opts ...SetOption) error {
	o := collectOptions(opts)
	k := docKey(collection, id)

	var existing []byte
	found := false
	if o.merge && !t.absent[k] {
		var err error
		existing, found, err = t.store.getRaw(ctx, t.tx, collection, id, true)
		if err != nil {
			return err
		}
		if !found {
			t.absent[k] = true
		}
	}
	body, err := encodeDoc(existing, found, doc, o)
	if err != nil {
		return err
	}
	if t.absent[k] {
		if err := t.store.insertNew(ctx, t.tx, collection, id, body); err != nil {
			return err
		}
		delete(t.absent, k)
		return nil
	}
	return t.store.upsert(ctx, t.tx, collection, id, body)
}

func (t *sqlTx) Delete(ctx context.Context, collection, id string) error {
	_, err := t.tx.ExecContext(ctx, t.store.rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
	return err
}
