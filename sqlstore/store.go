// Package sqlstore implements market.Store on database/sql for PostgreSQL
// and SQLite, together with the offset and cursor checkpoint tables.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	indexer "github.com/shogotsuneto/go-simple-es-indexer"
	"github.com/shogotsuneto/go-simple-es-indexer/market"
	es "github.com/shogotsuneto/go-simple-eventstore"
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect selects placeholder style and column types.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// ParseDialect maps a database/sql driver name to its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

func (d Dialect) types() *strings.Replacer {
	if d == SQLite {
		return strings.NewReplacer("{{time}}", "DATETIME", "{{amount}}", "TEXT", "{{bytes}}", "BLOB")
	}
	return strings.NewReplacer("{{time}}", "TIMESTAMPTZ", "{{amount}}", "NUMERIC", "{{bytes}}", "BYTEA")
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Store is a market.Store backed by a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ market.Store = (*Store)(nil)

// New wraps an open database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open opens and pings a database using the named driver.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// every connection to an in-memory database is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, dialect), nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn in a transaction bounded by timeout. The transaction is
// committed only when fn returns nil and rolled back on every other exit,
// including a panic in fn.
func (s *Store) WithTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx market.Tx) error) error {
	if timeout <= 0 {
		timeout = market.DefaultTxTimeout
	}
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return timedOut(ctx, txCtx, timeout, fmt.Errorf("failed to begin transaction: %w", err))
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(txCtx, &tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		return timedOut(ctx, txCtx, timeout, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return timedOut(ctx, txCtx, timeout, fmt.Errorf("failed to commit transaction: %w", err))
	}
	committed = true
	return nil
}

// timedOut reports err as a TransactionTimeout when the transaction's own
// deadline expired while the caller's context is still live.
func timedOut(parent, txCtx context.Context, timeout time.Duration, err error) error {
	if parent.Err() == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded) {
		return &indexer.TransactionTimeout{Timeout: timeout, Err: err}
	}
	return err
}

// EnsureStreams seeds an offset row for each stream that has none.
// New rows start at indexer.NoOffset so the first event, whatever its
// sequence number, is applied.
func (s *Store) EnsureStreams(ctx context.Context, streams ...indexer.Kind) error {
	query := s.dialect.rebind(`INSERT INTO event_offsets (stream, executed_offset) VALUES (?, ?) ON CONFLICT (stream) DO NOTHING`)
	for _, stream := range streams {
		if _, err := s.db.ExecContext(ctx, query, string(stream), indexer.NoOffset); err != nil {
			return fmt.Errorf("failed to seed offset for %s: %w", stream, err)
		}
	}
	return nil
}

// LoadState reads every stream's offset.
func (s *Store) LoadState(ctx context.Context) (indexer.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stream, executed_offset FROM event_offsets ORDER BY stream`)
	if err != nil {
		return indexer.State{}, fmt.Errorf("failed to load offsets: %w", err)
	}
	defer rows.Close()

	offsets := make(map[indexer.Kind]int64)
	for rows.Next() {
		var (
			stream string
			offset int64
		)
		if err := rows.Scan(&stream, &offset); err != nil {
			return indexer.State{}, fmt.Errorf("failed to scan offset: %w", err)
		}
		offsets[indexer.Kind(stream)] = offset
	}
	if err := rows.Err(); err != nil {
		return indexer.State{}, fmt.Errorf("failed to load offsets: %w", err)
	}
	return indexer.NewState(offsets), nil
}

// SetOffset overwrites a stream's offset outside of any event. It is an
// operator tool for choosing where a fresh deployment starts.
func (s *Store) SetOffset(ctx context.Context, stream indexer.Kind, seq int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE event_offsets SET executed_offset = ? WHERE stream = ?`), seq, string(stream))
	if err != nil {
		return fmt.Errorf("failed to set offset for %s: %w", stream, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &indexer.NotFoundError{Entity: "event_offset", Key: string(stream)}
	}
	return nil
}

// LoadCursor returns the saved source cursor for a consumer, or an empty
// cursor when none was saved yet.
func (s *Store) LoadCursor(ctx context.Context, name string) (es.Cursor, error) {
	var cursor []byte
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT cursor_value FROM consumer_cursors WHERE name = ?`),
		name,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return es.Cursor(""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}
	return es.Cursor(cursor), nil
}

// SaveCursor records the source cursor of a consumer.
func (s *Store) SaveCursor(ctx context.Context, name string, cursor es.Cursor) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO consumer_cursors (name, cursor_value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`),
		name, []byte(cursor), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
