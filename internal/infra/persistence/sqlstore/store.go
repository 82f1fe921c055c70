// Package sqlstore implements fitstore.Store over database/sql. The sqlite
// and postgres packages supply the driver, the DDL and the placeholder style.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cellfit/internal/fitstore"
)

var _ fitstore.Store = (*Store)(nil)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name string
	// DDL statements applied on open, in order.
	DDL []string
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder func(n int) string
	// IsConflict reports unique-constraint violations.
	IsConflict func(error) bool
}

// QuestionMark is the placeholder style of sqlite.
func QuestionMark(int) string { return "?" }

// Dollar is the placeholder style of postgres.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

const columns = "id, source, digest, payload, created_at"

// Store persists one row per fit in the fits table. The fit itself is stored
// as a JSON payload; created_at holds Unix nanoseconds.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open applies the dialect's DDL to db and returns the store.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.DDL {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: execute ddl: %w", d.Name, err)
		}
	}
	if d.Placeholder == nil {
		d.Placeholder = QuestionMark
	}
	return &Store{db: db, dialect: d}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Save checks for ID and digest collisions and inserts inside one transaction.
func (s *Store) Save(ctx context.Context, r fitstore.Record) (retErr error) {
	if err := r.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(r.Fit)
	if err != nil {
		return fmt.Errorf("encode fit %s: %w", r.ID, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	p := s.dialect.Placeholder
	var taken string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM fits WHERE id = %s OR digest = %s", p(1), p(2)),
		r.ID, r.Digest).Scan(&taken)
	switch {
	case err == nil:
		return fitstore.Exists(r)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: check fit %s: %w", s.dialect.Name, r.ID, err)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO fits (%s) VALUES (%s, %s, %s, %s, %s)", columns, p(1), p(2), p(3), p(4), p(5)),
		r.ID, r.Source, r.Digest, payload, r.CreatedAt.UTC().UnixNano())
	if err != nil {
		if s.dialect.IsConflict != nil && s.dialect.IsConflict(err) {
			return fitstore.Exists(r)
		}
		return fmt.Errorf("%s: insert fit %s: %w", s.dialect.Name, r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (fitstore.Record, error) {
	return s.one(ctx, "id", id)
}

func (s *Store) FindByDigest(ctx context.Context, digest string) (fitstore.Record, error) {
	return s.one(ctx, "digest", digest)
}

func (s *Store) List(ctx context.Context) ([]fitstore.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+columns+" FROM fits ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("%s: list fits: %w", s.dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()
	var out []fitstore.Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: list fits: %w", s.dialect.Name, err)
	}
	return out, nil
}

// one looks up a single row by an indexed column.
func (s *Store) one(ctx context.Context, column, value string) (fitstore.Record, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM fits WHERE %s = %s", columns, column, s.dialect.Placeholder(1)), value)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fitstore.Record{}, fitstore.NotFound(column, value)
	}
	if err != nil {
		return fitstore.Record{}, fmt.Errorf("%s: %w", s.dialect.Name, err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (fitstore.Record, error) {
	var (
		r       fitstore.Record
		payload []byte
		created int64
	)
	if err := row.Scan(&r.ID, &r.Source, &r.Digest, &payload, &created); err != nil {
		return fitstore.Record{}, err
	}
	if err := json.Unmarshal(payload, &r.Fit); err != nil {
		return fitstore.Record{}, fmt.Errorf("decode fit %s: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	return r, nil
}
