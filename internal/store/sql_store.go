package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shinyes/sift/internal/db"
)

type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
}

func New(conn *sql.DB, dialect db.Dialect) *SQLStore {
	if dialect == nil {
		dialect = db.SQLiteDialect{}
	}
	return &SQLStore{db: conn, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() db.Dialect {
	return s.dialect
}

// IsUniqueViolation reports whether err is a duplicate key error.
func (s *SQLStore) IsUniqueViolation(err error) bool {
	return s.dialect.IsUniqueViolation(err)
}

// q rewrites ? placeholders for the active dialect.
func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *SQLStore) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(query+` RETURNING id`), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Times are stored as RFC3339 text in UTC so both engines sort them alike.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func stampNow() string {
	return timestamp(time.Now())
}

// timeColumns parses the text time columns of a scanned row and keeps the
// first parse error.
type timeColumns struct {
	err error
}

func (tc *timeColumns) required(column string, raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil && tc.err == nil {
		tc.err = fmt.Errorf("parse %s: %w", column, err)
	}
	return t
}

func (tc *timeColumns) optional(column string, raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t := tc.required(column, raw.String)
	return &t
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
