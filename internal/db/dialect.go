package db

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE postgres reports for duplicate keys.
const pgUniqueViolation = "23505"

// Dialect covers the SQL differences between the supported engines.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect interface {
	Name() string
	DriverName() string
	Rebind(query string) string
	AutoIncrementPK() string
	IsUniqueViolation(err error) bool
}

type SQLiteDialect struct{}

func (SQLiteDialect) Name() string               { return "sqlite" }
func (SQLiteDialect) DriverName() string         { return "sqlite" }
func (SQLiteDialect) Rebind(query string) string { return query }
func (SQLiteDialect) AutoIncrementPK() string    { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (SQLiteDialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "constraint failed")
}

type PostgresDialect struct{}

func (PostgresDialect) Name() string            { return "postgres" }
func (PostgresDialect) DriverName() string      { return "pgx" }
func (PostgresDialect) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }

func (PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Rebind turns ? placeholders into $1..$n, leaving quoted literals alone so
// substituted criterion values containing ? survive.
func (PostgresDialect) Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for idx := 0; idx < len(query); idx++ {
		ch := query[idx]
		switch {
		case ch == '\'':
			inLiteral = !inLiteral
			sb.WriteByte(ch)
		case ch == '?' && !inLiteral:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}
