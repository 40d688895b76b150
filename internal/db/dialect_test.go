package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPostgresRebind(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "no placeholders",
			query: `SELECT 1`,
			want:  `SELECT 1`,
		},
		{
			name:  "sequential",
			query: `SELECT id FROM tasks WHERE user_id = ? AND importance <= ?`,
			want:  `SELECT id FROM tasks WHERE user_id = $1 AND importance <= $2`,
		},
		{
			name:  "literal question mark kept",
			query: `SELECT COUNT(*) FROM tasks WHERE tasks.user_id = ? AND (tags.name = 'why?')`,
			want:  `SELECT COUNT(*) FROM tasks WHERE tasks.user_id = $1 AND (tags.name = 'why?')`,
		},
		{
			name:  "escaped quote inside literal",
			query: `SELECT ? WHERE title = 'it''s ?' AND id = ?`,
			want:  `SELECT $1 WHERE title = 'it''s ?' AND id = $2`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PostgresDialect{}.Rebind(tt.query))
		})
	}
}

func TestSQLiteRebindIsIdentity(t *testing.T) {
	q := `SELECT id FROM tasks WHERE user_id = ?`
	assert.Equal(t, q, SQLiteDialect{}.Rebind(q))
}

func TestIsUniqueViolation(t *testing.T) {
	sqliteErr := errors.New("constraint failed: UNIQUE constraint failed: users.username (2067)")
	assert.True(t, SQLiteDialect{}.IsUniqueViolation(sqliteErr))
	assert.False(t, SQLiteDialect{}.IsUniqueViolation(errors.New("database is locked")))
	assert.False(t, SQLiteDialect{}.IsUniqueViolation(nil))

	pgErr := fmt.Errorf("insert user: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, PostgresDialect{}.IsUniqueViolation(pgErr))
	assert.False(t, PostgresDialect{}.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, PostgresDialect{}.IsUniqueViolation(sqliteErr))
}
