package db

import (
	"database/sql"
	"fmt"
	"strings"
)

func Migrate(db *sql.DB, dialect Dialect) error {
	pk := dialect.AutoIncrementPK()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + pk + `,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'USER',
			create_time TEXT NOT NULL,
			update_time TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS personal_access_tokens (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			token_prefix TEXT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			expires_at TEXT,
			revoked_at TEXT,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			importance INTEGER NOT NULL DEFAULT 3,
			due_date BIGINT NOT NULL DEFAULT 0,
			hide_until BIGINT NOT NULL DEFAULT 0,
			completed BIGINT NOT NULL DEFAULT 0,
			deleted BIGINT NOT NULL DEFAULT 0,
			recurrence TEXT NOT NULL DEFAULT '',
			parent BIGINT NOT NULL DEFAULT 0,
			created BIGINT NOT NULL,
			modified BIGINT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_active ON tasks(user_id, completed, deleted);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE(user_id, name),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS task_tags (
			task_id BIGINT NOT NULL,
			tag_id BIGINT NOT NULL,
			PRIMARY KEY(task_id, tag_id),
			FOREIGN KEY(task_id) REFERENCES tasks(id) ON DELETE CASCADE,
			FOREIGN KEY(tag_id) REFERENCES tags(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_tags_tag ON task_tags(tag_id);`,
		`CREATE TABLE IF NOT EXISTS filters (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			color INTEGER NOT NULL DEFAULT 0,
			criteria TEXT NOT NULL,
			predicate TEXT NOT NULL,
			values_json TEXT NOT NULL DEFAULT '{}',
			position INTEGER NOT NULL DEFAULT 0,
			create_time TEXT NOT NULL,
			update_time TEXT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_filters_user ON filters(user_id, position);`,
		`CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			update_time TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	if dialect.Name() != (SQLiteDialect{}).Name() {
		return nil
	}
	// Databases created before filter colors existed.
	hasColor, err := hasColumn(db, "filters", "color")
	if err != nil {
		return err
	}
	if !hasColor {
		if _, err := db.Exec(`ALTER TABLE filters ADD COLUMN color INTEGER NOT NULL DEFAULT 0;`); err != nil {
			return fmt.Errorf("add filters.color: %w", err)
		}
	}
	return nil
}

func hasColumn(db *sql.DB, tableName string, columnName string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s);`, tableName))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var dataType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, fmt.Errorf("scan table_info(%s): %w", tableName, err)
		}
		if strings.EqualFold(name, columnName) {
			return true, nil
		}
	}
	return false, rows.Err()
}
